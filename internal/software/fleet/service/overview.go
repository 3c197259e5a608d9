package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"taxi-tracking/internal/domain/vehicle"
	"taxi-tracking/internal/ports"
)

// Overview merges the vehicles connected to this replica with the latest
// fixes every replica wrote to the shared store. Local data wins; a store
// failure degrades to the local view.
func (service *fleetService) Overview(ctx context.Context) (ports.FleetOverview, error) {
	res := ports.FleetOverview{
		Timestamp: time.Now().UTC(),
		Counts:    map[string]int{},
	}

	byPlate := make(map[string]int)
	for _, v := range service.live.Vehicles() {
		row := ports.FleetVehicle{
			Plate:     v.Plate,
			DriverID:  v.DriverID,
			Status:    v.Status.String(),
			UpdatedAt: v.UpdatedAt.UTC(),
			Local:     true,
		}
		if v.CurrentFix != nil {
			row.Lat, row.Lng, row.Accuracy = v.CurrentFix.Lat, v.CurrentFix.Lng, v.CurrentFix.Accuracy
		}
		byPlate[v.Plate] = len(res.Vehicles)
		res.Vehicles = append(res.Vehicles, row)
	}

	if service.latest != nil {
		locs, err := service.latest.All(ctx)
		if err != nil {
			service.log.Warn(ctx, "fleet_store_unavailable", "showing local vehicles only", err, nil)
		}
		for _, loc := range locs {
			plate := vehicle.NormalizePlate(loc.Plate)
			if i, ok := byPlate[plate]; ok {
				if res.Vehicles[i].ReservationID == "" {
					res.Vehicles[i].ReservationID = loc.ReservationID
				}
				continue
			}
			byPlate[plate] = len(res.Vehicles)
			res.Vehicles = append(res.Vehicles, ports.FleetVehicle{
				Plate:         plate,
				Status:        strings.ToUpper(loc.Status),
				Lat:           loc.Lat,
				Lng:           loc.Lng,
				Accuracy:      loc.Accuracy,
				ReservationID: loc.ReservationID,
				UpdatedAt:     time.UnixMilli(loc.Timestamp).UTC(),
			})
		}
	}

	sort.Slice(res.Vehicles, func(i, j int) bool { return res.Vehicles[i].Plate < res.Vehicles[j].Plate })
	for _, v := range res.Vehicles {
		res.Counts[v.Status]++
	}
	res.Counts["total"] = len(res.Vehicles)

	return res, nil
}
