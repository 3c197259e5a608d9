package postgres

import (
	"context"
	"time"

	"taxi-tracking/internal/broker"
	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/domain/vehicle"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/general/metrics"
	"taxi-tracking/internal/ports"
)

// Archiver is a broker.Sink that writes accepted fixes to location_history
// and mirrors presence into vehiculos.estado.
type Archiver struct {
	uow      ports.UnitOfWork
	history  ports.LocationHistoryRepository
	vehicles ports.VehicleRepository
	log      *logger.Logger
	now      func() time.Time
}

var _ broker.Sink = (*Archiver)(nil)

func NewArchiver(uow ports.UnitOfWork, history ports.LocationHistoryRepository, vehicles ports.VehicleRepository, log *logger.Logger) *Archiver {
	return &Archiver{uow: uow, history: history, vehicles: vehicles, log: log, now: time.Now}
}

func (a *Archiver) LocationAccepted(ctx context.Context, ev broker.LocationEvent) {
	loc := ev.Location
	accuracy := loc.Accuracy
	fix := geo.SmoothedFix{
		Lat:         loc.Lat,
		Lng:         loc.Lng,
		Accuracy:    accuracy,
		Speed:       loc.Speed,
		Heading:     loc.Heading,
		TimestampMs: loc.Timestamp,
	}
	var resID *string
	if ev.ReservationID != "" {
		resID = &ev.ReservationID
	}

	record, err := geo.NewLocationHistory(vehicle.NormalizePlate(loc.Plate), ev.DriverID, resID, fix)
	if err != nil {
		a.log.Debug(ctx, "history_skipped", "fix not archivable", map[string]any{"patente": loc.Plate, "reason": err.Error()})
		return
	}
	err = a.uow.WithinTx(ctx, func(ctx context.Context) error {
		return a.history.Archive(ctx, record)
	})
	if err != nil {
		metrics.SinkErrors.WithLabelValues("postgres").Inc()
		a.log.Error(ctx, "history_archive_failed", "failed to archive location", err, map[string]any{"patente": loc.Plate})
	}
}

func (a *Archiver) PresenceChanged(ctx context.Context, plate string, online bool) {
	status := vehicle.StatusOffline
	if online {
		status = vehicle.StatusAvailable
	}
	err := a.uow.WithinTx(ctx, func(ctx context.Context) error {
		return a.vehicles.UpdateStatus(ctx, plate, status, a.now().UTC())
	})
	if err != nil {
		metrics.SinkErrors.WithLabelValues("postgres").Inc()
		a.log.Warn(ctx, "vehicle_status_failed", "failed to record presence", err, map[string]any{"patente": plate, "estado": status})
	}
}

// Directory looks vehicles up in the registry for the broker handshake.
type Directory struct {
	uow      ports.UnitOfWork
	vehicles ports.VehicleRepository
}

var _ broker.VehicleDirectory = (*Directory)(nil)

func NewDirectory(uow ports.UnitOfWork, vehicles ports.VehicleRepository) *Directory {
	return &Directory{uow: uow, vehicles: vehicles}
}

func (d *Directory) GetByPlate(ctx context.Context, plate string) (*vehicle.Vehicle, error) {
	var out *vehicle.Vehicle
	err := d.uow.WithinTx(ctx, func(ctx context.Context) error {
		v, err := d.vehicles.GetByPlate(ctx, plate)
		out = v
		return err
	})
	return out, err
}
