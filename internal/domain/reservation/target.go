package reservation

import "taxi-tracking/internal/domain/geo"

// TargetKind names which end of the trip a route should be resolved against.
type TargetKind string

const (
	TargetNone        TargetKind = ""
	TargetOrigin      TargetKind = "origin"
	TargetDestination TargetKind = "destination"
)

// TargetFor is the route-target rule: CONFIRMADO drives to pickup, RECOGIDO drives to drop-off,
// every other state has no target.
func TargetFor(state State) TargetKind {
	switch state {
	case StateConfirmed:
		return TargetOrigin
	case StatePickedUp:
		return TargetDestination
	default:
		return TargetNone
	}
}

// RouteTarget is the resolved target of a reservation in its current state.
type RouteTarget struct {
	Kind    TargetKind
	Address string
	// Coords is nil until the address has been geocoded.
	Coords *geo.Point
}

// RouteTarget returns the current target, or false when the state yields none.
func (res *Reservation) RouteTarget() (RouteTarget, bool) {
	switch TargetFor(res.State) {
	case TargetOrigin:
		return RouteTarget{Kind: TargetOrigin, Address: res.OriginAddress, Coords: res.OriginCoords}, true
	case TargetDestination:
		return RouteTarget{Kind: TargetDestination, Address: res.DestinationAddress, Coords: res.DestinationCoords}, true
	default:
		return RouteTarget{}, false
	}
}
