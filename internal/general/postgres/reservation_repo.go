package postgres

import (
	"context"
	"errors"
	"fmt"

	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/domain/reservation"
	"taxi-tracking/internal/ports"

	"github.com/jackc/pgx/v5"
)

var ErrReservationNotFound = errors.New("reservation not found")

// ReservationRepo persists reservations using pgx and plain SQL.
type ReservationRepo struct{}

func NewReservationRepo() ports.ReservationRepository {
	return &ReservationRepo{}
}

const reservationColumns = `
	id, direccion_origen, direccion_destino,
	origen_lat, origen_lng, destino_lat, destino_lng,
	estado, patente, duracion_minutos, cantidad_pasajeros, metodo_pago,
	motivo, actualizado_en`

func (repo *ReservationRepo) Create(ctx context.Context, res *reservation.Reservation) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO reservas (id, direccion_origen, direccion_destino, estado, actualizado_en)
		VALUES ($1, $2, $3, $4, $5)
	`, res.ID, res.OriginAddress, res.DestinationAddress, res.State.String(), res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (repo *ReservationRepo) GetByID(ctx context.Context, id string) (*reservation.Reservation, error) {
	return repo.get(ctx, `SELECT`+reservationColumns+` FROM reservas WHERE id = $1`, id)
}

// GetForUpdate locks the row until the surrounding transaction ends, so that
// concurrent transitions of the same reservation serialize.
func (repo *ReservationRepo) GetForUpdate(ctx context.Context, id string) (*reservation.Reservation, error) {
	return repo.get(ctx, `SELECT`+reservationColumns+` FROM reservas WHERE id = $1 FOR UPDATE`, id)
}

// GetActiveForVehicle returns the CONFIRMADO or RECOGIDO reservation bound to
// plate, or nil when the vehicle is free.
func (repo *ReservationRepo) GetActiveForVehicle(ctx context.Context, plate string) (*reservation.Reservation, error) {
	res, err := repo.get(ctx, `SELECT`+reservationColumns+`
		FROM reservas
		WHERE patente = $1 AND estado IN ('CONFIRMADO', 'RECOGIDO')
		ORDER BY actualizado_en DESC
		LIMIT 1`, plate)
	if errors.Is(err, ErrReservationNotFound) {
		return nil, nil
	}
	return res, err
}

// SaveState writes the lifecycle columns of res.
func (repo *ReservationRepo) SaveState(ctx context.Context, res *reservation.Reservation) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	var duration, passengers *int
	var payment *string
	if res.Metadata != nil {
		duration = &res.Metadata.DurationMinutes
		passengers = &res.Metadata.PassengerCount
		method := string(res.Metadata.PaymentMethod)
		payment = &method
	}
	var plate *string
	if res.AssignedVehicle != "" {
		plate = &res.AssignedVehicle
	}

	tag, err := tx.Exec(ctx, `
		UPDATE reservas
		SET estado = $2, patente = $3, duracion_minutos = $4, cantidad_pasajeros = $5,
		    metodo_pago = $6, motivo = $7, actualizado_en = $8
		WHERE id = $1
	`, res.ID, res.State.String(), plate, duration, passengers, payment, res.CancellationReason, res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update reservation state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReservationNotFound
	}
	return nil
}

// CacheCoords stores geocoded coordinates once; later calls keep the first value.
func (repo *ReservationRepo) CacheCoords(ctx context.Context, id string, kind reservation.TargetKind, point geo.Point) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	var query string
	switch kind {
	case reservation.TargetOrigin:
		query = `UPDATE reservas SET origen_lat = $2, origen_lng = $3 WHERE id = $1 AND origen_lat IS NULL`
	case reservation.TargetDestination:
		query = `UPDATE reservas SET destino_lat = $2, destino_lng = $3 WHERE id = $1 AND destino_lat IS NULL`
	default:
		return fmt.Errorf("cache coords: unknown target %q", kind)
	}
	if _, err := tx.Exec(ctx, query, id, point.Lat, point.Lng); err != nil {
		return fmt.Errorf("cache coords: %w", err)
	}
	return nil
}

func (repo *ReservationRepo) get(ctx context.Context, query string, arg string) (*reservation.Reservation, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var (
		out                    reservation.Reservation
		state                  string
		oLat, oLng, dLat, dLng *float64
		plate, payment         *string
		duration, passengers   *int
	)
	err = tx.QueryRow(ctx, query, arg).Scan(
		&out.ID, &out.OriginAddress, &out.DestinationAddress,
		&oLat, &oLng, &dLat, &dLng,
		&state, &plate, &duration, &passengers, &payment,
		&out.CancellationReason, &out.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}

	if out.State, err = reservation.ParseState(state); err != nil {
		return nil, fmt.Errorf("reservation %s: %w", out.ID, err)
	}
	if plate != nil {
		out.AssignedVehicle = *plate
	}
	if oLat != nil && oLng != nil {
		out.OriginCoords = &geo.Point{Lat: *oLat, Lng: *oLng}
	}
	if dLat != nil && dLng != nil {
		out.DestinationCoords = &geo.Point{Lat: *dLat, Lng: *dLng}
	}
	if duration != nil && passengers != nil && payment != nil {
		out.Metadata = &reservation.TripMetadata{
			DurationMinutes: *duration,
			PassengerCount:  *passengers,
			PaymentMethod:   reservation.PaymentMethod(*payment),
		}
	}
	return &out, nil
}
