package postgres

import (
	"context"

	"taxi-tracking/internal/domain/reservation"
	"taxi-tracking/internal/ports"
)

// ReservationEventRepo appends to the reserva_eventos audit trail.
type ReservationEventRepo struct{}

func NewReservationEventRepo() ports.ReservationEventRepository {
	return &ReservationEventRepo{}
}

func (repo *ReservationEventRepo) Append(ctx context.Context, event *reservation.Event) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	data, err := event.DataJSON()
	if err != nil {
		return err
	}

	return tx.QueryRow(ctx, `
		INSERT INTO reserva_eventos (reserva_id, tipo, datos)
		VALUES ($1, $2, $3::jsonb)
		RETURNING id::text, creado_en
	`, event.ReservationID, string(event.Type), string(data)).Scan(&event.ID, &event.CreatedAt)
}
