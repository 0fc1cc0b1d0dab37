package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgLog appends events to the event_logs table.
type PgLog struct {
	db DB
}

func NewPgLog(db DB) *PgLog {
	return &PgLog{db: db}
}

func (l *PgLog) Record(ctx context.Context, ev Event) error {
	var data []byte
	if ev.Payload != nil {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		data = b
	}

	_, err := l.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.Type, ev.AppointmentID, data, nullableTime(ev))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(ev Event) any {
	if ev.OccurredAt.IsZero() {
		return nil
	}
	return ev.OccurredAt
}
