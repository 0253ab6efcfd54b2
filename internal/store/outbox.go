package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"handlex/pkg/types"
)

// QueueEvent inserts an unpublished outbox event. Called inside the
// settlement transaction, so the event becomes durable if and only if the
// state change it describes commits.
func (s *Store) QueueEvent(ctx context.Context, ext sqlx.ExtContext, eventType types.EventType, symbol string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	_, err = ext.ExecContext(ctx, `
		INSERT INTO outbox_events (event_id, event_type, symbol, payload, published, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)`,
		uuid.New(), eventType, symbol, body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("queue %s event: %w", eventType, err)
	}
	return nil
}

// PublishBatch claims up to limit unpublished events, delivers each through
// publish, and flips the delivered ones to published, all in one autonomous
// transaction. FOR UPDATE SKIP LOCKED lets several publisher workers drain
// the outbox concurrently without claiming the same rows.
//
// An event is flipped only after publish returns nil, so a crash between
// delivery and commit re-delivers: the fabric is at-least-once and consumers
// must tolerate duplicates. Returns the number of events delivered.
func (s *Store) PublishBatch(ctx context.Context, limit int, publish func(ctx context.Context, channel string, payload []byte) error) (int, error) {
	var delivered []uuid.UUID
	var publishErr error

	err := s.InTx(ctx, func(tx *sqlx.Tx) error {
		var events []types.OutboxEvent
		err := tx.SelectContext(ctx, &events, `
			SELECT * FROM outbox_events
			WHERE NOT published
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return fmt.Errorf("claim outbox events: %w", err)
		}

		for i := range events {
			e := &events[i]
			if err := publish(ctx, e.Channel(), e.Payload); err != nil {
				// Keep the flips for what already went out; the rest
				// stays claimed-but-unpublished and is retried next pass.
				publishErr = fmt.Errorf("publish event %s: %w", e.EventID, err)
				break
			}
			delivered = append(delivered, e.EventID)
		}

		if len(delivered) == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE outbox_events SET published = TRUE WHERE event_id = ANY($1)`,
			pq.Array(delivered))
		if err != nil {
			return fmt.Errorf("mark events published: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(delivered), publishErr
}
