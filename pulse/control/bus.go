package control

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/logger"
)

// MaxAttempts bounds redelivery of a message whose handler keeps failing
const MaxAttempts = 5

const (
	defaultLease     = 30 * time.Second
	defaultBatchSize = 32
	purgeInterval    = time.Hour
	retainAcked      = 24 * time.Hour
)

// Handler receives decoded control messages. Returning an error leaves the
// message unacknowledged so it is delivered again.
type Handler interface {
	HandleCampaignSignal(ctx context.Context, s CampaignSignal) error
	HandleScheduleControl(ctx context.Context, c ScheduleControl) error
}

// Bus is the SQLite-backed outbox shared by every instance on the database
type Bus struct {
	db         *sql.DB
	instanceID string
	lease      time.Duration
	batchSize  int
	timeNow    func() time.Time
	logger     *zap.SugaredLogger
}

// NewBus creates a bus that claims messages under instanceID
func NewBus(db *sql.DB, instanceID string, log *zap.SugaredLogger) *Bus {
	return &Bus{
		db:         db,
		instanceID: instanceID,
		lease:      defaultLease,
		batchSize:  defaultBatchSize,
		timeNow:    time.Now,
		logger:     logger.AddControlSymbol(log),
	}
}

// PublishCampaign queues a campaign signal
func (b *Bus) PublishCampaign(ctx context.Context, s CampaignSignal) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return b.publish(ctx, KindCampaign, s)
}

// PublishSchedule queues a schedule control message
func (b *Bus) PublishSchedule(ctx context.Context, c ScheduleControl) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return b.publish(ctx, KindSchedule, c)
}

func (b *Bus) publish(ctx context.Context, kind Kind, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s message", kind)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO control_messages (kind, payload, created_at) VALUES (?, ?, ?)`,
		string(kind), string(payload), b.timeNow().UnixMilli())
	if err != nil {
		return errors.Wrapf(err, "publish %s message", kind)
	}
	b.logger.Debugw("Control message published", "kind", kind, "payload", string(payload))
	return nil
}

// claim leases up to batchSize unacknowledged messages whose previous lease
// (if any) has expired
func (b *Bus) claim(ctx context.Context) ([]Message, error) {
	now := b.timeNow().UnixMilli()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin claim")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, kind, payload, attempts
		FROM control_messages
		WHERE acked_at IS NULL AND (claimed_by = '' OR claim_expires_at < ?)
		ORDER BY id
		LIMIT ?`, now, b.batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "select claimable messages")
	}

	var msgs []Message
	for rows.Next() {
		var m Message
		var kind, payload string
		if err := rows.Scan(&m.ID, &kind, &payload, &m.Attempts); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan control message")
		}
		m.Kind = Kind(kind)
		m.Payload = json.RawMessage(payload)
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate control messages")
	}

	expires := now + b.lease.Milliseconds()
	for i := range msgs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE control_messages
			SET claimed_by = ?, claim_expires_at = ?, attempts = attempts + 1
			WHERE id = ?`, b.instanceID, expires, msgs[i].ID); err != nil {
			return nil, errors.Wrapf(err, "claim message %d", msgs[i].ID)
		}
		msgs[i].Attempts++
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit claim")
	}
	return msgs, nil
}

func (b *Bus) ack(ctx context.Context, id int64) error {
	_, err := b.db.ExecContext(ctx,
		`UPDATE control_messages SET acked_at = ? WHERE id = ? AND claimed_by = ?`,
		b.timeNow().UnixMilli(), id, b.instanceID)
	return errors.Wrapf(err, "ack message %d", id)
}

// release drops the lease so another poll (on any instance) can retry
func (b *Bus) release(ctx context.Context, id int64) error {
	_, err := b.db.ExecContext(ctx,
		`UPDATE control_messages SET claimed_by = '', claim_expires_at = 0 WHERE id = ? AND claimed_by = ?`,
		id, b.instanceID)
	return errors.Wrapf(err, "release message %d", id)
}

// Purge deletes acknowledged messages older than the cutoff
func (b *Bus) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM control_messages WHERE acked_at IS NOT NULL AND acked_at < ?`,
		olderThan.UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "purge control messages")
	}
	return res.RowsAffected()
}

// Pending counts unacknowledged messages
func (b *Bus) Pending(ctx context.Context) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM control_messages WHERE acked_at IS NULL`).Scan(&n)
	return n, errors.Wrap(err, "count pending control messages")
}

// Poll claims one batch and hands each message to h. It returns the number of
// messages acknowledged.
func (b *Bus) Poll(ctx context.Context, h Handler) (int, error) {
	msgs, err := b.claim(ctx)
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, m := range msgs {
		if ctx.Err() != nil {
			return acked, ctx.Err()
		}
		if b.deliver(ctx, h, m) {
			if err := b.ack(ctx, m.ID); err != nil {
				b.logger.Warnw("Failed to ack control message", "id", m.ID, logger.FieldError, err)
				continue
			}
			acked++
		}
	}
	return acked, nil
}

// deliver reports whether the message is finished with (handled, malformed, or
// out of attempts)
func (b *Bus) deliver(ctx context.Context, h Handler, m Message) bool {
	var err error
	switch m.Kind {
	case KindCampaign:
		var s CampaignSignal
		if s, err = m.Campaign(); err == nil {
			err = h.HandleCampaignSignal(ctx, s)
		} else {
			b.logger.Errorw("Dropping malformed campaign signal", "id", m.ID, logger.FieldError, err)
			return true
		}
	case KindSchedule:
		var c ScheduleControl
		if c, err = m.Schedule(); err == nil {
			err = h.HandleScheduleControl(ctx, c)
		} else {
			b.logger.Errorw("Dropping malformed schedule control", "id", m.ID, logger.FieldError, err)
			return true
		}
	default:
		b.logger.Errorw("Dropping control message of unknown kind", "id", m.ID, "kind", m.Kind)
		return true
	}

	if err == nil {
		return true
	}
	if m.Attempts >= MaxAttempts {
		b.logger.Errorw("Control message failed too many times, dropping",
			"id", m.ID, "attempts", m.Attempts, logger.FieldError, err)
		return true
	}

	b.logger.Warnw("Control handler failed, will redeliver",
		"id", m.ID, "attempts", m.Attempts, logger.FieldError, err)
	if rerr := b.release(ctx, m.ID); rerr != nil {
		b.logger.Warnw("Failed to release control message", "id", m.ID, logger.FieldError, rerr)
	}
	return false
}

// Run polls every interval until ctx is cancelled
func (b *Bus) Run(ctx context.Context, interval time.Duration, h Handler) error {
	b.logger.Infow("Control subscriber started",
		logger.FieldInstanceID, b.instanceID, "poll", interval)

	poll := time.NewTicker(interval)
	defer poll.Stop()
	purge := time.NewTicker(purgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Infow("Control subscriber stopped")
			return nil
		case <-poll.C:
			if _, err := b.Poll(ctx, h); err != nil && ctx.Err() == nil {
				b.logger.Warnw("Control poll failed", logger.FieldError, err)
			}
		case <-purge.C:
			if n, err := b.Purge(ctx, b.timeNow().Add(-retainAcked)); err != nil {
				b.logger.Warnw("Control purge failed", logger.FieldError, err)
			} else if n > 0 {
				b.logger.Debugw("Purged acknowledged control messages", logger.FieldCount, n)
			}
		}
	}
}
