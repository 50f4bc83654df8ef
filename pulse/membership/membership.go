// Package membership maintains the liveness view that fair-share rate
// division depends on. Every instance heartbeats a row in the shared
// database; an instance is active while its last heartbeat is younger than
// the expiry. Ordinals follow join order, so they stay stable while the set
// of instances does.
package membership

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/logger"
)

// View is one instance's picture of the active set
type View struct {
	Instances int // N, at least 1
	Position  int // P, 0-based
}

// Membership heartbeats this instance and caches the active view
type Membership struct {
	db         *sql.DB
	instanceID string
	expiry     time.Duration
	timeNow    func() time.Time
	logger     *zap.SugaredLogger

	mu   sync.RWMutex
	view View
}

// NewInstanceID returns a random instance id
func NewInstanceID() string {
	return "inst_" + uuid.NewString()
}

// New creates a membership for instanceID. An empty id gets a random one.
func New(db *sql.DB, instanceID string, expiry time.Duration, log *zap.SugaredLogger) *Membership {
	if instanceID == "" {
		instanceID = NewInstanceID()
	}
	return &Membership{
		db:         db,
		instanceID: instanceID,
		expiry:     expiry,
		timeNow:    time.Now,
		logger:     log,
		view:       View{Instances: 1},
	}
}

// InstanceID returns this instance's id
func (m *Membership) InstanceID() string {
	return m.instanceID
}

// ActiveInstanceCount returns N from the last refresh
func (m *Membership) ActiveInstanceCount() int {
	return m.View().Instances
}

// OrdinalPosition returns P from the last refresh
func (m *Membership) OrdinalPosition() int {
	return m.View().Position
}

// View returns the cached view. Before the first heartbeat it is a lone instance.
func (m *Membership) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view
}

// Heartbeat records this instance as alive, drops expired peers, and
// refreshes the cached view.
func (m *Membership) Heartbeat(ctx context.Context) (View, error) {
	now := m.timeNow()
	cutoff := now.Add(-m.expiry).UnixMilli()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return m.View(), errors.Wrap(err, "begin heartbeat")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO instances (instance_id, started_at, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET last_seen = excluded.last_seen`,
		m.instanceID, now.UnixMilli(), now.UnixMilli()); err != nil {
		return m.View(), errors.Wrapf(err, "heartbeat %s", m.instanceID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE last_seen < ?`, cutoff); err != nil {
		return m.View(), errors.Wrap(err, "prune expired instances")
	}

	ids, err := activeIDs(ctx, tx)
	if err != nil {
		return m.View(), err
	}
	if err := tx.Commit(); err != nil {
		return m.View(), errors.Wrap(err, "commit heartbeat")
	}

	view := viewOf(ids, m.instanceID)
	m.mu.Lock()
	changed := view != m.view
	m.view = view
	m.mu.Unlock()

	if changed {
		m.logger.Infow("Membership changed",
			logger.FieldInstanceID, m.instanceID,
			logger.FieldInstances, view.Instances,
			logger.FieldOrdinal, view.Position)
	}
	return view, nil
}

func activeIDs(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT instance_id FROM instances ORDER BY started_at, instance_id`)
	if err != nil {
		return nil, errors.Wrap(err, "query instances")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan instance")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "iterate instances")
}

// viewOf places self in the ordered active set. An instance missing from
// the set counts itself last.
func viewOf(ids []string, self string) View {
	for i, id := range ids {
		if id == self {
			return View{Instances: len(ids), Position: i}
		}
	}
	return View{Instances: len(ids) + 1, Position: len(ids)}
}

// Leave removes this instance so peers pick up its share on their next heartbeat
func (m *Membership) Leave(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM instances WHERE instance_id = ?`, m.instanceID)
	return errors.Wrapf(err, "leave %s", m.instanceID)
}

// Run heartbeats every interval until ctx is done, then leaves
func (m *Membership) Run(ctx context.Context, interval time.Duration) error {
	if _, err := m.Heartbeat(ctx); err != nil {
		return errors.Wrap(err, "initial heartbeat")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.Leave(leaveCtx); err != nil {
				m.logger.Warnw("Failed to leave membership", logger.FieldError, err)
			}
			return nil
		case <-ticker.C:
			if _, err := m.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warnw("Heartbeat failed", logger.FieldError, err)
			}
		}
	}
}
