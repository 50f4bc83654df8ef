// Package queue is the shared ordered queue of executable records. Every
// instance dequeues from the same table; a record is handed to exactly one
// instance because dequeue deletes in the same transaction.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/teranos/dialpulse/errors"
)

// Record is one executable record
type Record struct {
	Seq                 int64             `json:"-" yaml:"-"`
	RecordID            string            `json:"record_id" yaml:"record_id"`
	CampaignExecutionID string            `json:"campaign_execution_id" yaml:"campaign_execution_id"`
	Deadline            string            `json:"deadline,omitempty" yaml:"deadline,omitempty"` // upstream-zone wall clock
	Phones              map[string]string `json:"phones" yaml:"phones"`
	Attributes          map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	EnqueuedAt          time.Time         `json:"enqueued_at" yaml:"-"`
}

// Store is the SQLite-backed queue
type Store struct {
	db      *sql.DB
	timeNow func() time.Time
}

// NewStore creates a new queue store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, timeNow: time.Now}
}

// Enqueue appends records in order and returns how many were stored
func (s *Store) Enqueue(ctx context.Context, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin enqueue")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dial_queue (record_id, campaign_execution_id, deadline, phones, attributes, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, errors.Wrap(err, "prepare enqueue")
	}
	defer stmt.Close()

	now := s.timeNow().UnixMilli()
	for _, r := range records {
		if r.RecordID == "" || r.CampaignExecutionID == "" {
			return 0, errors.Wrap(errors.ErrInvalidRequest, "record needs record_id and campaign_execution_id")
		}
		phones, err := json.Marshal(r.Phones)
		if err != nil {
			return 0, errors.Wrapf(err, "encode phones of %s", r.RecordID)
		}
		attrs, err := json.Marshal(r.Attributes)
		if err != nil {
			return 0, errors.Wrapf(err, "encode attributes of %s", r.RecordID)
		}
		if _, err := stmt.ExecContext(ctx, r.RecordID, r.CampaignExecutionID, r.Deadline,
			string(phones), string(attrs), now); err != nil {
			return 0, errors.Wrapf(err, "enqueue %s", r.RecordID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit enqueue")
	}
	return len(records), nil
}

// Dequeue removes and returns up to n of the oldest records. Records of
// executions that are starting or paused stay queued.
func (s *Store) Dequeue(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin dequeue")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT q.seq, q.record_id, q.campaign_execution_id, q.deadline, q.phones, q.attributes, q.enqueued_at
		FROM dial_queue q
		LEFT JOIN campaign_executions ce ON ce.id = q.campaign_execution_id
		WHERE ce.id IS NULL OR ce.status NOT IN ('STARTING', 'PAUSED')
		ORDER BY q.seq
		LIMIT ?`, n)
	if err != nil {
		return nil, errors.Wrap(err, "select records")
	}

	var out []Record
	for rows.Next() {
		var r Record
		var phones, attrs string
		var enqueued int64
		if err := rows.Scan(&r.Seq, &r.RecordID, &r.CampaignExecutionID, &r.Deadline, &phones, &attrs, &enqueued); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan record")
		}
		if err := json.Unmarshal([]byte(phones), &r.Phones); err != nil {
			rows.Close()
			return nil, errors.Wrapf(err, "decode phones of %s", r.RecordID)
		}
		if err := json.Unmarshal([]byte(attrs), &r.Attributes); err != nil {
			rows.Close()
			return nil, errors.Wrapf(err, "decode attributes of %s", r.RecordID)
		}
		r.EnqueuedAt = time.UnixMilli(enqueued).UTC()
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate records")
	}
	if len(out) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(out))
	args := make([]interface{}, len(out))
	for i, r := range out {
		placeholders[i] = "?"
		args[i] = r.Seq
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM dial_queue WHERE seq IN (`+strings.Join(placeholders, ",")+`)`, args...); err != nil {
		return nil, errors.Wrap(err, "delete dequeued records")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit dequeue")
	}
	return out, nil
}

// Release drops every queued record of a campaign execution
func (s *Store) Release(ctx context.Context, ceID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dial_queue WHERE campaign_execution_id = ?`, ceID)
	if err != nil {
		return 0, errors.Wrapf(err, "release records of %s", ceID)
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "rows affected")
}

// Pending counts queued records of a campaign execution
func (s *Store) Pending(ctx context.Context, ceID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dial_queue WHERE campaign_execution_id = ?`, ceID).Scan(&n)
	return n, errors.Wrapf(err, "count records of %s", ceID)
}

// Len counts every queued record
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dial_queue`).Scan(&n)
	return n, errors.Wrap(err, "count queue")
}
