// Package contacts tracks placed calls that have not been answered yet, so
// the ring-timeout reaper can find and terminate them.
package contacts

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/dialpulse/errors"
)

// Ringing is a placed call waiting to be answered
type Ringing struct {
	ContactID           string
	CampaignExecutionID string
	CampaignID          string
	RecordID            string
	PhoneNumber         string
	StartedAt           time.Time
}

// Store is the SQLite ringing-contact table
type Store struct {
	db *sql.DB
}

// NewStore creates a new contact store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Track starts tracking a placed call
func (s *Store) Track(ctx context.Context, r Ringing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ringing_contacts (contact_id, campaign_execution_id, campaign_id, record_id, phone_number, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_id) DO NOTHING`,
		r.ContactID, r.CampaignExecutionID, r.CampaignID, r.RecordID, r.PhoneNumber, r.StartedAt.UnixMilli())
	return errors.Wrapf(err, "track contact %s", r.ContactID)
}

// Remove stops tracking a contact and reports whether it was tracked
func (s *Store) Remove(ctx context.Context, contactID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ringing_contacts WHERE contact_id = ?`, contactID)
	if err != nil {
		return false, errors.Wrapf(err, "remove contact %s", contactID)
	}
	n, err := res.RowsAffected()
	return n > 0, errors.Wrap(err, "rows affected")
}

// OlderThan returns up to limit contacts that started ringing before cutoff,
// oldest first. A limit of zero or less means no limit.
func (s *Store) OlderThan(ctx context.Context, cutoff time.Time, limit int) ([]Ringing, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT contact_id, campaign_execution_id, campaign_id, record_id, phone_number, started_at
		FROM ringing_contacts
		WHERE started_at < ?
		ORDER BY started_at, contact_id
		LIMIT ?`, cutoff.UnixMilli(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "query ringing contacts")
	}
	defer rows.Close()

	var out []Ringing
	for rows.Next() {
		var r Ringing
		var started int64
		if err := rows.Scan(&r.ContactID, &r.CampaignExecutionID, &r.CampaignID, &r.RecordID, &r.PhoneNumber, &started); err != nil {
			return nil, errors.Wrap(err, "scan ringing contact")
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate ringing contacts")
}

// PurgeOlderThan drops every contact that started ringing before cutoff
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ringing_contacts WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "purge ringing contacts")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "rows affected")
}

// Count returns how many contacts are ringing
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ringing_contacts`).Scan(&n)
	return n, errors.Wrap(err, "count ringing contacts")
}
