package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teranos/dialpulse/db"
	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/pulse/relation"
	"github.com/teranos/dialpulse/pulse/recurrence"
)

// Store persists campaigns, schedules, holidays and both execution levels.
// Instants are stored as unix milliseconds.
type Store struct {
	db      *sql.DB
	timeNow func() time.Time
}

// NewStore creates a new execution store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, timeNow: time.Now}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func toMS(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMS(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func notFound(kind, id string) error {
	return errors.Wrapf(errors.ErrNotFound, "%s %s", kind, id)
}

// SaveCampaign inserts or replaces a campaign
func (s *Store) SaveCampaign(ctx context.Context, c *Campaign) error {
	pacingJSON, err := encodeJSON(c.Pacing)
	if err != nil {
		return errors.Wrap(err, "encode campaign pacing")
	}

	now := s.timeNow().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, source_phone_number, pacing, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			source_phone_number = excluded.source_phone_number,
			pacing = excluded.pacing,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.SourcePhoneNumber, pacingJSON, toMS(c.CreatedAt), toMS(c.UpdatedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to save campaign %s", c.ID)
	}
	return nil
}

func scanCampaign(row scanner) (*Campaign, error) {
	var c Campaign
	var pacingJSON string
	var created, updated int64
	if err := row.Scan(&c.ID, &c.Name, &c.SourcePhoneNumber, &pacingJSON, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(pacingJSON), &c.Pacing); err != nil {
		return nil, errors.Wrapf(err, "decode pacing of campaign %s", c.ID)
	}
	c.CreatedAt = fromMS(created)
	c.UpdatedAt = fromMS(updated)
	return &c, nil
}

const campaignColumns = `id, name, source_phone_number, pacing, created_at, updated_at`

// GetCampaign retrieves a campaign by ID
func (s *Store) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, notFound("campaign", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get campaign %s", id)
	}
	return c, nil
}

// ListCampaigns returns every campaign ordered by name
func (s *Store) ListCampaigns(ctx context.Context) ([]*Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY name, id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list campaigns")
	}
	defer rows.Close()

	var out []*Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan campaign")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate campaigns")
}

// SaveSchedule inserts or replaces a schedule. The owning campaign must exist.
func (s *Store) SaveSchedule(ctx context.Context, sch *Schedule) error {
	calendarJSON, err := encodeJSON(sch.Calendar)
	if err != nil {
		return errors.Wrap(err, "encode calendar")
	}
	sequencesJSON, err := encodeJSON(sch.Sequences)
	if err != nil {
		return errors.Wrap(err, "encode sequences")
	}
	pacingJSON, err := encodeJSON(sch.Pacing)
	if err != nil {
		return errors.Wrap(err, "encode schedule pacing")
	}

	now := s.timeNow().UTC()
	if sch.CreatedAt.IsZero() {
		sch.CreatedAt = now
	}
	sch.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, campaign_id, name, calendar, duration_minutes, loops,
			sequences, disabled, pacing, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			campaign_id = excluded.campaign_id,
			name = excluded.name,
			calendar = excluded.calendar,
			duration_minutes = excluded.duration_minutes,
			loops = excluded.loops,
			sequences = excluded.sequences,
			disabled = excluded.disabled,
			pacing = excluded.pacing,
			updated_at = excluded.updated_at`,
		sch.ID, sch.CampaignID, sch.Name, calendarJSON, sch.DurationMinutes, sch.Loops,
		sequencesJSON, sch.Disabled, pacingJSON, toMS(sch.CreatedAt), toMS(sch.UpdatedAt))
	if err != nil {
		err = errors.Wrapf(err, "failed to save schedule %s", sch.ID)
		return errors.WithDetail(err, fmt.Sprintf("Campaign: %s", sch.CampaignID))
	}
	return nil
}

const scheduleColumns = `id, campaign_id, name, calendar, duration_minutes, loops, sequences, disabled, pacing, created_at, updated_at`

func scanSchedule(row scanner) (*Schedule, error) {
	var sch Schedule
	var calendarJSON, sequencesJSON, pacingJSON string
	var created, updated int64
	if err := row.Scan(&sch.ID, &sch.CampaignID, &sch.Name, &calendarJSON, &sch.DurationMinutes,
		&sch.Loops, &sequencesJSON, &sch.Disabled, &pacingJSON, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(calendarJSON), &sch.Calendar); err != nil {
		return nil, errors.Wrapf(err, "decode calendar of schedule %s", sch.ID)
	}
	if err := json.Unmarshal([]byte(sequencesJSON), &sch.Sequences); err != nil {
		return nil, errors.Wrapf(err, "decode sequences of schedule %s", sch.ID)
	}
	if err := json.Unmarshal([]byte(pacingJSON), &sch.Pacing); err != nil {
		return nil, errors.Wrapf(err, "decode pacing of schedule %s", sch.ID)
	}
	sch.CreatedAt = fromMS(created)
	sch.UpdatedAt = fromMS(updated)
	return &sch, nil
}

// GetSchedule retrieves a schedule by ID
func (s *Store) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sch, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, notFound("schedule", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schedule %s", id)
	}
	return sch, nil
}

// ListSchedules returns every schedule
func (s *Store) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY name, id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list schedules")
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		out = append(out, sch)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate schedules")
}

// SaveHoliday inserts or replaces a holiday
func (s *Store) SaveHoliday(ctx context.Context, h Holiday) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (id, name, iso_date) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, iso_date = excluded.iso_date`,
		h.ID, h.Name, h.ISODate)
	return errors.Wrapf(err, "failed to save holiday %s", h.ID)
}

// DeleteHoliday removes a holiday; nothing references holidays by more than id
func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM holidays WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete holiday %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("holiday", id)
	}
	return nil
}

// ListHolidays returns every holiday ordered by date
func (s *Store) ListHolidays(ctx context.Context) ([]Holiday, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, iso_date FROM holidays ORDER BY iso_date, id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list holidays")
	}
	defer rows.Close()

	var out []Holiday
	for rows.Next() {
		var h Holiday
		if err := rows.Scan(&h.ID, &h.Name, &h.ISODate); err != nil {
			return nil, errors.Wrap(err, "failed to scan holiday")
		}
		out = append(out, h)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate holidays")
}

// CreateScheduleExecution stores a new execution and marks its occurrence as
// covered. A second execution for the same occurrence fails with ErrConflict,
// even after the first one has finished.
func (s *Store) CreateScheduleExecution(ctx context.Context, se *ScheduleExecution) error {
	historyJSON, err := encodeJSON(se.History)
	if err != nil {
		return errors.Wrap(err, "encode history")
	}
	pacingJSON, err := encodeJSON(se.Pacing)
	if err != nil {
		return errors.Wrap(err, "encode execution pacing")
	}

	now := s.timeNow().UTC()
	se.CreatedAt = now
	se.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin create schedule execution")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO covered_occurrences (schedule_id, occurrence_start, schedule_execution_id, created_at)
		VALUES (?, ?, ?, ?)`,
		se.ScheduleID, toMS(se.OccurrenceStart), se.ID, toMS(now))
	if db.IsUniqueViolation(err) {
		return errors.Wrapf(errors.ErrConflict, "occurrence %s of schedule %s already covered",
			se.OccurrenceStart.Format(time.RFC3339), se.ScheduleID)
	}
	if err != nil {
		return errors.Wrap(err, "failed to cover occurrence")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO schedule_executions (id, schedule_id, campaign_id, status,
			current_sequence_index, current_sequence_loop, current_campaign_execution_id,
			history, pacing, occurrence_start, duration_minutes, timezone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		se.ID, se.ScheduleID, se.CampaignID, string(se.Status),
		se.CurrentSequenceIndex, se.CurrentSequenceLoop, se.CurrentCampaignExecutionID,
		historyJSON, pacingJSON, toMS(se.OccurrenceStart), se.DurationMinutes, se.Timezone,
		toMS(se.CreatedAt), toMS(se.UpdatedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to create schedule execution %s", se.ID)
	}

	return errors.Wrap(tx.Commit(), "commit schedule execution")
}

const scheduleExecutionColumns = `id, schedule_id, campaign_id, status, current_sequence_index,
	current_sequence_loop, current_campaign_execution_id, history, pacing, occurrence_start,
	duration_minutes, timezone, created_at, updated_at`

func scanScheduleExecution(row scanner) (*ScheduleExecution, error) {
	var se ScheduleExecution
	var status, historyJSON, pacingJSON string
	var start, created, updated int64
	if err := row.Scan(&se.ID, &se.ScheduleID, &se.CampaignID, &status, &se.CurrentSequenceIndex,
		&se.CurrentSequenceLoop, &se.CurrentCampaignExecutionID, &historyJSON, &pacingJSON, &start,
		&se.DurationMinutes, &se.Timezone, &created, &updated); err != nil {
		return nil, err
	}
	se.Status = Status(status)
	if err := json.Unmarshal([]byte(historyJSON), &se.History); err != nil {
		return nil, errors.Wrapf(err, "decode history of schedule execution %s", se.ID)
	}
	if err := json.Unmarshal([]byte(pacingJSON), &se.Pacing); err != nil {
		return nil, errors.Wrapf(err, "decode pacing of schedule execution %s", se.ID)
	}
	se.OccurrenceStart = fromMS(start)
	se.CreatedAt = fromMS(created)
	se.UpdatedAt = fromMS(updated)
	return &se, nil
}

// GetScheduleExecution retrieves a schedule execution by ID
func (s *Store) GetScheduleExecution(ctx context.Context, id string) (*ScheduleExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleExecutionColumns+` FROM schedule_executions WHERE id = ?`, id)
	se, err := scanScheduleExecution(row)
	if err == sql.ErrNoRows {
		return nil, notFound("schedule execution", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schedule execution %s", id)
	}
	return se, nil
}

// ListScheduleExecutions returns live executions of a schedule, or all of them
// when scheduleID is empty
func (s *Store) ListScheduleExecutions(ctx context.Context, scheduleID string) ([]*ScheduleExecution, error) {
	query := `SELECT ` + scheduleExecutionColumns + ` FROM schedule_executions`
	var args []interface{}
	if scheduleID != "" {
		query += ` WHERE schedule_id = ?`
		args = append(args, scheduleID)
	}
	query += ` ORDER BY occurrence_start, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list schedule executions")
	}
	defer rows.Close()

	var out []*ScheduleExecution
	for rows.Next() {
		se, err := scanScheduleExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule execution")
		}
		out = append(out, se)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate schedule executions")
}

// UpdateScheduleExecution writes run-state, status and pacing
func (s *Store) UpdateScheduleExecution(ctx context.Context, se *ScheduleExecution) error {
	historyJSON, err := encodeJSON(se.History)
	if err != nil {
		return errors.Wrap(err, "encode history")
	}
	pacingJSON, err := encodeJSON(se.Pacing)
	if err != nil {
		return errors.Wrap(err, "encode execution pacing")
	}
	se.UpdatedAt = s.timeNow().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_executions
		SET status = ?, current_sequence_index = ?, current_sequence_loop = ?,
		    current_campaign_execution_id = ?, history = ?, pacing = ?, updated_at = ?
		WHERE id = ?`,
		string(se.Status), se.CurrentSequenceIndex, se.CurrentSequenceLoop,
		se.CurrentCampaignExecutionID, historyJSON, pacingJSON, toMS(se.UpdatedAt), se.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to update schedule execution %s", se.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("schedule execution", se.ID)
	}
	return nil
}

// DeleteScheduleExecution removes a finished execution. The covered
// occurrence stays. Reports whether a row was deleted.
func (s *Store) DeleteScheduleExecution(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedule_executions WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete schedule execution %s", id)
	}
	n, err := res.RowsAffected()
	return n > 0, errors.Wrap(err, "rows affected")
}

// CreateCampaignExecution stores a new campaign execution
func (s *Store) CreateCampaignExecution(ctx context.Context, ce *CampaignExecution) error {
	pacingJSON, err := encodeJSON(ce.Pacing)
	if err != nil {
		return errors.Wrap(err, "encode campaign execution pacing")
	}
	now := s.timeNow().UTC()
	ce.CreatedAt = now
	ce.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campaign_executions (id, schedule_execution_id, schedule_id, campaign_id,
			sequence_index, sequence_loop, sequence_name, status, records_to_dial, records_attempted,
			pacing, end_by, has_received_postback, cache_released, clear_stats, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ce.ID, ce.ScheduleExecutionID, ce.ScheduleID, ce.CampaignID,
		ce.SequenceIndex, ce.SequenceLoop, ce.SequenceName, string(ce.Status),
		ce.RecordsToDial, ce.RecordsAttempted, pacingJSON, toMS(ce.EndBy),
		ce.HasReceivedPostback, ce.CacheReleased, ce.ClearStats, toMS(ce.CreatedAt), toMS(ce.UpdatedAt))
	if err != nil {
		err = errors.Wrapf(err, "failed to create campaign execution %s", ce.ID)
		return errors.WithDetail(err, fmt.Sprintf("Schedule execution: %s", ce.ScheduleExecutionID))
	}
	return nil
}

const campaignExecutionColumns = `id, schedule_execution_id, schedule_id, campaign_id, sequence_index,
	sequence_loop, sequence_name, status, records_to_dial, records_attempted, pacing, end_by,
	has_received_postback, cache_released, clear_stats, created_at, updated_at`

func scanCampaignExecution(row scanner) (*CampaignExecution, error) {
	var ce CampaignExecution
	var status, pacingJSON string
	var endBy, created, updated int64
	if err := row.Scan(&ce.ID, &ce.ScheduleExecutionID, &ce.ScheduleID, &ce.CampaignID,
		&ce.SequenceIndex, &ce.SequenceLoop, &ce.SequenceName, &status, &ce.RecordsToDial,
		&ce.RecordsAttempted, &pacingJSON, &endBy, &ce.HasReceivedPostback, &ce.CacheReleased,
		&ce.ClearStats, &created, &updated); err != nil {
		return nil, err
	}
	ce.Status = CampaignStatus(status)
	if err := json.Unmarshal([]byte(pacingJSON), &ce.Pacing); err != nil {
		return nil, errors.Wrapf(err, "decode pacing of campaign execution %s", ce.ID)
	}
	ce.EndBy = fromMS(endBy)
	ce.CreatedAt = fromMS(created)
	ce.UpdatedAt = fromMS(updated)
	return &ce, nil
}

// GetCampaignExecution retrieves a campaign execution by ID
func (s *Store) GetCampaignExecution(ctx context.Context, id string) (*CampaignExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignExecutionColumns+` FROM campaign_executions WHERE id = ?`, id)
	ce, err := scanCampaignExecution(row)
	if err == sql.ErrNoRows {
		return nil, notFound("campaign execution", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get campaign execution %s", id)
	}
	return ce, nil
}

func (s *Store) queryCampaignExecutions(ctx context.Context, where string, args ...interface{}) ([]*CampaignExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignExecutionColumns+` FROM campaign_executions `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list campaign executions")
	}
	defer rows.Close()

	var out []*CampaignExecution
	for rows.Next() {
		ce, err := scanCampaignExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan campaign execution")
		}
		out = append(out, ce)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate campaign executions")
}

// ListCampaignExecutions returns the campaign executions of one schedule
// execution, or every live one when seID is empty
func (s *Store) ListCampaignExecutions(ctx context.Context, seID string) ([]*CampaignExecution, error) {
	if seID == "" {
		return s.queryCampaignExecutions(ctx, "")
	}
	return s.queryCampaignExecutions(ctx, `WHERE schedule_execution_id = ?`, seID)
}

// ListFinishableCampaignExecutions returns campaign executions that may be
// done at t: past end-by, stopping, or with their quota attempted
func (s *Store) ListFinishableCampaignExecutions(ctx context.Context, t time.Time) ([]*CampaignExecution, error) {
	return s.queryCampaignExecutions(ctx, `
		WHERE end_by < ?
		   OR status = 'STOPPING'
		   OR (records_to_dial > 0 AND records_attempted >= records_to_dial)`, toMS(t))
}

// UpdateCampaignExecution writes status, quota, pacing and flags.
// RecordsAttempted only moves through IncrementAttempted.
func (s *Store) UpdateCampaignExecution(ctx context.Context, ce *CampaignExecution) error {
	pacingJSON, err := encodeJSON(ce.Pacing)
	if err != nil {
		return errors.Wrap(err, "encode campaign execution pacing")
	}
	ce.UpdatedAt = s.timeNow().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_executions
		SET status = ?, records_to_dial = ?, pacing = ?, has_received_postback = ?,
		    cache_released = ?, updated_at = ?
		WHERE id = ?`,
		string(ce.Status), ce.RecordsToDial, pacingJSON, ce.HasReceivedPostback,
		ce.CacheReleased, toMS(ce.UpdatedAt), ce.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to update campaign execution %s", ce.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("campaign execution", ce.ID)
	}
	return nil
}

// IncrementAttempted adds n to the monotonic attempted counter
func (s *Store) IncrementAttempted(ctx context.Context, id string, n int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_executions SET records_attempted = records_attempted + ?, updated_at = ?
		WHERE id = ?`, n, toMS(s.timeNow()), id)
	if err != nil {
		return errors.Wrapf(err, "failed to increment attempted for %s", id)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return notFound("campaign execution", id)
	}
	return nil
}

// AddRecordsToDial grows the quota as the filler enqueues records
func (s *Store) AddRecordsToDial(ctx context.Context, id string, n int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_executions SET records_to_dial = records_to_dial + ?, updated_at = ?
		WHERE id = ?`, n, toMS(s.timeNow()), id)
	if err != nil {
		return errors.Wrapf(err, "failed to add records to dial for %s", id)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return notFound("campaign execution", id)
	}
	return nil
}

// DeleteCampaignExecution removes a finalized campaign execution. Reports
// whether a row was deleted, so only one finalizer wins a race.
func (s *Store) DeleteCampaignExecution(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM campaign_executions WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete campaign execution %s", id)
	}
	n, err := res.RowsAffected()
	return n > 0, errors.Wrap(err, "rows affected")
}

// GetDialProfile joins a campaign execution with its campaign and sequence
// behavior
func (s *Store) GetDialProfile(ctx context.Context, ceID string) (DialProfile, error) {
	var p DialProfile
	var status, sequencesJSON string
	var endBy int64
	var index int
	err := s.db.QueryRowContext(ctx, `
		SELECT ce.id, ce.campaign_id, ce.status, ce.end_by, ce.sequence_index,
		       c.source_phone_number, s.sequences
		FROM campaign_executions ce
		JOIN campaigns c ON c.id = ce.campaign_id
		JOIN schedules s ON s.id = ce.schedule_id
		WHERE ce.id = ?`, ceID).Scan(
		&p.CampaignExecutionID, &p.CampaignID, &status, &endBy, &index,
		&p.SourcePhoneNumber, &sequencesJSON)
	if err == sql.ErrNoRows {
		return p, notFound("campaign execution", ceID)
	}
	if err != nil {
		return p, errors.Wrapf(err, "failed to get dial profile for %s", ceID)
	}
	p.Status = CampaignStatus(status)
	p.EndBy = fromMS(endBy)

	var sequences []Sequence
	if err := json.Unmarshal([]byte(sequencesJSON), &sequences); err != nil {
		return p, errors.Wrapf(err, "decode sequences for %s", ceID)
	}
	if index >= 0 && index < len(sequences) {
		p.Behavior = sequences[index].Behavior
	}
	return p, nil
}

// Related lists entities of type to owned by (from, id). It is the resolver
// the relationship registry walks when planning deletes.
func (s *Store) Related(ctx context.Context, from relation.EntityType, id string, to relation.EntityType) ([]relation.Ref, error) {
	var query string
	switch {
	case from == EntityCampaign && to == EntitySchedule:
		query = `SELECT id, name FROM schedules WHERE campaign_id = ? ORDER BY id`
	case from == EntitySchedule && to == EntityScheduleExecution:
		query = `SELECT id, occurrence_start FROM schedule_executions WHERE schedule_id = ? ORDER BY id`
	case from == EntityScheduleExecution && to == EntityCampaignExecution:
		query = `SELECT id, sequence_name FROM campaign_executions WHERE schedule_execution_id = ? ORDER BY id`
	default:
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s of %s %s", to, from, id)
	}
	defer rows.Close()

	var refs []relation.Ref
	for rows.Next() {
		ref := relation.Ref{Type: to}
		if to == EntityScheduleExecution {
			var start int64
			if err := rows.Scan(&ref.ID, &start); err != nil {
				return nil, errors.Wrap(err, "failed to scan related entity")
			}
			ref.Name = "occurrence " + fromMS(start).Format(time.RFC3339)
		} else if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, errors.Wrap(err, "failed to scan related entity")
		}
		refs = append(refs, ref)
	}
	return refs, errors.Wrap(rows.Err(), "failed to iterate related entities")
}

var deleteStatements = map[relation.EntityType]string{
	EntityCampaign:          `DELETE FROM campaigns WHERE id = ?`,
	EntitySchedule:          `DELETE FROM schedules WHERE id = ?`,
	EntityScheduleExecution: `DELETE FROM schedule_executions WHERE id = ?`,
	EntityCampaignExecution: `DELETE FROM campaign_executions WHERE id = ?`,
	EntityHoliday:           `DELETE FROM holidays WHERE id = ?`,
}

// deleteRefs removes refs in order, then the target, in one transaction
func (s *Store) deleteRefs(ctx context.Context, refs []relation.Ref, target relation.Ref) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin delete")
	}
	defer tx.Rollback()

	for _, ref := range append(refs, target) {
		stmt, ok := deleteStatements[ref.Type]
		if !ok {
			return errors.AssertionFailedf("no delete statement for %s", ref.Type)
		}
		if ref.Type == EntitySchedule {
			if _, err := tx.ExecContext(ctx, `DELETE FROM covered_occurrences WHERE schedule_id = ?`, ref.ID); err != nil {
				return errors.Wrapf(err, "failed to clear covered occurrences of %s", ref.ID)
			}
		}
		if _, err := tx.ExecContext(ctx, stmt, ref.ID); err != nil {
			return errors.Wrapf(err, "failed to delete %s %s", ref.Type, ref.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit delete")
}

// ExclusionsFor returns the holidays as recurrence exclusions
func (s *Store) HolidayExclusions(ctx context.Context) ([]recurrence.Exclusion, error) {
	holidays, err := s.ListHolidays(ctx)
	if err != nil {
		return nil, err
	}
	return Exclusions(holidays), nil
}
