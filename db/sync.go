// ABOUTME: Database operations for the entity sync info table
// ABOUTME: Claims and releases the run lease with conditional updates and records run outcomes
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/BLEND360/hubspot-deals-export/models"
	"github.com/rotisserie/eris"
)

// GetSyncStatus reads the sync status of an entity, returning nil when no
// run has ever been recorded.
func GetSyncStatus(ctx context.Context, q Querier, entity string) (*models.SyncStatus, error) {
	var status models.SyncStatus
	var lastUpdatedOn, lastFailedOn, leaseExpiresAt sql.NullTime
	var updatedBy, updateEvent, lastSyncStatus, runID sql.NullString

	err := q.QueryRowContext(ctx, `
		SELECT entity_name, sync_status, last_updated_on, updated_by, update_event,
			last_sync_status, last_failed_on, run_id, lease_expires_at
		FROM `+TableSyncInfo+`
		WHERE entity_name = ?
	`, entity).Scan(
		&status.EntityName,
		&status.SyncStatus,
		&lastUpdatedOn,
		&updatedBy,
		&updateEvent,
		&lastSyncStatus,
		&lastFailedOn,
		&runID,
		&leaseExpiresAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to get sync status of %s", entity)
	}

	status.LastUpdatedOn = timePtr(lastUpdatedOn)
	status.LastFailedOn = timePtr(lastFailedOn)
	status.LeaseExpiresAt = timePtr(leaseExpiresAt)
	status.UpdatedBy = updatedBy.String
	status.UpdateEvent = updateEvent.String
	status.LastSyncStatus = lastSyncStatus.String
	status.RunID = runID.String

	return &status, nil
}

// ClaimSync moves the entity to PROCESSING under runID when no other run
// holds an unexpired lease. The check and the write are one conditional
// UPDATE, so at most one concurrent caller sees claimed == true.
func ClaimSync(ctx context.Context, q Querier, entity, runID, event string, now, leaseUntil time.Time) (bool, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO `+TableSyncInfo+` (entity_name, sync_status, updated_by)
		VALUES (?, ?, ?)
		ON CONFLICT (entity_name) DO NOTHING
	`, entity, models.StatusIdle, models.UpdatedBySystem)
	if err != nil {
		return false, eris.Wrapf(err, "failed to ensure sync status row for %s", entity)
	}

	res, err := q.ExecContext(ctx, `
		UPDATE `+TableSyncInfo+` SET
			sync_status = ?,
			run_id = ?,
			lease_expires_at = ?,
			update_event = ?,
			updated_by = ?
		WHERE entity_name = ?
			AND (sync_status <> ? OR (lease_expires_at IS NOT NULL AND lease_expires_at < ?))
	`, models.StatusProcessing, runID, leaseUntil.UTC(), event, models.UpdatedBySystem,
		entity, models.StatusProcessing, now.UTC())
	if err != nil {
		return false, eris.Wrapf(err, "failed to claim sync of %s", entity)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "failed to read claim result")
	}
	return n == 1, nil
}

// FinishSync releases the lease held by runID and records the outcome. It
// reports false when runID no longer holds the lease.
func FinishSync(ctx context.Context, q Querier, entity, runID string, o models.Outcome) (bool, error) {
	status, failedOn := outcomeColumns(o)

	res, err := q.ExecContext(ctx, `
		UPDATE `+TableSyncInfo+` SET
			sync_status = ?,
			run_id = NULL,
			lease_expires_at = NULL,
			update_event = ?,
			updated_by = ?,
			last_sync_status = ?,
			last_failed_on = COALESCE(?, last_failed_on),
			last_updated_on = COALESCE(?, last_updated_on)
		WHERE entity_name = ? AND run_id = ?
	`, models.StatusIdle, o.Event, models.UpdatedBySystem, status, failedOn, nullTime(o.Watermark),
		entity, runID)
	if err != nil {
		return false, eris.Wrapf(err, "failed to finish sync of %s", entity)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "failed to read finish result")
	}
	return n == 1, nil
}

// RecordOutcome stores the outcome of an invocation that did not hold the
// lease. The sync status and any lease are left untouched.
func RecordOutcome(ctx context.Context, q Querier, entity string, o models.Outcome) error {
	status, failedOn := outcomeColumns(o)

	_, err := q.ExecContext(ctx, `
		INSERT INTO `+TableSyncInfo+` (entity_name, sync_status, updated_by, update_event, last_sync_status, last_failed_on, last_updated_on)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_name) DO UPDATE SET
			updated_by = excluded.updated_by,
			update_event = excluded.update_event,
			last_sync_status = excluded.last_sync_status,
			last_failed_on = COALESCE(excluded.last_failed_on, `+TableSyncInfo+`.last_failed_on),
			last_updated_on = COALESCE(excluded.last_updated_on, `+TableSyncInfo+`.last_updated_on)
	`, entity, models.StatusIdle, models.UpdatedBySystem, o.Event, status, failedOn, nullTime(o.Watermark))
	if err != nil {
		return eris.Wrapf(err, "failed to record outcome of %s", entity)
	}
	return nil
}

// ForceRelease clears any lease and returns the entity to IDLE.
func ForceRelease(ctx context.Context, q Querier, entity string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE `+TableSyncInfo+` SET sync_status = ?, run_id = NULL, lease_expires_at = NULL, updated_by = ?
		WHERE entity_name = ?
	`, models.StatusIdle, models.UpdatedBySystem, entity)
	if err != nil {
		return eris.Wrapf(err, "failed to release sync of %s", entity)
	}
	return nil
}

// StatusStore adapts the sync info table to the coordinator's store interface.
type StatusStore struct {
	w *Warehouse
}

// NewStatusStore returns a store over w.
func NewStatusStore(w *Warehouse) *StatusStore {
	return &StatusStore{w: w}
}

func (s *StatusStore) Get(ctx context.Context, entity string) (*models.SyncStatus, error) {
	return GetSyncStatus(ctx, s.w, entity)
}

func (s *StatusStore) Claim(ctx context.Context, entity, runID, event string, now, leaseUntil time.Time) (bool, error) {
	return ClaimSync(ctx, s.w, entity, runID, event, now, leaseUntil)
}

func (s *StatusStore) Finish(ctx context.Context, entity, runID string, o models.Outcome) (bool, error) {
	return FinishSync(ctx, s.w, entity, runID, o)
}

func (s *StatusStore) Record(ctx context.Context, entity string, o models.Outcome) error {
	return RecordOutcome(ctx, s.w, entity, o)
}

func (s *StatusStore) ForceRelease(ctx context.Context, entity string) error {
	return ForceRelease(ctx, s.w, entity)
}

func outcomeColumns(o models.Outcome) (string, sql.NullTime) {
	if o.Success {
		return models.OutcomeSuccess, sql.NullTime{}
	}
	return models.OutcomeFailed, sql.NullTime{Time: o.At.UTC(), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
