package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campusevents/registration-service/internal/domain"
)

// ActorUploadHistory derives cooldown/quota inputs from the persisted log,
// never from process memory. "Today" is the current UTC day.
func (r *Repository) ActorUploadHistory(ctx context.Context, actorID uuid.UUID) (domain.UploadHistory, error) {
	var hist domain.UploadHistory
	err := r.pool.QueryRow(ctx, `
		SELECT max(created_at),
		       count(*) FILTER (WHERE created_at >= date_trunc('day', NOW() AT TIME ZONE 'utc'))
		FROM bulk_registration_logs
		WHERE actor_id = $1
	`, actorID).Scan(&hist.LastUploadAt, &hist.UploadsToday)
	if err != nil {
		return domain.UploadHistory{}, wrapTransient("load upload history", err)
	}
	return hist, nil
}

func (r *Repository) InsertBulkLog(ctx context.Context, log *domain.BulkLog) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapTransient("begin bulk log", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rowErrs, _ := json.Marshal(log.Errors)
	err = tx.QueryRow(ctx, `
		INSERT INTO bulk_registration_logs
			(id, event_id, actor_id, actor_role, attempted, succeeded, failed,
			 duplicate, errors, request_id, status, needs_attention, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING created_at
	`, log.ID, log.EventID, log.ActorID, string(log.ActorRole), log.Attempted,
		log.Succeeded, log.Failed, log.Duplicate, rowErrs, log.RequestID,
		string(log.Status), log.NeedsAttention,
	).Scan(&log.CreatedAt)
	if err != nil {
		return wrapTransient("insert bulk log", err)
	}

	if log.Status == domain.BulkLogCompleted {
		insertOutboxTx(ctx, tx, "bulk.completed", map[string]any{
			"log_id":     log.ID,
			"event_id":   log.EventID,
			"actor_id":   log.ActorID,
			"attempted":  log.Attempted,
			"succeeded":  log.Succeeded,
			"failed":     log.Failed,
			"duplicate":  log.Duplicate,
			"request_id": log.RequestID,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapTransient("commit bulk log", err)
	}
	return nil
}

// SetBulkLogArchiveKey records where the full report landed. Best-effort
// follow-up write after the S3 upload.
func (r *Repository) SetBulkLogArchiveKey(ctx context.Context, logID uuid.UUID, key string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE bulk_registration_logs SET archive_key = $2 WHERE id = $1`,
		logID, key)
	if err != nil {
		return wrapTransient("set archive key", err)
	}
	return nil
}

func (r *Repository) ListBulkLogs(ctx context.Context, eventID uuid.UUID, limit int) ([]domain.BulkLog, error) {
	limit = clampLimit(limit)
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, actor_id, actor_role, attempted, succeeded, failed,
		       duplicate, errors, request_id, status, needs_attention, archive_key, created_at
		FROM bulk_registration_logs
		WHERE event_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, eventID, limit)
	if err != nil {
		return nil, wrapTransient("list bulk logs", err)
	}
	defer rows.Close()

	var out []domain.BulkLog
	for rows.Next() {
		log, err := scanBulkLog(rows)
		if err != nil {
			return nil, wrapTransient("scan bulk log", err)
		}
		out = append(out, *log)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapTransient("iterate bulk logs", err)
	}
	return out, nil
}

func scanBulkLog(row rowScanner) (*domain.BulkLog, error) {
	var log domain.BulkLog
	var role, status string
	var rowErrs []byte
	err := row.Scan(
		&log.ID, &log.EventID, &log.ActorID, &role, &log.Attempted, &log.Succeeded,
		&log.Failed, &log.Duplicate, &rowErrs, &log.RequestID, &status,
		&log.NeedsAttention, &log.ArchiveKey, &log.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	log.ActorRole = domain.Role(role)
	log.Status = domain.BulkLogStatus(status)
	if len(rowErrs) > 0 {
		_ = json.Unmarshal(rowErrs, &log.Errors)
	}
	return &log, nil
}

// -------------------------
// Approval requests. Single-outcome is enforced by guarded transitions under
// the row lock: PENDING is the only state a decision may leave from, and
// expiry is applied lazily inside the same lock before any decision.
// -------------------------

func (r *Repository) CreateBulkRequest(ctx context.Context, req *domain.BulkRequest) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapTransient("begin bulk request", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	candidates, _ := json.Marshal(req.Candidates)
	err = tx.QueryRow(ctx, `
		INSERT INTO bulk_registration_requests
			(id, event_id, actor_id, actor_role, school_id, candidates,
			 candidate_count, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING', $8, NOW())
		RETURNING created_at
	`, req.ID, req.EventID, req.ActorID, string(req.ActorRole), req.SchoolID,
		candidates, req.CandidateCount, req.ExpiresAt,
	).Scan(&req.CreatedAt)
	if err != nil {
		return wrapTransient("insert bulk request", err)
	}
	req.Status = domain.RequestPending

	insertOutboxTx(ctx, tx, "bulk.approval_requested", map[string]any{
		"request_id":      req.ID,
		"event_id":        req.EventID,
		"actor_id":        req.ActorID,
		"candidate_count": req.CandidateCount,
		"expires_at":      req.ExpiresAt,
	})

	if err := tx.Commit(ctx); err != nil {
		return wrapTransient("commit bulk request", err)
	}
	return nil
}

const bulkRequestColumns = `id, event_id, actor_id, actor_role, school_id,
	candidates, candidate_count, status, reason, decided_by, decided_at,
	expires_at, created_at`

func scanBulkRequest(row rowScanner) (*domain.BulkRequest, error) {
	var req domain.BulkRequest
	var role, status string
	var candidates []byte
	err := row.Scan(
		&req.ID, &req.EventID, &req.ActorID, &role, &req.SchoolID, &candidates,
		&req.CandidateCount, &status, &req.Reason, &req.DecidedBy, &req.DecidedAt,
		&req.ExpiresAt, &req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.ActorRole = domain.Role(role)
	req.Status = domain.RequestStatus(status)
	if len(candidates) > 0 {
		_ = json.Unmarshal(candidates, &req.Candidates)
	}
	return &req, nil
}

func (r *Repository) GetBulkRequest(ctx context.Context, id uuid.UUID) (*domain.BulkRequest, error) {
	req, err := scanBulkRequest(r.pool.QueryRow(ctx,
		`SELECT `+bulkRequestColumns+` FROM bulk_registration_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRequestNotFound
	}
	if err != nil {
		return nil, wrapTransient("load bulk request", err)
	}
	return req, nil
}

// ClaimBulkRequest moves a PENDING request to PROCESSING. A request already in
// PROCESSING may be re-claimed: that is the rerun path after a crash between
// claim and finalize.
func (r *Repository) ClaimBulkRequest(ctx context.Context, id uuid.UUID) (*domain.BulkRequest, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, wrapTransient("begin claim", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	req, err := r.lockBulkRequest(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case domain.RequestPending:
		if expired, err := r.expireLockedTx(ctx, tx, req); err != nil {
			return nil, err
		} else if expired {
			if err := tx.Commit(ctx); err != nil {
				return nil, wrapTransient("commit lazy expiry", err)
			}
			return nil, domain.ErrRequestExpired
		}
		if _, err := tx.Exec(ctx,
			`UPDATE bulk_registration_requests SET status = 'PROCESSING' WHERE id = $1`,
			id,
		); err != nil {
			return nil, wrapTransient("claim request", err)
		}
		req.Status = domain.RequestProcessing
	case domain.RequestProcessing:
		// re-claim after a crash; rows already registered will dedupe
	case domain.RequestExpired:
		return nil, domain.ErrRequestExpired
	default:
		return nil, domain.ErrRequestNotPending
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapTransient("commit claim", err)
	}
	return req, nil
}

func (r *Repository) FinalizeBulkRequest(ctx context.Context, id uuid.UUID, decidedBy uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapTransient("begin finalize", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE bulk_registration_requests
		SET status = 'APPROVED', decided_by = $2, decided_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`, id, decidedBy)
	if err != nil {
		return wrapTransient("finalize request", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRequestNotPending
	}

	insertOutboxTx(ctx, tx, "bulk.approved", map[string]any{
		"request_id": id,
		"decided_by": decidedBy,
	})

	if err := tx.Commit(ctx); err != nil {
		return wrapTransient("commit finalize", err)
	}
	return nil
}

func (r *Repository) RejectBulkRequest(ctx context.Context, id uuid.UUID, decidedBy uuid.UUID, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapTransient("begin reject", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	req, err := r.lockBulkRequest(ctx, tx, id)
	if err != nil {
		return err
	}

	switch req.Status {
	case domain.RequestPending:
		// fall through to the expiry gate below
	case domain.RequestExpired:
		return domain.ErrRequestExpired
	default:
		return domain.ErrRequestNotPending
	}

	if expired, err := r.expireLockedTx(ctx, tx, req); err != nil {
		return err
	} else if expired {
		if err := tx.Commit(ctx); err != nil {
			return wrapTransient("commit lazy expiry", err)
		}
		return domain.ErrRequestExpired
	}

	if _, err := tx.Exec(ctx, `
		UPDATE bulk_registration_requests
		SET status = 'REJECTED', reason = $2, decided_by = $3, decided_at = NOW()
		WHERE id = $1
	`, id, reason, decidedBy); err != nil {
		return wrapTransient("reject request", err)
	}

	insertOutboxTx(ctx, tx, "bulk.rejected", map[string]any{
		"request_id": id,
		"decided_by": decidedBy,
		"reason":     reason,
	})

	if err := tx.Commit(ctx); err != nil {
		return wrapTransient("commit reject", err)
	}
	return nil
}

func (r *Repository) lockBulkRequest(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.BulkRequest, error) {
	req, err := scanBulkRequest(tx.QueryRow(ctx,
		`SELECT `+bulkRequestColumns+` FROM bulk_registration_requests WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRequestNotFound
	}
	if err != nil {
		return nil, wrapTransient("lock bulk request", err)
	}
	return req, nil
}

// expireLockedTx applies lazy expiry to a locked PENDING request. Returns true
// when the request was written to EXPIRED; the caller commits and reports
// ErrRequestExpired.
func (r *Repository) expireLockedTx(ctx context.Context, tx pgx.Tx, req *domain.BulkRequest) (bool, error) {
	if !req.Expired(time.Now().UTC()) {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE bulk_registration_requests
		SET status = 'EXPIRED', decided_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`, req.ID); err != nil {
		return false, wrapTransient("expire request", err)
	}
	req.Status = domain.RequestExpired
	return true, nil
}

// ExpireDueBulkRequests sweeps all overdue PENDING requests. Called on the
// admin list path; there is no background scheduler for this.
func (r *Repository) ExpireDueBulkRequests(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bulk_registration_requests
		SET status = 'EXPIRED', decided_at = NOW()
		WHERE status = 'PENDING' AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, wrapTransient("expire due requests", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) ListBulkRequests(ctx context.Context, status *domain.RequestStatus, limit int) ([]domain.BulkRequest, error) {
	limit = clampLimit(limit)
	q := `SELECT ` + bulkRequestColumns + ` FROM bulk_registration_requests`
	var args []any
	if status != nil {
		q += ` WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
		args = append(args, string(*status), limit)
	} else {
		q += ` ORDER BY created_at DESC, id DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, wrapTransient("list bulk requests", err)
	}
	defer rows.Close()

	var out []domain.BulkRequest
	for rows.Next() {
		req, err := scanBulkRequest(rows)
		if err != nil {
			return nil, wrapTransient("scan bulk request", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapTransient("iterate bulk requests", err)
	}
	return out, nil
}
