package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusevents/registration-service/internal/domain"
	appctx "github.com/campusevents/registration-service/internal/pkg/context"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// -------------------------
// Deadlock policy:
// Always lock in this order (for the same event_id):
//   1) events row (FOR UPDATE)
//   2) event_registrations row(s) for the student (FOR UPDATE)
//   3) waitlist candidates (FOR UPDATE SKIP LOCKED)
// CancelRegistration only knows a registration id, so it reads the event_id
// without a lock first and then re-enters in this order. The denormalized
// counters on the events row are only mutated while holding its lock.
// -------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const eventColumns = `id, school_id, manager_id, title, status, event_type, price,
	refund_enabled, cancellation_deadline_hours, refund_tiers, waitlist_enabled,
	capacity, confirmed_count, waitlisted_count, start_date, created_at, updated_at`

func scanEvent(row rowScanner) (*domain.Event, error) {
	var ev domain.Event
	var status, etype string
	var tiers []byte
	err := row.Scan(
		&ev.ID, &ev.SchoolID, &ev.ManagerID, &ev.Title, &status, &etype, &ev.Price,
		&ev.RefundEnabled, &ev.CancellationDeadlineHours, &tiers, &ev.WaitlistEnabled,
		&ev.Capacity, &ev.ConfirmedCount, &ev.WaitlistedCount, &ev.StartDate,
		&ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.Status = domain.EventStatus(status)
	ev.EventType = domain.EventType(etype)
	if len(tiers) > 0 {
		if err := json.Unmarshal(tiers, &ev.RefundTiers); err != nil {
			return nil, err
		}
	}
	return &ev, nil
}

func getEventRow(ctx context.Context, q rowQuerier, eventID uuid.UUID, lock bool) (*domain.Event, error) {
	sql := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	ev, err := scanEvent(q.QueryRow(ctx, sql, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		return nil, wrapTransient("load event", err)
	}
	return ev, nil
}

const registrationColumns = `id, event_id, student_id, registration_type,
	registration_status, payment_status, payment_ref, amount_paid, registered_at,
	cancelled_at, cancelled_by, cancel_reason, refund_status, refund_amount,
	created_at, updated_at`

func scanRegistration(row rowScanner) (*domain.Registration, error) {
	var reg domain.Registration
	var rtype, rstatus, pstatus, refstatus string
	err := row.Scan(
		&reg.ID, &reg.EventID, &reg.StudentID, &rtype, &rstatus, &pstatus,
		&reg.PaymentRef, &reg.AmountPaid, &reg.RegisteredAt, &reg.CancelledAt,
		&reg.CancelledBy, &reg.CancelReason, &refstatus, &reg.RefundAmount,
		&reg.CreatedAt, &reg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	reg.Type = domain.RegistrationType(rtype)
	reg.Status = domain.RegistrationStatus(rstatus)
	reg.PaymentStatus = domain.PaymentStatus(pstatus)
	reg.RefundStatus = domain.RefundStatus(refstatus)
	return &reg, nil
}

func (r *Repository) CreateRegistration(ctx context.Context, cmd domain.CreateCmd) (*domain.Registration, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, wrapTransient("begin create", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 1) Lock the events row FIRST (global lock for this event_id)
	ev, err := getEventRow(ctx, tx, cmd.EventID, true)
	if err != nil {
		return nil, err
	}

	// 2) Status gate
	if !ev.AcceptsBulk() {
		return nil, domain.ErrRegistrationClosed
	}
	if cmd.Source == domain.SourceSelf && !ev.OpenForSelfService(time.Now().UTC()) {
		return nil, domain.ErrRegistrationClosed
	}

	// 3) Duplicate gate. The partial unique index is the backstop; this check
	// gives a clean error and is race-free because both writers hold the
	// events lock.
	var existingID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id
		FROM event_registrations
		WHERE event_id = $1 AND student_id = $2 AND registration_status <> 'CANCELLED'
		FOR UPDATE
	`, cmd.EventID, cmd.StudentID).Scan(&existingID)
	if err == nil {
		return nil, domain.ErrAlreadyRegistered
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrapTransient("duplicate check", err)
	}

	// 4) Capacity decision
	status := domain.StatusConfirmed
	if ev.Full() && !cmd.OverrideCapacity {
		if !ev.WaitlistEnabled {
			return nil, domain.ErrEventFull
		}
		status = domain.StatusWaitlisted
	}

	// 5) Payment columns. A completed payment is recorded even when the row
	// lands on the waitlist (the event can fill between initiate and verify,
	// and the money has already moved); an unpaid candidate may still join
	// the waitlist and owes nothing until promoted.
	reg := &domain.Registration{
		ID:           uuid.New(),
		EventID:      cmd.EventID,
		StudentID:    cmd.StudentID,
		Status:       status,
		RefundStatus: domain.RefundNone,
	}
	switch {
	case !ev.Paid():
		reg.Type = domain.TypeFree
		reg.PaymentStatus = domain.PaymentNotRequired
	case cmd.WaivePayment:
		reg.Type = domain.TypePaid
		reg.PaymentStatus = domain.PaymentWaived
	case cmd.PaymentRef != nil:
		reg.Type = domain.TypePaid
		reg.PaymentStatus = domain.PaymentCompleted
		reg.PaymentRef = cmd.PaymentRef
		reg.AmountPaid = domain.RoundMoney(cmd.AmountPaid)
	case status == domain.StatusWaitlisted:
		reg.PaymentStatus = domain.PaymentNotRequired
	default:
		return nil, domain.Validationf("paid event requires a completed payment reference")
	}
	if status == domain.StatusWaitlisted {
		reg.Type = domain.TypeWaitlist
	}

	// 6) Insert row
	err = tx.QueryRow(ctx, `
		INSERT INTO event_registrations
			(id, event_id, student_id, registration_type, registration_status,
			 payment_status, payment_ref, amount_paid, registered_at,
			 refund_status, refund_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), 'NONE', 0, NOW(), NOW())
		RETURNING registered_at, created_at, updated_at
	`, reg.ID, reg.EventID, reg.StudentID, string(reg.Type), string(reg.Status),
		string(reg.PaymentStatus), reg.PaymentRef, reg.AmountPaid,
	).Scan(&reg.RegisteredAt, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		// one completed payment reference backs at most one registration
		if uniqueConstraint(err) == "uq_event_registrations_payment_ref" {
			return nil, domain.Validationf("payment reference already used")
		}
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyRegistered
		}
		return nil, wrapTransient("insert registration", err)
	}

	// 7) Counters (same tx, events row already locked)
	counter := "confirmed_count"
	if status == domain.StatusWaitlisted {
		counter = "waitlisted_count"
	}
	if _, err := tx.Exec(ctx,
		`UPDATE events SET `+counter+` = `+counter+` + 1, updated_at = NOW() WHERE id = $1`,
		cmd.EventID,
	); err != nil {
		return nil, wrapTransient("bump counter", err)
	}

	// 8) Outbox
	routing := "registration.confirmed"
	if status == domain.StatusWaitlisted {
		routing = "registration.waitlisted"
	}
	insertOutboxTx(ctx, tx, routing, map[string]any{
		"registration_id": reg.ID,
		"event_id":        reg.EventID,
		"student_id":      reg.StudentID,
		"status":          reg.Status,
		"type":            reg.Type,
	})

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapTransient("commit create", err)
	}
	return reg, nil
}

func (r *Repository) CancelRegistration(ctx context.Context, cmd domain.CancelCmd) (*domain.CancelResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, wrapTransient("begin cancel", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 0) Resolve the event id without a lock; locks are taken event-first below
	var eventID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT event_id FROM event_registrations WHERE id = $1`,
		cmd.RegistrationID,
	).Scan(&eventID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRegistrationNotFound
	}
	if err != nil {
		return nil, wrapTransient("resolve registration", err)
	}

	// 1) Lock the events row FIRST
	ev, err := getEventRow(ctx, tx, eventID, true)
	if err != nil {
		return nil, err
	}

	// 2) Lock the registration row second
	reg, err := scanRegistration(tx.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM event_registrations WHERE id = $1 FOR UPDATE`,
		cmd.RegistrationID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRegistrationNotFound
	}
	if err != nil {
		return nil, wrapTransient("lock registration", err)
	}
	if reg.Status == domain.StatusCancelled {
		return nil, domain.ErrAlreadyCancelled
	}

	// 3) Refund decision inside the tx, from the locked event snapshot
	now := time.Now().UTC()
	var quote domain.RefundQuote
	switch {
	case cmd.OverrideAmount != nil:
		amt := domain.RoundMoney(*cmd.OverrideAmount)
		quote = domain.RefundQuote{
			Eligible: amt > 0,
			Amount:   amt,
			Reason:   "Refund amount set by operator.",
		}
	case reg.PaymentStatus == domain.PaymentCompleted:
		quote = domain.CalculateRefund(ev.RefundPolicy(), now)
	default:
		quote = domain.RefundQuote{Reason: "No completed payment on this registration."}
	}

	refundStatus := domain.RefundNone
	switch {
	case quote.Eligible && quote.Amount > 0:
		refundStatus = domain.RefundPending
	case !quote.Eligible && reg.PaymentStatus == domain.PaymentCompleted:
		refundStatus = domain.RefundDenied
	}

	// 4) Mark cancelled (keep row)
	prevStatus := reg.Status
	err = tx.QueryRow(ctx, `
		UPDATE event_registrations
		SET registration_status = 'CANCELLED',
		    cancelled_at = NOW(),
		    cancelled_by = $2,
		    cancel_reason = $3,
		    refund_status = $4,
		    refund_amount = $5,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING cancelled_at, updated_at
	`, reg.ID, cmd.CancelledBy, cmd.Reason, string(refundStatus), quote.Amount,
	).Scan(&reg.CancelledAt, &reg.UpdatedAt)
	if err != nil {
		return nil, wrapTransient("mark cancelled", err)
	}
	reg.Status = domain.StatusCancelled
	reg.CancelledBy = &cmd.CancelledBy
	reg.CancelReason = &cmd.Reason
	reg.RefundStatus = refundStatus
	reg.RefundAmount = quote.Amount

	// 5) Counters + FIFO promotion if a confirmed slot freed. Overridden
	// registrations can hold the count above capacity, so check the
	// post-decrement count actually leaves room before promoting.
	var promoted []domain.PromotionRecord
	if prevStatus == domain.StatusConfirmed {
		if _, err := tx.Exec(ctx,
			`UPDATE events SET confirmed_count = confirmed_count - 1, updated_at = NOW() WHERE id = $1`,
			eventID,
		); err != nil {
			return nil, wrapTransient("drop confirmed counter", err)
		}
		if ev.WaitlistedCount > 0 && ev.Capacity != nil && ev.ConfirmedCount-1 < *ev.Capacity {
			promoted, err = r.promoteTx(ctx, tx, eventID, 1)
			if err != nil {
				return nil, err
			}
		}
	} else {
		if _, err := tx.Exec(ctx,
			`UPDATE events SET waitlisted_count = waitlisted_count - 1, updated_at = NOW() WHERE id = $1`,
			eventID,
		); err != nil {
			return nil, wrapTransient("drop waitlisted counter", err)
		}
	}

	// 6) Outbox
	insertOutboxTx(ctx, tx, "registration.cancelled", map[string]any{
		"registration_id": reg.ID,
		"event_id":        eventID,
		"student_id":      reg.StudentID,
		"prev_status":     prevStatus,
		"forced":          cmd.Forced,
		"refund_status":   refundStatus,
		"refund_amount":   quote.Amount,
	})

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapTransient("commit cancel", err)
	}
	return &domain.CancelResult{Registration: reg, Quote: quote, Promoted: promoted}, nil
}

// promoteTx confirms up to n waitlisted registrations in FIFO order. The
// caller must already hold the events row lock.
func (r *Repository) promoteTx(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, n int) ([]domain.PromotionRecord, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := tx.Query(ctx, `
		SELECT id, student_id
		FROM event_registrations
		WHERE event_id = $1 AND registration_status = 'WAITLISTED'
		ORDER BY registered_at ASC, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, eventID, n)
	if err != nil {
		return nil, wrapTransient("select waitlist candidates", err)
	}
	var promoted []domain.PromotionRecord
	for rows.Next() {
		var rec domain.PromotionRecord
		rec.EventID = eventID
		if err := rows.Scan(&rec.RegistrationID, &rec.StudentID); err != nil {
			rows.Close()
			return nil, wrapTransient("scan waitlist candidate", err)
		}
		promoted = append(promoted, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapTransient("iterate waitlist candidates", err)
	}
	if len(promoted) == 0 {
		return nil, nil
	}

	for _, rec := range promoted {
		// registration_type stays WAITLIST; promotion never gates on payment
		if _, err := tx.Exec(ctx, `
			UPDATE event_registrations
			SET registration_status = 'CONFIRMED', updated_at = NOW()
			WHERE id = $1
		`, rec.RegistrationID); err != nil {
			return nil, wrapTransient("promote registration", err)
		}

		insertOutboxTx(ctx, tx, "registration.promoted", map[string]any{
			"registration_id": rec.RegistrationID,
			"event_id":        rec.EventID,
			"student_id":      rec.StudentID,
		})
	}

	if _, err := tx.Exec(ctx, `
		UPDATE events
		SET confirmed_count = confirmed_count + $2,
		    waitlisted_count = waitlisted_count - $2,
		    updated_at = NOW()
		WHERE id = $1
	`, eventID, len(promoted)); err != nil {
		return nil, wrapTransient("move counters", err)
	}

	return promoted, nil
}

// PromoteWaitlisted fills up to `slots` freed seats from the waitlist, FIFO.
// Used when capacity was raised; returns the promoted rows, possibly none.
func (r *Repository) PromoteWaitlisted(ctx context.Context, eventID uuid.UUID, slots int) ([]domain.PromotionRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, wrapTransient("begin promote", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ev, err := getEventRow(ctx, tx, eventID, true)
	if err != nil {
		return nil, err
	}
	if !ev.AcceptsBulk() {
		return nil, domain.ErrRegistrationClosed
	}

	n := slots
	if free := ev.FreeSlots(); n > free {
		n = free
	}
	promoted, err := r.promoteTx(ctx, tx, eventID, n)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapTransient("commit promote", err)
	}
	return promoted, nil
}

// MarkRefundProcessed flips a PENDING refund to PROCESSED after the provider
// accepted it. Idempotent; the registration row itself is already terminal.
func (r *Repository) MarkRefundProcessed(ctx context.Context, registrationID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE event_registrations
		SET refund_status = 'PROCESSED', updated_at = NOW()
		WHERE id = $1 AND refund_status = 'PENDING'
	`, registrationID)
	if err != nil {
		return wrapTransient("mark refund processed", err)
	}
	return nil
}

// insertOutboxTx writes a pending outbox row in the caller's transaction.
// Fire-and-forget contract: a failed insert never fails the state change.
func insertOutboxTx(ctx context.Context, tx pgx.Tx, routingKey string, payload any) {
	body, _ := json.Marshal(payload)
	_, _ = tx.Exec(ctx, `
		INSERT INTO outbox (message_id, trace_id, routing_key, payload, occurred_at, status)
		VALUES ($1, $2, $3, $4, NOW(), 'pending')
	`, uuid.New(), appctx.GetRequestID(ctx), routingKey, body)
}
