package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campusevents/registration-service/internal/domain"
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func (r *Repository) GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	return getEventRow(ctx, r.pool, eventID, false)
}

func (r *Repository) GetRegistration(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	reg, err := scanRegistration(r.pool.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM event_registrations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRegistrationNotFound
	}
	if err != nil {
		return nil, wrapTransient("load registration", err)
	}
	return reg, nil
}

func (r *Repository) GetStudent(ctx context.Context, studentID uuid.UUID) (*domain.Student, error) {
	var st domain.Student
	err := r.pool.QueryRow(ctx, `
		SELECT id, school_id, registration_no, full_name, active
		FROM students
		WHERE id = $1
	`, studentID).Scan(&st.ID, &st.SchoolID, &st.RegistrationNo, &st.FullName, &st.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrStudentNotFound
	}
	if err != nil {
		return nil, wrapTransient("load student", err)
	}
	return &st, nil
}

// GetStudentsByRegNos resolves registration numbers in one round trip. Numbers
// with no matching student are simply absent from the map; a nil schoolID
// matches any school. A number held by students in more than one school is
// also absent rather than resolved arbitrarily.
func (r *Repository) GetStudentsByRegNos(ctx context.Context, schoolID *uuid.UUID, regNos []string) (map[string]*domain.Student, error) {
	out := make(map[string]*domain.Student, len(regNos))
	if len(regNos) == 0 {
		return out, nil
	}

	q := `
		SELECT id, school_id, registration_no, full_name, active
		FROM students
		WHERE registration_no = ANY($1)`
	args := []any{regNos}
	if schoolID != nil {
		q += ` AND school_id = $2`
		args = append(args, *schoolID)
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, wrapTransient("load students", err)
	}
	defer rows.Close()

	seen := make(map[string]bool, len(regNos))
	for rows.Next() {
		var st domain.Student
		if err := rows.Scan(&st.ID, &st.SchoolID, &st.RegistrationNo, &st.FullName, &st.Active); err != nil {
			return nil, wrapTransient("scan student", err)
		}
		if seen[st.RegistrationNo] {
			// same number issued by two schools under an unscoped lookup;
			// the row reports as not found instead of guessing
			delete(out, st.RegistrationNo)
			continue
		}
		seen[st.RegistrationNo] = true
		out[st.RegistrationNo] = &st
	}
	if err := rows.Err(); err != nil {
		return nil, wrapTransient("iterate students", err)
	}
	return out, nil
}

// roster and waitlist views: ORDER BY registered_at ASC, id ASC (FIFO order,
// the same order promotion drains)
func (r *Repository) ListEventRegistrations(ctx context.Context, eventID uuid.UUID, statuses []domain.RegistrationStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error) {
	limit = clampLimit(limit)
	args := []any{eventID}
	where := "WHERE event_id = $1"
	argN := 2

	if len(statuses) > 0 {
		ph := ""
		for i := range statuses {
			if i > 0 {
				ph += ","
			}
			ph += fmt.Sprintf("$%d", argN)
			args = append(args, string(statuses[i]))
			argN++
		}
		where += " AND registration_status IN (" + ph + ")"
	}

	// ASC cursor: start after this item
	if cursor != nil {
		where += fmt.Sprintf(" AND (registered_at, id) > ($%d, $%d)", argN, argN+1)
		args = append(args, cursor.RegisteredAt, cursor.ID)
		argN += 2
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM event_registrations
		%s
		ORDER BY registered_at ASC, id ASC
		LIMIT %d
	`, registrationColumns, where, limit+1)

	return r.listRegistrations(ctx, q, args, limit)
}

func (r *Repository) ListWaitlist(ctx context.Context, eventID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error) {
	return r.ListEventRegistrations(ctx, eventID, []domain.RegistrationStatus{domain.StatusWaitlisted}, limit, cursor)
}

// student history: newest first, cursor is "start after this item" in DESC order
func (r *Repository) ListStudentRegistrations(ctx context.Context, studentID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error) {
	limit = clampLimit(limit)
	args := []any{studentID}
	where := "WHERE student_id = $1"
	argN := 2

	if cursor != nil {
		where += fmt.Sprintf(" AND (registered_at, id) < ($%d, $%d)", argN, argN+1)
		args = append(args, cursor.RegisteredAt, cursor.ID)
		argN += 2
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM event_registrations
		%s
		ORDER BY registered_at DESC, id DESC
		LIMIT %d
	`, registrationColumns, where, limit+1)

	return r.listRegistrations(ctx, q, args, limit)
}

func (r *Repository) listRegistrations(ctx context.Context, q string, args []any, limit int) ([]domain.Registration, *domain.KeysetCursor, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, nil, wrapTransient("list registrations", err)
	}
	defer rows.Close()

	var out []domain.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, nil, wrapTransient("scan registration", err)
		}
		out = append(out, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapTransient("iterate registrations", err)
	}

	var next *domain.KeysetCursor
	if len(out) > limit {
		last := out[limit-1]
		next = &domain.KeysetCursor{RegisteredAt: last.RegisteredAt, ID: last.ID}
		out = out[:limit]
	}
	return out, next, nil
}

func (r *Repository) GetStats(ctx context.Context, eventID uuid.UUID) (domain.EventStats, error) {
	var s domain.EventStats
	s.EventID = eventID

	// counters on the events row are the source of truth
	err := r.pool.QueryRow(ctx, `
		SELECT capacity, confirmed_count, waitlisted_count, updated_at
		FROM events
		WHERE id = $1
	`, eventID).Scan(&s.Capacity, &s.ConfirmedCount, &s.WaitlistedCount, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EventStats{}, domain.ErrEventNotFound
	}
	if err != nil {
		return domain.EventStats{}, wrapTransient("load stats", err)
	}

	err = r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM event_registrations
		WHERE event_id = $1 AND registration_status = 'CANCELLED'
	`, eventID).Scan(&s.CancelledCount)
	if err != nil {
		return domain.EventStats{}, wrapTransient("count cancelled", err)
	}
	return s, nil
}
