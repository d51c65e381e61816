//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/campusevents/registration-service/internal/domain"
	"github.com/campusevents/registration-service/internal/infrastructure/postgres"
)

var migrateOnce sync.Once

// setupRepo connects to TEST_DB_DSN, applies the migrations once per process,
// and truncates every service table so the test starts from an empty database.
func setupRepo(t *testing.T) (*postgres.Repository, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("Skipping integration test: TEST_DB_DSN not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	migrateOnce.Do(func() { applyMigrations(t, pool, "../../../migrations") })

	_, err = pool.Exec(context.Background(),
		"TRUNCATE TABLE event_registrations, bulk_registration_logs, bulk_registration_requests, outbox, students, events RESTART IDENTITY CASCADE")
	require.NoError(t, err)

	return postgres.New(pool), pool
}

// applyMigrations runs every .sql file in dir in name order. The statements
// are all IF NOT EXISTS, so reapplying against a migrated database is a no-op.
func applyMigrations(t *testing.T, pool *pgxpool.Pool, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir %q: %v", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		t.Fatalf("no migration files in %q", dir)
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read migration %s: %v", name, err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err = pool.Exec(ctx, string(content))
		cancel()
		if err != nil {
			t.Fatalf("apply migration %s: %v", name, err)
		}
	}
}

// Events and students normally arrive through sync consumers, so tests seed
// the rows directly.

func seedEvent(t *testing.T, pool *pgxpool.Pool, ev *domain.Event) {
	t.Helper()
	tiers, err := json.Marshal(ev.RefundTiers)
	require.NoError(t, err)
	_, err = pool.Exec(context.Background(), `
		INSERT INTO events
			(id, school_id, manager_id, title, status, event_type, price,
			 refund_enabled, cancellation_deadline_hours, refund_tiers,
			 waitlist_enabled, capacity, confirmed_count, waitlisted_count, start_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, ev.ID, ev.SchoolID, ev.ManagerID, ev.Title, string(ev.Status), string(ev.EventType),
		ev.Price, ev.RefundEnabled, ev.CancellationDeadlineHours, tiers,
		ev.WaitlistEnabled, ev.Capacity, ev.ConfirmedCount, ev.WaitlistedCount, ev.StartDate)
	require.NoError(t, err)
}

func seedStudent(t *testing.T, pool *pgxpool.Pool, schoolID uuid.UUID, regNo string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO students (id, school_id, registration_no, full_name, active)
		VALUES ($1, $2, $3, $4, TRUE)
	`, id, schoolID, regNo, "Student "+regNo)
	require.NoError(t, err)
	return id
}

// publishedFreeEvent builds a published free event starting in three days.
// A negative capacity seeds an unlimited event.
func publishedFreeEvent(capacity int) *domain.Event {
	ev := &domain.Event{
		ID:              uuid.New(),
		SchoolID:        uuid.New(),
		ManagerID:       uuid.New(),
		Title:           "Science Fair",
		Status:          domain.EventPublished,
		EventType:       domain.EventTypeFree,
		WaitlistEnabled: true,
		StartDate:       time.Now().UTC().Add(72 * time.Hour),
	}
	if capacity >= 0 {
		c := capacity
		ev.Capacity = &c
	}
	return ev
}

// publishedPaidEvent builds a refundable paid event starting in ten days, far
// enough out that an immediate cancellation lands in the full-refund tier.
func publishedPaidEvent(price float64) *domain.Event {
	return &domain.Event{
		ID:                        uuid.New(),
		SchoolID:                  uuid.New(),
		ManagerID:                 uuid.New(),
		Title:                     "Spring Gala",
		Status:                    domain.EventPublished,
		EventType:                 domain.EventTypePaid,
		Price:                     price,
		RefundEnabled:             true,
		CancellationDeadlineHours: 24,
		RefundTiers: []domain.RefundTier{
			{DaysBefore: 7, Percent: 100},
			{DaysBefore: 3, Percent: 50},
		},
		WaitlistEnabled: true,
		StartDate:       time.Now().UTC().Add(240 * time.Hour),
	}
}

func mustCreate(t *testing.T, repo *postgres.Repository, cmd domain.CreateCmd) *domain.Registration {
	t.Helper()
	reg, err := repo.CreateRegistration(context.Background(), cmd)
	require.NoError(t, err)
	return reg
}

func selfCreate(t *testing.T, repo *postgres.Repository, eventID uuid.UUID) *domain.Registration {
	t.Helper()
	return mustCreate(t, repo, domain.CreateCmd{
		EventID:   eventID,
		StudentID: uuid.New(),
		Source:    domain.SourceSelf,
	})
}

func outboxCount(t *testing.T, pool *pgxpool.Pool, routingKey string) int {
	t.Helper()
	var n int
	err := pool.QueryRow(context.Background(),
		"SELECT count(*) FROM outbox WHERE routing_key = $1", routingKey).Scan(&n)
	require.NoError(t, err)
	return n
}

func listAllEventRegistrations(ctx context.Context, repo *postgres.Repository, eventID uuid.UUID, statuses []domain.RegistrationStatus) ([]domain.Registration, error) {
	var (
		cur *domain.KeysetCursor
		out []domain.Registration
	)
	for {
		items, next, err := repo.ListEventRegistrations(ctx, eventID, statuses, 100, cur)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if next == nil || len(items) == 0 {
			return out, nil
		}
		cur = next
	}
}

func listAllStudentRegistrations(ctx context.Context, repo *postgres.Repository, studentID uuid.UUID) ([]domain.Registration, error) {
	var (
		cur *domain.KeysetCursor
		out []domain.Registration
	)
	for {
		items, next, err := repo.ListStudentRegistrations(ctx, studentID, 100, cur)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if next == nil || len(items) == 0 {
			return out, nil
		}
		cur = next
	}
}
