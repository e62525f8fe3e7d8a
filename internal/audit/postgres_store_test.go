package audit

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mbd888/remediation-agent/internal/decisionmaker"
	"github.com/mbd888/remediation-agent/internal/payment"
)

// TestPostgresStoreAgainstContainer spins up a real, disposable Postgres
// via testcontainers-go, applies migrations/, and exercises the store
// against it end to end. Requires a local Docker daemon; skipped when
// none is reachable.
func TestPostgresStoreAgainstContainer(t *testing.T) {
	if os.Getenv("CI_NO_DOCKER") != "" {
		t.Skip("CI_NO_DOCKER set, skipping testcontainers-backed test")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("audit_test"),
		postgres.WithUsername("audit_test"),
		postgres.WithPassword("audit_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	)
	if err != nil {
		t.Skipf("could not start postgres container (no docker daemon?): %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(ctx))

	require.NoError(t, applyMigrations(ctx, db, findMigrationsDir(t)))

	store := NewPostgresStore(db)
	exerciseOutcomeAndDenialStore(t, ctx, store)
}

func exerciseOutcomeAndDenialStore(t *testing.T, ctx context.Context, store interface {
	OutcomeStore
	DenialStore
}) {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Millisecond)
	executedAt := now.Add(time.Second)

	require.NoError(t, store.RecordOutcome(ctx, OutcomeRecord{
		ActionID:           "pg-a1",
		ActionType:         payment.ActionAdjustRetry,
		Target:             "global_retry_strategy",
		RiskLevel:          payment.RiskLow,
		AuthorizationLevel: payment.AuthAutomatic,
		Confidence:         0.82,
		Reasoning:          "retry storm detected",
		EstimatedDelta:     0.11,
		Status:             decisionmaker.StatusExecuted,
		CreatedAt:          now,
		ExecutedAt:         &executedAt,
	}))

	rolledBackAt := executedAt.Add(time.Minute)
	require.NoError(t, store.RecordOutcome(ctx, OutcomeRecord{
		ActionID:       "pg-a1",
		ActionType:     payment.ActionAdjustRetry,
		Status:         decisionmaker.StatusRolledBack,
		ActualDelta:    -0.06,
		CreatedAt:      now,
		ExecutedAt:     &executedAt,
		RolledBackAt:   &rolledBackAt,
		EstimatedDelta: 0.11,
	}))

	outcomes, err := store.RecentOutcomes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, decisionmaker.StatusRolledBack, outcomes[0].Status)
	require.InDelta(t, -0.06, outcomes[0].ActualDelta, 1e-9)
	require.NotNil(t, outcomes[0].ExecutedAt)
	require.NotNil(t, outcomes[0].RolledBackAt)

	require.NoError(t, store.RecordDenial(ctx, DenialRecord{
		PatternType: payment.PatternRetryStorm,
		ActionType:  payment.ActionMethodSuppress,
		Reason:      "manual authorization required, no approver set",
		CreatedAt:   now,
	}))

	denials, err := store.RecentDenials(ctx, 10)
	require.NoError(t, err)
	require.Len(t, denials, 1)
	require.Equal(t, payment.PatternRetryStorm, denials[0].PatternType)
}

// findMigrationsDir walks up from the test's working directory to the
// project-level migrations/ directory, mirroring internal/testutil.PGTest.
func findMigrationsDir(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not find migrations/ directory walking up from cwd")
		}
		dir = parent
	}
}

func applyMigrations(ctx context.Context, db *sql.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name)) // #nosec G304 -- trusted migrations dir
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(data)); err != nil {
			return err
		}
	}
	return nil
}
