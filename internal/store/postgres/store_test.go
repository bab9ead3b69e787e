package postgres

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/shrimpsizemoose/taslim/internal/models"
	"github.com/shrimpsizemoose/taslim/internal/store"
)

// setupTestDB starts a throwaway Postgres and applies the real migrations.
func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	ctx := context.Background()

	container, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_DB":       "testdb",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := NewPostgresStore(&store.DBConfig{DSN: dsn, MigrationsDir: "../../../migrations"})
	require.NoError(t, err, "Failed to create store")

	_, err = s.DB.Exec(`INSERT INTO sections (id, name) VALUES (1, 'أول أ')`)
	require.NoError(t, err)
	_, err = s.DB.Exec(`INSERT INTO projects (id, section_id, title, submission_duration_min) VALUES (7, 1, 'بحث', 15)`)
	require.NoError(t, err)
	_, err = s.DB.Exec(`INSERT INTO students (id, section_id, full_name, normalized_name) VALUES (3, 1, 'محمد أحمد علي حسن', 'محمد احمد علي حسن')`)
	require.NoError(t, err)

	cleanup := func() {
		s.Close()
		container.Terminate(ctx)
	}

	return s, cleanup
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT a FROM b WHERE c = $1 AND d IN ($2, $3)", rebind("SELECT a FROM b WHERE c = ? AND d IN (?, ?)"))
	assert.Equal(t, "SELECT 1", rebind("SELECT 1"))
}

func TestOTPLifecycle(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	client := models.ClientInfo{IP: "10.0.0.1"}

	var wg sync.WaitGroup
	ids := make([]int64, 6)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			otp, _, err := s.CreatePending(ctx, store.CreatePendingParams{ProjectID: 7, StudentID: 3, StudentName: "محمد أحمد علي حسن"})
			require.NoError(t, err)
			ids[i] = otp.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id, "advisory lock keeps one active record")
	}

	otp, err := s.GetOTP(ctx, ids[0])
	require.NoError(t, err)
	res, err := s.TryVerify(ctx, otp.ID, otp.Code, client)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, res.ExpiresIn)

	var okCount, usedCount int
	var mu sync.Mutex
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.ConsumeForSubmission(ctx, res.SubmitToken, client, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				okCount++
			} else if errors.Is(err, models.ErrOTPAlreadyUsed) {
				usedCount++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, okCount)
	assert.Equal(t, 5, usedCount)
}

func TestTryVerifyConcurrentWrongCodes(t *testing.T) {
	s, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	client := models.ClientInfo{IP: "10.0.0.2"}

	otp, _, err := s.CreatePending(ctx, store.CreatePendingParams{ProjectID: 7, StudentID: 3, StudentName: "محمد أحمد علي حسن"})
	require.NoError(t, err)
	wrong := "000000"
	if otp.Code == wrong {
		wrong = "111111"
	}

	const n = 12
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		mismatches int
		expired    int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TryVerify(ctx, otp.ID, wrong, client)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, models.ErrOTPExpired) {
				expired++
			} else if e, ok := models.AsError(err); ok && e.Code == models.CodeCodeMismatch {
				mismatches++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, otp.MaxAttempts, mismatches)
	assert.Equal(t, n-otp.MaxAttempts, expired)

	stored, err := s.GetOTP(ctx, otp.ID)
	require.NoError(t, err)
	assert.Equal(t, otp.MaxAttempts, stored.Attempts)
	assert.Equal(t, models.OTPStatusExpired, stored.Status)

	logs, err := s.ListLogs(ctx, otp.ID)
	require.NoError(t, err)
	failed := 0
	for _, e := range logs {
		if e.Action == models.ActionVerifyFailed {
			failed++
		}
	}
	assert.Equal(t, otp.MaxAttempts, failed)
}

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() || os.Getenv("POSTGRES_TESTS") == "" {
		log.Println("Skipping Postgres integration tests. Set POSTGRES_TESTS=1 to run them.")
		os.Exit(0)
	}
	log.Println("Starting Postgres store tests...")
	code := m.Run()
	log.Println("Finished Postgres store tests")
	os.Exit(code)
}
