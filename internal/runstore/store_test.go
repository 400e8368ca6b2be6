package runstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixci/internal/config"
	"matrixci/internal/core"
	"matrixci/internal/matrix"
)

func sampleRun(start time.Time, status core.RunStatus) *core.RunResult {
	return &core.RunResult{
		ID:       uuid.New(),
		Workflow: "tests",
		Status:   status,
		Jobs: []core.JobResult{{
			Index:  0,
			Name:   "tests (ubuntu-latest, pyqt5)",
			Matrix: matrix.Combination{"os": "ubuntu-latest", "toolkit": "pyqt5"},
			Host:   core.Host{Name: "ubuntu-latest", OS: "Linux"},
			Status: core.JobPassed,
			Steps: []core.StepResult{
				{Name: "Run tests", Status: core.StepPassed, Output: "OK\n", Duration: 1500 * time.Millisecond},
				{Name: "Start display server", Status: core.StepSkipped},
			},
		}},
		Notification: &core.NotificationRecord{Outcome: core.RunSucceeded, Status: "success", Color: "good"},
		StartedAt:    start,
	}
}

// exerciseStore runs the behavior every backend must share.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Get(ctx, uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	older := sampleRun(base, core.RunRunning)
	newer := sampleRun(base.Add(time.Minute), core.RunSucceeded)
	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, newer))

	got, err := s.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunRunning, got.Status)
	assert.Equal(t, "pyqt5", got.Jobs[0].Matrix["toolkit"])
	assert.Equal(t, 1500*time.Millisecond, got.Jobs[0].Steps[0].Duration)
	assert.True(t, older.StartedAt.Equal(got.StartedAt))

	// saving again replaces the record
	older.Status = core.RunFailed
	older.FinishedAt = base.Add(2 * time.Minute)
	require.NoError(t, s.Save(ctx, older))
	got, err = s.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunFailed, got.Status)

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)

	list, err = s.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, newer.ID, list[0].ID)

	assert.Error(t, s.Save(ctx, nil))
}

func TestMemory(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	exerciseStore(t, s)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	s := NewMemory()
	run := sampleRun(time.Now().UTC(), core.RunRunning)
	require.NoError(t, s.Save(context.Background(), run))

	run.Status = core.RunFailed
	got, err := s.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunRunning, got.Status)
}

func TestRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s, err := NewRedis(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
	assert.True(t, mr.Exists(runIndexKey))
}

func TestRedis_ConnectError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedis(context.Background(), addr, "", 0)
	assert.Error(t, err)
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("MATRIXCI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MATRIXCI_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn, 4, 0)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.pool.Exec(ctx, "TRUNCATE runs")
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestOpen(t *testing.T) {
	var cfg config.Config
	cfg.Store.Backend = "memory"
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	cfg.Store.Backend = "redis"
	cfg.Redis.Addr = mr.Addr()
	s, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, s)
	_ = s.Close()

	cfg.Store.Backend = "etcd"
	_, err = Open(context.Background(), cfg)
	assert.Error(t, err)
}
