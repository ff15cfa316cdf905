package db

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/encoderlog/internal/encoder"
	"github.com/banshee-data/encoderlog/internal/monitoring"
)

func quiet(t *testing.T) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	quiet(t)

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testRecords(n int) []encoder.MeasurementRecord {
	out := make([]encoder.MeasurementRecord, n)
	for i := range out {
		out[i] = encoder.MeasurementRecord{
			Sequence:      uint64(i + 1),
			CoarseDigits:  "13D490",
			CoarseAngle:   90 + float64(i),
			FineDigits:    "014000",
			FineAngle:     -90,
			IndexAngle:    -180,
			CoarseCommand: int64(i),
			FineCommand:   -int64(i),
			InnerDigits:   "0000",
		}
	}
	return out
}

// TestPragmasApplied verifies that essential PRAGMAs are set on all databases
func TestPragmasApplied(t *testing.T) {
	db := setupTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var synchronous int
	require.NoError(t, db.QueryRow("PRAGMA synchronous").Scan(&synchronous))
	assert.Equal(t, 1, synchronous) // 1 = NORMAL

	var tempStore int
	require.NoError(t, db.QueryRow("PRAGMA temp_store").Scan(&tempStore))
	assert.Equal(t, 2, tempStore) // 2 = MEMORY

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestMigrations(t *testing.T) {
	db := setupTestDB(t)
	migrations := MigrationsFS()

	latest, err := LatestMigrationVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	version, dirty, err := db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateDown(migrations))
	version, _, err = db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='measurements'`).Scan(&count))
	assert.Equal(t, 0, count)

	require.NoError(t, db.MigrateUp(migrations))
	require.NoError(t, db.MigrateUp(migrations), "up at latest is a no-op")

	require.NoError(t, db.MigrateTo(migrations, 1))
	require.NoError(t, db.MigrateForce(migrations, 2))
	version, dirty, err = db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
}

func TestOpenDBLeavesSchemaAlone(t *testing.T) {
	quiet(t)

	db, err := OpenDB(filepath.Join(t.TempDir(), "bare.db"))
	require.NoError(t, err)
	defer db.Close()

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)
}

func TestRunLifecycle(t *testing.T) {
	db := setupTestDB(t)
	start := time.Date(2025, 3, 1, 12, 0, 0, 123, time.UTC)

	run, err := db.StartRun("bench-a", "/dev/ttyUSB0", start)
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)

	got, err := db.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "bench-a", got.Name)
	assert.True(t, got.StartedAt.Equal(start))
	assert.Nil(t, got.FinishedAt)

	end := start.Add(10 * time.Minute)
	require.NoError(t, db.FinishRun(run.ID, RunOutcome{FinishedAt: end, Frames: 600000, DecodeErrors: 3, StopReason: "deadline"}))

	got, err = db.GetRun(run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(end))
	assert.Equal(t, uint64(600000), got.Frames)
	assert.Equal(t, uint64(3), got.DecodeErrors)
	assert.Equal(t, "deadline", got.StopReason)

	_, err = db.StartRun("bench-b", "replay", start.Add(time.Hour))
	require.NoError(t, err)
	runs, err := db.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "bench-b", runs[0].Name)

	assert.ErrorIs(t, db.FinishRun("missing", RunOutcome{FinishedAt: end}), ErrRunNotFound)
	_, err = db.GetRun("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRecordSinkBatches(t *testing.T) {
	db := setupTestDB(t)
	run, err := db.StartRun("batch", "sim", time.Now())
	require.NoError(t, err)

	sink := db.NewRecordSink(run.ID, 2)
	records := testRecords(5)
	for _, rec := range records {
		require.NoError(t, sink.Write(rec))
	}
	assert.Equal(t, uint64(4), sink.Written())

	stored, err := db.Measurements(run.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.Equal(t, uint64(5), sink.Written())
	assert.Error(t, sink.Write(records[0]))

	stored, err = db.Measurements(run.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(records, stored); diff != "" {
		t.Errorf("measurements mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordSinkRejectsUnknownRun(t *testing.T) {
	db := setupTestDB(t)
	sink := db.NewRecordSink("no-such-run", 1)
	assert.Error(t, sink.Write(testRecords(1)[0]))
}

func TestRunMigrateCommand(t *testing.T) {
	quiet(t)
	path := filepath.Join(t.TempDir(), "cli.db")

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "up to date")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"down"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "1 version(s) behind")

	require.NoError(t, RunMigrateCommand([]string{"version", "2"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"version"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"version", "x"}, path, &out))
	assert.ErrorIs(t, RunMigrateCommand([]string{"sideways"}, path, &out), ErrUnknownMigrateAction)
	assert.ErrorIs(t, RunMigrateCommand(nil, path, &out), ErrUnknownMigrateAction)

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"help"}, path, &out))
	assert.Contains(t, out.String(), "Database Migration Commands")
}

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.StartRun("admin", "sim", time.Now())
	require.NoError(t, err)

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/runs"))
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "admin", runs[0].Name)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/runs?limit=-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/backup"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())
}
