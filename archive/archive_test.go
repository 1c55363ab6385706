package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() Record {
	return Record{
		SessionID:       "sess-1",
		Prompt:          "echo hi",
		ExitCode:        0,
		Status:          StatusCompleted,
		ExecutionTimeMS: 42,
		Stdout:          []string{"line one", "line two"},
		Stderr:          []string{"warn"},
		Timestamp:       time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		Metadata:        map[string]any{},
	}
}

func TestObjectName(t *testing.T) {
	rec := testRecord()
	assert.Equal(t, "sessions/sess-1-2024-05-01T12:30:00Z.json", ObjectName(rec))
}

func TestNopStore(t *testing.T) {
	require.NoError(t, NopStore{}.Save(context.Background(), testRecord()))
}

func TestDirStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewDirStore(dir)
	rec := testRecord()

	require.NoError(t, store.Save(context.Background(), rec))

	b, err := os.ReadFile(filepath.Join(dir, ObjectName(rec)))
	require.NoError(t, err)
	var got Record
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, rec.SessionID, got.SessionID)
	assert.Equal(t, rec.Prompt, got.Prompt)
	assert.Equal(t, rec.Status, got.Status)
	assert.Equal(t, rec.Stdout, got.Stdout)
	assert.Equal(t, rec.Stderr, got.Stderr)
	assert.True(t, rec.Timestamp.Equal(got.Timestamp))
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer store.Close()

	rec := testRecord()
	require.NoError(t, store.Save(context.Background(), rec))

	got, err := store.Get(context.Background(), rec.SessionID)
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, got.SessionID)
	assert.Equal(t, rec.Prompt, got.Prompt)
	assert.Equal(t, rec.ExitCode, got.ExitCode)
	assert.Equal(t, rec.Status, got.Status)
	assert.Equal(t, rec.ExecutionTimeMS, got.ExecutionTimeMS)
	assert.Equal(t, rec.Stdout, got.Stdout)
	assert.Equal(t, rec.Stderr, got.Stderr)
	assert.True(t, rec.Timestamp.Equal(got.Timestamp))
}

func TestSQLiteStoreGetMissing(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(context.Background(), "nope")
	require.Error(t, err)
}
