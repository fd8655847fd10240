package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/costlens/costlens/internal/core/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []fileEntry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []fileEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e fileEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestFileAuditor_RecordsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	a, err := NewFileAuditor(path)
	require.NoError(t, err)

	a.Record(context.Background(), port.AuditEntry{
		Tool:         "run_query",
		SQL:          "SELECT 1",
		Verdict:      "VALID",
		RowsReturned: 1,
		DurationMS:   12,
	})
	a.Record(context.Background(), port.AuditEntry{
		Tool:     "pipeline",
		Question: "drop the table please",
		SQL:      "DROP TABLE cost_analysis",
		Verdict:  "INVALID: forbidden keyword DROP",
		Err:      errors.New("query rejected: forbidden keyword DROP"),
	})
	require.NoError(t, a.Close())

	entries := readLines(t, path)
	require.Len(t, entries, 2)

	assert.Equal(t, "run_query", entries[0].Tool)
	assert.Equal(t, "VALID", entries[0].Verdict)
	assert.Equal(t, 1, entries[0].RowsReturned)
	assert.Nil(t, entries[0].Error)
	assert.NotEmpty(t, entries[0].Timestamp)

	assert.Equal(t, "pipeline", entries[1].Tool)
	assert.Equal(t, "drop the table please", entries[1].Question)
	assert.Equal(t, "INVALID: forbidden keyword DROP", entries[1].Verdict)
	require.NotNil(t, entries[1].Error)
	assert.Contains(t, *entries[1].Error, "forbidden keyword")
}

func TestFileAuditor_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")

	for i := 0; i < 2; i++ {
		a, err := NewFileAuditor(path)
		require.NoError(t, err)
		a.Record(context.Background(), port.AuditEntry{Tool: "run_query", SQL: "SELECT 1", Verdict: "VALID"})
		require.NoError(t, a.Close())
	}

	assert.Len(t, readLines(t, path), 2)
}

func TestFileAuditor_ConcurrentRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	a, err := NewFileAuditor(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Record(context.Background(), port.AuditEntry{Tool: "run_query", SQL: "SELECT 1", Verdict: "VALID"})
		}()
	}
	wg.Wait()
	require.NoError(t, a.Close())

	// Every line must be well-formed JSON; interleaved writes would corrupt it.
	assert.Len(t, readLines(t, path), 20)
}

func TestFileAuditor_BadPath(t *testing.T) {
	_, err := NewFileAuditor(filepath.Join(t.TempDir(), "missing", "audit.ndjson"))
	require.Error(t, err)
}
