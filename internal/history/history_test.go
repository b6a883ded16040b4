// Package history tests cover appending and aggregation.
package history

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndUsage(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "h", "ai_history.jsonl"))
	calls := []Record{
		{Username: "alice", Model: "gemini-2.5-flash"},
		{Username: "alice", Model: "gpt-5-mini"},
		{Username: "bob", Model: "gpt-5-mini"},
		{Model: "serpapi"},
	}
	for _, c := range calls {
		r, err := l.Append(c)
		require.NoError(t, err)
		_, err = uuid.Parse(r.ID)
		assert.NoError(t, err)
		assert.False(t, r.Timestamp.IsZero())
	}

	u, err := l.Usage()
	require.NoError(t, err)
	assert.Equal(t, 4, u.TotalCalls)
	assert.Equal(t, 2, u.UniqueUsers)
	assert.Equal(t, map[string]int{"gemini-2.5-flash": 1, "gpt-5-mini": 2, "serpapi": 1}, u.ModelsStats)
	assert.Equal(t, 1, u.UsersStats[Anonymous])

	recent, err := l.Recent("alice", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "gpt-5-mini", recent[0].Model)
}

func TestUsageSkipsCorruptLines(t *testing.T) {
	p := filepath.Join(t.TempDir(), "h.jsonl")
	require.NoError(t, os.WriteFile(p, []byte("{\"username\":\"a\",\"model\":\"m\"}\nnot json\n\n"), 0o600))
	u, err := Open(p).Usage()
	require.NoError(t, err)
	assert.Equal(t, 1, u.TotalCalls)
}

func TestUsageMissingFile(t *testing.T) {
	u, err := Open(filepath.Join(t.TempDir(), "none.jsonl")).Usage()
	require.NoError(t, err)
	assert.Zero(t, u.TotalCalls)
	assert.NotNil(t, u.ModelsStats)
}

func TestConcurrentAppend(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "h.jsonl"))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Append(Record{Username: "alice", Model: "m"})
		}()
	}
	wg.Wait()
	u, err := l.Usage()
	require.NoError(t, err)
	assert.Equal(t, 20, u.TotalCalls)
}
