package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/market-data/internal/observ"
)

func TestLog_WritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	require.NoError(t, l.Log(context.Background(), "user-42", "market_data.lookup", map[string]any{
		"location": "cape town",
		"source":   "provider",
	}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "market_data.lookup", got["action"])
	assert.Equal(t, "user-42", got["user_id"])
	_, err := uuid.Parse(got["id"].(string))
	assert.NoError(t, err)

	meta, ok := got["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cape town", meta["location"])
}

func TestLog_UniqueIDs(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Log(context.Background(), "u", "a", nil))
	}

	seen := map[string]bool{}
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		id := line["id"].(string)
		assert.False(t, seen[id])
		seen[id] = true
		assert.NotContains(t, line, "metadata")
	}
	assert.Len(t, seen, 3)
}

func TestOpen_AppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	for i := 0; i < 2; i++ {
		l, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, l.Log(context.Background(), "u", "market_data.lookup", nil))
		require.NoError(t, l.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestLog_ReportsWriteErrors(t *testing.T) {
	observ.Reset()
	t.Cleanup(observ.Reset)

	diskFull := errors.New("no space left on device")
	l := New(failingWriter{err: diskFull})

	err := l.Log(context.Background(), "u", "market_data.lookup", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, diskFull)
	assert.Equal(t, int64(1), observ.CounterValue("audit_write_errors_total"))
	assert.Zero(t, observ.CounterValue("audit_entries_total"))
}
