package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogWritesNewlineDelimitedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	logger, err := New(path, 1, 1, false)
	require.NoError(t, err)

	require.NoError(t, logger.Log(Entry{Action: "submit", JobID: "job-1", Result: "queued"}))
	require.NoError(t, logger.Log(Entry{Action: "cancel", JobID: "job-1", Result: "cancelled"}))
	require.NoError(t, logger.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)

	var first Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "submit", first.Action)
	require.False(t, first.Timestamp.IsZero())
}
