package logger

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestJSONFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "desk.log")
	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	l.Debug("hidden")
	l.With(String("symbol", "EURUSD-OTC")).Info("tick",
		Float64("price", 1.0842),
		Int64("seq", 7),
		Duration("lag", 1500*time.Millisecond),
		Bool("manual", true),
	)
	l.Error("settle failed", Error(errors.New("boom")))

	lines := readLines(t, path)
	require.Len(t, lines, 2)

	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "EURUSD-OTC", lines[0]["symbol"])
	assert.Equal(t, 1.0842, lines[0]["price"])
	assert.Equal(t, float64(7), lines[0]["seq"])
	assert.Equal(t, float64(1500), lines[0]["lag"])
	assert.Equal(t, true, lines[0]["manual"])
	assert.Contains(t, lines[0]["caller"], "logger_test.go")

	assert.Equal(t, "error", lines[1]["level"])
	assert.Equal(t, "boom", lines[1]["error"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stdout"})
	assert.Error(t, err)
}

func TestFieldPlainValues(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "2026-01-02T03:04:05Z", Time("at", at).plain())
	assert.Nil(t, Error(nil).plain())
	assert.Equal(t, "a, b", Strings("ids", []string{"a", "b"}).plain())
}
