package logview

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuha-project/yuha-go/pkg/log"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ylog")

	logger, err := log.NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range events {
		logger.Log(e)
	}
	require.NoError(t, logger.Close())
	return path
}

func sampleEvents() []log.Event {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	rtt := 2333 * time.Microsecond
	return []log.Event{
		{
			Timestamp: ts, ConnectionID: "abc12345-6789", Transport: "tcp", RemoteAddr: "10.0.0.2:7421",
			Layer: log.LayerConnection, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{OldState: "connecting", NewState: "connected", Reason: "attempt 1"},
		},
		{
			Timestamp: ts.Add(time.Millisecond), ConnectionID: "abc12345-6789", Transport: "tcp",
			Direction: log.DirectionOut, Layer: log.LayerTransport, Category: log.CategoryMessage,
			Frame: &log.FrameEvent{Size: 20, Data: []byte{0xa1, 0x01}},
		},
		{
			Timestamp: ts.Add(time.Millisecond), ConnectionID: "abc12345-6789", Transport: "tcp",
			Direction: log.DirectionOut, Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Type: log.MessageTypeRequest, Operation: "get_clipboard"},
		},
		{
			Timestamp: ts.Add(3 * time.Millisecond), ConnectionID: "abc12345-6789", Transport: "tcp",
			Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Type: log.MessageTypeResponse, ResponseType: "data", ItemCount: 1, Duration: &rtt},
		},
		{
			Timestamp: ts.Add(2 * time.Second), ConnectionID: "ffff0000-1111", Transport: "local",
			Direction: log.DirectionIn, Layer: log.LayerTransport, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerTransport, Message: "unexpected EOF", Context: "receive"},
		},
	}
}

func TestFormatEvents(t *testing.T) {
	events := sampleEvents()
	tests := []struct {
		name  string
		event log.Event
		want  []string
	}{
		{"state", events[0], []string{
			"2026-01-28T10:15:32.123456Z [conn:abc12345] IN  CONNECTION State",
			"Transport: tcp (10.0.0.2:7421)", "connecting -> connected", "Reason: attempt 1",
		}},
		{"frame", events[1], []string{"OUT TRANSPORT Frame", "Size: 20 bytes", "Data: a101"}},
		{"request", events[2], []string{"OUT WIRE REQUEST", "Operation: get_clipboard"}},
		{"response", events[3], []string{"IN  WIRE RESPONSE", "Response: data", "Items: 1", "Duration: 2.333ms"}},
		{"error", events[4], []string{"[conn:ffff0000]", "Message: unexpected EOF", "Context: receive"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			formatEvent(&buf, tt.event)
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0.500us", formatDuration(500*time.Nanosecond))
	assert.Equal(t, "1.500ms", formatDuration(1500*time.Microsecond))
	assert.Equal(t, "2.000s", formatDuration(2*time.Second))
}

func TestParseFlags(t *testing.T) {
	l, err := ParseLayer("WIRE")
	require.NoError(t, err)
	assert.Equal(t, log.LayerWire, l)
	_, err = ParseLayer("service")
	assert.Error(t, err)

	d, err := ParseDirection("out")
	require.NoError(t, err)
	assert.Equal(t, log.DirectionOut, d)
	_, err = ParseDirection("sideways")
	assert.Error(t, err)

	c, err := ParseCategory("State")
	require.NoError(t, err)
	assert.Equal(t, log.CategoryState, c)
	_, err = ParseCategory("control")
	assert.Error(t, err)
}

func TestCriteriaFilter(t *testing.T) {
	f, err := Criteria{ConnID: "abc", Layer: "wire", Direction: "in", TimeStart: "2026-01-28T10:00:00Z"}.Filter()
	require.NoError(t, err)
	assert.Equal(t, "abc", f.ConnectionID)
	require.NotNil(t, f.Layer)
	assert.Equal(t, log.LayerWire, *f.Layer)
	require.NotNil(t, f.Direction)
	assert.Equal(t, log.DirectionIn, *f.Direction)
	require.NotNil(t, f.TimeStart)
	assert.Nil(t, f.TimeEnd)
	assert.Nil(t, f.Category)

	_, err = Criteria{TimeEnd: "yesterday"}.Filter()
	assert.Error(t, err)
	_, err = Criteria{Category: "nope"}.Filter()
	assert.Error(t, err)
}

func TestRunViewFilters(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	layer := log.LayerWire

	var buf bytes.Buffer
	require.NoError(t, RunView(path, log.Filter{Layer: &layer}, &buf))

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, " WIRE "))
	assert.NotContains(t, out, "TRANSPORT")
	assert.NotContains(t, out, "CONNECTION")
}

func TestRunViewMissingFile(t *testing.T) {
	err := RunView(filepath.Join(t.TempDir(), "missing.ylog"), log.Filter{}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestCollect(t *testing.T) {
	stats, err := Collect(createTestLogFile(t, sampleEvents()))
	require.NoError(t, err)

	assert.Equal(t, 5, stats.TotalEvents)
	assert.Equal(t, 2, stats.EventsByLayer[log.LayerWire])
	assert.Equal(t, 2, stats.EventsByLayer[log.LayerTransport])
	assert.Equal(t, 1, stats.EventsByCategory[log.CategoryState])
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, map[string]int{"get_clipboard": 1}, stats.Operations)
	require.Len(t, stats.Connections, 2)

	conn := stats.Connections["abc12345-6789"]
	require.NotNil(t, conn)
	assert.Equal(t, 4, conn.Events)
	assert.Equal(t, "tcp", conn.Transport)
	assert.Equal(t, "10.0.0.2:7421", conn.RemoteAddr)
	assert.Equal(t, 2333*time.Microsecond, conn.AverageRoundTrip())
	assert.Zero(t, stats.Connections["ffff0000-1111"].AverageRoundTrip())
}

func TestRunStats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RunStats(createTestLogFile(t, sampleEvents()), &buf))

	out := buf.String()
	assert.Contains(t, out, "Total Events: 5")
	assert.Contains(t, out, "CONNECTION:")
	assert.Contains(t, out, "get_clipboard:")
	assert.Contains(t, out, "Connections: 2")
	assert.Contains(t, out, "[abc12345] 4 events")
	assert.Contains(t, out, "Round trip: 1 timed, avg 2.333ms")
	assert.Contains(t, out, "Errors: 1")
}

func TestRunStatsEmptyFile(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RunStats(createTestLogFile(t, nil), &buf))
	assert.Contains(t, buf.String(), "Total Events: 0")
	assert.NotContains(t, buf.String(), "Time Range")
}

func TestExportJSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RunExport(createTestLogFile(t, sampleEvents()), "jsonl", log.Filter{}, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)

	var event log.Event
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &event))
	require.NotNil(t, event.Message)
	assert.Equal(t, "get_clipboard", event.Message.Operation)
	assert.Equal(t, "abc12345-6789", event.ConnectionID)
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RunExport(createTestLogFile(t, sampleEvents()), "csv", log.Filter{}, &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{
		"2026-01-28T10:15:32.124456Z", "abc12345-6789", "tcp", "OUT", "TRANSPORT", "MESSAGE", "Frame", "", "", "20",
	}, rows[2])
	assert.Equal(t, "get_clipboard", rows[3][7])
	assert.Equal(t, "data", rows[4][8])
}

func TestExportUnknownFormat(t *testing.T) {
	err := RunExport(createTestLogFile(t, nil), "xml", log.Filter{}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown format")
}

func TestRunFilter(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.ylog")

	n, err := RunFilter(path, out, log.Filter{ConnectionID: "ffff0000-1111"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := Collect(out)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEvents)
	assert.Equal(t, 1, stats.Errors)
}
