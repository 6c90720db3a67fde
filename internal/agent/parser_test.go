package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamEvent(t *testing.T) {
	ev, err := ParseStreamEvent([]byte(`{"type":"system","subtype":"init","session_id":"abc123","model":"m1"}`))
	require.NoError(t, err)
	assert.Equal(t, EventTypeSystem, ev.Type)
	assert.Equal(t, "abc123", ev.SessionID)
}

func TestParseStreamInitThenResultSuccess(t *testing.T) {
	lines := []string{
		`{"type":"system","subtype":"init","session_id":"sess-1","model":"m1"}`,
		`{"type":"assistant","message":"doing work"}`,
		`{"type":"result","subtype":"success","num_turns":3,"cost_usd":0.01}`,
	}
	r := strings.NewReader(strings.Join(lines, "\n") + "\n")
	p, err := ParseStream(r, nil)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", p.SessionID)
	assert.Equal(t, 3, p.TurnCount)
	assert.Equal(t, ResultSuccess, p.ResultSubtype)
	assert.Contains(t, p.TextOutput.String(), "doing work")
}

func TestParseStreamSkipsMalformedLines(t *testing.T) {
	lines := []string{
		`not json at all`,
		`{"type":"result","subtype":"success"}`,
	}
	r := strings.NewReader(strings.Join(lines, "\n") + "\n")
	p, err := ParseStream(r, nil)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, p.ResultSubtype)
}

func TestParseStreamResultError(t *testing.T) {
	r := strings.NewReader(`{"type":"result","subtype":"error_during_execution","is_error":true,"message":"boom"}` + "\n")
	p, err := ParseStream(r, nil)
	require.NoError(t, err)
	assert.Equal(t, ResultErrorDuringExecution, p.ResultSubtype)
	assert.Equal(t, "boom", p.LastError)
}

func TestParseStreamOnUpdateCalledPerEvent(t *testing.T) {
	lines := []string{
		`{"type":"system","subtype":"init","session_id":"s"}`,
		`{"type":"result","subtype":"success"}`,
	}
	r := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var calls int
	_, err := ParseStream(r, func(Progress) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
