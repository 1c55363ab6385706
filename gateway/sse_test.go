package gateway

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codexgate/session"
)

func TestSSERoundTrip(t *testing.T) {
	in := []session.Event{
		{Name: session.EventTaskStarted, Data: `{"session_id":"s","status":"initializing"}`},
		{Name: session.EventStdoutLine, Data: "plain text line"},
		{Name: session.EventTaskResult, Data: "multi\nline\npayload"},
		{Name: session.EventTaskCompleted, Data: `{"exit_code":0}`},
	}

	var buf bytes.Buffer
	for _, ev := range in {
		require.NoError(t, writeSSE(&buf, ev))
	}

	events := make(chan session.Event, len(in))
	require.NoError(t, readSSE(&buf, events))
	close(events)

	var out []session.Event
	for ev := range events {
		out = append(out, ev)
	}
	assert.Equal(t, in, out)
}

func TestWriteSSEFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSSE(&buf, session.Event{Name: session.EventStdoutLine, Data: "hello"}))
	assert.Equal(t, "event: stdout_line\ndata: hello\n\n", buf.String())
}
