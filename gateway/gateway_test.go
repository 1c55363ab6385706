package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"codexgate/session"
)

var log *zap.SugaredLogger

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	log = l.Sugar()
}

const resultLine = `{"jsonrpc":"2.0","id":2,"result":{"output":"hi"}}`

// writeFakeAppServer writes an executable shell script standing in for the
// app server binary.
func writeFakeAppServer(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-app-server")
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755)
	require.NoError(t, err)
	return path
}

// startGateway serves a gateway backed by a fake app server on an ephemeral
// port and returns its base URL.
func startGateway(t *testing.T, script string, opts ...Option) string {
	t.Helper()

	runner, err := session.NewRunner(session.WithBinaryPath(writeFakeAppServer(t, script)))
	require.NoError(t, err)

	g, err := New(runner, opts...)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go g.Serve(ln)
	t.Cleanup(func() {
		require.NoError(t, g.Stop())
	})

	return "http://" + ln.Addr().String()
}

func newTestClient(t *testing.T, baseURL string, opts ...ClientOption) *Client {
	t.Helper()
	client, err := NewClient(log, baseURL, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.WaitForServer(ctx))
	return client
}

func collect(t *testing.T, events <-chan session.Event) []session.Event {
	t.Helper()
	var out []session.Event
	timeout := time.After(30 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out draining event channel")
		}
	}
}

func TestHealth(t *testing.T) {
	baseURL := startGateway(t, "exit 0")
	client := newTestClient(t, baseURL)
	require.NoError(t, client.Health(context.Background()))
}

func TestLegacyEndpointRejects(t *testing.T) {
	baseURL := startGateway(t, "exit 0")
	newTestClient(t, baseURL)

	body, err := json.Marshal(session.Request{Prompt: "p"})
	require.NoError(t, err)
	resp, err := http.Post(baseURL+"/api/v1/exec", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Contains(t, errResp.Error, "/api/v1/exec/stream")
	require.NotNil(t, errResp.RecommendedEndpoint)
	assert.Equal(t, "/api/v1/exec/stream", *errResp.RecommendedEndpoint)
	assert.Equal(t, http.StatusUnprocessableEntity, errResp.Status)
}

func TestAuth(t *testing.T) {
	baseURL := startGateway(t, "exit 0", WithAPIKey("secret"))
	newTestClient(t, baseURL) // health is not authed

	body, err := json.Marshal(session.Request{Prompt: "p"})
	require.NoError(t, err)

	post := func(authorization string) int {
		req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/exec", bytes.NewReader(body))
		require.NoError(t, err)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, post(""))
	assert.Equal(t, http.StatusUnauthorized, post("Bearer wrong"))
	assert.Equal(t, http.StatusUnauthorized, post("Basic secret"))
	// a valid key reaches the handler, which answers 422
	assert.Equal(t, http.StatusUnprocessableEntity, post("Bearer secret"))
}

func TestExecStream(t *testing.T) {
	baseURL := startGateway(t, "echo '"+resultLine+"'")
	client := newTestClient(t, baseURL)

	events, err := client.ExecStream(context.Background(), session.Request{Prompt: "echo hi", TimeoutMS: 5000})
	require.NoError(t, err)
	evs := collect(t, events)

	require.NotEmpty(t, evs)
	assert.Equal(t, session.EventTaskStarted, evs[0].Name)
	assert.Equal(t, session.EventTaskCompleted, evs[len(evs)-1].Name)

	var results []session.Event
	for _, ev := range evs {
		if ev.Name == session.EventTaskResult {
			results = append(results, ev)
		}
	}
	require.Len(t, results, 1)
	assert.JSONEq(t, `{"output":"hi"}`, results[0].Data)
}

func TestExecStreamWithAuth(t *testing.T) {
	baseURL := startGateway(t, "echo '"+resultLine+"'", WithAPIKey("secret"))
	client := newTestClient(t, baseURL, WithClientAPIKey("secret"))

	events, err := client.ExecStream(context.Background(), session.Request{Prompt: "p", TimeoutMS: 5000})
	require.NoError(t, err)
	evs := collect(t, events)
	require.NotEmpty(t, evs)
	assert.Equal(t, session.EventTaskCompleted, evs[len(evs)-1].Name)
}

func TestExecStreamEmptyPrompt(t *testing.T) {
	baseURL := startGateway(t, "exit 0")
	client := newTestClient(t, baseURL)

	_, err := client.ExecStream(context.Background(), session.Request{})
	require.ErrorContains(t, err, "request contained no prompt")
}

func TestExecWS(t *testing.T) {
	baseURL := startGateway(t, "echo '"+resultLine+"'")
	client := newTestClient(t, baseURL)

	events, err := client.ExecWS(context.Background(), session.Request{Prompt: "echo hi", TimeoutMS: 5000})
	require.NoError(t, err)
	evs := collect(t, events)

	require.NotEmpty(t, evs)
	assert.Equal(t, session.EventTaskStarted, evs[0].Name)
	assert.Equal(t, session.EventTaskCompleted, evs[len(evs)-1].Name)
}

func TestRateLimit(t *testing.T) {
	baseURL := startGateway(t, "exit 0", WithRateLimit(0.001, 1))
	newTestClient(t, baseURL)

	body, err := json.Marshal(session.Request{Prompt: "p"})
	require.NoError(t, err)

	post := func() int {
		resp, err := http.Post(baseURL+"/api/v1/exec", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnprocessableEntity, post())
	assert.Equal(t, http.StatusTooManyRequests, post())
}

func TestClientCustomizeRetryable(t *testing.T) {
	baseURL := startGateway(t, "exit 0")
	client, err := NewClient(log, baseURL, WithCustomizeRetryableClient(func(r *retryablehttp.Client) {
		r.RetryMax = 0
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.WaitForServer(ctx))
}
