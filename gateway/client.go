package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"codexgate/session"
)

// Client is a Go client for the gateway. Non-streaming calls (health,
// legacy) go through a retrying HTTP client; the stream endpoints use a
// plain client since a retry would re-run the execution.
type Client struct {
	Logger *zap.SugaredLogger

	baseURL                  string
	apiKey                   string
	waitInterval             time.Duration
	customizeRetryableClient func(*retryablehttp.Client)

	retryClient *retryablehttp.Client
	httpClient  *http.Client
}

type ClientOption func(c *Client)

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithClientAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewClient builds a client for the gateway at baseURL (e.g.
// "http://127.0.0.1:8080").
func NewClient(log *zap.SugaredLogger, baseURL string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		Logger:       log.Named("gateway_client"),
		baseURL:      strings.TrimRight(baseURL, "/"),
		waitInterval: 100 * time.Millisecond,
		httpClient:   &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 10 * time.Millisecond
	}
	retryClient.RetryMax = 10
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}
	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}
	c.retryClient = retryClient

	return c, nil
}

func (c *Client) authorize(h http.Header) {
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// Health checks the gateway's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := retryablehttp.NewRequest(http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	req = req.WithContext(ctx)
	resp, err := c.retryClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending health request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}
	if body.Status != "healthy" {
		return fmt.Errorf("unexpected health status %q", body.Status)
	}
	return nil
}

// WaitForServer blocks until the gateway answers health checks or the
// context expires.
func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		if err := c.Health(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ExecStream starts an execution and returns its event stream, parsed from
// the gateway's SSE response. The channel closes when the server ends the
// stream.
func (c *Client) ExecStream(ctx context.Context, execReq session.Request) (<-chan session.Event, error) {
	body, err := json.Marshal(execReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling exec request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/exec/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building exec request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending exec request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("exec returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	events := make(chan session.Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		if err := readSSE(resp.Body, events); err != nil {
			c.Logger.Debugf("error reading SSE stream: %s", err)
		}
	}()
	return events, nil
}

// readSSE parses a text/event-stream body, sending one session.Event per
// frame until EOF.
func readSSE(r io.Reader, events chan<- session.Event) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name != "" || len(data) > 0 {
				events <- session.Event{Name: session.EventName(name), Data: strings.Join(data, "\n")}
			}
			name = ""
			data = nil
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}

// ExecWS starts an execution over the WebSocket endpoint and returns its
// event stream. The channel closes when the server closes the connection.
func (c *Client) ExecWS(ctx context.Context, execReq session.Request) (<-chan session.Event, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/api/v1/exec/ws"
	header := http.Header{}
	c.authorize(header)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dialing exec WebSocket: %w", err)
	}
	if err := wsjson.Write(ctx, conn, execReq); err != nil {
		conn.Close(websocket.StatusInternalError, "writing exec request")
		return nil, fmt.Errorf("writing exec request: %w", err)
	}

	events := make(chan session.Event)
	go func() {
		defer close(events)
		for {
			var ev wsEvent
			err := wsjson.Read(ctx, conn, &ev)
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err != nil {
				c.Logger.Debugf("error reading event: %s", err)
				conn.Close(websocket.StatusInternalError, "read error")
				return
			}
			events <- session.Event{Name: session.EventName(ev.Event), Data: ev.Data}
		}
	}()
	return events, nil
}
