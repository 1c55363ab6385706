package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"codexgate/archive"
)

// session is the state for one execution: one child process, one event
// stream, one record. Never reused.
type session struct {
	log     *zap.SugaredLogger
	id      string
	prompt  string
	timeout time.Duration
	binPath string
	store   archive.Store

	start time.Time

	// cmd is shared between the execute goroutine and the deadline killer.
	// It is the only mutable state reachable from more than one goroutine.
	mut sync.Mutex
	cmd *exec.Cmd

	stdout []string
	stderr []string
}

// outcome is what execute hands back to the supervisor. A non-empty
// failure means setup broke (spawn, pipes, stdin write) and the terminal
// event is an error instead of task_completed.
type outcome struct {
	failure  string
	exitCode int
}

type startedPayload struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type completedPayload struct {
	SessionID       string   `json:"session_id"`
	ExitCode        int      `json:"exit_code"`
	ExecutionTimeMS int64    `json:"execution_time_ms"`
	Status          string   `json:"status"`
	Stdout          []string `json:"stdout"`
	Stderr          []string `json:"stderr"`
}

type errorPayload struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Line      string `json:"line,omitempty"`
}

// supervise races the execution against the session deadline. Exactly one
// of three things ends the stream: natural completion, deadline expiry, or
// caller cancellation. In all three the child is reaped before the channel
// closes.
func (s *session) supervise(ctx context.Context, events chan<- Event) {
	defer close(events)

	s.start = time.Now()
	s.emitJSON(ctx, events, EventTaskStarted, startedPayload{SessionID: s.id, Status: "initializing"})

	done := make(chan outcome, 1)
	go func() {
		done <- s.execute(ctx, events)
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		s.finish(ctx, events, out)

	case <-timer.C:
		s.kill()
		<-done
		elapsed := s.timeout.Milliseconds()
		s.log.Warnw("session timed out, child killed", "timeout_ms", elapsed)
		s.emitJSON(ctx, events, EventError, errorPayload{
			SessionID: s.id,
			Error:     "timeout",
			Message:   fmt.Sprintf("subprocess exceeded the %dms deadline and was killed", elapsed),
		})
		s.record(archive.Record{
			SessionID:       s.id,
			Prompt:          s.prompt,
			ExitCode:        -1,
			Status:          archive.StatusTimeout,
			ExecutionTimeMS: elapsed,
			Stdout:          []string{},
			Stderr:          []string{},
			Timestamp:       time.Now().UTC(),
			Metadata:        map[string]any{"error": "timeout"},
		})

	case <-ctx.Done():
		s.kill()
		<-done
		s.log.Debugw("session cancelled by caller", "reason", ctx.Err())
	}
}

// finish emits the terminal event for a naturally finished execution and
// hands the record off for archival.
func (s *session) finish(ctx context.Context, events chan<- Event, out outcome) {
	if out.failure != "" {
		s.emit(ctx, events, Event{Name: EventError, Data: out.failure})
		return
	}

	elapsed := time.Since(s.start).Milliseconds()
	status := archive.StatusCompleted
	if out.exitCode != 0 {
		status = archive.StatusFailed
	}
	s.emitJSON(ctx, events, EventTaskCompleted, completedPayload{
		SessionID:       s.id,
		ExitCode:        out.exitCode,
		ExecutionTimeMS: elapsed,
		Status:          status,
		Stdout:          s.stdout,
		Stderr:          s.stderr,
	})
	s.record(archive.Record{
		SessionID:       s.id,
		Prompt:          s.prompt,
		ExitCode:        out.exitCode,
		Status:          status,
		ExecutionTimeMS: elapsed,
		Stdout:          s.stdout,
		Stderr:          s.stderr,
		Timestamp:       time.Now().UTC(),
		Metadata:        map[string]any{},
	})
}

// execute spawns the child, drives the JSON-RPC handshake, and drains both
// output streams to completion. It only emits non-terminal events; the
// terminal event belongs to the supervisor.
func (s *session) execute(ctx context.Context, events chan<- Event) outcome {
	cmd := exec.Command(s.binPath)
	cmd.Env = passthroughEnv()
	// the child gets its own process group so a kill takes out any
	// grandchildren still holding the output pipes
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return outcome{failure: fmt.Sprintf("failed to open stdin: %s", err)}
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return outcome{failure: fmt.Sprintf("failed to open stdout: %s", err)}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return outcome{failure: fmt.Sprintf("failed to open stderr: %s", err)}
	}

	// publish the handle before Start so a deadline firing mid-spawn
	// still reaches the child; kill is a no-op while Process is nil
	s.mut.Lock()
	s.cmd = cmd
	s.mut.Unlock()

	if err := cmd.Start(); err != nil {
		return outcome{failure: fmt.Sprintf("failed to spawn process: %s", err)}
	}
	s.log.Debugw("app server started", "pid", cmd.Process.Pid, "path", s.binPath)

	if err := s.writeRequests(stdin); err != nil {
		// a child that exits or closes stdin before the handshake lands
		// still ran; drain its output and report the real exit
		if !errors.Is(err, syscall.EPIPE) {
			s.kill()
			cmd.Wait()
			return outcome{failure: fmt.Sprintf("failed to write to stdin: %s", err)}
		}
		s.log.Debugf("child closed stdin before handshake completed: %s", err)
	}
	defer stdin.Close()

	// Fan both streams into one channel so a full pipe buffer on either
	// side never stalls the child. Per-stream line order is preserved;
	// interleaving between the two streams is first-ready-wins.
	type line struct {
		name EventName
		text string
	}
	lines := make(chan line)
	var wg sync.WaitGroup
	wg.Add(2)
	readLines := func(rd io.Reader, name EventName) {
		defer wg.Done()
		br := bufio.NewReader(rd)
		for {
			text, err := br.ReadString('\n')
			if err != nil {
				// partial trailing data without a newline is dropped
				return
			}
			lines <- line{name: name, text: strings.TrimRight(text, "\r\n")}
		}
	}
	go readLines(stdoutPipe, EventStdoutLine)
	go readLines(stderrPipe, EventStderrLine)
	go func() {
		wg.Wait()
		close(lines)
	}()

	for ln := range lines {
		s.emit(ctx, events, Event{Name: ln.name, Data: ln.text})
		switch ln.name {
		case EventStdoutLine:
			s.stdout = append(s.stdout, ln.text)
			s.translate(ctx, events, ln.text)
		case EventStderrLine:
			s.stderr = append(s.stderr, ln.text)
		}
	}

	err = cmd.Wait()
	exitCode := cmd.ProcessState.ExitCode()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			s.log.Debugf("unexpected exit error: %s", err)
		}
	}
	s.log.Debugw("app server exited", "exit_code", exitCode)
	return outcome{exitCode: exitCode}
}

// writeRequests sends the initialize and execOneOffCommand calls,
// newline-delimited, in that order.
func (s *session) writeRequests(stdin io.Writer) error {
	for _, req := range []rpcRequest{initializeRequest(), execOneOffRequest(s.prompt, s.timeout.Milliseconds())} {
		b, err := json.Marshal(req)
		if err != nil {
			return err
		}
		if _, err := stdin.Write(append(b, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// translate inspects one stdout line as a JSON-RPC message. Progress
// notifications and the execution call's result become typed events; a
// line that isn't JSON produces a non-terminal parse error event and the
// session carries on.
func (s *session) translate(ctx context.Context, events chan<- Event, text string) {
	var msg rpcMessage
	if err := json.Unmarshal([]byte(text), &msg); err != nil {
		s.emitJSON(ctx, events, EventError, errorPayload{
			SessionID: s.id,
			Error:     "json_parse",
			Message:   fmt.Sprintf("failed to parse stdout line: %s", err),
			Line:      text,
		})
		return
	}
	if msg.Method == methodProgress {
		s.emit(ctx, events, Event{Name: EventTaskProgress, Data: text})
	}
	if msg.idEquals(execRequestID) && len(msg.Result) > 0 {
		s.emit(ctx, events, Event{Name: EventTaskResult, Data: string(msg.Result)})
	}
}

// kill force-terminates the child's whole process group if it is running,
// so grandchildren that inherited the output pipes die too and draining
// finishes immediately. Best effort: a kill failure is logged and
// otherwise ignored.
func (s *session) kill() {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		s.log.Debugf("error killing child process group: %s", err)
		if err := s.cmd.Process.Kill(); err != nil {
			s.log.Debugf("error killing child: %s", err)
		}
	}
}

// record hands the finished execution off to the archive store without
// blocking the event stream. Archival failures never reach the caller.
func (s *session) record(rec archive.Record) {
	store := s.store
	log := s.log
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.Save(ctx, rec); err != nil {
			log.Debugf("error archiving session record: %s", err)
		}
	}()
}

func (s *session) emit(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func (s *session) emitJSON(ctx context.Context, events chan<- Event, name EventName, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		s.log.Debugf("error marshaling %s payload: %s", name, err)
		return
	}
	s.emit(ctx, events, Event{Name: name, Data: string(b)})
}
