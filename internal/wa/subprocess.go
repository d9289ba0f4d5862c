package wa

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/secretary/wa-bridge/internal/metrics"
)

// Line prefixes used by the Node runner on stdout. Everything else is
// treated as diagnostic output and logged verbatim.
const (
	eventPrefix  = "EVENT:"
	resultPrefix = "RESULT:"
)

// defaultCommandTimeout bounds how long a command waits for the runner to
// answer before failing.
const defaultCommandTimeout = 30 * time.Second

// destroyGrace is how long Destroy waits after SIGTERM before killing the
// process.
const destroyGrace = 2 * time.Second

// SubprocessConfig holds paths and tunables for the Node runner.
type SubprocessConfig struct {
	ScriptPath     string        // path to the whatsapp-web.js runner script
	SessionPath    string        // persisted auth state directory
	MediaPath      string        // directory for downloaded media
	CommandTimeout time.Duration // per-command response timeout
}

// command is one request written to the runner's stdin as a JSON line.
type command struct {
	Action string      `json:"action"`
	Data   interface{} `json:"data,omitempty"`
	ID     string      `json:"id"`
}

// commandResult is the runner's answer to a command, matched by ID.
type commandResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	ID      string          `json:"id"`
}

// Subprocess drives a Node.js whatsapp-web.js runner as a child process.
// Commands go out as JSON lines on stdin; the runner answers with
// RESULT-prefixed lines and pushes EVENT-prefixed callbacks on stdout.
type Subprocess struct {
	config  SubprocessConfig
	onEvent CallbackHandler

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending map[string]chan commandResult
	done    chan struct{}
	started bool
}

// NewSubprocess creates an adapter that will run the configured script.
// The process is not started until Initialize is called.
func NewSubprocess(config SubprocessConfig, onEvent CallbackHandler) *Subprocess {
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = defaultCommandTimeout
	}
	return &Subprocess{
		config:  config,
		onEvent: onEvent,
		pending: make(map[string]chan commandResult),
	}
}

// Initialize spawns the Node runner and begins consuming its output. The
// runner drives authentication on its own; progress arrives as callbacks.
func (s *Subprocess) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("wa: runner already started")
	}

	cmd := exec.Command("node", s.config.ScriptPath)
	cmd.Env = append(cmd.Environ(),
		"SESSION_PATH="+s.config.SessionPath,
		"MEDIA_PATH="+s.config.MediaPath,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("wa: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("wa: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("wa: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("wa: start runner: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.done = make(chan struct{})
	s.started = true
	s.mu.Unlock()

	log.Printf("wa: runner started pid=%d script=%s", cmd.Process.Pid, s.config.ScriptPath)

	go s.readOutput(stdout)
	go s.readStderr(stderr)
	go s.waitExit()

	return nil
}

// readOutput consumes the runner's stdout line by line, routing EVENT and
// RESULT lines and logging everything else.
func (s *Subprocess) readOutput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.handleLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.Printf("wa: stdout read error: %v", err)
	}
}

// handleLine routes one stdout line from the runner.
func (s *Subprocess) handleLine(line string) {
	switch {
	case strings.HasPrefix(line, eventPrefix):
		var cb Callback
		if err := json.Unmarshal([]byte(line[len(eventPrefix):]), &cb); err != nil {
			log.Printf("wa: malformed event line: %v", err)
			return
		}
		if s.onEvent != nil {
			s.onEvent(cb)
		}

	case strings.HasPrefix(line, resultPrefix):
		var res commandResult
		if err := json.Unmarshal([]byte(line[len(resultPrefix):]), &res); err != nil {
			log.Printf("wa: malformed result line: %v", err)
			return
		}
		s.resolve(res)

	default:
		if line != "" {
			log.Printf("wa(runner): %s", line)
		}
	}
}

// resolve delivers a command result to its waiter, if still registered.
func (s *Subprocess) resolve(res commandResult) {
	s.mu.Lock()
	ch, ok := s.pending[res.ID]
	if ok {
		delete(s.pending, res.ID)
	}
	s.mu.Unlock()

	if ok {
		ch <- res
	}
}

// readStderr logs the runner's stderr.
func (s *Subprocess) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Printf("wa(runner/err): %s", scanner.Text())
	}
}

// waitExit reaps the child process. An exit while commands are in flight
// fails them, and a disconnected callback is synthesized so the session
// layer observes the drop even when the runner died without reporting one.
func (s *Subprocess) waitExit() {
	err := s.cmd.Wait()

	s.mu.Lock()
	intentional := !s.started // Destroy flips started before signalling
	for id, ch := range s.pending {
		delete(s.pending, id)
		close(ch)
	}
	s.started = false
	close(s.done)
	s.mu.Unlock()

	if intentional {
		log.Printf("wa: runner exited after destroy")
		return
	}

	log.Printf("wa: runner exited unexpectedly: %v", err)
	if s.onEvent != nil {
		data, _ := json.Marshal(FailurePayload{Reason: "runner process exited"})
		s.onEvent(Callback{
			Event:     EventDisconnected,
			Data:      data,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

// send writes a command line to the runner and waits for the matching
// result or timeout.
func (s *Subprocess) send(ctx context.Context, action string, data interface{}) (json.RawMessage, error) {
	start := time.Now()
	defer func() {
		metrics.AdapterCommandDuration.Observe(time.Since(start).Seconds())
	}()

	cmd := command{Action: action, Data: data, ID: uuid.New().String()}
	line, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("wa: marshal command: %w", err)
	}

	ch := make(chan commandResult, 1)

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil, fmt.Errorf("wa: runner not running")
	}
	s.pending[cmd.ID] = ch
	_, werr := s.stdin.Write(append(line, '\n'))
	s.mu.Unlock()

	if werr != nil {
		s.mu.Lock()
		delete(s.pending, cmd.ID)
		s.mu.Unlock()
		return nil, fmt.Errorf("wa: write command %s: %w", action, werr)
	}

	timeout := s.config.CommandTimeout
	select {
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, cmd.ID)
		s.mu.Unlock()
		return nil, ctx.Err()
	case <-time.After(timeout):
		s.mu.Lock()
		delete(s.pending, cmd.ID)
		s.mu.Unlock()
		return nil, fmt.Errorf("wa: command %s timed out after %s", action, timeout)
	case res, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("wa: runner exited while awaiting %s", action)
		}
		if !res.Success {
			return nil, fmt.Errorf("wa: command %s failed: %s", action, res.Error)
		}
		return res.Data, nil
	}
}

// SendMessage delivers a text (and optional media file) to a chat.
func (s *Subprocess) SendMessage(ctx context.Context, chatID, text, mediaPath string) error {
	payload := map[string]string{"chatId": chatID, "message": text}
	if mediaPath != "" {
		payload["mediaPath"] = mediaPath
	}
	_, err := s.send(ctx, "send_message", payload)
	return err
}

// GetChats lists all chats known to the session.
func (s *Subprocess) GetChats(ctx context.Context) ([]Chat, error) {
	raw, err := s.send(ctx, "get_chats", nil)
	if err != nil {
		return nil, err
	}
	var chats []Chat
	if err := json.Unmarshal(raw, &chats); err != nil {
		return nil, fmt.Errorf("wa: decode chats: %w", err)
	}
	return chats, nil
}

// GetChatMessages fetches up to limit recent messages from a chat.
func (s *Subprocess) GetChatMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	raw, err := s.send(ctx, "get_chat_messages", map[string]interface{}{
		"chatId": chatID,
		"limit":  limit,
	})
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("wa: decode messages: %w", err)
	}
	return msgs, nil
}

// Destroy stops the runner: SIGTERM, a short grace period, then SIGKILL.
// It is safe to call when the runner never started or already exited.
func (s *Subprocess) Destroy() error {
	s.mu.Lock()
	if !s.started || s.cmd == nil || s.cmd.Process == nil {
		s.mu.Unlock()
		return nil
	}
	s.started = false // marks the coming exit as intentional
	proc := s.cmd.Process
	done := s.done
	s.mu.Unlock()

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		log.Printf("wa: sigterm runner: %v", err)
	}

	select {
	case <-done:
	case <-time.After(destroyGrace):
		log.Printf("wa: runner did not exit after %s, killing", destroyGrace)
		_ = proc.Kill()
		<-done
	}
	return nil
}
