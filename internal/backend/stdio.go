package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"toolgate/pkg/logging"
)

// StdioTransport runs a backend as a subprocess and exchanges
// newline-delimited JSON frames over its stdin/stdout. The subprocess
// stderr is forwarded to the debug log.
type StdioTransport struct {
	name    string
	command string
	args    []string
	env     map[string]string

	mu       sync.Mutex
	handlers Handlers
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	codec    *frameCodec
	closed   bool
	closeFn  sync.Once
}

// NewStdioTransport creates a transport that will spawn the given command.
// env entries are added on top of the parent process environment.
func NewStdioTransport(name, command string, args []string, env map[string]string) *StdioTransport {
	return &StdioTransport{
		name:    name,
		command: command,
		args:    args,
		env:     env,
	}
}

// SetHandlers registers the event callbacks.
func (t *StdioTransport) SetHandlers(h Handlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = h
}

// Start spawns the subprocess and begins reading its stdout. The context
// bounds only startup; the subprocess is owned by the transport and lives
// until Close or its own exit, so a short-lived startup context never
// kills a healthy backend.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil {
		return fmt.Errorf("stdio transport for %s already started", t.name)
	}

	cmd := exec.Command(t.command, t.args...)
	cmd.Env = os.Environ()
	for k, v := range t.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening stdin for %s: %w", t.name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening stdout for %s: %w", t.name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("opening stderr for %s: %w", t.name, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", t.command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.codec = newFrameCodec(stdout, stdin)
	t.closed = false
	handlers := t.handlers

	go t.forwardStderr(stderr)
	go func() {
		err := t.codec.readLoop(handlers)
		waitErr := cmd.Wait()
		if err == io.EOF && waitErr != nil {
			err = waitErr
		}
		t.finish(err)
	}()

	logging.Debug("Transport", "Backend %s: started %s (pid %d)", t.name, t.command, cmd.Process.Pid)
	return nil
}

// Send writes one frame to the subprocess stdin.
func (t *StdioTransport) Send(msg *Message) error {
	t.mu.Lock()
	codec := t.codec
	closed := t.closed
	t.mu.Unlock()

	if closed || codec == nil {
		return ErrNotConnected
	}
	return codec.writeFrame(msg)
}

// Close terminates the subprocess. Idempotent.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	cmd := t.cmd
	stdin := t.stdin
	t.closed = true
	t.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
	t.finish(nil)
	return nil
}

func (t *StdioTransport) finish(err error) {
	t.closeFn.Do(func() {
		t.mu.Lock()
		t.closed = true
		handlers := t.handlers
		t.mu.Unlock()

		if err == io.EOF {
			err = nil
		}
		if handlers.OnClose != nil {
			handlers.OnClose(err)
		}
	})
}

func (t *StdioTransport) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logging.Debug("Transport", "Backend %s stderr: %s", t.name, scanner.Text())
	}
}
