// Package framework runs the example binaries for interop tests.
package framework

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// Process manages one example binary started with `go run`.
type Process struct {
	pkgDir  string
	args    []string
	logFile string

	mu      sync.Mutex
	cmd     *exec.Cmd
	started bool
	output  *logWriter
	logFH   *os.File
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// ProcessConfig holds configuration for a process.
type ProcessConfig struct {
	// PackageDir is the main package to run (e.g., "cmd/beep-echo").
	PackageDir string

	// Args are the command-line arguments of the binary.
	Args []string

	// LogFile is an optional path the output is copied to.
	LogFile string
}

// NewProcess creates a process manager. Nothing is started.
func NewProcess(config ProcessConfig) *Process {
	ctx, cancel := context.WithCancel(context.Background())
	return &Process{
		pkgDir:  config.PackageDir,
		args:    config.Args,
		logFile: config.LogFile,
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the binary in the background.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("process %s already started", p.pkgDir)
	}

	absPath, err := filepath.Abs(p.pkgDir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	p.cmd = exec.CommandContext(p.ctx, "go", append([]string{"run", "."}, p.args...)...)
	p.cmd.Dir = absPath
	p.cmd.Env = append(os.Environ(),
		"PION_LOG_DEBUG=all",
		"PION_LOG_INFO=all",
	)

	if p.logFile != "" {
		fh, err := os.OpenFile(p.logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		p.logFH = fh
	}

	p.output = newLogWriter(fmt.Sprintf("[%s]", filepath.Base(p.pkgDir)), p.logFH)
	p.cmd.Stdout = p.output
	p.cmd.Stderr = p.output

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.pkgDir, err)
	}
	p.started = true

	go func() {
		defer close(p.done)
		_ = p.cmd.Wait()
	}()
	return nil
}

// Wait blocks until the binary exits or ctx is done and returns its output.
func (p *Process) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return p.Output(), ctx.Err()
	}
	if state := p.cmd.ProcessState; state != nil && !state.Success() {
		return p.Output(), fmt.Errorf("%s exited: %s", p.pkgDir, state)
	}
	return p.Output(), nil
}

// Output returns everything the binary wrote so far.
func (p *Process) Output() []byte {
	if p.output == nil {
		return nil
	}
	return p.output.Bytes()
}

// Stop sends SIGTERM and waits for the binary to exit, killing it after
// five seconds.
func (p *Process) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}

	if p.cmd.Process != nil {
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			_ = p.cmd.Process.Kill()
		}
	}

	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		p.cancel()
		<-p.done
	}
	p.cancel()

	if p.logFH != nil {
		_ = p.logFH.Close()
		p.logFH = nil
	}
	p.started = false
	return nil
}

// WaitForTCP polls addr until it accepts a connection. `go run` compiles
// first, so the listener can take a while to appear.
func WaitForTCP(ctx context.Context, addr string) error {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn.Close()
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", addr, err)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// logWriter prefixes each write with a label, echoes it to stdout and
// keeps a copy.
type logWriter struct {
	prefix  string
	logFile *os.File

	mu  sync.Mutex
	buf bytes.Buffer
}

func newLogWriter(prefix string, logFile *os.File) *logWriter {
	return &logWriter{prefix: prefix, logFile: logFile}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	fmt.Printf("%s %s", w.prefix, p)
	if w.logFile != nil {
		fmt.Fprintf(w.logFile, "%s %s", w.prefix, p)
	}
	return len(p), nil
}

// Bytes returns a copy of everything written.
func (w *logWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return bytes.Clone(w.buf.Bytes())
}
