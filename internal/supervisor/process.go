// Package supervisor owns debugger subprocesses.
//
// A Process is spawned from an argument vector, never through a shell. Two
// pump goroutines read the debugger's stdout and stderr, split them into
// lines tagged by origin and append them to one capture buffer. Exec writes a
// single command line and collects output until the caller's completion
// predicate is satisfied, the soft timeout elapses or the debugger exits.
//
// A soft timeout leaves the subprocess alone. A separate watchdog kills the
// whole process group when no prompt has been seen for the hard timeout since
// the oldest unanswered write. Every exit path reaps the child exactly once.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ctagard/dbg-mcp/internal/errors"
	"github.com/ctagard/dbg-mcp/internal/logflags"
)

// Stream identifies which output pipe a line came from
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Line is one captured line of debugger output
type Line struct {
	Stream Stream
	Text   string
}

// Capture is the output collected for one command
type Capture struct {
	Command  string
	Lines    []Line
	Duration time.Duration
}

// Text joins all captured lines
func (c *Capture) Text() string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	for i, l := range c.Lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(l.Text)
	}
	return sb.String()
}

// Texts returns the captured lines without stream tags
func (c *Capture) Texts() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		out[i] = l.Text
	}
	return out
}

// DoneFunc reports whether the lines collected so far complete a command
type DoneFunc func(lines []string) bool

// Spec describes the subprocess to start
type Spec struct {
	Path string
	Args []string
	Env  []string
	Dir  string

	// IsPrompt recognizes the debugger prompt. A partial trailing line that
	// is a prompt is emitted without waiting for a newline.
	IsPrompt func(line string) bool

	// QuitCommand is written on Close before the process group is killed
	QuitCommand string

	// HardTimeout kills the process when no prompt follows a write for this
	// long. Zero disables the watchdog.
	HardTimeout time.Duration

	// Settle is how long Exec keeps reading after completion so that stderr
	// lines racing the prompt on stdout are not lost.
	Settle time.Duration

	Log *logrus.Entry
}

const (
	defaultSettle = 20 * time.Millisecond
	quitGrace     = 500 * time.Millisecond
	pipeGrace     = 2 * time.Second
)

// Process is a running debugger subprocess
type Process struct {
	spec Spec
	cmd  *exec.Cmd
	pid  int
	log  *logrus.Entry

	stdin io.WriteCloser
	pipes []*os.File

	mu     sync.Mutex
	lines  []Line
	writes []string
	notify chan struct{}

	// oldest unanswered write; zero when the debugger is at a prompt
	pendingSince time.Time
	hardKilled   bool

	exited  chan struct{}
	exitErr error

	closeOnce sync.Once
	stop      chan struct{}
}

// Start spawns the subprocess described by spec
func Start(spec Spec) (*Process, error) {
	if spec.IsPrompt == nil {
		spec.IsPrompt = func(string) bool { return false }
	}
	if spec.Settle == 0 {
		spec.Settle = defaultSettle
	}
	log := spec.Log
	if log == nil {
		log = logflags.SupervisorLogger()
	}

	//nolint:gosec // G204: the debugger path comes from configuration and the binary is a discrete argument
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, err
	}
	// The child holds its own copies of the write ends
	outW.Close()
	errW.Close()

	p := &Process{
		spec:   spec,
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		stdin:  stdin,
		pipes:  []*os.File{outR, errR},
		notify: make(chan struct{}, 1),
		exited: make(chan struct{}),
		stop:   make(chan struct{}),
	}
	p.log = log.WithField("pid", p.pid)
	p.log.Debugf("started %s %s", spec.Path, strings.Join(spec.Args, " "))

	var pumps sync.WaitGroup
	pumps.Add(2)
	go p.pump(outR, Stdout, &pumps)
	go p.pump(errR, Stderr, &pumps)
	go p.wait(&pumps)

	if spec.HardTimeout > 0 {
		go p.watchdog()
	}

	return p, nil
}

// pump splits one stream into lines
func (p *Process) pump(r io.Reader, stream Stream, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, 4096)
	var partial []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			partial = append(partial, buf[:n]...)
			for {
				i := bytes.IndexByte(partial, '\n')
				if i < 0 {
					break
				}
				p.emit(stream, strings.TrimRight(string(partial[:i]), "\r"))
				partial = partial[i+1:]
			}
			// Prompts are printed without a trailing newline
			if len(partial) > 0 && p.spec.IsPrompt(string(partial)) {
				p.emit(stream, string(partial))
				partial = partial[:0]
			}
		}
		if err != nil {
			if len(partial) > 0 {
				p.emit(stream, string(partial))
			}
			return
		}
	}
}

func (p *Process) emit(stream Stream, text string) {
	if logflags.Wire() {
		p.log.Debugf("<- [%s] %s", stream, text)
	}

	p.mu.Lock()
	p.lines = append(p.lines, Line{Stream: stream, Text: text})
	if p.spec.IsPrompt(text) {
		p.pendingSince = time.Time{}
	}
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// wait reaps the child; it is the only caller of cmd.Wait
func (p *Process) wait(pumps *sync.WaitGroup) {
	err := p.cmd.Wait()

	// A debuggee that escaped the process group may still hold the pipes
	done := make(chan struct{})
	go func() {
		pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(pipeGrace):
		for _, f := range p.pipes {
			f.Close()
		}
		<-done
	}
	for _, f := range p.pipes {
		f.Close()
	}

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	close(p.exited)

	select {
	case p.notify <- struct{}{}:
	default:
	}
	p.log.Debugf("debugger exited: %v", err)
}

// watchdog kills the process when a write goes unanswered for HardTimeout
func (p *Process) watchdog() {
	interval := p.spec.HardTimeout / 4
	if interval > time.Second {
		interval = time.Second
	}
	if interval < 5*time.Millisecond {
		interval = 5 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-p.exited:
			return
		case <-ticker.C:
			p.mu.Lock()
			overdue := !p.pendingSince.IsZero() && time.Since(p.pendingSince) > p.spec.HardTimeout
			if overdue {
				p.hardKilled = true
			}
			p.mu.Unlock()
			if overdue {
				p.log.Warnf("no prompt for %s, killing debugger", p.spec.HardTimeout)
				if err := killProcessGroup(p.pid, p.cmd); err != nil {
					p.log.Warnf("failed to kill process group: %v", err)
				}
				<-p.exited
				return
			}
		}
	}
}

// PID returns the subprocess id
func (p *Process) PID() int {
	return p.pid
}

// Exited is closed once the subprocess has been reaped
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Alive reports whether the subprocess is still running
func (p *Process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// HardKilled reports whether the watchdog ended the process
func (p *Process) HardKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hardKilled
}

// Writes returns every command written to the subprocess, in order
func (p *Process) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.writes))
	copy(out, p.writes)
	return out
}

// Await collects output without writing, e.g. for the startup banner
func (p *Process) Await(ctx context.Context, timeout time.Duration, done DoneFunc) (*Capture, error) {
	return p.run(ctx, "", false, timeout, done)
}

// Exec writes command followed by a newline and collects its output.
//
// A timeout returns a TIMED_OUT error together with the partial capture and
// leaves the subprocess running. If the debugger exits before done is
// satisfied the error is CRASHED.
func (p *Process) Exec(ctx context.Context, command string, timeout time.Duration, done DoneFunc) (*Capture, error) {
	if strings.ContainsAny(command, "\n\r") {
		return nil, fmt.Errorf("command must be a single line: %q", command)
	}
	return p.run(ctx, command, true, timeout, done)
}

func (p *Process) run(ctx context.Context, command string, write bool, timeout time.Duration, done DoneFunc) (*Capture, error) {
	if !p.Alive() {
		return nil, p.crashed()
	}

	capture := &Capture{Command: command}
	start := time.Now()

	p.mu.Lock()
	// Output left over from an earlier timed out command is discarded
	if write {
		p.lines = nil
	}
	p.mu.Unlock()

	if write {
		if err := p.write(command); err != nil {
			return nil, p.crashed().WithCause(err)
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	texts := func() []string { return capture.Texts() }
	name := command
	if !write {
		name = "(startup)"
	}

	for {
		p.collect(capture)
		if done(texts()) {
			p.settle(capture)
			capture.Duration = time.Since(start)
			return capture, nil
		}

		select {
		case <-p.notify:
		case <-p.exited:
			p.collect(capture)
			capture.Duration = time.Since(start)
			if done(texts()) {
				return capture, nil
			}
			return capture, p.crashed().WithOutput(capture.Text())
		case <-timer.C:
			p.collect(capture)
			capture.Duration = time.Since(start)
			return capture, errors.TimedOut(name, timeout.Seconds()).WithOutput(capture.Text())
		case <-ctx.Done():
			p.collect(capture)
			capture.Duration = time.Since(start)
			return capture, errors.Canceled(name, ctx.Err()).WithOutput(capture.Text())
		}
	}
}

func (p *Process) write(command string) error {
	if logflags.Wire() {
		p.log.Debugf("-> %s", command)
	}

	p.mu.Lock()
	p.writes = append(p.writes, command)
	if p.pendingSince.IsZero() {
		p.pendingSince = time.Now()
	}
	p.mu.Unlock()

	_, err := io.WriteString(p.stdin, command+"\n")
	return err
}

// collect moves buffered lines into the capture
func (p *Process) collect(c *Capture) {
	p.mu.Lock()
	c.Lines = append(c.Lines, p.lines...)
	p.lines = nil
	p.mu.Unlock()
}

func (p *Process) settle(c *Capture) {
	t := time.NewTimer(p.spec.Settle)
	defer t.Stop()
	for {
		select {
		case <-p.notify:
			p.collect(c)
		case <-p.exited:
			p.collect(c)
			return
		case <-t.C:
			p.collect(c)
			return
		}
	}
}

func (p *Process) crashed() *errors.DebugError {
	p.mu.Lock()
	err := p.exitErr
	hard := p.hardKilled
	p.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("exited")
	}
	de := errors.Crashed(p.pid, err)
	if hard {
		de.WithDetails("hardTimeoutSeconds", p.spec.HardTimeout.Seconds())
	}
	return de
}

// Close ends the subprocess: it asks the debugger to quit, then kills the
// process group and waits for the reap. Safe to call more than once.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.stop)

		if p.Alive() && p.spec.QuitCommand != "" {
			if werr := p.write(p.spec.QuitCommand); werr == nil {
				select {
				case <-p.exited:
				case <-time.After(quitGrace):
				}
			}
		}
		p.stdin.Close()

		if p.Alive() {
			if kerr := killProcessGroup(p.pid, p.cmd); kerr != nil {
				p.log.Warnf("failed to kill process group: %v (continuing cleanup)", kerr)
				err = kerr
			}
		}
		<-p.exited
	})
	return err
}
