// Package zfs drives the ZFS command line tools, on the local machine or on
// remote hosts reached over SSH.
package zfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"

	"github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
)

const (
	Binary = "zfs"

	defaultSSHBinary = "ssh"
)

// Host identifies the machine a command runs on.
// The zero value is the local machine.
type Host string

// Remote reports whether commands for this host go through the SSH transport.
func (h Host) Remote() bool {
	return h != ""
}

func (h Host) String() string {
	if h == "" {
		return "local"
	}
	return string(h)
}

// Cmd describes a command and the host it should run on.
type Cmd struct {
	Host Host
	Name string
	Args []string
}

// Executor runs commands locally or on remote hosts.
// Remote commands are composed into a single shell string, so their
// arguments are shell-quoted; local commands pass argv untouched.
type Executor struct {
	SSHBinary  string
	SSHOptions []string

	logger *logrus.Entry
}

// NewExecutor returns an Executor using the default SSH transport.
func NewExecutor(logger *logrus.Entry) *Executor {
	return &Executor{
		SSHBinary: defaultSSHBinary,
		logger:    logger,
	}
}

// argv returns the local argv for c, wrapping remote commands in the SSH
// transport.
func (e *Executor) argv(c Cmd) []string {
	if !c.Host.Remote() {
		return append([]string{c.Name}, c.Args...)
	}
	argv := make([]string, 0, len(e.SSHOptions)+3)
	argv = append(argv, e.SSHBinary)
	argv = append(argv, e.SSHOptions...)
	argv = append(argv, string(c.Host), shellquote.Join(append([]string{c.Name}, c.Args...)...))
	return argv
}

func (e *Executor) command(ctx context.Context, c Cmd) *exec.Cmd {
	argv := e.argv(c)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.SysProcAttr = procAttributes()
	return cmd
}

// Run executes the command, waits for it and returns its stdout split into
// lines of fields.
func (e *Executor) Run(ctx context.Context, c Cmd) ([][]string, error) {
	cmd := e.command(ctx, c)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.WithFields(logrus.Fields{
		"host":    c.Host.String(),
		"command": strings.Join(cmd.Args, " "),
	}).Debug("zfs.Executor.Run: Running command")

	err := cmd.Run()
	if err != nil {
		return nil, createError(cmd, stderr.String(), err)
	}

	lines := strings.Split(stdout.String(), "\n")

	// last line is always blank
	lines = lines[:len(lines)-1]
	output := make([][]string, len(lines))
	for i, l := range lines {
		output[i] = strings.Fields(l)
	}

	return output, nil
}

// Pipe streams left's stdout into right's stdin and waits for both sides.
// It succeeds only when both commands exit zero; a failing sender surfaces
// as a *SendError and a failing receiver as a *ReceiveError. The returned
// count is the number of bytes that crossed the pipe.
func (e *Executor) Pipe(ctx context.Context, left, right Cmd, bytesPerSecond int64) (int64, error) {
	send := e.command(ctx, left)
	recv := e.command(ctx, right)

	pr, pw, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("error creating pipe: %w", err)
	}

	counter := NewCountReader(rateLimitReader(pr, bytesPerSecond))
	send.Stdout = pw
	recv.Stdin = counter

	var sendStderr, recvStderr bytes.Buffer
	send.Stderr = &sendStderr
	recv.Stderr = &recvStderr

	e.logger.WithFields(logrus.Fields{
		"send": strings.Join(send.Args, " "),
		"recv": strings.Join(recv.Args, " "),
	}).Debug("zfs.Executor.Pipe: Starting pipeline")

	if err := send.Start(); err != nil {
		pw.Close()
		pr.Close()
		return 0, fmt.Errorf("error starting %s: %w", left.Name, err)
	}
	// The child owns its copy of the write end now; the parent's copy must
	// go so EOF propagates when the sender exits.
	pw.Close()

	if err := recv.Start(); err != nil {
		pr.Close()
		_ = send.Process.Kill()
		_ = send.Wait()
		return 0, fmt.Errorf("error starting %s: %w", right.Name, err)
	}

	// A receiver that stops early leaves the sender blocked on a full pipe,
	// so once the receiver is gone the sender goes too. In the normal order
	// the sender has already exited by then and the kill is a no-op.
	var killedSender atomic.Bool
	recvDone := make(chan error, 1)
	go func() {
		err := recv.Wait()
		killedSender.Store(true)
		_ = send.Process.Kill()
		recvDone <- err
	}()

	sendErr := send.Wait()
	recvErr := <-recvDone
	pr.Close()

	// A sender that failed on its own is the root cause, even when the
	// truncated stream made the receiver fail as well. A sender that only
	// died because we killed it is the receiver's fault.
	senderKilled := killedSender.Load() && exitedFromSignal(sendErr)
	switch {
	case sendErr != nil && !senderKilled:
		return counter.Count(), &SendError{CommandError{
			Err:    sendErr,
			Debug:  strings.Join(send.Args, " "),
			Stderr: sendStderr.String(),
		}}
	case recvErr != nil:
		return counter.Count(), &ReceiveError{CommandError{
			Err:    recvErr,
			Debug:  strings.Join(recv.Args, " "),
			Stderr: recvStderr.String(),
		}}
	case sendErr != nil:
		// The receiver exited zero without consuming the whole stream.
		return counter.Count(), &ReceiveError{CommandError{
			Err:    errors.New("receiver exited before the stream completed"),
			Debug:  strings.Join(recv.Args, " "),
			Stderr: recvStderr.String(),
		}}
	}
	return counter.Count(), nil
}

func exitedFromSignal(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return exitErr.ExitCode() == -1
}
