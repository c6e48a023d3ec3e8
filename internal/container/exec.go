package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
)

// runner abstracts command execution so the controller can be tested
// without a container runtime on the host.
type runner interface {
	// output runs the command to completion and returns its stdout.
	// stderr is folded into the returned error.
	output(ctx context.Context, name string, args ...string) (string, error)
	// stream starts the command and returns a reader over its combined
	// output plus a wait func reporting the exit status.
	stream(ctx context.Context, name string, args ...string) (io.ReadCloser, func() error, error)
}

type execRunner struct{}

func (execRunner) output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), classifyExecErr(err, stderr.String())
	}
	return stdout.String(), nil
}

func (execRunner) stream(ctx context.Context, name string, args ...string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pr.Close()
		return nil, nil, classifyExecErr(err, "")
	}
	waitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		waitCh <- err
		pw.CloseWithError(err)
	}()
	return pr, func() error { return <-waitCh }, nil
}

// classifyExecErr maps runtime-level failures (binary missing, daemon
// down, unknown container) onto the package error taxonomy.
func classifyExecErr(err error, stderr string) error {
	if errors.Is(err, exec.ErrNotFound) {
		return ErrUnavailable("container runtime binary not found: " + err.Error())
	}
	low := strings.ToLower(stderr)
	switch {
	case strings.Contains(low, "cannot connect to the docker daemon"),
		strings.Contains(low, "is the docker daemon running"):
		return ErrUnavailable(strings.TrimSpace(stderr))
	case strings.Contains(low, "no such container"),
		strings.Contains(low, "no such object"):
		return ErrNotFound(strings.TrimSpace(stderr))
	}
	if s := strings.TrimSpace(stderr); s != "" {
		return errors.New(s)
	}
	return err
}
