// Package container is the adapter for the local container runtime that
// hosts the managed inference server. Every operation returns a
// structured result or error; nothing panics across this boundary.
package container

import (
	"bufio"
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"llmtrayd/pkg/types"
)

// Process is one running container as reported by the runtime.
type Process struct {
	Name    string `json:"name"`
	Image   string `json:"image,omitempty"`
	Status  string `json:"status,omitempty"`
	Running bool   `json:"running"`
}

// InspectResult is the probe-relevant slice of container state.
type InspectResult struct {
	Running bool
	// GPU is true when the container holds GPU device bindings.
	GPU bool
}

// PullProgress is one event of a model pull. The sequence is finite:
// the terminal event has Done set and carries the failure, if any.
type PullProgress struct {
	Line string
	Done bool
	Err  error
}

// Controller issues commands against the container runtime.
type Controller interface {
	ListRunning(ctx context.Context) ([]Process, error)
	Inspect(ctx context.Context, ref string) (InspectResult, error)
	Start(ctx context.Context, ref string) error
	Stop(ctx context.Context, ref string) error
	PullModel(ctx context.Context, ref, model string) (<-chan PullProgress, error)
	RemoveModel(ctx context.Context, ref, model string) error
	ListModels(ctx context.Context, ref string) ([]types.Model, error)
}

// Docker drives the docker CLI. When a compose file is configured,
// Start and Stop go through `docker compose` instead of plain
// start/stop, mirroring how users run the inference server.
type Docker struct {
	bin         string
	composeFile string
	timeout     time.Duration
	run         runner
	log         zerolog.Logger
}

// NewDocker builds a Docker controller. timeout bounds every command
// except model pulls, which are long-running by nature.
func NewDocker(bin, composeFile string, timeout time.Duration, log zerolog.Logger) *Docker {
	if bin == "" {
		bin = "docker"
	}
	return &Docker{bin: bin, composeFile: composeFile, timeout: timeout, run: execRunner{}, log: log}
}

func (d *Docker) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

// ListRunning returns the runtime's running containers.
func (d *Docker) ListRunning(ctx context.Context) ([]Process, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	out, err := d.run.output(ctx, d.bin, "ps", "--format", psFormat)
	if err != nil {
		return nil, err
	}
	return parseProcessList(out), nil
}

// Inspect reports running state and GPU binding for one container.
func (d *Docker) Inspect(ctx context.Context, ref string) (InspectResult, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	out, err := d.run.output(ctx, d.bin, "inspect", "-f", inspectFormat, ref)
	if err != nil {
		return InspectResult{}, err
	}
	return parseInspect(out)
}

// Start brings the container up. Starting an already-running container
// is a no-op success (the runtime treats it as such).
func (d *Docker) Start(ctx context.Context, ref string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	if d.composeFile != "" {
		_, err := d.run.output(ctx, d.bin, "compose", "-f", d.composeFile, "--project-directory", filepath.Dir(d.composeFile), "up", "-d")
		if err == nil {
			d.log.Info().Str("compose", d.composeFile).Msg("server started via compose")
		}
		return err
	}
	_, err := d.run.output(ctx, d.bin, "start", ref)
	if err == nil {
		d.log.Info().Str("container", ref).Msg("server container started")
	}
	return err
}

// Stop takes the container down; stopping a stopped container succeeds.
func (d *Docker) Stop(ctx context.Context, ref string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	if d.composeFile != "" {
		_, err := d.run.output(ctx, d.bin, "compose", "-f", d.composeFile, "--project-directory", filepath.Dir(d.composeFile), "down")
		if err == nil {
			d.log.Info().Str("compose", d.composeFile).Msg("server stopped via compose")
		}
		return err
	}
	_, err := d.run.output(ctx, d.bin, "stop", ref)
	if err == nil {
		d.log.Info().Str("container", ref).Msg("server container stopped")
	}
	return err
}

// PullModel pulls a model inside the managed container, emitting one
// progress event per output line. The channel is closed after the
// terminal Done event.
func (d *Docker) PullModel(ctx context.Context, ref, model string) (<-chan PullProgress, error) {
	rc, wait, err := d.run.stream(ctx, d.bin, "exec", ref, "ollama", "pull", model)
	if err != nil {
		return nil, err
	}
	ch := make(chan PullProgress)
	go func() {
		defer close(ch)
		defer rc.Close()
		s := bufio.NewScanner(rc)
		for s.Scan() {
			line := s.Text()
			if line == "" {
				continue
			}
			select {
			case ch <- PullProgress{Line: line}:
			case <-ctx.Done():
				// The terminal event must always arrive; the consumer
				// drains the channel even after it stops rendering.
				ch <- PullProgress{Done: true, Err: ctx.Err()}
				return
			}
		}
		err := wait()
		if err == nil {
			err = s.Err()
		}
		ch <- PullProgress{Done: true, Err: err}
		if err != nil {
			d.log.Warn().Err(err).Str("model", model).Msg("model pull failed")
		} else {
			d.log.Info().Str("model", model).Msg("model pull complete")
		}
	}()
	return ch, nil
}

// RemoveModel deletes a model from the managed inference server.
func (d *Docker) RemoveModel(ctx context.Context, ref, model string) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	_, err := d.run.output(ctx, d.bin, "exec", ref, "ollama", "rm", model)
	return err
}

// ListModels lists the models available on the managed inference server.
func (d *Docker) ListModels(ctx context.Context, ref string) ([]types.Model, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	out, err := d.run.output(ctx, d.bin, "exec", ref, "ollama", "list")
	if err != nil {
		return nil, err
	}
	return parseModelList(out), nil
}
