package container

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeRunner records invocations and plays back canned results.
type fakeRunner struct {
	calls   [][]string
	out     string
	err     error
	streamR io.ReadCloser
	waitErr error
}

func (f *fakeRunner) output(ctx context.Context, name string, args ...string) (string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.out, f.err
}

func (f *fakeRunner) stream(ctx context.Context, name string, args ...string) (io.ReadCloser, func() error, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.streamR, func() error { return f.waitErr }, nil
}

func newTestDocker(run *fakeRunner, composeFile string) *Docker {
	d := NewDocker("docker", composeFile, time.Second, zerolog.Nop())
	d.run = run
	return d
}

func lastCall(t *testing.T, f *fakeRunner) string {
	t.Helper()
	if len(f.calls) == 0 {
		t.Fatalf("no command executed")
	}
	return strings.Join(f.calls[len(f.calls)-1], " ")
}

func TestInspectCommand(t *testing.T) {
	run := &fakeRunner{out: "true|nvidia|null"}
	d := newTestDocker(run, "")
	res, err := d.Inspect(context.Background(), "ollama")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !res.Running || !res.GPU {
		t.Fatalf("unexpected result: %+v", res)
	}
	got := lastCall(t, run)
	if !strings.HasPrefix(got, "docker inspect -f ") || !strings.HasSuffix(got, " ollama") {
		t.Fatalf("unexpected command: %s", got)
	}
}

func TestStartPlain(t *testing.T) {
	run := &fakeRunner{}
	d := newTestDocker(run, "")
	if err := d.Start(context.Background(), "ollama"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := lastCall(t, run); got != "docker start ollama" {
		t.Fatalf("unexpected command: %s", got)
	}
}

func TestStartViaCompose(t *testing.T) {
	run := &fakeRunner{}
	d := newTestDocker(run, "/srv/llm/docker-compose.yml")
	if err := d.Start(context.Background(), "ignored"); err != nil {
		t.Fatalf("start: %v", err)
	}
	got := lastCall(t, run)
	if !strings.Contains(got, "compose -f /srv/llm/docker-compose.yml") || !strings.Contains(got, "up -d") {
		t.Fatalf("unexpected command: %s", got)
	}
	if !strings.Contains(got, "--project-directory /srv/llm") {
		t.Fatalf("project directory missing: %s", got)
	}
}

func TestStopViaCompose(t *testing.T) {
	run := &fakeRunner{}
	d := newTestDocker(run, "/srv/llm/docker-compose.yml")
	if err := d.Stop(context.Background(), "ignored"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := lastCall(t, run); !strings.Contains(got, "down") {
		t.Fatalf("unexpected command: %s", got)
	}
}

func TestListModelsCommand(t *testing.T) {
	run := &fakeRunner{out: "NAME ID SIZE MODIFIED\nllama3:8b abc 4.7 GB now\n"}
	d := newTestDocker(run, "")
	models, err := d.ListModels(context.Background(), "ollama")
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 1 || models[0].Name != "llama3:8b" {
		t.Fatalf("unexpected models: %+v", models)
	}
	if got := lastCall(t, run); got != "docker exec ollama ollama list" {
		t.Fatalf("unexpected command: %s", got)
	}
}

func TestRemoveModelCommand(t *testing.T) {
	run := &fakeRunner{}
	d := newTestDocker(run, "")
	if err := d.RemoveModel(context.Background(), "ollama", "llama3:8b"); err != nil {
		t.Fatalf("remove model: %v", err)
	}
	if got := lastCall(t, run); got != "docker exec ollama ollama rm llama3:8b" {
		t.Fatalf("unexpected command: %s", got)
	}
}

func TestPullModelStreamsLinesAndTerminates(t *testing.T) {
	run := &fakeRunner{streamR: io.NopCloser(strings.NewReader("pulling manifest\npulling layer 1\nsuccess\n"))}
	d := newTestDocker(run, "")
	ch, err := d.PullModel(context.Background(), "ollama", "llama3:8b")
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	var lines []string
	var done bool
	var doneErr error
	for p := range ch {
		if p.Done {
			done = true
			doneErr = p.Err
			continue
		}
		lines = append(lines, p.Line)
	}
	if !done {
		t.Fatalf("missing terminal event")
	}
	if doneErr != nil {
		t.Fatalf("unexpected terminal error: %v", doneErr)
	}
	if len(lines) != 3 || lines[0] != "pulling manifest" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestPullModelReportsFailure(t *testing.T) {
	run := &fakeRunner{
		streamR: io.NopCloser(strings.NewReader("pulling manifest\n")),
		waitErr: errors.New("manifest unknown"),
	}
	d := newTestDocker(run, "")
	ch, err := d.PullModel(context.Background(), "ollama", "nope")
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	var doneErr error
	for p := range ch {
		if p.Done {
			doneErr = p.Err
		}
	}
	if doneErr == nil || doneErr.Error() != "manifest unknown" {
		t.Fatalf("expected failure in terminal event, got %v", doneErr)
	}
}

func TestPullModelCancelDeliversTerminalEvent(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	run := &fakeRunner{streamR: pr}
	d := newTestDocker(run, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := d.PullModel(ctx, "ollama", "llama3:8b")
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	go pw.Write([]byte("pulling manifest\n"))
	if p := <-ch; p.Line != "pulling manifest" {
		t.Fatalf("unexpected first event: %+v", p)
	}
	cancel()
	// The next line unblocks the scanner so it observes the canceled
	// context. The receiver is deliberately slow: the terminal event must
	// wait for it rather than be dropped.
	go pw.Write([]byte("pulling layer 1\n"))
	time.Sleep(50 * time.Millisecond)
	var done bool
	var doneErr error
	for p := range ch {
		if p.Done {
			done = true
			doneErr = p.Err
		}
	}
	if !done {
		t.Fatalf("missing terminal event after cancel")
	}
	if !errors.Is(doneErr, context.Canceled) {
		t.Fatalf("expected context error in terminal event, got %v", doneErr)
	}
}

func TestClassifyExecErr(t *testing.T) {
	if err := classifyExecErr(errors.New("exit status 1"), "Error: No such container: ollama"); !IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if err := classifyExecErr(errors.New("exit status 1"), "Cannot connect to the Docker daemon at unix:///var/run/docker.sock"); !IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if err := classifyExecErr(exec.ErrNotFound, ""); !IsUnavailable(err) {
		t.Fatalf("expected unavailable for missing binary, got %v", err)
	}
	if err := classifyExecErr(errors.New("exit status 1"), "something else"); IsNotFound(err) || IsUnavailable(err) {
		t.Fatalf("unexpected classification: %v", err)
	}
}
