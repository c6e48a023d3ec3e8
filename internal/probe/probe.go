// Package probe performs single reachability/capability checks against
// configured backends. A probe never fails past its boundary: every
// outcome is folded into the returned ConnectionStatus.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llmtrayd/internal/container"
	"llmtrayd/pkg/types"
)

const defaultTimeout = 3 * time.Second

// Prober checks one connection at a time. Safe for concurrent use.
type Prober struct {
	containers container.Controller
	client     *http.Client
	// grace is the startup window in which a running container with a
	// dead HTTP endpoint gets one retry before being reported offline.
	grace time.Duration
	log   zerolog.Logger

	mu      sync.RWMutex
	timeout time.Duration
}

// New builds a Prober. timeout bounds the whole probe of one connection.
func New(containers container.Controller, timeout, grace time.Duration, log zerolog.Logger) *Prober {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:    32,
		IdleConnTimeout: 90 * time.Second,
	}
	// Timeout stays 0 on the client: every request carries a context
	// deadline instead.
	return &Prober{
		containers: containers,
		client:     &http.Client{Transport: tr, Timeout: 0},
		timeout:    timeout,
		grace:      grace,
		log:        log,
	}
}

// Timeout returns the per-probe deadline.
func (p *Prober) Timeout() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.timeout
}

// SetTimeout adjusts the per-probe deadline for subsequent probes.
func (p *Prober) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	p.timeout = d
	p.mu.Unlock()
}

// Probe runs one bounded check and returns the status snapshot.
func (p *Prober) Probe(ctx context.Context, conn types.Connection) types.ConnectionStatus {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	st := types.ConnectionStatus{ConnectionID: conn.ID, CheckedAt: time.Now()}
	switch conn.Kind {
	case types.KindRemoteAPI:
		p.probeRemote(ctx, conn, &st)
	case types.KindContainerManaged:
		p.probeContainer(ctx, conn, &st)
	default:
		st.Reachability = types.ReachUnknown
		st.LastError = "unknown connection kind: " + string(conn.Kind)
	}
	return st
}

func (p *Prober) probeRemote(ctx context.Context, conn types.Connection, st *types.ConnectionStatus) {
	if err := validBaseURL(conn.BaseURL); err != nil {
		// Probe not attemptable at all.
		st.Reachability = types.ReachUnknown
		st.LastError = err.Error()
		return
	}
	if err := p.liveness(ctx, conn); err != nil {
		st.Reachability = types.ReachOffline
		st.LastError = err.Error()
		return
	}
	st.Reachability = types.ReachOnline
}

func (p *Prober) probeContainer(ctx context.Context, conn types.Connection, st *types.ConnectionStatus) {
	insp, err := p.containers.Inspect(ctx, conn.Container)
	switch {
	case err == nil:
	case container.IsNotFound(err):
		st.Reachability = types.ReachOffline
		st.ComputeMode = types.ComputeNotRunning
		st.LastError = err.Error()
		return
	case container.IsUnavailable(err):
		st.Reachability = types.ReachUnknown
		st.LastError = err.Error()
		return
	default:
		st.Reachability = types.ReachUnknown
		st.LastError = err.Error()
		return
	}
	if !insp.Running {
		st.Reachability = types.ReachOffline
		st.ComputeMode = types.ComputeNotRunning
		return
	}
	if insp.GPU {
		st.ComputeMode = types.ComputeGPU
	} else {
		st.ComputeMode = types.ComputeCPU
	}
	// Container up is not enough: the server inside must answer HTTP.
	// The worse of the two signals wins.
	err = p.liveness(ctx, conn)
	if err != nil && p.grace > 0 {
		// One retry inside the grace window covers containers still
		// booting their server process. The wait is capped at half the
		// remaining deadline budget so a grace period at or above the
		// probe timeout still leaves the retry room to run.
		wait := p.grace
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); wait > rem/2 {
				wait = rem / 2
			}
		}
		select {
		case <-time.After(wait):
			err = p.liveness(ctx, conn)
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if err != nil {
		st.Reachability = types.ReachOffline
		st.LastError = err.Error()
		return
	}
	st.Reachability = types.ReachOnline
}

// liveness issues the minimal list-models call and requires a
// well-formed JSON success response.
func (p *Prober) liveness(ctx context.Context, conn types.Connection) error {
	u := strings.TrimRight(conn.BaseURL, "/") + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if conn.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+conn.APIKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("liveness check: %s", resp.Status)
	}
	var body json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return fmt.Errorf("liveness check: malformed response: %w", err)
	}
	return nil
}

func validBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("malformed base url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("malformed base url: missing host")
	}
	return nil
}
