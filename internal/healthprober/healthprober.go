// Package healthprober implements spec.md section 4.2: a concurrent-safe
// periodic supervisor of storage liveness that rebuilds each group's
// active-HTTP list. It is grounded on the teacher's internal/health
// probe loop (ticker + stop channel + per-peer connection bookkeeping),
// generalized from gRPC health-check RPCs to the TCP-connect / HTTP-GET
// probes spec.md section 4.2 requires.
package healthprober

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rachitkumar205/trackerd/internal/config"
	"github.com/rachitkumar205/trackerd/internal/failurecounter"
	"github.com/rachitkumar205/trackerd/internal/groupstore"
	"github.com/rachitkumar205/trackerd/internal/metrics"
	"github.com/rachitkumar205/trackerd/internal/wire"
)

// Prober runs the background liveness-supervision activity described in
// spec.md section 4.2.
type Prober struct {
	store  *groupstore.Store
	cfg    *config.Config
	logger *zap.Logger
	metrics *metrics.Metrics

	httpClient *http.Client

	mu      sync.Mutex
	running bool
	stopc   chan struct{}
	donec   chan struct{}
	dirty   atomic.Bool

	// counters holds one hysteresis State per "group/ip", so that a
	// server's failure streak survives across sweeps.
	countersMu sync.Mutex
	counters   map[string]*failurecounter.State
}

func New(store *groupstore.Store, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Prober {
	return &Prober{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		httpClient: &http.Client{
			Timeout: cfg.ConnectTimeout + cfg.NetworkTimeout,
		},
		counters: make(map[string]*failurecounter.State),
	}
}

// MarkDirty implements spec.md section 4.2/5's "membership changed —
// restart the sweep early" signal.
func (p *Prober) MarkDirty() {
	p.dirty.Store(true)
}

// Running reports whether the prober's background loop is active.
func (p *Prober) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start begins the supervisory loop in the background. It is a no-op
// when HTTPCheckInterval <= 0, per spec.md section 6.
func (p *Prober) Start() {
	if p.cfg.HTTPCheckInterval <= 0 {
		p.logger.Info("health prober disabled (http_check_interval <= 0)")
		return
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopc = make(chan struct{})
	p.donec = make(chan struct{})
	p.mu.Unlock()

	go p.loop()
}

// Stop halts the supervisory loop and, per spec.md section 4.2's
// shutdown behavior, logs a final summary for any server still in a
// failure streak. Stop waits for the background loop to exit. A probe
// already in flight is not interrupted: Stop waits for it to finish
// (bounded by the connect/network timeouts), and its result is recorded
// before the loop exits.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopc)
	donec := p.donec
	p.mu.Unlock()

	if donec != nil {
		<-donec
	}

	p.countersMu.Lock()
	for label, state := range p.counters {
		failurecounter.SummarizeIfFailing(p.logger, label, state)
	}
	p.countersMu.Unlock()
}

func (p *Prober) loop() {
	defer close(p.donec)

	for {
		select {
		case <-p.stopc:
			return
		default:
		}

		p.dirty.Store(false)
		p.sweepAll()

		// A sweep abandoned because membership changed restarts at once.
		if p.dirty.Load() {
			continue
		}

		select {
		case <-p.stopc:
			return
		case <-time.After(p.cfg.HTTPCheckInterval):
		}
	}
}

// sweepAll implements spec.md section 4.2's "repeatedly sweeps every
// group" loop body, one full pass over every configured group.
func (p *Prober) sweepAll() {
	for _, g := range p.store.Groups() {
		if p.shouldAbort() {
			return
		}
		if g.StorageHTTPPort <= 0 {
			continue
		}
		p.sweepGroup(g)
	}
}

func (p *Prober) shouldAbort() bool {
	select {
	case <-p.stopc:
		return true
	default:
	}
	return p.dirty.Load()
}

// sweepGroup implements spec.md section 4.2 steps 1-3 for a single group.
func (p *Prober) sweepGroup(g *groupstore.Group) {
	scratch := make([]*groupstore.StorageServer, 0, len(g.ActiveServers))

	for _, srv := range g.ActiveServers {
		if p.shouldAbort() {
			// Sweep abandoned: http_server_count for this group is not
			// updated this round (spec.md section 4.2, scenario 6).
			return
		}

		start := time.Now()
		ok, kind, detail := p.probe(srv.IP, g.StorageHTTPPort)
		p.metrics.ProbeRTT.WithLabelValues(g.Name).Observe(time.Since(start).Seconds())

		counter, state := p.counterFor(g.Name, srv)

		if ok {
			scratch = append(scratch, srv)
			counter.RecordSuccess()
			p.metrics.ProbeSuccessTotal.WithLabelValues(g.Name).Inc()
		} else {
			counter.RecordFailure(kind, detail)
			p.metrics.ProbeFailureTotal.WithLabelValues(g.Name).Inc()
		}
		syncState(srv, state)

		if p.shouldAbort() {
			return
		}
	}

	if len(scratch) != g.HTTPServerCount {
		p.logger.Debug("publishing new active-http list",
			zap.String("group", g.Name),
			zap.Int("previous_count", g.HTTPServerCount),
			zap.Int("new_count", len(scratch)))
	}
	g.PublishHTTPServers(scratch)
	p.metrics.GroupHTTPServerCount.WithLabelValues(g.Name).Set(float64(len(scratch)))
}

func (p *Prober) counterFor(group string, srv *groupstore.StorageServer) (*failurecounter.Counter, *failurecounter.State) {
	label := fmt.Sprintf("%s/%s", group, srv.IP)

	p.countersMu.Lock()
	state, ok := p.counters[label]
	if !ok {
		state = &failurecounter.State{
			FailCount:     srv.FailCount,
			LastErrno:     srv.LastErrno,
			LastHTTPCode:  srv.LastHTTPCode,
			ErrorInfoText: srv.ErrorInfoText,
		}
		p.counters[label] = state
	}
	p.countersMu.Unlock()

	mode := failurecounter.ModeErrno
	if p.cfg.HTTPCheckType == config.CheckTypeHTTP {
		mode = failurecounter.ModeHTTPStatus
	}
	return failurecounter.New(mode, state, p.logger, label), state
}

// syncState copies hysteresis state back onto the groupstore-owned
// server record, which is what operators read via logs (spec.md
// section 5: "written only by HealthProber").
func syncState(srv *groupstore.StorageServer, state *failurecounter.State) {
	srv.FailCount = state.FailCount
	srv.LastErrno = state.LastErrno
	srv.LastHTTPCode = state.LastHTTPCode
	srv.ErrorInfoText = state.ErrorInfoText
}

// probe dispatches to the TCP or HTTP probe per spec.md section 4.2.
// ok reports success; on failure, kind is an errno (TCP) or HTTP status
// (HTTP), and detail is a human-readable description for error_info_text.
func (p *Prober) probe(ip string, port int) (ok bool, kind int, detail string) {
	addr := fmt.Sprintf("%s:%d", ip, port)

	switch p.cfg.HTTPCheckType {
	case config.CheckTypeHTTP:
		return p.probeHTTP(addr)
	default:
		return p.probeTCP(addr)
	}
}

// probeTCP implements spec.md section 4.2's TCP probe: open a stream
// socket, attempt a bounded connect, close it. EPERM stands in for the
// "errno was 0" fallback the spec calls out.
func (p *Prober) probeTCP(addr string) (bool, int, string) {
	conn, err := wire.Dial(addr, p.cfg.ConnectTimeout)
	if err != nil {
		return false, errnoOrEPERM(err), err.Error()
	}
	conn.Close()
	return true, 0, ""
}

// probeHTTP implements spec.md section 4.2's HTTP probe. Any 200 is
// success; any other status is a failure of kind "status=N"; a
// transport failure records its errno. The body is always drained and
// closed.
func (p *Prober) probeHTTP(addr string) (bool, int, string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout+p.cfg.NetworkTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", addr, p.cfg.HTTPCheckURI)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, errnoOrEPERM(err), err.Error()
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, errnoOrEPERM(err), err.Error()
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return false, resp.StatusCode, fmt.Sprintf("status=%d", resp.StatusCode)
	}
	return true, 0, ""
}

// errnoOrEPERM recovers the connect errno wrapped in a net.OpError/
// os.SyscallError chain. When the underlying error carries no syscall
// errno (DNS failure, context deadline, non-transport error), EPERM (1)
// is used, matching spec.md section 4.2's explicit fallback.
func errnoOrEPERM(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return int(errno)
	}
	return 1
}
