// Package election implements spec.md section 4.4: the leader-selection,
// propagation and leader-liveness-ping state machine every tracker runs.
// It is grounded on the teacher's internal/replication coordinator's
// single-loop-with-mode-dispatch shape, generalized from its quorum
// read/write RPCs to the control protocol's selection/notify/commit/ping
// commands.
package election

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rachitkumar205/trackerd/internal/groupstore"
	"github.com/rachitkumar205/trackerd/internal/metrics"
	"github.com/rachitkumar205/trackerd/internal/statussampler"
	"github.com/rachitkumar205/trackerd/internal/wire"
)

// NoLeader is the sentinel leaderIndex value meaning "no leader known"
// (spec.md section 3).
const NoLeader int32 = -1

// maxBackoffSeconds bounds the jittered retry delay used after an empty
// selection round or a failed self-propagation (spec.md section 4.4.1).
const maxBackoffSeconds = 10

// demotionThreshold is the number of consecutive ping failures that
// demote a known leader back to NoLeader (spec.md section 4.4.3).
const demotionThreshold = 3

// tickInterval is the cadence of the loop's normal (non-backoff) body.
const tickInterval = 1 * time.Second

// Clock isolates time.Since/time.Now so RunningTime/RestartInterval can
// be computed deterministically in tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Loop is spec.md section 4.4's ElectionLoop: one tracker's view of the
// tracker table, its own ordinal, and the leader it currently believes in.
type Loop struct {
	table       []*Peer
	selfOrdinal int

	connectTimeout time.Duration
	networkTimeout time.Duration

	sampler *statussampler.Sampler
	store   *groupstore.Store
	onLead  groupstore.FindTrunkServersFunc

	logger  *zap.Logger
	metrics *metrics.Metrics

	leaderIndex  atomic.Int32
	ifLeaderSelf atomic.Bool

	restartInterval int32
	processStart    time.Time
	clock           Clock

	// pingFailures is reset by HandleCommit on the trackerserver accept
	// goroutine and read-modify-written by runPingRound on the election
	// loop goroutine, so it is atomic rather than a plain int.
	pingFailures atomic.Int32

	rand *rand.Rand
}

// Config bundles Loop's construction-time dependencies.
type Config struct {
	Table           []*Peer
	SelfOrdinal     int
	ConnectTimeout  time.Duration
	NetworkTimeout  time.Duration
	Sampler         *statussampler.Sampler
	Store           *groupstore.Store
	OnLeaderElected groupstore.FindTrunkServersFunc
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
	RestartInterval int32
	ProcessStart    time.Time
}

func New(cfg Config) *Loop {
	l := &Loop{
		table:           cfg.Table,
		selfOrdinal:     cfg.SelfOrdinal,
		connectTimeout:  cfg.ConnectTimeout,
		networkTimeout:  cfg.NetworkTimeout,
		sampler:         cfg.Sampler,
		store:           cfg.Store,
		onLead:          cfg.OnLeaderElected,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		restartInterval: cfg.RestartInterval,
		processStart:    cfg.ProcessStart,
		clock:           realClock{},
		rand:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	l.leaderIndex.Store(NoLeader)
	l.metrics.LeaderIndex.Set(float64(NoLeader))
	return l
}

// LeaderIndex reports the ordinal of the currently known leader, or
// NoLeader.
func (l *Loop) LeaderIndex() int32 { return l.leaderIndex.Load() }

// IfLeaderSelf reports whether this tracker believes itself to be leader.
func (l *Loop) IfLeaderSelf() bool { return l.ifLeaderSelf.Load() }

// SelfOrdinal returns this tracker's position in the table.
func (l *Loop) SelfOrdinal() int { return l.selfOrdinal }

func (l *Loop) setLeaderIndex(idx int32) {
	l.leaderIndex.Store(idx)
	l.metrics.LeaderIndex.Set(float64(idx))
}

// Status implements the server side of GET_TRACKER_STATUS (spec.md
// section 6): this tracker's own self-reported running status.
func (l *Loop) Status() wire.TrackerStatusBody {
	return wire.TrackerStatusBody{
		IfLeader:        l.IfLeaderSelf(),
		RunningTime:     int32(l.clock.Now().Sub(l.processStart).Seconds()),
		RestartInterval: l.restartInterval,
	}
}

// Run drives the loop until ctx is canceled, per spec.md section 9's
// resolution of the original pthread_kill-based stop mechanism in favor
// of context cancellation polled at loop boundaries.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		switch {
		case l.LeaderIndex() == NoLeader:
			backoff := l.runSelectionRound(ctx)
			if backoff {
				l.sleep(ctx, l.jitteredBackoff())
				continue
			}
		case l.LeaderIndex() == int32(l.selfOrdinal):
			// Leader: nothing to originate each tick. PING_LEADER requests
			// from followers are served by the trackerserver listener.
		default:
			l.runPingRound()
		}

		l.sleep(ctx, tickInterval)
	}
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (l *Loop) jitteredBackoff() time.Duration {
	return time.Duration(1+l.rand.Intn(maxBackoffSeconds)) * time.Second
}

// runSelectionRound implements spec.md section 4.4.1. It returns true when
// the caller should apply the jittered backoff rather than the normal
// tick cadence: an empty sample set, or a failed self-propagation.
func (l *Loop) runSelectionRound(ctx context.Context) (backoff bool) {
	results := make([]statussampler.RunningStatus, 0, len(l.table))

	for i, peer := range l.table {
		if ctx.Err() != nil {
			return false
		}
		var status statussampler.RunningStatus
		var err error
		if i == l.selfOrdinal {
			status = statussampler.RunningStatus{
				PeerAddr:        peer.Addr(),
				PeerIP:          peer.IP,
				PeerPort:        peer.Port,
				Ordinal:         i,
				IfLeader:        l.IfLeaderSelf(),
				RunningTime:     l.Status().RunningTime,
				RestartInterval: l.restartInterval,
			}
		} else {
			status, err = l.sampler.Sample(peer.Addr(), peer.IP, peer.Port, i)
		}
		if err != nil {
			continue
		}
		results = append(results, status)
	}

	l.metrics.ElectionRoundsTotal.Inc()

	if len(results) == 0 {
		l.logger.Debug("selection round: no reachable peers, backing off")
		return true
	}

	sort.SliceStable(results, func(a, b int) bool {
		return lessRunningStatus(results[a], results[b])
	})
	winner := results[len(results)-1]

	switch {
	case winner.Ordinal == l.selfOrdinal:
		if err := l.ascend(); err != nil {
			l.logger.Error("self-election propagation failed", zap.Error(err))
			return true
		}
		return false

	case winner.IfLeader:
		l.logger.Info("following already-ascended leader",
			zap.Int("leader_ordinal", winner.Ordinal),
			zap.String("leader_addr", winner.PeerAddr))
		l.setLeaderIndex(int32(winner.Ordinal))
		return false

	default:
		// Winner exists but has not yet learned it is leader. Its own
		// round will propagate NOTIFY/COMMIT shortly; just retry.
		l.logger.Debug("selection round: winner not yet ascended",
			zap.Int("winner_ordinal", winner.Ordinal))
		return false
	}
}

// lessRunningStatus orders candidates ascending by the five-key total
// order of spec.md section 4.4.1: the last element after sorting wins.
func lessRunningStatus(a, b statussampler.RunningStatus) bool {
	if a.IfLeader != b.IfLeader {
		return !a.IfLeader && b.IfLeader
	}
	if a.RunningTime != b.RunningTime {
		return a.RunningTime < b.RunningTime
	}
	if a.RestartInterval != b.RestartInterval {
		return a.RestartInterval < b.RestartInterval
	}
	if a.PeerIP != b.PeerIP {
		return a.PeerIP < b.PeerIP
	}
	return a.PeerPort < b.PeerPort
}

// ascend implements spec.md section 4.4.1 step 4's self-election path:
// propagate, then — only on success — flip if_leader_self, publish
// leaderIndex, and invoke the trunk-server hook.
func (l *Loop) ascend() error {
	if err := l.propagate(); err != nil {
		return err
	}
	l.ifLeaderSelf.Store(true)
	l.setLeaderIndex(int32(l.selfOrdinal))
	if l.onLead != nil {
		l.onLead(l.store)
	}
	l.logger.Info("ascended to leader", zap.Int("ordinal", l.selfOrdinal))
	return nil
}

// propagate implements spec.md section 4.4.2: two phases, NOTIFY then
// COMMIT, each requiring at least one success.
func (l *Loop) propagate() error {
	self := l.table[l.selfOrdinal]
	body, err := wire.EncodeIPPort(self.Addr())
	if err != nil {
		return fmt.Errorf("encode self address: %w", err)
	}

	if _, err := l.doPropagationPhase(wire.CmdNotifyNextLeader, "notify", body); err != nil {
		return fmt.Errorf("notify phase: %w", err)
	}
	if _, err := l.doPropagationPhase(wire.CmdCommitNextLeader, "commit", body); err != nil {
		return fmt.Errorf("commit phase: %w", err)
	}
	return nil
}

// doPropagationPhase sends cmd to every other peer in table order. A
// connect failure is tolerated and the phase continues; any other
// send/receive failure aborts the whole phase immediately. The phase
// succeeds only if at least one peer acknowledged it.
func (l *Loop) doPropagationPhase(cmd wire.Command, phaseLabel string, body []byte) (successCount int, err error) {
	var lastErr error

	for i, peer := range l.table {
		if i == l.selfOrdinal {
			continue
		}

		conn, dialErr := wire.Dial(peer.Addr(), l.connectTimeout)
		if dialErr != nil {
			lastErr = dialErr
			continue
		}

		_, _, sendErr := wire.SendRequest(conn, cmd, body, l.networkTimeout)
		conn.Close()
		if sendErr != nil {
			l.metrics.PropagationPhaseResult.WithLabelValues(phaseLabel, "error").Inc()
			return successCount, sendErr
		}
		successCount++
	}

	if successCount == 0 {
		l.metrics.PropagationPhaseResult.WithLabelValues(phaseLabel, "no_peers").Inc()
		if lastErr == nil {
			lastErr = errors.New("no peers reachable")
		}
		return 0, lastErr
	}

	l.metrics.PropagationPhaseResult.WithLabelValues(phaseLabel, "ok").Inc()
	return successCount, nil
}

// runPingRound implements spec.md section 4.4.3: ping the known leader,
// apply any trunk-server assignment updates, and demote after three
// consecutive failures.
func (l *Loop) runPingRound() {
	idx := l.LeaderIndex()
	if idx < 0 || int(idx) >= len(l.table) {
		return
	}
	leader := l.table[idx]

	conn, err := l.leaderConn(leader)
	if err != nil {
		l.recordPingFailure(leader)
		return
	}

	start := l.clock.Now()
	_, body, err := wire.SendRequest(conn, wire.CmdPingLeader, nil, l.networkTimeout)
	l.metrics.PingLatency.Observe(l.clock.Now().Sub(start).Seconds())
	if err != nil {
		leader.CloseSocket()
		l.recordPingFailure(leader)
		return
	}

	records, err := wire.DecodeTrunkRecords(body)
	if err != nil {
		leader.CloseSocket()
		l.recordPingFailure(leader)
		return
	}

	l.pingFailures.Store(0)
	l.metrics.PingFailureStreak.Set(0)

	if len(records) > 0 {
		l.applyTrunkRecords(records)
	}
}

func (l *Loop) leaderConn(leader *Peer) (net.Conn, error) {
	if conn := leader.Socket(); conn != nil {
		return conn, nil
	}
	conn, err := wire.Dial(leader.Addr(), l.connectTimeout)
	if err != nil {
		return nil, err
	}
	leader.SetSocket(conn)
	return conn, nil
}

func (l *Loop) recordPingFailure(leader *Peer) {
	failures := l.pingFailures.Add(1)
	l.metrics.PingFailureStreak.Set(float64(failures))
	if failures >= demotionThreshold {
		l.logger.Error("demoting leader after repeated ping failures",
			zap.Int("leader_ordinal", int(l.LeaderIndex())),
			zap.Int32("failures", failures))
		l.setLeaderIndex(NoLeader)
		l.metrics.LeaderDemotionsTotal.Inc()
		l.pingFailures.Store(0)
	}
}

func (l *Loop) applyTrunkRecords(records []wire.TrunkRecord) {
	for _, rec := range records {
		g := l.store.GetGroupByName(rec.GroupName)
		if g == nil {
			l.logger.Warn("ping reply names unknown group", zap.String("group", rec.GroupName))
			continue
		}
		if rec.TrunkServerID == "" {
			g.LastTrunkServerID = ""
			g.TrunkServer = nil
			continue
		}
		srv := l.store.GetStorageByID(g, rec.TrunkServerID)
		if srv == nil {
			l.logger.Warn("ping reply names unknown storage id",
				zap.String("group", rec.GroupName),
				zap.String("storage_id", rec.TrunkServerID))
		}
		g.LastTrunkServerID = rec.TrunkServerID
		g.TrunkServer = srv
	}

	if err := l.store.SaveGroupsToDisk(); err != nil {
		l.logger.Error("failed to persist group snapshot after ping update", zap.Error(err))
	}
}

// HandleNotify is the server side of NOTIFY_NEXT_LEADER (spec.md section
// 6): it checks the address against the tracker table and logs a warning
// when no peer matches. Nothing is stored and the notify is always
// accepted; the commit phase is the one that moves leaderIndex.
func (l *Loop) HandleNotify(ipPort string) error {
	if _, ok := l.ordinalForAddr(ipPort); !ok {
		l.logger.Warn("notify for unknown peer address", zap.String("addr", ipPort))
	}
	return nil
}

// HandleCommit is the server side of COMMIT_NEXT_LEADER (spec.md section
// 6): finalize leaderIndex to the named peer.
func (l *Loop) HandleCommit(ipPort string) error {
	ordinal, ok := l.ordinalForAddr(ipPort)
	if !ok {
		return fmt.Errorf("commit for unknown peer address %q", ipPort)
	}
	l.setLeaderIndex(int32(ordinal))
	l.pingFailures.Store(0)
	if ordinal == l.selfOrdinal {
		l.ifLeaderSelf.Store(true)
	}
	l.logger.Info("committed new leader", zap.Int("ordinal", ordinal), zap.String("addr", ipPort))
	return nil
}

// PendingTrunkRecords is the leader side of PING_LEADER (spec.md section
// 6): the set of trunk-server assignments currently known, sent to every
// follower that pings. Sending the full set on every ping is redundant
// but idempotent — followers apply the same assignment repeatedly with
// no ill effect (spec.md section 4.4.3 step 2).
func (l *Loop) PendingTrunkRecords() []wire.TrunkRecord {
	groups := l.store.Groups()
	records := make([]wire.TrunkRecord, 0, len(groups))
	for _, g := range groups {
		if g.TrunkServer == nil {
			continue
		}
		records = append(records, wire.TrunkRecord{
			GroupName:     g.Name,
			TrunkServerID: g.TrunkServer.IP,
		})
	}
	return records
}

func (l *Loop) ordinalForAddr(addr string) (int, bool) {
	for i, p := range l.table {
		if p.Addr() == addr {
			return i, true
		}
	}
	return -1, false
}
