// Package statussampler implements spec.md section 4.3: contact a single
// peer tracker once over the control protocol and return its
// self-reported running status. Adapted from the teacher's replication
// coordinator's single-peer-RPC shape, generalized from a persistent
// gRPC client connection to the control protocol's one-shot dial.
package statussampler

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rachitkumar205/trackerd/internal/metrics"
	"github.com/rachitkumar205/trackerd/internal/wire"
)

// ErrNotFound is returned when the peer is unreachable. Spec.md section
// 4.3 requires this be distinguishable from other errors: the election
// loop treats it as "skip this peer" rather than aborting the round.
var ErrNotFound = errors.New("statussampler: peer not found / unreachable")

// RunningStatus is the TrackerRunningStatus snapshot of spec.md section 3.
type RunningStatus struct {
	PeerAddr        string
	PeerIP          string
	PeerPort        int
	Ordinal         int
	IfLeader        bool
	RunningTime     int32
	RestartInterval int32
}

// Sampler contacts peers over the control protocol.
type Sampler struct {
	connectTimeout time.Duration
	networkTimeout time.Duration
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

func New(connectTimeout, networkTimeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Sampler {
	return &Sampler{connectTimeout: connectTimeout, networkTimeout: networkTimeout, logger: logger, metrics: m}
}

// Sample implements spec.md section 4.3's sample(peer). It opens a fresh
// connection, exchanges one GET_TRACKER_STATUS request/reply, and closes
// the connection itself (unlike the ping socket, this is not cached).
func (s *Sampler) Sample(addr, ip string, port, ordinal int) (RunningStatus, error) {
	conn, err := wire.Dial(addr, s.connectTimeout)
	if err != nil {
		s.metrics.SampleErrorsTotal.WithLabelValues(addr).Inc()
		return RunningStatus{}, ErrNotFound
	}
	defer conn.Close()

	_, body, err := wire.SendRequest(conn, wire.CmdGetTrackerStatus, nil, s.networkTimeout)
	if err != nil {
		s.metrics.SampleErrorsTotal.WithLabelValues(addr).Inc()
		var wireErr *wire.Error
		if errors.As(err, &wireErr) && wireErr.Kind == wire.Transport {
			return RunningStatus{}, ErrNotFound
		}
		return RunningStatus{}, err
	}

	status, err := wire.DecodeTrackerStatus(body)
	if err != nil {
		s.metrics.SampleErrorsTotal.WithLabelValues(addr).Inc()
		return RunningStatus{}, err
	}

	return RunningStatus{
		PeerAddr:        addr,
		PeerIP:          ip,
		PeerPort:        port,
		Ordinal:         ordinal,
		IfLeader:        status.IfLeader,
		RunningTime:     status.RunningTime,
		RestartInterval: status.RestartInterval,
	}, nil
}
