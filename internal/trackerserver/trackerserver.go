// Package trackerserver implements the server side of the control
// protocol described in spec.md section 6: accept connections, dispatch
// one request per connection to the election loop, and reply. It is
// grounded on the teacher's internal/server gRPC service, generalized
// from a generated-stub dispatch table to a manual command switch over
// internal/wire's fixed binary framing.
package trackerserver

import (
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/rachitkumar205/trackerd/internal/election"
	"github.com/rachitkumar205/trackerd/internal/wire"
)

// Server accepts control-protocol connections and dispatches them to an
// election.Loop.
type Server struct {
	listener net.Listener
	election *election.Loop
	logger   *zap.Logger

	networkTimeout time.Duration
}

func New(listener net.Listener, loop *election.Loop, logger *zap.Logger, networkTimeout time.Duration) *Server {
	return &Server{listener: listener, election: loop, logger: logger, networkTimeout: networkTimeout}
}

// Serve accepts connections until the listener is closed. It is intended
// to be run under an oklog/run.Group actor alongside the election loop
// and health prober; closing the listener (the actor's interrupt
// function) is what ends Serve.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept failed", zap.Error(err))
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	h, body, err := wire.ReadRequest(conn, s.networkTimeout)
	if err != nil {
		s.logger.Debug("control connection read failed", zap.Error(err))
		return
	}

	status, respBody := s.dispatch(h.Cmd, body)
	if err := wire.WriteResponse(conn, status, respBody); err != nil {
		s.logger.Debug("control connection write failed", zap.Error(err))
	}
}

func (s *Server) dispatch(cmd wire.Command, body []byte) (status uint8, respBody []byte) {
	switch cmd {
	case wire.CmdGetTrackerStatus:
		return wire.StatusOK, wire.EncodeTrackerStatus(s.election.Status())

	case wire.CmdNotifyNextLeader:
		addr, err := wire.DecodeIPPort(body)
		if err != nil {
			return wire.StatusMalformed, nil
		}
		if err := s.election.HandleNotify(addr); err != nil {
			return wire.StatusRejected, nil
		}
		return wire.StatusOK, nil

	case wire.CmdCommitNextLeader:
		addr, err := wire.DecodeIPPort(body)
		if err != nil {
			return wire.StatusMalformed, nil
		}
		if err := s.election.HandleCommit(addr); err != nil {
			return wire.StatusRejected, nil
		}
		return wire.StatusOK, nil

	case wire.CmdPingLeader:
		records, err := wire.EncodeTrunkRecords(s.election.PendingTrunkRecords())
		if err != nil {
			s.logger.Error("failed to encode trunk records", zap.Error(err))
			return wire.StatusInternal, nil
		}
		return wire.StatusOK, records

	default:
		return wire.StatusRejected, nil
	}
}
