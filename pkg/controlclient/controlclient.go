// Package controlclient is a thin client for the tracker control
// protocol (spec.md section 6), used by operator tooling. It is
// grounded on the teacher's pkg/client wrapper, generalized from a
// persistent grpc.ClientConn to a one-shot connection per call, matching
// internal/wire's model.
package controlclient

import (
	"time"

	"github.com/rachitkumar205/trackerd/internal/wire"
)

// Client issues one-shot control-protocol requests against a single
// tracker address.
type Client struct {
	addr    string
	timeout time.Duration
}

func New(addr string, timeout time.Duration) *Client {
	return &Client{addr: addr, timeout: timeout}
}

// Status implements GET_TRACKER_STATUS.
func (c *Client) Status() (wire.TrackerStatusBody, error) {
	conn, err := wire.Dial(c.addr, c.timeout)
	if err != nil {
		return wire.TrackerStatusBody{}, err
	}
	defer conn.Close()

	_, body, err := wire.SendRequest(conn, wire.CmdGetTrackerStatus, nil, c.timeout)
	if err != nil {
		return wire.TrackerStatusBody{}, err
	}
	return wire.DecodeTrackerStatus(body)
}

// Ping implements PING_LEADER, returning any trunk-server records the
// peer reports.
func (c *Client) Ping() ([]wire.TrunkRecord, error) {
	conn, err := wire.Dial(c.addr, c.timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	_, body, err := wire.SendRequest(conn, wire.CmdPingLeader, nil, c.timeout)
	if err != nil {
		return nil, err
	}
	return wire.DecodeTrunkRecords(body)
}

// NotifyNextLeader implements NOTIFY_NEXT_LEADER, useful for operator-driven
// manual failover testing.
func (c *Client) NotifyNextLeader(leaderAddr string) error {
	return c.sendIPPort(wire.CmdNotifyNextLeader, leaderAddr)
}

// CommitNextLeader implements COMMIT_NEXT_LEADER.
func (c *Client) CommitNextLeader(leaderAddr string) error {
	return c.sendIPPort(wire.CmdCommitNextLeader, leaderAddr)
}

func (c *Client) sendIPPort(cmd wire.Command, ipPort string) error {
	conn, err := wire.Dial(c.addr, c.timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	body, err := wire.EncodeIPPort(ipPort)
	if err != nil {
		return err
	}
	_, _, err = wire.SendRequest(conn, cmd, body, c.timeout)
	return err
}
