package election

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	sockaddr "github.com/hashicorp/go-sockaddr"
)

// Peer is a single entry in the tracker table (spec.md section 3). Its
// identity — IP and Port — is stable; its Socket is the cached leader-ping
// connection, owned by Loop while leaderIndex points at this peer.
type Peer struct {
	IP   string
	Port int

	mu     sync.Mutex
	socket net.Conn
}

func (p *Peer) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// Socket returns the cached connection, if any is still open.
func (p *Peer) Socket() net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.socket
}

func (p *Peer) SetSocket(c net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.socket = c
}

// CloseSocket closes and clears the cached socket, forcing the next ping
// to reconnect (spec.md section 5: "on any send/receive failure it is
// closed and cleared").
func (p *Peer) CloseSocket() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket != nil {
		p.socket.Close()
		p.socket = nil
	}
}

// ParsePeers turns "ip:port" strings from config into an ordered Peer
// table; ordinal position is the index in the returned slice.
func ParsePeers(addrs []string) ([]*Peer, error) {
	table := make([]*Peer, 0, len(addrs))
	for _, a := range addrs {
		host, portStr, err := net.SplitHostPort(a)
		if err != nil {
			return nil, fmt.Errorf("invalid tracker address %q: %w", a, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid tracker port in %q: %w", a, err)
		}
		table = append(table, &Peer{IP: host, Port: port})
	}
	return table, nil
}

// DetermineSelfOrdinal finds this process's position in the tracker
// table. It prefers the explicit localAddrs configuration (spec.md
// section 6, "local address self-identification"); when that is empty it
// falls back to this host's private IP via go-sockaddr, plus loopback.
func DetermineSelfOrdinal(table []*Peer, localAddrs []string) (int, error) {
	candidates := append([]string(nil), localAddrs...)

	if len(candidates) == 0 {
		if ip, err := sockaddr.GetPrivateIP(); err == nil && ip != "" {
			candidates = append(candidates, ip)
		}
		candidates = append(candidates, "127.0.0.1", "localhost", "::1")
	}

	for i, p := range table {
		for _, c := range candidates {
			if strings.EqualFold(p.IP, c) {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("no tracker table entry matches this host's local addresses %v", candidates)
}
