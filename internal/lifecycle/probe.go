package lifecycle

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Prober is a cheap, side-effect-free reachability check against the
// managed service. It decides actual liveness; script exit codes do not.
type Prober interface {
	Probe(ctx context.Context) error
}

// TCPProbe dials the engine's known port and immediately closes the
// connection. A completed dial counts as alive.
type TCPProbe struct {
	Addr    string
	Timeout time.Duration
}

func (p TCPProbe) Probe(ctx context.Context) error {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return fmt.Errorf("probing %s: %w", p.Addr, err)
	}
	return conn.Close()
}
