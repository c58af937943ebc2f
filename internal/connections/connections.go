// Package connections is the Connection Enumerator (spec.md §4.2): it
// lists every live remote-ended socket on the host, preferring the
// kernel socket table via gopsutil and falling back to parsing lsof's
// machine-readable output when the primary path is unavailable or
// returns nothing.
package connections

import (
	"context"
	"os"

	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/serome111/portwatch/internal/model"
)

// Raw is one enumerated socket before enrichment: endpoints, protocol,
// status, and owning pid only.
type Raw struct {
	Local    model.Endpoint
	Remote   model.Endpoint
	Protocol model.Protocol
	Status   string
	PID      int32
}

// Enumerator lists live sockets, excluding this process's own pid
// (spec.md §4.11 self-protection extends to enumeration: PortWatch
// never reports, scores, or kills itself).
type Enumerator struct {
	selfPID int32
}

// New constructs an Enumerator that excludes the calling process.
func New() *Enumerator {
	return &Enumerator{selfPID: int32(os.Getpid())}
}

// Enumerate returns every live socket with a non-empty remote address,
// trying the gopsutil kernel socket table first and falling back to
// lsof parsing if that returns no rows (e.g. insufficient privilege, or
// a kernel table gopsutil can't read on this platform).
func (e *Enumerator) Enumerate(ctx context.Context) ([]Raw, error) {
	rows, err := e.enumerateGopsutil()
	if err == nil && len(rows) > 0 {
		return rows, nil
	}

	fallback, ferr := e.enumerateLsof(ctx)
	if ferr == nil && len(fallback) > 0 {
		return fallback, nil
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *Enumerator) enumerateGopsutil() ([]Raw, error) {
	conns, err := gopsnet.Connections("inet")
	if err != nil {
		return nil, err
	}

	rows := make([]Raw, 0, len(conns))
	for _, c := range conns {
		if c.Pid == e.selfPID {
			continue
		}
		if c.Raddr.IP == "" || c.Raddr.Port == 0 {
			continue
		}
		proto := model.ProtocolTCP
		if c.Type == 2 { // syscall.SOCK_DGRAM
			proto = model.ProtocolUDP
		}
		rows = append(rows, Raw{
			Local:    model.Endpoint{Addr: c.Laddr.IP, Port: int(c.Laddr.Port)},
			Remote:   model.Endpoint{Addr: c.Raddr.IP, Port: int(c.Raddr.Port)},
			Protocol: proto,
			Status:   c.Status,
			PID:      c.Pid,
		})
	}
	return rows, nil
}
