package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide datagram counter.
var Stats = &stats{}

type stats struct {
	DatagramsSent atomic.Int64 // every datagram written to the peer socket, retransmissions included
	DatagramsRecv atomic.Int64 // every datagram read from the peer socket
	Retransmits   atomic.Int64 // stop-and-wait retransmissions
	Malformed     atomic.Int64 // datagrams dropped by the decoder
	ControlMsgs   atomic.Int64 // control-plane records received from the local client
}

func (s *stats) AddSent()       { s.DatagramsSent.Add(1) }
func (s *stats) AddRecv()       { s.DatagramsRecv.Add(1) }
func (s *stats) AddRetransmit() { s.Retransmits.Add(1) }
func (s *stats) AddMalformed()  { s.Malformed.Add(1) }
func (s *stats) AddControl()    { s.ControlMsgs.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs datagram statistics every
// interval. Quiet intervals are not logged. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				delta := cur.sub(prev)
				if delta.active() {
					pterm.DefaultLogger.Info(formatStats(delta))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	sent, recv, retransmits, malformed, control int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		sent:        s.DatagramsSent.Load(),
		recv:        s.DatagramsRecv.Load(),
		retransmits: s.Retransmits.Load(),
		malformed:   s.Malformed.Load(),
		control:     s.ControlMsgs.Load(),
	}
}

func (a snapshot) sub(b snapshot) snapshot {
	return snapshot{
		sent:        a.sent - b.sent,
		recv:        a.recv - b.recv,
		retransmits: a.retransmits - b.retransmits,
		malformed:   a.malformed - b.malformed,
		control:     a.control - b.control,
	}
}

func (a snapshot) active() bool {
	return a.sent != 0 || a.recv != 0 || a.malformed != 0 || a.control != 0
}

// formatStats returns a one-line summary of one reporting interval.
func formatStats(d snapshot) string {
	return fmt.Sprintf("Datagrams: %3d↑ %3d↓ | Retransmits: %3d | Dropped: %3d | Client: %3d",
		d.sent,
		d.recv,
		d.retransmits,
		d.malformed,
		d.control,
	)
}
