package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide segment traffic counter.
var Stats = &stats{}

type stats struct {
	SegsSent   atomic.Int64 // segments fully written to a socket
	SegsRecv   atomic.Int64 // segments fully read from a socket
	SegsFailed atomic.Int64 // segments moved to the failed-sending queue
	BytesSent  atomic.Int64 // framed bytes written
	BytesRecv  atomic.Int64 // framed bytes read
}

func (s *stats) AddSent(n int) {
	s.SegsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.SegsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddFailed() { s.SegsFailed.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs link statistics
// every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevSent, prevRecv, prevFailed int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				failed := Stats.SegsFailed.Load()

				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs
				retries := failed - prevFailed

				if retries > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, retries))
				}

				prevSent = sent
				prevRecv = recv
				prevFailed = failed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, retries int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Failed: %3d",
		formatBytes(inS),
		formatBytes(outS),
		retries,
	)
}
