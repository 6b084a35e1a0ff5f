package worker

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const progressBarWidth = 30

// ProgressConfig configures a Progress reporter.
type ProgressConfig struct {
	Total   int
	Output  io.Writer // stderr when nil
	Enabled bool

	// Interval is the minimum time between two redraws. The final update is
	// always drawn. Zero redraws on every update.
	Interval time.Duration

	// CacheHits reports how many of the completed tiles were served from the
	// local cache. It is read on every tick.
	CacheHits func() int64
}

// ProgressSnapshot is a point-in-time view of a prefetch run.
type ProgressSnapshot struct {
	Completed int
	Total     int
	Failed    int
	Cached    int64
	Elapsed   time.Duration
}

// Downloaded returns the number of tiles that were fetched from the network.
func (s ProgressSnapshot) Downloaded() int {
	n := s.Completed - s.Failed - int(s.Cached)
	if n < 0 {
		return 0
	}
	return n
}

// Rate returns completed tiles per second.
func (s ProgressSnapshot) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Completed) / s.Elapsed.Seconds()
}

// ETA estimates the time left at the current rate. It is zero when unknown.
func (s ProgressSnapshot) ETA() time.Duration {
	rate := s.Rate()
	if rate <= 0 || s.Completed >= s.Total {
		return 0
	}
	return time.Duration(float64(s.Total-s.Completed) / rate * float64(time.Second))
}

// Line renders the snapshot as a single terminal line.
func (s ProgressSnapshot) Line() string {
	if s.Total <= 0 {
		return ""
	}

	filled := s.Completed * progressBarWidth / s.Total
	if filled > progressBarWidth {
		filled = progressBarWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", progressBarWidth-filled)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %d/%d tiles", bar, s.Completed, s.Total)
	if s.Cached > 0 {
		fmt.Fprintf(&b, ", %d cached", s.Cached)
	}
	if s.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", s.Failed)
	}
	fmt.Fprintf(&b, " | %.1f tiles/s", s.Rate())
	switch {
	case s.Completed >= s.Total:
		fmt.Fprintf(&b, " | done in %s", formatDuration(s.Elapsed))
	case s.ETA() > 0:
		fmt.Fprintf(&b, " | ETA %s", formatDuration(s.ETA()))
	}
	return b.String()
}

// Progress tracks a prefetch run and redraws its state on one terminal line.
type Progress struct {
	cfg   ProgressConfig
	start time.Time

	mu        sync.Mutex
	completed int
	total     int
	failed    int
	lastDraw  time.Time
	drawnLen  int
}

// NewProgress creates a progress reporter.
func NewProgress(cfg ProgressConfig) *Progress {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	return &Progress{
		cfg:   cfg,
		start: time.Now(),
		total: cfg.Total,
	}
}

// Update records the pool's counters and redraws when the interval has passed.
func (p *Progress) Update(completed, total, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completed = completed
	p.total = total
	p.failed = failed

	if !p.cfg.Enabled {
		return
	}
	now := time.Now()
	if completed < total && p.cfg.Interval > 0 && now.Sub(p.lastDraw) < p.cfg.Interval {
		return
	}
	p.lastDraw = now
	p.drawLocked()
}

// Callback returns a ProgressFunc suitable for use with Pool.Config.
func (p *Progress) Callback() ProgressFunc {
	return p.Update
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Progress) snapshotLocked() ProgressSnapshot {
	s := ProgressSnapshot{
		Completed: p.completed,
		Total:     p.total,
		Failed:    p.failed,
		Elapsed:   time.Since(p.start),
	}
	if p.cfg.CacheHits != nil {
		s.Cached = p.cfg.CacheHits()
	}
	return s
}

func (p *Progress) drawLocked() {
	line := p.snapshotLocked().Line()
	if line == "" {
		return
	}
	// Blank out whatever a longer previous line left behind.
	pad := ""
	if n := len(line); n < p.drawnLen {
		pad = strings.Repeat(" ", p.drawnLen-n)
	}
	p.drawnLen = len(line)
	fmt.Fprint(p.cfg.Output, "\r"+line+pad)
}

// Done draws the final state and ends the line.
func (p *Progress) Done() {
	if !p.cfg.Enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drawLocked()
	fmt.Fprintln(p.cfg.Output)
}

// Summary describes the finished run for the log.
func (p *Progress) Summary() string {
	s := p.Snapshot()
	return fmt.Sprintf("Prefetched %d/%d tiles in %s: %d downloaded, %d from cache, %d failed (%.1f tiles/s)",
		s.Completed-s.Failed, s.Total, formatDuration(s.Elapsed), s.Downloaded(), s.Cached, s.Failed, s.Rate())
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", hours, mins)
}
