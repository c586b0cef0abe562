// Package progress renders a single, periodically overwritten line describing how far a download
// has got: percentage, smoothed throughput and estimated time remaining.
//
//	42.125% 1830.27 KB/sec 3 minutes 12 seconds
package progress

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"
)

const (
	// smoothing is the weight kept from the previous average on every tick.
	smoothing = 0.95

	defaultInterval = time.Second

	// trailing blanks wipe leftovers of a longer previous line
	linePadding = "        "
)

// Source is what the monitor observes. BytesSoFar may be slightly stale; Done must be safe for
// concurrent use.
type Source interface {
	BytesSoFar() int64
	Total() int64
	Done() bool
}

// Estimator turns successive byte counts into a Status. It is not safe for concurrent use.
type Estimator struct {
	length       int64
	lastFraction float64
	lastTime     time.Time
	avgRate      float64
}

// Status is one observation of the download.
type Status struct {
	Fraction float64
	// Rate is the smoothed rate in fractions of the whole per second.
	Rate float64
	// BytesPerSecond is Rate scaled by the resource length.
	BytesPerSecond float64
}

func NewEstimator(length, bytesSoFar int64, now time.Time) *Estimator {
	e := &Estimator{length: length, lastTime: now}
	e.lastFraction = e.fraction(bytesSoFar)
	return e
}

func (e *Estimator) fraction(bytes int64) float64 {
	if e.length <= 0 {
		return 0
	}
	return float64(bytes) / float64(e.length)
}

// Update folds a new byte count into the running average.
func (e *Estimator) Update(bytesSoFar int64, now time.Time) Status {
	fraction := e.fraction(bytesSoFar)
	elapsed := now.Sub(e.lastTime).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = (fraction - e.lastFraction) / elapsed
	}
	e.avgRate = smoothing*e.avgRate + (1-smoothing)*rate
	e.lastFraction = fraction
	e.lastTime = now

	return Status{
		Fraction:       fraction,
		Rate:           e.avgRate,
		BytesPerSecond: float64(e.length) * e.avgRate,
	}
}

// Remaining estimates the time left. ok is false when nothing useful can be said, e.g. before any
// bytes have arrived.
func (s Status) Remaining() (d time.Duration, ok bool) {
	if s.Rate <= 0 {
		return 0, false
	}
	seconds := (1 - s.Fraction) / s.Rate
	if seconds < 0 {
		seconds = 0
	}
	if math.IsInf(seconds, 0) || math.IsNaN(seconds) || seconds > float64(math.MaxInt64/int64(time.Second)) {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

func (s Status) String() string {
	text := fmt.Sprintf("%.3f%% %.2f KB/sec", 100*s.Fraction, s.BytesPerSecond/1024)
	if d, ok := s.Remaining(); ok {
		return text + " " + FormatRemaining(d)
	}
	return text + " unknown"
}

// FormatRemaining spells out d as hours, minutes and seconds. Hours and minutes are left out when
// zero; seconds are always present.
func FormatRemaining(d time.Duration) string {
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var parts []string
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	parts = append(parts, plural(seconds, "second"))
	return strings.Join(parts, " ")
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Monitor periodically redraws the progress line until the source reports done.
type Monitor struct {
	Interval time.Duration
	Output   io.Writer
}

// Run blocks until src.Done() or ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, src Source) {
	interval := m.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	out := m.Output
	if out == nil {
		out = os.Stdout
	}

	estimator := NewEstimator(src.Total(), src.BytesSoFar(), time.Now())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	drawn := false
	defer func() {
		if drawn {
			fmt.Fprintln(out)
		}
	}()

	for !src.Done() {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			status := estimator.Update(src.BytesSoFar(), now)
			fmt.Fprint(out, status.String()+linePadding+"\r")
			drawn = true
		}
	}
}
