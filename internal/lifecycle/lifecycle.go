package lifecycle

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fayispachu/weather-widget/internal/traffic"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health reports shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Status is the externally reported health state.
type Status string

const (
	StatusHealthy      Status = "healthy"
	StatusDegraded     Status = "degraded"
	StatusOverloaded   Status = "overloaded"
	StatusShuttingDown Status = "shutting-down"
)

// Thresholds configures when the process reports overloaded or degraded.
type Thresholds struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int // 0 when the rate limiter is disabled
	DegradedWindow       time.Duration
	DegradedErrorPct     int
}

// Health is the result of Evaluate.
type Health struct {
	Status     Status
	StatusCode int
	Reason     string
}

// Evaluate checks conditions in priority order:
// shutting-down > overloaded > degraded > healthy.
func Evaluate(th Thresholds) Health {
	if IsShuttingDown() {
		return Health{StatusShuttingDown, http.StatusServiceUnavailable, "signal"}
	}
	if th.RateLimitRPS > 0 && th.OverloadWindow > 0 && th.OverloadThresholdPct > 0 {
		// Denials above this share of the window's token budget mean clients are being turned away.
		threshold := float64(th.RateLimitRPS) * th.OverloadWindow.Seconds() * float64(th.OverloadThresholdPct) / 100
		if float64(traffic.DenialCount(th.OverloadWindow)) > threshold {
			return Health{StatusOverloaded, http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if th.DegradedWindow > 0 && th.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(th.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(th.DegradedErrorPct) {
			return Health{StatusDegraded, http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return Health{StatusHealthy, http.StatusOK, ""}
}
