package fsguard

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// errorLog appends write-path failure events to "<path>.error", one line per
// event, for external monitoring. The file is append-only and never read by
// the coordinator. Appends are rate limited so a wedged destination cannot
// flood the disk, and are best effort: a failure to record a failure is
// swallowed.
type errorLog struct {
	enabled bool
	limiter *rate.Limiter
}

func newErrorLog(enabled bool, perSecond float64, burst int) *errorLog {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &errorLog{
		enabled: enabled,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// record appends one failure line for path. Drops the event when disabled or
// over the rate limit.
func (e *errorLog) record(path, op string, cause error) {
	if !e.enabled || cause == nil || !e.limiter.Allow() {
		return
	}

	f, err := os.OpenFile(path+".error", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644) // #nosec G302,G304 - monitoring file next to the data file
	if err != nil {
		return
	}
	defer func() {
		_ = f.Close()
	}()

	_, _ = fmt.Fprintf(f, "%s %s: %v\n", time.Now().Format(time.RFC3339Nano), op, cause)
}
