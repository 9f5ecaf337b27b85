package realtime

import (
	"math"
	"time"
)

const maxReconnectDelay = 30 * time.Second

// backoffPolicy computes reconnect delays. Abnormal closures (1006,
// typically a dropped network path) start from a higher base so a
// flapping link is not hammered.
type backoffPolicy struct {
	base         time.Duration
	abnormalBase time.Duration
	max          time.Duration
}

func (p backoffPolicy) delay(attempt int, abnormal bool) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.base
	if abnormal && p.abnormalBase > base {
		base = p.abnormalBase
	}
	maxD := p.max
	if maxD <= 0 {
		maxD = maxReconnectDelay
	}
	d := float64(base) * math.Pow(1.5, float64(attempt-1))
	if d >= float64(maxD) {
		return maxD
	}
	return time.Duration(d)
}
