package health

import "time"

const (
	// DefaultFlagThreshold is the consecutive failure count that flags a relay
	DefaultFlagThreshold = 5
	latencyWindow        = 10
)

// Record is a copy of one relay's health statistics
type Record struct {
	URL                 string
	Attempts            int
	Failures            int
	ConsecutiveFailures int
	EventsReceived      int64
	LatencySamples      []time.Duration
	LastConnectedAt     time.Time
	LastFailedAt        time.Time
	LastError           string
	Flagged             bool
	Blocked             bool
}

// FailureRate is failures over attempts, clamped to [0,1]
func (r Record) FailureRate() float64 {
	if r.Attempts == 0 {
		if r.Failures > 0 {
			return 1
		}
		return 0
	}
	rate := float64(r.Failures) / float64(r.Attempts)
	if rate > 1 {
		return 1
	}
	return rate
}

// AverageLatency is the mean of the recorded handshake samples
func (r Record) AverageLatency() time.Duration {
	if len(r.LatencySamples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range r.LatencySamples {
		total += s
	}
	return total / time.Duration(len(r.LatencySamples))
}

type record struct {
	Record
	attemptStarted time.Time
}

func (r *record) addLatency(d time.Duration) {
	r.LatencySamples = append(r.LatencySamples, d)
	if len(r.LatencySamples) > latencyWindow {
		r.LatencySamples = r.LatencySamples[len(r.LatencySamples)-latencyWindow:]
	}
}

func (r *record) snapshot(blocked bool) Record {
	out := r.Record
	out.LatencySamples = append([]time.Duration(nil), r.LatencySamples...)
	out.Blocked = blocked
	return out
}
