// Package recovery turns verified provider events into ledger transitions
// and notification scheduling.
package recovery

import "time"

// Policy is the retry campaign backoff. Attempt 0 is the immediate notice
// sent when a failure is first recorded. Attempt n+1 is scheduled Delays[n]
// after attempt n, and the campaign ends once MaxRetries attempts exist.
type Policy struct {
	Delays []time.Duration
}

// DefaultPolicy is 24h, 72h, 168h.
func DefaultPolicy() Policy {
	return Policy{Delays: []time.Duration{24 * time.Hour, 72 * time.Hour, 168 * time.Hour}}
}

// MaxRetries is the number of attempts in a campaign.
func (p Policy) MaxRetries() int {
	return len(p.Delays)
}

// Next returns the retry number and schedule time that follow attempt
// retryNumber made at from. ok is false when the campaign is exhausted.
func (p Policy) Next(retryNumber int, from time.Time) (next int, at time.Time, ok bool) {
	next = retryNumber + 1
	if retryNumber < 0 || next >= p.MaxRetries() {
		return 0, time.Time{}, false
	}
	return next, from.Add(p.Delays[retryNumber]), true
}
