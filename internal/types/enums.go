package types

// PaymentStatus is the lifecycle state of a PaymentRecord.
// The only legal transition is failed -> recovered.
type PaymentStatus string

const (
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRecovered PaymentStatus = "recovered"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	return s == PaymentStatusFailed || s == PaymentStatusRecovered
}

// RetryStatus is the lifecycle state of a RetryRecord.
type RetryStatus string

const (
	RetryStatusPending RetryStatus = "pending"
	// RetryStatusSending marks a retry claimed by a sweep and in flight.
	RetryStatusSending   RetryStatus = "sending"
	RetryStatusSent      RetryStatus = "sent"
	RetryStatusFailed    RetryStatus = "failed"
	RetryStatusCancelled RetryStatus = "cancelled"
)

// Terminal reports whether no further work will be done for the retry.
func (s RetryStatus) Terminal() bool {
	switch s {
	case RetryStatusSent, RetryStatusFailed, RetryStatusCancelled:
		return true
	}
	return false
}

// WebhookLogStatus records how a webhook call was resolved.
type WebhookLogStatus string

const (
	WebhookLogSuccess WebhookLogStatus = "success"
	WebhookLogFailed  WebhookLogStatus = "failed"
	WebhookLogIgnored WebhookLogStatus = "ignored"
)

// DispatchOutcome summarises what the dispatcher did with a verified event.
type DispatchOutcome string

const (
	OutcomeRecorded  DispatchOutcome = "recorded"
	OutcomeDuplicate DispatchOutcome = "duplicate"
	OutcomeRecovered DispatchOutcome = "recovered"
	OutcomeIgnored   DispatchOutcome = "ignored"
	OutcomeUnhandled DispatchOutcome = "unhandled"
	OutcomeFailed    DispatchOutcome = "failed"
)
