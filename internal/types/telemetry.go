package types

// Telemetry metric names for CloudWatch.
const (
	MetricRetrySweepDue       = "RetrySweepDue"
	MetricRetrySweepAttempted = "RetrySweepAttempted"
	MetricRetrySweepSucceeded = "RetrySweepSucceeded"
	MetricRetrySweepFailed    = "RetrySweepFailed"
	MetricRetrySweepCancelled = "RetrySweepCancelled"
	MetricRetrySweepDeferred  = "RetrySweepDeferred"
	MetricRetrySweepDuration  = "RetrySweepDuration"

	DimEnvironment = "Environment"

	MetricNamespace = "Recoverly"
)
