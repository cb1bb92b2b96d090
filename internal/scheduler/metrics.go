package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"recoverly/internal/types"
)

// SweepMetrics records the outcome of a sweep. Implementations must not
// fail the sweep; publishing errors are logged and dropped.
type SweepMetrics interface {
	RecordSweep(ctx context.Context, res SweepResult, elapsed time.Duration)
}

// NoopSweepMetrics discards everything.
type NoopSweepMetrics struct{}

func (NoopSweepMetrics) RecordSweep(context.Context, SweepResult, time.Duration) {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ SweepMetrics = (*CloudWatchSweepMetrics)(nil)

// CloudWatchSweepMetrics publishes one datum per counter plus the sweep
// duration, all dimensioned by Environment.
type CloudWatchSweepMetrics struct {
	client      CloudWatchClient
	namespace   string
	environment string
	logger      *slog.Logger
}

// NewCloudWatchSweepMetrics returns metrics publishing to namespace. An empty
// namespace falls back to types.MetricNamespace.
func NewCloudWatchSweepMetrics(client CloudWatchClient, namespace, environment string, logger *slog.Logger) *CloudWatchSweepMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchSweepMetrics{
		client:      client,
		namespace:   namespace,
		environment: environment,
		logger:      logger,
	}
}

// RecordSweep emits the SweepResult counters and RetrySweepDuration.
func (m *CloudWatchSweepMetrics) RecordSweep(ctx context.Context, res SweepResult, elapsed time.Duration) {
	dims := []cwtypes.Dimension{
		{
			Name:  aws.String(types.DimEnvironment),
			Value: aws.String(m.environment),
		},
	}
	count := func(name string, v int) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(v)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		}
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			count(types.MetricRetrySweepDue, res.Due),
			count(types.MetricRetrySweepAttempted, res.Attempted),
			count(types.MetricRetrySweepSucceeded, res.Succeeded),
			count(types.MetricRetrySweepFailed, res.Failed),
			count(types.MetricRetrySweepCancelled, res.Cancelled),
			count(types.MetricRetrySweepDeferred, res.Deferred),
			{
				MetricName: aws.String(types.MetricRetrySweepDuration),
				Value:      aws.Float64(float64(elapsed.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record sweep metrics",
			"error", err.Error(),
			"namespace", m.namespace,
		)
	}
}
