package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names sent to CloudWatch.
const (
	MetricHTTPRequests  = "HTTPRequests"
	MetricHTTPLatency   = "HTTPLatency"
	MetricRunsSucceeded = "RunsSucceeded"
	MetricRunsFailed    = "RunsFailed"
	MetricRunsAborted   = "RunsAborted"
)

// PutMetricDataAPI is the part of the CloudWatch client used here.
type PutMetricDataAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch wraps AWS CloudWatch Metrics operations
type CloudWatch struct {
	client    PutMetricDataAPI
	namespace string
	enabled   bool
}

func NewCloudWatch(cfg aws.Config, namespace string, enabled bool) *CloudWatch {
	return NewCloudWatchWithClient(cloudwatch.NewFromConfig(cfg), namespace, enabled)
}

func NewCloudWatchWithClient(client PutMetricDataAPI, namespace string, enabled bool) *CloudWatch {
	if namespace == "" {
		namespace = "FortalezaAgent"
	}
	return &CloudWatch{client: client, namespace: namespace, enabled: enabled}
}

// PutMetric sends a single metric data point to CloudWatch
func (m *CloudWatch) PutMetric(ctx context.Context, metricName string, value float64, unit types.StandardUnit, dimensions map[string]string) error {
	if !m.enabled {
		return nil
	}

	dims := make([]types.Dimension, 0, len(dimensions))
	for k, v := range dimensions {
		if v == "" {
			continue
		}
		dims = append(dims, types.Dimension{
			Name:  aws.String(k),
			Value: aws.String(v),
		})
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(metricName),
				Value:      aws.Float64(value),
				Unit:       unit,
				Timestamp:  aws.Time(time.Now()),
				Dimensions: dims,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put metric: %w", err)
	}
	return nil
}

// RecordCount increments a counter metric
func (m *CloudWatch) RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error {
	return m.PutMetric(ctx, metricName, 1, types.StandardUnitCount, dimensions)
}

// RecordLatency records a latency/duration metric in milliseconds
func (m *CloudWatch) RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error {
	return m.PutMetric(ctx, metricName, float64(duration.Milliseconds()), types.StandardUnitMilliseconds, dimensions)
}

func (m *CloudWatch) IsEnabled() bool {
	return m.enabled
}
