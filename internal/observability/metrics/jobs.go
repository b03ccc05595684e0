// Package metrics emits standardised job and delivery lifecycle metrics.
package metrics

import (
	"time"

	obserrors "github.com/docchat/docchat-go/internal/observability/errors"
	"github.com/docchat/docchat-go/internal/observability/statsd"
)

// Values for the result tag.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric describes one job state transition for emission.
type JobMetric struct {
	JobType    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits the transition counter and, when a duration is
// known, the job timing.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type":   in.JobType,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// DeliveryMetric captures details about one webhook delivery attempt.
type DeliveryMetric struct {
	Result     string
	StatusCode int
	Duration   time.Duration
}

// EmitDeliveryAttempt emits the attempt counter and timing for one webhook
// POST, tagged with its result and response status class.
func EmitDeliveryAttempt(sink statsd.Sink, in DeliveryMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"result": in.Result,
	}
	if in.StatusCode > 0 {
		tags["status_class"] = statusClass(in.StatusCode)
	}

	sink.Count("webhook.attempt", 1, tags)

	if in.Duration > 0 {
		sink.Timing("webhook.duration", in.Duration, CloneTags(tags))
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

// CloneTags shallow-copies a tag map so emitters can diverge per metric.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
