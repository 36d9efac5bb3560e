// Package metrics exposes onboarding activity as Prometheus counters.
package metrics

import (
	"context"

	onboard "github.com/goliatone/go-onboard"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "onboard"

// Sink counts activity events. It never fails, so it is safe to combine
// with other sinks through onboard.MultiActivitySink.
type Sink struct {
	events  *prometheus.CounterVec
	denials *prometheus.CounterVec
}

// NewSink registers the counters with reg. A nil reg uses the default registerer.
func NewSink(reg prometheus.Registerer) *Sink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	s := &Sink{
		// Labels:
		//   - event: activity event type (e.g. "invite.completed")
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activity_events_total",
				Help:      "Total number of onboarding activity events, by event type.",
			},
			[]string{"event"},
		),
		// Labels:
		//   - event: "access.denied", "otp.rejected" or "security.hack_attempt"
		//   - reason: deny reason reported with the event
		denials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejections_total",
				Help:      "Total number of rejected onboarding or team actions, by reason.",
			},
			[]string{"event", "reason"},
		),
	}
	reg.MustRegister(s.events, s.denials)
	return s
}

var _ onboard.ActivitySink = (*Sink)(nil)

func (s *Sink) Record(_ context.Context, event onboard.ActivityEvent) error {
	s.events.WithLabelValues(string(event.EventType)).Inc()

	switch event.EventType {
	case onboard.ActivityEventAccessDenied,
		onboard.ActivityEventOtpRejected,
		onboard.ActivityEventHackAttempt,
		onboard.ActivityEventInviteRejected:
		reason := event.Reason
		if reason == "" {
			reason = "unspecified"
		}
		s.denials.WithLabelValues(string(event.EventType), reason).Inc()
	}
	return nil
}
