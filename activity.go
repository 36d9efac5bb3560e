package onboard

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventInviteOpened          ActivityEventType = "invite.opened"
	ActivityEventInviteDetails         ActivityEventType = "invite.details.submitted"
	ActivityEventInviteCompleted       ActivityEventType = "invite.completed"
	ActivityEventInviteRejected        ActivityEventType = "invite.rejected"
	ActivityEventOtpSent               ActivityEventType = "otp.sent"
	ActivityEventOtpVerified           ActivityEventType = "otp.verified"
	ActivityEventOtpRejected           ActivityEventType = "otp.rejected"
	ActivityEventSecondFactorRequested ActivityEventType = "second_factor.requested"
	ActivityEventSecondFactorSwitched  ActivityEventType = "second_factor.switched"
	ActivityEventRoleChanged           ActivityEventType = "team.role.changed"
	ActivityEventMemberRemoved         ActivityEventType = "team.member.removed"
	ActivityEventAccessDenied          ActivityEventType = "access.denied"
	ActivityEventHackAttempt           ActivityEventType = "security.hack_attempt"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	ServiceID  string
	Reason     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// MultiActivitySink fans events out to every sink, returning the first error.
func MultiActivitySink(sinks ...ActivitySink) ActivitySink {
	return ActivitySinkFunc(func(ctx context.Context, event ActivityEvent) error {
		var first error
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Record(ctx, event); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}

// recordActivity is best effort: sink errors are logged, never returned.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now Clock, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now()
	}
	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		logger.Warn("activity sink error for %s: %v", event.EventType, err)
	}
}
