package main

import (
	"context"

	onboard "github.com/goliatone/go-onboard"
	"github.com/goliatone/go-onboard/activitymap"
)

// activityLogSink writes normalized activity events as structured log lines.
func activityLogSink(lgr zlogger) onboard.ActivitySink {
	return onboard.ActivitySinkFunc(func(_ context.Context, event onboard.ActivityEvent) error {
		out := activitymap.Normalize(event)
		lgr.log.Info().
			Str("actor_id", out.ActorID).
			Str("verb", out.Verb).
			Str("object_type", out.ObjectType).
			Str("object_id", out.ObjectID).
			Str("channel", out.Channel).
			Fields(out.Metadata).
			Time("occurred_at", out.OccurredAt).
			Msg("activity")
		return nil
	})
}
