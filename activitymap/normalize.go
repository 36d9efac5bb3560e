package activitymap

import (
	"maps"
	"strings"
	"time"

	onboard "github.com/goliatone/go-onboard"
)

const (
	// MetadataKeyActorType stores the actor type derived from onboard.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyServiceID stores the service the event happened on.
	MetadataKeyServiceID = "service_id"
	// MetadataKeyReason stores the rejection or denial reason.
	MetadataKeyReason = "reason"
)

const (
	defaultChannel    = "onboard"
	defaultObjectType = "user"
	defaultActorID    = "system"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(onboard.ActivityEvent) string
}

// Normalize converts an onboard.ActivityEvent into a generic normalized shape.
func Normalize(event onboard.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.Actor.ID),
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(o *normalizeOptions) { o.channel = strings.TrimSpace(channel) }
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(o *normalizeOptions) { o.objectType = strings.TrimSpace(objectType) }
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(onboard.ActivityEvent) string) Option {
	return func(o *normalizeOptions) { o.objectIDResolver = resolver }
}

// WithActorFallback sets the final actor-id fallback when actor/user ids are empty.
func WithActorFallback(actorID string) Option {
	return func(o *normalizeOptions) { o.actorFallback = strings.TrimSpace(actorID) }
}

// ServiceObject reports events against the service instead of the user.
func ServiceObject(event onboard.ActivityEvent) string {
	return event.ServiceID
}

func resolveObjectID(event onboard.ActivityEvent, resolver func(onboard.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	return strings.TrimSpace(event.UserID)
}

func normalizeMetadata(event onboard.ActivityEvent) map[string]any {
	var metadata map[string]any
	if len(event.Metadata) > 0 {
		metadata = maps.Clone(event.Metadata)
	}

	set := func(key, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[key]; !exists {
			metadata[key] = value
		}
	}

	set(MetadataKeyActorType, event.Actor.Type)
	set(MetadataKeyServiceID, event.ServiceID)
	set(MetadataKeyReason, event.Reason)

	return metadata
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
