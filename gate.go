package onboard

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DenyReason explains a denied Decision.
type DenyReason string

const (
	DenySelfAction  DenyReason = "self-action"
	DenyNotAMember  DenyReason = "not-a-member"
	DenyForbidden   DenyReason = "forbidden"
	DenyIntegrity   DenyReason = "integrity"
	denyReasonAllow DenyReason = ""
)

// AccessRequest is one authorization question. An empty Permission means the
// operation is ungated. TargetUserID is only set for operations on another
// team member, where acting on oneself is refused.
type AccessRequest struct {
	ActingUserID uuid.UUID
	ServiceID    string
	Permission   Permission
	TargetUserID uuid.UUID
}

func (r AccessRequest) selfAction() bool {
	return r.TargetUserID != uuid.Nil && r.TargetUserID == r.ActingUserID
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Role    Role
}

// Err returns the error matching a denied decision, nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return d.sentinel()
}

func (d Decision) sentinel() *goerrors.Error {
	switch d.Reason {
	case DenySelfAction:
		return ErrSelfActionForbidden
	case DenyNotAMember:
		return ErrNotAMember
	case DenyIntegrity:
		return ErrIntegrity
	default:
		return ErrForbidden
	}
}

func allow(role Role) Decision        { return Decision{Allowed: true, Reason: denyReasonAllow, Role: role} }
func deny(reason DenyReason) Decision { return Decision{Reason: reason} }

// PermissionGate answers request time authorization questions.
type PermissionGate struct {
	directory UserDirectory
	now       Clock
	logger    Logger
	activity  ActivitySink
}

type GateOption func(*PermissionGate)

func WithGateClock(clock Clock) GateOption {
	return func(g *PermissionGate) {
		if clock != nil {
			g.now = clock
		}
	}
}

func WithGateLogger(logger Logger) GateOption {
	return func(g *PermissionGate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithGateActivitySink(sink ActivitySink) GateOption {
	return func(g *PermissionGate) {
		g.activity = normalizeActivitySink(sink)
	}
}

func NewPermissionGate(directory UserDirectory, opts ...GateOption) *PermissionGate {
	g := &PermissionGate{
		directory: directory,
		now:       time.Now,
		logger:    defLogger{},
		activity:  noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Authorize evaluates req. The returned error is only set when the role could
// not be looked up; denials are reported through the Decision.
//
// Rules, first match wins: ungated operations are allowed; acting on oneself
// is denied; users without a role on the service are denied; roles lacking
// the permission are denied.
func (g *PermissionGate) Authorize(ctx context.Context, req AccessRequest) (Decision, error) {
	if req.Permission == "" {
		return allow(RoleUnknown), nil
	}

	if req.selfAction() {
		g.denied(ctx, req, DenySelfAction)
		return deny(DenySelfAction), nil
	}

	role, err := g.directory.RoleForService(ctx, req.ActingUserID, req.ServiceID)
	if err != nil {
		switch {
		case HasTextCode(err, TextCodeNotAMember):
			g.denied(ctx, req, DenyNotAMember)
			return deny(DenyNotAMember), nil
		case HasTextCode(err, TextCodeIntegrity):
			g.denied(ctx, req, DenyIntegrity)
			return deny(DenyIntegrity), nil
		}
		return Decision{}, downstream(err, "failed to resolve role")
	}

	if !role.Can(req.Permission) {
		g.denied(ctx, req, DenyForbidden)
		return Decision{Reason: DenyForbidden, Role: role}, nil
	}

	return allow(role), nil
}

// Require is Authorize folded into a single error.
func (g *PermissionGate) Require(ctx context.Context, req AccessRequest) (Role, error) {
	decision, err := g.Authorize(ctx, req)
	if err != nil {
		return RoleUnknown, err
	}
	if !decision.Allowed {
		return RoleUnknown, withMeta(decision.sentinel(), map[string]any{
			"user_id":    req.ActingUserID.String(),
			"service_id": req.ServiceID,
			"permission": string(req.Permission),
		})
	}
	return decision.Role, nil
}

// AuthorizeRoleUpdate changes the role of target on serviceID to the role
// behind the submitted external id. Assigning the current role is a no-op.
func (g *PermissionGate) AuthorizeRoleUpdate(ctx context.Context, actor, target uuid.UUID, serviceID, externalRoleID string) (Role, error) {
	_, err := g.Require(ctx, AccessRequest{
		ActingUserID: actor,
		ServiceID:    serviceID,
		Permission:   PermUsersServiceUpdate,
		TargetUserID: target,
	})
	if err != nil {
		return RoleUnknown, err
	}

	role, err := ParseRoleExternalID(externalRoleID)
	if err != nil {
		g.logger.Warn("possible hack attempt: user %s submitted unknown role id %q for service %s",
			actor, externalRoleID, serviceID)
		g.record(ctx, ActivityEvent{
			EventType: ActivityEventHackAttempt,
			Actor:     ActorRef{ID: actor.String(), Type: "user"},
			UserID:    target.String(),
			ServiceID: serviceID,
			Reason:    "unknown role id",
			Metadata:  map[string]any{"external_role_id": externalRoleID},
		})
		return RoleUnknown, withMeta(ErrIntegrity, map[string]any{
			"external_role_id": externalRoleID,
			"service_id":       serviceID,
		})
	}

	current, err := g.directory.RoleForService(ctx, target, serviceID)
	if err != nil {
		return RoleUnknown, downstream(err, "failed to resolve current role")
	}
	if current == role {
		return role, nil
	}

	if err := g.directory.UpdateUserRole(ctx, target, serviceID, role); err != nil {
		return RoleUnknown, downstream(err, "failed to update role")
	}

	g.record(ctx, ActivityEvent{
		EventType: ActivityEventRoleChanged,
		Actor:     ActorRef{ID: actor.String(), Type: "user"},
		UserID:    target.String(),
		ServiceID: serviceID,
		Metadata: map[string]any{
			"from": current.Name(),
			"to":   role.Name(),
		},
	})

	return role, nil
}

// RemoveTeamMember removes target from serviceID. Users cannot remove themselves.
func (g *PermissionGate) RemoveTeamMember(ctx context.Context, actor, target uuid.UUID, serviceID string) error {
	_, err := g.Require(ctx, AccessRequest{
		ActingUserID: actor,
		ServiceID:    serviceID,
		Permission:   PermUsersServiceDelete,
		TargetUserID: target,
	})
	if err != nil {
		return err
	}

	if err := g.directory.RemoveUserFromService(ctx, target, serviceID); err != nil {
		return downstream(err, "failed to remove team member")
	}

	g.record(ctx, ActivityEvent{
		EventType: ActivityEventMemberRemoved,
		Actor:     ActorRef{ID: actor.String(), Type: "user"},
		UserID:    target.String(),
		ServiceID: serviceID,
	})
	return nil
}

func (g *PermissionGate) denied(ctx context.Context, req AccessRequest, reason DenyReason) {
	g.logger.Info("access denied for user %s on service %s (%s): %s",
		req.ActingUserID, req.ServiceID, req.Permission, reason)
	g.record(ctx, ActivityEvent{
		EventType: ActivityEventAccessDenied,
		Actor:     ActorRef{ID: req.ActingUserID.String(), Type: "user"},
		UserID:    req.TargetUserID.String(),
		ServiceID: req.ServiceID,
		Reason:    string(reason),
		Metadata:  map[string]any{"permission": string(req.Permission)},
	})
}

func (g *PermissionGate) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, g.activity, g.logger, g.now, event)
}
