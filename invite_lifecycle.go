package onboard

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
)

// InviteState is derived from the stored invite, never stored itself.
type InviteState string

const (
	InviteStateCreated                  InviteState = "created"
	InviteStateDetailsSubmitted         InviteState = "details_submitted"
	InviteStatePhoneVerificationPending InviteState = "phone_verification_pending"
	InviteStateCompleted                InviteState = "completed"
	InviteStateExpired                  InviteState = "expired"
	InviteStateDisabled                 InviteState = "disabled"
)

// IsTerminal reports whether no further transition is possible.
func (s InviteState) IsTerminal() bool {
	switch s {
	case InviteStateCompleted, InviteStateExpired, InviteStateDisabled:
		return true
	}
	return false
}

// InviteRoute is one of the four invite type × user existence branches.
type InviteRoute string

const (
	RouteRegisterTeamMember   InviteRoute = "register_team_member"
	RouteSubscribeExisting    InviteRoute = "subscribe_existing_user"
	RouteRegisterServiceOwner InviteRoute = "register_service_owner"
	RouteServiceSwitcher      InviteRoute = "service_switcher"
)

// Registers reports whether the route collects details and verifies a phone.
func (r InviteRoute) Registers() bool {
	return r == RouteRegisterTeamMember || r == RouteRegisterServiceOwner
}

// Step tells the calling layer which page to render next.
type Step string

const (
	StepDetails           Step = "details"
	StepPhoneVerification Step = "phone-verification"
	StepSubscribe         Step = "subscribe"
	StepServiceSwitcher   Step = "service-switcher"
	StepComplete          Step = "complete"
)

// DefaultMaxOtpAttempts is how many wrong codes an invite tolerates before
// it is disabled.
const DefaultMaxOtpAttempts = 10

// InviteStateOf derives the lifecycle state of invite at now.
func InviteStateOf(invite *Invite, now time.Time) InviteState {
	switch {
	case invite.ConsumedAt != nil:
		return InviteStateCompleted
	case invite.Disabled:
		return InviteStateDisabled
	case !now.Before(invite.ExpiresAt):
		return InviteStateExpired
	case !invite.PasswordSet:
		return InviteStateCreated
	case invite.OtpSentAt == nil:
		return InviteStateDetailsSubmitted
	default:
		return InviteStatePhoneVerificationPending
	}
}

// RouteOf enumerates the invite branches.
func RouteOf(invite *Invite) InviteRoute {
	switch {
	case invite.Type == InviteTypeService && invite.UserExists:
		return RouteServiceSwitcher
	case invite.Type == InviteTypeService:
		return RouteRegisterServiceOwner
	case invite.UserExists:
		return RouteSubscribeExisting
	default:
		return RouteRegisterTeamMember
	}
}

func stepOf(route InviteRoute, state InviteState) Step {
	if state == InviteStateCompleted {
		return StepComplete
	}
	switch route {
	case RouteSubscribeExisting:
		return StepSubscribe
	case RouteServiceSwitcher:
		return StepServiceSwitcher
	}
	if state == InviteStateCreated {
		return StepDetails
	}
	return StepPhoneVerification
}

// InviteResult is returned by every transition. Carrier is nil once the flow
// is complete and must then be destroyed by the caller.
type InviteResult struct {
	Invite  *Invite
	State   InviteState
	Route   InviteRoute
	Step    Step
	Carrier *RegistrationCarrier
	User    *User
}

// InviteLifecycle drives a single invite from open to completion.
type InviteLifecycle struct {
	directory   UserDirectory
	otp         OtpService
	notifier    NotificationSender
	now         Clock
	logger      Logger
	activity    ActivitySink
	maxAttempts int
	region      string
	hasher      PasswordHasher
}

// LifecycleOption customizes InviteLifecycle.
type LifecycleOption func(*InviteLifecycle)

// WithLifecycleClock injects the time source (useful for tests).
func WithLifecycleClock(clock Clock) LifecycleOption {
	return func(l *InviteLifecycle) {
		if clock != nil {
			l.now = clock
		}
	}
}

func WithLifecycleLogger(logger Logger) LifecycleOption {
	return func(l *InviteLifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithLifecycleActivitySink(sink ActivitySink) LifecycleOption {
	return func(l *InviteLifecycle) {
		l.activity = normalizeActivitySink(sink)
	}
}

// WithMaxOtpAttempts sets the wrong-code budget. Values below 1 are ignored.
func WithMaxOtpAttempts(n int) LifecycleOption {
	return func(l *InviteLifecycle) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithPhoneRegion sets the region used for numbers without a country prefix.
func WithPhoneRegion(region string) LifecycleOption {
	return func(l *InviteLifecycle) {
		if region != "" {
			l.region = region
		}
	}
}

func WithPasswordHasher(hasher PasswordHasher) LifecycleOption {
	return func(l *InviteLifecycle) {
		if hasher != nil {
			l.hasher = hasher
		}
	}
}

func NewInviteLifecycle(directory UserDirectory, otp OtpService, notifier NotificationSender, opts ...LifecycleOption) *InviteLifecycle {
	l := &InviteLifecycle{
		directory:   directory,
		otp:         otp,
		notifier:    notifier,
		now:         time.Now,
		logger:      defLogger{},
		activity:    noopActivitySink{},
		maxAttempts: DefaultMaxOtpAttempts,
		region:      DefaultPhoneRegion,
		hasher:      HashPassword,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.notifier == nil {
		l.notifier = loggingNotifier{logger: l.logger}
	}
	return l
}

// Open loads the invite behind code and tells the caller where the flow
// continues. It does not modify the invite, so repeated calls agree.
func (l *InviteLifecycle) Open(ctx context.Context, code string, carrier *RegistrationCarrier) (*InviteResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, withMeta(ErrInviteNotFound, map[string]any{"reason": "empty code"})
	}

	invite, err := l.directory.FindInviteByCode(ctx, code)
	if err != nil {
		return nil, downstream(err, "failed to load invite")
	}

	now := l.now()
	if err := l.ensureUsable(ctx, invite, now); err != nil {
		return nil, err
	}

	// a carrier for a different invite belongs to an abandoned flow
	if carrier == nil || carrier.Code != invite.Code {
		carrier = NewRegistrationCarrier(invite)
	} else {
		carrier = carrier.Clone()
	}

	if invite.PasswordSet && invite.TelephoneNumber != "" {
		carrier.TelephoneNumber = invite.TelephoneNumber
	}

	if invite.UserExists {
		user, err := l.directory.FindUserByEmail(ctx, invite.Email)
		if err != nil {
			return nil, downstream(err, "failed to load invited user")
		}
		carrier.UserExternalID = user.ID.String()
	}

	result := l.result(invite, now, carrier)

	l.record(ctx, ActivityEvent{
		EventType: ActivityEventInviteOpened,
		ServiceID: invite.ServiceExternalID,
		Metadata: map[string]any{
			"route": string(result.Route),
			"step":  string(result.Step),
		},
		OccurredAt: now,
	})

	return result, nil
}

type detailsForm struct {
	TelephoneNumber string `json:"telephone_number"`
	Password        string `json:"password"`
}

func (f *detailsForm) validate(region string) error {
	return validation.ValidateStruct(f,
		validation.Field(&f.TelephoneNumber, validation.Required, TelephoneRule(region)),
		validation.Field(&f.Password, validation.Required, validation.Length(10, 72)),
	)
}

// SubmitDetails stores telephone and password and sends the first code.
// Invalid input leaves the invite untouched and returns the carrier with the
// submitted values and field errors attached.
func (l *InviteLifecycle) SubmitDetails(ctx context.Context, carrier *RegistrationCarrier, telephone, password string) (*InviteResult, error) {
	invite, now, err := l.loadForCarrier(ctx, carrier)
	if err != nil {
		return nil, err
	}
	if !RouteOf(invite).Registers() {
		return nil, l.wrongStep(invite, "details")
	}

	form := &detailsForm{TelephoneNumber: strings.TrimSpace(telephone), Password: password}
	if err := form.validate(l.region); err != nil {
		return l.rejected(invite, now, carrier, form.TelephoneNumber, err)
	}

	normalized, _ := NormalizeTelephone(form.TelephoneNumber, l.region)

	hash, err := l.hasher(form.Password)
	if err != nil {
		return nil, downstream(err, "failed to hash password")
	}

	invite.TelephoneNumber = normalized
	invite.PasswordHash = hash
	invite.PasswordSet = true
	invite.OtpSentAt = nil

	if invite, err = l.directory.SaveInviteProgress(ctx, invite); err != nil {
		return nil, downstream(err, "failed to save registration details")
	}

	l.record(ctx, ActivityEvent{
		EventType:  ActivityEventInviteDetails,
		ServiceID:  invite.ServiceExternalID,
		OccurredAt: now,
	})

	out := carrier.cleared()
	out.TelephoneNumber = normalized

	invite, err = l.sendCode(ctx, invite, now)
	if err != nil {
		return l.result(invite, now, out), err
	}

	return l.result(invite, now, out), nil
}

// SubmitOtp verifies the code sent to the invitee and completes the invite.
func (l *InviteLifecycle) SubmitOtp(ctx context.Context, carrier *RegistrationCarrier, code string) (*InviteResult, error) {
	invite, now, err := l.loadForCarrier(ctx, carrier)
	if err != nil {
		return nil, err
	}
	if !RouteOf(invite).Registers() || !invite.PasswordSet {
		return nil, l.wrongStep(invite, "verify")
	}

	if err := l.otp.Confirm(ctx, invite.Code, code); err != nil {
		if !IsOtpMismatch(err) {
			return nil, err
		}
		return l.otpRejected(ctx, invite, now, carrier)
	}

	l.record(ctx, ActivityEvent{
		EventType:  ActivityEventOtpVerified,
		ServiceID:  invite.ServiceExternalID,
		OccurredAt: now,
	})

	user, err := l.directory.CreateUserFromInvite(ctx, invite.Code, Credentials{
		TelephoneNumber: invite.TelephoneNumber,
		PasswordHash:    invite.PasswordHash,
	})
	if err != nil {
		if IsIntegrity(err) {
			l.hackAttempt(ctx, invite, "invite completed concurrently", now)
		}
		return nil, err
	}

	if err := l.linkInvitedRole(ctx, invite, user); err != nil {
		return nil, err
	}

	return l.completed(ctx, invite, user, now), nil
}

// ResendOtp sends a fresh code. A non-empty telephone replaces the stored one;
// the most recent submission wins.
func (l *InviteLifecycle) ResendOtp(ctx context.Context, carrier *RegistrationCarrier, telephone string) (*InviteResult, error) {
	return l.resend(ctx, carrier, telephone, false)
}

// ReVerifyPhone replaces the telephone number after a failed delivery and
// sends a fresh code to it.
func (l *InviteLifecycle) ReVerifyPhone(ctx context.Context, carrier *RegistrationCarrier, telephone string) (*InviteResult, error) {
	return l.resend(ctx, carrier, telephone, true)
}

func (l *InviteLifecycle) resend(ctx context.Context, carrier *RegistrationCarrier, telephone string, required bool) (*InviteResult, error) {
	invite, now, err := l.loadForCarrier(ctx, carrier)
	if err != nil {
		return nil, err
	}
	if !RouteOf(invite).Registers() || !invite.PasswordSet {
		return nil, l.wrongStep(invite, "resend")
	}

	telephone = strings.TrimSpace(telephone)
	if telephone != "" || required {
		rules := []validation.Rule{TelephoneRule(l.region)}
		if required {
			rules = append([]validation.Rule{validation.Required}, rules...)
		}
		verr := validation.Errors{
			"telephone_number": validation.Validate(telephone, rules...),
		}.Filter()
		if verr != nil {
			return l.rejected(invite, now, carrier, telephone, verr)
		}

		normalized, _ := NormalizeTelephone(telephone, l.region)
		if normalized != invite.TelephoneNumber {
			l.logger.Info("invite %s telephone replaced on resend", invite.Code)
		}
		invite.TelephoneNumber = normalized
		invite.OtpSentAt = nil
		if invite, err = l.directory.SaveInviteProgress(ctx, invite); err != nil {
			return nil, downstream(err, "failed to save telephone number")
		}
	}

	out := carrier.cleared()
	out.TelephoneNumber = invite.TelephoneNumber

	invite, err = l.sendCode(ctx, invite, now)
	if err != nil {
		return l.result(invite, now, out), err
	}
	return l.result(invite, now, out), nil
}

// SubscribeExistingUser completes a team invite for a user that already has
// an account. actingUserID must belong to the invited e-mail address.
func (l *InviteLifecycle) SubscribeExistingUser(ctx context.Context, carrier *RegistrationCarrier, actingUserID uuid.UUID) (*InviteResult, error) {
	invite, now, err := l.loadForCarrier(ctx, carrier)
	if err != nil {
		return nil, err
	}
	if RouteOf(invite) != RouteSubscribeExisting {
		return nil, l.wrongStep(invite, "subscribe")
	}

	user, err := l.directory.FindUserByExternalID(ctx, actingUserID)
	if err != nil {
		return nil, downstream(err, "failed to load acting user")
	}
	if !strings.EqualFold(user.Email, invite.Email) {
		l.hackAttempt(ctx, invite, "invite presented by a different user", now)
		return nil, withMeta(ErrIntegrity, map[string]any{
			"code":    invite.Code,
			"user_id": actingUserID.String(),
		})
	}

	if _, err := l.directory.CreateUserFromInvite(ctx, invite.Code, Credentials{}); err != nil {
		if IsIntegrity(err) {
			l.hackAttempt(ctx, invite, "invite completed concurrently", now)
		}
		return nil, err
	}

	if err := l.linkInvitedRole(ctx, invite, user); err != nil {
		return nil, err
	}

	return l.completed(ctx, invite, user, now), nil
}

func (l *InviteLifecycle) loadForCarrier(ctx context.Context, carrier *RegistrationCarrier) (*Invite, time.Time, error) {
	if err := carrier.Validate(); err != nil {
		return nil, time.Time{}, err
	}

	invite, err := l.directory.FindInviteByCode(ctx, carrier.Code)
	if err != nil {
		return nil, time.Time{}, downstream(err, "failed to load invite")
	}

	if !strings.EqualFold(invite.Email, carrier.Email) {
		return nil, time.Time{}, withMeta(ErrCarrierMissing, map[string]any{
			"reason": "carrier does not match invite",
		})
	}

	now := l.now()
	if err := l.ensureUsable(ctx, invite, now); err != nil {
		return nil, time.Time{}, err
	}
	return invite, now, nil
}

func (l *InviteLifecycle) ensureUsable(ctx context.Context, invite *Invite, now time.Time) error {
	meta := map[string]any{"code": invite.Code}

	switch InviteStateOf(invite, now) {
	case InviteStateCompleted:
		l.hackAttempt(ctx, invite, "consumed invite presented again", now)
		return withMeta(ErrInviteConsumed, meta)
	case InviteStateDisabled:
		l.rejectedInvite(ctx, invite, "disabled", now)
		return withMeta(ErrInviteDisabled, meta)
	case InviteStateExpired:
		l.rejectedInvite(ctx, invite, "expired", now)
		meta["expires_at"] = invite.ExpiresAt
		return withMeta(ErrInviteExpired, meta)
	}
	return nil
}

// sendCode provisions a new secret for the invite code and texts the
// current code. The previous code stops working.
func (l *InviteLifecycle) sendCode(ctx context.Context, invite *Invite, now time.Time) (*Invite, error) {
	secret, err := l.otp.Provision(ctx, invite.Code, WithAccountName(invite.Email))
	if err != nil {
		return invite, err
	}

	code, err := l.otp.CodeFor(secret)
	if err != nil {
		return invite, err
	}

	if err := l.notifier.SendSms(ctx, invite.TelephoneNumber, code); err != nil {
		l.logger.Error("failed to send verification code for invite %s: %v", invite.Code, err)
		return invite, downstream(err, "failed to send verification code")
	}

	invite.OtpSentAt = &now
	saved, err := l.directory.SaveInviteProgress(ctx, invite)
	if err != nil {
		return invite, downstream(err, "failed to save invite progress")
	}

	l.record(ctx, ActivityEvent{
		EventType:  ActivityEventOtpSent,
		ServiceID:  invite.ServiceExternalID,
		OccurredAt: now,
	})
	return saved, nil
}

func (l *InviteLifecycle) otpRejected(ctx context.Context, invite *Invite, now time.Time, carrier *RegistrationCarrier) (*InviteResult, error) {
	updated, err := l.directory.RecordOtpFailure(ctx, invite.Code, l.maxAttempts)
	if err != nil {
		return nil, downstream(err, "failed to record verification attempt")
	}

	l.record(ctx, ActivityEvent{
		EventType:  ActivityEventOtpRejected,
		ServiceID:  invite.ServiceExternalID,
		Metadata:   map[string]any{"attempts": updated.OtpAttempts},
		OccurredAt: now,
	})

	if updated.Disabled {
		l.logger.Warn("invite %s disabled after %d failed verification attempts", invite.Code, updated.OtpAttempts)
		return nil, withMeta(ErrInviteDisabled, map[string]any{
			"code":     invite.Code,
			"attempts": updated.OtpAttempts,
		})
	}

	updated.UserExists = invite.UserExists
	out := carrier.withRecovered(nil, map[string]string{
		"verify_code": ErrOtpMismatch.Message,
	})
	return l.result(updated, now, out), withMeta(ErrOtpMismatch, map[string]any{
		"attempts_left": l.maxAttempts - updated.OtpAttempts,
	})
}

func (l *InviteLifecycle) rejected(invite *Invite, now time.Time, carrier *RegistrationCarrier, telephone string, verr error) (*InviteResult, error) {
	fields := FormatValidationErrorToMap(verr)
	out := carrier.withRecovered(map[string]string{"telephone_number": telephone}, fields)
	return l.result(invite, now, out), withMeta(ErrValidation, map[string]any{"fields": fields})
}

func (l *InviteLifecycle) linkInvitedRole(ctx context.Context, invite *Invite, user *User) error {
	if invite.ServiceExternalID == "" || invite.RoleName == "" {
		return nil
	}

	role, err := ResolveRoleByName(invite.RoleName)
	if err != nil {
		l.logger.Error("invite %s carries unknown role %q", invite.Code, invite.RoleName)
		return withMeta(ErrIntegrity, map[string]any{"code": invite.Code, "role_name": invite.RoleName})
	}

	if err := l.directory.LinkUserToService(ctx, user.ID, invite.ServiceExternalID, role); err != nil {
		return downstream(err, "failed to link user to service")
	}
	return nil
}

func (l *InviteLifecycle) completed(ctx context.Context, invite *Invite, user *User, now time.Time) *InviteResult {
	if err := l.notifier.SendEmail(ctx, "invite-complete", invite.Email, map[string]any{
		"service_id": invite.ServiceExternalID,
		"role":       invite.RoleName,
		"sender":     invite.SenderEmail,
	}); err != nil {
		l.logger.Warn("failed to send completion e-mail for invite %s: %v", invite.Code, err)
	}

	l.record(ctx, ActivityEvent{
		EventType:  ActivityEventInviteCompleted,
		Actor:      ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:     user.ID.String(),
		ServiceID:  invite.ServiceExternalID,
		Metadata:   map[string]any{"type": invite.Type},
		OccurredAt: now,
	})

	consumed := *invite
	consumed.ConsumedAt = &now

	return &InviteResult{
		Invite: &consumed,
		State:  InviteStateCompleted,
		Route:  RouteOf(invite),
		Step:   StepComplete,
		User:   user,
	}
}

func (l *InviteLifecycle) result(invite *Invite, now time.Time, carrier *RegistrationCarrier) *InviteResult {
	state := InviteStateOf(invite, now)
	route := RouteOf(invite)
	return &InviteResult{
		Invite:  invite,
		State:   state,
		Route:   route,
		Step:    stepOf(route, state),
		Carrier: carrier,
	}
}

func (l *InviteLifecycle) wrongStep(invite *Invite, operation string) error {
	return withMeta(ErrInviteWrongStep, map[string]any{
		"code":      invite.Code,
		"route":     string(RouteOf(invite)),
		"operation": operation,
	})
}

func (l *InviteLifecycle) rejectedInvite(ctx context.Context, invite *Invite, reason string, now time.Time) {
	l.record(ctx, ActivityEvent{
		EventType:  ActivityEventInviteRejected,
		ServiceID:  invite.ServiceExternalID,
		Reason:     reason,
		OccurredAt: now,
	})
}

func (l *InviteLifecycle) hackAttempt(ctx context.Context, invite *Invite, reason string, now time.Time) {
	l.logger.Warn("possible hack attempt on invite %s: %s", invite.Code, reason)
	l.record(ctx, ActivityEvent{
		EventType:  ActivityEventHackAttempt,
		ServiceID:  invite.ServiceExternalID,
		Reason:     reason,
		Metadata:   map[string]any{"code": invite.Code},
		OccurredAt: now,
	})
}

func (l *InviteLifecycle) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, l.activity, l.logger, l.now, event)
}

// loggingNotifier is used when no sender is configured.
type loggingNotifier struct {
	logger Logger
}

func (n loggingNotifier) SendSms(_ context.Context, phoneNumber, _ string) error {
	n.logger.Info("sms delivery not configured, dropping code for %s", phoneNumber)
	return nil
}

func (n loggingNotifier) SendEmail(_ context.Context, template, address string, _ map[string]any) error {
	n.logger.Info("email delivery not configured, dropping %s for %s", template, address)
	return nil
}
