package onboard

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SetupResult describes a second factor setup in progress.
type SetupResult struct {
	Method SecondFactorMethod
	// Secret carries the pairing URI for APP setups only.
	Secret *OtpSecret
	SentTo string
}

// TwoFactorEnrollment switches the second factor of an authenticated user.
// The active method only changes when ConfirmSetup succeeds.
type TwoFactorEnrollment struct {
	directory UserDirectory
	otp       OtpService
	notifier  NotificationSender
	now       Clock
	logger    Logger
	activity  ActivitySink
}

type TwoFactorOption func(*TwoFactorEnrollment)

func WithTwoFactorClock(clock Clock) TwoFactorOption {
	return func(t *TwoFactorEnrollment) {
		if clock != nil {
			t.now = clock
		}
	}
}

func WithTwoFactorLogger(logger Logger) TwoFactorOption {
	return func(t *TwoFactorEnrollment) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithTwoFactorActivitySink(sink ActivitySink) TwoFactorOption {
	return func(t *TwoFactorEnrollment) {
		t.activity = normalizeActivitySink(sink)
	}
}

func NewTwoFactorEnrollment(directory UserDirectory, otp OtpService, notifier NotificationSender, opts ...TwoFactorOption) *TwoFactorEnrollment {
	t := &TwoFactorEnrollment{
		directory: directory,
		otp:       otp,
		notifier:  notifier,
		now:       time.Now,
		logger:    defLogger{},
		activity:  noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	if t.notifier == nil {
		t.notifier = loggingNotifier{logger: t.logger}
	}
	return t
}

// StartSetup provisions a new secret for the user. SMS setups text the first
// code to the stored telephone number, APP setups return the pairing URI.
func (t *TwoFactorEnrollment) StartSetup(ctx context.Context, userID uuid.UUID, method string) (*SetupResult, error) {
	m, err := ParseSecondFactorMethod(method)
	if err != nil {
		return nil, err
	}

	user, err := t.directory.FindUserByExternalID(ctx, userID)
	if err != nil {
		return nil, downstream(err, "failed to load user")
	}

	if m == SecondFactorSMS && user.TelephoneNumber == "" {
		return nil, withMeta(ErrInvalidSecondFactorMethod, map[string]any{
			"user_id": userID.String(),
			"reason":  "no telephone number on record",
		})
	}

	secret, err := t.otp.Generate(userID.String(), WithAccountName(user.Email), WithSetupMethod(m))
	if err != nil {
		return nil, err
	}

	if err := t.directory.ProvisionSecondFactor(ctx, userID, secret); err != nil {
		return nil, err
	}

	result := &SetupResult{Method: m, Secret: secret}

	if m == SecondFactorSMS {
		// the pairing URI embeds the secret and would let the holder skip the phone
		result.Secret = nil
		if err := t.textCode(ctx, user, secret); err != nil {
			return nil, err
		}
		result.SentTo = user.TelephoneNumber
	}

	t.record(ctx, ActivityEvent{
		EventType: ActivityEventSecondFactorRequested,
		Actor:     ActorRef{ID: userID.String(), Type: "user"},
		UserID:    userID.String(),
		Metadata:  map[string]any{"method": m},
	})

	return result, nil
}

// ConfirmSetup checks code against the provisional secret and, on success,
// activates it together with the new method.
func (t *TwoFactorEnrollment) ConfirmSetup(ctx context.Context, userID uuid.UUID, code string) (*User, error) {
	user, err := t.directory.FindUserByExternalID(ctx, userID)
	if err != nil {
		return nil, downstream(err, "failed to load user")
	}
	if user.ProvisionalSecondFactor == "" {
		return nil, withMeta(ErrInvalidSecondFactorMethod, map[string]any{
			"user_id": userID.String(),
			"reason":  "no second factor setup in progress",
		})
	}

	secret, err := t.otp.CheckPending(ctx, userID.String(), code)
	if err != nil {
		if IsOtpMismatch(err) {
			t.record(ctx, ActivityEvent{
				EventType: ActivityEventOtpRejected,
				Actor:     ActorRef{ID: userID.String(), Type: "user"},
				UserID:    userID.String(),
			})
		}
		return nil, err
	}

	updated, err := t.directory.ActivateSecondFactor(ctx, userID, secret.ID)
	if err != nil {
		return nil, err
	}

	t.logger.Info("user %s switched second factor to %s", userID, updated.SecondFactor)
	t.record(ctx, ActivityEvent{
		EventType: ActivityEventSecondFactorSwitched,
		Actor:     ActorRef{ID: userID.String(), Type: "user"},
		UserID:    userID.String(),
		Metadata: map[string]any{
			"from": user.SecondFactor,
			"to":   updated.SecondFactor,
		},
	})

	return updated, nil
}

// Resend texts the current code again. Only SMS setups can be resent.
func (t *TwoFactorEnrollment) Resend(ctx context.Context, userID uuid.UUID) error {
	user, err := t.directory.FindUserByExternalID(ctx, userID)
	if err != nil {
		return downstream(err, "failed to load user")
	}
	if user.ProvisionalSecondFactor != SecondFactorSMS {
		return withMeta(ErrInvalidSecondFactorMethod, map[string]any{
			"user_id": userID.String(),
			"method":  user.ProvisionalSecondFactor,
		})
	}

	code, err := t.otp.GenerateCode(ctx, userID.String())
	if err != nil {
		return err
	}

	if err := t.notifier.SendSms(ctx, user.TelephoneNumber, code); err != nil {
		return downstream(err, "failed to send verification code")
	}

	t.record(ctx, ActivityEvent{
		EventType: ActivityEventOtpSent,
		UserID:    userID.String(),
	})
	return nil
}

func (t *TwoFactorEnrollment) textCode(ctx context.Context, user *User, secret *OtpSecret) error {
	code, err := t.otp.CodeFor(secret)
	if err != nil {
		return err
	}
	if err := t.notifier.SendSms(ctx, user.TelephoneNumber, code); err != nil {
		t.logger.Error("failed to send setup code to user %s: %v", user.ID, err)
		return downstream(err, "failed to send verification code")
	}
	t.record(ctx, ActivityEvent{
		EventType: ActivityEventOtpSent,
		UserID:    user.ID.String(),
	})
	return nil
}

func (t *TwoFactorEnrollment) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, t.activity, t.logger, t.now, event)
}
