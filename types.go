package onboard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Clock returns the current time. Every expiry or OTP check reads it once.
type Clock func() time.Time

// UserDirectory is the user/invite store the lifecycle components depend on.
type UserDirectory interface {
	CreateInvite(ctx context.Context, invite *Invite) (*Invite, error)
	FindInviteByCode(ctx context.Context, code string) (*Invite, error)
	SaveInviteProgress(ctx context.Context, invite *Invite) (*Invite, error)
	RecordOtpFailure(ctx context.Context, code string, maxAttempts int) (*Invite, error)
	// CreateUserFromInvite creates (or, for existing users, looks up) the
	// invited user and consumes the invite in one transaction. A second call
	// for the same code fails with ErrInviteConsumed.
	CreateUserFromInvite(ctx context.Context, code string, credentials Credentials) (*User, error)
	FindUserByExternalID(ctx context.Context, id uuid.UUID) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	LinkUserToService(ctx context.Context, userID uuid.UUID, serviceID string, role Role) error
	RoleForService(ctx context.Context, userID uuid.UUID, serviceID string) (Role, error)
	UpdateUserRole(ctx context.Context, userID uuid.UUID, serviceID string, role Role) error
	RemoveUserFromService(ctx context.Context, userID uuid.UUID, serviceID string) error
	// ProvisionSecondFactor stores the pending secret and the method being
	// set up in one transaction, without touching the active method.
	ProvisionSecondFactor(ctx context.Context, userID uuid.UUID, secret *OtpSecret) error
	// ActivateSecondFactor activates secretID and switches the user's method
	// to the one recorded on the secret in one transaction.
	ActivateSecondFactor(ctx context.Context, userID uuid.UUID, secretID uuid.UUID) (*User, error)
}

// Credentials are the values collected during registration.
type Credentials struct {
	TelephoneNumber string
	PasswordHash    string
}

// NotificationSender delivers codes and e-mails.
type NotificationSender interface {
	SendSms(ctx context.Context, phoneNumber, code string) error
	SendEmail(ctx context.Context, template, address string, vars map[string]any) error
}

// CarrierStore persists the RegistrationCarrier between requests.
type CarrierStore interface {
	Read(ctx context.Context, key string) (*RegistrationCarrier, error)
	Write(ctx context.Context, key string, carrier *RegistrationCarrier) error
	Destroy(ctx context.Context, key string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] ONBOARD "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] ONBOARD "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] ONBOARD "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] ONBOARD "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger discards all output.
func NoopLogger() Logger { return noopLogger{} }
