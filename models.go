package onboard

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SecondFactorMethod is how a user proves possession at login.
type SecondFactorMethod = string

const (
	SecondFactorSMS SecondFactorMethod = "SMS"
	SecondFactorApp SecondFactorMethod = "APP"
)

// ParseSecondFactorMethod normalises a submitted method value.
func ParseSecondFactorMethod(raw string) (SecondFactorMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case SecondFactorSMS:
		return SecondFactorSMS, nil
	case SecondFactorApp:
		return SecondFactorApp, nil
	}
	return "", withMeta(ErrInvalidSecondFactorMethod, map[string]any{"method": raw})
}

// User is the user model
type User struct {
	bun.BaseModel           `bun:"table:users,alias:usr"`
	ID                      uuid.UUID          `bun:"id,pk,type:uuid" json:"id"`
	Email                   string             `bun:"email,notnull,unique" json:"email"`
	Username                string             `bun:"username,notnull" json:"username"`
	TelephoneNumber         string             `bun:"telephone_number" json:"telephone_number,omitempty"`
	PasswordHash            string             `bun:"password_hash" json:"-"`
	SecondFactor            SecondFactorMethod `bun:"second_factor,notnull" json:"second_factor"`
	ProvisionalSecondFactor SecondFactorMethod `bun:"provisional_second_factor" json:"provisional_second_factor,omitempty"`
	Disabled                bool               `bun:"disabled,notnull" json:"disabled"`
	CreatedAt               *time.Time         `bun:"created_at,nullzero" json:"created_at,omitempty"`
	UpdatedAt               *time.Time         `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// ServiceRole assigns exactly one role per (user, service).
type ServiceRole struct {
	bun.BaseModel `bun:"table:service_roles,alias:srl"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid,unique:user_service"`
	ServiceID     string     `bun:"service_id,notnull,unique:user_service"`
	RoleName      string     `bun:"role_name,notnull"`
	CreatedAt     *time.Time `bun:"created_at,nullzero"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero"`
}

// InviteType distinguishes team invites from new-service invites.
type InviteType = string

const (
	InviteTypeUser    InviteType = "USER"
	InviteTypeService InviteType = "SERVICE"
)

// DefaultInviteTTL is how long an invite stays usable.
const DefaultInviteTTL = 48 * time.Hour

// Invite is a single-use onboarding token.
type Invite struct {
	bun.BaseModel     `bun:"table:invites,alias:inv"`
	ID                uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Code              string     `bun:"code,notnull,unique" json:"code"`
	Type              InviteType `bun:"type,notnull" json:"type"`
	Email             string     `bun:"email,notnull" json:"email"`
	TelephoneNumber   string     `bun:"telephone_number" json:"telephone_number,omitempty"`
	ServiceExternalID string     `bun:"service_external_id" json:"service_external_id,omitempty"`
	RoleName          string     `bun:"role_name" json:"role_name,omitempty"`
	SenderEmail       string     `bun:"sender_email" json:"sender_email,omitempty"`
	PasswordHash      string     `bun:"password_hash" json:"-"`
	PasswordSet       bool       `bun:"password_set,notnull" json:"password_set"`
	OtpAttempts       int        `bun:"otp_attempts,notnull" json:"otp_attempts"`
	OtpSentAt         *time.Time `bun:"otp_sent_at,nullzero" json:"otp_sent_at,omitempty"`
	Disabled          bool       `bun:"disabled,notnull" json:"disabled"`
	ExpiresAt         time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	ConsumedAt        *time.Time `bun:"consumed_at,nullzero" json:"consumed_at,omitempty"`
	CreatedAt         *time.Time `bun:"created_at,nullzero" json:"created_at,omitempty"`
	UpdatedAt         *time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`

	// UserExists is resolved by the directory when the invite is loaded.
	UserExists bool `bun:"-" json:"user_exists"`
}

// InviteOption customizes NewInvite.
type InviteOption func(*Invite)

// WithInviteService binds a USER invite to a service and role.
func WithInviteService(serviceExternalID string, role Role) InviteOption {
	return func(i *Invite) {
		i.ServiceExternalID = serviceExternalID
		i.RoleName = role.Name()
	}
}

// WithInviteSender records the administrator who sent the invite.
func WithInviteSender(email string) InviteOption {
	return func(i *Invite) {
		i.SenderEmail = email
	}
}

// WithInviteTelephone pre-fills a telephone number.
func WithInviteTelephone(number string) InviteOption {
	return func(i *Invite) {
		i.TelephoneNumber = number
	}
}

// WithInviteExpiry overrides the expiry time.
func WithInviteExpiry(at time.Time) InviteOption {
	return func(i *Invite) {
		i.ExpiresAt = at
	}
}

// NewInvite builds an invite with a fresh unguessable code.
func NewInvite(kind InviteType, email string, now time.Time, opts ...InviteOption) (*Invite, error) {
	code, err := NewInviteCode()
	if err != nil {
		return nil, err
	}

	invite := &Invite{
		ID:        uuid.New(),
		Code:      code,
		Type:      kind,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		ExpiresAt: now.Add(DefaultInviteTTL),
		CreatedAt: &now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(invite)
		}
	}

	return invite, nil
}

// Validate checks the invite before it is stored. A role name, when set,
// must belong to the catalog.
func (i *Invite) Validate() error {
	err := validation.ValidateStruct(i,
		validation.Field(&i.Code, validation.Required),
		validation.Field(&i.Type, validation.Required, validation.In(InviteTypeUser, InviteTypeService)),
		validation.Field(&i.Email, validation.Required, is.Email),
		validation.Field(&i.RoleName, validation.By(func(value any) error {
			name, _ := value.(string)
			if name == "" {
				return nil
			}
			_, err := ResolveRoleByName(name)
			return err
		})),
		validation.Field(&i.SenderEmail, is.Email),
	)
	if err != nil {
		return withMeta(ErrValidation, map[string]any{"fields": FormatValidationErrorToMap(err)})
	}
	return nil
}

// NewInviteCode returns 128 random bits, hex encoded.
func NewInviteCode() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// OtpSecretState tracks whether a secret may be trusted.
type OtpSecretState = string

const (
	OtpSecretProvisional OtpSecretState = "PROVISIONAL"
	OtpSecretActive      OtpSecretState = "ACTIVE"
	OtpSecretRetired     OtpSecretState = "RETIRED"
)

// OtpSecret is a TOTP shared secret owned by an invite code or a user id.
type OtpSecret struct {
	bun.BaseModel `bun:"table:otp_secrets,alias:otp"`
	ID            uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	OwnerID       string         `bun:"owner_id,notnull" json:"owner_id"`
	SecretKey     string         `bun:"secret_key,notnull" json:"-"`
	Algorithm     string         `bun:"algorithm,notnull" json:"algorithm"`
	Digits        int            `bun:"digits,notnull" json:"digits"`
	Period        int            `bun:"period,notnull" json:"period"`
	State         OtpSecretState `bun:"state,notnull" json:"state"`
	CreatedAt     *time.Time     `bun:"created_at,nullzero" json:"created_at,omitempty"`
	ActivatedAt   *time.Time     `bun:"activated_at,nullzero" json:"activated_at,omitempty"`

	// Method is set on secrets provisioned by a second factor setup.
	Method SecondFactorMethod `bun:"method,nullzero" json:"method,omitempty"`

	// PairingURI is only populated on the value returned by Generate.
	PairingURI string `bun:"-" json:"pairing_uri,omitempty"`
}

func (s *OtpSecret) IsProvisional() bool { return s != nil && s.State == OtpSecretProvisional }
func (s *OtpSecret) IsActive() bool      { return s != nil && s.State == OtpSecretActive }
