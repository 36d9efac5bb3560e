package onboard

import (
	"context"
	"crypto/rand"
	"io"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	OtpDigits     = 6
	OtpPeriod     = 30
	OtpSecretSize = 20
	OtpSkew       = 1
	otpAlgorithm  = "SHA1"
)

// SecretStore persists OTP secrets.
type SecretStore interface {
	// ReplaceProvisional retires every PROVISIONAL secret of the owner and
	// stores secret in a single transaction.
	ReplaceProvisional(ctx context.Context, secret *OtpSecret) (*OtpSecret, error)
	// SecretInState returns the owner's secret in state. There is at most one
	// PROVISIONAL and one ACTIVE secret per owner.
	SecretInState(ctx context.Context, ownerID string, state OtpSecretState) (*OtpSecret, error)
	// ActivateSecret promotes secretID to ACTIVE and retires any other ACTIVE
	// secret of the owner. It fails if secretID is no longer current.
	ActivateSecret(ctx context.Context, ownerID string, secretID uuid.UUID, at time.Time) error
}

// OtpService is the subset of OtpProvisioner the lifecycle components use.
type OtpService interface {
	Generate(ownerID string, opts ...ProvisionOption) (*OtpSecret, error)
	Provision(ctx context.Context, ownerID string, opts ...ProvisionOption) (*OtpSecret, error)
	Verify(ctx context.Context, ownerID, code string) error
	Confirm(ctx context.Context, ownerID, code string) error
	Check(ctx context.Context, ownerID, code string) (*OtpSecret, error)
	CheckPending(ctx context.Context, ownerID, code string) (*OtpSecret, error)
	GenerateCode(ctx context.Context, ownerID string) (string, error)
	CodeFor(secret *OtpSecret) (string, error)
}

// OtpProvisioner issues and checks TOTP secrets.
type OtpProvisioner struct {
	store  SecretStore
	now    Clock
	rand   io.Reader
	issuer string
	logger Logger
}

// OtpOption customizes OtpProvisioner.
type OtpOption func(*OtpProvisioner)

// WithOtpClock injects the time source (useful for tests).
func WithOtpClock(clock Clock) OtpOption {
	return func(p *OtpProvisioner) {
		if clock != nil {
			p.now = clock
		}
	}
}

// WithOtpRand overrides the secret random source.
func WithOtpRand(r io.Reader) OtpOption {
	return func(p *OtpProvisioner) {
		if r != nil {
			p.rand = r
		}
	}
}

// WithOtpIssuer sets the issuer shown by authenticator apps.
func WithOtpIssuer(issuer string) OtpOption {
	return func(p *OtpProvisioner) {
		if issuer != "" {
			p.issuer = issuer
		}
	}
}

// WithOtpLogger overrides the logger.
func WithOtpLogger(logger Logger) OtpOption {
	return func(p *OtpProvisioner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewOtpProvisioner returns a provisioner backed by store.
func NewOtpProvisioner(store SecretStore, opts ...OtpOption) *OtpProvisioner {
	p := &OtpProvisioner{
		store:  store,
		now:    time.Now,
		rand:   rand.Reader,
		issuer: "Payments",
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

var _ OtpService = (*OtpProvisioner)(nil)

type provisionOptions struct {
	accountName string
	method      SecondFactorMethod
}

// ProvisionOption customizes a single Provision call.
type ProvisionOption func(*provisionOptions)

// WithAccountName sets the account label of the pairing URI.
func WithAccountName(name string) ProvisionOption {
	return func(o *provisionOptions) {
		o.accountName = name
	}
}

// WithSetupMethod records the second factor method the secret is set up for.
func WithSetupMethod(method SecondFactorMethod) ProvisionOption {
	return func(o *provisionOptions) {
		o.method = method
	}
}

// Generate creates a PROVISIONAL secret for ownerID without storing it. The
// returned value carries the otpauth:// pairing URI.
func (p *OtpProvisioner) Generate(ownerID string, opts ...ProvisionOption) (*OtpSecret, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, withMeta(ErrValidation, map[string]any{"reason": "owner id is required"})
	}

	options := provisionOptions{accountName: ownerID}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.issuer,
		AccountName: options.accountName,
		Period:      OtpPeriod,
		SecretSize:  OtpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		Rand:        p.rand,
	})
	if err != nil {
		return nil, downstream(err, "failed to generate otp secret")
	}

	now := p.now()
	return &OtpSecret{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		SecretKey:  key.Secret(),
		Algorithm:  otpAlgorithm,
		Digits:     OtpDigits,
		Period:     OtpPeriod,
		Method:     options.method,
		State:      OtpSecretProvisional,
		CreatedAt:  &now,
		PairingURI: key.URL(),
	}, nil
}

// Provision generates and stores a PROVISIONAL secret for ownerID,
// superseding any earlier PROVISIONAL one.
func (p *OtpProvisioner) Provision(ctx context.Context, ownerID string, opts ...ProvisionOption) (*OtpSecret, error) {
	secret, err := p.Generate(ownerID, opts...)
	if err != nil {
		return nil, err
	}

	stored, err := p.store.ReplaceProvisional(ctx, secret)
	if err != nil {
		return nil, downstream(err, "failed to store otp secret")
	}
	if stored == nil {
		stored = secret
	}
	stored.PairingURI = secret.PairingURI

	return stored, nil
}

// Verify checks code against the owner's trusted secret and re-confirms it.
// A PROVISIONAL secret is only accepted while the owner has no ACTIVE one.
// Every failure is reported as ErrOtpMismatch.
func (p *OtpProvisioner) Verify(ctx context.Context, ownerID, code string) error {
	secret, err := p.Check(ctx, ownerID, code)
	if err != nil {
		return err
	}
	return p.activate(ctx, ownerID, secret)
}

// Confirm accepts the code of the owner's PROVISIONAL secret and promotes
// it, superseding the ACTIVE one. Without a matching pending secret it
// behaves like Verify.
func (p *OtpProvisioner) Confirm(ctx context.Context, ownerID, code string) error {
	secret, err := p.CheckPending(ctx, ownerID, code)
	if err != nil {
		if IsOtpMismatch(err) {
			return p.Verify(ctx, ownerID, code)
		}
		return err
	}
	return p.activate(ctx, ownerID, secret)
}

func (p *OtpProvisioner) activate(ctx context.Context, ownerID string, secret *OtpSecret) error {
	if err := p.store.ActivateSecret(ctx, ownerID, secret.ID, p.now()); err != nil {
		if IsOtpMismatch(err) {
			return err
		}
		return downstream(err, "failed to activate otp secret")
	}
	return nil
}

// Check validates code without changing any state and returns the matching
// secret. It trusts the ACTIVE secret, falling back to the PROVISIONAL one
// only when the owner has never confirmed a secret.
func (p *OtpProvisioner) Check(ctx context.Context, ownerID, code string) (*OtpSecret, error) {
	code = SanitizeOtpCode(code)
	if err := validateOtpFormat(code); err != nil {
		return nil, ErrOtpMismatch
	}

	secret, err := p.secretInState(ctx, ownerID, OtpSecretActive)
	if err != nil {
		return nil, err
	}
	if secret == nil {
		if secret, err = p.secretInState(ctx, ownerID, OtpSecretProvisional); err != nil {
			return nil, err
		}
	}
	return p.match(secret, code)
}

// CheckPending validates code against the PROVISIONAL secret only.
func (p *OtpProvisioner) CheckPending(ctx context.Context, ownerID, code string) (*OtpSecret, error) {
	code = SanitizeOtpCode(code)
	if err := validateOtpFormat(code); err != nil {
		return nil, ErrOtpMismatch
	}

	secret, err := p.secretInState(ctx, ownerID, OtpSecretProvisional)
	if err != nil {
		return nil, err
	}
	return p.match(secret, code)
}

func (p *OtpProvisioner) match(secret *OtpSecret, code string) (*OtpSecret, error) {
	if secret == nil || secret.State == OtpSecretRetired {
		return nil, ErrOtpMismatch
	}
	ok, err := totp.ValidateCustom(code, secret.SecretKey, p.now(), validateOpts())
	if err != nil || !ok {
		return nil, ErrOtpMismatch
	}
	return secret, nil
}

// secretInState returns nil, nil when the owner has no secret in state.
func (p *OtpProvisioner) secretInState(ctx context.Context, ownerID string, state OtpSecretState) (*OtpSecret, error) {
	secret, err := p.store.SecretInState(ctx, ownerID, state)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, downstream(err, "failed to load otp secret")
	}
	return secret, nil
}

// GenerateCode returns the current code for SMS delivery, taken from the
// pending secret when there is one.
func (p *OtpProvisioner) GenerateCode(ctx context.Context, ownerID string) (string, error) {
	secret, err := p.secretInState(ctx, ownerID, OtpSecretProvisional)
	if err != nil {
		return "", err
	}
	if secret == nil {
		if secret, err = p.secretInState(ctx, ownerID, OtpSecretActive); err != nil {
			return "", err
		}
	}
	return p.CodeFor(secret)
}

// CodeFor computes the current code of secret.
func (p *OtpProvisioner) CodeFor(secret *OtpSecret) (string, error) {
	if secret == nil {
		return "", ErrOtpMismatch
	}
	code, err := totp.GenerateCodeCustom(secret.SecretKey, p.now(), validateOpts())
	if err != nil {
		return "", downstream(err, "failed to generate otp code")
	}
	return code, nil
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    OtpPeriod,
		Skew:      OtpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// SanitizeOtpCode drops the whitespace people type between digit groups.
func SanitizeOtpCode(code string) string {
	return strings.Join(strings.Fields(code), "")
}

func validateOtpFormat(code string) error {
	return validation.Validate(code,
		validation.Required,
		validation.Length(OtpDigits, OtpDigits),
		is.Digit,
	)
}
