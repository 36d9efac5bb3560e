package onboard

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultTokenTTL is how long acting user tokens stay valid.
const DefaultTokenTTL = time.Hour

// TokenService mints and validates HS256 tokens that identify the acting
// user for the account and team endpoints. The subject is the user uuid.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	ttl        time.Duration
	now        func() time.Time
	logger     Logger
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

func WithTokenIssuer(issuer string) TokenOption {
	return func(ts *TokenService) { ts.issuer = issuer }
}

func WithTokenAudience(audience ...string) TokenOption {
	return func(ts *TokenService) {
		ts.audience = append(jwt.ClaimStrings(nil), audience...)
	}
}

// WithTokenTTL overrides DefaultTokenTTL. Non positive values are ignored.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(ts *TokenService) {
		if ttl > 0 {
			ts.ttl = ttl
		}
	}
}

func WithTokenClock(now func() time.Time) TokenOption {
	return func(ts *TokenService) {
		if now != nil {
			ts.now = now
		}
	}
}

func WithTokenLogger(logger Logger) TokenOption {
	return func(ts *TokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

func NewTokenService(signingKey []byte, opts ...TokenOption) *TokenService {
	ts := &TokenService{
		signingKey: signingKey,
		ttl:        DefaultTokenTTL,
		now:        time.Now,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

// Mint returns a signed token for userID and its expiry time.
func (ts *TokenService) Mint(userID uuid.UUID) (string, time.Time, error) {
	if userID == uuid.Nil {
		return "", time.Time{}, goerrors.New("user id is required", goerrors.CategoryBadInput)
	}
	if len(ts.signingKey) == 0 {
		return "", time.Time{}, goerrors.New("signing key is required", goerrors.CategoryInternal)
	}

	issuedAt := ts.now()
	expiresAt := issuedAt.Add(ts.ttl)

	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    ts.issuer,
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if len(ts.audience) > 0 {
		claims.Audience = append(jwt.ClaimStrings(nil), ts.audience...)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.signingKey)
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}
	return signed, expiresAt, nil
}

// Validate parses tokenString and returns the acting user id.
func (ts *TokenService) Validate(tokenString string) (uuid.UUID, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token validate encountered unexpected signing method %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)
	if err != nil {
		return uuid.Nil, TokenError(err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, withMeta(ErrTokenMalformed, map[string]any{"subject": claims.Subject})
	}
	return userID, nil
}

// TokenError maps token parsing failures onto ErrTokenExpired or
// ErrTokenMalformed so they render as 401 responses.
func TokenError(err error) error {
	if err == nil {
		return nil
	}
	if goerrors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return goerrors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
		WithTextCode(ErrTokenMalformed.TextCode).
		WithCode(ErrTokenMalformed.Code)
}
