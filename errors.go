package onboard

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation          = "VALIDATION_FAILED"
	TextCodeCarrierMissing      = "REGISTRATION_CARRIER_MISSING"
	TextCodeInviteNotFound      = "INVITE_NOT_FOUND"
	TextCodeUserNotFound        = "USER_NOT_FOUND"
	TextCodeInviteExpired       = "INVITE_EXPIRED"
	TextCodeInviteDisabled      = "INVITE_DISABLED"
	TextCodeInviteConsumed      = "INVITE_ALREADY_USED"
	TextCodeInviteWrongStep     = "INVITE_WRONG_STEP"
	TextCodeOtpMismatch         = "OTP_MISMATCH"
	TextCodeSelfAction          = "SELF_ACTION_FORBIDDEN"
	TextCodeForbidden           = "PERMISSION_DENIED"
	TextCodeNotAMember          = "NOT_A_SERVICE_MEMBER"
	TextCodeRoleNotFound        = "ROLE_NOT_FOUND"
	TextCodeIntegrity           = "INTEGRITY_VIOLATION"
	TextCodeInvalidSecondFactor = "INVALID_SECOND_FACTOR_METHOD"
	TextCodeDownstream          = "DOWNSTREAM_FAILURE"
	TextCodeTokenExpired        = "TOKEN_EXPIRED"
	TextCodeTokenMalformed      = "TOKEN_MALFORMED"
)

// ErrValidation is returned when submitted field values are rejected.
var ErrValidation = goerrors.New("invalid field values", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrCarrierMissing means the registration flow state lost its code or email.
var ErrCarrierMissing = goerrors.New("registration state is missing or incomplete", goerrors.CategoryBadInput).
	WithTextCode(TextCodeCarrierMissing).
	WithCode(goerrors.CodeBadRequest)

// ErrInviteNotFound is returned for unknown invite codes.
var ErrInviteNotFound = goerrors.New("invite not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeInviteNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrUserNotFound is returned for unknown users.
var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInviteExpired is returned once the invite expiry time has passed.
var ErrInviteExpired = goerrors.New("invite has expired", goerrors.CategoryValidation).
	WithTextCode(TextCodeInviteExpired).
	WithCode(http.StatusGone)

// ErrInviteDisabled is returned for invites switched off by an administrator
// or by too many failed verification attempts.
var ErrInviteDisabled = goerrors.New("invite has been disabled", goerrors.CategoryValidation).
	WithTextCode(TextCodeInviteDisabled).
	WithCode(http.StatusGone)

// ErrInviteConsumed is returned when a single-use invite is presented again.
var ErrInviteConsumed = goerrors.New("invite has already been used", goerrors.CategoryConflict).
	WithTextCode(TextCodeInviteConsumed).
	WithCode(goerrors.CodeForbidden)

// ErrInviteWrongStep is returned when an operation does not apply to the
// current branch of the invite (e.g. registering an existing user).
var ErrInviteWrongStep = goerrors.New("operation not valid for this invite", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInviteWrongStep).
	WithCode(goerrors.CodeBadRequest)

// ErrOtpMismatch is the only failure Verify exposes.
var ErrOtpMismatch = goerrors.New("verification code rejected", goerrors.CategoryAuth).
	WithTextCode(TextCodeOtpMismatch).
	WithCode(goerrors.CodeBadRequest)

// ErrSelfActionForbidden blocks users changing their own role or removing themselves.
var ErrSelfActionForbidden = goerrors.New("operation not allowed on own account", goerrors.CategoryAuthz).
	WithTextCode(TextCodeSelfAction).
	WithCode(goerrors.CodeForbidden)

// ErrForbidden is returned when the role lacks the required permission.
var ErrForbidden = goerrors.New("permission denied", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrNotAMember is returned when the user holds no role on the service.
var ErrNotAMember = goerrors.New("user is not a member of the service", goerrors.CategoryAuthz).
	WithTextCode(TextCodeNotAMember).
	WithCode(goerrors.CodeForbidden)

// ErrRoleNotFound is returned by the catalog for ids or names outside the table.
var ErrRoleNotFound = goerrors.New("role not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeRoleNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrIntegrity flags tampered input: unknown role ids, replayed invite codes.
var ErrIntegrity = goerrors.New("integrity check failed", goerrors.CategoryAuthz).
	WithTextCode(TextCodeIntegrity).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidSecondFactorMethod is returned for unsupported method values or
// SMS-only operations on an app method.
var ErrInvalidSecondFactorMethod = goerrors.New("invalid second factor method", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidSecondFactor).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenExpired is returned for acting user tokens past their expiry.
var ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed covers bad signatures, claims and encodings.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = errors.New("password can't be an empty string")

// withMeta derives a new error from a sentinel so shared values are never mutated.
func withMeta(base *goerrors.Error, meta map[string]any) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		clone = goerrors.New(base.Message, base.Category).
			WithTextCode(base.TextCode).
			WithCode(base.Code)
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

// downstream wraps collaborator failures. Rich errors pass through untouched.
func downstream(err error, message string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithTextCode(TextCodeDownstream)
}

// TextCode returns the text code carried by err, or "" for plain errors.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		return richErr.TextCode
	}
	return ""
}

// HasTextCode reports whether err carries the given text code.
func HasTextCode(err error, code string) bool {
	return err != nil && TextCode(err) == code
}

// IsOtpMismatch reports a recoverable code rejection.
func IsOtpMismatch(err error) bool { return HasTextCode(err, TextCodeOtpMismatch) }

// IsValidation reports a recoverable field error.
func IsValidation(err error) bool { return HasTextCode(err, TextCodeValidation) }

// IsExpiredOrDisabled reports a terminal invite failure.
func IsExpiredOrDisabled(err error) bool {
	return HasTextCode(err, TextCodeInviteExpired) || HasTextCode(err, TextCodeInviteDisabled)
}

// IsIntegrity reports errors that must be logged as possible attacks.
func IsIntegrity(err error) bool {
	return HasTextCode(err, TextCodeIntegrity) || HasTextCode(err, TextCodeInviteConsumed)
}

// HTTPStatus maps the error taxonomy onto response codes.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch TextCode(err) {
	case TextCodeValidation, TextCodeCarrierMissing, TextCodeInviteWrongStep,
		TextCodeOtpMismatch, TextCodeInvalidSecondFactor:
		return http.StatusBadRequest
	case TextCodeSelfAction, TextCodeForbidden, TextCodeNotAMember, TextCodeIntegrity,
		TextCodeInviteConsumed:
		return http.StatusForbidden
	case TextCodeInviteNotFound, TextCodeUserNotFound, TextCodeRoleNotFound:
		return http.StatusNotFound
	case TextCodeInviteExpired, TextCodeInviteDisabled:
		return http.StatusGone
	case TextCodeTokenExpired, TextCodeTokenMalformed:
		return http.StatusUnauthorized
	}

	return http.StatusInternalServerError
}
