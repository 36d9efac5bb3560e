package onboard

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-onboard/middleware/jwtware"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

// DefaultSessionCookie holds the key under which the registration carrier is stored.
const DefaultSessionCookie = "onboard_session"

type OnboardControllerRoutes struct {
	Invite           string
	Details          string
	VerifyOtp        string
	ResendOtp        string
	ReVerifyPhone    string
	Subscribe        string
	TwoFactorSetup   string
	TwoFactorConfirm string
	TwoFactorResend  string
	TeamRole         string
	TeamMember       string
}

type OnboardController struct {
	Debug         bool
	Secure        bool
	Logger        Logger
	Lifecycle     *InviteLifecycle
	TwoFactor     *TwoFactorEnrollment
	Gate          *PermissionGate
	Carriers      CarrierStore
	Routes        *OnboardControllerRoutes
	SessionCookie string
	ActingUser    func(*fiber.Ctx) (uuid.UUID, error)
}

type OnboardControllerOption func(*OnboardController) *OnboardController

func WithControllerLogger(logger Logger) OnboardControllerOption {
	return func(c *OnboardController) *OnboardController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerDebug(debug bool) OnboardControllerOption {
	return func(c *OnboardController) *OnboardController {
		c.Debug = debug
		return c
	}
}

func WithSecureCookies(secure bool) OnboardControllerOption {
	return func(c *OnboardController) *OnboardController {
		c.Secure = secure
		return c
	}
}

func WithInviteLifecycle(l *InviteLifecycle) OnboardControllerOption {
	return func(c *OnboardController) *OnboardController {
		c.Lifecycle = l
		return c
	}
}

func WithTwoFactorEnrollment(t *TwoFactorEnrollment) OnboardControllerOption {
	return func(c *OnboardController) *OnboardController {
		c.TwoFactor = t
		return c
	}
}

func WithPermissionGate(g *PermissionGate) OnboardControllerOption {
	return func(c *OnboardController) *OnboardController {
		c.Gate = g
		return c
	}
}

func WithCarrierStore(store CarrierStore) OnboardControllerOption {
	return func(c *OnboardController) *OnboardController {
		c.Carriers = store
		return c
	}
}

// WithActingUserResolver overrides how the logged in user is read from the request.
func WithActingUserResolver(fn func(*fiber.Ctx) (uuid.UUID, error)) OnboardControllerOption {
	return func(c *OnboardController) *OnboardController {
		if fn != nil {
			c.ActingUser = fn
		}
		return c
	}
}

func NewOnboardController(opts ...OnboardControllerOption) *OnboardController {
	c := &OnboardController{
		Logger:        defLogger{},
		SessionCookie: DefaultSessionCookie,
		Secure:        true,
		ActingUser: func(ctx *fiber.Ctx) (uuid.UUID, error) {
			return jwtware.ActingUser(ctx)
		},
		Routes: &OnboardControllerRoutes{
			Invite:           "/invites/:code",
			Details:          "/register/details",
			VerifyOtp:        "/register/otp",
			ResendOtp:        "/register/otp/resend",
			ReVerifyPhone:    "/register/phone",
			Subscribe:        "/invites/:code/subscribe",
			TwoFactorSetup:   "/account/2fa/setup",
			TwoFactorConfirm: "/account/2fa/confirm",
			TwoFactorResend:  "/account/2fa/resend",
			TeamRole:         "/services/:service/team/:user/role",
			TeamMember:       "/services/:service/team/:user",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Lifecycle == nil {
		panic("Missing InviteLifecycle in onboard controller...")
	}

	if c.TwoFactor == nil {
		panic("Missing TwoFactorEnrollment in onboard controller...")
	}

	if c.Gate == nil {
		panic("Missing PermissionGate in onboard controller...")
	}

	if c.Carriers == nil {
		c.Carriers = NewMemoryCarrierStore(DefaultInviteTTL, time.Now)
	}

	return c
}

// RegisterOnboardRoutes mounts the controller. protected runs before every
// route that needs a logged in user, typically jwtware.New.
func RegisterOnboardRoutes(app fiber.Router, controller *OnboardController, protected ...fiber.Handler) {
	app.Get(controller.Routes.Invite, controller.OpenInvite)
	app.Post(controller.Routes.Details, controller.SubmitDetails)
	app.Post(controller.Routes.VerifyOtp, controller.VerifyOtp)
	app.Post(controller.Routes.ResendOtp, controller.ResendOtp)
	app.Post(controller.Routes.ReVerifyPhone, controller.ReVerifyPhone)

	withAuth := func(h fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, protected...), h)
	}

	app.Post(controller.Routes.Subscribe, withAuth(controller.Subscribe)...)
	app.Post(controller.Routes.TwoFactorSetup, withAuth(controller.StartTwoFactorSetup)...)
	app.Post(controller.Routes.TwoFactorConfirm, withAuth(controller.ConfirmTwoFactorSetup)...)
	app.Post(controller.Routes.TwoFactorResend, withAuth(controller.ResendTwoFactorCode)...)
	app.Put(controller.Routes.TeamRole, withAuth(controller.UpdateTeamRole)...)
	app.Delete(controller.Routes.TeamMember, withAuth(controller.RemoveTeamMember)...)
}

// DetailsPayload is the registration details form.
type DetailsPayload struct {
	TelephoneNumber string `form:"telephone_number" json:"telephone_number"`
	Password        string `form:"password" json:"password"`
}

// CodePayload carries a submitted verification code.
type CodePayload struct {
	Code string `form:"code" json:"code"`
}

// TelephonePayload carries an optional replacement telephone number.
type TelephonePayload struct {
	TelephoneNumber string `form:"telephone_number" json:"telephone_number"`
}

// MethodPayload selects a second factor method.
type MethodPayload struct {
	Method string `form:"method" json:"method"`
}

// RolePayload carries the external role id from the team form.
type RolePayload struct {
	RoleID string `form:"role_id" json:"role_id"`
}

// InviteResponse is the JSON view of an InviteResult.
type InviteResponse struct {
	State           InviteState       `json:"state"`
	Route           InviteRoute       `json:"route"`
	Step            Step              `json:"step"`
	Email           string            `json:"email,omitempty"`
	TelephoneNumber string            `json:"telephone_number,omitempty"`
	// UserID is only set once the flow has completed for a user.
	UserID          string            `json:"user_id,omitempty"`
	Values          map[string]string `json:"values,omitempty"`
	Errors          map[string]string `json:"errors,omitempty"`
}

func newInviteResponse(res *InviteResult) InviteResponse {
	out := InviteResponse{
		State: res.State,
		Route: res.Route,
		Step:  res.Step,
	}
	if res.Invite != nil {
		out.Email = res.Invite.Email
	}
	if res.Carrier != nil {
		out.TelephoneNumber = res.Carrier.TelephoneNumber
		if res.Carrier.Recovered != nil {
			out.Values = res.Carrier.Recovered.Values
			out.Errors = res.Carrier.Recovered.Errors
		}
	}
	if res.User != nil {
		out.UserID = res.User.ID.String()
	}
	return out
}

func (a *OnboardController) OpenInvite(c *fiber.Ctx) error {
	ctx := c.UserContext()
	key := a.sessionKey(c)

	carrier, err := a.Carriers.Read(ctx, key)
	if err != nil {
		return a.errorResponse(c, downstream(err, "failed to read registration state"))
	}

	res, err := a.Lifecycle.Open(ctx, c.Params("code"), carrier)
	if err != nil {
		return a.errorResponse(c, err)
	}

	return a.respond(c, key, res, nil)
}

func (a *OnboardController) SubmitDetails(c *fiber.Ctx) error {
	payload := new(DetailsPayload)
	if err := c.BodyParser(payload); err != nil {
		return a.errorResponse(c, withMeta(ErrValidation, map[string]any{"form": "failed to parse form"}))
	}

	return a.step(c, func(ctx context.Context, carrier *RegistrationCarrier) (*InviteResult, error) {
		return a.Lifecycle.SubmitDetails(ctx, carrier, payload.TelephoneNumber, payload.Password)
	})
}

func (a *OnboardController) VerifyOtp(c *fiber.Ctx) error {
	payload := new(CodePayload)
	if err := c.BodyParser(payload); err != nil {
		return a.errorResponse(c, withMeta(ErrValidation, map[string]any{"form": "failed to parse form"}))
	}

	return a.step(c, func(ctx context.Context, carrier *RegistrationCarrier) (*InviteResult, error) {
		return a.Lifecycle.SubmitOtp(ctx, carrier, payload.Code)
	})
}

func (a *OnboardController) ResendOtp(c *fiber.Ctx) error {
	payload := new(TelephonePayload)
	if err := c.BodyParser(payload); err != nil {
		return a.errorResponse(c, withMeta(ErrValidation, map[string]any{"form": "failed to parse form"}))
	}

	return a.step(c, func(ctx context.Context, carrier *RegistrationCarrier) (*InviteResult, error) {
		return a.Lifecycle.ResendOtp(ctx, carrier, payload.TelephoneNumber)
	})
}

func (a *OnboardController) ReVerifyPhone(c *fiber.Ctx) error {
	payload := new(TelephonePayload)
	if err := c.BodyParser(payload); err != nil {
		return a.errorResponse(c, withMeta(ErrValidation, map[string]any{"form": "failed to parse form"}))
	}

	return a.step(c, func(ctx context.Context, carrier *RegistrationCarrier) (*InviteResult, error) {
		return a.Lifecycle.ReVerifyPhone(ctx, carrier, payload.TelephoneNumber)
	})
}

func (a *OnboardController) Subscribe(c *fiber.Ctx) error {
	actor, err := a.ActingUser(c)
	if err != nil {
		return a.unauthorized(c, err)
	}

	return a.step(c, func(ctx context.Context, carrier *RegistrationCarrier) (*InviteResult, error) {
		if carrier != nil && carrier.Code != c.Params("code") {
			return nil, withMeta(ErrCarrierMissing, map[string]any{"reason": "carrier belongs to another invite"})
		}
		return a.Lifecycle.SubscribeExistingUser(ctx, carrier, actor)
	})
}

func (a *OnboardController) StartTwoFactorSetup(c *fiber.Ctx) error {
	actor, err := a.ActingUser(c)
	if err != nil {
		return a.unauthorized(c, err)
	}

	payload := new(MethodPayload)
	if err := c.BodyParser(payload); err != nil {
		return a.errorResponse(c, withMeta(ErrValidation, map[string]any{"form": "failed to parse form"}))
	}

	res, err := a.TwoFactor.StartSetup(c.UserContext(), actor, payload.Method)
	if err != nil {
		return a.errorResponse(c, err)
	}

	body := fiber.Map{"method": res.Method}
	if res.Secret != nil && res.Secret.PairingURI != "" {
		body["pairing_uri"] = res.Secret.PairingURI
	}
	if res.SentTo != "" {
		body["sent_to"] = res.SentTo
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

func (a *OnboardController) ConfirmTwoFactorSetup(c *fiber.Ctx) error {
	actor, err := a.ActingUser(c)
	if err != nil {
		return a.unauthorized(c, err)
	}

	payload := new(CodePayload)
	if err := c.BodyParser(payload); err != nil {
		return a.errorResponse(c, withMeta(ErrValidation, map[string]any{"form": "failed to parse form"}))
	}

	user, err := a.TwoFactor.ConfirmSetup(c.UserContext(), actor, payload.Code)
	if err != nil {
		return a.errorResponse(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"second_factor": user.SecondFactor})
}

func (a *OnboardController) ResendTwoFactorCode(c *fiber.Ctx) error {
	actor, err := a.ActingUser(c)
	if err != nil {
		return a.unauthorized(c, err)
	}

	if err := a.TwoFactor.Resend(c.UserContext(), actor); err != nil {
		return a.errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (a *OnboardController) UpdateTeamRole(c *fiber.Ctx) error {
	actor, err := a.ActingUser(c)
	if err != nil {
		return a.unauthorized(c, err)
	}

	target, err := uuid.Parse(c.Params("user"))
	if err != nil {
		return a.errorResponse(c, withMeta(ErrUserNotFound, map[string]any{"user_id": c.Params("user")}))
	}

	payload := new(RolePayload)
	if err := c.BodyParser(payload); err != nil {
		return a.errorResponse(c, withMeta(ErrValidation, map[string]any{"form": "failed to parse form"}))
	}

	role, err := a.Gate.AuthorizeRoleUpdate(c.UserContext(), actor, target, c.Params("service"), payload.RoleID)
	if err != nil {
		return a.errorResponse(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"role":        role.Name(),
		"role_id":     role.ExternalID(),
		"description": role.Description(),
	})
}

func (a *OnboardController) RemoveTeamMember(c *fiber.Ctx) error {
	actor, err := a.ActingUser(c)
	if err != nil {
		return a.unauthorized(c, err)
	}

	target, err := uuid.Parse(c.Params("user"))
	if err != nil {
		return a.errorResponse(c, withMeta(ErrUserNotFound, map[string]any{"user_id": c.Params("user")}))
	}

	if err := a.Gate.RemoveTeamMember(c.UserContext(), actor, target, c.Params("service")); err != nil {
		return a.errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// step runs a registration transition against the stored carrier and
// persists whatever carrier the transition returns.
func (a *OnboardController) step(c *fiber.Ctx, fn func(context.Context, *RegistrationCarrier) (*InviteResult, error)) error {
	ctx := c.UserContext()
	key := a.sessionKey(c)

	carrier, err := a.Carriers.Read(ctx, key)
	if err != nil {
		return a.errorResponse(c, downstream(err, "failed to read registration state"))
	}

	res, err := fn(ctx, carrier)
	if res == nil {
		return a.errorResponse(c, err)
	}
	return a.respond(c, key, res, err)
}

func (a *OnboardController) respond(c *fiber.Ctx, key string, res *InviteResult, stepErr error) error {
	ctx := c.UserContext()

	if res.Carrier == nil {
		if err := a.Carriers.Destroy(ctx, key); err != nil {
			a.Logger.Warn("failed to destroy registration state: %v", err)
		}
		a.clearSessionCookie(c)
	} else if err := a.Carriers.Write(ctx, key, res.Carrier); err != nil {
		return a.errorResponse(c, downstream(err, "failed to store registration state"))
	}

	if a.Debug {
		a.Logger.Debug("invite transition: %s", print.MaybePrettyJSON(res))
	}

	status := fiber.StatusOK
	if stepErr != nil {
		status = HTTPStatus(stepErr)
		a.logError(c, stepErr, status)
	}

	body := newInviteResponse(res)
	if stepErr != nil {
		return c.Status(status).JSON(fiber.Map{
			"error":  errorBody(stepErr),
			"invite": body,
		})
	}
	return c.Status(status).JSON(body)
}

func (a *OnboardController) sessionKey(c *fiber.Ctx) string {
	if key := c.Cookies(a.SessionCookie); key != "" {
		return key
	}

	key, err := NewInviteCode()
	if err != nil {
		key = uuid.NewString()
	}

	c.Cookie(&fiber.Cookie{
		Name:     a.SessionCookie,
		Value:    key,
		Expires:  time.Now().Add(DefaultInviteTTL),
		HTTPOnly: true,
		Secure:   a.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return key
}

func (a *OnboardController) clearSessionCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     a.SessionCookie,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   a.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (a *OnboardController) unauthorized(c *fiber.Ctx, err error) error {
	a.Logger.Info("missing acting user on %s: %v", c.OriginalURL(), err)
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": fiber.Map{
			"text_code": "UNAUTHENTICATED",
			"message":   "authentication required",
		},
	})
}

func (a *OnboardController) errorResponse(c *fiber.Ctx, err error) error {
	if err == nil {
		err = fmt.Errorf("transition returned no result")
	}
	status := HTTPStatus(err)
	a.logError(c, err, status)
	return c.Status(status).JSON(fiber.Map{"error": errorBody(err)})
}

func (a *OnboardController) logError(c *fiber.Ctx, err error, status int) {
	switch {
	case status >= fiber.StatusInternalServerError:
		a.Logger.Error("%s %s failed: %v", c.Method(), c.OriginalURL(), err)
	case IsIntegrity(err):
		a.Logger.Warn("%s %s rejected as integrity violation: %v", c.Method(), c.OriginalURL(), err)
	default:
		a.Logger.Debug("%s %s rejected: %v", c.Method(), c.OriginalURL(), err)
	}
}
