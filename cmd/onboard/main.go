package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/golang-jwt/jwt/v5"
	onboard "github.com/goliatone/go-onboard"
	"github.com/goliatone/go-onboard/carrier"
	"github.com/goliatone/go-onboard/metrics"
	"github.com/goliatone/go-onboard/middleware/jwtware"
	"github.com/goliatone/go-onboard/notify"
	"github.com/goliatone/go-print"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type App struct {
	config    *Config
	logger    zlogger
	bunDB     *bun.DB
	repo      onboard.RepositoryManager
	directory *onboard.Directory
	notifier  onboard.NotificationSender
	carriers  onboard.CarrierStore
	sink      onboard.ActivitySink
	registry  *prometheus.Registry
	srv       *fiber.App
}

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	app := &App{}

	rootCmd := &cobra.Command{
		Use:           "onboard",
		Short:         "Invite onboarding, second factor and team permission service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupApp(cmd.Context(), app)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app.bunDB != nil {
				return app.bunDB.Close()
			}
			return nil
		},
		// serving is the default action
		RunE: func(cmd *cobra.Command, args []string) error {
			return Serve(cmd.Context(), app)
		},
	}

	rootCmd.AddCommand(serveCmd(app))
	rootCmd.AddCommand(inviteCmd(app))
	rootCmd.AddCommand(tokenCmd(app))

	return rootCmd
}

func serveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Serve(cmd.Context(), app)
		},
	}
}

func inviteCmd(app *App) *cobra.Command {
	var opts inviteOptions

	cmd := &cobra.Command{
		Use:     "invite",
		Short:   "Create an invite and print its code",
		Example: "  onboard invite --email new.user@example.com --service svc-1 --role view-only",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := CreateInvite(cmd.Context(), app, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Email, "email", "e", "", "Invitee e-mail address")
	cmd.Flags().StringVarP(&opts.ServiceID, "service", "s", "", "Service external id (USER invites)")
	cmd.Flags().StringVarP(&opts.Role, "role", "r", onboard.RoleViewOnly.Name(), "Role name granted on the service")
	cmd.Flags().StringVar(&opts.Sender, "sender", "", "E-mail of the administrator sending the invite")
	cmd.Flags().StringVar(&opts.Telephone, "telephone", "", "Pre-filled telephone number")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func tokenCmd(app *App) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Mint an acting user token signed with the configured HS256 key",
		Example: "  onboard token --email admin@example.com",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := MintToken(cmd.Context(), app, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "E-mail of the user the token acts for")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func setupApp(ctx context.Context, app *App) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := LoadConfig(ctx)
	if err != nil {
		return err
	}

	app.config = cfg
	app.logger = newLogger(cfg.LogLevel, cfg.LogPretty, os.Stdout)

	if cfg.Debug {
		fmt.Println(print.MaybePrettyJSON(cfg))
	}

	return WithPersistence(ctx, app)
}

// Serve wires the remaining collaborators and blocks until an exit signal.
func Serve(ctx context.Context, app *App) error {
	WithMetrics(app)

	if err := WithNotifier(ctx, app); err != nil {
		return err
	}

	if err := WithCarrierStore(ctx, app); err != nil {
		return err
	}

	WithHTTPServer(app)

	go func() {
		if err := app.srv.Listen(app.config.Addr); err != nil {
			app.logger.Error("server stopped: %v", err)
		}
	}()

	sig := WaitExitSignal()
	app.logger.Info("received %s, shutting down", sig)

	return app.srv.ShutdownWithTimeout(10 * time.Second)
}

func WithPersistence(ctx context.Context, app *App) error {
	sqldb, err := sql.Open(sqliteshim.ShimName, app.config.DSN)
	if err != nil {
		return err
	}

	app.bunDB = bun.NewDB(sqldb, sqlitedialect.New())

	if err := onboard.Migrate(ctx, app.bunDB); err != nil {
		return err
	}

	app.repo = onboard.NewRepositoryManager(app.bunDB)
	if err := app.repo.Validate(); err != nil {
		return err
	}

	app.directory = onboard.NewDirectory(app.repo,
		onboard.WithDirectoryLogger(app.logger.Named("directory")),
		onboard.WithHashedUserIDs(app.config.HashUserIDs),
	)
	return nil
}

func WithMetrics(app *App) {
	app.registry = prometheus.NewRegistry()
	app.sink = onboard.MultiActivitySink(
		metrics.NewSink(app.registry),
		activityLogSink(app.logger.Named("activity")),
	)
}

// WithNotifier uses SES and SNS when a region is configured and logs
// messages otherwise.
func WithNotifier(ctx context.Context, app *App) error {
	lgr := app.logger.Named("notify")

	if app.config.AWS.Region == "" {
		lgr.Warn("no AWS region configured, notifications will only be logged")
		app.notifier = notify.New(nil, nil, notify.WithLogger(lgr))
		return nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(app.config.AWS.Region))
	if err != nil {
		return fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	app.notifier = notify.New(
		notify.NewSNSProvider(sns.NewFromConfig(awsCfg), app.config.AWS.SmsSenderID),
		notify.NewSESProvider(ses.NewFromConfig(awsCfg), app.config.AWS.FromAddress),
		notify.WithLogger(lgr),
	)
	return nil
}

func WithCarrierStore(ctx context.Context, app *App) error {
	rcfg := app.config.Redis
	if rcfg.Addr == "" {
		app.carriers = onboard.NewMemoryCarrierStore(onboard.DefaultInviteTTL, time.Now)
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: rcfg.Addr,
		DB:   rcfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, rcfg.Timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping: %w", err)
	}

	app.carriers = carrier.NewRedisStore(client,
		carrier.WithPrefix(rcfg.Prefix),
		carrier.WithTTL(onboard.DefaultInviteTTL),
	)
	return nil
}

func WithHTTPServer(app *App) {
	cfg := app.config
	lgr := app.logger

	otp := onboard.NewOtpProvisioner(app.repo.Secrets(),
		onboard.WithOtpIssuer(cfg.OtpIssuer),
		onboard.WithOtpLogger(lgr.Named("otp")),
	)

	lifecycle := onboard.NewInviteLifecycle(app.directory, otp, app.notifier,
		onboard.WithLifecycleLogger(lgr.Named("lifecycle")),
		onboard.WithLifecycleActivitySink(app.sink),
		onboard.WithMaxOtpAttempts(cfg.MaxOtpAttempts),
		onboard.WithPhoneRegion(cfg.PhoneRegion),
	)

	twoFactor := onboard.NewTwoFactorEnrollment(app.directory, otp, app.notifier,
		onboard.WithTwoFactorLogger(lgr.Named("two_factor")),
		onboard.WithTwoFactorActivitySink(app.sink),
	)

	gate := onboard.NewPermissionGate(app.directory,
		onboard.WithGateLogger(lgr.Named("gate")),
		onboard.WithGateActivitySink(app.sink),
	)

	controller := onboard.NewOnboardController(
		onboard.WithControllerLogger(lgr.Named("http")),
		onboard.WithControllerDebug(cfg.Debug),
		onboard.WithSecureCookies(cfg.SecureCookies),
		onboard.WithInviteLifecycle(lifecycle),
		onboard.WithTwoFactorEnrollment(twoFactor),
		onboard.WithPermissionGate(gate),
		onboard.WithCarrierStore(app.carriers),
	)

	app.srv = fiber.New(fiber.Config{
		AppName:      "onboard",
		ErrorHandler: onboard.FiberErrorHandler(lgr.Named("http")),
	})

	app.srv.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})))

	onboard.RegisterOnboardRoutes(app.srv, controller, jwtware.New(jwtConfig(cfg.Auth)))
}

func jwtConfig(cfg AuthConfig) jwtware.Config {
	out := jwtware.Config{
		ErrorHandler: func(_ *fiber.Ctx, err error) error {
			return onboard.TokenError(err)
		},
	}
	if cfg.Issuer != "" {
		out.ParserOptions = append(out.ParserOptions, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.JWKSetURL != "" {
		out.JWKSetURLs = []string{cfg.JWKSetURL}
		return out
	}
	out.SigningKey = jwtware.SigningKey{
		JWTAlg: cfg.Algorithm,
		Key:    []byte(cfg.SigningKey),
	}
	return out
}

type inviteOptions struct {
	Email     string
	ServiceID string
	Role      string
	Sender    string
	Telephone string
}

// CreateInvite stores an invite and returns its code. Without a service id
// the invite is a SERVICE invite.
func CreateInvite(ctx context.Context, app *App, opts inviteOptions) (string, error) {
	kind := onboard.InviteTypeService
	inviteOpts := []onboard.InviteOption{
		onboard.WithInviteSender(opts.Sender),
		onboard.WithInviteTelephone(opts.Telephone),
	}

	if opts.ServiceID != "" {
		role, err := onboard.ResolveRoleByName(opts.Role)
		if err != nil {
			return "", err
		}
		kind = onboard.InviteTypeUser
		inviteOpts = append(inviteOpts, onboard.WithInviteService(opts.ServiceID, role))
	}

	invite, err := onboard.NewInvite(kind, opts.Email, time.Now(), inviteOpts...)
	if err != nil {
		return "", err
	}
	invite, err = app.directory.CreateInvite(ctx, invite)
	if err != nil {
		return "", err
	}
	return invite.Code, nil
}

// MintToken returns an acting user token for the user behind email.
func MintToken(ctx context.Context, app *App, email string) (string, error) {
	auth := app.config.Auth
	if auth.SigningKey == "" {
		return "", fmt.Errorf("token: ONBOARD_JWT_SIGNING_KEY is required")
	}

	user, err := app.directory.FindUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}

	ts := onboard.NewTokenService([]byte(auth.SigningKey),
		onboard.WithTokenIssuer(auth.Issuer),
		onboard.WithTokenTTL(auth.TokenTTL),
		onboard.WithTokenLogger(app.logger.Named("token")),
	)

	token, expiresAt, err := ts.Mint(user.ID)
	if err != nil {
		return "", err
	}

	app.logger.Info("token for %s expires at %s", user.Email, expiresAt.Format(time.RFC3339))
	return token, nil
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
