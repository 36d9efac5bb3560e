package onboard_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	onboard "github.com/goliatone/go-onboard"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var epoch = time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: epoch} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentSms struct {
	Phone string
	Code  string
}

type sentEmail struct {
	Template string
	Address  string
	Vars     map[string]any
}

type recordingNotifier struct {
	mu     sync.Mutex
	sms    []sentSms
	emails []sentEmail
	smsErr error
}

func (n *recordingNotifier) SendSms(_ context.Context, phone, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.smsErr != nil {
		return n.smsErr
	}
	n.sms = append(n.sms, sentSms{Phone: phone, Code: code})
	return nil
}

func (n *recordingNotifier) SendEmail(_ context.Context, template, address string, vars map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, sentEmail{Template: template, Address: address, Vars: vars})
	return nil
}

func (n *recordingNotifier) lastSms(t *testing.T) sentSms {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sms, "no text message sent")
	return n.sms[len(n.sms)-1]
}

type capturingSink struct {
	mu     sync.Mutex
	events []onboard.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt onboard.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) count(kind onboard.ActivityEventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.EventType == kind {
			n++
		}
	}
	return n
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, onboard.Migrate(context.Background(), db))

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func fastHash(password string) (string, error) {
	return "hashed:" + password, nil
}

type fixture struct {
	db        *bun.DB
	repo      onboard.RepositoryManager
	clock     *testClock
	directory *onboard.Directory
	otp       *onboard.OtpProvisioner
	notifier  *recordingNotifier
	sink      *capturingSink
	lifecycle *onboard.InviteLifecycle
	twoFactor *onboard.TwoFactorEnrollment
	gate      *onboard.PermissionGate
}

func newFixture(t *testing.T, opts ...onboard.LifecycleOption) *fixture {
	t.Helper()

	f := &fixture{
		db:       newTestDB(t),
		clock:    newTestClock(),
		notifier: &recordingNotifier{},
		sink:     &capturingSink{},
	}
	logger := onboard.NoopLogger()

	f.repo = onboard.NewRepositoryManager(f.db)
	f.directory = onboard.NewDirectory(f.repo,
		onboard.WithDirectoryClock(f.clock.Now),
		onboard.WithDirectoryLogger(logger),
	)
	f.otp = onboard.NewOtpProvisioner(f.repo.Secrets(),
		onboard.WithOtpClock(f.clock.Now),
		onboard.WithOtpLogger(logger),
	)

	lifecycleOpts := []onboard.LifecycleOption{
		onboard.WithLifecycleClock(f.clock.Now),
		onboard.WithLifecycleLogger(logger),
		onboard.WithLifecycleActivitySink(f.sink),
		onboard.WithPasswordHasher(fastHash),
	}
	f.lifecycle = onboard.NewInviteLifecycle(f.directory, f.otp, f.notifier, append(lifecycleOpts, opts...)...)

	f.twoFactor = onboard.NewTwoFactorEnrollment(f.directory, f.otp, f.notifier,
		onboard.WithTwoFactorClock(f.clock.Now),
		onboard.WithTwoFactorLogger(logger),
		onboard.WithTwoFactorActivitySink(f.sink),
	)
	f.gate = onboard.NewPermissionGate(f.directory,
		onboard.WithGateClock(f.clock.Now),
		onboard.WithGateLogger(logger),
		onboard.WithGateActivitySink(f.sink),
	)
	return f
}

func (f *fixture) invite(t *testing.T, kind onboard.InviteType, email string, opts ...onboard.InviteOption) *onboard.Invite {
	t.Helper()
	invite, err := onboard.NewInvite(kind, email, f.clock.Now(), opts...)
	require.NoError(t, err)
	created, err := f.directory.CreateInvite(context.Background(), invite)
	require.NoError(t, err)
	return created
}

func (f *fixture) user(t *testing.T, email, telephone string) *onboard.User {
	t.Helper()
	user, err := f.repo.Users().Create(context.Background(), &onboard.User{
		Email:           email,
		TelephoneNumber: telephone,
		PasswordHash:    "hashed",
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) member(t *testing.T, serviceID string, role onboard.Role) *onboard.User {
	t.Helper()
	user := f.user(t, role.Name()+"."+serviceID+"@example.com", "+441134960001")
	require.NoError(t, f.directory.LinkUserToService(context.Background(), user.ID, serviceID, role))
	return user
}

// register runs a team invite through details and verification.
func (f *fixture) register(t *testing.T, invite *onboard.Invite) *onboard.InviteResult {
	t.Helper()
	ctx := context.Background()

	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)

	details, err := f.lifecycle.SubmitDetails(ctx, opened.Carrier, "+441134960000", "password1234")
	require.NoError(t, err)

	done, err := f.lifecycle.SubmitOtp(ctx, details.Carrier, f.notifier.lastSms(t).Code)
	require.NoError(t, err)
	return done
}
