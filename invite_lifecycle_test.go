package onboard_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	onboard "github.com/goliatone/go-onboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInviteLifecycleRegistersTeamMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite := f.invite(t, onboard.InviteTypeUser, "New.User@example.com",
		onboard.WithInviteExpiry(f.clock.Now().Add(time.Hour)))

	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)
	assert.Equal(t, onboard.InviteStateCreated, opened.State)
	assert.Equal(t, onboard.RouteRegisterTeamMember, opened.Route)
	assert.Equal(t, onboard.StepDetails, opened.Step)
	assert.Equal(t, invite.Code, opened.Carrier.Code)
	assert.Equal(t, "new.user@example.com", opened.Carrier.Email)

	details, err := f.lifecycle.SubmitDetails(ctx, opened.Carrier, "+441134960000", "password1234")
	require.NoError(t, err)
	assert.Equal(t, onboard.InviteStatePhoneVerificationPending, details.State)
	assert.Equal(t, onboard.StepPhoneVerification, details.Step)
	assert.Equal(t, "+441134960000", details.Carrier.TelephoneNumber)
	assert.Nil(t, details.Carrier.Recovered)

	sms := f.notifier.lastSms(t)
	assert.Equal(t, "+441134960000", sms.Phone)
	assert.Len(t, sms.Code, onboard.OtpDigits)

	done, err := f.lifecycle.SubmitOtp(ctx, details.Carrier, sms.Code)
	require.NoError(t, err)
	assert.Equal(t, onboard.InviteStateCompleted, done.State)
	assert.Equal(t, onboard.StepComplete, done.Step)
	assert.Nil(t, done.Carrier)
	require.NotNil(t, done.User)
	assert.Equal(t, "+441134960000", done.User.TelephoneNumber)
	assert.Equal(t, "hashed:password1234", done.User.PasswordHash)
	assert.Equal(t, onboard.SecondFactorSMS, done.User.SecondFactor)

	stored, err := f.repo.Invites().GetByCode(ctx, invite.Code)
	require.NoError(t, err)
	assert.NotNil(t, stored.ConsumedAt)

	user, err := f.directory.FindUserByEmail(ctx, "new.user@example.com")
	require.NoError(t, err)
	assert.Equal(t, done.User.ID, user.ID)

	// no role until the user is linked to a service
	_, err = f.directory.RoleForService(ctx, user.ID, "svc-1")
	assert.Equal(t, onboard.TextCodeNotAMember, onboard.TextCode(err))

	// the verified secret now belongs to the user
	secret, err := f.repo.Secrets().SecretInState(ctx, user.ID.String(), onboard.OtpSecretActive)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), secret.OwnerID)
	require.NoError(t, f.otp.Verify(ctx, user.ID.String(), sms.Code))

	require.Len(t, f.notifier.emails, 1)
	assert.Equal(t, "invite-complete", f.notifier.emails[0].Template)
	assert.Equal(t, "new.user@example.com", f.notifier.emails[0].Address)

	assert.Equal(t, 1, f.sink.count(onboard.ActivityEventInviteCompleted))
	assert.Equal(t, 1, f.sink.count(onboard.ActivityEventOtpVerified))
}

func TestInviteLifecycleExpiredInvite(t *testing.T) {
	f := newFixture(t)

	invite := f.invite(t, onboard.InviteTypeUser, "late@example.com",
		onboard.WithInviteExpiry(f.clock.Now().Add(-time.Minute)))

	result, err := f.lifecycle.Open(context.Background(), invite.Code, nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, onboard.IsExpiredOrDisabled(err))
	assert.Equal(t, http.StatusGone, onboard.HTTPStatus(err))
	assert.Equal(t, 1, f.sink.count(onboard.ActivityEventInviteRejected))
}

func TestInviteLifecycleExpiresWhileInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite := f.invite(t, onboard.InviteTypeUser, "slow@example.com",
		onboard.WithInviteExpiry(f.clock.Now().Add(10*time.Minute)))

	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)
	details, err := f.lifecycle.SubmitDetails(ctx, opened.Carrier, "+441134960000", "password1234")
	require.NoError(t, err)
	code := f.notifier.lastSms(t).Code

	f.clock.Advance(10 * time.Minute)

	_, err = f.lifecycle.SubmitOtp(ctx, details.Carrier, code)
	assert.Equal(t, onboard.TextCodeInviteExpired, onboard.TextCode(err))
}

func TestInviteLifecycleUnknownCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.lifecycle.Open(context.Background(), "does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, onboard.HTTPStatus(err))

	_, err = f.lifecycle.Open(context.Background(), " ", nil)
	assert.Equal(t, onboard.TextCodeInviteNotFound, onboard.TextCode(err))
}

func TestInviteLifecycleOpenIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite := f.invite(t, onboard.InviteTypeUser, "twice@example.com")

	first, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)
	second, err := f.lifecycle.Open(ctx, invite.Code, first.Carrier)
	require.NoError(t, err)

	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.Route, second.Route)
	assert.Equal(t, first.Step, second.Step)
	assert.Equal(t, first.Carrier, second.Carrier)

	stored, err := f.repo.Invites().GetByCode(ctx, invite.Code)
	require.NoError(t, err)
	assert.False(t, stored.PasswordSet)
	assert.Zero(t, stored.OtpAttempts)
	assert.Nil(t, stored.OtpSentAt)
}

func TestInviteLifecycleOpenReplacesForeignCarrier(t *testing.T) {
	f := newFixture(t)

	invite := f.invite(t, onboard.InviteTypeUser, "mine@example.com")
	stale := &onboard.RegistrationCarrier{
		Code:            "some-other-code",
		Email:           "other@example.com",
		TelephoneNumber: "+441134960999",
	}

	result, err := f.lifecycle.Open(context.Background(), invite.Code, stale)
	require.NoError(t, err)
	assert.Equal(t, invite.Code, result.Carrier.Code)
	assert.Equal(t, "mine@example.com", result.Carrier.Email)
	assert.Empty(t, result.Carrier.TelephoneNumber)
}

func TestInviteLifecycleSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite := f.invite(t, onboard.InviteTypeUser, "once@example.com")

	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)
	details, err := f.lifecycle.SubmitDetails(ctx, opened.Carrier, "+441134960000", "password1234")
	require.NoError(t, err)
	code := f.notifier.lastSms(t).Code

	_, err = f.lifecycle.SubmitOtp(ctx, details.Carrier, code)
	require.NoError(t, err)

	_, err = f.lifecycle.SubmitOtp(ctx, details.Carrier, code)
	require.Error(t, err)
	assert.True(t, onboard.IsIntegrity(err))
	assert.Equal(t, http.StatusForbidden, onboard.HTTPStatus(err))

	_, err = f.lifecycle.Open(ctx, invite.Code, nil)
	assert.Equal(t, onboard.TextCodeInviteConsumed, onboard.TextCode(err))

	assert.Equal(t, 2, f.sink.count(onboard.ActivityEventHackAttempt))
}

func TestInviteLifecycleConcurrentCompletionCreatesOneUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite := f.invite(t, onboard.InviteTypeUser, "race@example.com")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.directory.CreateUserFromInvite(ctx, invite.Code, onboard.Credentials{
				TelephoneNumber: "+441134960000",
				PasswordHash:    "hashed",
			})
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assert.Equal(t, onboard.TextCodeInviteConsumed, onboard.TextCode(err))
		}
	}
	assert.Equal(t, 1, failures)

	count, err := f.db.NewSelect().Model((*onboard.User)(nil)).
		Where("email = ?", "race@example.com").
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInviteLifecycleResumesAtPhoneVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite := f.invite(t, onboard.InviteTypeUser, "resume@example.com")

	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)
	_, err = f.lifecycle.SubmitDetails(ctx, opened.Carrier, "01134960000", "password1234")
	require.NoError(t, err)

	// a new browser session has no carrier
	resumed, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)
	assert.Equal(t, onboard.StepPhoneVerification, resumed.Step)
	assert.Equal(t, "+441134960000", resumed.Carrier.TelephoneNumber)

	_, err = f.lifecycle.SubmitOtp(ctx, resumed.Carrier, f.notifier.lastSms(t).Code)
	require.NoError(t, err)
}

func TestInviteLifecycleRejectsInvalidDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite := f.invite(t, onboard.InviteTypeUser, "typo@example.com")
	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)

	result, err := f.lifecycle.SubmitDetails(ctx, opened.Carrier, "12", "short")
	require.Error(t, err)
	assert.True(t, onboard.IsValidation(err))
	assert.Equal(t, http.StatusBadRequest, onboard.HTTPStatus(err))

	require.NotNil(t, result)
	require.NotNil(t, result.Carrier.Recovered)
	assert.Equal(t, "12", result.Carrier.Recovered.Values["telephone_number"])
	assert.Contains(t, result.Carrier.Recovered.Errors, "telephone_number")
	assert.Contains(t, result.Carrier.Recovered.Errors, "password")
	assert.NotContains(t, result.Carrier.Recovered.Values, "password")
	assert.Equal(t, onboard.StepDetails, result.Step)

	stored, err := f.repo.Invites().GetByCode(ctx, invite.Code)
	require.NoError(t, err)
	assert.False(t, stored.PasswordSet)
	assert.Empty(t, f.notifier.sms)
}

func TestInviteLifecycleOtpMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite := f.invite(t, onboard.InviteTypeUser, "mistype@example.com")
	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)
	details, err := f.lifecycle.SubmitDetails(ctx, opened.Carrier, "+441134960000", "password1234")
	require.NoError(t, err)

	result, err := f.lifecycle.SubmitOtp(ctx, details.Carrier, "abc")
	require.Error(t, err)
	assert.True(t, onboard.IsOtpMismatch(err))
	require.NotNil(t, result)
	assert.Equal(t, onboard.StepPhoneVerification, result.Step)
	assert.Contains(t, result.Carrier.Recovered.Errors, "verify_code")
	assert.Equal(t, 1, result.Invite.OtpAttempts)

	// the real code still works
	_, err = f.lifecycle.SubmitOtp(ctx, details.Carrier, f.notifier.lastSms(t).Code)
	require.NoError(t, err)
}

func TestInviteLifecycleDisablesAfterTooManyAttempts(t *testing.T) {
	f := newFixture(t, onboard.WithMaxOtpAttempts(3))
	ctx := context.Background()

	invite := f.invite(t, onboard.InviteTypeUser, "guess@example.com")
	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)
	details, err := f.lifecycle.SubmitDetails(ctx, opened.Carrier, "+441134960000", "password1234")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = f.lifecycle.SubmitOtp(ctx, details.Carrier, "nope")
		require.True(t, onboard.IsOtpMismatch(err))
	}

	_, err = f.lifecycle.SubmitOtp(ctx, details.Carrier, "nope")
	assert.Equal(t, onboard.TextCodeInviteDisabled, onboard.TextCode(err))

	_, err = f.lifecycle.SubmitOtp(ctx, details.Carrier, f.notifier.lastSms(t).Code)
	assert.Equal(t, onboard.TextCodeInviteDisabled, onboard.TextCode(err))

	_, err = f.lifecycle.Open(ctx, invite.Code, nil)
	assert.Equal(t, http.StatusGone, onboard.HTTPStatus(err))
}

func TestInviteLifecycleResendLastWriteWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite := f.invite(t, onboard.InviteTypeUser, "phones@example.com")
	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)
	details, err := f.lifecycle.SubmitDetails(ctx, opened.Carrier, "+441134960000", "password1234")
	require.NoError(t, err)
	firstCode := f.notifier.lastSms(t).Code

	resent, err := f.lifecycle.ResendOtp(ctx, details.Carrier, "01134960123")
	require.NoError(t, err)
	assert.Equal(t, "+441134960123", resent.Carrier.TelephoneNumber)
	assert.Equal(t, "+441134960123", f.notifier.lastSms(t).Phone)

	again, err := f.lifecycle.ReVerifyPhone(ctx, resent.Carrier, "+441134960456")
	require.NoError(t, err)
	assert.Equal(t, "+441134960456", again.Carrier.TelephoneNumber)
	latest := f.notifier.lastSms(t)
	assert.Equal(t, "+441134960456", latest.Phone)

	stored, err := f.repo.Invites().GetByCode(ctx, invite.Code)
	require.NoError(t, err)
	assert.Equal(t, "+441134960456", stored.TelephoneNumber)

	if firstCode != latest.Code {
		_, err = f.lifecycle.SubmitOtp(ctx, again.Carrier, firstCode)
		assert.True(t, onboard.IsOtpMismatch(err), "superseded code must be rejected")
	}

	done, err := f.lifecycle.SubmitOtp(ctx, again.Carrier, latest.Code)
	require.NoError(t, err)
	assert.Equal(t, "+441134960456", done.User.TelephoneNumber)
}

func TestInviteLifecycleResendKeepsNumberWhenEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite := f.invite(t, onboard.InviteTypeUser, "again@example.com")
	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)
	details, err := f.lifecycle.SubmitDetails(ctx, opened.Carrier, "+441134960000", "password1234")
	require.NoError(t, err)

	_, err = f.lifecycle.ResendOtp(ctx, details.Carrier, "")
	require.NoError(t, err)
	assert.Len(t, f.notifier.sms, 2)
	assert.Equal(t, "+441134960000", f.notifier.lastSms(t).Phone)

	result, err := f.lifecycle.ReVerifyPhone(ctx, details.Carrier, "")
	assert.True(t, onboard.IsValidation(err))
	assert.Contains(t, result.Carrier.Recovered.Errors, "telephone_number")
}

func TestInviteLifecycleSmsFailureKeepsDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.smsErr = errors.New("provider unavailable")

	invite := f.invite(t, onboard.InviteTypeUser, "nosignal@example.com")
	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)

	result, err := f.lifecycle.SubmitDetails(ctx, opened.Carrier, "+441134960000", "password1234")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, onboard.HTTPStatus(err))
	assert.Equal(t, onboard.InviteStateDetailsSubmitted, result.State)

	f.notifier.smsErr = nil
	resent, err := f.lifecycle.ReVerifyPhone(ctx, result.Carrier, "+441134960123")
	require.NoError(t, err)
	assert.Equal(t, onboard.InviteStatePhoneVerificationPending, resent.State)
}

func TestInviteLifecycleLinksInvitedRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite := f.invite(t, onboard.InviteTypeUser, "teammate@example.com",
		onboard.WithInviteService("svc-1", onboard.RoleViewAndRefund),
		onboard.WithInviteSender("admin@example.com"))

	done := f.register(t, invite)

	role, err := f.directory.RoleForService(ctx, done.User.ID, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, onboard.RoleViewAndRefund, role)

	require.Len(t, f.notifier.emails, 1)
	assert.Equal(t, "svc-1", f.notifier.emails[0].Vars["service_id"])
	assert.Equal(t, "view-and-refund", f.notifier.emails[0].Vars["role"])
}

func TestInviteLifecycleServiceInvite(t *testing.T) {
	f := newFixture(t)

	invite := f.invite(t, onboard.InviteTypeService, "owner@example.com")

	opened, err := f.lifecycle.Open(context.Background(), invite.Code, nil)
	require.NoError(t, err)
	assert.Equal(t, onboard.RouteRegisterServiceOwner, opened.Route)

	done := f.register(t, invite)
	assert.Equal(t, onboard.RouteRegisterServiceOwner, done.Route)
	assert.Equal(t, "owner@example.com", done.User.Email)
}

func TestInviteLifecycleServiceInviteForExistingUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.user(t, "known@example.com", "+441134960000")
	invite := f.invite(t, onboard.InviteTypeService, "known@example.com")

	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)
	assert.Equal(t, onboard.RouteServiceSwitcher, opened.Route)
	assert.Equal(t, onboard.StepServiceSwitcher, opened.Step)

	_, err = f.lifecycle.SubmitDetails(ctx, opened.Carrier, "+441134960000", "password1234")
	assert.Equal(t, onboard.TextCodeInviteWrongStep, onboard.TextCode(err))
}

func TestInviteLifecycleSubscribeExistingUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	existing := f.user(t, "existing@example.com", "+441134960000")
	invite := f.invite(t, onboard.InviteTypeUser, "existing@example.com",
		onboard.WithInviteService("svc-2", onboard.RoleViewOnly))

	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)
	assert.Equal(t, onboard.RouteSubscribeExisting, opened.Route)
	assert.Equal(t, onboard.StepSubscribe, opened.Step)
	assert.Equal(t, existing.ID.String(), opened.Carrier.UserExternalID)

	_, err = f.lifecycle.SubmitDetails(ctx, opened.Carrier, "+441134960000", "password1234")
	assert.Equal(t, onboard.TextCodeInviteWrongStep, onboard.TextCode(err))

	done, err := f.lifecycle.SubscribeExistingUser(ctx, opened.Carrier, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, onboard.InviteStateCompleted, done.State)
	assert.Equal(t, existing.ID, done.User.ID)

	role, err := f.directory.RoleForService(ctx, existing.ID, "svc-2")
	require.NoError(t, err)
	assert.Equal(t, onboard.RoleViewOnly, role)

	_, err = f.lifecycle.SubscribeExistingUser(ctx, opened.Carrier, existing.ID)
	assert.True(t, onboard.IsIntegrity(err))
}

func TestInviteLifecycleSubscribeKeepsAuthenticator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	existing := f.user(t, "enrolled@example.com", "+441134960000")
	setup, err := f.twoFactor.StartSetup(ctx, existing.ID, "APP")
	require.NoError(t, err)
	appCode, err := f.otp.CodeFor(setup.Secret)
	require.NoError(t, err)
	_, err = f.twoFactor.ConfirmSetup(ctx, existing.ID, appCode)
	require.NoError(t, err)

	invite := f.invite(t, onboard.InviteTypeUser, "enrolled@example.com",
		onboard.WithInviteService("svc-3", onboard.RoleAdmin))
	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)

	done, err := f.lifecycle.SubscribeExistingUser(ctx, opened.Carrier, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, onboard.SecondFactorApp, done.User.SecondFactor)

	active, err := f.repo.Secrets().SecretInState(ctx, existing.ID.String(), onboard.OtpSecretActive)
	require.NoError(t, err)
	assert.Equal(t, setup.Secret.ID, active.ID)
	assert.NoError(t, f.otp.Verify(ctx, existing.ID.String(), appCode))
}

func TestInviteLifecycleSubscribeRejectsOtherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.user(t, "invited@example.com", "+441134960000")
	intruder := f.user(t, "intruder@example.com", "+441134960001")
	invite := f.invite(t, onboard.InviteTypeUser, "invited@example.com",
		onboard.WithInviteService("svc-3", onboard.RoleAdmin))

	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)

	_, err = f.lifecycle.SubscribeExistingUser(ctx, opened.Carrier, intruder.ID)
	require.Error(t, err)
	assert.Equal(t, onboard.TextCodeIntegrity, onboard.TextCode(err))
	assert.Equal(t, 1, f.sink.count(onboard.ActivityEventHackAttempt))

	_, err = f.directory.RoleForService(ctx, intruder.ID, "svc-3")
	assert.Equal(t, onboard.TextCodeNotAMember, onboard.TextCode(err))
}

func TestInviteLifecycleCarrierChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite := f.invite(t, onboard.InviteTypeUser, "carrier@example.com")

	_, err := f.lifecycle.SubmitDetails(ctx, nil, "+441134960000", "password1234")
	assert.Equal(t, onboard.TextCodeCarrierMissing, onboard.TextCode(err))

	_, err = f.lifecycle.SubmitDetails(ctx, &onboard.RegistrationCarrier{Code: invite.Code}, "+441134960000", "password1234")
	assert.Equal(t, onboard.TextCodeCarrierMissing, onboard.TextCode(err))

	_, err = f.lifecycle.SubmitDetails(ctx, &onboard.RegistrationCarrier{
		Code:  invite.Code,
		Email: "someone.else@example.com",
	}, "+441134960000", "password1234")
	assert.Equal(t, onboard.TextCodeCarrierMissing, onboard.TextCode(err))
	assert.Equal(t, http.StatusBadRequest, onboard.HTTPStatus(err))
}

func TestInviteLifecycleVerifyBeforeDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invite := f.invite(t, onboard.InviteTypeUser, "eager@example.com")
	opened, err := f.lifecycle.Open(ctx, invite.Code, nil)
	require.NoError(t, err)

	_, err = f.lifecycle.SubmitOtp(ctx, opened.Carrier, "123456")
	assert.Equal(t, onboard.TextCodeInviteWrongStep, onboard.TextCode(err))

	_, err = f.lifecycle.ResendOtp(ctx, opened.Carrier, "")
	assert.Equal(t, onboard.TextCodeInviteWrongStep, onboard.TextCode(err))
}

func TestInviteStateOf(t *testing.T) {
	now := epoch
	later := now.Add(time.Hour)

	tests := []struct {
		name   string
		invite onboard.Invite
		want   onboard.InviteState
	}{
		{name: "created", invite: onboard.Invite{ExpiresAt: later}, want: onboard.InviteStateCreated},
		{name: "details", invite: onboard.Invite{ExpiresAt: later, PasswordSet: true}, want: onboard.InviteStateDetailsSubmitted},
		{name: "pending", invite: onboard.Invite{ExpiresAt: later, PasswordSet: true, OtpSentAt: &now}, want: onboard.InviteStatePhoneVerificationPending},
		{name: "expired", invite: onboard.Invite{ExpiresAt: now}, want: onboard.InviteStateExpired},
		{name: "disabled", invite: onboard.Invite{ExpiresAt: later, Disabled: true}, want: onboard.InviteStateDisabled},
		{name: "consumed wins", invite: onboard.Invite{ExpiresAt: now, Disabled: true, ConsumedAt: &now}, want: onboard.InviteStateCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, onboard.InviteStateOf(&tt.invite, now))
		})
	}

	assert.True(t, onboard.InviteStateExpired.IsTerminal())
	assert.False(t, onboard.InviteStateCreated.IsTerminal())
}

func TestRouteOf(t *testing.T) {
	assert.Equal(t, onboard.RouteRegisterTeamMember, onboard.RouteOf(&onboard.Invite{Type: onboard.InviteTypeUser}))
	assert.Equal(t, onboard.RouteSubscribeExisting, onboard.RouteOf(&onboard.Invite{Type: onboard.InviteTypeUser, UserExists: true}))
	assert.Equal(t, onboard.RouteRegisterServiceOwner, onboard.RouteOf(&onboard.Invite{Type: onboard.InviteTypeService}))
	assert.Equal(t, onboard.RouteServiceSwitcher, onboard.RouteOf(&onboard.Invite{Type: onboard.InviteTypeService, UserExists: true}))
}
