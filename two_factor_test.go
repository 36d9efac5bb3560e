package onboard_test

import (
	"context"
	"testing"

	onboard "github.com/goliatone/go-onboard"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwoFactorAppSetupSwitchesOnlyAfterConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.user(t, "app@example.com", "+441134960000")

	setup, err := f.twoFactor.StartSetup(ctx, user.ID, "app")
	require.NoError(t, err)
	assert.Equal(t, onboard.SecondFactorApp, setup.Method)
	require.NotNil(t, setup.Secret)
	assert.Contains(t, setup.Secret.PairingURI, "otpauth://totp/")
	assert.Empty(t, setup.SentTo)
	assert.Empty(t, f.notifier.sms)

	pending, err := f.directory.FindUserByExternalID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, onboard.SecondFactorSMS, pending.SecondFactor)
	assert.Equal(t, onboard.SecondFactorApp, pending.ProvisionalSecondFactor)

	_, err = f.twoFactor.ConfirmSetup(ctx, user.ID, "000000x")
	assert.True(t, onboard.IsOtpMismatch(err))
	assert.Equal(t, 1, f.sink.count(onboard.ActivityEventOtpRejected))

	code, err := f.otp.CodeFor(setup.Secret)
	require.NoError(t, err)

	updated, err := f.twoFactor.ConfirmSetup(ctx, user.ID, code)
	require.NoError(t, err)
	assert.Equal(t, onboard.SecondFactorApp, updated.SecondFactor)
	assert.Empty(t, updated.ProvisionalSecondFactor)
	assert.Equal(t, 1, f.sink.count(onboard.ActivityEventSecondFactorSwitched))

	secret, err := f.repo.Secrets().SecretInState(ctx, user.ID.String(), onboard.OtpSecretActive)
	require.NoError(t, err)
	assert.Equal(t, setup.Secret.ID, secret.ID)
	assert.Equal(t, onboard.SecondFactorApp, secret.Method)

	// nothing left to confirm
	_, err = f.twoFactor.ConfirmSetup(ctx, user.ID, code)
	assert.Equal(t, onboard.TextCodeInvalidSecondFactor, onboard.TextCode(err))
}

func TestTwoFactorSmsSetupTextsCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.user(t, "sms@example.com", "+441134960000")

	setup, err := f.twoFactor.StartSetup(ctx, user.ID, "SMS")
	require.NoError(t, err)
	assert.Equal(t, onboard.SecondFactorSMS, setup.Method)
	assert.Nil(t, setup.Secret)
	assert.Equal(t, "+441134960000", setup.SentTo)

	first := f.notifier.lastSms(t)
	assert.Equal(t, "+441134960000", first.Phone)

	require.NoError(t, f.twoFactor.Resend(ctx, user.ID))
	require.Len(t, f.notifier.sms, 2)
	assert.Equal(t, first.Code, f.notifier.lastSms(t).Code)

	updated, err := f.twoFactor.ConfirmSetup(ctx, user.ID, first.Code)
	require.NoError(t, err)
	assert.Equal(t, onboard.SecondFactorSMS, updated.SecondFactor)
}

func TestTwoFactorReplacingSetupInvalidatesEarlierSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.user(t, "twice@example.com", "+441134960000")

	first, err := f.twoFactor.StartSetup(ctx, user.ID, onboard.SecondFactorApp)
	require.NoError(t, err)
	second, err := f.twoFactor.StartSetup(ctx, user.ID, onboard.SecondFactorApp)
	require.NoError(t, err)
	require.NotEqual(t, first.Secret.SecretKey, second.Secret.SecretKey)

	oldCode, err := f.otp.CodeFor(first.Secret)
	require.NoError(t, err)
	newCode, err := f.otp.CodeFor(second.Secret)
	require.NoError(t, err)

	if oldCode != newCode {
		_, err = f.twoFactor.ConfirmSetup(ctx, user.ID, oldCode)
		assert.True(t, onboard.IsOtpMismatch(err))
	}

	_, err = f.twoFactor.ConfirmSetup(ctx, user.ID, newCode)
	require.NoError(t, err)
}

func TestTwoFactorAbandonedSetupKeepsPreviousMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.user(t, "abandon@example.com", "+441134960000")

	app, err := f.twoFactor.StartSetup(ctx, user.ID, "APP")
	require.NoError(t, err)
	appCode, err := f.otp.CodeFor(app.Secret)
	require.NoError(t, err)
	_, err = f.twoFactor.ConfirmSetup(ctx, user.ID, appCode)
	require.NoError(t, err)

	// start switching back to SMS and walk away
	_, err = f.twoFactor.StartSetup(ctx, user.ID, "SMS")
	require.NoError(t, err)
	smsCode := f.notifier.lastSms(t).Code
	if smsCode == appCode {
		t.Skip("secrets produced the same code for this step")
	}

	current, err := f.directory.FindUserByExternalID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, onboard.SecondFactorApp, current.SecondFactor)
	assert.Equal(t, onboard.SecondFactorSMS, current.ProvisionalSecondFactor)

	// the authenticator stays authoritative for login checks
	require.NoError(t, f.otp.Verify(ctx, user.ID.String(), appCode))
	assert.True(t, onboard.IsOtpMismatch(f.otp.Verify(ctx, user.ID.String(), smsCode)))

	active, err := f.repo.Secrets().SecretInState(ctx, user.ID.String(), onboard.OtpSecretActive)
	require.NoError(t, err)
	assert.Equal(t, app.Secret.ID, active.ID)

	// the pending setup can still be finished afterwards
	updated, err := f.twoFactor.ConfirmSetup(ctx, user.ID, smsCode)
	require.NoError(t, err)
	assert.Equal(t, onboard.SecondFactorSMS, updated.SecondFactor)
	assert.True(t, onboard.IsOtpMismatch(f.otp.Verify(ctx, user.ID.String(), appCode)))
}

func TestTwoFactorSwitchUsesMethodOfVerifiedSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.user(t, "overlap@example.com", "+441134960000")

	sms, err := f.twoFactor.StartSetup(ctx, user.ID, "SMS")
	require.NoError(t, err)
	require.Nil(t, sms.Secret)

	pending, err := f.repo.Secrets().SecretInState(ctx, user.ID.String(), onboard.OtpSecretProvisional)
	require.NoError(t, err)
	assert.Equal(t, onboard.SecondFactorSMS, pending.Method)

	// a stale provisional method on the user row does not decide the switch
	_, err = f.db.NewUpdate().
		Model((*onboard.User)(nil)).
		Set("provisional_second_factor = ?", onboard.SecondFactorApp).
		Where("id = ?", user.ID).
		Exec(ctx)
	require.NoError(t, err)

	updated, err := f.twoFactor.ConfirmSetup(ctx, user.ID, f.notifier.lastSms(t).Code)
	require.NoError(t, err)
	assert.Equal(t, onboard.SecondFactorSMS, updated.SecondFactor)
	assert.Empty(t, updated.ProvisionalSecondFactor)
}

func TestTwoFactorSetupRollsBackForUnknownUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	missing := uuid.New()
	secret, err := f.otp.Generate(missing.String(), onboard.WithSetupMethod(onboard.SecondFactorApp))
	require.NoError(t, err)

	err = f.directory.ProvisionSecondFactor(ctx, missing, secret)
	assert.Equal(t, onboard.TextCodeUserNotFound, onboard.TextCode(err))

	count, err := f.db.NewSelect().
		Model((*onboard.OtpSecret)(nil)).
		Where("owner_id = ?", missing.String()).
		Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTwoFactorRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.user(t, "checks@example.com", "+441134960000")
	noPhone := f.user(t, "nophone@example.com", "")

	_, err := f.twoFactor.StartSetup(ctx, user.ID, "email")
	assert.Equal(t, onboard.TextCodeInvalidSecondFactor, onboard.TextCode(err))

	_, err = f.twoFactor.StartSetup(ctx, noPhone.ID, "SMS")
	assert.Equal(t, onboard.TextCodeInvalidSecondFactor, onboard.TextCode(err))

	_, err = f.twoFactor.StartSetup(ctx, uuid.New(), "APP")
	assert.Equal(t, onboard.TextCodeUserNotFound, onboard.TextCode(err))

	_, err = f.twoFactor.ConfirmSetup(ctx, user.ID, "123456")
	assert.Equal(t, onboard.TextCodeInvalidSecondFactor, onboard.TextCode(err))

	err = f.twoFactor.Resend(ctx, user.ID)
	assert.Equal(t, onboard.TextCodeInvalidSecondFactor, onboard.TextCode(err))

	_, err = f.twoFactor.StartSetup(ctx, user.ID, "APP")
	require.NoError(t, err)
	err = f.twoFactor.Resend(ctx, user.ID)
	assert.Equal(t, onboard.TextCodeInvalidSecondFactor, onboard.TextCode(err))
}

func TestParseSecondFactorMethod(t *testing.T) {
	for raw, want := range map[string]onboard.SecondFactorMethod{
		"sms":   onboard.SecondFactorSMS,
		" APP ": onboard.SecondFactorApp,
		"App":   onboard.SecondFactorApp,
	} {
		got, err := onboard.ParseSecondFactorMethod(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}

	_, err := onboard.ParseSecondFactorMethod("")
	assert.Error(t, err)
}
