// Package onboard runs invite based onboarding for a payments admin portal
// and the team management that follows it.
//
// Invites:
//   - An Invite is a single use code sent by e-mail. USER invites add someone
//     to an existing service with a role, SERVICE invites create a new
//     service owner. Whether the invitee already has an account picks one
//     of four routes (see RouteOf).
//   - InviteLifecycle walks the registering routes through details, a texted
//     verification code and completion. The invite state is derived from the
//     stored row on every call (see InviteStateOf), so there is no separate
//     state column to drift.
//   - A RegistrationCarrier holds the code, e-mail and any rejected form
//     values between requests. CarrierStore keeps it in memory or in Redis.
//
// Second factor:
//   - OtpProvisioner issues TOTP secrets. New secrets are PROVISIONAL until an
//     explicit confirmation promotes them; Verify only trusts the ACTIVE
//     secret while one exists. TwoFactorEnrollment switches a user between
//     SMS and authenticator app methods.
//
// Team management:
//   - PermissionGate checks a role against the permission table, refuses
//     self-targeted changes and rejects unknown role ids as tampering.
//
// Activity sinks:
//   - Components report what happened through an ActivitySink. Sinks run
//     best effort; a failing sink is logged and never fails the operation.
package onboard
