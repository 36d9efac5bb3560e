package onboard

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Directory implements UserDirectory on top of the bun repositories. Every
// multi-record change runs in a single transaction.
type Directory struct {
	repo        RepositoryManager
	now         Clock
	logger      Logger
	hashUserIDs bool
}

// DirectoryOption customizes Directory.
type DirectoryOption func(*Directory)

// WithDirectoryClock injects the time source.
func WithDirectoryClock(clock Clock) DirectoryOption {
	return func(d *Directory) {
		if clock != nil {
			d.now = clock
		}
	}
}

// WithDirectoryLogger overrides the logger.
func WithDirectoryLogger(logger Logger) DirectoryOption {
	return func(d *Directory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithHashedUserIDs derives new user ids from the e-mail address so the same
// person always gets the same id across environments.
func WithHashedUserIDs(enabled bool) DirectoryOption {
	return func(d *Directory) {
		d.hashUserIDs = enabled
	}
}

// NewDirectory returns a UserDirectory backed by repo.
func NewDirectory(repo RepositoryManager, opts ...DirectoryOption) *Directory {
	d := &Directory{
		repo:   repo,
		now:    time.Now,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

var _ UserDirectory = (*Directory)(nil)

func (d *Directory) CreateInvite(ctx context.Context, invite *Invite) (*Invite, error) {
	if invite == nil {
		return nil, withMeta(ErrValidation, map[string]any{"reason": "invite is required"})
	}
	if err := invite.Validate(); err != nil {
		return nil, err
	}

	var created *Invite
	err := d.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		created, err = d.repo.Invites().CreateTx(ctx, tx, invite)
		return err
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create invite")
	}
	return created, nil
}

func (d *Directory) FindInviteByCode(ctx context.Context, code string) (*Invite, error) {
	invite, err := d.repo.Invites().GetByCode(ctx, code)
	if err != nil {
		return nil, notFoundAs(err, ErrInviteNotFound, map[string]any{"code": code})
	}

	_, err = d.repo.Users().GetByEmail(ctx, invite.Email)
	switch {
	case err == nil:
		invite.UserExists = true
	case isNotFound(err):
		invite.UserExists = false
	default:
		return nil, downstream(err, "failed to look up invited user")
	}

	return invite, nil
}

func (d *Directory) SaveInviteProgress(ctx context.Context, invite *Invite) (*Invite, error) {
	if invite == nil {
		return nil, ErrInviteNotFound
	}
	userExists := invite.UserExists
	saved, err := d.repo.Invites().SaveProgress(ctx, invite)
	if err != nil {
		return nil, notFoundAs(err, ErrInviteNotFound, map[string]any{"code": invite.Code})
	}
	saved.UserExists = userExists
	return saved, nil
}

func (d *Directory) RecordOtpFailure(ctx context.Context, code string, maxAttempts int) (*Invite, error) {
	invite, err := d.repo.Invites().RecordOtpFailure(ctx, code, maxAttempts)
	if err != nil {
		return nil, notFoundAs(err, ErrInviteNotFound, map[string]any{"code": code})
	}
	return invite, nil
}

// CreateUserFromInvite consumes the invite first, so a concurrent second call
// fails before any user row is written.
func (d *Directory) CreateUserFromInvite(ctx context.Context, code string, credentials Credentials) (*User, error) {
	var user *User
	now := d.now()

	err := d.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		invite, err := d.repo.Invites().GetByCodeTx(ctx, tx, code)
		if err != nil {
			return notFoundAs(err, ErrInviteNotFound, map[string]any{"code": code})
		}

		if err := d.repo.Invites().ConsumeTx(ctx, tx, code, now); err != nil {
			return err
		}

		user, err = d.repo.Users().GetByEmailTx(ctx, tx, invite.Email)
		if err != nil && !isNotFound(err) {
			return err
		}

		if user != nil {
			// existing users keep their own second factor
			return d.repo.Secrets().RetireOwnerTx(ctx, tx, code)
		}

		record := &User{
			Email:           invite.Email,
			TelephoneNumber: credentials.TelephoneNumber,
			PasswordHash:    credentials.PasswordHash,
			SecondFactor:    SecondFactorSMS,
		}
		if d.hashUserIDs {
			if id, err := hashid.NewUUID(invite.Email); err == nil {
				record.ID = id
			}
		}
		if user, err = d.repo.Users().CreateTx(ctx, tx, record); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}

		return d.repo.Secrets().TransferActiveTx(ctx, tx, code, user.ID.String())
	})
	if err != nil {
		return nil, downstream(err, "failed to complete invite")
	}

	d.logger.Debug("user created from invite %s: %s", code, print.MaybePrettyJSON(user))
	return user, nil
}

func (d *Directory) FindUserByExternalID(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := d.repo.Users().GetByID(ctx, id.String())
	if err != nil {
		return nil, notFoundAs(err, ErrUserNotFound, map[string]any{"user_id": id.String()})
	}
	return user, nil
}

func (d *Directory) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	user, err := d.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		return nil, notFoundAs(err, ErrUserNotFound, map[string]any{"email": email})
	}
	return user, nil
}

func (d *Directory) LinkUserToService(ctx context.Context, userID uuid.UUID, serviceID string, role Role) error {
	if !role.IsValid() {
		return withMeta(ErrRoleNotFound, map[string]any{"role": int(role)})
	}
	err := d.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return d.repo.ServiceRoles().AssignTx(ctx, tx, userID, serviceID, role.Name())
	})
	if err != nil {
		return downstream(err, "failed to link user to service")
	}
	return nil
}

func (d *Directory) RoleForService(ctx context.Context, userID uuid.UUID, serviceID string) (Role, error) {
	meta := map[string]any{"user_id": userID.String(), "service_id": serviceID}

	record, err := d.repo.ServiceRoles().Get(ctx, userID, serviceID)
	if err != nil {
		return RoleUnknown, notFoundAs(err, ErrNotAMember, meta)
	}

	role, err := ResolveRoleByName(record.RoleName)
	if err != nil {
		meta["role_name"] = record.RoleName
		return RoleUnknown, withMeta(ErrIntegrity, meta)
	}
	return role, nil
}

func (d *Directory) UpdateUserRole(ctx context.Context, userID uuid.UUID, serviceID string, role Role) error {
	if !role.IsValid() {
		return withMeta(ErrRoleNotFound, map[string]any{"role": int(role)})
	}
	if err := d.repo.ServiceRoles().Update(ctx, userID, serviceID, role.Name()); err != nil {
		return notFoundAs(err, ErrNotAMember, map[string]any{
			"user_id":    userID.String(),
			"service_id": serviceID,
		})
	}
	return nil
}

func (d *Directory) RemoveUserFromService(ctx context.Context, userID uuid.UUID, serviceID string) error {
	if err := d.repo.ServiceRoles().Delete(ctx, userID, serviceID); err != nil {
		return notFoundAs(err, ErrNotAMember, map[string]any{
			"user_id":    userID.String(),
			"service_id": serviceID,
		})
	}
	return nil
}

// ProvisionSecondFactor stores secret as the user's pending secret and
// records its method in one transaction.
func (d *Directory) ProvisionSecondFactor(ctx context.Context, userID uuid.UUID, secret *OtpSecret) error {
	if secret == nil || secret.Method == "" {
		return withMeta(ErrInvalidSecondFactorMethod, map[string]any{
			"user_id": userID.String(),
			"reason":  "secret has no setup method",
		})
	}

	err := d.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := d.repo.Users().SetProvisionalSecondFactorTx(ctx, tx, userID, secret.Method); err != nil {
			return notFoundAs(err, ErrUserNotFound, map[string]any{"user_id": userID.String()})
		}
		_, err := d.repo.Secrets().ReplaceProvisionalTx(ctx, tx, secret)
		return err
	})
	if err != nil {
		return downstream(err, "failed to record second factor setup")
	}
	return nil
}

// ActivateSecondFactor takes the method from the secret row, so it always
// matches the secret that was verified.
func (d *Directory) ActivateSecondFactor(ctx context.Context, userID uuid.UUID, secretID uuid.UUID) (*User, error) {
	var user *User

	err := d.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		secret, err := d.repo.Secrets().GetSecretTx(ctx, tx, userID.String(), secretID)
		if err != nil {
			if isNotFound(err) {
				return ErrOtpMismatch
			}
			return err
		}
		if secret.Method == "" {
			return withMeta(ErrInvalidSecondFactorMethod, map[string]any{
				"user_id": userID.String(),
				"reason":  "no second factor setup in progress",
			})
		}

		if err := d.repo.Secrets().ActivateSecretTx(ctx, tx, userID.String(), secretID, d.now()); err != nil {
			return err
		}

		if err := d.repo.Users().SwitchSecondFactorTx(ctx, tx, userID, secret.Method); err != nil {
			return notFoundAs(err, ErrUserNotFound, map[string]any{"user_id": userID.String()})
		}

		user, err = d.repo.Users().GetByUUIDTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, downstream(err, "failed to activate second factor")
	}
	return user, nil
}

// notFoundAs translates repository not-found errors into the domain sentinel.
func notFoundAs(err error, sentinel *goerrors.Error, meta map[string]any) error {
	if isNotFound(err) {
		return withMeta(sentinel, meta)
	}
	return downstream(err, sentinel.Message)
}
