package onboard

import (
	"context"
	"database/sql"
	"errors"
	"log"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Invites() Invites
	ServiceRoles() ServiceRoles
	Secrets() Secrets
}

type mngr struct {
	db           *bun.DB
	users        Users
	invites      Invites
	serviceRoles ServiceRoles
	secrets      Secrets
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:           db,
		users:        NewUsersRepository(db),
		invites:      NewInvitesRepository(db),
		serviceRoles: NewServiceRolesRepository(db),
		secrets:      NewSecretsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.invites == nil {
		return errors.New("repository invites should be initialized")
	}

	if m.serviceRoles == nil {
		return errors.New("repository serviceRoles should be initialized")
	}

	if m.secrets == nil {
		return errors.New("repository secrets should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Invites() Invites {
	return m.invites
}

func (m mngr) ServiceRoles() ServiceRoles {
	return m.serviceRoles
}

func (m mngr) Secrets() Secrets {
	return m.secrets
}

// Migrate creates the tables used by the repositories.
func Migrate(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*User)(nil),
		(*ServiceRole)(nil),
		(*Invite)(nil),
		(*OtpSecret)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create table")
		}
	}

	_, err := db.NewCreateIndex().
		Model((*OtpSecret)(nil)).
		Index("idx_otp_secrets_owner_state").
		IfNotExists().
		Column("owner_id", "state").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create otp secrets index")
	}

	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return repository.IsRecordNotFound(err) ||
		errors.Is(err, sql.ErrNoRows) ||
		goerrors.IsNotFound(err)
}
