package onboard

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Invites interface {
	repository.Repository[*Invite]

	GetByCode(ctx context.Context, code string) (*Invite, error)
	GetByCodeTx(ctx context.Context, tx bun.IDB, code string) (*Invite, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Invite, criteria ...repository.InsertCriteria) (*Invite, error)
	SaveProgress(ctx context.Context, invite *Invite) (*Invite, error)
	RecordOtpFailure(ctx context.Context, code string, maxAttempts int) (*Invite, error)
	ConsumeTx(ctx context.Context, tx bun.IDB, code string, at time.Time) error
	Disable(ctx context.Context, code string) error
}

type invites struct {
	repository.Repository[*Invite]
	db *bun.DB
}

var _ Invites = (*invites)(nil)

func NewInvitesRepository(db *bun.DB) Invites {
	repo := repository.NewRepository[*Invite](db, repository.ModelHandlers[*Invite]{
		NewRecord: func() *Invite { return &Invite{} },
		GetID: func(i *Invite) uuid.UUID {
			if i == nil {
				return uuid.Nil
			}
			return i.ID
		},
		SetID: func(i *Invite, id uuid.UUID) {
			if i != nil {
				i.ID = id
			}
		},
		GetIdentifier: func() string {
			return "code"
		},
	})

	return &invites{
		Repository: repo,
		db:         db,
	}
}

func (r *invites) GetByCode(ctx context.Context, code string) (*Invite, error) {
	return r.GetByCodeTx(ctx, r.db, code)
}

func (r *invites) GetByCodeTx(ctx context.Context, tx bun.IDB, code string) (*Invite, error) {
	record := &Invite{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"code": code})
		}
		return nil, err
	}
	return record, nil
}

func (r *invites) CreateTx(ctx context.Context, tx bun.IDB, record *Invite, criteria ...repository.InsertCriteria) (*Invite, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	now := time.Now()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	record.UpdatedAt = &now
	return r.Repository.CreateTx(ctx, tx, record, criteria...)
}

// SaveProgress stores the registration fields of an unconsumed invite.
func (r *invites) SaveProgress(ctx context.Context, invite *Invite) (*Invite, error) {
	res, err := r.db.NewUpdate().
		Model((*Invite)(nil)).
		Set("telephone_number = ?", invite.TelephoneNumber).
		Set("password_hash = ?", invite.PasswordHash).
		Set("password_set = ?", invite.PasswordSet).
		Set("otp_sent_at = ?", invite.OtpSentAt).
		Set("updated_at = ?", time.Now()).
		Where("code = ?", invite.Code).
		Where("consumed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res, map[string]any{"code": invite.Code}); err != nil {
		return nil, err
	}
	return r.GetByCode(ctx, invite.Code)
}

// RecordOtpFailure counts a failed verification and disables the invite once
// maxAttempts is reached.
func (r *invites) RecordOtpFailure(ctx context.Context, code string, maxAttempts int) (*Invite, error) {
	var out *Invite
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*Invite)(nil)).
			Set("otp_attempts = otp_attempts + 1").
			Set("disabled = CASE WHEN otp_attempts + 1 >= ? THEN ? ELSE disabled END", maxAttempts, true).
			Set("updated_at = ?", time.Now()).
			Where("code = ?", code).
			Where("consumed_at IS NULL").
			Exec(ctx)
		if err != nil {
			return err
		}
		if err := requireAffected(res, map[string]any{"code": code}); err != nil {
			return err
		}
		out, err = r.GetByCodeTx(ctx, tx, code)
		return err
	})
	return out, err
}

// ConsumeTx marks the invite as used. Only the first caller succeeds.
func (r *invites) ConsumeTx(ctx context.Context, tx bun.IDB, code string, at time.Time) error {
	res, err := tx.NewUpdate().
		Model((*Invite)(nil)).
		Set("consumed_at = ?", at).
		Set("updated_at = ?", at).
		Where("code = ?", code).
		Where("consumed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return withMeta(ErrInviteConsumed, map[string]any{"code": code})
	}
	return nil
}

func (r *invites) Disable(ctx context.Context, code string) error {
	res, err := r.db.NewUpdate().
		Model((*Invite)(nil)).
		Set("disabled = ?", true).
		Set("updated_at = ?", time.Now()).
		Where("code = ?", code).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, map[string]any{"code": code})
}
