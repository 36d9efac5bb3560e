package onboard

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Secrets interface {
	SecretStore

	ReplaceProvisionalTx(ctx context.Context, tx bun.IDB, secret *OtpSecret) (*OtpSecret, error)
	GetSecretTx(ctx context.Context, tx bun.IDB, ownerID string, secretID uuid.UUID) (*OtpSecret, error)
	ActivateSecretTx(ctx context.Context, tx bun.IDB, ownerID string, secretID uuid.UUID, at time.Time) error
	// TransferActiveTx hands the ACTIVE secret of from over to to, retiring
	// whatever to had before. It is a no-op when from has no ACTIVE secret.
	TransferActiveTx(ctx context.Context, tx bun.IDB, from, to string) error
	// RetireOwnerTx retires every live secret of the owner.
	RetireOwnerTx(ctx context.Context, tx bun.IDB, ownerID string) error
}

type secrets struct {
	db *bun.DB
}

var _ Secrets = (*secrets)(nil)

var liveSecretStates = []string{OtpSecretProvisional, OtpSecretActive}

func NewSecretsRepository(db *bun.DB) Secrets {
	return &secrets{db: db}
}

func (r *secrets) ReplaceProvisional(ctx context.Context, secret *OtpSecret) (*OtpSecret, error) {
	var stored *OtpSecret
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		stored, err = r.ReplaceProvisionalTx(ctx, tx, secret)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *secrets) ReplaceProvisionalTx(ctx context.Context, tx bun.IDB, secret *OtpSecret) (*OtpSecret, error) {
	_, err := tx.NewUpdate().
		Model((*OtpSecret)(nil)).
		Set("state = ?", OtpSecretRetired).
		Where("owner_id = ?", secret.OwnerID).
		Where("state = ?", OtpSecretProvisional).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if _, err = tx.NewInsert().Model(secret).Exec(ctx); err != nil {
		return nil, err
	}
	return secret, nil
}

func (r *secrets) SecretInState(ctx context.Context, ownerID string, state OtpSecretState) (*OtpSecret, error) {
	record := &OtpSecret{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.owner_id = ?", ownerID).
		Where("?TableAlias.state = ?", state).
		OrderExpr("?TableAlias.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"owner_id": ownerID, "state": state})
		}
		return nil, err
	}
	return record, nil
}

func (r *secrets) GetSecretTx(ctx context.Context, tx bun.IDB, ownerID string, secretID uuid.UUID) (*OtpSecret, error) {
	record := &OtpSecret{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", secretID).
		Where("?TableAlias.owner_id = ?", ownerID).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"owner_id": ownerID, "id": secretID.String()})
		}
		return nil, err
	}
	return record, nil
}

func (r *secrets) ActivateSecret(ctx context.Context, ownerID string, secretID uuid.UUID, at time.Time) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return r.ActivateSecretTx(ctx, tx, ownerID, secretID, at)
	})
}

func (r *secrets) ActivateSecretTx(ctx context.Context, tx bun.IDB, ownerID string, secretID uuid.UUID, at time.Time) error {
	res, err := tx.NewUpdate().
		Model((*OtpSecret)(nil)).
		Set("state = ?", OtpSecretActive).
		Set("activated_at = ?", at).
		Where("id = ?", secretID).
		Where("owner_id = ?", ownerID).
		Where("state IN (?)", bun.In(liveSecretStates)).
		Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// superseded between check and activation
		return ErrOtpMismatch
	}

	_, err = tx.NewUpdate().
		Model((*OtpSecret)(nil)).
		Set("state = ?", OtpSecretRetired).
		Where("owner_id = ?", ownerID).
		Where("state = ?", OtpSecretActive).
		Where("id != ?", secretID).
		Exec(ctx)
	return err
}

func (r *secrets) TransferActiveTx(ctx context.Context, tx bun.IDB, from, to string) error {
	var ids []uuid.UUID
	err := tx.NewSelect().
		Model((*OtpSecret)(nil)).
		Column("id").
		Where("owner_id = ?", from).
		Where("state = ?", OtpSecretActive).
		Scan(ctx, &ids)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	if err := r.RetireOwnerTx(ctx, tx, to); err != nil {
		return err
	}

	_, err = tx.NewUpdate().
		Model((*OtpSecret)(nil)).
		Set("owner_id = ?", to).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	return err
}

func (r *secrets) RetireOwnerTx(ctx context.Context, tx bun.IDB, ownerID string) error {
	_, err := tx.NewUpdate().
		Model((*OtpSecret)(nil)).
		Set("state = ?", OtpSecretRetired).
		Where("owner_id = ?", ownerID).
		Where("state IN (?)", bun.In(liveSecretStates)).
		Exec(ctx)
	return err
}
