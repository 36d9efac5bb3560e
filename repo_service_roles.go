package onboard

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ServiceRoles interface {
	Get(ctx context.Context, userID uuid.UUID, serviceID string) (*ServiceRole, error)
	AssignTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, serviceID, roleName string) error
	Update(ctx context.Context, userID uuid.UUID, serviceID, roleName string) error
	Delete(ctx context.Context, userID uuid.UUID, serviceID string) error
	ListByService(ctx context.Context, serviceID string) ([]*ServiceRole, error)
}

type serviceRoles struct {
	db *bun.DB
}

func NewServiceRolesRepository(db *bun.DB) ServiceRoles {
	return &serviceRoles{db: db}
}

func (r *serviceRoles) Get(ctx context.Context, userID uuid.UUID, serviceID string) (*ServiceRole, error) {
	record := &ServiceRole{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.service_id = ?", serviceID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"user_id":    userID.String(),
					"service_id": serviceID,
				})
		}
		return nil, err
	}
	return record, nil
}

// AssignTx sets the role, replacing any role the user already holds on the service.
func (r *serviceRoles) AssignTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, serviceID, roleName string) error {
	now := time.Now()
	record := &ServiceRole{
		ID:        uuid.New(),
		UserID:    userID,
		ServiceID: serviceID,
		RoleName:  roleName,
		CreatedAt: &now,
		UpdatedAt: &now,
	}

	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT (user_id, service_id) DO UPDATE").
		Set("role_name = EXCLUDED.role_name").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (r *serviceRoles) Update(ctx context.Context, userID uuid.UUID, serviceID, roleName string) error {
	res, err := r.db.NewUpdate().
		Model((*ServiceRole)(nil)).
		Set("role_name = ?", roleName).
		Set("updated_at = ?", time.Now()).
		Where("user_id = ?", userID).
		Where("service_id = ?", serviceID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, map[string]any{"user_id": userID.String(), "service_id": serviceID})
}

func (r *serviceRoles) Delete(ctx context.Context, userID uuid.UUID, serviceID string) error {
	res, err := r.db.NewDelete().
		Model((*ServiceRole)(nil)).
		Where("user_id = ?", userID).
		Where("service_id = ?", serviceID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, map[string]any{"user_id": userID.String(), "service_id": serviceID})
}

func (r *serviceRoles) ListByService(ctx context.Context, serviceID string) ([]*ServiceRole, error) {
	var records []*ServiceRole
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.service_id = ?", serviceID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return records, nil
}
