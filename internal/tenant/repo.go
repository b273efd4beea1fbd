package tenant

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, t *Tenant) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *Repo) GetByAPIKey(ctx context.Context, apiKey string) (*Tenant, error) {
	var t Tenant
	if err := r.db.WithContext(ctx).
		Where("api_key = ?", apiKey).
		First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// ListActive returns every tenant the rollup job has to visit.
func (r *Repo) ListActive(ctx context.Context) ([]Tenant, error) {
	var ts []Tenant
	if err := r.db.WithContext(ctx).
		Where("status = ?", "active").
		Order("id ASC").
		Find(&ts).Error; err != nil {
		return nil, err
	}
	return ts, nil
}
