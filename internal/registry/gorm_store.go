package registry

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/applyflow/autofill-service/internal/models"
)

// GormStore backs the registry with the field_records table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) LookupMany(ctx context.Context, hashes []string) (map[string]models.FieldRecord, []string, error) {
	found := make(map[string]models.FieldRecord, len(hashes))
	if len(hashes) == 0 {
		return found, nil, nil
	}

	var recs []models.FieldRecord
	if err := s.db.WithContext(ctx).Where("field_hash IN ?", hashes).Find(&recs).Error; err != nil {
		return nil, nil, fmt.Errorf("registry: lookup fields: %w", err)
	}
	for _, rec := range recs {
		found[rec.FieldHash] = rec
	}

	missing := make([]string, 0, len(hashes)-len(found))
	seen := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		if _, ok := found[h]; !ok {
			missing = append(missing, h)
		}
	}
	return found, missing, nil
}

func (s *GormStore) Store(ctx context.Context, rec models.FieldRecord) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "field_hash"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("registry: store field %s: %w", rec.FieldHash, err)
	}
	return nil
}
