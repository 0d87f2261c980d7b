package store

import (
	"bitwise74/playground-api/internal/model"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBackend stores root documents in the documents table. Works with both
// the sqlite and postgres drivers.
type GormBackend struct {
	db *gorm.DB
}

func NewGormBackend(db *gorm.DB) *GormBackend {
	return &GormBackend{db: db}
}

func (g *GormBackend) Load(ctx context.Context, root string) (map[string]any, int64, error) {
	var d model.Document

	err := g.db.
		WithContext(ctx).
		Where("root = ?", root).
		Take(&d).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, nil
		}

		return nil, 0, err
	}

	var doc map[string]any
	if err := json.Unmarshal(d.Body, &doc); err != nil {
		return nil, 0, fmt.Errorf("malformed document %s, %w", root, err)
	}

	return doc, d.Version, nil
}

func (g *GormBackend) Swap(ctx context.Context, root string, doc map[string]any, version int64) (bool, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}

	if version == 0 {
		r := g.db.
			WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.Document{
				Root:    root,
				Body:    body,
				Version: 1,
			})
		if r.Error != nil {
			return false, r.Error
		}

		return r.RowsAffected == 1, nil
	}

	r := g.db.
		WithContext(ctx).
		Model(&model.Document{}).
		Where("root = ? AND version = ?", root, version).
		Updates(map[string]any{
			"body":    body,
			"version": version + 1,
		})
	if r.Error != nil {
		return false, r.Error
	}

	return r.RowsAffected == 1, nil
}
