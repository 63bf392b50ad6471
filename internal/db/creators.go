package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flexgen/api/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateCreator(ctx context.Context, creator *models.Creator) error {
	query := `
		INSERT INTO creators (id, name, handle, brand_profile, caption_rules)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		creator.ID, creator.Name, creator.Handle, creator.BrandProfile, creator.CaptionRules,
	).Scan(&creator.CreatedAt, &creator.UpdatedAt)
}

func (db *DB) GetCreator(ctx context.Context, id uuid.UUID) (*models.Creator, error) {
	query := `
		SELECT id, name, handle, brand_profile, caption_rules, created_at, updated_at
		FROM creators
		WHERE id = $1
	`

	creator := &models.Creator{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&creator.ID, &creator.Name, &creator.Handle,
		&creator.BrandProfile, &creator.CaptionRules,
		&creator.CreatedAt, &creator.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get creator: %w", err)
	}

	return creator, nil
}

func (db *DB) ListCreators(ctx context.Context, limit, offset int) ([]models.Creator, error) {
	query := `
		SELECT id, name, handle, brand_profile, caption_rules, created_at, updated_at
		FROM creators
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query creators: %w", err)
	}
	defer rows.Close()

	var creators []models.Creator
	for rows.Next() {
		var c models.Creator
		err := rows.Scan(
			&c.ID, &c.Name, &c.Handle, &c.BrandProfile, &c.CaptionRules,
			&c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan creator: %w", err)
		}
		creators = append(creators, c)
	}

	return creators, rows.Err()
}

func (db *DB) UpdateCreator(ctx context.Context, creator *models.Creator) error {
	query := `
		UPDATE creators
		SET name = $2, handle = $3, brand_profile = $4, caption_rules = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := db.QueryRowContext(
		ctx, query,
		creator.ID, creator.Name, creator.Handle, creator.BrandProfile, creator.CaptionRules,
	).Scan(&creator.UpdatedAt)

	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}
