package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flexgen/api/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateClip(ctx context.Context, clip *models.Clip) error {
	query := `
		INSERT INTO clips (
			id, creator_id, file_path, thumbnail_path, duration_ms,
			category, intensity, mood, best_for, avoid_pairing_with,
			orientation, analysis, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		clip.ID, clip.CreatorID, clip.FilePath, clip.ThumbnailPath, clip.DurationMs,
		clip.Category, clip.Intensity, clip.Mood, clip.BestFor, clip.AvoidPairingWith,
		clip.Orientation, clip.Analysis, clip.IsActive,
	).Scan(&clip.CreatedAt)
}

const clipColumns = `
	id, creator_id, file_path, thumbnail_path, duration_ms,
	category, intensity, mood, best_for, avoid_pairing_with,
	orientation, analysis, is_active, created_at
`

func scanClip(row interface{ Scan(...interface{}) error }, clip *models.Clip) error {
	return row.Scan(
		&clip.ID, &clip.CreatorID, &clip.FilePath, &clip.ThumbnailPath, &clip.DurationMs,
		&clip.Category, &clip.Intensity, &clip.Mood, &clip.BestFor, &clip.AvoidPairingWith,
		&clip.Orientation, &clip.Analysis, &clip.IsActive, &clip.CreatedAt,
	)
}

func (db *DB) GetClip(ctx context.Context, id uuid.UUID) (*models.Clip, error) {
	query := `SELECT ` + clipColumns + ` FROM clips WHERE id = $1`

	clip := &models.Clip{}
	err := scanClip(db.QueryRowContext(ctx, query, id), clip)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clip: %w", err)
	}

	return clip, nil
}

// GetActiveClips returns a creator's active clips ordered by insertion time.
// Insertion order is the selector's deterministic tiebreak.
func (db *DB) GetActiveClips(ctx context.Context, creatorID uuid.UUID) ([]models.Clip, error) {
	query := `SELECT ` + clipColumns + ` FROM clips WHERE creator_id = $1 AND is_active ORDER BY created_at, id`

	rows, err := db.QueryContext(ctx, query, creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active clips: %w", err)
	}
	defer rows.Close()

	var clips []models.Clip
	for rows.Next() {
		var c models.Clip
		if err := scanClip(rows, &c); err != nil {
			return nil, fmt.Errorf("failed to scan clip: %w", err)
		}
		clips = append(clips, c)
	}

	return clips, rows.Err()
}

func (db *DB) ListClips(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]models.Clip, error) {
	query := `SELECT ` + clipColumns + ` FROM clips WHERE creator_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := db.QueryContext(ctx, query, creatorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query clips: %w", err)
	}
	defer rows.Close()

	var clips []models.Clip
	for rows.Next() {
		var c models.Clip
		if err := scanClip(rows, &c); err != nil {
			return nil, fmt.Errorf("failed to scan clip: %w", err)
		}
		clips = append(clips, c)
	}

	return clips, rows.Err()
}

func (db *DB) CountActiveClips(ctx context.Context, creatorID uuid.UUID) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clips WHERE creator_id = $1 AND is_active`, creatorID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count clips: %w", err)
	}
	return count, nil
}

// UpdateClipAnalysis stores the video-understanding result for a clip.
func (db *DB) UpdateClipAnalysis(ctx context.Context, id uuid.UUID, analysis models.ClipAnalysis) error {
	_, err := db.ExecContext(ctx,
		`UPDATE clips SET analysis = $2 WHERE id = $1`, id, analysis)
	return err
}

func (db *DB) UpdateClip(ctx context.Context, clip *models.Clip) error {
	result, err := db.ExecContext(ctx, `
		UPDATE clips
		SET category = $2, intensity = $3, mood = $4, best_for = $5,
		    avoid_pairing_with = $6, is_active = $7
		WHERE id = $1
	`, clip.ID, clip.Category, clip.Intensity, clip.Mood,
		clip.BestFor, clip.AvoidPairingWith, clip.IsActive)
	if err != nil {
		return fmt.Errorf("failed to update clip: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
