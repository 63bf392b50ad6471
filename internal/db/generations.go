package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flexgen/api/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateGeneration(ctx context.Context, gen *models.Generation) error {
	query := `
		INSERT INTO generations (
			id, creator_id, audio_id, requested_clip_ids, clip_sequence,
			caption_metadata, ai_reasoning, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		gen.ID, gen.CreatorID, gen.AudioID, gen.RequestedClipIDs,
		gen.ClipSequence, gen.CaptionMetadata, gen.AIReasoning, gen.Status,
	).Scan(&gen.CreatedAt)
}

const generationColumns = `
	id, creator_id, audio_id, requested_clip_ids, clip_sequence, caption,
	caption_metadata, ai_reasoning, output_path, status, error_message,
	created_at, completed_at
`

func scanGeneration(row interface{ Scan(...interface{}) error }, gen *models.Generation) error {
	return row.Scan(
		&gen.ID, &gen.CreatorID, &gen.AudioID, &gen.RequestedClipIDs,
		&gen.ClipSequence, &gen.Caption, &gen.CaptionMetadata,
		&gen.AIReasoning, &gen.OutputPath, &gen.Status, &gen.ErrorMessage,
		&gen.CreatedAt, &gen.CompletedAt,
	)
}

func (db *DB) GetGeneration(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = $1`

	gen := &models.Generation{}
	err := scanGeneration(db.QueryRowContext(ctx, query, id), gen)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}

	return gen, nil
}

// ListGenerations returns generations newest-first with optional creator and
// status filters. A nil creatorID or empty status means "any".
func (db *DB) ListGenerations(ctx context.Context, creatorID *uuid.UUID, status models.GenerationStatus, limit, offset int) ([]models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations
		WHERE ($1::uuid IS NULL OR creator_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := db.QueryContext(ctx, query, creatorID, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer rows.Close()

	var gens []models.Generation
	for rows.Next() {
		var g models.Generation
		if err := scanGeneration(rows, &g); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		gens = append(gens, g)
	}

	return gens, rows.Err()
}

func (db *DB) CountGenerations(ctx context.Context, creatorID *uuid.UUID, status models.GenerationStatus) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM generations
		WHERE ($1::uuid IS NULL OR creator_id = $1)
		  AND ($2 = '' OR status = $2)
	`, creatorID, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count generations: %w", err)
	}
	return count, nil
}

// guardedUpdate runs an UPDATE that must affect exactly one row. Zero rows
// means the generation was not in the expected state (or is gone), which maps
// to ErrConflict — the status ladder is monotonic and never rewinds.
func (db *DB) guardedUpdate(ctx context.Context, query string, args ...interface{}) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// MarkGenerationProcessing moves pending → processing. Fails with ErrConflict
// if another worker already claimed the job.
func (db *DB) MarkGenerationProcessing(ctx context.Context, id uuid.UUID) error {
	return db.guardedUpdate(ctx, `
		UPDATE generations SET status = $2
		WHERE id = $1 AND status = $3
	`, id, models.GenerationStatusProcessing, models.GenerationStatusPending)
}

// SetGenerationSequence persists the selector output mid-flight so a later
// render failure still leaves the sequence available for diagnostics.
func (db *DB) SetGenerationSequence(ctx context.Context, id uuid.UUID, seq models.ClipSequence, reasoning models.AIReasoning) error {
	return db.guardedUpdate(ctx, `
		UPDATE generations SET clip_sequence = $2, ai_reasoning = $3
		WHERE id = $1 AND status = $4
	`, id, seq, reasoning, models.GenerationStatusProcessing)
}

// MarkGenerationCompleted moves processing → completed and records the output
// artifact plus the auto-selected caption.
func (db *DB) MarkGenerationCompleted(ctx context.Context, id uuid.UUID, outputPath, caption string, meta models.CaptionMetadata) error {
	return db.guardedUpdate(ctx, `
		UPDATE generations
		SET status = $2, output_path = $3, caption = $4, caption_metadata = $5, completed_at = $6
		WHERE id = $1 AND status = $7
	`, id, models.GenerationStatusCompleted, outputPath, caption, meta,
		time.Now().UTC(), models.GenerationStatusProcessing)
}

// MarkGenerationFailed moves processing → failed with a human-readable reason.
// output_path is left NULL by construction.
func (db *DB) MarkGenerationFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	return db.guardedUpdate(ctx, `
		UPDATE generations
		SET status = $2, error_message = $3, completed_at = $4
		WHERE id = $1 AND status = $5
	`, id, models.GenerationStatusFailed, errorMessage,
		time.Now().UTC(), models.GenerationStatusProcessing)
}

// UpdateGenerationCaption is the caption-only mutation allowed on a completed
// generation. The status guard keeps it from clobbering a concurrent
// stage-driven transition on a job that is not yet terminal.
func (db *DB) UpdateGenerationCaption(ctx context.Context, id uuid.UUID, caption string, meta models.CaptionMetadata) error {
	return db.guardedUpdate(ctx, `
		UPDATE generations SET caption = $2, caption_metadata = $3
		WHERE id = $1 AND status = $4
	`, id, caption, meta, models.GenerationStatusCompleted)
}

// DeleteGeneration removes a terminal generation record. In-flight jobs are
// protected by the status guard.
func (db *DB) DeleteGeneration(ctx context.Context, id uuid.UUID) error {
	return db.guardedUpdate(ctx, `
		DELETE FROM generations
		WHERE id = $1 AND status IN ($2, $3)
	`, id, models.GenerationStatusCompleted, models.GenerationStatusFailed)
}
