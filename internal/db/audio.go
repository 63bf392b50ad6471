package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flexgen/api/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateAudioTrack(ctx context.Context, track *models.AudioTrack) error {
	query := `
		INSERT INTO audio_tracks (id, name, file_path, duration_ms, context, beat_timeline, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		track.ID, track.Name, track.FilePath, track.DurationMs,
		track.Context, track.BeatTimeline, track.IsActive,
	).Scan(&track.CreatedAt)
}

func (db *DB) GetAudioTrack(ctx context.Context, id uuid.UUID) (*models.AudioTrack, error) {
	query := `
		SELECT id, name, file_path, duration_ms, context, beat_timeline, is_active, created_at
		FROM audio_tracks
		WHERE id = $1
	`

	track := &models.AudioTrack{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&track.ID, &track.Name, &track.FilePath, &track.DurationMs,
		&track.Context, &track.BeatTimeline, &track.IsActive, &track.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audio track: %w", err)
	}

	return track, nil
}

func (db *DB) ListAudioTracks(ctx context.Context, limit, offset int) ([]models.AudioTrack, error) {
	query := `
		SELECT id, name, file_path, duration_ms, context, beat_timeline, is_active, created_at
		FROM audio_tracks
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audio tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.AudioTrack
	for rows.Next() {
		var t models.AudioTrack
		err := rows.Scan(
			&t.ID, &t.Name, &t.FilePath, &t.DurationMs,
			&t.Context, &t.BeatTimeline, &t.IsActive, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audio track: %w", err)
		}
		tracks = append(tracks, t)
	}

	return tracks, rows.Err()
}

// UpdateBeatTimeline replaces a track's beat structure. In-flight generations
// are unaffected — the selector works on a snapshot taken at invocation time.
func (db *DB) UpdateBeatTimeline(ctx context.Context, id uuid.UUID, timeline models.BeatTimeline) error {
	result, err := db.ExecContext(ctx,
		`UPDATE audio_tracks SET beat_timeline = $2 WHERE id = $1`, id, timeline)
	if err != nil {
		return fmt.Errorf("failed to update beat timeline: %w", err)
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
