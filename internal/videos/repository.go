package videos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streamforge/worker/internal/models"
)

// Repository is the worker's view of the shared video metadata. All writes
// are small single-row patches; the worker never holds a long-lived lock.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a videos repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a video by ID, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	const q = `SELECT id, status, video_type, transcoding_progress, transcoding_started_at,
		COALESCE(transcoding_error,''), COALESCE(hls_manifest_key,''), COALESCE(duration,0),
		COALESCE(stream_key,''), created_at, updated_at
		FROM videos WHERE id = $1`
	var v models.Video
	err := r.pool.QueryRow(ctx, q, id).Scan(&v.ID, &v.Status, &v.Type, &v.TranscodingProgress,
		&v.TranscodingStartedAt, &v.TranscodingError, &v.HLSManifestKey, &v.Duration,
		&v.StreamKey, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// SetStatus sets the video status.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status models.VideoStatus) error {
	const q = `UPDATE videos SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, status, id)
	return err
}

// SetProgress records a transcoding progress checkpoint so external observers
// can poll it.
func (r *Repository) SetProgress(ctx context.Context, id uuid.UUID, progress int) error {
	const q = `UPDATE videos SET transcoding_progress = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, progress, id)
	return err
}

// MarkProcessing starts a VOD transcode: status, progress zero, start time.
func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE videos SET status = $1, transcoding_progress = 0,
		transcoding_started_at = NOW(), transcoding_error = NULL, updated_at = NOW()
		WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, models.VideoStatusProcessing, id)
	return err
}

// MarkReady completes a VOD transcode: duration, manifest key, full progress,
// any prior error cleared.
func (r *Repository) MarkReady(ctx context.Context, id uuid.UUID, duration int, manifestKey string) error {
	const q = `UPDATE videos SET status = $1, duration = $2, hls_manifest_key = $3,
		transcoding_progress = 100, transcoding_error = NULL, updated_at = NOW()
		WHERE id = $4`
	_, err := r.pool.Exec(ctx, q, models.VideoStatusReady, duration, manifestKey, id)
	return err
}

// MarkFailed records a failure; the error message is the only failure surface
// visible to users.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	const q = `UPDATE videos SET status = $1, transcoding_error = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, models.VideoStatusFailed, message, id)
	return err
}

// MarkLive flags the video as currently streaming and publishes its live
// manifest key.
func (r *Repository) MarkLive(ctx context.Context, id uuid.UUID, manifestKey string) error {
	const q = `UPDATE videos SET status = $1, hls_manifest_key = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, models.VideoStatusLive, manifestKey, id)
	return err
}

// CreateVariant inserts a finished rendition row.
func (r *Repository) CreateVariant(ctx context.Context, v *models.VideoVariant) error {
	const q = `INSERT INTO video_variants (id, video_id, resolution, width, height, bitrate, codec, format, key_prefix, playlist_key)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, v.VideoID, v.Resolution, v.Width, v.Height, v.Bitrate,
		v.Codec, v.Format, v.KeyPrefix, v.PlaylistKey).Scan(&v.ID, &v.CreatedAt)
}

// ListVariants returns the renditions of a video, highest resolution first.
func (r *Repository) ListVariants(ctx context.Context, videoID uuid.UUID) ([]models.VideoVariant, error) {
	const q = `SELECT id, video_id, resolution, width, height, bitrate, codec, format, key_prefix, playlist_key, created_at
		FROM video_variants WHERE video_id = $1 ORDER BY height DESC`
	rows, err := r.pool.Query(ctx, q, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.VideoVariant
	for rows.Next() {
		var v models.VideoVariant
		if err := rows.Scan(&v.ID, &v.VideoID, &v.Resolution, &v.Width, &v.Height, &v.Bitrate,
			&v.Codec, &v.Format, &v.KeyPrefix, &v.PlaylistKey, &v.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}
