package models

import (
	"time"

	"github.com/google/uuid"
)

// VideoStatus represents the video lifecycle.
type VideoStatus string

const (
	VideoStatusPending    VideoStatus = "pending"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusLive       VideoStatus = "live"
	VideoStatusReady      VideoStatus = "ready"
	VideoStatusFailed     VideoStatus = "failed"
)

// VideoType distinguishes uploaded files from live input sources.
type VideoType string

const (
	VideoTypeVOD  VideoType = "vod"
	VideoTypeLive VideoType = "live"
)

// Video is the shared metadata record the worker mutates. The API layer owns
// creation, deletion and the fields outside the worker's responsibility
// (title, visibility, view counters, stream key).
type Video struct {
	ID                   uuid.UUID   `json:"id"`
	Status               VideoStatus `json:"status"`
	Type                 VideoType   `json:"video_type"`
	TranscodingProgress  int         `json:"transcoding_progress"`
	TranscodingStartedAt *time.Time  `json:"transcoding_started_at,omitempty"`
	TranscodingError     string      `json:"transcoding_error,omitempty"`
	HLSManifestKey       string      `json:"hls_manifest_key,omitempty"`
	Duration             int         `json:"duration"`
	StreamKey            string      `json:"stream_key,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// VideoVariant is one finished rendition of a VOD transcode. Immutable once
// created.
type VideoVariant struct {
	ID          uuid.UUID `json:"id"`
	VideoID     uuid.UUID `json:"video_id"`
	Resolution  string    `json:"resolution"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Bitrate     int       `json:"bitrate"` // kbps
	Codec       string    `json:"codec"`
	Format      string    `json:"format"`
	KeyPrefix   string    `json:"key_prefix"`
	PlaylistKey string    `json:"playlist_key"`
	CreatedAt   time.Time `json:"created_at"`
}
