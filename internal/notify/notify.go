// Package notify publishes per-video status changes over Redis pub/sub so the
// API layer can push realtime updates without polling the database.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Phase values published on the status channel.
const (
	PhaseQueued     = "queued"
	PhaseProcessing = "processing"
	PhaseUploading  = "uploading"
	PhaseReady      = "ready"
	PhaseFailed     = "failed"
	PhaseLive       = "live"
	PhaseStopped    = "stopped"
)

// Publisher fans out status notifications. A nil Publisher (or one built with
// a nil client) discards everything, so the worker runs fine without Redis.
type Publisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewPublisher creates a status publisher. client may be nil.
func NewPublisher(client *redis.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, logger: logger}
}

type statusEvent struct {
	VideoID string    `json:"videoId"`
	Phase   string    `json:"phase"`
	At      time.Time `json:"at"`
}

// Publish sends a phase change for videoID. Failures are logged, never
// propagated; notifications are best-effort.
func (p *Publisher) Publish(ctx context.Context, videoID, phase string) {
	if p == nil || p.client == nil {
		return
	}
	payload, err := json.Marshal(statusEvent{VideoID: videoID, Phase: phase, At: time.Now().UTC()})
	if err != nil {
		p.logger.Error("marshal status event", zap.Error(err))
		return
	}
	channel := "transcode:status:" + videoID
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger.Warn("publish status event failed",
			zap.String("video_id", videoID),
			zap.String("phase", phase),
			zap.Error(err),
		)
	}
}
