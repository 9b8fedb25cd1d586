// Package transcoder converts uploaded video files into multi-rendition HLS
// through an external ffmpeg process.
package transcoder

import (
	"context"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streamforge/worker/internal/models"
	"github.com/streamforge/worker/internal/notify"
	"github.com/streamforge/worker/pkg/diskspace"
)

// Store is the slice of the video repository the pipeline writes to.
type Store interface {
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	SetProgress(ctx context.Context, id uuid.UUID, progress int) error
	MarkReady(ctx context.Context, id uuid.UUID, duration int, manifestKey string) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	CreateVariant(ctx context.Context, v *models.VideoVariant) error
}

// ObjectStore is the slice of the storage gateway the pipeline uses.
type ObjectStore interface {
	DownloadToFile(ctx context.Context, key, localPath string) error
	UploadDir(ctx context.Context, root, prefix string) ([]string, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// MediaProber inspects a local media file.
type MediaProber interface {
	Probe(ctx context.Context, path string) (MediaInfo, error)
}

// MediaEncoder produces renditions and thumbnails from a local media file.
type MediaEncoder interface {
	EncodeRendition(ctx context.Context, input, outDir string, r Rendition, hasAudio bool) error
	Thumbnail(ctx context.Context, input, outPath string, atSeconds float64) error
}

// Pipeline runs the VOD transcode: download, probe, encode the ladder
// sequentially, upload, record variants.
type Pipeline struct {
	store    Store
	objects  ObjectStore
	prober   MediaProber
	encoder  MediaEncoder
	notifier *notify.Publisher
	tmpDir   string
	logger   *zap.Logger
}

// NewPipeline creates a VOD pipeline. tmpDir may be empty (os.TempDir()).
func NewPipeline(store Store, objects ObjectStore, prober MediaProber, encoder MediaEncoder, notifier *notify.Publisher, tmpDir string, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:    store,
		objects:  objects,
		prober:   prober,
		encoder:  encoder,
		notifier: notifier,
		tmpDir:   tmpDir,
		logger:   logger,
	}
}

// Process transcodes one uploaded video. Any failure is recorded on the video
// record and returned so the consumer rejects the message. The per-job temp
// directory is removed on every exit path.
func (p *Pipeline) Process(ctx context.Context, videoID uuid.UUID, inputKey string) (err error) {
	log := p.logger.With(zap.String("video_id", videoID.String()), zap.String("input_key", inputKey))
	log.Info("transcode started")

	defer func() {
		if err != nil {
			log.Error("transcode failed", zap.Error(err))
			// The job context may already be canceled on shutdown.
			failCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if dbErr := p.store.MarkFailed(failCtx, videoID, err.Error()); dbErr != nil {
				log.Error("mark failed write failed", zap.Error(dbErr))
			}
			p.notifier.Publish(failCtx, videoID.String(), notify.PhaseFailed)
		}
	}()

	if err = p.store.MarkProcessing(ctx, videoID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	p.notifier.Publish(ctx, videoID.String(), notify.PhaseProcessing)

	tmp, err := os.MkdirTemp(p.tmpDir, "transcode-"+videoID.String()+"-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmp); rmErr != nil {
			log.Warn("temp dir cleanup failed", zap.String("dir", tmp), zap.Error(rmErr))
		}
	}()

	srcPath := filepath.Join(tmp, "source"+path.Ext(inputKey))
	if err = p.objects.DownloadToFile(ctx, inputKey, srcPath); err != nil {
		return fmt.Errorf("download source: %w", err)
	}
	p.checkpoint(ctx, log, videoID, 20)

	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if err = diskspace.Ensure(tmp, diskspace.EstimateRequired(srcInfo.Size())); err != nil {
		return err
	}

	media, err := p.prober.Probe(ctx, srcPath)
	if err != nil {
		return fmt.Errorf("probe source: %w", err)
	}
	if media.Height == 0 || media.Width == 0 {
		return fmt.Errorf("%w: no video stream found", ErrUnsupportedInput)
	}
	p.checkpoint(ctx, log, videoID, 30)

	ladder := FilterLadder(media.Height)
	if len(ladder) == 0 {
		return fmt.Errorf("%w: source height %d below smallest rendition (%dp)",
			ErrUnsupportedInput, media.Height, Ladder[len(Ladder)-1].Height)
	}

	outDir := filepath.Join(tmp, "out")
	if err = os.MkdirAll(outDir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	// Renditions encode one at a time to bound peak CPU and memory; the
	// concurrency knob for this worker is the queue prefetch, not the ladder.
	for _, r := range ladder {
		if err = p.encoder.EncodeRendition(ctx, srcPath, outDir, r, media.HasAudio); err != nil {
			return fmt.Errorf("encode %s: %w", r.Name, err)
		}
	}
	p.checkpoint(ctx, log, videoID, 80)

	thumbAt := math.Min(1.0, media.Duration*0.10)
	if err = p.encoder.Thumbnail(ctx, srcPath, filepath.Join(outDir, "thumbnail.jpg"), thumbAt); err != nil {
		return fmt.Errorf("thumbnail: %w", err)
	}

	produced := producedRenditions(outDir, ladder)
	if len(produced) == 0 {
		return fmt.Errorf("no rendition playlists were produced")
	}
	if err = WriteMasterPlaylist(outDir, produced); err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}

	prefix := "videos/" + videoID.String()
	// Clear leftovers from a prior failed attempt so stale segments never mix
	// into the fresh upload.
	if delErr := p.objects.DeletePrefix(ctx, prefix+"/"); delErr != nil {
		log.Warn("stale output cleanup failed", zap.Error(delErr))
	}

	p.notifier.Publish(ctx, videoID.String(), notify.PhaseUploading)
	uploaded, err := p.objects.UploadDir(ctx, outDir, prefix)
	if err != nil {
		return fmt.Errorf("upload outputs: %w", err)
	}
	p.checkpoint(ctx, log, videoID, 90)

	uploadedSet := make(map[string]struct{}, len(uploaded))
	for _, k := range uploaded {
		uploadedSet[k] = struct{}{}
	}
	for _, r := range produced {
		playlistKey := path.Join(prefix, r.Name, "playlist.m3u8")
		if _, ok := uploadedSet[playlistKey]; !ok {
			return fmt.Errorf("rendition playlist missing after upload: %s", playlistKey)
		}
		variant := &models.VideoVariant{
			VideoID:     videoID,
			Resolution:  r.Name,
			Width:       r.Width,
			Height:      r.Height,
			Bitrate:     r.Bitrate,
			Codec:       "h264",
			Format:      "hls",
			KeyPrefix:   path.Join(prefix, r.Name),
			PlaylistKey: playlistKey,
		}
		if err = p.store.CreateVariant(ctx, variant); err != nil {
			return fmt.Errorf("create variant %s: %w", r.Name, err)
		}
	}
	p.checkpoint(ctx, log, videoID, 95)

	duration := int(math.Round(media.Duration))
	if err = p.store.MarkReady(ctx, videoID, duration, prefix+"/master.m3u8"); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	p.notifier.Publish(ctx, videoID.String(), notify.PhaseReady)

	log.Info("transcode finished",
		zap.Int("duration_sec", duration),
		zap.Int("renditions", len(produced)),
	)
	return nil
}

// checkpoint persists a progress value. A write failure here loses a poll
// checkpoint, not the job, so it is logged and swallowed.
func (p *Pipeline) checkpoint(ctx context.Context, log *zap.Logger, videoID uuid.UUID, progress int) {
	if err := p.store.SetProgress(ctx, videoID, progress); err != nil {
		log.Warn("progress checkpoint write failed", zap.Int("progress", progress), zap.Error(err))
	}
}

// producedRenditions keeps the ladder entries whose playlist file exists on
// disk; an encode that silently produced nothing is excluded from the master
// playlist.
func producedRenditions(outDir string, ladder []Rendition) []Rendition {
	var out []Rendition
	for _, r := range ladder {
		if _, err := os.Stat(filepath.Join(outDir, r.Name, "playlist.m3u8")); err == nil {
			out = append(out, r)
		}
	}
	return out
}
