// Package livestream supervises live encoder processes and packages their
// HLS output to object storage in near real time.
package livestream

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streamforge/worker/internal/models"
	"github.com/streamforge/worker/internal/notify"
)

const (
	// liveManifestName is the playlist ffmpeg rewrites as the stream advances.
	liveManifestName = "index.m3u8"

	defaultGrace  = time.Second
	defaultSettle = 100 * time.Millisecond
)

// Store is the slice of the video repository the supervisor writes to.
type Store interface {
	MarkLive(ctx context.Context, id uuid.UUID, manifestKey string) error
	SetStatus(ctx context.Context, id uuid.UUID, status models.VideoStatus) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
}

// Uploader is the slice of the storage gateway the supervisor uses.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, key string) error
}

// Options tune the supervisor; zero values get sensible defaults.
type Options struct {
	FFmpegPath string
	Preset     string
	SegmentSec int
	WindowSize int
	TmpDir     string
	// Grace is how long a stopped encoder gets to flush before being killed.
	Grace time.Duration
	// Settle is the write-settle debounce for the output watcher.
	Settle time.Duration
}

type session struct {
	videoID   uuid.UUID
	cmd       *exec.Cmd
	watcher   *dirWatcher
	outputDir string
	startedAt time.Time
	// done is closed once the encoder process has been reaped.
	done     chan struct{}
	stopping atomic.Bool
	stderr   bytes.Buffer
}

// Supervisor owns the registry of active live sessions. Each session is one
// encoder process plus one output watcher; sessions run independently of the
// job-processing concurrency bound and of each other.
type Supervisor struct {
	store    Store
	uploader Uploader
	notifier *notify.Publisher
	opts     Options
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

// NewSupervisor creates a live stream supervisor.
func NewSupervisor(store Store, uploader Uploader, notifier *notify.Publisher, opts Options, logger *zap.Logger) *Supervisor {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Preset == "" {
		opts.Preset = "veryfast"
	}
	if opts.SegmentSec <= 0 {
		opts.SegmentSec = 2
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = 5
	}
	if opts.Grace <= 0 {
		opts.Grace = defaultGrace
	}
	if opts.Settle <= 0 {
		opts.Settle = defaultSettle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		store:    store,
		uploader: uploader,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		sessions: make(map[uuid.UUID]*session),
	}
}

// Start spawns a low-latency HLS encoder for videoID reading inputSource and
// begins uploading its output. Rejects a videoID that already has a session.
func (s *Supervisor) Start(ctx context.Context, videoID uuid.UUID, inputSource string) error {
	log := s.logger.With(zap.String("video_id", videoID.String()))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[videoID]; exists {
		return fmt.Errorf("live session already active for video %s", videoID)
	}

	outputDir, err := os.MkdirTemp(s.opts.TmpDir, "live-"+videoID.String()+"-")
	if err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	sess := &session{
		videoID:   videoID,
		outputDir: outputDir,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	sess.cmd = exec.Command(s.opts.FFmpegPath, s.liveArgs(inputSource, outputDir)...)
	sess.cmd.Stderr = &sess.stderr
	if err := sess.cmd.Start(); err != nil {
		os.RemoveAll(outputDir)
		return fmt.Errorf("start live encoder: %w", err)
	}

	watcher, err := newDirWatcher(outputDir, s.opts.Settle, log)
	if err != nil {
		_ = sess.cmd.Process.Kill()
		_ = sess.cmd.Wait()
		os.RemoveAll(outputDir)
		return fmt.Errorf("watch output dir: %w", err)
	}
	sess.watcher = watcher
	s.sessions[videoID] = sess

	go s.uploadLoop(sess, log)
	go s.reap(sess, log)

	manifestKey := liveManifestKey(videoID)
	// The encode keeps running even if the status write fails; the record can
	// be reconciled later, a dropped stream cannot.
	if err := s.store.MarkLive(ctx, videoID, manifestKey); err != nil {
		log.Error("mark live write failed", zap.Error(err))
	}
	s.notifier.Publish(ctx, videoID.String(), notify.PhaseLive)

	log.Info("live session started",
		zap.String("input", inputSource),
		zap.String("output_dir", outputDir),
		zap.String("manifest_key", manifestKey),
	)
	return nil
}

// Stop gracefully terminates the session for videoID. Missing sessions are a
// warning no-op. With convertToVOD the record is parked in pending, flagging
// it for a future VOD re-transcode of the recording; that conversion is not
// implemented here.
func (s *Supervisor) Stop(ctx context.Context, videoID uuid.UUID, convertToVOD bool) error {
	log := s.logger.With(zap.String("video_id", videoID.String()))

	s.mu.Lock()
	sess, ok := s.sessions[videoID]
	if ok {
		delete(s.sessions, videoID)
	}
	s.mu.Unlock()
	if !ok {
		log.Warn("stop requested for unknown live session")
		return nil
	}

	sess.stopping.Store(true)
	s.terminate(sess, log)
	s.cleanup(sess, log)

	status := models.VideoStatusReady
	if convertToVOD {
		status = models.VideoStatusPending
		log.Info("recording flagged for VOD conversion (conversion itself not implemented)")
	}
	if err := s.store.SetStatus(ctx, videoID, status); err != nil {
		return fmt.Errorf("set status after stop: %w", err)
	}
	s.notifier.Publish(ctx, videoID.String(), notify.PhaseStopped)

	log.Info("live session stopped",
		zap.Duration("duration", time.Since(sess.startedAt)),
		zap.Bool("convert_to_vod", convertToVOD),
	)
	return nil
}

// StopAll stops every registered session concurrently. Used during process
// shutdown; one session's failure never blocks the others.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]uuid.UUID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if err := s.Stop(ctx, id, false); err != nil {
				s.logger.Error("stop during shutdown failed", zap.String("video_id", id.String()), zap.Error(err))
			}
		}(id)
	}
	wg.Wait()
}

// Count returns the number of active sessions.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// uploadLoop mirrors settled output files to object storage. Uploads are
// best-effort: a failed segment is logged and skipped, never fatal to the
// watcher or the stream.
func (s *Supervisor) uploadLoop(sess *session, log *zap.Logger) {
	prefix := "live/" + sess.videoID.String()
	for p := range sess.watcher.Events() {
		name := filepath.Base(p)
		var key string
		switch {
		case name == liveManifestName:
			key = liveManifestKey(sess.videoID)
		case strings.HasSuffix(name, ".ts"):
			key = path.Join(prefix, name)
		default:
			continue
		}
		if err := s.uploader.UploadFile(context.Background(), p, key); err != nil {
			log.Warn("live upload failed", zap.String("key", key), zap.Error(err))
			continue
		}
		log.Debug("live file uploaded", zap.String("key", key))
	}
}

// reap waits for the encoder to exit. An exit the supervisor did not ask for
// fails the video and tears the session down.
func (s *Supervisor) reap(sess *session, log *zap.Logger) {
	err := sess.cmd.Wait()
	close(sess.done)
	if sess.stopping.Load() {
		return
	}

	msg := "live encoder exited unexpectedly"
	if err != nil {
		msg = fmt.Sprintf("live encoder failed: %v", err)
		if tail := stderrTail(&sess.stderr); tail != "" {
			msg += ": " + tail
		}
	}
	log.Error("live session crashed", zap.Error(err))

	s.mu.Lock()
	delete(s.sessions, sess.videoID)
	s.mu.Unlock()
	s.cleanup(sess, log)

	ctx := context.Background()
	if dbErr := s.store.MarkFailed(ctx, sess.videoID, msg); dbErr != nil {
		log.Error("mark failed write failed", zap.Error(dbErr))
	}
	s.notifier.Publish(ctx, sess.videoID.String(), notify.PhaseFailed)
}

// terminate asks the encoder to flush and waits the grace period before
// killing it.
func (s *Supervisor) terminate(sess *session, log *zap.Logger) {
	if sess.cmd.Process != nil {
		_ = sess.cmd.Process.Signal(os.Interrupt)
	}
	select {
	case <-sess.done:
	case <-time.After(s.opts.Grace):
		log.Warn("live encoder did not exit in time, killing")
		_ = sess.cmd.Process.Kill()
		<-sess.done
	}
}

// cleanup closes the watcher and removes the ephemeral output directory.
// Best-effort on every exit path.
func (s *Supervisor) cleanup(sess *session, log *zap.Logger) {
	if err := sess.watcher.Close(); err != nil {
		log.Warn("watcher close failed", zap.Error(err))
	}
	if err := os.RemoveAll(sess.outputDir); err != nil {
		log.Warn("output dir cleanup failed", zap.String("dir", sess.outputDir), zap.Error(err))
	}
}

// liveArgs builds the low-latency HLS encode: 720p at fixed rates, short
// segments, GOP aligned to the segment length at 30fps, a sliding playlist
// window with old-segment deletion.
func (s *Supervisor) liveArgs(inputSource, outputDir string) []string {
	gop := 30 * s.opts.SegmentSec
	return []string{
		"-hide_banner", "-y",
		"-i", inputSource,
		"-vf", "scale=-2:720",
		"-c:v", "libx264",
		"-preset", s.opts.Preset,
		"-tune", "zerolatency",
		"-b:v", "2800k",
		"-maxrate", "2800k",
		"-bufsize", "5600k",
		"-g", fmt.Sprintf("%d", gop),
		"-keyint_min", fmt.Sprintf("%d", gop),
		"-sc_threshold", "0",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ac", "2",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", s.opts.SegmentSec),
		"-hls_list_size", fmt.Sprintf("%d", s.opts.WindowSize),
		"-hls_flags", "delete_segments+independent_segments",
		"-hls_segment_filename", filepath.Join(outputDir, "segment_%03d.ts"),
		filepath.Join(outputDir, liveManifestName),
	}
}

func liveManifestKey(videoID uuid.UUID) string {
	return "live/" + videoID.String() + "/" + liveManifestName
}

func stderrTail(buf *bytes.Buffer) string {
	s := strings.TrimSpace(buf.String())
	if len(s) > 400 {
		s = "..." + s[len(s)-400:]
	}
	return s
}
