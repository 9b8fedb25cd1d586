package livestream

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/streamforge/worker/internal/models"
)

// ---- fakes ----

type fakeStore struct {
	mu        sync.Mutex
	live      map[uuid.UUID]string
	statuses  map[uuid.UUID]models.VideoStatus
	failedMsg map[uuid.UUID]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		live:      make(map[uuid.UUID]string),
		statuses:  make(map[uuid.UUID]models.VideoStatus),
		failedMsg: make(map[uuid.UUID]string),
	}
}

func (f *fakeStore) MarkLive(_ context.Context, id uuid.UUID, manifestKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[id] = manifestKey
	f.statuses[id] = models.VideoStatusLive
	return nil
}

func (f *fakeStore) SetStatus(_ context.Context, id uuid.UUID, status models.VideoStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id uuid.UUID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = models.VideoStatusFailed
	f.failedMsg[id] = message
	return nil
}

func (f *fakeStore) status(id uuid.UUID) models.VideoStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeUploader) UploadFile(_ context.Context, _, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeUploader) uploaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

// ---- helpers ----

// writeScript installs a shell script standing in for the encoder binary.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script encoder stand-ins require a POSIX shell")
	}
	p := filepath.Join(t.TempDir(), "encoder.sh")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

// idleScript ignores its arguments and runs until interrupted.
const idleScript = `trap 'exit 0' INT TERM
while :; do sleep 0.05; done
`

// segmentScript writes one segment and the manifest into the output
// directory (the final ffmpeg argument), then idles. The initial sleep lets
// the supervisor's watcher attach before any file appears.
const segmentScript = `sleep 0.3
for last; do :; done
dir=$(dirname "$last")
echo seg > "$dir/segment_000.ts"
echo manifest > "$last"
` + idleScript

func newTestSupervisor(t *testing.T, store Store, up Uploader, bin string) *Supervisor {
	t.Helper()
	return NewSupervisor(store, up, nil, Options{
		FFmpegPath: bin,
		TmpDir:     t.TempDir(),
		Grace:      2 * time.Second,
		Settle:     20 * time.Millisecond,
	}, nil)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ---- tests ----

func TestStartStop_Lifecycle(t *testing.T) {
	store := newFakeStore()
	sup := newTestSupervisor(t, store, &fakeUploader{}, writeScript(t, idleScript))
	videoID := uuid.New()
	ctx := context.Background()

	if err := sup.Start(ctx, videoID, "rtmp://src"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if sup.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", sup.Count())
	}
	if store.status(videoID) != models.VideoStatusLive {
		t.Errorf("expected live, got %s", store.status(videoID))
	}
	store.mu.Lock()
	manifestKey := store.live[videoID]
	store.mu.Unlock()
	if want := "live/" + videoID.String() + "/index.m3u8"; manifestKey != want {
		t.Errorf("expected manifest key %s, got %s", want, manifestKey)
	}

	// Grab the output dir before stop removes the session.
	sup.mu.Lock()
	outputDir := sup.sessions[videoID].outputDir
	sup.mu.Unlock()

	if err := sup.Stop(ctx, videoID, false); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if sup.Count() != 0 {
		t.Fatalf("expected empty registry, got %d sessions", sup.Count())
	}
	if store.status(videoID) != models.VideoStatusReady {
		t.Errorf("expected ready after stop, got %s", store.status(videoID))
	}
	if _, err := os.Stat(outputDir); !os.IsNotExist(err) {
		t.Errorf("output dir still exists: %v", err)
	}
}

func TestStart_RejectsDuplicate(t *testing.T) {
	store := newFakeStore()
	sup := newTestSupervisor(t, store, &fakeUploader{}, writeScript(t, idleScript))
	videoID := uuid.New()
	ctx := context.Background()

	if err := sup.Start(ctx, videoID, "rtmp://src"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sup.Stop(ctx, videoID, false)

	if err := sup.Start(ctx, videoID, "rtmp://src"); err == nil {
		t.Fatal("expected duplicate start to fail")
	}
}

func TestStop_UnknownSessionIsNoOp(t *testing.T) {
	sup := newTestSupervisor(t, newFakeStore(), &fakeUploader{}, "encoder-not-used")
	if err := sup.Stop(context.Background(), uuid.New(), false); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestStop_TwiceIsSafe(t *testing.T) {
	store := newFakeStore()
	sup := newTestSupervisor(t, store, &fakeUploader{}, writeScript(t, idleScript))
	videoID := uuid.New()
	ctx := context.Background()

	if err := sup.Start(ctx, videoID, "rtmp://src"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sup.Stop(ctx, videoID, false); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := sup.Stop(ctx, videoID, false); err != nil {
		t.Fatalf("second stop should be a no-op, got %v", err)
	}
}

func TestStop_ConvertToVODParksPending(t *testing.T) {
	store := newFakeStore()
	sup := newTestSupervisor(t, store, &fakeUploader{}, writeScript(t, idleScript))
	videoID := uuid.New()
	ctx := context.Background()

	if err := sup.Start(ctx, videoID, "rtmp://src"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sup.Stop(ctx, videoID, true); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if store.status(videoID) != models.VideoStatusPending {
		t.Errorf("expected pending, got %s", store.status(videoID))
	}
}

func TestEncoderCrash_FailsVideoAndRemovesSession(t *testing.T) {
	store := newFakeStore()
	sup := newTestSupervisor(t, store, &fakeUploader{}, writeScript(t, "exit 1\n"))
	videoID := uuid.New()

	if err := sup.Start(context.Background(), videoID, "rtmp://src"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		return store.status(videoID) == models.VideoStatusFailed && sup.Count() == 0
	})
	store.mu.Lock()
	msg := store.failedMsg[videoID]
	store.mu.Unlock()
	if msg == "" {
		t.Error("expected a non-empty failure message")
	}
}

func TestUploadLoop_MirrorsSegmentsAndManifest(t *testing.T) {
	store := newFakeStore()
	up := &fakeUploader{}
	sup := newTestSupervisor(t, store, up, writeScript(t, segmentScript))
	videoID := uuid.New()
	ctx := context.Background()

	if err := sup.Start(ctx, videoID, "rtmp://src"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sup.Stop(ctx, videoID, false)

	wantSeg := "live/" + videoID.String() + "/segment_000.ts"
	wantManifest := "live/" + videoID.String() + "/index.m3u8"
	waitFor(t, 3*time.Second, func() bool {
		var seg, man bool
		for _, k := range up.uploaded() {
			if k == wantSeg {
				seg = true
			}
			if k == wantManifest {
				man = true
			}
		}
		return seg && man
	})
}

func TestStopAll_DrainsEverySession(t *testing.T) {
	store := newFakeStore()
	sup := newTestSupervisor(t, store, &fakeUploader{}, writeScript(t, idleScript))
	ctx := context.Background()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		if err := sup.Start(ctx, id, "rtmp://src"); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
	}
	sup.StopAll(ctx)
	if sup.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", sup.Count())
	}
	for _, id := range ids {
		if store.status(id) != models.VideoStatusReady {
			t.Errorf("%s: expected ready, got %s", id, store.status(id))
		}
	}
}
