// Package health records per-job metrics and exposes them over HTTP for an
// external monitor.
package health

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recorder accumulates job timing and outcome counters.
type Recorder struct {
	mu        sync.Mutex
	startedAt time.Time
	total     int64
	succeeded int64
	failed    int64
	active    int64
	totalDur  time.Duration
}

// NewRecorder creates a metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{startedAt: time.Now()}
}

// JobStarted marks a job in flight.
func (r *Recorder) JobStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active++
}

// JobFinished records a finished job and its outcome.
func (r *Recorder) JobFinished(ok bool, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
	r.total++
	if ok {
		r.succeeded++
	} else {
		r.failed++
	}
	r.totalDur += d
}

// Stats is a point-in-time metrics snapshot.
type Stats struct {
	TotalJobs       int64   `json:"total_jobs"`
	SucceededJobs   int64   `json:"succeeded_jobs"`
	FailedJobs      int64   `json:"failed_jobs"`
	ActiveJobs      int64   `json:"active_jobs"`
	SuccessRate     float64 `json:"success_rate"`
	AvgProcessingMs int64   `json:"avg_processing_ms"`
}

// Snapshot returns the current counters.
func (r *Recorder) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{
		TotalJobs:     r.total,
		SucceededJobs: r.succeeded,
		FailedJobs:    r.failed,
		ActiveJobs:    r.active,
		SuccessRate:   1,
	}
	if r.total > 0 {
		s.SuccessRate = float64(r.succeeded) / float64(r.total)
		s.AvgProcessingMs = (r.totalDur / time.Duration(r.total)).Milliseconds()
	}
	return s
}

// Uptime returns time since the recorder was created.
func (r *Recorder) Uptime() time.Duration {
	return time.Since(r.startedAt)
}

// Server serves /health and /metrics.
type Server struct {
	recorder     *Recorder
	connected    func() bool
	liveSessions func() int
	logger       *zap.Logger
}

// NewServer creates the health HTTP surface. connected reports the broker
// link; liveSessions the supervisor registry size. Either may be nil.
func NewServer(recorder *Recorder, connected func() bool, liveSessions func() int, logger *zap.Logger) *Server {
	if connected == nil {
		connected = func() bool { return true }
	}
	if liveSessions == nil {
		liveSessions = func() int { return 0 }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{recorder: recorder, connected: connected, liveSessions: liveSessions, logger: logger}
}

// Router builds the gin handler.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", s.health)
	router.GET("/metrics", s.metrics)
	return router
}

func (s *Server) health(c *gin.Context) {
	status := "healthy"
	if !s.connected() {
		status = "degraded"
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"uptime_seconds": int64(s.recorder.Uptime().Seconds()),
		"memory": gin.H{
			"alloc_mb": mem.Alloc / 1024 / 1024,
			"sys_mb":   mem.Sys / 1024 / 1024,
			"num_gc":   mem.NumGC,
		},
		"metrics": s.recorder.Snapshot(),
	})
}

func (s *Server) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"jobs":          s.recorder.Snapshot(),
		"live_sessions": s.liveSessions(),
	})
}
