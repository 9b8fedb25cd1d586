// Package worker consumes the durable job queue and dispatches each message
// to the VOD pipeline or the live stream supervisor.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// connectBaseDelay scales the linear backoff between initial dial attempts.
const connectBaseDelay = 2 * time.Second

// Transcoder runs a VOD transcode job.
type Transcoder interface {
	Process(ctx context.Context, videoID uuid.UUID, inputKey string) error
}

// LiveStreams starts and stops live sessions.
type LiveStreams interface {
	Start(ctx context.Context, videoID uuid.UUID, inputSource string) error
	Stop(ctx context.Context, videoID uuid.UUID, convertToVOD bool) error
}

// Metrics records per-job timing and outcome.
type Metrics interface {
	JobStarted()
	JobFinished(ok bool, d time.Duration)
}

// Config holds broker settings for the consumer.
type Config struct {
	URL   string
	Queue string
	// Concurrency becomes the channel prefetch credit, bounding the jobs
	// this instance holds unacknowledged at once.
	Concurrency     int
	ConnectAttempts int
	ReconnectDelay  time.Duration
}

// Consumer is the durable queue consumer. Messages are acknowledged on
// handler success and rejected without requeue on any failure; with no
// dead-letter exchange bound to the queue a rejected message is dropped.
type Consumer struct {
	cfg        Config
	transcoder Transcoder
	live       LiveStreams
	metrics    Metrics
	logger     *zap.Logger

	conn      *amqp.Connection
	ch        *amqp.Channel
	connected atomic.Bool
	wg        sync.WaitGroup
}

// NewConsumer creates a queue consumer. metrics may be nil.
func NewConsumer(cfg Config, transcoder Transcoder, live LiveStreams, metrics Metrics, logger *zap.Logger) *Consumer {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ConnectAttempts < 1 {
		cfg.ConnectAttempts = 5
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		cfg:        cfg,
		transcoder: transcoder,
		live:       live,
		metrics:    metrics,
		logger:     logger,
	}
}

// Connect dials the broker with bounded linear backoff and declares the
// queue and prefetch. Fails hard once the attempts are exhausted.
func (c *Consumer) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.ConnectAttempts; attempt++ {
		if lastErr = c.open(); lastErr == nil {
			c.logger.Info("broker connected",
				zap.String("queue", c.cfg.Queue),
				zap.Int("prefetch", c.cfg.Concurrency),
			)
			return nil
		}
		c.logger.Warn("broker connect failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.ConnectAttempts),
			zap.Error(lastErr),
		)
		if attempt == c.cfg.ConnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * connectBaseDelay):
		}
	}
	return fmt.Errorf("broker unreachable after %d attempts: %w", c.cfg.ConnectAttempts, lastErr)
}

// open dials, opens a channel, declares the durable queue and sets the
// prefetch credit.
func (c *Consumer) open() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	// Durable queue, no dead-letter exchange: rejected jobs are dropped.
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(c.cfg.Concurrency, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}
	c.conn = conn
	c.ch = ch
	c.connected.Store(true)
	return nil
}

// Run consumes until ctx is cancelled. A lost channel or connection triggers
// a reconnect loop with a fixed delay, re-declaring queue and prefetch.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.wg.Wait()
	for {
		deliveries, err := c.ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
		if err != nil {
			c.logger.Error("consume failed", zap.Error(err))
		} else {
			c.consume(ctx, deliveries)
		}
		if ctx.Err() != nil {
			return nil
		}

		c.connected.Store(false)
		c.logger.Warn("broker connection lost, reconnecting",
			zap.Duration("delay", c.cfg.ReconnectDelay),
		)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.ReconnectDelay):
			}
			if err := c.open(); err == nil {
				c.logger.Info("broker reconnected")
				break
			} else {
				c.logger.Warn("reconnect failed", zap.Error(err))
			}
		}
	}
}

// consume drains the delivery stream until it closes or ctx is cancelled.
func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.wg.Add(1)
			go func(d amqp.Delivery) {
				defer c.wg.Done()
				c.handle(ctx, d)
			}(d)
		}
	}
}

// handle processes one delivery. Decode or handler failure rejects the
// message without requeue.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	if c.metrics != nil {
		c.metrics.JobStarted()
	}
	ok := false
	defer func() {
		if c.metrics != nil {
			c.metrics.JobFinished(ok, time.Since(start))
		}
	}()

	job, err := DecodeJob(d.Body)
	if err != nil {
		c.logger.Error("dropping malformed job message", zap.Error(err), zap.ByteString("body", d.Body))
		c.reject(d)
		return
	}

	log := c.logger.With(zap.String("video_id", job.VideoID.String()), zap.String("type", string(job.Type)))
	log.Info("job received")

	if err := c.dispatch(ctx, job); err != nil {
		log.Error("job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		c.reject(d)
		return
	}
	if err := d.Ack(false); err != nil {
		log.Error("ack failed", zap.Error(err))
		return
	}
	ok = true
	log.Info("job completed", zap.Duration("elapsed", time.Since(start)))
}

func (c *Consumer) dispatch(ctx context.Context, job Job) error {
	switch job.Type {
	case JobTypeTranscode:
		return c.transcoder.Process(ctx, job.VideoID, job.InputKey)
	case JobTypeStartLiveStream:
		return c.live.Start(ctx, job.VideoID, job.InputSource)
	case JobTypeStopLiveStream:
		return c.live.Stop(ctx, job.VideoID, job.ConvertToVOD)
	default:
		return fmt.Errorf("no handler for job type %q", job.Type)
	}
}

func (c *Consumer) reject(d amqp.Delivery) {
	if err := d.Nack(false, false); err != nil {
		c.logger.Error("nack failed", zap.Error(err))
	}
}

// Connected reports whether the broker link is currently up.
func (c *Consumer) Connected() bool {
	return c.connected.Load()
}

// Close tears down the channel and connection. Active live sessions must be
// stopped before calling this.
func (c *Consumer) Close() {
	c.connected.Store(false)
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			c.logger.Warn("channel close failed", zap.Error(err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("connection close failed", zap.Error(err))
		}
	}
}
