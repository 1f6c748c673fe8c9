package srt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/demuxkit/ingest"
	"github.com/zsiec/demuxkit/media"
)

// dialTimeout bounds how long Pull waits for the remote listener.
const dialTimeout = 10 * time.Second

// ErrPullActive is returned when a pull for the same stream key is running.
var ErrPullActive = errors.New("srt: pull already active")

// PullRequest describes a remote SRT source to pull from.
type PullRequest struct {
	Address   string       `json:"address"`
	StreamKey string       `json:"streamKey"`
	StreamID  string       `json:"streamId,omitempty"`
	Format    media.Format `json:"format,omitempty"`
}

type activePull struct {
	req    PullRequest
	cancel context.CancelFunc
}

// Caller manages SRT pull connections, dialing remote SRT sources
// and streaming their data into the ingest registry.
type Caller struct {
	log      *slog.Logger
	registry *ingest.Registry

	mu    sync.Mutex
	pulls map[string]*activePull
}

// NewCaller creates a Caller that uses the given registry to register
// pulled streams. If log is nil, slog.Default() is used.
func NewCaller(registry *ingest.Registry, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		log:      log.With("component", "srt-caller"),
		registry: registry,
		pulls:    make(map[string]*activePull),
	}
}

// Pull dials the remote SRT listener synchronously (with a timeout),
// returning an error if the connection fails. On success, streaming
// continues in a background goroutine. A zero Format is taken from the
// stream ID.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if req.Address == "" {
		return errors.New("srt: address is required")
	}
	if req.StreamKey == "" {
		return errors.New("srt: streamKey is required")
	}

	c.mu.Lock()
	_, exists := c.pulls[req.StreamKey]
	c.mu.Unlock()
	if exists {
		return fmt.Errorf("%w: %q", ErrPullActive, req.StreamKey)
	}

	streamID := req.StreamID
	if streamID == "" {
		streamID = "live/" + req.StreamKey
		if req.Format == media.FormatADTS {
			streamID += "#adts"
		}
	}
	if req.Format == media.FormatUnknown {
		_, req.Format = parseStreamID(streamID)
	}

	c.log.Info("dialing", "address", req.Address, "stream_key", req.StreamKey, "format", req.Format)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = streamID

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	// drain closes a connection that completes after Pull has given up.
	drain := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("SRT dial failed: %w", res.err)
		}
		return c.startStreaming(ctx, req, res.conn)
	case <-timer.C:
		drain()
		return fmt.Errorf("SRT dial timed out after %s", dialTimeout)
	case <-ctx.Done():
		drain()
		return ctx.Err()
	}
}

func (c *Caller) startStreaming(ctx context.Context, req PullRequest, conn *srtgo.Conn) error {
	c.mu.Lock()
	if _, exists := c.pulls[req.StreamKey]; exists {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: %q", ErrPullActive, req.StreamKey)
	}
	stream, writer, err := c.registry.Register(req.StreamKey, req.Format)
	if err != nil {
		c.mu.Unlock()
		conn.Close()
		return err
	}
	pullCtx, cancel := context.WithCancel(ctx)
	c.pulls[req.StreamKey] = &activePull{req: req, cancel: cancel}
	c.mu.Unlock()

	c.log.Info("connected", "address", req.Address, "stream_key", req.StreamKey)
	stream.SetRemoteAddr(req.Address)

	go func() {
		defer func() {
			cancel()
			conn.Close()
			stats := stream.Stats()
			c.registry.Unregister(req.StreamKey)
			c.mu.Lock()
			delete(c.pulls, req.StreamKey)
			c.mu.Unlock()
			c.log.Info("pull ended", "stream_key", req.StreamKey,
				"bytes", stats.BytesReceived, "reads", stats.ReadCount,
				"uptime_ms", stats.UptimeMs)
		}()
		copyStream(pullCtx, c.log, conn, stream, writer)
	}()

	return nil
}

// Stop cancels the pull for streamKey.
func (c *Caller) Stop(streamKey string) error {
	c.mu.Lock()
	ap, ok := c.pulls[streamKey]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("srt: no active pull for stream key %q", streamKey)
	}

	ap.cancel()
	return nil
}

// ActivePulls lists the running pulls.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PullRequest, 0, len(c.pulls))
	for _, ap := range c.pulls {
		out = append(out, ap.req)
	}
	return out
}
