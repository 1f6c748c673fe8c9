// Package ingest manages live elementary-stream publishers, coupling the
// bytes a transport receives with stream metadata, lifecycle signaling and
// pipeline dispatch.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/zsiec/demuxkit/media"
)

// ErrStreamExists is returned by Register when the key is already publishing.
var ErrStreamExists = errors.New("ingest: stream key already publishing")

// errConsumerDone closes a stream's pipe once its handler has returned.
var errConsumerDone = errors.New("ingest: stream consumer finished")

// Stats captures connection-level metrics for an ingest stream.
type Stats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Stream is one active publisher. Bytes written to the stream's writer by
// the transport are read by the handler registered with the Registry.
type Stream struct {
	ID        ksuid.KSUID
	Key       string
	StartedAt time.Time
	Format    media.Format

	pr   *io.PipeReader
	pw   *io.PipeWriter
	done chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead increments the byte and read counters, called by the
// transport after each successful socket read.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the remote address of the connection for
// diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Done is closed when the stream is unregistered.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Stats returns a snapshot of connection metrics.
func (s *Stream) Stats() Stats {
	addr, _ := s.remoteAddr.Load().(string)
	return Stats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Handler consumes a stream's bytes until the input ends or it gives up.
type Handler func(s *Stream, input io.Reader) error

// Registry tracks active streams by key and dispatches each new stream to
// its Handler. It is the rendezvous point between the transport layer and
// the demux pipeline.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	streams map[string]*Stream

	onStream Handler
}

// NewRegistry creates a Registry. onStream, if non-nil, runs in its own
// goroutine for every registered stream. A nil logger falls back to
// slog.Default.
func NewRegistry(onStream Handler, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log.With("component", "ingest"),
		streams:  make(map[string]*Stream),
		onStream: onStream,
	}
}

// Register creates a stream for key and returns it with the writer the
// transport should copy received bytes into. Once the handler returns,
// further writes fail so a stalled consumer never blocks the transport.
func (r *Registry) Register(key string, format media.Format) (*Stream, io.Writer, error) {
	pr, pw := io.Pipe()
	stream := &Stream{
		ID:        ksuid.New(),
		Key:       key,
		StartedAt: time.Now(),
		Format:    format,
		pr:        pr,
		pw:        pw,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if _, exists := r.streams[key]; exists {
		r.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %q", ErrStreamExists, key)
	}
	r.streams[key] = stream
	r.mu.Unlock()

	r.log.Info("stream registered", "stream_key", key, "id", stream.ID, "format", format)

	if r.onStream != nil {
		go func() {
			err := r.onStream(stream, pr)
			if err != nil {
				r.log.Warn("stream handler failed", "stream_key", key, "id", stream.ID, "error", err)
			}
			pr.CloseWithError(errConsumerDone)
		}()
	}
	return stream, pw, nil
}

// Unregister removes the stream for key, ending its input and closing
// Done. It is a no-op for unknown keys.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	stream, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if ok {
		stream.pw.Close()
		close(stream.done)
		r.log.Info("stream unregistered", "stream_key", key, "id", stream.ID)
	}
}

// Get returns the stream for key.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// Streams returns the active streams ordered by key.
func (r *Registry) Streams() []*Stream {
	r.mu.RLock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Stream) int { return strings.Compare(a.Key, b.Key) })
	return out
}
