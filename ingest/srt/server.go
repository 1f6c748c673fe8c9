package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/demuxkit/ingest"
	"github.com/zsiec/demuxkit/media"
)

// srtReadBufferSize is the read buffer for SRT socket reads: ten maximum
// SRT payloads.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// Server accepts incoming SRT publish connections and registers them
// with the ingest registry for demuxing.
type Server struct {
	log      *slog.Logger
	addr     string
	registry *ingest.Registry
}

// NewServer creates an SRT server that listens on addr and registers
// incoming streams with the given registry. If log is nil, slog.Default() is used.
func NewServer(addr string, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		registry: registry,
	}
}

// Start begins accepting SRT publish connections. It blocks until the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		key, _ := parseStreamID(req.StreamID)
		if _, busy := s.registry.Get(key); busy {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		key, format := parseStreamID(conn.StreamID())
		s.log.Info("publish", "stream_key", key, "format", format, "remote", conn.RemoteAddr())

		go s.handleConnection(ctx, conn, key, format)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *srtgo.Conn, key string, format media.Format) {
	defer conn.Close()

	stream, writer, err := s.registry.Register(key, format)
	if err != nil {
		s.log.Warn("rejecting publish", "stream_key", key, "error", err)
		return
	}
	stream.SetRemoteAddr(conn.RemoteAddr().String())

	copyStream(ctx, s.log, conn, stream, writer)

	stats := stream.Stats()
	s.registry.Unregister(key)
	s.log.Info("connection closed", "stream_key", key,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs)
}

// copyStream moves bytes from the SRT connection into the stream's writer
// until either side ends or ctx is cancelled.
func copyStream(ctx context.Context, log *slog.Logger, conn io.Reader, stream *ingest.Stream, writer io.Writer) {
	buf := make([]byte, srtReadBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("read error", "stream_key", stream.Key, "error", err)
			}
			return
		}
		stream.RecordRead(n)
		if _, err := writer.Write(buf[:n]); err != nil {
			log.Debug("pipe write error", "stream_key", stream.Key, "error", err)
			return
		}
	}
}

// parseStreamID extracts the stream key and payload format from an SRT
// stream ID of the form [/][live/]<key>[#adts].
func parseStreamID(streamID string) (string, media.Format) {
	format := media.FormatAC3
	if i := strings.LastIndexByte(streamID, '#'); i >= 0 {
		if f, err := media.ParseFormat(streamID[i+1:]); err == nil {
			format = f
			streamID = streamID[:i]
		}
	}
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default", format
	}
	return streamID, format
}
