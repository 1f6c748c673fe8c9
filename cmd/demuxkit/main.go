// Command demuxkit probes and demultiplexes AC-3/E-AC-3 and ADTS elementary
// streams and QuickTime/MP4 files, and serves live elementary streams over
// SRT.
//
// Usage:
//
//	demuxkit probe [-format auto|ac3|adts] file...
//	demuxkit demux [-format auto|ac3|adts] [-o out] [-dialnorm] file
//	demuxkit serve [-out dir] [-pull addr/key]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "probe":
		err = runProbe(ctx, args)
	case "demux":
		err = runDemux(ctx, args)
	case "serve":
		err = runServe(ctx, args)
	case "version":
		fmt.Println(version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("demuxkit failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: demuxkit <probe|demux|serve|version> [flags] [args]\n")
	fmt.Fprintf(os.Stderr, "Environment: DEBUG, SRT_ADDR, PROBE_WINDOW, PROBE_FRAMES, PROBE_PARALLEL\n")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt reads a positive integer from the environment.
func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(envOr(key, strconv.Itoa(fallback)))
	if err != nil || v <= 0 {
		slog.Warn("ignoring invalid setting", "key", key, "value", os.Getenv(key))
		return fallback
	}
	return v
}
