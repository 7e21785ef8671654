package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kotaAnuj/PeerGram/internal/cache"
	"github.com/kotaAnuj/PeerGram/internal/ledger"
	"github.com/kotaAnuj/PeerGram/internal/mesh"
	"github.com/kotaAnuj/PeerGram/internal/metrics"
	"github.com/kotaAnuj/PeerGram/internal/pprofutil"
	"github.com/kotaAnuj/PeerGram/internal/proto"
	"github.com/kotaAnuj/PeerGram/internal/signal"
	"github.com/kotaAnuj/PeerGram/internal/transport"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "run":
		return runNode(args[1:], stdout, stderr)
	case "peers":
		return runPeers(args[1:], stdout, stderr)
	case "stats":
		return runStats(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "peergram-node dev")
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: peergram-node <run|peers|stats|version> [args]")
	fmt.Fprintln(w, "  run   --signal <ws://host:port/ws> --user <id> [--listen <ip:port>] [--ledger <http://host>] [--debug]")
	fmt.Fprintln(w, "  peers --ledger <http://host> --user <id>")
	fmt.Fprintln(w, "  stats [--path <metrics.json>]")
	fmt.Fprintln(w, "  version")
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return filepath.Join(h, ".peergram")
}

func defaultStatsPath() string {
	return filepath.Join(homeDir(), "metrics.json")
}

// runPeers lists this user's mesh connections as the ledger last saw them.
func runPeers(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("peers", flag.ContinueOnError)
	fs.SetOutput(stderr)
	ledgerURL := fs.String("ledger", "", "server ledger base URL")
	userID := fs.Int64("user", 0, "application user id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *ledgerURL == "" {
		fmt.Fprintln(stderr, "missing --ledger")
		return 1
	}
	if *userID == 0 {
		fmt.Fprintln(stderr, "missing --user")
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conns, err := ledger.New(*ledgerURL).GetConnections(ctx, *userID)
	if err != nil {
		fmt.Fprintf(stderr, "peers: %v\n", err)
		return 1
	}
	for _, c := range conns {
		strength := c.Strength
		if strength == "" {
			strength = "unknown"
		}
		fmt.Fprintf(stdout, "%s strength=%s connected=%v\n", c.PeerID, strength, c.Connected)
	}
	return 0
}

// runStats prints the snapshot the node periodically writes while running.
func runStats(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("path", defaultStatsPath(), "metrics snapshot path")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	snap, err := metrics.ReadSnapshot(*path)
	if err != nil {
		fmt.Fprintf(stderr, "stats: no snapshot at %s: %v\n", *path, err)
		return 1
	}
	fmt.Fprintf(stdout, "snapshot from %s\n", snap.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(stdout, "  dials: attempts=%d success=%d failures=%d timeouts=%d reconnects=%d\n",
		snap.Dial.Attempts, snap.Dial.Success, snap.Dial.Failures, snap.Dial.Timeouts, snap.Dial.Reconnects)
	fmt.Fprintf(stdout, "  frames: in=%d out=%d pings=%d pongs=%d\n",
		snap.Mesh.FramesIn, snap.Mesh.FramesOut, snap.Mesh.PingsSent, snap.Mesh.PongsReceived)
	fmt.Fprintf(stdout, "  quality: tier_changes=%d\n", snap.Mesh.TierChanges)
	fmt.Fprintf(stdout, "  signaling: reconnects=%d\n", snap.Mesh.SignalReconnects)
	fmt.Fprintf(stdout, "  cache: hits=%d misses=%d\n", snap.Mesh.CacheHits, snap.Mesh.CacheMisses)
	fmt.Fprintf(stdout, "  ledger: errors=%d\n", snap.Mesh.LedgerErrors)
	return 0
}

func runNode(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	signalURL := fs.String("signal", "", "signaling server websocket URL")
	listen := fs.String("listen", "0.0.0.0:0", "data channel listen addr (host:port)")
	userID := fs.Int64("user", 0, "application user id")
	ledgerURL := fs.String("ledger", "", "server ledger base URL (optional)")
	cacheSize := fs.Int("cache", cache.DefaultSize, "content cache entries")
	statsPath := fs.String("stats", defaultStatsPath(), "write a metrics snapshot here on exit")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *signalURL == "" {
		fmt.Fprintln(stderr, "missing --signal")
		return 1
	}
	if *userID == 0 {
		fmt.Fprintln(stderr, "missing --user")
		return 1
	}
	if *debug {
		_ = os.Setenv("PEERGRAM_DEBUG", "1")
	}
	if _, err := pprofutil.StartFromEnv(stderr); err != nil {
		fmt.Fprintf(stderr, "pprof: %v\n", err)
	}

	tr, err := transport.ListenQUIC(*listen)
	if err != nil {
		fmt.Fprintf(stderr, "listen: %v\n", err)
		return 1
	}
	cc, err := cache.New(*cacheSize)
	if err != nil {
		fmt.Fprintf(stderr, "cache: %v\n", err)
		return 1
	}
	m := metrics.New()

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sig := signal.Dial(ctx, *signalURL, *userID, tr.Addr(), m)
	cfg := mesh.Config{
		UserID:    *userID,
		Transport: tr,
		Signaler:  sig,
		Cache:     cc,
		Metrics:   m,
	}
	if *ledgerURL != "" {
		cfg.Ledger = ledger.New(*ledgerURL)
	}
	mgr := mesh.New(cfg)
	if err := mgr.Init(); err != nil {
		fmt.Fprintf(stderr, "init: %v\n", err)
		return 1
	}

	mgr.OnPeer(func(ev mesh.PeerEvent) {
		if ev.Connected {
			fmt.Fprintf(stdout, "peer connected: %s (user %d)\n", ev.PeerID, ev.UserID)
		} else {
			fmt.Fprintf(stdout, "peer disconnected: %s\n", ev.PeerID)
		}
	})
	mgr.OnTier(func(ev mesh.TierEvent) {
		fmt.Fprintf(stdout, "peer %s quality %s (rtt %s)\n", ev.PeerID, ev.Tier, ev.RTT)
	})
	mgr.OnFrame(func(ev mesh.FrameEvent) {
		if msg, ok := ev.Frame.(proto.Message); ok {
			fmt.Fprintf(stdout, "[%d] %s\n", msg.SenderID, msg.Content)
		}
	})

	fmt.Fprintf(stdout, "peergram node up: data %s, signaling %s\n", tr.Addr(), *signalURL)
	<-ctx.Done()

	fmt.Fprintln(stdout, "shutting down")
	mgr.Cleanup()
	if *statsPath != "" {
		_ = os.MkdirAll(filepath.Dir(*statsPath), 0700)
	}
	if err := m.WriteSnapshot(*statsPath); err != nil {
		fmt.Fprintf(stderr, "stats: %v\n", err)
	}
	return 0
}
