// Package pprofutil optionally exposes Go's profiler while a node runs.
// Profiling is opt-in via PEERGRAM_PPROF=1 and the listener only ever binds
// loopback: a node holds sockets to untrusted peers, so the debug surface
// must not be reachable from the network.
package pprofutil

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	envEnable   = "PEERGRAM_PPROF"
	envAddr     = "PEERGRAM_PPROF_ADDR"
	defaultAddr = "127.0.0.1:6060"
)

var (
	once      sync.Once
	boundAddr string
	startErr  error
)

// Enabled reports whether profiling was requested for this process.
func Enabled() bool {
	return strings.TrimSpace(os.Getenv(envEnable)) == "1"
}

// StartFromEnv starts the profiler server once and returns its bound address.
// When profiling is not enabled it returns "" and nil.
func StartFromEnv(logw io.Writer) (string, error) {
	if !Enabled() {
		return "", nil
	}
	once.Do(func() {
		boundAddr, startErr = serve(logw)
	})
	return boundAddr, startErr
}

func serve(logw io.Writer) (string, error) {
	bind := strings.TrimSpace(os.Getenv(envAddr))
	if bind == "" {
		bind = defaultAddr
	}
	if !loopback(bind) {
		return "", fmt.Errorf("pprof: refusing non-loopback bind %s", bind)
	}
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return "", fmt.Errorf("pprof: listen %s: %w", bind, err)
	}
	// Dedicated mux; nothing else in the process serves HTTP, and the pprof
	// blank import would register on the shared DefaultServeMux.
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = srv.Serve(ln)
	}()
	got := ln.Addr().String()
	if logw != nil {
		fmt.Fprintf(logw, "pprof listening on http://%s/debug/pprof/\n", got)
	}
	return got, nil
}

func loopback(bind string) bool {
	host, _, err := net.SplitHostPort(bind)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
