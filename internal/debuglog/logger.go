package debuglog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

const queueSize = 1024

type logger struct {
	once sync.Once
	ch   chan string
}

var (
	global  logger
	rlMu    sync.Mutex
	rlLast  = make(map[string]time.Time)
	rlSweep = time.Now()
)

// Enabled reports whether debug logging is on (PEERGRAM_DEBUG=1).
func Enabled() bool {
	return os.Getenv("PEERGRAM_DEBUG") == "1"
}

func (l *logger) start() {
	l.once.Do(func() {
		l.ch = make(chan string, queueSize)
		go func() {
			for msg := range l.ch {
				_, _ = os.Stderr.WriteString(msg)
			}
		}()
	})
}

// Logf writes unconditionally; in debug mode it goes through the async queue
// so mesh goroutines never block on a slow stderr.
func Logf(format string, args ...any) {
	msg := fmt.Sprintf(format+"\n", args...)
	if !Enabled() {
		_, _ = os.Stderr.WriteString(msg)
		return
	}
	global.start()
	select {
	case global.ch <- msg:
	default:
		// Drop when saturated; losing a debug line beats stalling a read loop.
	}
}

// Debugf writes only when debug logging is enabled.
func Debugf(format string, args ...any) {
	if !Enabled() {
		return
	}
	Logf(format, args...)
}

// RateLimitedf writes at most once per interval for a given key.
func RateLimitedf(key string, interval time.Duration, format string, args ...any) {
	if !Enabled() || key == "" {
		return
	}
	now := time.Now()
	rlMu.Lock()
	last := rlLast[key]
	if now.Sub(last) < interval {
		rlMu.Unlock()
		return
	}
	rlLast[key] = now
	if now.Sub(rlSweep) > 2*interval {
		for k, ts := range rlLast {
			if now.Sub(ts) > 4*interval {
				delete(rlLast, k)
			}
		}
		rlSweep = now
	}
	rlMu.Unlock()
	Logf(format, args...)
}
