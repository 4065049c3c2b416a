package apilog

import (
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/PentesterFlow/OpenExplorer/internal/logger"
)

// Observer turns the driver's response stream into Log entries and logs the
// first sighting of every endpoint.
type Observer struct {
	log    *Log
	logger *logger.Logger
	now    func() time.Time

	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// NewObserver creates an observer appending to log.
func NewObserver(log *Log, l *logger.Logger) *Observer {
	if l == nil {
		l = logger.Nop()
	}
	return &Observer{
		log:    log,
		logger: l.WithComponent("apilog"),
		now:    time.Now,
		seen:   bloom.NewWithEstimates(10000, 0.001),
	}
}

// Observe handles one response and reports whether it was logged. It is
// safe to call from the driver's event goroutine.
func (o *Observer) Observe(r Response) bool {
	if !IsAPIResponse(r.URL, r.Status, r.ContentType) {
		return false
	}

	method := r.Method
	if method == "" {
		method = "GET"
	}
	o.log.Append(Call{
		URL:         r.URL,
		Method:      method,
		Status:      r.Status,
		ContentType: r.ContentType,
		Timestamp:   o.now(),
	})

	base, _, _ := strings.Cut(r.URL, "?")
	o.mu.Lock()
	known := o.seen.TestAndAddString(method + " " + base)
	o.mu.Unlock()
	if !known {
		o.logger.DiscoveryEvent(method, base, r.Status)
	}
	return true
}

// Log returns the log the observer appends to.
func (o *Observer) Log() *Log {
	return o.log
}
