package idv

import (
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hasanmaki/mkit-idv-next/internal/metrics"
)

// Factory hands out one Client per upstream base URL. All clients
// share a global in-flight cap; each client has its own per-server cap.
type Factory struct {
	mu      sync.Mutex
	clients map[string]*Client

	timeout      time.Duration
	retries      int
	perServerCap int64
	globalSem    *semaphore.Weighted
	collector    *metrics.Collector
}

func NewFactory(timeout time.Duration, retries int, globalCap, perServerCap int64, collector *metrics.Collector) *Factory {
	if globalCap <= 0 {
		globalCap = 50
	}
	return &Factory{
		clients:      make(map[string]*Client),
		timeout:      timeout,
		retries:      retries,
		perServerCap: perServerCap,
		globalSem:    semaphore.NewWeighted(globalCap),
		collector:    collector,
	}
}

func (f *Factory) Get(baseURL string) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[baseURL]; ok {
		return c
	}
	c := NewClient(baseURL, Options{
		Timeout:      f.timeout,
		Retries:      f.retries,
		GlobalSem:    f.globalSem,
		PerServerCap: f.perServerCap,
		Collector:    f.collector,
	})
	f.clients[baseURL] = c
	return c
}
