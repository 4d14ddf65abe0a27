package media

import (
	"context"
	"sync"
	"time"

	"github.com/zalo/netplaycore/internal/metrics"
)

// driftSampleInterval is how often the drift monitor samples and reports.
const driftSampleInterval = 5 * time.Second

// DriftSource reports the measured drift, in milliseconds, for one media
// kind; supplied by the embedder since actual drift measurement depends
// on the audio/video pipeline outside this package's scope.
type DriftSource func() (ms float64, ok bool)

// DriftMonitor periodically samples drift sources and reports them to
// metrics, for a single room.
type DriftMonitor struct {
	roomID  string
	sources map[string]DriftSource

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewDriftMonitor creates a monitor for roomID with no sources registered.
func NewDriftMonitor(roomID string) *DriftMonitor {
	return &DriftMonitor{roomID: roomID, sources: make(map[string]DriftSource)}
}

// RegisterSource attaches a drift source under a label (e.g. "audio",
// "video").
func (d *DriftMonitor) RegisterSource(kind string, src DriftSource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources[kind] = src
}

// Start begins the 5s sampling loop; Stop cancels it.
func (d *DriftMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	go func() {
		ticker := time.NewTicker(driftSampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.sample()
			}
		}
	}()
}

// Stop halts the sampling loop.
func (d *DriftMonitor) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *DriftMonitor) sample() {
	d.mu.Lock()
	sources := make(map[string]DriftSource, len(d.sources))
	for k, v := range d.sources {
		sources[k] = v
	}
	d.mu.Unlock()

	for kind, src := range sources {
		if ms, ok := src(); ok {
			metrics.MediaDrift.WithLabelValues(d.roomID, kind).Set(ms)
		}
	}
}
