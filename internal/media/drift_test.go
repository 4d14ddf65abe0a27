package media

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/zalo/netplaycore/internal/metrics"
)

func TestSampleReportsEveryRegisteredSource(t *testing.T) {
	d := NewDriftMonitor("room-sample")
	d.RegisterSource("audio", func() (float64, bool) { return 12.5, true })
	d.RegisterSource("video", func() (float64, bool) { return 0, false })

	d.sample()

	got := testutil.ToFloat64(metrics.MediaDrift.WithLabelValues("room-sample", "audio"))
	assert.Equal(t, 12.5, got)
}

func TestStartAndStopDoNotPanic(t *testing.T) {
	d := NewDriftMonitor("room-lifecycle")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	assert.NotPanics(t, d.Stop)
}
