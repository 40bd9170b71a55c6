package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.Ingested()
	c.Ingested()
	c.Skipped()
	c.Failed("stitch")
	c.Received(5)
	c.DecodeFailed()
	c.BusError("fetch")
	c.Acked(5)
	c.PollSucceeded(42)
	c.PollFailed()
	c.Published(40)
	c.TracksClosed(3)
	c.Request("list_flights", 200)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ingested))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.skipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failed.WithLabelValues("stitch")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.received))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.busErrors.WithLabelValues("fetch")))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.pollAircraft))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pollCalls.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.tracksClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.apiRequests.WithLabelValues("list_flights", "200")))

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["miltracker_events_ingested_total"])
	assert.True(t, names["go_goroutines"])
}
