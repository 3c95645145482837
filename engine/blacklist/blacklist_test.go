package blacklist

import (
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powelleric/cromwell/engine/metrics"
)

func counterValue(t *testing.T, vec *prom.CounterVec, label string) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, vec.WithLabelValues(label).Write(m))
	return m.GetCounter().GetValue()
}

func TestCacheHitStatus(t *testing.T) {
	t.Run("Should return Untested for an unwritten hit", func(t *testing.T) {
		c := New(DefaultConfig(), nil)
		assert.Equal(t, Untested, c.HitStatus("hit-1"))
	})

	t.Run("Should return Untested when hit lookups are disabled", func(t *testing.T) {
		c := New(Config{HitEnabled: false, BucketEnabled: true}, nil)
		c.MarkHit("hit-1", Bad, "local")
		assert.Equal(t, Untested, c.HitStatus("hit-1"))
	})

	t.Run("Should record Good and Bad writes", func(t *testing.T) {
		c := New(DefaultConfig(), nil)
		c.MarkHit("hit-1", Good, "local")
		assert.Equal(t, Good, c.HitStatus("hit-1"))
		c.MarkHit("hit-1", Bad, "local")
		assert.Equal(t, Bad, c.HitStatus("hit-1"))
	})

	t.Run("Should never regress a Bad hit back to Good", func(t *testing.T) {
		c := New(DefaultConfig(), nil)
		c.MarkHit("hit-1", Bad, "local")
		c.MarkHit("hit-1", Good, "local")
		assert.Equal(t, Bad, c.HitStatus("hit-1"))
	})
}

func TestCacheBucketStatus(t *testing.T) {
	t.Run("Should return Untested when bucket lookups are disabled", func(t *testing.T) {
		c := New(Config{HitEnabled: true, BucketEnabled: false}, nil)
		c.MarkBucket("gs://bucket/prefix", Bad, "local")
		assert.Equal(t, Untested, c.BucketStatus("gs://bucket/prefix"))
	})

	t.Run("Should never regress a Bad bucket back to Untested", func(t *testing.T) {
		c := New(DefaultConfig(), nil)
		c.MarkBucket("gs://bucket/prefix", Bad, "local")
		c.MarkBucket("gs://bucket/prefix", Untested, "local")
		assert.Equal(t, Bad, c.BucketStatus("gs://bucket/prefix"))
	})
}

func TestCacheMetrics(t *testing.T) {
	t.Run("Should increment the Bad counter exactly once per transition into Bad", func(t *testing.T) {
		met := metrics.New()
		c := New(DefaultConfig(), met)

		c.MarkHit("hit-1", Bad, "local")
		c.MarkHit("hit-1", Bad, "local")
		c.MarkHit("hit-1", Bad, "local")

		assert.InDelta(t, 1, counterValue(t, met.BlacklistHitBad, "local"), 0)
	})

	t.Run("Should not increment the counter for Good or Untested writes", func(t *testing.T) {
		met := metrics.New()
		c := New(DefaultConfig(), met)

		c.MarkBucket("gs://bucket/prefix", Good, "local")
		c.MarkBucket("gs://bucket/prefix", Untested, "local")

		assert.InDelta(t, 0, counterValue(t, met.BlacklistBucketBad, "local"), 0)
	})

	t.Run("Should count Bad transitions separately per backend label", func(t *testing.T) {
		met := metrics.New()
		c := New(DefaultConfig(), met)

		c.MarkHit("hit-1", Bad, "local")
		c.MarkHit("hit-2", Bad, "gcs")

		assert.InDelta(t, 1, counterValue(t, met.BlacklistHitBad, "local"), 0)
		assert.InDelta(t, 1, counterValue(t, met.BlacklistHitBad, "gcs"), 0)
	})
}
