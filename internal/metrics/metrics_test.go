package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.TransactionStarted()
	c.TransactionStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(c.active))

	c.Operation("insert")
	c.Operation("insert")
	c.Operation("update")
	c.Conflict("row_deleted")
	c.TransactionFinished(OutcomeCommitted, "read_committed", 10*time.Millisecond)
	c.TransactionFinished(OutcomeConflict, "serializable", time.Millisecond)

	assert.Equal(t, float64(0), testutil.ToFloat64(c.active))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.ops.WithLabelValues("insert")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.ops.WithLabelValues("update")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.conflicts.WithLabelValues("row_deleted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.commits.WithLabelValues(OutcomeCommitted)))
	assert.Equal(t, 2, testutil.CollectAndCount(c.duration))

	n, err := testutil.GatherAndCount(reg, "unitwork_commits_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCollector_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)

	_, err = NewCollector(reg)
	assert.Error(t, err)
}
