package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRegistryRecordsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ObjectsSaved.Add(3)
	r.TxnsTotal.WithLabelValues("write", "commit").Inc()

	var m dto.Metric
	require.NoError(t, r.ObjectsSaved.Write(&m))
	require.Equal(t, 3.0, m.GetCounter().GetValue())
}
