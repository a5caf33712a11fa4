package metrics_test

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/m-lab/muacc/metrics"
)

func counterValue(t *testing.T, c interface {
	Write(*dto.Metric) error
}) float64 {
	t.Helper()
	var mm dto.Metric
	if err := c.Write(&mm); err != nil {
		t.Fatalf("Write: %v", err)
	}
	ctr := mm.GetCounter()
	if ctr == nil {
		t.Fatal("metric has no counter value")
	}
	return ctr.GetValue()
}

func TestFallbackTotalIncrements(t *testing.T) {
	c := metrics.FallbackTotal.WithLabelValues("connect", "daemon_unreachable")
	before := counterValue(t, c)
	c.Inc()
	after := counterValue(t, c)
	if after != before+1 {
		t.Fatalf("counter went from %v to %v, want +1", before, after)
	}
}

func TestContextBusyTotalIncrements(t *testing.T) {
	c := metrics.ContextBusyTotal.WithLabelValues("bind")
	before := counterValue(t, c)
	c.Inc()
	after := counterValue(t, c)
	if after != before+1 {
		t.Fatalf("counter went from %v to %v, want +1", before, after)
	}
}

func TestSocketSetCountGaugeSettable(t *testing.T) {
	metrics.SocketSetCount.Set(3)
	var mm dto.Metric
	if err := metrics.SocketSetCount.Write(&mm); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if mm.GetGauge().GetValue() != 3 {
		t.Fatalf("gauge value = %v, want 3", mm.GetGauge().GetValue())
	}
}
