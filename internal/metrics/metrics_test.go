package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	first := scraperCyclesTotal
	Init()
	if scraperCyclesTotal != first {
		t.Fatal("Init() replaced collectors on the second call")
	}
}

func TestObserveCycleLabelsResult(t *testing.T) {
	Init()
	okBefore := testutil.ToFloat64(scraperCyclesTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(scraperCyclesTotal.WithLabelValues("error"))

	ObserveCycle(false, 2*time.Second)
	ObserveCycle(true, time.Millisecond)

	if got := testutil.ToFloat64(scraperCyclesTotal.WithLabelValues("ok")) - okBefore; got != 1 {
		t.Errorf("expected one ok cycle, got %f", got)
	}
	if got := testutil.ToFloat64(scraperCyclesTotal.WithLabelValues("error")) - errBefore; got != 1 {
		t.Errorf("expected one failed cycle, got %f", got)
	}
}

func TestObserveItemsSkipsZeroCounts(t *testing.T) {
	Init()
	before := testutil.ToFloat64(scraperItemsTotal.WithLabelValues("inserted"))
	dupBefore := testutil.ToFloat64(scraperItemsTotal.WithLabelValues("duplicate"))

	ObserveItems(3, 0, 0)
	ObserveItems(0, 2, 1)

	if got := testutil.ToFloat64(scraperItemsTotal.WithLabelValues("inserted")) - before; got != 3 {
		t.Errorf("expected 3 inserted, got %f", got)
	}
	if got := testutil.ToFloat64(scraperItemsTotal.WithLabelValues("duplicate")) - dupBefore; got != 2 {
		t.Errorf("expected 2 duplicates, got %f", got)
	}
}

func TestSubscribersGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(fanoutSubscribers)
	AddSubscribers(2)
	AddSubscribers(-1)
	if got := testutil.ToFloat64(fanoutSubscribers) - before; got != 1 {
		t.Errorf("expected gauge to move by 1, got %f", got)
	}
}

func TestObserveRelayBatch(t *testing.T) {
	Init()
	before := testutil.ToFloat64(relaySinkBatchesTotal.WithLabelValues("redis", "error"))
	ObserveRelayBatch("redis", errors.New("connection refused"))
	if got := testutil.ToFloat64(relaySinkBatchesTotal.WithLabelValues("redis", "error")) - before; got != 1 {
		t.Errorf("expected one failed redis batch, got %f", got)
	}
}
