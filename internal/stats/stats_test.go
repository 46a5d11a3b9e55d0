package stats

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestRecordBatch(t *testing.T) {
	c := NewCollector()

	c.RecordBatch(10000, 1_100_000, 90_000)
	c.RecordBatch(10000, 1_100_000, 90_000)
	c.RecordError()

	if got := c.BatchesSent(); got != 2 {
		t.Errorf("BatchesSent() = %d, want 2", got)
	}
	if got := c.LinesSent(); got != 20000 {
		t.Errorf("LinesSent() = %d, want 20000", got)
	}
}

func TestRecordBatchConcurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordBatch(10, 1000, 100)
			}
		}()
	}
	wg.Wait()

	if got := c.BatchesSent(); got != 5000 {
		t.Errorf("BatchesSent() = %d, want 5000", got)
	}
	if got := c.LinesSent(); got != 50000 {
		t.Errorf("LinesSent() = %d, want 50000", got)
	}
}

func TestServeHTTP(t *testing.T) {
	c := NewCollector()
	c.RecordBatch(3, 300, 120)
	c.RecordError()

	rec := httptest.NewRecorder()
	c.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}

	for _, want := range []string{
		"influx_loadgen_batches_sent_total 1",
		"influx_loadgen_lines_sent_total 3",
		"influx_loadgen_bytes_total{compression=\"uncompressed\"} 300",
		"influx_loadgen_bytes_total{compression=\"compressed\"} 120",
		"influx_loadgen_send_errors_total 1",
		"influx_loadgen_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q:\n%s", want, body)
		}
	}
}
