// Package stats tracks run-level counters for the load generator.
package stats

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/szibis/influx-loadgen/internal/logging"
)

// Collector tracks batches, lines and bytes shipped during a run. All
// counters are atomic; one Collector is shared by every pipeline worker.
type Collector struct {
	batchesSent       atomic.Uint64
	linesSent         atomic.Uint64
	bytesUncompressed atomic.Uint64
	bytesCompressed   atomic.Uint64
	sendErrors        atomic.Uint64

	startTime time.Time
}

// NewCollector creates a Collector with the run clock started.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// RecordBatch records one acknowledged batch: its line count, the payload
// size before encoding and the size that went over the wire.
func (c *Collector) RecordBatch(lines, uncompressedBytes, wireBytes int) {
	c.batchesSent.Add(1)
	c.linesSent.Add(uint64(lines))
	c.bytesUncompressed.Add(uint64(uncompressedBytes))
	c.bytesCompressed.Add(uint64(wireBytes))
}

// RecordError records one failed batch.
func (c *Collector) RecordError() {
	c.sendErrors.Add(1)
}

// BatchesSent returns the number of acknowledged batches.
func (c *Collector) BatchesSent() uint64 {
	return c.batchesSent.Load()
}

// LinesSent returns the number of lines in acknowledged batches.
func (c *Collector) LinesSent() uint64 {
	return c.linesSent.Load()
}

// ServeHTTP implements http.Handler for the Prometheus metrics endpoint.
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP influx_loadgen_batches_sent_total Total number of batches acknowledged by the backend\n")
	fmt.Fprintf(w, "# TYPE influx_loadgen_batches_sent_total counter\n")
	fmt.Fprintf(w, "influx_loadgen_batches_sent_total %d\n", c.batchesSent.Load())

	fmt.Fprintf(w, "# HELP influx_loadgen_lines_sent_total Total number of line-protocol records acknowledged\n")
	fmt.Fprintf(w, "# TYPE influx_loadgen_lines_sent_total counter\n")
	fmt.Fprintf(w, "influx_loadgen_lines_sent_total %d\n", c.linesSent.Load())

	fmt.Fprintf(w, "# HELP influx_loadgen_bytes_total Total payload bytes by compression state\n")
	fmt.Fprintf(w, "# TYPE influx_loadgen_bytes_total counter\n")
	fmt.Fprintf(w, "influx_loadgen_bytes_total{compression=\"uncompressed\"} %d\n", c.bytesUncompressed.Load())
	fmt.Fprintf(w, "influx_loadgen_bytes_total{compression=\"compressed\"} %d\n", c.bytesCompressed.Load())

	fmt.Fprintf(w, "# HELP influx_loadgen_send_errors_total Total number of batches that failed fatally\n")
	fmt.Fprintf(w, "# TYPE influx_loadgen_send_errors_total counter\n")
	fmt.Fprintf(w, "influx_loadgen_send_errors_total %d\n", c.sendErrors.Load())

	fmt.Fprintf(w, "# HELP influx_loadgen_uptime_seconds Run duration in seconds\n")
	fmt.Fprintf(w, "# TYPE influx_loadgen_uptime_seconds gauge\n")
	fmt.Fprintf(w, "influx_loadgen_uptime_seconds %.0f\n", time.Since(c.startTime).Seconds())
}

// StartPeriodicLogging logs run progress at the given interval until ctx is
// cancelled.
func (c *Collector) StartPeriodicLogging(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(c.startTime).Seconds()
			batches := c.batchesSent.Load()
			lines := c.linesSent.Load()
			var rate float64
			if elapsed > 0 {
				rate = float64(lines) / elapsed
			}
			logging.Info("run progress", logging.F(
				"batches_sent", batches,
				"lines_sent", lines,
				"bytes_uncompressed", c.bytesUncompressed.Load(),
				"bytes_wire", c.bytesCompressed.Load(),
				"send_errors", c.sendErrors.Load(),
				"lines_per_sec", fmt.Sprintf("%.0f", rate),
			))
		}
	}
}
