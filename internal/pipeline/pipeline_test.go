package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/szibis/influx-loadgen/internal/compression"
	"github.com/szibis/influx-loadgen/internal/exporter"
	"github.com/szibis/influx-loadgen/internal/generator"
	"github.com/szibis/influx-loadgen/internal/stats"
)

// fakeGenerator produces trivial payloads and can fail on demand.
type fakeGenerator struct {
	inflight *gauge
	failAt   int64 // fail on this call number (1-based), 0 = never
	calls    atomic.Int64
}

func (g *fakeGenerator) Generate(ctx context.Context, lines int) ([]byte, error) {
	if g.inflight != nil {
		g.inflight.enter()
	}
	n := g.calls.Add(1)
	if g.failAt > 0 && n == g.failAt {
		return nil, errors.New("bad record format")
	}
	var buf bytes.Buffer
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&buf, "table,tag=a field_b=true %d\n", i)
	}
	return buf.Bytes(), nil
}

// fakeSender records sends, sleeps a varied amount, and can fail on demand.
type fakeSender struct {
	inflight *gauge
	failAt   int64 // fail on this call number (1-based), 0 = never
	maxSleep time.Duration
	calls    atomic.Int64
}

func (s *fakeSender) Send(ctx context.Context, p exporter.Payload) error {
	defer func() {
		if s.inflight != nil {
			s.inflight.leave()
		}
	}()
	if s.maxSleep > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(s.maxSleep)))) //nolint:gosec // test jitter
	}
	if n := s.calls.Add(1); s.failAt > 0 && n == s.failAt {
		return &exporter.UploadError{Type: exporter.ErrorTypeClientError, StatusCode: 404}
	}
	return nil
}

// gauge tracks the number of units between generation start and send
// completion, and the maximum ever observed.
type gauge struct {
	mu      sync.Mutex
	current int
	max     int
}

func (g *gauge) enter() {
	g.mu.Lock()
	g.current++
	if g.current > g.max {
		g.max = g.current
	}
	g.mu.Unlock()
}

func (g *gauge) leave() {
	g.mu.Lock()
	g.current--
	g.mu.Unlock()
}

func (g *gauge) observedMax() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}

// orderObserver records the order successes are reported in.
type orderObserver struct {
	mu      sync.Mutex
	indices []uint64
}

func (o *orderObserver) BatchSent(index uint64) {
	o.mu.Lock()
	o.indices = append(o.indices, index)
	o.mu.Unlock()
}

func (o *orderObserver) seen() []uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]uint64(nil), o.indices...)
}

func TestRunReportsOutcomesInIssuanceOrder(t *testing.T) {
	obs := &orderObserver{}
	p := New(
		&fakeGenerator{},
		&fakeSender{maxSleep: 30 * time.Millisecond},
		obs,
		nil,
		Config{Lines: 5, Batches: 6, Concurrency: 3},
	)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := obs.seen()
	if len(got) != 6 {
		t.Fatalf("observer saw %d batches, want 6: %v", len(got), got)
	}
	for i, idx := range got {
		if idx != uint64(i) {
			t.Fatalf("outcome order = %v, want 0..5 in order", got)
		}
	}
}

func TestRunConcurrencyCeiling(t *testing.T) {
	for _, limit := range []int{1, 3} {
		t.Run(fmt.Sprintf("limit_%d", limit), func(t *testing.T) {
			g := &gauge{}
			p := New(
				&fakeGenerator{inflight: g},
				&fakeSender{inflight: g, maxSleep: 5 * time.Millisecond},
				nil,
				nil,
				Config{Lines: 2, Batches: 20, Concurrency: limit},
			)

			if err := p.Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if max := g.observedMax(); max > limit {
				t.Errorf("observed %d units in flight, limit %d", max, limit)
			}
		})
	}
}

func TestRunFailFastOnSendError(t *testing.T) {
	obs := &orderObserver{}
	sender := &fakeSender{failAt: 3}
	p := New(
		&fakeGenerator{},
		sender,
		obs,
		nil,
		// Unbounded stream: only fail-fast admission control lets Run return.
		Config{Lines: 1, Batches: 0, Concurrency: 2},
	)

	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("Run() = nil, want the fatal send error")
	}
	var ue *exporter.UploadError
	if !errors.As(err, &ue) || ue.StatusCode != 404 {
		t.Errorf("surfaced error = %v, want the 404 upload error", err)
	}

	// Successes must form a contiguous prefix of the issued indices.
	for i, idx := range obs.seen() {
		if idx != uint64(i) {
			t.Errorf("success order = %v, want contiguous prefix", obs.seen())
			break
		}
	}
}

func TestRunFailFastOnGenerationError(t *testing.T) {
	collector := stats.NewCollector()
	p := New(
		&fakeGenerator{failAt: 2},
		&fakeSender{},
		nil,
		collector,
		Config{Lines: 1, Batches: 10, Concurrency: 2},
	)

	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("Run() = nil, want generation error")
	}
	if !strings.Contains(err.Error(), "generate batch") {
		t.Errorf("error %q lacks stage context", err.Error())
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sender := &fakeSender{maxSleep: 2 * time.Millisecond}
	p := New(
		&fakeGenerator{},
		sender,
		nil,
		nil,
		Config{Lines: 1, Batches: 0, Concurrency: 4},
	)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() after cancel = %v, want nil or context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancellation")
	}
}

var linePattern = regexp.MustCompile(
	`^table,tag=[A-Za-z] field_s="[A-Za-z]{8}",field_i=-?\d+i,field_u=\d+u,field_f=[^,]+,field_b=(true|false) \d+$`)

func TestRunEndToEnd(t *testing.T) {
	type received struct {
		encoding string
		body     []byte
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{encoding: r.Header.Get("Content-Encoding"), body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exp, err := exporter.New(exporter.Config{
		URL:    srv.URL,
		Org:    "org",
		Bucket: "bucket",
		Token:  "tok",
		Retry:  exporter.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("exporter.New() error = %v", err)
	}
	defer exp.Close()

	collector := stats.NewCollector()
	obs := &orderObserver{}
	p := New(
		generator.New(),
		exp,
		obs,
		collector,
		Config{Lines: 3, Batches: 1, Concurrency: 1, Compression: compression.LevelNone},
	)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	select {
	case r := <-got:
		if r.encoding != "identity" {
			t.Errorf("Content-Encoding = %q, want identity", r.encoding)
		}
		lines := strings.Split(strings.TrimSuffix(string(r.body), "\n"), "\n")
		if len(lines) != 3 {
			t.Fatalf("body has %d lines, want 3:\n%s", len(lines), r.body)
		}
		for i, line := range lines {
			if !linePattern.MatchString(line) {
				t.Errorf("line %d does not match schema: %q", i, line)
			}
		}
	default:
		t.Fatal("server saw no request")
	}

	if seen := obs.seen(); len(seen) != 1 || seen[0] != 0 {
		t.Errorf("observer saw %v, want [0]", seen)
	}
	if collector.BatchesSent() != 1 || collector.LinesSent() != 3 {
		t.Errorf("collector = %d batches / %d lines, want 1/3",
			collector.BatchesSent(), collector.LinesSent())
	}
}

func TestRunGzipEndToEnd(t *testing.T) {
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if enc := r.Header.Get("Content-Encoding"); enc != "gzip" {
			t.Errorf("Content-Encoding = %q, want gzip", enc)
		}
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	exp, err := exporter.New(exporter.Config{URL: srv.URL, Org: "o", Bucket: "b", Token: "t"})
	if err != nil {
		t.Fatalf("exporter.New() error = %v", err)
	}
	defer exp.Close()

	p := New(generator.New(), exp, nil, nil,
		Config{Lines: 10, Batches: 1, Concurrency: 1, Compression: compression.LevelFastest})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	body := <-bodies
	plain, err := compression.Decode(body, "gzip")
	if err != nil {
		t.Fatalf("received body is not valid gzip: %v", err)
	}
	if n := bytes.Count(plain, []byte("\n")); n != 10 {
		t.Errorf("decoded body has %d lines, want 10", n)
	}
}
