package httpd

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fluxorio/webpool/pkg/core"
	"github.com/fluxorio/webpool/pkg/core/concurrency"
	"github.com/fluxorio/webpool/pkg/events"
	"github.com/fluxorio/webpool/pkg/tcp"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.AccessEvent
}

func (p *recordingPublisher) Publish(ev events.AccessEvent) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) snapshot() []events.AccessEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.AccessEvent(nil), p.events...)
}

type recordingRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingRecorder) RecordRequest(method string, status int) {
	r.mu.Lock()
	r.calls = append(r.calls, method+" "+http.StatusText(status))
	r.mu.Unlock()
}

type testServer struct {
	addr     string
	pool     *concurrency.ThreadPool
	acceptor *tcp.Acceptor
}

// startServer wires a real pool, acceptor and handler on a loopback port.
func startServer(t *testing.T, h *Handler) *testServer {
	t.Helper()

	pool, err := concurrency.NewThreadPool(4, concurrency.WithLogger(core.NopLogger()))
	if err != nil {
		t.Fatalf("NewThreadPool: %v", err)
	}

	cfg := tcp.DefaultAcceptorConfig("127.0.0.1:0")
	cfg.ReadTimeout = time.Second
	cfg.WriteTimeout = time.Second
	acceptor := tcp.NewAcceptor(cfg, pool, h.Serve, tcp.WithLogger(core.NopLogger()))

	errCh := make(chan error, 1)
	go func() { errCh <- acceptor.Serve() }()
	select {
	case <-acceptor.Ready():
	case err := <-errCh:
		t.Fatalf("Serve: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("acceptor did not start listening")
	}

	t.Cleanup(func() {
		_ = acceptor.Stop()
		pool.Shutdown()
	})
	return &testServer{addr: acceptor.ListeningAddr(), pool: pool, acceptor: acceptor}
}

func fetch(addr, raw string) (*http.Response, string, error) {
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return nil, "", err
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := io.WriteString(c, raw); err != nil {
		return nil, "", err
	}
	resp, err := http.ReadResponse(bufio.NewReader(c), nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return resp, string(body), nil
}

func get(t *testing.T, addr, raw string) (*http.Response, string) {
	t.Helper()
	resp, body, err := fetch(addr, raw)
	if err != nil {
		t.Fatalf("request %q: %v", raw, err)
	}
	return resp, body
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandler_EndToEnd(t *testing.T) {
	pub := &recordingPublisher{}
	rec := &recordingRecorder{}
	h := NewHandler(DefaultSite(),
		WithLogger(core.NopLogger()), WithPublisher(pub), WithRecorder(rec))
	srv := startServer(t, h)

	resp, body := get(t, srv.addr, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / status = %d, want 200", resp.StatusCode)
	}
	if body != string(DefaultIndexPage().Body) {
		t.Errorf("GET / body = %q, want default index page", body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != defaultContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	if resp.ContentLength != int64(len(body)) {
		t.Errorf("Content-Length = %d, body is %d bytes", resp.ContentLength, len(body))
	}

	resp, body = get(t, srv.addr, "GET /missing HTTP/1.1\r\n\r\n")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /missing status = %d, want 404", resp.StatusCode)
	}
	if body != string(DefaultNotFoundPage().Body) {
		t.Errorf("GET /missing body = %q, want fallback page", body)
	}

	waitFor(t, "access events", func() bool { return len(pub.snapshot()) == 2 })
	evs := pub.snapshot()
	byPath := map[string]events.AccessEvent{}
	for _, ev := range evs {
		byPath[ev.Path] = ev
	}
	if ev := byPath["/"]; ev.Status != http.StatusOK || ev.Method != "GET" || ev.ConnID == "" || ev.Bytes == 0 {
		t.Errorf("event for / = %+v", ev)
	}
	if ev := byPath["/missing"]; ev.Status != http.StatusNotFound {
		t.Errorf("event for /missing = %+v", ev)
	}
	if evs[0].ConnID == evs[1].ConnID {
		t.Error("two connections share a connection ID")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) != 2 {
		t.Errorf("recorder calls = %v", rec.calls)
	}
}

func TestHandler_ConcurrentClients(t *testing.T) {
	h := NewHandler(DefaultSite(), WithLogger(core.NopLogger()))
	srv := startServer(t, h)

	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, _, err := fetch(srv.addr, "GET / HTTP/1.1\r\n\r\n")
			switch {
			case err != nil:
				errs <- err.Error()
			case resp.StatusCode != http.StatusOK:
				errs <- resp.Status
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Errorf("client: %s", msg)
	}

	waitFor(t, "all connections handled", func() bool {
		return srv.acceptor.Metrics().HandledConnections == 32
	})
	if n := srv.pool.Stats().Failed; n != 0 {
		t.Errorf("pool failed jobs = %d", n)
	}
}

func TestHandler_NonGetIsNotFound(t *testing.T) {
	h := NewHandler(DefaultSite(), WithLogger(core.NopLogger()))
	srv := startServer(t, h)

	resp, body := get(t, srv.addr, "POST / HTTP/1.1\r\n\r\n")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("POST / status = %d, want 404", resp.StatusCode)
	}
	if body != string(DefaultNotFoundPage().Body) {
		t.Errorf("POST / body = %q", body)
	}
}

func TestHandler_MalformedRequestLine(t *testing.T) {
	pub := &recordingPublisher{}
	h := NewHandler(DefaultSite(), WithLogger(core.NopLogger()), WithPublisher(pub))
	srv := startServer(t, h)

	resp, body := get(t, srv.addr, "HELLO\r\n\r\n")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if body != string(badRequestPage.Body) {
		t.Errorf("body = %q", body)
	}

	waitFor(t, "access event", func() bool { return len(pub.snapshot()) == 1 })
	if ev := pub.snapshot()[0]; ev.Status != http.StatusBadRequest || ev.Method != "" {
		t.Errorf("event = %+v", ev)
	}
}

func TestHandler_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	h := NewHandler(DefaultSite(), WithLogger(core.NopLogger()), WithTracer(tp.Tracer("test")))
	srv := startServer(t, h)

	get(t, srv.addr, "GET /missing HTTP/1.1\r\n\r\n")
	waitFor(t, "ended span", func() bool { return len(sr.Ended()) == 1 })

	span := sr.Ended()[0]
	if span.Name() != "httpd.request" {
		t.Errorf("span name = %q", span.Name())
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if v := attrs["http.status_code"]; v.AsInt64() != http.StatusNotFound {
		t.Errorf("http.status_code = %v, want 404", v.Emit())
	}
	if v := attrs["http.target"]; v.AsString() != "/missing" {
		t.Errorf("http.target = %q", v.AsString())
	}
	if v := attrs["webpool.conn_id"]; v.AsString() == "" {
		t.Error("span has no connection id")
	}
}

func TestHandler_ClientClosesWithoutRequest(t *testing.T) {
	client, server := net.Pipe()
	h := NewHandler(DefaultSite(), WithLogger(core.NopLogger()))

	_ = client.Close()
	err := h.Serve(&tcp.ConnContext{Context: context.Background(), ID: "c1", Conn: server})
	if !errors.Is(err, io.EOF) {
		t.Errorf("Serve() error = %v, want EOF", err)
	}
}

func TestReadRequestLine(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"crlf", "GET / HTTP/1.1\r\nHost: x\r\n", "GET / HTTP/1.1", nil},
		{"lf", "GET / HTTP/1.1\n", "GET / HTTP/1.1", nil},
		{"no newline", "GET / HTTP/1.1", "GET / HTTP/1.1", nil},
		{"too long", "GET /" + strings.Repeat("a", 64) + " HTTP/1.1\r\n", "", ErrMalformedRequest},
		{"empty", "", "", io.EOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			br := bufio.NewReaderSize(strings.NewReader(tt.input), 32)
			got, err := readRequestLine(br)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewHandler_FailFast_NilSitePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic for nil site")
		}
	}()
	_ = NewHandler(nil)
}
