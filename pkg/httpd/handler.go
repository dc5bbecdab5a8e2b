package httpd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/webpool/pkg/core"
	"github.com/fluxorio/webpool/pkg/core/failfast"
	"github.com/fluxorio/webpool/pkg/events"
	"github.com/fluxorio/webpool/pkg/tcp"
)

const (
	// DefaultMaxLineSize bounds the request line.
	DefaultMaxLineSize = 8 << 10

	tracerName = "github.com/fluxorio/webpool/pkg/httpd"
	serverName = "webpool"
)

var badRequestPage = Page{
	ContentType: "text/plain; charset=utf-8",
	Body:        []byte("400 Bad Request\n"),
}

// Recorder counts handled requests.
type Recorder interface {
	RecordRequest(method string, status int)
}

// Handler serves one request per connection from a Site.
type Handler struct {
	site        *Site
	logger      core.Logger
	publisher   events.AccessPublisher
	recorder    Recorder
	tracer      trace.Tracer
	maxLineSize int
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger core.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithPublisher sends an access event for every request.
func WithPublisher(p events.AccessPublisher) HandlerOption {
	return func(h *Handler) {
		if p != nil {
			h.publisher = p
		}
	}
}

// WithRecorder counts every request.
func WithRecorder(r Recorder) HandlerOption {
	return func(h *Handler) {
		if r != nil {
			h.recorder = r
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) HandlerOption {
	return func(h *Handler) {
		if t != nil {
			h.tracer = t
		}
	}
}

// WithMaxLineSize bounds the request line; longer lines get 400.
func WithMaxLineSize(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxLineSize = n
		}
	}
}

// NewHandler creates a handler for site. It panics on a nil site.
func NewHandler(site *Site, opts ...HandlerOption) *Handler {
	failfast.NotNil(site, "site")

	h := &Handler{
		site:        site,
		logger:      core.NewDefaultLogger(),
		publisher:   events.NopPublisher{},
		tracer:      otel.Tracer(tracerName),
		maxLineSize: DefaultMaxLineSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve reads the request line from the connection and writes the response.
// It matches tcp.ConnHandler. The acceptor closes the connection.
func (h *Handler) Serve(cc *tcp.ConnContext) error {
	start := time.Now()
	ctx := cc.Context
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := h.tracer.Start(ctx, "httpd.request", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	span.SetAttributes(attribute.String("webpool.conn_id", cc.ID))
	if cc.RemoteAddr != nil {
		span.SetAttributes(attribute.String("net.peer.addr", cc.RemoteAddr.String()))
	}

	br := bufio.NewReaderSize(cc.Conn, h.maxLineSize)
	line, err := readRequestLine(br)
	if err != nil && !errors.Is(err, ErrMalformedRequest) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read request line")
		return fmt.Errorf("read request line: %w", err)
	}

	var (
		req    RequestLine
		page   Page
		status int
	)
	if err == nil {
		req, err = ParseRequestLine(line)
	}
	if err != nil {
		h.logger.With("conn_id", cc.ID).Debugf("bad request: %v", err)
		page, status = badRequestPage, http.StatusBadRequest
	} else {
		page, status = h.site.Lookup(req.Method, req.Path)
		span.SetAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.target", req.Path),
		)
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	// Headers are not interpreted; drop what already arrived so the close
	// below does not reset the connection.
	_, _ = br.Discard(br.Buffered())

	cw := &countingWriter{w: cc.Conn}
	werr := writeResponse(cw, status, page)

	if h.recorder != nil {
		h.recorder.RecordRequest(req.Method, status)
	}
	h.publish(cc, req, status, cw.n, time.Since(start))

	if werr != nil {
		span.RecordError(werr)
		span.SetStatus(codes.Error, "write response")
		return fmt.Errorf("write response: %w", werr)
	}
	if status == http.StatusBadRequest {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	return nil
}

func (h *Handler) publish(cc *tcp.ConnContext, req RequestLine, status int, n int64, elapsed time.Duration) {
	ev := events.AccessEvent{
		ConnID:   cc.ID,
		Method:   req.Method,
		Path:     req.Path,
		Status:   status,
		Bytes:    n,
		Duration: elapsed,
		Time:     cc.AcceptedAt,
	}
	if cc.RemoteAddr != nil {
		ev.Remote = cc.RemoteAddr.String()
	}
	if err := h.publisher.Publish(ev); err != nil {
		h.logger.With("conn_id", cc.ID).Warnf("publish access event: %v", err)
	}
}

// readRequestLine returns the first line without its terminator. A line
// that does not fit the reader is malformed. A final line without a
// newline is accepted.
func readRequestLine(br *bufio.Reader) (string, error) {
	b, err := br.ReadSlice('\n')
	switch {
	case err == nil:
	case errors.Is(err, bufio.ErrBufferFull):
		return "", fmt.Errorf("%w: line exceeds %d bytes", ErrMalformedRequest, br.Size())
	case errors.Is(err, io.EOF) && len(b) > 0:
	default:
		return "", err
	}
	return string(trimEOL(b)), nil
}

func trimEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}

func writeResponse(w io.Writer, status int, page Page) error {
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	resp.SetStatusCode(status)
	resp.Header.SetContentType(page.ContentType)
	resp.Header.SetServer(serverName)
	resp.SetConnectionClose()
	resp.SetBodyRaw(page.Body)

	bw := bufio.NewWriter(w)
	if err := resp.Write(bw); err != nil {
		return err
	}
	return bw.Flush()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
