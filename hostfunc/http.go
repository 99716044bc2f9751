package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/caffeineduck/hostgate/resource"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second
)

type HTTPConfig struct {
	AllowedHosts   []string
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
}

// HTTP performs allow-listed outbound requests. It is registered under the
// "http" namespace.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	h := &HTTP{cfg: cfg}
	h.client = &http.Client{CheckRedirect: h.checkRedirect}
	return h
}

const maxRedirects = 10

// checkRedirect applies the host allow-list to every redirect hop.
func (h *HTTP) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return invalid("redirect scheme must be http or https")
	}
	if host := req.URL.Hostname(); !h.isHostAllowed(host) {
		return denied("redirect to host not allowed: %s", host)
	}
	return nil
}

// Register installs http/request and http/open.
func (h *HTTP) Register(r *Registry) {
	r.Register("http", "request", JSON(h.Request))
	r.Register("http", "open", JSON(h.Open))
}

// Request performs a request and returns the buffered response.
func (h *HTTP) Request(ctx context.Context, _ *Call, req HTTPRequest) (HTTPResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.RequestTimeout)
	defer cancel()

	resp, err := h.do(ctx, req)
	if err != nil {
		return HTTPResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodySize))
	if err != nil {
		return HTTPResponse{}, resource.Errorf(resource.ClassInternal, "failed to read response: %v", err)
	}
	return HTTPResponse{
		Status:  resp.StatusCode,
		Headers: firstValues(resp.Header),
		Body:    string(body),
	}, nil
}

// Open performs a request and stores the response body as a stream in the
// caller's resource table. The stream is read with stream/read.
func (h *HTTP) Open(ctx context.Context, call *Call, req HTTPRequest) (HTTPOpenResponse, error) {
	// The stream owns the request context and cancels it on Close.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.RequestTimeout)
	resp, err := h.do(reqCtx, req)
	if err != nil {
		cancel()
		return HTTPOpenResponse{}, err
	}

	body := &BodyStream{
		body:   resp.Body,
		r:      io.LimitReader(resp.Body, h.cfg.MaxBodySize),
		cancel: cancel,
	}
	rid, err := call.Table.Add(body)
	if err != nil {
		body.Close()
		return HTTPOpenResponse{}, err
	}
	return HTTPOpenResponse{
		Status:  resp.StatusCode,
		Headers: firstValues(resp.Header),
		RID:     rid,
	}, nil
}

func (h *HTTP) do(ctx context.Context, req HTTPRequest) (*http.Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
	default:
		return nil, invalid("unsupported method: %s", method)
	}

	if req.URL == "" {
		return nil, invalid("url required")
	}
	if len(req.URL) > h.cfg.MaxURLLength {
		return nil, invalid("url exceeds max length")
	}
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return nil, invalid("invalid url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, invalid("scheme must be http or https")
	}
	if len(h.cfg.AllowedHosts) == 0 {
		return nil, denied("http not enabled")
	}
	host := parsed.Hostname()
	if !h.isHostAllowed(host) {
		return nil, denied("host not allowed: %s", host)
	}

	var body io.Reader
	if req.Body != "" {
		if int64(len(req.Body)) > h.cfg.MaxBodySize {
			return nil, invalid("request body exceeds max size")
		}
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, invalid("failed to create request: %v", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		var rerr *resource.Error
		if errors.As(err, &rerr) {
			return nil, rerr
		}
		return nil, resource.Errorf(resource.ClassInternal, "request failed: %v", err)
	}
	return resp, nil
}

// isHostAllowed matches IP literals exactly and names by suffix on a label
// boundary.
func (h *HTTP) isHostAllowed(host string) bool {
	if addr, err := netip.ParseAddr(host); err == nil {
		for _, allowed := range h.cfg.AllowedHosts {
			if a, err := netip.ParseAddr(allowed); err == nil && a.Unmap() == addr.Unmap() {
				return true
			}
		}
		return false
	}
	for _, allowed := range h.cfg.AllowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func firstValues(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// BodyStream is an HTTP response body held in a resource table.
type BodyStream struct {
	mu     sync.Mutex
	body   io.ReadCloser
	r      io.Reader
	cancel context.CancelFunc
	closed bool
}

// Name implements resource.Namer.
func (*BodyStream) Name() string { return "httpBody" }

// ReadReturn implements resource.ReturnReader. It fails with BadResource once
// the stream has been closed, even for a caller that fetched it earlier.
func (b *BodyStream) ReadReturn(_ context.Context, buf []byte) (int, []byte, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return 0, buf, resource.BadResourceID()
	}

	n, err := b.r.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		b.mu.Lock()
		closed = b.closed
		b.mu.Unlock()
		if closed {
			return n, buf, resource.BadResourceID()
		}
		return n, buf, fmt.Errorf("read body: %w", err)
	}
	return n, buf, err
}

// Shutdown implements resource.Shutdowner by discarding the remaining body.
func (b *BodyStream) Shutdown(context.Context) error {
	b.Close()
	return nil
}

// Close cancels the request and releases the connection.
func (b *BodyStream) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.body.Close()
}
