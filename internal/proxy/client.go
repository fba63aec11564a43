package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrMissingAPIURL       = errors.New("Missing API_URL (set in .env)")
	ErrUpstreamTimeout     = errors.New("upstream timed out")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// DefaultTimeout bounds every upstream call
const DefaultTimeout = 10 * time.Second

const HeaderRequestID = "X-Request-Id"

// Client forwards already validated requests to the DSAR backend
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingAPIURL
	}

	c := &Client{
		baseURL: baseURL,
		timeout: DefaultTimeout,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

type Request struct {
	Method string
	Path   string

	// Body is sent as-is; nil sends no body
	Body []byte

	// Extra headers, e.g. Authorization
	Header http.Header

	RequestID string
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
}

func (r *Response) ContentType() string {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/json"
}

// Do performs one upstream call. No retries. The whole body is read before
// the deadline, so a response that arrives late is never returned.
func (c *Client) Do(ctx context.Context, in Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	method := in.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if in.Body != nil {
		body = bytes.NewReader(in.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(in.Path), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	for key, values := range in.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	rid := in.RequestID
	if rid == "" {
		rid = NewRequestID()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set(HeaderRequestID, rid)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, classify(ctx, err)
	}

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       data,
		RequestID:  rid,
	}, nil
}

func (c *Client) url(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}
