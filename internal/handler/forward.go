package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/apierror"
	"github.com/rightly/dsar-gateway/internal/middleware"
	"github.com/rightly/dsar-gateway/internal/proxy"
	"go.uber.org/zap"
)

// UpstreamObserver records proxied calls, e.g. as metrics
type UpstreamObserver interface {
	ObserveUpstream(route string, status int, errKind string, elapsed time.Duration)
}

// Forwarder sends gin requests to the DSAR backend and relays the answer
type Forwarder struct {
	client   *proxy.Client
	log      *zap.Logger
	observer UpstreamObserver
}

func NewForwarder(client *proxy.Client, log *zap.Logger, observer UpstreamObserver) *Forwarder {
	return &Forwarder{client: client, log: log, observer: observer}
}

// Call performs the upstream request with the caller's request id and
// Authorization header attached.
func (f *Forwarder) Call(c *gin.Context, route string, req proxy.Request) (*proxy.Response, error) {
	if req.RequestID == "" {
		req.RequestID = middleware.GetRequestID(c)
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if auth := c.GetHeader("Authorization"); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	start := time.Now()
	resp, err := f.client.Do(c.Request.Context(), req)
	elapsed := time.Since(start)

	if err != nil {
		kind := "unavailable"
		if errors.Is(err, proxy.ErrUpstreamTimeout) {
			kind = "timeout"
		}
		f.observe(route, 0, kind, elapsed)
		f.log.Warn("upstream call failed",
			zap.String("rid", req.RequestID),
			zap.String("route", route),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return nil, err
	}

	f.observe(route, resp.StatusCode, "", elapsed)
	if req.Method != "" && req.Method != http.MethodGet {
		f.log.Info("proxied",
			zap.String("rid", resp.RequestID),
			zap.String("route", route),
			zap.Int("be_status", resp.StatusCode),
		)
	}
	return resp, nil
}

// Forward calls upstream and relays its status and body verbatim
func (f *Forwarder) Forward(c *gin.Context, route string, req proxy.Request, opts proxy.RelayOptions) {
	resp, err := f.Call(c, route, req)
	if err != nil {
		proxy.AbortWithError(c, err)
		return
	}
	proxy.Relay(c, resp, opts)
}

func (f *Forwarder) observe(route string, status int, kind string, elapsed time.Duration) {
	if f.observer != nil {
		f.observer.ObserveUpstream(route, status, kind, elapsed)
	}
}

// readJSONBody returns the request body, or {} when it is empty or not JSON
func readJSONBody(c *gin.Context) []byte {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil || len(raw) == 0 || !json.Valid(raw) {
		return []byte("{}")
	}
	return raw
}

// abortWithServiceError maps errors from backend-backed services
func abortWithServiceError(c *gin.Context, err error) {
	if errors.Is(err, proxy.ErrUpstreamTimeout) || errors.Is(err, proxy.ErrUpstreamUnavailable) {
		proxy.AbortWithError(c, err)
		return
	}
	apierror.Abort(c, apierror.ErrInternal)
}
