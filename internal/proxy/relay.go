package proxy

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/apierror"
)

type RelayOptions struct {
	// ForwardCookies copies upstream Set-Cookie headers to the caller
	ForwardCookies bool
}

// Relay writes the upstream status and body back unchanged
func Relay(c *gin.Context, resp *Response, opts RelayOptions) {
	if opts.ForwardCookies {
		for _, cookie := range resp.Header.Values("Set-Cookie") {
			c.Writer.Header().Add("Set-Cookie", cookie)
		}
	}
	if resp.RequestID != "" {
		c.Header(HeaderRequestID, resp.RequestID)
	}
	c.Header("Cache-Control", "no-store")
	c.Data(resp.StatusCode, resp.ContentType(), resp.Body)
}

// AbortWithError maps a Do error onto the gateway error body
func AbortWithError(c *gin.Context, err error) {
	apierror.Abort(c, ErrorFor(err))
}

func ErrorFor(err error) *apierror.Error {
	switch {
	case errors.Is(err, ErrUpstreamTimeout):
		return apierror.ErrUpstreamTimeout
	case errors.Is(err, ErrUpstreamUnavailable):
		return apierror.ErrUpstreamUnavailable
	default:
		return apierror.ErrInternal
	}
}
