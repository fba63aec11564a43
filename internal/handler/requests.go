package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/proxy"
)

// Data subject access requests and their downloads
type RequestsHandler struct {
	fwd *Forwarder
}

func NewRequestsHandler(fwd *Forwarder) *RequestsHandler {
	return &RequestsHandler{fwd: fwd}
}

func (h *RequestsHandler) List(c *gin.Context) {
	h.fwd.Forward(c, "requests_list", proxy.Request{
		Method: http.MethodGet,
		Path:   "/api/v1/requests",
	}, proxy.RelayOptions{})
}

func (h *RequestsHandler) Create(c *gin.Context) {
	h.fwd.Forward(c, "requests_create", proxy.Request{
		Method: http.MethodPost,
		Path:   "/api/v1/requests",
		Body:   readJSONBody(c),
	}, proxy.RelayOptions{})
}

func (h *RequestsHandler) Download(c *gin.Context) {
	h.fwd.Forward(c, "downloads_token_get", proxy.Request{
		Method: http.MethodGet,
		Path:   "/api/v1/downloads/" + url.PathEscape(c.Param("token")),
	}, proxy.RelayOptions{})
}
