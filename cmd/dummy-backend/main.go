// Command dummy-backend is a fake DSAR backend for local runs of the gateway.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type dsarRequest struct {
	ID        string                 `json:"id"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"createdAt"`
}

type backend struct {
	mu        sync.Mutex
	requests  []dsarRequest
	twoFactor map[string]gin.H
	flags     map[string]bool
	log       *zap.Logger
}

func main() {
	addr := flag.String("addr", ":4000", "listen address")
	flag.Parse()

	log, _ := zap.NewDevelopment()
	defer func() { _ = log.Sync() }()

	b := &backend{
		twoFactor: make(map[string]gin.H),
		flags:     map[string]bool{"new_export_flow": false, "sso": true},
		log:       log,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), b.logRequests)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	v1 := r.Group("/api/v1")
	v1.GET("/requests", b.listRequests)
	v1.POST("/requests", b.createRequest)
	v1.GET("/downloads/:token", func(c *gin.Context) {
		c.String(http.StatusOK, "export for token %s\n", c.Param("token"))
	})
	v1.POST("/auth/signup", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})
	v1.POST("/auth/magic-link", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "sent": true})
	})
	v1.GET("/auth/2fa/:userId", b.getTwoFactor)
	v1.POST("/auth/2fa/:userId", b.saveTwoFactor)

	admin := r.Group("/admin")
	admin.GET("/users", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"users": []gin.H{{"id": "u_1", "email": "dpo@example.com", "role": "admin"}}})
	})
	admin.GET("/audit", func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		c.JSON(http.StatusOK, gin.H{"page": page, "limit": limit, "entries": []gin.H{}})
	})
	admin.GET("/flags", b.listFlags)
	admin.POST("/flags/toggle", b.toggleFlag)
	admin.POST("/impersonate", func(c *gin.Context) {
		c.SetCookie("impersonating", "u_1", 3600, "/", "", false, true)
		c.SetCookie("admin_session", "restore", 3600, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	admin.DELETE("/impersonate", func(c *gin.Context) {
		c.SetCookie("impersonating", "", -1, "/", "", false, true)
		c.SetCookie("admin_session", "", -1, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	log.Info("dummy backend starting", zap.String("addr", *addr))
	if err := r.Run(*addr); err != nil {
		log.Fatal("dummy backend failed", zap.Error(err))
	}
}

func (b *backend) logRequests(c *gin.Context) {
	c.Next()
	b.log.Info("received request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("rid", c.GetHeader("X-Request-Id")),
		zap.Int("status", c.Writer.Status()),
	)
}

func (b *backend) listRequests(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"requests": b.requests})
}

func (b *backend) createRequest(c *gin.Context) {
	var payload map[string]interface{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	req := dsarRequest{ID: uuid.NewString(), Payload: payload, CreatedAt: time.Now().UTC()}

	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	c.JSON(http.StatusCreated, req)
}

func (b *backend) getTwoFactor(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	settings, ok := b.twoFactor[c.Param("userId")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (b *backend) saveTwoFactor(c *gin.Context) {
	var settings gin.H
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	b.mu.Lock()
	b.twoFactor[c.Param("userId")] = settings
	b.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (b *backend) listFlags(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.JSON(http.StatusOK, b.flags)
}

func (b *backend) toggleFlag(c *gin.Context) {
	var req struct {
		Flag string `json:"flag" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "flag is required"})
		return
	}

	b.mu.Lock()
	b.flags[req.Flag] = !b.flags[req.Flag]
	enabled := b.flags[req.Flag]
	b.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"flag": req.Flag, "enabled": enabled, "message": fmt.Sprintf("%s toggled", req.Flag)})
}
