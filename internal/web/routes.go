package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sstent/pedometer-bridge/internal/channel"
	"github.com/sstent/pedometer-bridge/internal/models"
)

const (
	invokeTimeout = 30 * time.Second
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
)

// StatsSource reports the history store for the health endpoint.
type StatsSource interface {
	GetStats() (*models.StoreStats, error)
}

// Bridge is the messenger surface the handlers serve.
type Bridge interface {
	Streams
	InvokeMethod(ctx context.Context, name string, call channel.MethodCall) (channel.Envelope, error)
	MethodChannels() []string
	StreamChannels() []string
	HasStream(name string) bool
}

type WebHandler struct {
	bridge   Bridge
	hub      *Hub
	db       StatsSource
	metrics  http.Handler
	platform string
	log      *slog.Logger
	upgrader websocket.Upgrader
}

type Options struct {
	// DB is optional; without it /health omits store statistics.
	DB       StatsSource
	Metrics  http.Handler
	Platform string
	Logger   *slog.Logger
}

func NewWebHandler(bridge Bridge, hub *Hub, opts Options) *WebHandler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &WebHandler{
		bridge:   bridge,
		hub:      hub,
		db:       opts.DB,
		metrics:  opts.Metrics,
		platform: opts.Platform,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *WebHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}
	router.GET("/channels", h.Channels)
	router.POST("/channels/:name/invoke", h.Invoke)
	router.GET("/channels/:name/events", h.Events)
}

func (h *WebHandler) Health(c *gin.Context) {
	body := gin.H{
		"status":   "ok",
		"platform": h.platform,
	}
	if h.db != nil {
		stats, err := h.db.GetStats()
		if err != nil {
			h.log.Error("store stats failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		body["store"] = stats
	}
	c.JSON(http.StatusOK, body)
}

func (h *WebHandler) Channels(c *gin.Context) {
	streams := h.bridge.StreamChannels()
	subscribers := make(map[string]int, len(streams))
	for _, name := range streams {
		subscribers[name] = h.hub.Subscribers(name)
	}
	c.JSON(http.StatusOK, gin.H{
		"methods":     h.bridge.MethodChannels(),
		"streams":     streams,
		"subscribers": subscribers,
	})
}

// Invoke runs one method call and answers with its envelope. Method-level
// failures are part of the envelope; HTTP errors mean the call never ran.
func (h *WebHandler) Invoke(c *gin.Context) {
	var call channel.MethodCall
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&call); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid method call: " + err.Error()})
		return
	}
	if call.Method == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "method is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), invokeTimeout)
	defer cancel()

	env, err := h.bridge.InvokeMethod(ctx, c.Param("name"), call)
	switch {
	case errors.Is(err, channel.ErrNoHandler):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "method call timed out"})
	case err != nil:
		h.log.Error("invoke failed", "channel", c.Param("name"), "method", call.Method, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, env)
	}
}

// Events upgrades to a websocket carrying the channel's events as JSON.
func (h *WebHandler) Events(c *gin.Context) {
	name := c.Param("name")
	if !h.bridge.HasStream(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no event channel " + name})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader already answered the request.
		h.log.Debug("websocket upgrade failed", "channel", name, "error", err)
		return
	}
	defer conn.Close()

	client, err := h.hub.Subscribe(c.Request.Context(), name)
	if err != nil {
		h.log.Warn("subscribe failed", "channel", name, "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
			time.Now().Add(writeWait))
		return
	}
	defer func() {
		if err := h.hub.Unsubscribe(context.Background(), client); err != nil {
			h.log.Warn("unsubscribe failed", "channel", name, "error", err)
		}
	}()

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, client, quit)
	}()

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	close(quit)
	<-done
}

func (h *WebHandler) writePump(conn *websocket.Conn, client *Client, quit <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case msg, ok := <-client.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
