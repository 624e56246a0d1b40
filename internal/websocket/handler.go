package websocket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Handler handles WebSocket HTTP upgrade requests
type Handler struct {
	hub       *Hub
	jwtSecret []byte
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, jwtSecret []byte) *Handler {
	return &Handler{
		hub:       hub,
		jwtSecret: jwtSecret,
	}
}

// HandleWebSocketHTTP is a raw http.Handler for WebSocket upgrades
// This bypasses Gin's ResponseWriter wrapper which can interfere with connection hijacking
func (h *Handler) HandleWebSocketHTTP(w http.ResponseWriter, r *http.Request) {
	userID, username, err := h.authenticateHTTPRequest(r)
	if err != nil {
		log.Printf("WebSocket auth failed: %v", err)
		http.Error(w, `{"error":"authentication_failed","message":"`+err.Error()+`"}`, http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	clientIP := r.Header.Get("X-Forwarded-For")
	if clientIP == "" {
		clientIP = r.Header.Get("X-Real-IP")
	}
	if clientIP == "" {
		clientIP = r.RemoteAddr
	}

	client := NewClient(h.hub, conn, userID, username)
	client.RemoteAddr = clientIP
	client.UserAgent = r.Header.Get("User-Agent")

	h.hub.Register(client)

	client.Send(NewMessage(MessageTypeSystem, SystemPayload{
		Event:   "connected",
		Message: "connected",
		Data: map[string]interface{}{
			"user_id":     userID,
			"username":    username,
			"server_time": time.Now().UTC().UnixMilli(),
		},
	}))

	go client.WritePump()
	client.ReadPump() // This blocks until client disconnects
}

// authenticateHTTPRequest extracts and validates JWT from raw HTTP request,
// returning the author id and display name carried in its claims. There is
// no durable user store in this service; the claims themselves are the
// identity.
func (h *Handler) authenticateHTTPRequest(r *http.Request) (userID, username string, err error) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if tokenString == "" {
		return "", "", errors.New("no token provided")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("jwt parse failed: %w", err)
	}
	if !token.Valid {
		return "", "", errors.New("jwt not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errors.New("invalid token claims")
	}

	userID, ok = claims["user_id"].(string)
	if !ok || userID == "" {
		return "", "", errors.New("user_id not found in token")
	}
	username, _ = claims["username"].(string)
	if username == "" {
		username = userID
	}
	return userID, username, nil
}

// HandleWebSocket handles WebSocket upgrade requests (Gin wrapper)
// This wraps HandleWebSocketHTTP for use with Gin routes
func (h *Handler) HandleWebSocket(c *gin.Context) {
	h.HandleWebSocketHTTP(c.Writer, c.Request)
}

// HandleMetrics returns WebSocket metrics (for monitoring)
func (h *Handler) HandleMetrics(c *gin.Context) {
	metrics := h.hub.GetMetrics()
	c.JSON(http.StatusOK, gin.H{
		"websocket":    metrics,
		"online_users": h.hub.GetOnlineUsers(),
		"timestamp":    time.Now().UTC(),
	})
}

// HandleOnlineStatus checks if specific users are online
func (h *Handler) HandleOnlineStatus(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"user_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	statuses := make(map[string]bool)
	for _, userID := range req.UserIDs {
		statuses[userID] = h.hub.IsUserOnline(userID)
	}

	c.JSON(http.StatusOK, gin.H{
		"statuses":  statuses,
		"timestamp": time.Now().UTC(),
	})
}

// Shutdown gracefully shuts down the WebSocket handler
func (h *Handler) Shutdown(ctx context.Context) error {
	return h.hub.Shutdown(ctx)
}

// GetHub returns the hub for external access
func (h *Handler) GetHub() *Hub {
	return h.hub
}

// SystemPayload represents system event payloads
type SystemPayload struct {
	Event   string                 `json:"event"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
