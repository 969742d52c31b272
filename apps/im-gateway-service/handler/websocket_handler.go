package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"hr-messenger/apps/im-gateway-service/model"
	"hr-messenger/apps/im-gateway-service/service"
	"hr-messenger/pkg/auth"
	"hr-messenger/pkg/httpx"
	"hr-messenger/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// 单帧上限
	maxFrameSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler WebSocket接入处理器
type WebSocketHandler struct {
	svc       *service.Service
	jwtSecret string
	logger    logger.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(svc *service.Service, jwtSecret string, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		svc:       svc,
		jwtSecret: jwtSecret,
		logger:    log,
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/messenger/ws", h.HandleWebSocket)
}

// HandleWebSocket 处理WebSocket连接
// 认证通过token查询参数携带JWT
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		httpx.WriteError(c, http.StatusUnauthorized, "missing token")
		return
	}

	claims, err := auth.ValidateJWT(token, h.jwtSecret)
	if err != nil || claims.UserID <= 0 {
		httpx.WriteError(c, http.StatusUnauthorized, "invalid token")
		return
	}

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error(c.Request.Context(), "WebSocket upgrade failed", logger.F("error", err.Error()))
		return
	}

	conn := service.NewConnection(claims.UserID, wsConn)
	h.svc.Register(c.Request.Context(), conn)

	go h.writePump(conn)
	go h.readPump(conn)
}

// readPump 读取客户端帧
func (h *WebSocketHandler) readPump(conn *service.Connection) {
	ctx := context.Background()
	defer func() {
		h.svc.Unregister(ctx, conn)
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(maxFrameSize)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		h.svc.Heartbeat(ctx, conn.UserID)
		return nil
	})

	for {
		_, raw, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn(ctx, "WebSocket read error",
					logger.F("userID", conn.UserID),
					logger.F("error", err.Error()))
			}
			return
		}

		var frame model.ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.sendError(conn, "", "malformed frame")
			continue
		}

		h.handleFrame(conn, &frame)
	}
}

// handleFrame 处理单帧
func (h *WebSocketHandler) handleFrame(conn *service.Connection, frame *model.ClientFrame) {
	ctx := context.Background()
	switch frame.Op {
	case model.OpSubscribe:
		if err := h.svc.Subscribe(conn, frame.Channel); err != nil {
			h.sendError(conn, frame.Channel, err.Error())
		}
	case model.OpUnsubscribe:
		h.svc.Unsubscribe(conn, frame.Channel)
	case model.OpPing:
		h.svc.Heartbeat(ctx, conn.UserID)
		h.send(conn, &model.ServerFrame{Op: model.OpPong})
	default:
		h.sendError(conn, "", "unknown op "+frame.Op)
	}
}

// writePump 下行写泵，连接独占写
func (h *WebSocketHandler) writePump(conn *service.Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// send 投递服务端帧
func (h *WebSocketHandler) send(conn *service.Connection, frame *model.ServerFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case conn.Send <- payload:
	default:
	}
}

// sendError 投递错误帧
func (h *WebSocketHandler) sendError(conn *service.Connection, channel, msg string) {
	h.send(conn, &model.ServerFrame{
		Op:      model.OpError,
		Channel: channel,
		Error:   msg,
	})
}
