package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/chaos-io/photobooth/capture/source"
	"github.com/chaos-io/photobooth/present"
	"github.com/chaos-io/photobooth/session"
)

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.mgr.Len()})
}

func (s *Server) handleCreate(c *gin.Context) {
	sess := s.mgr.Create()
	c.JSON(http.StatusCreated, gin.H{"id": sess.ID()})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, current(c).Snapshot())
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.mgr.Remove(current(c).ID()); err != nil {
		s.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCapture(c *gin.Context) {
	snap, err := current(c).Capture(c.Request.Context())
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleRetry(c *gin.Context) {
	c.JSON(http.StatusOK, current(c).Retry())
}

func (s *Server) handleRegenerate(c *gin.Context) {
	c.JSON(http.StatusOK, current(c).Regenerate())
}

func (s *Server) handleNext(c *gin.Context) {
	snap, err := current(c).Next()
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type facingRequest struct {
	Mode string `json:"mode" binding:"omitempty,oneof=user environment"`
}

func (s *Server) handleFacing(c *gin.Context) {
	var req facingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	mode, err := current(c).SwitchFacing(req.Mode)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"facing": mode})
}

type torchRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) handleTorch(c *gin.Context) {
	var req torchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 没有闪光灯不算失败，照常返回 200
	if !current(c).SetTorch(*req.Enabled) {
		c.JSON(http.StatusOK, gin.H{"torch": false, "supported": false, "error": source.ErrCapabilityUnavailable.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"torch": *req.Enabled, "supported": true})
}

func (s *Server) handleQR(c *gin.Context) {
	ref, err := current(c).Reference()
	if err != nil {
		s.abort(c, err)
		return
	}
	png, err := present.QRCode(ref, s.qrSize)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) handleDownload(c *gin.Context) {
	ref, err := current(c).Reference()
	if err != nil {
		s.abort(c, err)
		return
	}
	bin, err := s.fetcher.Fetch(c.Request.Context(), ref)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.Header("Content-Disposition", present.ContentDisposition(s.downloadName))
	c.Data(http.StatusOK, bin.MIMEType, bin.Data)
}

// streamer 能接收页面推流的帧来源
type streamer interface {
	Attach(conn source.Conn)
	Notify(v interface{}) error
	Serve(ctx context.Context, conn source.Conn) error
}

func (s *Server) handleStream(c *gin.Context) {
	sess := current(c)
	push, ok := sess.Source().(streamer)
	if !ok {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "session source does not accept a stream"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "session", sess.ID(), "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		sess.Touch()
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go keepAlive(conn, done)

	// 先接入再推送一次当前状态，页面据此恢复
	tc := &touchConn{Conn: conn, sess: sess}
	push.Attach(tc)
	_ = push.Notify(session.Event{Type: "state", State: sess.Snapshot()})

	s.log.Info("camera stream attached", "session", sess.ID())
	if err := push.Serve(c.Request.Context(), tc); err != nil {
		s.log.Warn("camera stream closed", "session", sess.ID(), "error", err)
		return
	}
	s.log.Info("camera stream detached", "session", sess.ID())
}

// keepAlive 定时 ping，WriteControl 可以与其他写并发
func keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// touchConn 每收到一条消息刷新会话活动时间，并延长读超时
type touchConn struct {
	*websocket.Conn
	sess *session.Session
}

func (t *touchConn) ReadMessage() (int, []byte, error) {
	messageType, p, err := t.Conn.ReadMessage()
	if err == nil {
		t.sess.Touch()
		_ = t.Conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	return messageType, p, err
}

func (t *touchConn) WriteJSON(v interface{}) error {
	_ = t.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.Conn.WriteJSON(v)
}
