package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/chaos-io/photobooth/capture"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Conn 页面到服务端的 websocket 连接，*websocket.Conn 满足该接口
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// 页面 -> 服务端 的控制消息
type clientMessage struct {
	Type   string `json:"type"`
	Torch  bool   `json:"torch,omitempty"`
	Facing string `json:"facing,omitempty"`
	Angle  *int   `json:"angle,omitempty"`
}

const (
	msgHello       = "hello"       // 摄像头已就绪，附带能力
	msgOrientation = "orientation" // 设备方向变化
	msgStopped     = "stopped"     // 页面停止了视频轨道
)

// 服务端 -> 页面 的命令
type Command struct {
	Type    string `json:"type"`
	Mode    string `json:"mode,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// PushSource 页面把视频帧（JPEG/PNG）以二进制消息推上来，只保留最新一帧
//
// 释放顺序：先释放再获取。切换前后摄像头、接入新连接时，
// 旧帧立即丢弃，直到新流的第一帧到达前 CurrentFrame 返回 ErrNoStream。
// 切换摄像头后，页面报告新方向的 hello 之前推上来的帧都来自旧摄像头，一律丢弃
type PushSource struct {
	mu            sync.Mutex
	writeMu       sync.Mutex
	conn          Conn
	frame         *capture.Frame
	active        bool
	facing        FacingMode
	awaitingHello bool
	torchCapable  bool
	torchOn       bool
	orientation   Orientation
	listeners     listeners
	log           *slog.Logger
}

func NewPushSource(log *slog.Logger) *PushSource {
	if log == nil {
		log = slog.Default()
	}
	return &PushSource{
		facing:      FacingUser,
		orientation: Landscape,
		log:         log,
	}
}

// Attach 接入新连接，旧连接先关闭
func (p *PushSource) Attach(conn Conn) {
	p.mu.Lock()
	old := p.conn
	p.conn = conn
	p.frame = nil
	p.active = false
	p.awaitingHello = false
	p.torchCapable = false
	p.torchOn = false
	p.mu.Unlock()

	if old != nil && old != conn {
		_ = old.Close()
	}
}

// Serve 读取连接上的消息直到连接断开或 ctx 结束，阻塞
func (p *PushSource) Serve(ctx context.Context, conn Conn) error {
	p.Attach(conn)
	defer p.detach(conn)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return fmt.Errorf("read stream: %w", err)
			}
			return nil
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := p.PushFrame(message); err != nil {
				p.log.Warn("drop undecodable frame", "error", err, "bytes", len(message))
			}
		case websocket.TextMessage:
			if err := p.handleControl(message); err != nil {
				p.log.Warn("bad control message", "error", err)
			}
		default:
			p.log.Warn("unexpected message type", "type", messageType)
		}
	}
}

// PushFrame 解码一帧并替换当前帧。切换摄像头后等待 hello 期间的帧直接丢弃
func (p *PushSource) PushFrame(data []byte) error {
	if p.switching() {
		p.log.Debug("drop frame from previous camera", "bytes", len(data))
		return nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	frame := capture.NewFrame(img)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.awaitingHello {
		return nil
	}
	p.frame = frame
	p.active = true
	return nil
}

func (p *PushSource) switching() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.awaitingHello
}

func (p *PushSource) handleControl(data []byte) error {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("unmarshal control message: %w", err)
	}

	switch msg.Type {
	case msgHello:
		mode, err := ParseFacingMode(msg.Facing)
		p.mu.Lock()
		if p.awaitingHello && (err != nil || mode != p.facing) {
			want := p.facing
			p.mu.Unlock()
			p.log.Debug("ignore hello from previous camera", "facing", msg.Facing, "want", want)
			return nil
		}
		p.awaitingHello = false
		p.torchCapable = msg.Torch
		if err == nil {
			p.facing = mode
		}
		p.mu.Unlock()
		p.log.Debug("camera ready", "torch", msg.Torch, "facing", msg.Facing)
	case msgOrientation:
		p.setOrientation(OrientationFromAngle(msg.Angle))
	case msgStopped:
		p.mu.Lock()
		p.frame = nil
		p.active = false
		p.mu.Unlock()
	default:
		return fmt.Errorf("unknown control message %q", msg.Type)
	}
	return nil
}

func (p *PushSource) setOrientation(o Orientation) {
	p.mu.Lock()
	changed := p.orientation != o
	p.orientation = o
	fns := p.listeners.snapshot()
	p.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range fns {
		fn(o)
	}
}

func (p *PushSource) detach(conn Conn) {
	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
		p.frame = nil
		p.active = false
	}
	p.mu.Unlock()
	_ = conn.Close()
}

func (p *PushSource) CurrentFrame(ctx context.Context) (*capture.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active || p.frame == nil {
		return nil, ErrNoStream
	}
	return p.frame, nil
}

func (p *PushSource) SwitchFacing(mode FacingMode) error {
	if _, err := ParseFacingMode(string(mode)); err != nil {
		return err
	}

	p.mu.Lock()
	p.facing = mode
	p.frame = nil
	p.active = false
	p.awaitingHello = true
	p.torchCapable = false
	p.torchOn = false
	p.mu.Unlock()

	err := p.send(Command{Type: "facing", Mode: string(mode)})
	if errors.Is(err, ErrNoStream) {
		return nil
	}
	return err
}

func (p *PushSource) Facing() FacingMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.facing
}

func (p *PushSource) SetTorch(enabled bool) bool {
	p.mu.Lock()
	capable := p.torchCapable && p.conn != nil
	p.mu.Unlock()
	if !capable {
		return false
	}

	if err := p.send(Command{Type: "torch", Enabled: &enabled}); err != nil {
		p.log.Warn("send torch command", "error", err)
		return false
	}

	p.mu.Lock()
	p.torchOn = enabled
	p.mu.Unlock()
	return true
}

func (p *PushSource) TorchOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.torchOn
}

func (p *PushSource) Orientation() Orientation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orientation
}

func (p *PushSource) OnOrientationChange(fn func(Orientation)) func() {
	p.mu.Lock()
	id := p.listeners.add(fn)
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		p.listeners.remove(id)
		p.mu.Unlock()
	}
}

// Notify 把任意事件以 JSON 推给页面
func (p *PushSource) Notify(v interface{}) error {
	return p.send(v)
}

func (p *PushSource) send(v interface{}) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return ErrNoStream
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (p *PushSource) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.frame = nil
	p.active = false
	p.torchOn = false
	p.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
