// Package session 一次拍摄会话：拍照、编码、提交、展示结果，以及重拍
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaos-io/photobooth/capture"
	"github.com/chaos-io/photobooth/capture/source"
	"github.com/chaos-io/photobooth/rembg"
)

// Notifier 能把事件推给页面的帧来源（PushSource）
type Notifier interface {
	Notify(v interface{}) error
}

type Option func(*Session)

func WithLogger(log *slog.Logger) Option {
	return func(s *Session) {
		s.log = log
	}
}

func WithEncoder(enc *capture.Encoder) Option {
	return func(s *Session) {
		s.enc = enc
	}
}

// WithUploadFile 上传字段名和文件名
func WithUploadFile(fieldName, fileName string) Option {
	return func(s *Session) {
		s.fieldName = fieldName
		s.fileName = fileName
	}
}

// WithMirrorUserFacing 前置摄像头拍到的帧按预览方向水平翻转
func WithMirrorUserFacing(mirror bool) Option {
	return func(s *Session) {
		s.mirrorUser = mirror
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// Session 串行化同一个会话的所有操作。提交在后台 goroutine 中进行，
// 每次提交带周期号，结果回来时周期号不一致就丢弃
type Session struct {
	id         string
	src        source.FrameSource
	sub        rembg.Submitter
	enc        *capture.Encoder
	fieldName  string
	fileName   string
	mirrorUser bool
	log        *slog.Logger
	now        func() time.Time

	ctx       context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu           sync.Mutex
	cycleID      uint64
	phase        Phase
	page         Page
	data         *cycle
	ref          rembg.ResultReference
	err          error
	cancelSubmit context.CancelFunc
	orientation  source.Orientation
	lastSeen     time.Time
	closed       bool
	stopOrient   func()
}

func New(id string, src source.FrameSource, sub rembg.Submitter, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        id,
		src:       src,
		sub:       sub,
		enc:       capture.NewEncoder(),
		fieldName: capture.FieldInputImage,
		fileName:  capture.UploadFileName,
		log:       slog.Default(),
		now:       time.Now,
		ctx:       ctx,
		cancelAll: cancel,
		cycleID:   1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session", id)
	s.lastSeen = s.now()
	s.stopOrient = src.OnOrientationChange(s.onOrientation)
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Source() source.FrameSource {
	return s.src
}

// Capture 截取当前画面，编码并提交，立即返回，不等待远程结果
func (s *Session) Capture(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Snapshot{}, ErrSessionClosed
	}
	s.lastSeen = s.now()
	if s.phase != Idle {
		return Snapshot{}, fmt.Errorf("%w: capture in %s", ErrInvalidTransition, s.phase)
	}

	frame, err := s.src.CurrentFrame(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("current frame: %w", err)
	}
	if s.mirrorUser && s.facing() == source.FacingUser {
		frame = frame.Mirrored()
	}
	s.data = &cycle{frame: frame}
	s.phase = Captured

	encoded, err := s.enc.EncodeFrame(frame)
	if err != nil {
		s.resetLocked()
		return Snapshot{}, fmt.Errorf("encode frame: %w", err)
	}
	s.data.encoded = encoded
	s.phase = Encoded

	bin, err := capture.DecodeToBinary(encoded)
	if err != nil {
		s.resetLocked()
		return Snapshot{}, fmt.Errorf("decode frame: %w", err)
	}
	payload := capture.BuildUploadPayload(bin, s.fieldName, s.fileName)
	s.data.payload = &payload
	s.phase = Submitted

	submitCtx, cancel := context.WithCancel(s.ctx)
	s.cancelSubmit = cancel
	id := s.cycleID
	s.wg.Add(1)
	go s.submit(submitCtx, id, payload)

	s.log.Info("frame captured", "cycle", id, "width", frame.Width, "height", frame.Height, "bytes", len(bin.Data))
	return s.snapshotLocked(), nil
}

func (s *Session) submit(ctx context.Context, id uint64, payload capture.UploadPayload) {
	defer s.wg.Done()

	start := s.now()
	ref, err := s.sub.Submit(ctx, payload)
	s.resolve(id, ref, err, s.now().Sub(start))
}

// resolve 只接受当前周期的结果
func (s *Session) resolve(id uint64, ref rembg.ResultReference, err error, elapsed time.Duration) {
	s.mu.Lock()
	if s.closed || id != s.cycleID || s.phase != Submitted {
		s.mu.Unlock()
		s.log.Debug("discard stale result", "cycle", id, "error", err)
		return
	}

	if s.cancelSubmit != nil {
		s.cancelSubmit()
		s.cancelSubmit = nil
	}
	if err != nil {
		s.phase = Failed
		s.err = err
		s.log.Error("submit failed", "cycle", id, "error", err, "elapsed", elapsed)
	} else {
		s.phase = Resolved
		s.ref = ref
		s.log.Info("result resolved", "cycle", id, "elapsed", elapsed)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// Retry 丢弃本周期的帧、编码结果和上传数据，回到 Idle；进行中的提交被取消
func (s *Session) Retry() Snapshot {
	s.mu.Lock()
	s.lastSeen = s.now()
	if s.phase != Idle || s.page != PageCapture {
		s.resetLocked()
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return snap
}

// Regenerate 结果页上的“重新生成”，等同于重拍
func (s *Session) Regenerate() Snapshot {
	return s.Retry()
}

// Next 提交之后进入结果页，结果可能还在等待中
func (s *Session) Next() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeen = s.now()
	switch s.phase {
	case Submitted, Resolved, Failed:
		s.page = PageResult
		return s.snapshotLocked(), nil
	default:
		return Snapshot{}, fmt.Errorf("%w: next in %s", ErrInvalidTransition, s.phase)
	}
}

type facingReporter interface {
	Facing() source.FacingMode
}

// facing 来源不报告方向时按前置处理
func (s *Session) facing() source.FacingMode {
	if r, ok := s.src.(facingReporter); ok {
		return r.Facing()
	}
	return source.FacingUser
}

// SwitchFacing 切换前后摄像头，mode 为空时在两者之间来回切换
func (s *Session) SwitchFacing(mode string) (source.FacingMode, error) {
	s.Touch()

	var next source.FacingMode
	if mode == "" {
		next = s.facing().Toggle()
	} else {
		m, err := source.ParseFacingMode(mode)
		if err != nil {
			return "", err
		}
		next = m
	}

	if err := s.src.SwitchFacing(next); err != nil {
		return "", fmt.Errorf("switch facing: %w", err)
	}
	s.log.Info("facing switched", "facing", next)
	return next, nil
}

// SetTorch 设备不支持闪光灯时返回 false
func (s *Session) SetTorch(enabled bool) bool {
	s.Touch()
	if !s.src.SetTorch(enabled) {
		s.log.Debug("torch ignored", "enabled", enabled, "error", source.ErrCapabilityUnavailable)
		return false
	}
	return true
}

// Reference 已拿到的结果引用
func (s *Session) Reference() (rembg.ResultReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeen = s.now()
	if s.phase != Resolved {
		return "", fmt.Errorf("%w: %s", ErrNotResolved, s.phase)
	}
	return s.ref, nil
}

// Payload 本周期的上传数据，Idle 时为 nil
func (s *Session) Payload() *capture.UploadPayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil || s.data.payload == nil {
		return nil
	}
	p := *s.data.payload
	return &p
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Wait 等待所有后台提交结束
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close 取消进行中的提交并释放摄像头
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.data = nil
	s.mu.Unlock()

	s.cancelAll()
	s.stopOrient()
	s.wg.Wait()
	if err := s.src.Close(); err != nil {
		return fmt.Errorf("release camera: %w", err)
	}
	s.log.Debug("session closed")
	return nil
}

func (s *Session) resetLocked() {
	if s.cancelSubmit != nil {
		s.cancelSubmit()
		s.cancelSubmit = nil
	}
	s.cycleID++
	s.phase = Idle
	s.page = PageCapture
	s.data = nil
	s.ref = ""
	s.err = nil
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:               s.id,
		Cycle:            s.cycleID,
		Phase:            s.phase.String(),
		Page:             s.page.String(),
		Reference:        s.ref,
		Orientation:      string(s.orientation),
		LandscapeWarning: s.orientation.NeedsLandscapeWarning(),
	}
	if s.data != nil {
		snap.Captured = s.data.encoded
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

func (s *Session) onOrientation(o source.Orientation) {
	s.mu.Lock()
	s.orientation = o
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

func (s *Session) notify(snap Snapshot) {
	n, ok := s.src.(Notifier)
	if !ok {
		return
	}
	if err := n.Notify(Event{Type: "state", State: snap}); err != nil && !errors.Is(err, source.ErrNoStream) {
		s.log.Warn("notify page", "error", err)
	}
}
