package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/photobooth/capture"
	"github.com/chaos-io/photobooth/capture/source"
	"github.com/chaos-io/photobooth/rembg"
)

type call struct {
	ctx     context.Context
	payload capture.UploadPayload
	reply   chan reply
}

type reply struct {
	ref rembg.ResultReference
	err error
}

// gatedSubmitter 每次提交都阻塞，直到测试给出结果
type gatedSubmitter struct {
	calls chan call
}

func newGatedSubmitter() *gatedSubmitter {
	return &gatedSubmitter{calls: make(chan call, 8)}
}

func (g *gatedSubmitter) Submit(ctx context.Context, payload capture.UploadPayload) (rembg.ResultReference, error) {
	c := call{ctx: ctx, payload: payload, reply: make(chan reply, 1)}
	g.calls <- c
	select {
	case r := <-c.reply:
		return r.ref, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gatedSubmitter) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-g.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no submission")
		return call{}
	}
}

func testSource(w, h int) *source.StaticSource {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 90, G: 160, B: 60, A: 255}}, image.Point{}, draw.Src)
	return source.NewStaticSource(img)
}

func waitPhase(t *testing.T, s *Session, want Phase) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = s.Snapshot()
		return snap.Phase == want.String()
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestSession_CaptureResolve(t *testing.T) {
	t.Parallel()

	sub := newGatedSubmitter()
	s := New("s1", testSource(64, 36), sub)
	defer func() { _ = s.Close() }()

	snap, err := s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "submitted", snap.Phase)
	assert.Equal(t, "capture", snap.Page)
	assert.Contains(t, string(snap.Captured), "data:image/jpeg;base64,")

	c := sub.next(t)
	assert.Equal(t, capture.FieldInputImage, c.payload.FieldName)
	assert.Equal(t, capture.UploadFileName, c.payload.FileName)
	assert.Equal(t, capture.MIMEJPEG, c.payload.ContentType)

	bin, err := capture.DecodeToBinary(snap.Captured)
	require.NoError(t, err)
	assert.Equal(t, bin.Data, c.payload.Data)

	_, err = s.Reference()
	assert.ErrorIs(t, err, ErrNotResolved)

	snap, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, "result", snap.Page)

	c.reply <- reply{ref: "https://cdn.example.com/r.jpeg"}
	snap = waitPhase(t, s, Resolved)
	assert.Equal(t, rembg.ResultReference("https://cdn.example.com/r.jpeg"), snap.Reference)
	assert.Equal(t, "result", snap.Page)

	ref, err := s.Reference()
	require.NoError(t, err)
	assert.Equal(t, snap.Reference, ref)
}

func TestSession_CaptureOutOfSequence(t *testing.T) {
	t.Parallel()

	sub := newGatedSubmitter()
	s := New("s2", testSource(8, 8), sub)
	defer func() { _ = s.Close() }()

	_, err := s.Next()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.Capture(context.Background())
	require.NoError(t, err)
	_, err = s.Capture(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSession_FailedIsDistinctFromSubmitted(t *testing.T) {
	t.Parallel()

	sub := newGatedSubmitter()
	s := New("s3", testSource(8, 8), sub)
	defer func() { _ = s.Close() }()

	_, err := s.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "submitted", s.Snapshot().Phase)

	sub.next(t).reply <- reply{err: errors.New("bg-changer is down")}
	snap := waitPhase(t, s, Failed)
	assert.Contains(t, snap.Error, "bg-changer is down")
	assert.Empty(t, snap.Reference)

	// 失败后可以重拍
	snap = s.Retry()
	assert.Equal(t, "idle", snap.Phase)
	assert.Empty(t, snap.Error)
	_, err = s.Capture(context.Background())
	require.NoError(t, err)
}

func TestSession_RetryClearsCycleData(t *testing.T) {
	t.Parallel()

	sub := newGatedSubmitter()
	s := New("s4", testSource(16, 9), sub)
	defer func() { _ = s.Close() }()

	first, err := s.Capture(context.Background())
	require.NoError(t, err)
	firstCall := sub.next(t)
	require.NotNil(t, s.Payload())

	snap := s.Retry()
	assert.Equal(t, "idle", snap.Phase)
	assert.Equal(t, "capture", snap.Page)
	assert.Empty(t, snap.Captured)
	assert.Nil(t, s.Payload())
	assert.Greater(t, snap.Cycle, first.Cycle)

	// 进行中的提交被取消
	select {
	case <-firstCall.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("in-flight submission not canceled")
	}

	second, err := s.Capture(context.Background())
	require.NoError(t, err)
	secondCall := sub.next(t)

	p := s.Payload()
	require.NotNil(t, p)
	assert.Equal(t, capture.FieldInputImage, p.FieldName)
	assert.Equal(t, secondCall.payload.Data, p.Data)

	body, _, err := p.Body()
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(body.String(), `name="input_image"`))
	assert.Equal(t, second.Cycle, s.Snapshot().Cycle)
}

func TestSession_StaleResultIgnored(t *testing.T) {
	t.Parallel()

	// 不响应取消的提交器，模拟晚到的结果
	var mu sync.Mutex
	release := make(chan struct{})
	n := 0
	sub := submitterFunc(func(ctx context.Context, p capture.UploadPayload) (rembg.ResultReference, error) {
		mu.Lock()
		n++
		i := n
		mu.Unlock()
		if i == 1 {
			<-release
			return "stale", nil
		}
		return "fresh", nil
	})

	s := New("s5", testSource(8, 8), sub)
	defer func() { _ = s.Close() }()

	_, err := s.Capture(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)
	s.Retry()

	_, err = s.Capture(context.Background())
	require.NoError(t, err)
	waitPhase(t, s, Resolved)

	close(release)
	s.Wait()

	ref, err := s.Reference()
	require.NoError(t, err)
	assert.Equal(t, rembg.ResultReference("fresh"), ref)
}

func TestSession_NoStream(t *testing.T) {
	t.Parallel()

	src := testSource(8, 8)
	require.NoError(t, src.Close())
	s := New("s6", src, newGatedSubmitter())
	defer func() { _ = s.Close() }()

	_, err := s.Capture(context.Background())
	assert.ErrorIs(t, err, source.ErrNoStream)
	assert.Equal(t, "idle", s.Snapshot().Phase)
}

func TestSession_EmptyFrame(t *testing.T) {
	t.Parallel()

	s := New("s7", source.NewStaticSource(image.NewRGBA(image.Rect(0, 0, 0, 0))), newGatedSubmitter())
	defer func() { _ = s.Close() }()

	_, err := s.Capture(context.Background())
	assert.ErrorIs(t, err, capture.ErrEmptyFrame)

	snap := s.Snapshot()
	assert.Equal(t, "idle", snap.Phase)
	assert.Empty(t, snap.Captured)
	assert.Nil(t, s.Payload())
}

func TestSession_Orientation(t *testing.T) {
	t.Parallel()

	// 竖拍的静态图片
	s := New("s8", testSource(9, 16), newGatedSubmitter())
	defer func() { _ = s.Close() }()

	snap := s.Snapshot()
	assert.Equal(t, "portrait", snap.Orientation)
	assert.True(t, snap.LandscapeWarning)
}

func TestSession_Close(t *testing.T) {
	t.Parallel()

	sub := newGatedSubmitter()
	src := testSource(8, 8)
	s := New("s9", src, sub)

	_, err := s.Capture(context.Background())
	require.NoError(t, err)
	c := sub.next(t)

	require.NoError(t, s.Close())
	assert.Error(t, c.ctx.Err())

	_, err = src.CurrentFrame(context.Background())
	assert.ErrorIs(t, err, source.ErrNoStream)

	_, err = s.Capture(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.NoError(t, s.Close())
}

type submitterFunc func(ctx context.Context, p capture.UploadPayload) (rembg.ResultReference, error)

func (f submitterFunc) Submit(ctx context.Context, p capture.UploadPayload) (rembg.ResultReference, error) {
	return f(ctx, p)
}

func TestSession_SwitchFacing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modes   []string
		want    source.FacingMode
		wantErr error
	}{
		{name: "空参数来回切换", modes: []string{""}, want: source.FacingEnvironment},
		{name: "切换两次回到前置", modes: []string{"", ""}, want: source.FacingUser},
		{name: "指定后置", modes: []string{"environment"}, want: source.FacingEnvironment},
		{name: "非法方向", modes: []string{"sideways"}, wantErr: source.ErrInvalidFacing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := testSource(8, 8)
			s := New("facing", src, newGatedSubmitter())
			defer func() { _ = s.Close() }()

			var got source.FacingMode
			var err error
			for _, m := range tt.modes {
				got, err = s.SwitchFacing(m)
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, src.Facing())
		})
	}
}

func TestSession_SetTorchUnsupported(t *testing.T) {
	t.Parallel()

	s := New("torch", testSource(8, 8), newGatedSubmitter())
	defer func() { _ = s.Close() }()

	assert.False(t, s.SetTorch(true))
}

func TestSession_MirrorUserFacing(t *testing.T) {
	t.Parallel()

	// 左半红右半蓝
	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	draw.Draw(img, image.Rect(0, 0, 16, 16), &image.Uniform{C: color.RGBA{R: 255, A: 255}}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(16, 0, 32, 16), &image.Uniform{C: color.RGBA{B: 255, A: 255}}, image.Point{}, draw.Src)

	leftPixel := func(t *testing.T, mirror bool, facing source.FacingMode) color.RGBA {
		src := source.NewStaticSource(img)
		require.NoError(t, src.SwitchFacing(facing))
		s := New("mirror", src, newGatedSubmitter(), WithMirrorUserFacing(mirror))
		defer func() { _ = s.Close() }()

		snap, err := s.Capture(context.Background())
		require.NoError(t, err)
		bin, err := capture.DecodeToBinary(snap.Captured)
		require.NoError(t, err)
		decoded, err := jpeg.Decode(bytes.NewReader(bin.Data))
		require.NoError(t, err)
		r, g, b, _ := decoded.At(4, 8).RGBA()
		return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
	}

	tests := []struct {
		name     string
		mirror   bool
		facing   source.FacingMode
		wantBlue bool
	}{
		{name: "默认不翻转", mirror: false, facing: source.FacingUser, wantBlue: false},
		{name: "前置摄像头翻转", mirror: true, facing: source.FacingUser, wantBlue: true},
		{name: "后置摄像头不翻转", mirror: true, facing: source.FacingEnvironment, wantBlue: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := leftPixel(t, tt.mirror, tt.facing)
			assert.Equal(t, tt.wantBlue, c.B > c.R, "pixel %v", c)
		})
	}
}
