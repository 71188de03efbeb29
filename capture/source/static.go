package source

import (
	"context"
	"image"
	"sync"

	"github.com/chaos-io/photobooth/capture"
	"github.com/chaos-io/photobooth/util"
	nhttp "github.com/chaos-io/photobooth/util/http"
)

// StaticSource 用一张静态图片充当摄像头画面，供命令行和测试使用
type StaticSource struct {
	mu        sync.Mutex
	img       image.Image
	facing    FacingMode
	closed    bool
	listeners listeners
}

func NewStaticSource(img image.Image) *StaticSource {
	return &StaticSource{img: img, facing: FacingUser}
}

// LoadStaticSource 从本地路径或 http(s) 地址加载图片
func LoadStaticSource(ctx context.Context, cli nhttp.IClient, path string) (*StaticSource, error) {
	img, err := util.LoadImage(ctx, cli, path)
	if err != nil {
		return nil, err
	}
	return NewStaticSource(img), nil
}

func (s *StaticSource) CurrentFrame(ctx context.Context) (*capture.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.img == nil {
		return nil, ErrNoStream
	}
	return capture.NewFrame(s.img), nil
}

func (s *StaticSource) SwitchFacing(mode FacingMode) error {
	if _, err := ParseFacingMode(string(mode)); err != nil {
		return err
	}
	s.mu.Lock()
	s.facing = mode
	s.mu.Unlock()
	return nil
}

func (s *StaticSource) Facing() FacingMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facing
}

// SetTorch 静态图片没有闪光灯
func (s *StaticSource) SetTorch(bool) bool {
	return false
}

// OnOrientationChange 注册后立即按图片宽高比回调一次
func (s *StaticSource) OnOrientationChange(fn func(Orientation)) func() {
	s.mu.Lock()
	id := s.listeners.add(fn)
	img := s.img
	s.mu.Unlock()

	if img != nil {
		o := Landscape
		if b := img.Bounds(); b.Dy() > b.Dx() {
			o = Portrait
		}
		fn(o)
	}

	return func() {
		s.mu.Lock()
		s.listeners.remove(id)
		s.mu.Unlock()
	}
}

func (s *StaticSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
