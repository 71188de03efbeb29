package capture

import (
	"image"
	"time"

	"golang.org/x/image/draw"
)

// Frame 某一时刻从视频源截取的一帧位图
//
//	Pix 为 RGBA 像素，每像素 4 字节，行跨度 4*Width
//	创建后不再修改
type Frame struct {
	Width      int
	Height     int
	Pix        []byte
	CapturedAt time.Time
}

// NewFrame 把任意可绘制的图像栅格化为 Frame（相当于 canvas.drawImage）
func NewFrame(src image.Image) *Frame {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	return &Frame{
		Width:      b.Dx(),
		Height:     b.Dy(),
		Pix:        dst.Pix,
		CapturedAt: time.Now(),
	}
}

// Empty 宽或高为 0，或像素缓冲不足时认为是空帧（摄像头还没出画面）
func (f *Frame) Empty() bool {
	if f == nil || f.Width <= 0 || f.Height <= 0 {
		return true
	}
	return len(f.Pix) < 4*f.Width*f.Height
}

// Image 以 *image.RGBA 的形式共享底层像素，不拷贝
func (f *Frame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: 4 * f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// Mirrored 水平翻转后的新帧，前置摄像头的预览通常是镜像的
func (f *Frame) Mirrored() *Frame {
	if f.Empty() {
		return f
	}
	out := &Frame{
		Width:      f.Width,
		Height:     f.Height,
		Pix:        make([]byte, len(f.Pix)),
		CapturedAt: f.CapturedAt,
	}
	stride := 4 * f.Width
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*stride : (y+1)*stride]
		dst := out.Pix[y*stride : (y+1)*stride]
		for x := 0; x < f.Width; x++ {
			copy(dst[4*(f.Width-1-x):4*(f.Width-x)], src[4*x:4*x+4])
		}
	}
	return out
}
