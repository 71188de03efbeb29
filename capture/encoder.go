package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
)

const (
	MIMEJPEG = "image/jpeg"

	// DefaultQuality 与浏览器 canvas.toDataURL("image/jpeg") 的默认质量 0.92 一致
	DefaultQuality = 92
)

var ErrEmptyFrame = errors.New("empty frame")

type Option func(*Encoder)

// WithQuality JPEG 质量，限制在 1-100
func WithQuality(quality int) Option {
	return func(e *Encoder) {
		e.quality = min(max(quality, 1), 100)
	}
}

// WithMaxEdge 压缩前把最长边缩到 maxEdge 以内，0 表示不缩放
func WithMaxEdge(maxEdge int) Option {
	return func(e *Encoder) {
		e.maxEdge = max(maxEdge, 0)
	}
}

// Encoder 把一帧画面压缩为 JPEG 并编码成 data URI
type Encoder struct {
	quality int
	maxEdge int
}

func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{quality: DefaultQuality}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Encoder) Quality() int {
	return e.quality
}

// EncodeFrame 帧 -> data:image/jpeg;base64,...
// 空帧返回 ErrEmptyFrame，不产生任何输出
func (e *Encoder) EncodeFrame(frame *Frame) (EncodedImage, error) {
	raw, err := e.Rasterize(frame)
	if err != nil {
		return "", err
	}
	return EncodeBinary(BinaryPayload{MIMEType: MIMEJPEG, Data: raw}), nil
}

// Rasterize 只做有损压缩这一步，返回 JPEG 字节
// 相同输入、相同质量下输出逐字节一致
func (e *Encoder) Rasterize(frame *Frame) ([]byte, error) {
	if frame.Empty() {
		return nil, ErrEmptyFrame
	}

	img := resizeWithinMax(frame.Image(), e.maxEdge)

	var buf bytes.Buffer
	buf.Grow(256 * 1024)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
