// Package source 提供拍摄用的帧来源：静态图片或浏览器推送的实时画面
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/chaos-io/photobooth/capture"
)

var (
	ErrNoStream              = errors.New("no active camera stream")
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrInvalidFacing         = errors.New("invalid facing mode")
)

// FrameSource 持有摄像头流，对外提供当前画面
//
//	SetTorch 返回 false 表示设备没有闪光灯，这不是错误
//	Close 释放设备，之后 CurrentFrame 返回 ErrNoStream
type FrameSource interface {
	CurrentFrame(ctx context.Context) (*capture.Frame, error)
	SwitchFacing(mode FacingMode) error
	SetTorch(enabled bool) bool
	OnOrientationChange(fn func(Orientation)) (cancel func())
	Close() error
}

type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

func ParseFacingMode(s string) (FacingMode, error) {
	switch m := FacingMode(s); m {
	case FacingUser, FacingEnvironment:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFacing, s)
	}
}

// Toggle 前后摄像头切换
func (m FacingMode) Toggle() FacingMode {
	if m == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

type Orientation string

const (
	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
)

// OrientationFromAngle 设备没有上报角度或角度为 0 时按竖屏处理
func OrientationFromAngle(angle *int) Orientation {
	if angle == nil || *angle == 0 {
		return Portrait
	}
	return Landscape
}

// NeedsLandscapeWarning 竖屏时提示切换到横屏
func (o Orientation) NeedsLandscapeWarning() bool {
	return o == Portrait
}

// listeners 方向变化回调
type listeners struct {
	next int
	fns  map[int]func(Orientation)
}

func (l *listeners) add(fn func(Orientation)) int {
	if l.fns == nil {
		l.fns = make(map[int]func(Orientation))
	}
	l.next++
	l.fns[l.next] = fn
	return l.next
}

func (l *listeners) remove(id int) {
	delete(l.fns, id)
}

func (l *listeners) snapshot() []func(Orientation) {
	out := make([]func(Orientation), 0, len(l.fns))
	for _, fn := range l.fns {
		out = append(out, fn)
	}
	return out
}
