package session

import (
	"errors"
	"fmt"

	"github.com/chaos-io/photobooth/capture"
	"github.com/chaos-io/photobooth/rembg"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotResolved       = errors.New("result not resolved")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionClosed     = errors.New("session closed")
)

// Phase 一个拍摄周期所处的阶段
//
//	Idle -> Captured -> Encoded -> Submitted -> Resolved | Failed
//	任意阶段 Retry 回到 Idle，丢弃本周期的所有数据
type Phase int

const (
	Idle Phase = iota
	Captured
	Encoded
	Submitted
	Resolved
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Captured:
		return "captured"
	case Encoded:
		return "encoded"
	case Submitted:
		return "submitted"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Page 页面：拍摄页或结果页
type Page int

const (
	PageCapture Page = iota
	PageResult
)

func (p Page) String() string {
	if p == PageResult {
		return "result"
	}
	return "capture"
}

// Snapshot 会话状态的只读快照，直接作为 API 响应
type Snapshot struct {
	ID               string                `json:"id"`
	Cycle            uint64                `json:"cycle"`
	Phase            string                `json:"phase"`
	Page             string                `json:"page"`
	Captured         capture.EncodedImage  `json:"captured,omitempty"`
	Reference        rembg.ResultReference `json:"reference,omitempty"`
	Error            string                `json:"error,omitempty"`
	Orientation      string                `json:"orientation,omitempty"`
	LandscapeWarning bool                  `json:"landscape_warning"`
}

// Event 推送给页面的状态变化
type Event struct {
	Type  string   `json:"type"`
	State Snapshot `json:"state"`
}

// cycle 本周期拥有的数据，Retry 时整体丢弃
type cycle struct {
	frame   *capture.Frame
	encoded capture.EncodedImage
	payload *capture.UploadPayload
}
