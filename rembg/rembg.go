// Package rembg 把拍到的图片提交给远程换背景服务
package rembg

import (
	"context"
	"errors"
	"fmt"

	"github.com/chaos-io/photobooth/capture"
)

var ErrNetwork = errors.New("network error")

// ResultReference 远程服务返回的结果引用（URL 或 data URI），下游原样使用
type ResultReference string

// Submitter 每次调用只提交一个图片字段，不做重试
type Submitter interface {
	Submit(ctx context.Context, payload capture.UploadPayload) (ResultReference, error)
}

// EchoClient 离线调试用：不换背景，直接把提交的图片作为结果返回
type EchoClient struct{}

func NewEchoClient() *EchoClient {
	return &EchoClient{}
}

func (e *EchoClient) Submit(ctx context.Context, payload capture.UploadPayload) (ResultReference, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	enc := capture.EncodeBinary(capture.BinaryPayload{MIMEType: payload.ContentType, Data: payload.Data})
	return ResultReference(enc), nil
}
