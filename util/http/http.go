package http

import (
	"context"
	"net/http"
	"time"
)

//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam 一次请求的参数
//
//	Body: nil / io.Reader / []byte 原样发送，其他类型按 JSON 序列化
//	Response: *[]byte 保存原始响应体，其他非 nil 值按 JSON 反序列化
//	ResponseHeader: 非 nil 时写入响应头
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       interface{}
	Response   interface{}

	ResponseHeader *http.Header
	Timeout        time.Duration
}
