package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const defaultTimeout = 30 * time.Second

// 错误响应体只截取前面一段放进 error
const maxErrorBody = 512

// MaxResponseBytes 响应体上限，超出直接报错
const MaxResponseBytes = 32 << 20

var ErrResponseTooLarge = errors.New("response body too large")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type HTTPClient struct {
	client  *http.Client
	maxBody int64
}

func NewHTTPClient() IClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: defaultTimeout},
		maxBody: MaxResponseBytes,
	}
}

// NewHTTPClientWith 使用调用方提供的 *http.Client（测试、自定义 Transport）
func NewHTTPClientWith(c *http.Client) IClient {
	if c == nil {
		return NewHTTPClient()
	}
	return &HTTPClient{client: c, maxBody: MaxResponseBytes}
}

func (c *HTTPClient) DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error {
	if requestParam == nil {
		return errors.New("request param is nil")
	}

	if requestParam.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestParam.Timeout)
		defer cancel()
	}

	body, err := encodeBody(requestParam.Body)
	if err != nil {
		return err
	}

	method := requestParam.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, requestParam.RequestURI, body)
	if err != nil {
		return err
	}
	for k, v := range requestParam.Header {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		return fmt.Errorf("%w: over %d bytes from %s", ErrResponseTooLarge, c.maxBody, requestParam.RequestURI)
	}

	slog.Debug("http request done", "method", method, "uri", requestParam.RequestURI,
		"status", resp.StatusCode, "bytes", len(data), "elapsed", time.Since(start))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, string(data))
	}

	if requestParam.ResponseHeader != nil {
		*requestParam.ResponseHeader = resp.Header.Clone()
	}

	switch out := requestParam.Response.(type) {
	case nil:
		return nil
	case *[]byte:
		*out = data
		return nil
	default:
		if len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response body: %w", err)
		}
		return nil
	}
}

func encodeBody(body interface{}) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case io.Reader:
		return b, nil
	case []byte:
		return bytes.NewReader(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		return bytes.NewReader(data), nil
	}
}
