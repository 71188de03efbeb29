package rembg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/chaos-io/photobooth/capture"
	nhttp "github.com/chaos-io/photobooth/util/http"
)

const DefaultEndpoint = "https://ai-photobooth.cyclic.cloud/bg-changer"

type Option func(*RemoteClient)

func WithHTTPClient(cli nhttp.IClient) Option {
	return func(r *RemoteClient) {
		r.cli = cli
	}
}

// WithTimeout 单次提交超时，0 表示只用 http.Client 自身的超时
func WithTimeout(d time.Duration) Option {
	return func(r *RemoteClient) {
		r.timeout = d
	}
}

// WithRateLimit 限制对远程服务的提交频率，perMinute <= 0 不限制
func WithRateLimit(perMinute, burst int) Option {
	return func(r *RemoteClient) {
		if perMinute <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60), max(burst, 1))
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(r *RemoteClient) {
		r.log = log
	}
}

// RemoteClient 以 multipart 表单 POST 到换背景服务
type RemoteClient struct {
	endpoint string
	cli      nhttp.IClient
	timeout  time.Duration
	limiter  *rate.Limiter
	log      *slog.Logger
}

func NewRemoteClient(endpoint string, opts ...Option) *RemoteClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	r := &RemoteClient{
		endpoint: endpoint,
		cli:      nhttp.NewHTTPClient(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RemoteClient) Endpoint() string {
	return r.endpoint
}

type submitResp struct {
	Image string `json:"image"`
}

/*
	curl -X POST "https://ai-photobooth.cyclic.cloud/bg-changer" \
	  -F "input_image=@image.jpeg;type=image/jpeg"

{"image": "https://.../result.jpeg"}
*/
func (r *RemoteClient) Submit(ctx context.Context, payload capture.UploadPayload) (ResultReference, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: rate limit: %w", ErrNetwork, err)
		}
	}

	body, contentType, err := payload.Body()
	if err != nil {
		return "", err
	}

	reqParam := &nhttp.RequestParam{
		RequestURI: r.endpoint,
		Method:     "POST",
		Header:     map[string]string{"Content-Type": contentType},
		Body:       body,
		Response:   &submitResp{},
		Timeout:    r.timeout,
	}
	if err := r.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return "", fmt.Errorf("%w: do request: %w", ErrNetwork, err)
	}

	resp := reqParam.Response.(*submitResp)
	r.log.Debug("get the response", "endpoint", r.endpoint, "image_len", len(resp.Image))
	if resp.Image == "" {
		return "", fmt.Errorf("%w: response has no image", ErrNetwork)
	}

	return ResultReference(resp.Image), nil
}
