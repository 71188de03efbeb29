// Package present 结果展示需要的数据：二维码、下载
package present

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/chaos-io/photobooth/capture"
	"github.com/chaos-io/photobooth/rembg"
	"github.com/chaos-io/photobooth/util"
	nhttp "github.com/chaos-io/photobooth/util/http"
)

const (
	DefaultDownloadName = "photobooth.jpeg"
	DefaultQRSize       = 256
)

var (
	ErrNetwork              = rembg.ErrNetwork
	ErrQRUnavailable        = errors.New("reference cannot be encoded as QR code")
	ErrUnsupportedReference = errors.New("unsupported result reference")
	ErrEmptyReference       = errors.New("empty result reference")
)

// QRCode 把结果引用原样编码为 PNG 二维码
// data URI 形式的结果通常超过二维码容量，返回 ErrQRUnavailable
func QRCode(ref rembg.ResultReference, size int) ([]byte, error) {
	if ref == "" {
		return nil, ErrEmptyReference
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(string(ref), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQRUnavailable, err)
	}
	return png, nil
}

// Fetcher 下载时重新获取结果引用指向的图片
type Fetcher struct {
	cli nhttp.IClient
}

func NewFetcher(cli nhttp.IClient) *Fetcher {
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}
	return &Fetcher{cli: cli}
}

// Fetch data: 引用直接解码，http(s) 引用重新下载
// 与原页面一致，下载的文件类型固定为 image/jpeg。引用按原样使用，不做任何清洗
func (f *Fetcher) Fetch(ctx context.Context, ref rembg.ResultReference) (capture.BinaryPayload, error) {
	s := string(ref)
	switch {
	case s == "":
		return capture.BinaryPayload{}, ErrEmptyReference
	case len(s) > 5 && strings.EqualFold(s[:5], "data:"):
		bin, err := capture.DecodeToBinary(capture.EncodedImage(s))
		if err != nil {
			return capture.BinaryPayload{}, err
		}
		return capture.BinaryPayload{MIMEType: capture.MIMEJPEG, Data: bin.Data}, nil
	case util.IsRemote(s):
		var data []byte
		err := f.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
			RequestURI: s,
			Method:     http.MethodGet,
			Response:   &data,
		})
		if err != nil {
			return capture.BinaryPayload{}, fmt.Errorf("%w: fetch result: %w", ErrNetwork, err)
		}
		return capture.BinaryPayload{MIMEType: capture.MIMEJPEG, Data: data}, nil
	default:
		return capture.BinaryPayload{}, fmt.Errorf("%w: %.32q", ErrUnsupportedReference, s)
	}
}

// ContentDisposition 固定文件名的下载头
func ContentDisposition(name string) string {
	if name == "" {
		name = DefaultDownloadName
	}
	return fmt.Sprintf(`attachment; filename="%s"`, strings.ReplaceAll(name, `"`, ""))
}
