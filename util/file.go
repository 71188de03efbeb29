package util

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	_ "golang.org/x/image/webp"

	nhttp "github.com/chaos-io/photobooth/util/http"
)

// IsRemote http(s) 地址
func IsRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// LoadImage 本地路径或 http(s) 地址都可以
func LoadImage(ctx context.Context, cli nhttp.IClient, path string) (image.Image, error) {
	if IsRemote(path) {
		return DownloadImage(ctx, cli, path)
	}
	return OpenImage(path)
}

// DownloadImage 下载图片
func DownloadImage(ctx context.Context, cli nhttp.IClient, url string) (image.Image, error) {
	var imgData []byte
	err := cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: url,
		Method:     "GET",
		Response:   &imgData,
	})
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// OpenImage 打开本地图片
func OpenImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
