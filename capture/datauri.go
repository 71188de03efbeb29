package capture

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedEncoding = errors.New("malformed image encoding")

// EncodedImage 自描述的文本编码图片：data:<mime>;base64,<payload>
type EncodedImage string

// BinaryPayload 带 MIME 类型的二进制图片
type BinaryPayload struct {
	MIMEType string
	Data     []byte
}

// EncodeBinary 把二进制图片编码为 data URI
func EncodeBinary(bin BinaryPayload) EncodedImage {
	var sb strings.Builder
	sb.Grow(len("data:;base64,") + len(bin.MIMEType) + base64.StdEncoding.EncodedLen(len(bin.Data)))
	sb.WriteString("data:")
	sb.WriteString(bin.MIMEType)
	sb.WriteString(";base64,")
	sb.WriteString(base64.StdEncoding.EncodeToString(bin.Data))
	return EncodedImage(sb.String())
}

// DecodeToBinary 解析 data URI，除 base64 解码外不对字节做任何变换
//
//	必须恰好有一个 ','
//	声明部分必须有 ':' 和 ';'，scheme 为 data，参数里有 base64
func DecodeToBinary(enc EncodedImage) (BinaryPayload, error) {
	s := string(enc)
	if n := strings.Count(s, ","); n != 1 {
		return BinaryPayload{}, fmt.Errorf("%w: want exactly one ',', got %d", ErrMalformedEncoding, n)
	}
	decl, body, _ := strings.Cut(s, ",")

	scheme, rest, ok := strings.Cut(decl, ":")
	if !ok {
		return BinaryPayload{}, fmt.Errorf("%w: missing ':' in declaration", ErrMalformedEncoding)
	}
	if !strings.EqualFold(strings.TrimSpace(scheme), "data") {
		return BinaryPayload{}, fmt.Errorf("%w: unexpected scheme %q", ErrMalformedEncoding, scheme)
	}

	mimeType, params, ok := strings.Cut(rest, ";")
	if !ok {
		return BinaryPayload{}, fmt.Errorf("%w: missing ';' in declaration", ErrMalformedEncoding)
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return BinaryPayload{}, fmt.Errorf("%w: empty mime type", ErrMalformedEncoding)
	}
	if !hasBase64Param(params) {
		return BinaryPayload{}, fmt.Errorf("%w: payload is not declared base64", ErrMalformedEncoding)
	}

	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return BinaryPayload{}, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}

	return BinaryPayload{MIMEType: mimeType, Data: data}, nil
}

func hasBase64Param(params string) bool {
	for _, p := range strings.Split(params, ";") {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			return true
		}
	}
	return false
}
