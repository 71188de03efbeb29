package capture

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
)

const (
	FieldInputImage = "input_image"
	UploadFileName  = "image.jpeg"
)

// UploadPayload 一次提交只有一个图片字段，每个拍摄周期新建，不跨周期复用
type UploadPayload struct {
	FieldName   string
	FileName    string
	ContentType string
	Data        []byte
}

// BuildUploadPayload 用固定文件名和二进制自带的 MIME 类型包装图片
func BuildUploadPayload(bin BinaryPayload, fieldName, fileName string) UploadPayload {
	return UploadPayload{
		FieldName:   fieldName,
		FileName:    fileName,
		ContentType: bin.MIMEType,
		Data:        bin.Data,
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Body 生成 multipart/form-data 请求体，返回请求体和 Content-Type
func (p UploadPayload) Body() (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(p.FieldName), quoteEscaper.Replace(p.FileName)))
	h.Set("Content-Type", p.ContentType)

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(p.Data); err != nil {
		return nil, "", fmt.Errorf("copy form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return body, writer.FormDataContentType(), nil
}
