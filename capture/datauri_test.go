package capture

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeToBinary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		encoded  EncodedImage
		wantMIME string
		wantData []byte
	}{
		{
			name:     "jpeg",
			encoded:  "data:image/jpeg;base64,XXXX",
			wantMIME: "image/jpeg",
			wantData: mustDecode(t, "XXXX"),
		},
		{
			name:     "png带额外参数",
			encoded:  "data:image/png;charset=binary;base64,iVBORw0KGgo=",
			wantMIME: "image/png",
			wantData: mustDecode(t, "iVBORw0KGgo="),
		},
		{
			name:     "大写scheme",
			encoded:  "DATA:image/webp;BASE64,AAEC",
			wantMIME: "image/webp",
			wantData: []byte{0, 1, 2},
		},
		{
			name:     "空payload",
			encoded:  "data:image/jpeg;base64,",
			wantMIME: "image/jpeg",
			wantData: []byte{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := DecodeToBinary(tt.encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMIME, got.MIMEType)
			assert.Equal(t, len(tt.wantData), len(got.Data))
			assert.Equal(t, tt.wantData, got.Data)
		})
	}
}

func TestDecodeToBinary_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		encoded EncodedImage
	}{
		{name: "缺少逗号", encoded: "data:image/jpeg;base64XXXX"},
		{name: "多个逗号", encoded: "data:image/jpeg;base64,XX,XX"},
		{name: "缺少冒号", encoded: "dataimage/jpeg;base64,XXXX"},
		{name: "缺少分号", encoded: "data:image/jpeg,XXXX"},
		{name: "scheme不是data", encoded: "blob:image/jpeg;base64,XXXX"},
		{name: "mime为空", encoded: "data:;base64,XXXX"},
		{name: "不是base64编码", encoded: "data:image/jpeg;utf8,XXXX"},
		{name: "非法base64", encoded: "data:image/jpeg;base64,@@@"},
		{name: "空字符串", encoded: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := DecodeToBinary(tt.encoded)
			assert.ErrorIs(t, err, ErrMalformedEncoding)
			assert.Empty(t, got.Data)
		})
	}
}

func TestEncodeBinary(t *testing.T) {
	t.Parallel()

	bin := BinaryPayload{MIMEType: MIMEJPEG, Data: []byte{0xff, 0xd8, 0xff, 0xe0}}
	enc := EncodeBinary(bin)
	assert.Equal(t, EncodedImage("data:image/jpeg;base64,/9j/4A=="), enc)

	back, err := DecodeToBinary(enc)
	require.NoError(t, err)
	assert.Equal(t, bin, back)
}

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	return b
}
