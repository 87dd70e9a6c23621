package cache

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
)

// Codec 在原始字节与内存 payload 之间转换。Decode 返回 false 时与抓取失败同等处理；
// Encode 用于淘汰落盘与 PersistCacheToDisk。
type Codec[P any] interface {
	Decode(data []byte) (P, bool)
	Encode(payload P) ([]byte, error)
}

// BytesCodec keeps blobs as raw bytes.
type BytesCodec struct{}

func (BytesCodec) Decode(data []byte) ([]byte, bool) {
	if data == nil {
		return nil, false
	}
	return data, true
}

func (BytesCodec) Encode(payload []byte) ([]byte, error) {
	return payload, nil
}

// ImageCodec decodes PNG, JPEG and GIF blobs and writes them back as PNG.
type ImageCodec struct{}

func (ImageCodec) Decode(data []byte) (image.Image, bool) {
	if len(data) == 0 {
		return nil, false
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	return img, true
}

func (ImageCodec) Encode(payload image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
