package codec

import (
	"github.com/bytedance/sonic"
)

// JSONCodec trades msgpack's compactness for readability. Numbers decoded into
// an interface come back as float64.
type JSONCodec struct{}

var jsonConfig = sonic.ConfigStd

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return jsonConfig.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return jsonConfig.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
