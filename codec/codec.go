// Package codec encodes the structured values carried in the address, headers
// and payload frames of a ZSS message.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeMsgpack CodecType = 0
	CodecTypeJSON    CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=Msgpack, 1=JSON
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &MsgpackCodec{}
}

// ParseCodecType maps a configuration name ("msgpack", "json") to its type.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "msgpack":
		return CodecTypeMsgpack, nil
	case "json":
		return CodecTypeJSON, nil
	}
	return 0, fmt.Errorf("codec: unknown codec %q", name)
}

func (t CodecType) String() string {
	if t == CodecTypeJSON {
		return "json"
	}
	return "msgpack"
}
