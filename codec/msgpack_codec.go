package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec is the wire format spoken by ZSS brokers.
// Map keys are written sorted so identical values always produce identical
// frames. Decoding into an interface yields int64/uint64/float64 for numbers.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *MsgpackCodec) Decode(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}

func (c *MsgpackCodec) Type() CodecType {
	return CodecTypeMsgpack
}
