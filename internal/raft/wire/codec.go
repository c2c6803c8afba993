package wire

import (
	"fmt"
)

// CodecName is the gRPC content-subtype used by the LogService
const CodecName = "raftlog"

// Codec is a gRPC encoding.Codec for Message values. It is forced on both ends of a LogService connection, so the
// default proto codec, which needs generated types, is never consulted.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("raftlog codec: cannot marshal %T", v)
	}
	return m.Marshal()
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("raftlog codec: cannot unmarshal into %T", v)
	}
	return m.Unmarshal(data)
}

func (Codec) Name() string {
	return CodecName
}
