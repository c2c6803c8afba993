// Package wire encodes log entries and LogService messages in the protobuf wire format. The layouts mirror the
// following definitions, so any protobuf implementation can talk to a replica:
//
//	message LogEntry            { int64 term = 1; int64 index = 2; bytes data = 3; google.protobuf.Timestamp created_at = 4; }
//	message PrevLog             { int64 index = 1; int64 term = 2; }
//	message AppendEntryRequest  { int64 term = 1; bytes data = 2; PrevLog prev = 3; }
//	message AppendEntryResponse { bool success = 1; int64 current_term = 2; int64 log_index = 3; string message = 4; int64 truncated = 5; }
//	message CommitRequest       { int64 leader_commit = 1; }
//	message CommitResponse      { bool success = 1; int64 committed_count = 2; int64 commit_index = 3; }
//	message AdvanceTermRequest  { int64 term = 1; }
//	message AdvanceTermResponse { bool advanced = 1; int64 current_term = 2; }
//	message TermAtRequest       { int64 index = 1; }
//	message TermAtResponse      { int64 term = 1; }
//	message SnapshotRequest     {}
//	message LogInfo             { string node_id = 1; int64 current_term = 2; int64 log_length = 3; int64 commit_index = 4;
//	                              int64 last_log_index = 5; int64 last_log_term = 6; optional string voted_for = 7; }
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every type that travels over the LogService
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal(b []byte) error
}

// fieldReader walks the fields of an encoded message
type fieldReader struct {
	b []byte
}

func newFieldReader(b []byte) *fieldReader {
	return &fieldReader{b: b}
}

func (r *fieldReader) done() bool {
	return len(r.b) == 0
}

func (r *fieldReader) next() (protowire.Number, protowire.Type, error) {
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		return 0, 0, fmt.Errorf("failed to read field tag: %w", protowire.ParseError(n))
	}
	r.b = r.b[n:]
	return num, typ, nil
}

func (r *fieldReader) varint(num protowire.Number, typ protowire.Type) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("field %d: expected varint, got wire type %d", num, typ)
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		return 0, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
	}
	r.b = r.b[n:]
	return v, nil
}

func (r *fieldReader) int64(num protowire.Number, typ protowire.Type) (int64, error) {
	v, err := r.varint(num, typ)
	return int64(v), err
}

func (r *fieldReader) bool(num protowire.Number, typ protowire.Type) (bool, error) {
	v, err := r.varint(num, typ)
	return protowire.DecodeBool(v), err
}

func (r *fieldReader) bytes(num protowire.Number, typ protowire.Type) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("field %d: expected bytes, got wire type %d", num, typ)
	}
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
	}
	r.b = r.b[n:]
	// The input buffer may be reused by the caller
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (r *fieldReader) string(num protowire.Number, typ protowire.Type) (string, error) {
	v, err := r.bytes(num, typ)
	return string(v), err
}

// skip discards a field this version does not know about
func (r *fieldReader) skip(num protowire.Number, typ protowire.Type) error {
	n := protowire.ConsumeFieldValue(num, typ, r.b)
	if n < 0 {
		return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
	}
	r.b = r.b[n:]
	return nil
}

// Proto3 leaves zero values off the wire
func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// appendMessage always writes the field, an empty embedded message still marks presence
func appendMessage(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}
