package wire

import (
	"fmt"
	"time"

	"raft-log-core/internal/raft"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// LogEntry is the stored and transmitted form of a raft.LogEntry
type LogEntry struct {
	raft.LogEntry
}

func (m *LogEntry) Marshal() ([]byte, error) {
	var b []byte
	b = appendInt64(b, 1, m.Term)
	b = appendInt64(b, 2, m.Index)
	b = appendBytes(b, 3, m.Data)
	if !m.CreatedAt.IsZero() {
		ts, err := proto.Marshal(timestamppb.New(m.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal created_at: %w", err)
		}
		b = appendMessage(b, 4, ts)
	}
	return b, nil
}

func (m *LogEntry) Unmarshal(b []byte) error {
	*m = LogEntry{}
	r := newFieldReader(b)
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}
		switch num {
		case 1:
			m.Term, err = r.int64(num, typ)
		case 2:
			m.Index, err = r.int64(num, typ)
		case 3:
			m.Data, err = r.bytes(num, typ)
		case 4:
			var raw []byte
			if raw, err = r.bytes(num, typ); err == nil {
				m.CreatedAt, err = decodeTimestamp(raw)
			}
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return fmt.Errorf("failed to unmarshal log entry: %w", err)
		}
	}
	return nil
}

func decodeTimestamp(raw []byte) (time.Time, error) {
	ts := &timestamppb.Timestamp{}
	if err := proto.Unmarshal(raw, ts); err != nil {
		return time.Time{}, err
	}
	if err := ts.CheckValid(); err != nil {
		return time.Time{}, err
	}
	return ts.AsTime(), nil
}

// MarshalEntry encodes a single log entry
func MarshalEntry(entry raft.LogEntry) ([]byte, error) {
	m := &LogEntry{LogEntry: entry}
	return m.Marshal()
}

// UnmarshalEntry decodes a single log entry
func UnmarshalEntry(b []byte) (raft.LogEntry, error) {
	m := &LogEntry{}
	if err := m.Unmarshal(b); err != nil {
		return raft.LogEntry{}, err
	}
	return m.LogEntry, nil
}

// AppendEntryRequest carries one entry of an AppendEntries style RPC. Prev is nil when the sender skips the log
// matching check.
type AppendEntryRequest struct {
	Term int64
	Data []byte
	Prev *raft.PrevLog
}

func (m *AppendEntryRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendInt64(b, 1, m.Term)
	b = appendBytes(b, 2, m.Data)
	if m.Prev != nil {
		var prev []byte
		prev = appendInt64(prev, 1, m.Prev.Index)
		prev = appendInt64(prev, 2, m.Prev.Term)
		b = appendMessage(b, 3, prev)
	}
	return b, nil
}

func (m *AppendEntryRequest) Unmarshal(b []byte) error {
	*m = AppendEntryRequest{}
	r := newFieldReader(b)
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}
		switch num {
		case 1:
			m.Term, err = r.int64(num, typ)
		case 2:
			m.Data, err = r.bytes(num, typ)
		case 3:
			var raw []byte
			if raw, err = r.bytes(num, typ); err == nil {
				m.Prev, err = decodePrevLog(raw)
			}
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return fmt.Errorf("failed to unmarshal append entry request: %w", err)
		}
	}
	return nil
}

func decodePrevLog(b []byte) (*raft.PrevLog, error) {
	prev := &raft.PrevLog{}
	r := newFieldReader(b)
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			prev.Index, err = r.int64(num, typ)
		case 2:
			prev.Term, err = r.int64(num, typ)
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return prev, nil
}

type AppendEntryResponse struct {
	raft.AppendResult
}

func (m *AppendEntryResponse) Marshal() ([]byte, error) {
	var b []byte
	b = appendBool(b, 1, m.Success)
	b = appendInt64(b, 2, m.CurrentTerm)
	b = appendInt64(b, 3, m.LogIndex)
	b = appendString(b, 4, m.Message)
	b = appendInt64(b, 5, m.Truncated)
	return b, nil
}

func (m *AppendEntryResponse) Unmarshal(b []byte) error {
	*m = AppendEntryResponse{}
	r := newFieldReader(b)
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}
		switch num {
		case 1:
			m.Success, err = r.bool(num, typ)
		case 2:
			m.CurrentTerm, err = r.int64(num, typ)
		case 3:
			m.LogIndex, err = r.int64(num, typ)
		case 4:
			m.Message, err = r.string(num, typ)
		case 5:
			m.Truncated, err = r.int64(num, typ)
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return fmt.Errorf("failed to unmarshal append entry response: %w", err)
		}
	}
	return nil
}

type CommitRequest struct {
	LeaderCommit int64
}

func (m *CommitRequest) Marshal() ([]byte, error) {
	return appendInt64(nil, 1, m.LeaderCommit), nil
}

func (m *CommitRequest) Unmarshal(b []byte) error {
	*m = CommitRequest{}
	r := newFieldReader(b)
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}
		if num == 1 {
			m.LeaderCommit, err = r.int64(num, typ)
		} else {
			err = r.skip(num, typ)
		}
		if err != nil {
			return fmt.Errorf("failed to unmarshal commit request: %w", err)
		}
	}
	return nil
}

type CommitResponse struct {
	raft.CommitResult
}

func (m *CommitResponse) Marshal() ([]byte, error) {
	var b []byte
	b = appendBool(b, 1, m.Success)
	b = appendInt64(b, 2, m.CommittedCount)
	b = appendInt64(b, 3, m.CommitIndex)
	return b, nil
}

func (m *CommitResponse) Unmarshal(b []byte) error {
	*m = CommitResponse{}
	r := newFieldReader(b)
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}
		switch num {
		case 1:
			m.Success, err = r.bool(num, typ)
		case 2:
			m.CommittedCount, err = r.int64(num, typ)
		case 3:
			m.CommitIndex, err = r.int64(num, typ)
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return fmt.Errorf("failed to unmarshal commit response: %w", err)
		}
	}
	return nil
}

type AdvanceTermRequest struct {
	Term int64
}

func (m *AdvanceTermRequest) Marshal() ([]byte, error) {
	return appendInt64(nil, 1, m.Term), nil
}

func (m *AdvanceTermRequest) Unmarshal(b []byte) error {
	*m = AdvanceTermRequest{}
	r := newFieldReader(b)
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}
		if num == 1 {
			m.Term, err = r.int64(num, typ)
		} else {
			err = r.skip(num, typ)
		}
		if err != nil {
			return fmt.Errorf("failed to unmarshal advance term request: %w", err)
		}
	}
	return nil
}

type AdvanceTermResponse struct {
	Advanced    bool
	CurrentTerm int64
}

func (m *AdvanceTermResponse) Marshal() ([]byte, error) {
	var b []byte
	b = appendBool(b, 1, m.Advanced)
	b = appendInt64(b, 2, m.CurrentTerm)
	return b, nil
}

func (m *AdvanceTermResponse) Unmarshal(b []byte) error {
	*m = AdvanceTermResponse{}
	r := newFieldReader(b)
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}
		switch num {
		case 1:
			m.Advanced, err = r.bool(num, typ)
		case 2:
			m.CurrentTerm, err = r.int64(num, typ)
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return fmt.Errorf("failed to unmarshal advance term response: %w", err)
		}
	}
	return nil
}

type TermAtRequest struct {
	Index int64
}

func (m *TermAtRequest) Marshal() ([]byte, error) {
	return appendInt64(nil, 1, m.Index), nil
}

func (m *TermAtRequest) Unmarshal(b []byte) error {
	*m = TermAtRequest{}
	r := newFieldReader(b)
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}
		if num == 1 {
			m.Index, err = r.int64(num, typ)
		} else {
			err = r.skip(num, typ)
		}
		if err != nil {
			return fmt.Errorf("failed to unmarshal term at request: %w", err)
		}
	}
	return nil
}

type TermAtResponse struct {
	Term int64
}

func (m *TermAtResponse) Marshal() ([]byte, error) {
	return appendInt64(nil, 1, m.Term), nil
}

func (m *TermAtResponse) Unmarshal(b []byte) error {
	*m = TermAtResponse{}
	r := newFieldReader(b)
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}
		if num == 1 {
			m.Term, err = r.int64(num, typ)
		} else {
			err = r.skip(num, typ)
		}
		if err != nil {
			return fmt.Errorf("failed to unmarshal term at response: %w", err)
		}
	}
	return nil
}

type SnapshotRequest struct{}

func (m *SnapshotRequest) Marshal() ([]byte, error) {
	return nil, nil
}

func (m *SnapshotRequest) Unmarshal(b []byte) error {
	r := newFieldReader(b)
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}
		if err := r.skip(num, typ); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot request: %w", err)
		}
	}
	return nil
}

type LogInfo struct {
	raft.LogInfo
}

func (m *LogInfo) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, string(m.NodeID))
	b = appendInt64(b, 2, m.CurrentTerm)
	b = appendInt64(b, 3, m.LogLength)
	b = appendInt64(b, 4, m.CommitIndex)
	b = appendInt64(b, 5, m.LastLogIndex)
	b = appendInt64(b, 6, m.LastLogTerm)
	if m.VotedFor != nil {
		// Explicit presence: an empty candidate id is still a vote
		b = appendMessage(b, 7, []byte(*m.VotedFor))
	}
	return b, nil
}

func (m *LogInfo) Unmarshal(b []byte) error {
	*m = LogInfo{}
	r := newFieldReader(b)
	for !r.done() {
		num, typ, err := r.next()
		if err != nil {
			return err
		}
		switch num {
		case 1:
			var id string
			id, err = r.string(num, typ)
			m.NodeID = raft.NodeID(id)
		case 2:
			m.CurrentTerm, err = r.int64(num, typ)
		case 3:
			m.LogLength, err = r.int64(num, typ)
		case 4:
			m.CommitIndex, err = r.int64(num, typ)
		case 5:
			m.LastLogIndex, err = r.int64(num, typ)
		case 6:
			m.LastLogTerm, err = r.int64(num, typ)
		case 7:
			var id string
			if id, err = r.string(num, typ); err == nil {
				votedFor := raft.NodeID(id)
				m.VotedFor = &votedFor
			}
		default:
			err = r.skip(num, typ)
		}
		if err != nil {
			return fmt.Errorf("failed to unmarshal log info: %w", err)
		}
	}
	return nil
}
