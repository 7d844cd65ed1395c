package poh

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/LICODX/rnr-poh/pkg/hash"
)

// Record is the output of one rev. It is created once by a Sequencer and
// must not be modified afterwards.
type Record struct {
	Hash        [hash.Size]byte
	RevIndex    uint64
	PhaseIndex  uint64
	CycleIndex  uint64
	TimestampMs uint64
	// Event is nil on plain revs. A non-nil empty slice is an embedded
	// zero-length event.
	Event []byte
}

var ErrInvalidRecord = errors.New("poh: invalid record")

func (r Record) HasEvent() bool {
	return r.Event != nil
}

// Clone returns a copy that shares no memory with r.
func (r Record) Clone() Record {
	if r.Event != nil {
		r.Event = append([]byte{}, r.Event...)
	}
	return r
}

func (r Record) String() string {
	return fmt.Sprintf("Cycle %d, Phase %d, Rev %d, Timestamp %dms, Hash 0x%s...",
		r.CycleIndex, r.PhaseIndex, r.RevIndex, r.TimestampMs, hex.EncodeToString(r.Hash[:])[:17])
}

// recordJSON fixes the field order of the serialized form.
type recordJSON struct {
	Hash        string  `json:"hash"`
	RevIndex    uint64  `json:"rev_index"`
	PhaseIndex  uint64  `json:"phase_index"`
	CycleIndex  uint64  `json:"cycle_index"`
	TimestampMs uint64  `json:"timestamp_ms"`
	Event       *[]byte `json:"event,omitempty"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		Hash:        hex.EncodeToString(r.Hash[:]),
		RevIndex:    r.RevIndex,
		PhaseIndex:  r.PhaseIndex,
		CycleIndex:  r.CycleIndex,
		TimestampMs: r.TimestampMs,
	}
	if r.Event != nil {
		out.Event = &r.Event
	}
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	raw, err := hex.DecodeString(in.Hash)
	if err != nil {
		return fmt.Errorf("%w: hash: %v", ErrInvalidRecord, err)
	}
	if len(raw) != hash.Size {
		return fmt.Errorf("%w: hash is %d bytes, want %d", ErrInvalidRecord, len(raw), hash.Size)
	}

	*r = Record{
		RevIndex:    in.RevIndex,
		PhaseIndex:  in.PhaseIndex,
		CycleIndex:  in.CycleIndex,
		TimestampMs: in.TimestampMs,
	}
	copy(r.Hash[:], raw)
	if in.Event != nil {
		r.Event = *in.Event
		if r.Event == nil {
			r.Event = []byte{}
		}
	}
	return nil
}

// EncodeRecords writes records as newline-delimited JSON.
func EncodeRecords(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return nil
}

// DecodeRecords reads newline-delimited JSON records written by
// EncodeRecords. Blank lines are skipped.
func DecodeRecords(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return records, nil
}
