package poh

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LICODX/rnr-poh/pkg/metronome"
)

func TestRecordString(t *testing.T) {
	var rec Record
	for i := range rec.Hash {
		rec.Hash[i] = 0xab
	}
	rec.RevIndex = 130
	rec.PhaseIndex = 2
	rec.TimestampMs = 812

	assert.Equal(t, "Cycle 0, Phase 2, Rev 130, Timestamp 812ms, Hash 0xababababababababa...", rec.String())
}

func TestRecordJSONFieldOrder(t *testing.T) {
	rec := Record{RevIndex: 1, PhaseIndex: 0, CycleIndex: 0, TimestampMs: 6}
	rec.Hash[31] = 1

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t,
		`{"hash":"0000000000000000000000000000000000000000000000000000000000000001","rev_index":1,"phase_index":0,"cycle_index":0,"timestamp_ms":6}`,
		string(data))

	rec.Event = []byte("hi")
	data, err = json.Marshal(rec)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), `"timestamp_ms":6,"event":"aGk="}`), string(data))
}

func TestRecordJSONEventPresence(t *testing.T) {
	for _, event := range [][]byte{nil, {}, []byte("payload")} {
		rec := Record{RevIndex: 9, Event: event}
		data, err := json.Marshal(rec)
		require.NoError(t, err)

		var back Record
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, rec.HasEvent(), back.HasEvent(), string(data))
		assert.Equal(t, len(rec.Event), len(back.Event))
		assert.Equal(t, rec.Hash, back.Hash)
	}
}

func TestRecordJSONRejectsBadHash(t *testing.T) {
	var rec Record
	err := json.Unmarshal([]byte(`{"hash":"abcd","rev_index":1}`), &rec)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	err = json.Unmarshal([]byte(`{"hash":"zz","rev_index":1}`), &rec)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestEncodeDecodeRecordsPreservesVerification(t *testing.T) {
	records := chain(t, metronome.Production(), 12, onCadence)

	var buf bytes.Buffer
	require.NoError(t, EncodeRecords(&buf, records))
	assert.Equal(t, 12, strings.Count(buf.String(), "\n"))

	back, err := DecodeRecords(&buf)
	require.NoError(t, err)
	require.Len(t, back, len(records))
	assert.True(t, VerifySequence(back))
	assert.True(t, VerifyTimestamps(back, nil))
}

func TestDecodeRecordsReportsLine(t *testing.T) {
	input := "\n" + `{"hash":"00","rev_index":0}` + "\n"
	_, err := DecodeRecords(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestCloneIsIndependent(t *testing.T) {
	rec := Record{Event: []byte("abc")}
	c := rec.Clone()
	c.Event[0] = 'x'
	assert.Equal(t, []byte("abc"), rec.Event)
}
