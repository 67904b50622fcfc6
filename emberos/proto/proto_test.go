package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ember/emberos/abi"
)

func TestWellKnownAddressesDiffer(t *testing.T) {
	sids := []abi.SID{NamesSID, LoggerSID, TicktimerSID}
	for i := range sids {
		assert.False(t, sids[i].IsZero())
		for j := i + 1; j < len(sids); j++ {
			assert.NotEqual(t, sids[i], sids[j])
		}
	}
}

func TestNameRecordLayout(t *testing.T) {
	rec := NameRecord{Status: abi.ErrServerExists, Name: "svc", SID: abi.SID{1, 2, 3, 4}}
	b, err := rec.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, nameHeader+3)
	assert.Equal(t, []byte{byte(abi.ErrServerExists), 0, 0, 0, 3, 0, 0, 0, 1, 0, 0, 0}, b[:12])
	assert.Equal(t, "svc", string(b[nameHeader:]))

	// Trailing page bytes are ignored.
	page := make([]byte, abi.PageSize)
	copy(page, b)
	var got NameRecord
	require.NoError(t, got.UnmarshalBinary(page))
	assert.Equal(t, rec, got)
}

func TestNameRecordRejectsBadLengths(t *testing.T) {
	_, err := NameRecord{}.MarshalBinary()
	assert.Error(t, err)
	long := make([]byte, MaxNameLen+1)
	_, err = NameRecord{Name: string(long)}.MarshalBinary()
	assert.Error(t, err)

	var r NameRecord
	assert.Error(t, r.UnmarshalBinary(make([]byte, 4)))
	assert.Error(t, r.UnmarshalBinary([]byte{0, 0, 0, 0, 200, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}))
}

func TestOpNames(t *testing.T) {
	assert.Equal(t, "lookup", NameLookup.String())
	assert.Equal(t, "post", LogPost.String())
	assert.Equal(t, "tick", TimerTick.String())
	assert.Equal(t, "unknown", TimerOp(99).String())
}
