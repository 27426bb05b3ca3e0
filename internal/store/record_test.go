package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordMarshalUnmarshal(t *testing.T) {
	rec := &record{Key: []byte("hello"), Value: []byte("I'm the value")}

	encoded, err := rec.MarshalBinary()
	require.NoError(t, err)

	decoded := &record{}
	require.NoError(t, decoded.UnmarshalBinary(encoded))
	require.Equal(t, rec, decoded)
}

func TestRecordRejectsOversizedLengths(t *testing.T) {
	rec := &record{}
	// A key length field claiming more bytes than the payload actually
	// carries must be reported as corruption, not a panic or short read.
	err := rec.UnmarshalBinary([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestRecordEmptyValue(t *testing.T) {
	rec := &record{Key: []byte("k"), Value: []byte{}}

	encoded, err := rec.MarshalBinary()
	require.NoError(t, err)

	decoded := &record{}
	require.NoError(t, decoded.UnmarshalBinary(encoded))
	require.Equal(t, []byte("k"), decoded.Key)
	require.Empty(t, decoded.Value)
}
