package store

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexFileRoundTrip(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, encodeIndexEntry(buf, "foo", indexEntry{Offset: 42, Size: 7}))
	require.NoError(t, encodeIndexEntry(buf, "barbaz", indexEntry{Offset: 100, Size: 3}))

	decoded, err := decodeIndexFile(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, indexEntry{Offset: 42, Size: 7}, decoded["foo"])
	require.Equal(t, indexEntry{Offset: 100, Size: 3}, decoded["barbaz"])
}

func TestDecodeIndexFileRejectsCorruptLength(t *testing.T) {
	_, err := decodeIndexFile([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeEmptyIndexFile(t *testing.T) {
	decoded, err := decodeIndexFile(nil)
	require.NoError(t, err)
	require.Empty(t, decoded)
}
