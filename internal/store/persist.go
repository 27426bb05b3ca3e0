package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// encodeIndexEntry writes one index.dat record:
//
//	u32 key_len | key bytes | u64 offset | u64 size
func encodeIndexEntry(buf *bytes.Buffer, key string, e indexEntry) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(key))); err != nil {
		return err
	}
	buf.WriteString(key)
	if err := binary.Write(buf, binary.LittleEndian, uint64(e.Offset)); err != nil {
		return err
	}
	return binary.Write(buf, binary.LittleEndian, uint64(e.Size))
}

func decodeIndexFile(data []byte) (map[string]indexEntry, error) {
	entries := make(map[string]indexEntry)
	r := bytes.NewReader(data)

	for r.Len() > 0 {
		var keyLen uint32
		if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
			return nil, fmt.Errorf("read index key length: %w", err)
		}
		if keyLen == 0 || keyLen > MaxKeySize {
			return nil, fmt.Errorf("%w: index key length %d out of range", ErrCorrupt, keyLen)
		}
		key := make([]byte, keyLen)
		if _, err := readFull(r, key); err != nil {
			return nil, fmt.Errorf("read index key: %w", err)
		}

		var offset, size uint64
		if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
			return nil, fmt.Errorf("read index offset: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("read index size: %w", err)
		}

		entries[string(key)] = indexEntry{Offset: int64(offset), Size: int64(size)}
	}

	return entries, nil
}

// writeFileAtomically writes data to a temp file in the same directory as
// path and renames it over path, so a crash mid-write never leaves a
// truncated index.dat behind.
func writeFileAtomically(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp index file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp index file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp index file: %w", err)
	}
	return nil
}
