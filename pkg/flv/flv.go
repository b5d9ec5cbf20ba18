// Package flv reads the duration an FLV recorder writes into the onMetaData
// script tag.
package flv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// headerLen covers the 9-byte file header, the first PreviousTagSize and the
// 11-byte tag header of the script tag.
const headerLen = 24

var (
	ErrNotFLV      = errors.New("not an FLV file")
	ErrNoDuration  = errors.New("duration not found in FLV metadata")
	durationMarker = []byte("duration\x00")
)

// Duration returns the duration in seconds stored in the metadata of r.
func Duration(r io.Reader) (float64, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, fmt.Errorf("read flv header: %w", err)
	}
	if !bytes.Equal(header[:3], []byte("FLV")) {
		return 0, ErrNotFLV
	}
	size := uint32(header[14])<<16 | uint32(header[15])<<8 | uint32(header[16])

	meta := make([]byte, size)
	if _, err := io.ReadFull(r, meta); err != nil {
		return 0, fmt.Errorf("read flv metadata: %w", err)
	}
	pos := bytes.Index(meta, durationMarker)
	if pos < 0 {
		return 0, ErrNoDuration
	}
	pos += len(durationMarker)
	if pos+8 > len(meta) {
		return 0, ErrNoDuration
	}
	return math.Float64frombits(binary.BigEndian.Uint64(meta[pos : pos+8])), nil
}

// FileDuration opens path and reads its duration.
func FileDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return Duration(f)
}
