package glcfmt

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// StreamInfoSize is the packed wire size of StreamInfo, not counting the
// variable-length name/date strings that follow it.
const StreamInfoSize = 4 + 4 + 8 + 4 + 4 + 4 + 4 + 8 + 8

// StreamInfo is the file prologue: every container file begins with one
// of these, followed by NameSize bytes of UTF-8 program path and
// DateSize bytes of UTF-8 UTC timestamp.
type StreamInfo struct {
	Signature uint32
	Version   uint32
	FPS       float64
	Flags     uint32
	PID       uint32
	NameSize  uint32
	DateSize  uint32
	Reserved1 uint64
	Reserved2 uint64
}

// EncodeTo writes the fixed-size StreamInfo struct to w. The caller is
// responsible for writing the NameSize + DateSize string bytes that follow.
func (s StreamInfo) EncodeTo(w io.Writer) error {
	var buf [StreamInfoSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], s.Signature)
	binary.LittleEndian.PutUint32(buf[4:8], s.Version)
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(s.FPS))
	binary.LittleEndian.PutUint32(buf[16:20], s.Flags)
	binary.LittleEndian.PutUint32(buf[20:24], s.PID)
	binary.LittleEndian.PutUint32(buf[24:28], s.NameSize)
	binary.LittleEndian.PutUint32(buf[28:32], s.DateSize)
	binary.LittleEndian.PutUint64(buf[32:40], s.Reserved1)
	binary.LittleEndian.PutUint64(buf[40:48], s.Reserved2)
	_, err := w.Write(buf[:])
	return err
}

// DecodeStreamInfo reads the fixed-size StreamInfo struct from r. Callers
// must separately read NameSize + DateSize bytes for the trailing strings.
func DecodeStreamInfo(r io.Reader) (StreamInfo, error) {
	var buf [StreamInfoSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return StreamInfo{}, err
	}
	return StreamInfo{
		Signature: binary.LittleEndian.Uint32(buf[0:4]),
		Version:   binary.LittleEndian.Uint32(buf[4:8]),
		FPS:       math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16])),
		Flags:     binary.LittleEndian.Uint32(buf[16:20]),
		PID:       binary.LittleEndian.Uint32(buf[20:24]),
		NameSize:  binary.LittleEndian.Uint32(buf[24:28]),
		DateSize:  binary.LittleEndian.Uint32(buf[28:32]),
		Reserved1: binary.LittleEndian.Uint64(buf[32:40]),
		Reserved2: binary.LittleEndian.Uint64(buf[40:48]),
	}, nil
}

// SupportedVersion reports whether version is a stream version this
// package can decode: the current version, or 0x3 for backward
// compatibility (0.5.5's on-disk frame swapped header/size order; see
// Frame).
func SupportedVersion(version uint32) bool {
	return version == StreamVersion || version == 0x3
}

// ValidateSignature checks the decoded signature against the fixed "GLC\0"
// literal, returning a descriptive error if it doesn't match.
func ValidateSignature(signature uint32) error {
	if signature != Signature {
		return fmt.Errorf("glcfmt: bad signature 0x%08x, want 0x%08x", signature, Signature)
	}
	return nil
}
