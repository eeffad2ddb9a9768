package glcfmt

import (
	"encoding/binary"
	"io"
)

// Frame is a single on-disk packet frame: the message header, its
// payload size, and the payload bytes themselves. Size counts the
// payload only, never the header byte.
//
// Version 0x4 lays out size before header: <size: u64><header: u8><payload>.
// Version 0x3 swaps that order: <header: u8><size: u64><payload>. Both
// layouts are supported for reading; only version 0x4 is written.
type Frame struct {
	Header  MessageHeader
	Size    uint64
	Payload []byte
}

// EncodeTo writes f in version-0x4 layout.
func (f Frame) EncodeTo(w io.Writer) error {
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], f.Size)
	if _, err := w.Write(sizeBuf[:]); err != nil {
		return err
	}
	if err := f.Header.EncodeTo(w); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFrame reads one frame from r using the layout selected by
// version (see Frame's doc comment). It allocates Payload fresh; callers
// that want to reuse a buffer should use DecodeFrameHeader +
// io.ReadFull directly.
func DecodeFrame(r io.Reader, version uint32) (Frame, error) {
	header, size, err := DecodeFrameHeader(r, version)
	if err != nil {
		return Frame{}, err
	}
	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: header, Size: size, Payload: payload}, nil
}

// DecodeFrameHeader reads just the header + size prefix of a frame,
// leaving the payload bytes unread in r, so that callers can stream the
// payload into a fixed-capacity destination (e.g. a Packet Stream dma
// region) instead of allocating.
func DecodeFrameHeader(r io.Reader, version uint32) (MessageHeader, uint64, error) {
	if version == 0x3 {
		header, err := DecodeHeader(r)
		if err != nil {
			return MessageHeader{}, 0, err
		}
		var sizeBuf [8]byte
		if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
			return MessageHeader{}, 0, err
		}
		return header, binary.LittleEndian.Uint64(sizeBuf[:]), nil
	}

	var sizeBuf [8]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return MessageHeader{}, 0, err
	}
	size := binary.LittleEndian.Uint64(sizeBuf[:])
	header, err := DecodeHeader(r)
	if err != nil {
		return MessageHeader{}, 0, err
	}
	return header, size, nil
}
