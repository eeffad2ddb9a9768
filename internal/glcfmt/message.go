// Package glcfmt defines the glc stream wire format: message tags, the
// typed payloads that follow each tag, the stream-info file prologue,
// and the on-disk packet framing for both supported stream versions.
// All integers are little-endian and packed without padding, matching
// the original C structures bit for bit.
package glcfmt

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// StreamVersion is the current on-disk stream version this package
// writes. Version 0x3 is still accepted for reading (see Frame).
const StreamVersion uint32 = 0x4

// Signature is the 4-byte file signature "GLC\0", stored as a
// little-endian uint32 exactly as the original format does.
const Signature uint32 = 0x00434c47

// Time is a monotonic microsecond counter sampled by producers at
// capture time and carried verbatim in data messages.
type Time = uint64

// StreamID identifies a media stream. 0 means uninitialized. Ids are
// allocated sequentially per media kind (audio, video).
type StreamID = int32

// MessageType is the single-byte tag prefixing every message.
type MessageType uint8

// Recognized message tags.
const (
	MessageClose            MessageType = 0x01
	MessageVideoFrame       MessageType = 0x02
	MessageVideoFormat      MessageType = 0x03
	MessageLZO              MessageType = 0x04
	MessageAudioFormat      MessageType = 0x05
	MessageAudioData        MessageType = 0x06
	MessageQuickLZ          MessageType = 0x07
	MessageColor            MessageType = 0x08
	MessageContainer        MessageType = 0x09
	MessageLZJB             MessageType = 0x0a
	MessageCallbackRequest  MessageType = 0x0b
)

// String renders a MessageType for logging.
func (t MessageType) String() string {
	switch t {
	case MessageClose:
		return "CLOSE"
	case MessageVideoFrame:
		return "VIDEO_FRAME"
	case MessageVideoFormat:
		return "VIDEO_FORMAT"
	case MessageLZO:
		return "LZO"
	case MessageAudioFormat:
		return "AUDIO_FORMAT"
	case MessageAudioData:
		return "AUDIO_DATA"
	case MessageQuickLZ:
		return "QUICKLZ"
	case MessageColor:
		return "COLOR"
	case MessageContainer:
		return "CONTAINER"
	case MessageLZJB:
		return "LZJB"
	case MessageCallbackRequest:
		return "CALLBACK_REQUEST"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// IsCompressed reports whether t is one of the three codec container tags.
func (t MessageType) IsCompressed() bool {
	return t == MessageLZO || t == MessageQuickLZ || t == MessageLZJB
}

// IsSticky reports whether t is a format-declaration message the State
// Tracker retains for late consumers.
func (t MessageType) IsSticky() bool {
	return t == MessageVideoFormat || t == MessageAudioFormat || t == MessageColor
}

// MessageHeaderSize is the wire size of MessageHeader: a single byte.
const MessageHeaderSize = 1

// MessageHeader is the one-byte tag that prefixes every message.
type MessageHeader struct {
	Type MessageType
}

// EncodeTo writes the header to w.
func (h MessageHeader) EncodeTo(w io.Writer) error {
	_, err := w.Write([]byte{byte(h.Type)})
	return err
}

// DecodeHeader reads a MessageHeader from r.
func DecodeHeader(r io.Reader) (MessageHeader, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return MessageHeader{}, err
	}
	return MessageHeader{Type: MessageType(b[0])}, nil
}

// Video pixel formats.
const (
	VideoBGR         uint8 = 0x1 // 24bit BGR, last row first
	VideoBGRA        uint8 = 0x2 // 32bit BGRA, last row first
	VideoYCbCr420Jpg uint8 = 0x3 // planar YCbCr 4:2:0
	VideoRGB         uint8 = 0x4 // 24bit RGB, last row first
)

// VideoDwordAligned marks rows as double-word aligned (GL_PACK_ALIGNMENT = 8).
const VideoDwordAligned uint32 = 0x1

// VideoFormatMessageSize is the packed wire size of VideoFormatMessage.
const VideoFormatMessageSize = 4 + 4 + 4 + 4 + 1

// VideoFormatMessage declares a video stream's pixel layout.
type VideoFormatMessage struct {
	ID     StreamID
	Flags  uint32
	Width  uint32
	Height uint32
	Format uint8
}

func (m VideoFormatMessage) EncodeTo(w io.Writer) error {
	var buf [VideoFormatMessageSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.ID))
	binary.LittleEndian.PutUint32(buf[4:8], m.Flags)
	binary.LittleEndian.PutUint32(buf[8:12], m.Width)
	binary.LittleEndian.PutUint32(buf[12:16], m.Height)
	buf[16] = m.Format
	_, err := w.Write(buf[:])
	return err
}

func DecodeVideoFormatMessage(r io.Reader) (VideoFormatMessage, error) {
	var buf [VideoFormatMessageSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return VideoFormatMessage{}, err
	}
	return VideoFormatMessage{
		ID:     StreamID(binary.LittleEndian.Uint32(buf[0:4])),
		Flags:  binary.LittleEndian.Uint32(buf[4:8]),
		Width:  binary.LittleEndian.Uint32(buf[8:12]),
		Height: binary.LittleEndian.Uint32(buf[12:16]),
		Format: buf[16],
	}, nil
}

// VideoFrameHeaderSize is the packed wire size of VideoFrameHeader.
const VideoFrameHeaderSize = 4 + 8

// VideoFrameHeader precedes raw pixel data in a VIDEO_FRAME message.
type VideoFrameHeader struct {
	ID   StreamID
	Time Time
}

func (h VideoFrameHeader) EncodeTo(w io.Writer) error {
	var buf [VideoFrameHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.ID))
	binary.LittleEndian.PutUint64(buf[4:12], h.Time)
	_, err := w.Write(buf[:])
	return err
}

func DecodeVideoFrameHeader(r io.Reader) (VideoFrameHeader, error) {
	var buf [VideoFrameHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return VideoFrameHeader{}, err
	}
	return VideoFrameHeader{
		ID:   StreamID(binary.LittleEndian.Uint32(buf[0:4])),
		Time: binary.LittleEndian.Uint64(buf[4:12]),
	}, nil
}

// Audio sample formats.
const (
	AudioS16LE uint8 = 0x1
	AudioS24LE uint8 = 0x2
	AudioS32LE uint8 = 0x3
)

// AudioInterleaved marks an audio stream's samples as channel-interleaved.
const AudioInterleaved uint32 = 0x1

// AudioFormatMessageSize is the packed wire size of AudioFormatMessage.
const AudioFormatMessageSize = 4 + 4 + 4 + 4 + 1

// AudioFormatMessage declares an audio stream's sample layout.
type AudioFormatMessage struct {
	ID       StreamID
	Flags    uint32
	Rate     uint32
	Channels uint32
	Format   uint8
}

func (m AudioFormatMessage) EncodeTo(w io.Writer) error {
	var buf [AudioFormatMessageSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.ID))
	binary.LittleEndian.PutUint32(buf[4:8], m.Flags)
	binary.LittleEndian.PutUint32(buf[8:12], m.Rate)
	binary.LittleEndian.PutUint32(buf[12:16], m.Channels)
	buf[16] = m.Format
	_, err := w.Write(buf[:])
	return err
}

func DecodeAudioFormatMessage(r io.Reader) (AudioFormatMessage, error) {
	var buf [AudioFormatMessageSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return AudioFormatMessage{}, err
	}
	return AudioFormatMessage{
		ID:       StreamID(binary.LittleEndian.Uint32(buf[0:4])),
		Flags:    binary.LittleEndian.Uint32(buf[4:8]),
		Rate:     binary.LittleEndian.Uint32(buf[8:12]),
		Channels: binary.LittleEndian.Uint32(buf[12:16]),
		Format:   buf[16],
	}, nil
}

// AudioDataHeaderSize is the packed wire size of AudioDataHeader.
const AudioDataHeaderSize = 4 + 8 + 8

// AudioDataHeader precedes sample data in an AUDIO_DATA message.
type AudioDataHeader struct {
	ID   StreamID
	Time Time
	Size uint64
}

func (h AudioDataHeader) EncodeTo(w io.Writer) error {
	var buf [AudioDataHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.ID))
	binary.LittleEndian.PutUint64(buf[4:12], h.Time)
	binary.LittleEndian.PutUint64(buf[12:20], h.Size)
	_, err := w.Write(buf[:])
	return err
}

func DecodeAudioDataHeader(r io.Reader) (AudioDataHeader, error) {
	var buf [AudioDataHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return AudioDataHeader{}, err
	}
	return AudioDataHeader{
		ID:   StreamID(binary.LittleEndian.Uint32(buf[0:4])),
		Time: binary.LittleEndian.Uint64(buf[4:12]),
		Size: binary.LittleEndian.Uint64(buf[12:20]),
	}, nil
}

// ColorMessageSize is the packed wire size of ColorMessage.
const ColorMessageSize = 4 + 4 + 4 + 4 + 4 + 4

// ColorMessage carries a color-correction override for a video stream.
type ColorMessage struct {
	ID         StreamID
	Brightness float32
	Contrast   float32
	Red        float32
	Green      float32
	Blue       float32
}

func (m ColorMessage) EncodeTo(w io.Writer) error {
	var buf [ColorMessageSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.ID))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(m.Brightness))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(m.Contrast))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(m.Red))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(m.Green))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(m.Blue))
	_, err := w.Write(buf[:])
	return err
}

func DecodeColorMessage(r io.Reader) (ColorMessage, error) {
	var buf [ColorMessageSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ColorMessage{}, err
	}
	return ColorMessage{
		ID:         StreamID(binary.LittleEndian.Uint32(buf[0:4])),
		Brightness: math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8])),
		Contrast:   math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12])),
		Red:        math.Float32frombits(binary.LittleEndian.Uint32(buf[12:16])),
		Green:      math.Float32frombits(binary.LittleEndian.Uint32(buf[16:20])),
		Blue:       math.Float32frombits(binary.LittleEndian.Uint32(buf[20:24])),
	}, nil
}

// ContainerHeaderSize is the packed wire size of ContainerHeader.
const ContainerHeaderSize = 8 + MessageHeaderSize

// ContainerHeader precedes a nested message's payload in a CONTAINER
// message: Size counts the nested payload only (not Header's own byte).
type ContainerHeader struct {
	Size   uint64
	Header MessageHeader
}

func (h ContainerHeader) EncodeTo(w io.Writer) error {
	var buf [ContainerHeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.Size)
	buf[8] = byte(h.Header.Type)
	_, err := w.Write(buf[:])
	return err
}

func DecodeContainerHeader(r io.Reader) (ContainerHeader, error) {
	var buf [ContainerHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ContainerHeader{}, err
	}
	return ContainerHeader{
		Size:   binary.LittleEndian.Uint64(buf[0:8]),
		Header: MessageHeader{Type: MessageType(buf[8])},
	}, nil
}

// CodecHeaderSize is the packed wire size of CodecHeader, shared by the
// LZO, QuickLZ and LZJB inner headers (they are identical on the wire).
const CodecHeaderSize = 8 + MessageHeaderSize

// CodecHeader is the inner header nested inside a compressed CONTAINER
// message: the uncompressed size and the message header it replaced.
type CodecHeader struct {
	OriginalSize   uint64
	OriginalHeader MessageHeader
}

func (h CodecHeader) EncodeTo(w io.Writer) error {
	var buf [CodecHeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.OriginalSize)
	buf[8] = byte(h.OriginalHeader.Type)
	_, err := w.Write(buf[:])
	return err
}

func DecodeCodecHeader(r io.Reader) (CodecHeader, error) {
	var buf [CodecHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return CodecHeader{}, err
	}
	return CodecHeader{
		OriginalSize:   binary.LittleEndian.Uint64(buf[0:8]),
		OriginalHeader: MessageHeader{Type: MessageType(buf[8])},
	}, nil
}

// CallbackRequest is an in-process-only message: it carries an opaque
// value to a registered callback and is never persisted to disk (the
// File Sink drops it on sight).
type CallbackRequest struct {
	Arg any
}
