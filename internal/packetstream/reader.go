package packetstream

// Reader adapts a read-mode Packet to io.Reader, so the fixed-size
// message decoders in glcfmt can be used directly against a packet's
// payload instead of duplicating their byte-layout knowledge here.
type Reader struct {
	p *Packet
}

// NewReader wraps p for sequential io.Reader-style consumption.
func NewReader(p *Packet) *Reader {
	return &Reader{p: p}
}

// Read fulfills exactly len(buf) bytes from the packet (it never returns
// a short read on success), matching how every caller in this module
// uses it: to decode a fixed-size header or struct.
func (r *Reader) Read(buf []byte) (int, error) {
	data, err := r.p.Read(len(buf))
	if err != nil {
		return 0, err
	}
	return copy(buf, data), nil
}
