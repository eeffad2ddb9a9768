package glcfmt

import (
	"bytes"
	"testing"
)

func TestStreamInfoRoundTrip(t *testing.T) {
	t.Parallel()

	info := StreamInfo{
		Signature: Signature,
		Version:   StreamVersion,
		FPS:       60.0,
		Flags:     0,
		PID:       1234,
		NameSize:  3,
		DateSize:  10,
		Reserved1: 0,
		Reserved2: 0,
	}

	var buf bytes.Buffer
	if err := info.EncodeTo(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != StreamInfoSize {
		t.Fatalf("encoded size = %d, want %d", buf.Len(), StreamInfoSize)
	}
	got, err := DecodeStreamInfo(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != info {
		t.Errorf("got %+v, want %+v", got, info)
	}
}

func TestValidateSignature(t *testing.T) {
	t.Parallel()

	if err := ValidateSignature(Signature); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}
	if err := ValidateSignature(0); err == nil {
		t.Error("zero signature accepted")
	}
}

func TestSupportedVersion(t *testing.T) {
	t.Parallel()

	cases := map[uint32]bool{
		0x4: true,
		0x3: true,
		0x2: false,
		0x5: false,
	}
	for version, want := range cases {
		if got := SupportedVersion(version); got != want {
			t.Errorf("SupportedVersion(0x%x) = %v, want %v", version, got, want)
		}
	}
}
