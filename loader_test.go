package kl27

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"
)

// buildK27 assembles a minimal well-formed K27 byte stream with no
// labels, the given stack size, and body as its instruction payload.
// withChecksum controls whether a correct CRC32 is written into the
// header (0x00000000 otherwise, which the loader treats as "unchecked").
func buildK27(t *testing.T, stackSize uint8, body []byte, withChecksum bool) []byte {
	t.Helper()

	buf := make([]byte, headerSize)
	copy(buf[offMagic:], k27Magic)
	buf[offVersion] = k27SupportedVersion
	buf[offCompression] = compressionRaw
	binary.BigEndian.PutUint32(buf[offBodyOffset:], 0)
	buf[offStackSize] = stackSize
	if withChecksum {
		binary.BigEndian.PutUint32(buf[offChecksum:], crc32.ChecksumIEEE(body))
	}
	binary.BigEndian.PutUint16(buf[offLabelCount:], 0)
	buf = append(buf, make([]byte, labelTerminatorSize)...)
	buf = append(buf, body...)
	return buf
}

// TestLoadRejectsBadMagic verifies a file not starting with "KL27" is
// rejected with ErrBadMagic.
func TestLoadRejectsBadMagic(t *testing.T) {
	data := buildK27(t, 16, []byte{0, 0, 0, 0}, false)
	data[0] = 'X'
	_, err := Load(data)
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("Load() = %v, want ErrBadMagic", err)
	}
}

// TestLoadRejectsBadVersion verifies an unsupported version byte is
// rejected with ErrBadVersion.
func TestLoadRejectsBadVersion(t *testing.T) {
	data := buildK27(t, 16, []byte{0, 0, 0, 0}, false)
	data[offVersion] = 9
	_, err := Load(data)
	if !errors.Is(err, ErrBadVersion) {
		t.Fatalf("Load() = %v, want ErrBadVersion", err)
	}
}

// TestLoadRejectsUnsupportedCompression verifies compression mode 1
// (LZMA) is rejected with ErrUnsupported rather than decoded.
func TestLoadRejectsUnsupportedCompression(t *testing.T) {
	data := buildK27(t, 16, []byte{0, 0, 0, 0}, false)
	data[offCompression] = compressionLZMA
	_, err := Load(data)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Load() = %v, want ErrUnsupported", err)
	}
}

// TestLoadRejectsBadStackSize verifies stack sizes outside [4,255] are
// rejected.
func TestLoadRejectsBadStackSize(t *testing.T) {
	data := buildK27(t, 16, []byte{0, 0, 0, 0}, false)
	data[offStackSize] = 2
	_, err := Load(data)
	if !errors.Is(err, ErrBadFile) {
		t.Fatalf("Load() = %v, want ErrBadFile", err)
	}
}

// TestLoadChecksumMismatch verifies a nonzero checksum that doesn't
// match the instruction body is rejected with ErrChecksum.
func TestLoadChecksumMismatch(t *testing.T) {
	body := []byte{0, 0, 0, 0}
	data := buildK27(t, 16, body, true)
	data[len(data)-1] ^= 0xFF // corrupt the last body byte after the checksum was computed
	_, err := Load(data)
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("Load() = %v, want ErrChecksum", err)
	}
}

// TestLoadAcceptsZeroChecksum verifies a well-formed file with an
// all-zero checksum field loads without verification.
func TestLoadAcceptsZeroChecksum(t *testing.T) {
	body := []byte{0, 0, 0, 0}
	data := buildK27(t, 16, body, false)
	img, err := Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if img.Header.StackSize != 16 {
		t.Fatalf("StackSize = %d, want 16", img.Header.StackSize)
	}
	if img.EntryPoint() != ProgramBase {
		t.Fatalf("EntryPoint() = 0x%X, want 0x%X", img.EntryPoint(), ProgramBase)
	}
}

// TestImageInstall verifies Install copies the instruction body to
// ProgramBase in the MMU.
func TestImageInstall(t *testing.T) {
	body := []byte{0x00, byte(opHlt), 0x00, 0x00}
	data := buildK27(t, 16, body, true)
	img, err := Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m := NewMMU()
	if err := img.Install(m); err != nil {
		t.Fatalf("Install: %v", err)
	}
	instr, err := m.Fetch(ProgramBase)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if instr.Opcode != opHlt {
		t.Fatalf("Fetch().Opcode = 0x%02X, want 0x%02X", instr.Opcode, opHlt)
	}
}
