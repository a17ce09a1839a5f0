// loader.go - parses a K27 byte stream into header, label table and body

package kl27

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// K27 file format constants (see §6.1 of the expanded spec).
const (
	k27Magic            = "KL27"
	k27SupportedVersion = 1
	compressionRaw      = 0
	compressionLZMA     = 1

	minStackSize = 4
	maxStackSize = 255
	maxLabels    = 640

	headerReservedSize    = 5 // bytes 0x0F..0x14, ignored
	labelTerminatorSize   = 5 // bytes after the label payload, skipped
	labelRecordOnDiskSize = 4 // the loader reads label_count*4 raw bytes

	offMagic       = 0x00
	offVersion     = 0x04
	offCompression = 0x05
	offBodyOffset  = 0x06
	offStackSize   = 0x0A
	offChecksum    = 0x0B
	offReserved    = 0x0F
	offLabelCount  = 0x14
	headerSize     = offLabelCount + 2
)

// Header is the fixed K27 file header.
type Header struct {
	Version     uint8
	Compression uint8
	BodyOffset  uint32
	StackSize   uint8
	Checksum    [4]byte
	LabelCount  uint16
}

// Image is a fully-parsed K27 file: the header plus the two payloads the
// loader installs into an MMU (the raw label-table bytes and the
// instruction body). It is produced once by Load and consumed by
// Install; a CPU keeps it and installs it again on every Reset.
type Image struct {
	Header          Header
	LabelTable      []byte
	InstructionBody []byte
}

// EntryPoint returns the MMU address execution should begin at: the
// header's body_offset relative to the program region.
func (img *Image) EntryPoint() uint32 {
	return ProgramBase + img.Header.BodyOffset
}

// Load parses a K27 byte stream. It does not touch any MMU — call
// Install on the result to populate one.
func Load(data []byte) (*Image, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: file of %d bytes is shorter than the %d-byte header", ErrBadFile, len(data), headerSize)
	}

	if string(data[offMagic:offMagic+4]) != k27Magic {
		return nil, fmt.Errorf("%w: got %q", ErrBadMagic, data[offMagic:offMagic+4])
	}

	version := data[offVersion]
	if version != k27SupportedVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadVersion, version)
	}

	compression := data[offCompression]
	switch compression {
	case compressionRaw:
		// fall through to the rest of the parse
	case compressionLZMA:
		return nil, fmt.Errorf("%w: LZMA compression (mode 1) is not executed", ErrUnsupported)
	default:
		return nil, fmt.Errorf("%w: compression mode %d", ErrBadFile, compression)
	}

	bodyOffset := binary.BigEndian.Uint32(data[offBodyOffset : offBodyOffset+4])

	stackSize := data[offStackSize]
	if stackSize < minStackSize || stackSize > maxStackSize {
		return nil, fmt.Errorf("%w: stack size %d out of range [%d,%d]", ErrBadFile, stackSize, minStackSize, maxStackSize)
	}

	var checksum [4]byte
	copy(checksum[:], data[offChecksum:offChecksum+4])

	offset := offLabelCount
	labelCount := binary.BigEndian.Uint16(data[offset : offset+2])
	if labelCount > maxLabels {
		return nil, fmt.Errorf("%w: label count %d exceeds the %d-label table region", ErrBadFile, labelCount, maxLabels)
	}
	offset += 2

	tableBytes := int(labelCount) * labelRecordOnDiskSize
	if len(data) < offset+tableBytes {
		return nil, fmt.Errorf("%w: truncated label table (need %d bytes)", ErrBadFile, tableBytes)
	}
	labelTable := append([]byte(nil), data[offset:offset+tableBytes]...)
	offset += tableBytes

	// Skip the fixed-size terminator padding after the label payload.
	offset += labelTerminatorSize
	if offset > len(data) {
		return nil, fmt.Errorf("%w: truncated label table terminator", ErrBadFile)
	}

	body := append([]byte(nil), data[offset:]...)

	if checksum != ([4]byte{}) {
		want := binary.BigEndian.Uint32(checksum[:])
		got := crc32.ChecksumIEEE(body)
		if got != want {
			return nil, fmt.Errorf("%w: want %08X got %08X", ErrChecksum, want, got)
		}
	}

	return &Image{
		Header: Header{
			Version:     version,
			Compression: compression,
			BodyOffset:  bodyOffset,
			StackSize:   stackSize,
			Checksum:    checksum,
			LabelCount:  labelCount,
		},
		LabelTable:      labelTable,
		InstructionBody: body,
	}, nil
}

// Install zeros mmu and copies the label table and instruction body into
// their fixed locations.
func (img *Image) Install(mmu *MMU) error {
	mmu.Reset()
	if err := mmu.installLabelTable(img.LabelTable); err != nil {
		return err
	}
	if err := mmu.installInstructionBody(img.InstructionBody); err != nil {
		return err
	}
	return nil
}
