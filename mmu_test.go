package kl27

import (
	"errors"
	"testing"
)

// TestMMUReadWriteRoundTrip exercises all three access widths.
func TestMMUReadWriteRoundTrip(t *testing.T) {
	m := NewMMU()

	if err := m.Write8(0x2000, -5); err != nil {
		t.Fatalf("Write8: %v", err)
	}
	if v, err := m.Read8(0x2000); err != nil || v != -5 {
		t.Fatalf("Read8() = %d, %v, want -5, nil", v, err)
	}

	if err := m.Write16(0x2000, -1000); err != nil {
		t.Fatalf("Write16: %v", err)
	}
	if v, err := m.Read16(0x2000); err != nil || v != -1000 {
		t.Fatalf("Read16() = %d, %v, want -1000, nil", v, err)
	}

	if err := m.Write32(0x2000, -70000); err != nil {
		t.Fatalf("Write32: %v", err)
	}
	if v, err := m.Read32(0x2000); err != nil || v != -70000 {
		t.Fatalf("Read32() = %d, %v, want -70000, nil", v, err)
	}
}

// TestMMUOutOfBounds verifies accesses straddling the end of memory
// fault rather than silently clamping.
func TestMMUOutOfBounds(t *testing.T) {
	m := NewMMU()
	_, err := m.Read32(MemorySize - 2)
	var faultErr *MemoryFaultError
	if !errors.As(err, &faultErr) {
		t.Fatalf("Read32 near end: got %v, want *MemoryFaultError", err)
	}
	if !errors.Is(err, ErrMemoryFault) {
		t.Fatalf("Read32 near end: got %v, want ErrMemoryFault in chain", err)
	}
}

// TestMMUFetch verifies Fetch decodes big-endian opcode/operand pairs.
func TestMMUFetch(t *testing.T) {
	m := NewMMU()
	if err := m.Write16(ProgramBase, int16(opSl)); err != nil {
		t.Fatalf("Write16: %v", err)
	}
	if err := m.Write16(ProgramBase+2, 42); err != nil {
		t.Fatalf("Write16: %v", err)
	}
	instr, err := m.Fetch(ProgramBase)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if instr.Opcode != opSl || instr.Operand != 42 {
		t.Fatalf("Fetch() = %+v, want opcode=%d operand=42", instr, opSl)
	}
}

// TestMMULabelOffset verifies the 6-byte-stride label record layout.
func TestMMULabelOffset(t *testing.T) {
	m := NewMMU()
	if err := m.installLabelTable([]byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x10, // label 0 -> offset 0x10
		0x00, 0x01, 0x00, 0x00, 0x00, 0x20, // label 1 -> offset 0x20
	}); err != nil {
		t.Fatalf("installLabelTable: %v", err)
	}
	off, err := m.LabelOffset(1)
	if err != nil {
		t.Fatalf("LabelOffset: %v", err)
	}
	if off != 0x20 {
		t.Fatalf("LabelOffset(1) = 0x%X, want 0x20", off)
	}
}

// TestMMUResetClearsMemory verifies Reset zeros previously written bytes.
func TestMMUResetClearsMemory(t *testing.T) {
	m := NewMMU()
	if err := m.Write32(ProgramBase, 0x11223344); err != nil {
		t.Fatalf("Write32: %v", err)
	}
	m.Reset()
	v, err := m.Read32(ProgramBase)
	if err != nil || v != 0 {
		t.Fatalf("Read32 after Reset = %d, %v, want 0, nil", v, err)
	}
}
