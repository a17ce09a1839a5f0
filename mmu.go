// mmu.go - flat 16MiB memory unit with typed big-endian accessors

package kl27

import (
	"encoding/binary"
	"fmt"
)

// Memory map boundaries (see §6.2 of the expanded spec).
const (
	MemorySize     = 0x1000000 // 16 MiB total address space
	ReservedBase   = 0x00000
	LabelTableBase = 0x00100
	LabelTableEnd  = 0x01000
	ProgramBase    = 0x01000
	ProgramEnd     = 0x40000
	DataBase       = 0x40000

	labelRecordSize   = 6 // {id: u16, offset: u32} as stored in memory
	labelOffsetInRec  = 2
	instructionLength = 4
)

// sentinelOpcode marks an InstructionLogEntry that records an errored
// cycle rather than a successfully decoded instruction.
const sentinelOpcode uint16 = 0xFFFF

// Instruction is a decoded 4-byte fetch: a 16-bit opcode followed by a
// 16-bit operand, both big-endian, at a given address. It is a value
// type — produced by Fetch, never mutated afterwards.
type Instruction struct {
	Address uint32
	Opcode  uint16
	Operand uint16
}

// MMU is a flat 16MiB byte-addressable memory unit. All multi-byte
// accesses are big-endian. Every accessor bounds-checks the full span it
// touches and fails with a *MemoryFaultError if any byte would fall
// outside [0, MemorySize).
type MMU struct {
	mem []byte
}

// NewMMU allocates a zeroed 16MiB memory unit.
func NewMMU() *MMU {
	return &MMU{mem: make([]byte, MemorySize)}
}

func (m *MMU) checkBounds(addr uint32, size uint32) error {
	end := uint64(addr) + uint64(size)
	if end > uint64(len(m.mem)) {
		return &MemoryFaultError{Addr: addr}
	}
	return nil
}

// Read8 reads a single signed byte at addr.
func (m *MMU) Read8(addr uint32) (int8, error) {
	if err := m.checkBounds(addr, 1); err != nil {
		return 0, err
	}
	return int8(m.mem[addr]), nil
}

// Write8 writes a single byte at addr.
func (m *MMU) Write8(addr uint32, v int8) error {
	if err := m.checkBounds(addr, 1); err != nil {
		return err
	}
	m.mem[addr] = byte(v)
	return nil
}

// Read16 reads a big-endian signed 16-bit value at addr.
func (m *MMU) Read16(addr uint32) (int16, error) {
	if err := m.checkBounds(addr, 2); err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(m.mem[addr : addr+2])), nil
}

// Write16 writes a big-endian 16-bit value at addr.
func (m *MMU) Write16(addr uint32, v int16) error {
	if err := m.checkBounds(addr, 2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(m.mem[addr:addr+2], uint16(v))
	return nil
}

// Read32 reads a big-endian signed 32-bit value at addr.
func (m *MMU) Read32(addr uint32) (int32, error) {
	u, err := m.readUint32(addr)
	return int32(u), err
}

// Write32 writes a big-endian 32-bit value at addr.
func (m *MMU) Write32(addr uint32, v int32) error {
	if err := m.checkBounds(addr, 4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(m.mem[addr:addr+4], uint32(v))
	return nil
}

func (m *MMU) readUint32(addr uint32) (uint32, error) {
	if err := m.checkBounds(addr, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(m.mem[addr : addr+4]), nil
}

// Fetch decodes the 4-byte instruction at addr: a big-endian u16 opcode
// followed by a big-endian u16 operand.
func (m *MMU) Fetch(addr uint32) (Instruction, error) {
	if err := m.checkBounds(addr, instructionLength); err != nil {
		return Instruction{}, err
	}
	return Instruction{
		Address: addr,
		Opcode:  binary.BigEndian.Uint16(m.mem[addr : addr+2]),
		Operand: binary.BigEndian.Uint16(m.mem[addr+2 : addr+4]),
	}, nil
}

// LabelOffset returns the program-region offset for label id. The label
// table is a packed array of 6-byte {id: u16, offset: u32} records
// starting at LabelTableBase, placed in label-ID order, so this is just
// a read32 at a fixed stride. Lookups past the written label count
// return whatever bytes reside there — zeros on a freshly-reset MMU.
func (m *MMU) LabelOffset(id uint16) (uint32, error) {
	addr := LabelTableBase + labelRecordSize*uint32(id) + labelOffsetInRec
	return m.readUint32(addr)
}

// Reset zeros the entire memory unit.
func (m *MMU) Reset() {
	for i := range m.mem {
		m.mem[i] = 0
	}
}

// installLabelTable copies the loader's raw label-table payload verbatim
// into memory starting at LabelTableBase, per §4.3.
func (m *MMU) installLabelTable(payload []byte) error {
	if len(payload) > LabelTableEnd-LabelTableBase {
		return fmt.Errorf("%w: label table payload of %d bytes exceeds the %d-byte region", ErrBadFile, len(payload), LabelTableEnd-LabelTableBase)
	}
	copy(m.mem[LabelTableBase:], payload)
	return nil
}

// installInstructionBody copies the loader's instruction body verbatim
// into memory starting at ProgramBase.
func (m *MMU) installInstructionBody(body []byte) error {
	if len(body) > len(m.mem)-ProgramBase {
		return fmt.Errorf("%w: instruction body of %d bytes exceeds available memory", ErrBadFile, len(body))
	}
	copy(m.mem[ProgramBase:], body)
	return nil
}
