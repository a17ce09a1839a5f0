// format.go - human-readable rendering of decoded instructions

package kl27

import "fmt"

var mnemonics = map[uint16]string{
	opNop:  "nop",
	opHlt:  "hlt",
	opSl:   "sl",
	opSpop: "spop",
	opLlbl: "llbl",
	opRgw:  "rgw",
	opRgr:  "rgr",
	opJmpl: "jmpl",
	opJmpr: "jmpr",
	opRet:  "ret",
	opJmpa: "jmpa",
	opAdd:  "add",
	opSub:  "sub",
	opMul:  "mul",
	opDiv:  "div",
}

// FormatInstruction renders a decoded instruction as assembly-like text,
// e.g. "0x001000: sl #42" or "0x00100C: jmpa". Unknown opcodes render as
// "??? (0xNN) operand=0xNNNN" rather than panicking, so a corrupted fetch can still be
// displayed by a front-end.
func FormatInstruction(instr Instruction) string {
	name, ok := mnemonics[instr.Opcode]
	if !ok {
		return fmt.Sprintf("0x%06X: ??? (0x%02X) operand=0x%04X", instr.Address, instr.Opcode, instr.Operand)
	}
	if instr.Operand == 0 {
		return fmt.Sprintf("0x%06X: %s", instr.Address, name)
	}
	return fmt.Sprintf("0x%06X: %s #%d", instr.Address, name, signExtend16(instr.Operand))
}
