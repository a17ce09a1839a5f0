// cpu.go - register file, stack and fetch-execute cycle

package kl27

import "fmt"

// Opcodes understood by the fetch-execute cycle (see §4.5 of the expanded
// spec for full semantics).
const (
	opNop   uint16 = 0x00
	opHlt   uint16 = 0x01
	opSl    uint16 = 0x02 // stack-load: push immediate operand
	opSpop  uint16 = 0x03 // stack-pop: discard operand values
	opLlbl  uint16 = 0x04 // load-label: push a label's program offset

	opRgw uint16 = 0x10 // register write
	opRgr uint16 = 0x11 // register read, pushes value

	opJmpl uint16 = 0x20 // jump to label
	opJmpr uint16 = 0x21 // call label, link address in r7
	opRet  uint16 = 0x22 // return from call
	opJmpa uint16 = 0x23 // jump absolute (address popped from stack)

	opAdd uint16 = 0x30
	opSub uint16 = 0x31
	opMul uint16 = 0x32
	opDiv uint16 = 0x33
)

// Register indices. 0-7 are the general-purpose file; 8-10 are the
// special registers.
const (
	RegR0 = iota
	RegR1
	RegR2
	RegR3
	RegR4
	RegR5
	RegR6
	RegR7
	RegMAR
	RegMVR
	RegPC
	regCount
)

const (
	generalRegWidth = 16
	wideRegWidth    = 32
)

// State is the CPU's run state.
type State int

const (
	Halted State = iota
	Running
	Debugging
	Errored
)

func (s State) String() string {
	switch s {
	case Halted:
		return "halted"
	case Running:
		return "running"
	case Debugging:
		return "debugging"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Stack is a bounded LIFO of 32-bit values. Pushing past capacity is an
// overflow; popping an empty stack is an underflow — both are reported
// as errors by the caller, never panics.
type Stack struct {
	data []int32
}

func newStack(capacity uint8) *Stack {
	return &Stack{data: make([]int32, 0, capacity)}
}

func (s *Stack) push(v int32) error {
	if len(s.data) >= cap(s.data) {
		return ErrOverflow
	}
	s.data = append(s.data, v)
	return nil
}

func (s *Stack) pop() (int32, error) {
	if len(s.data) == 0 {
		return 0, ErrUnderflow
	}
	v := s.data[len(s.data)-1]
	s.data = s.data[:len(s.data)-1]
	return v, nil
}

func (s *Stack) snapshot() []int32 {
	out := make([]int32, len(s.data))
	copy(out, s.data)
	return out
}

// StepResult summarizes the outcome of a single Step call: the
// instruction that was fetched and whether it left the CPU halted.
type StepResult struct {
	Instruction Instruction
	Halted      bool
}

// CPU is the KL27 fetch-execute engine: a register file, a bounded
// stack, an MMU, and the two diagnostic rings. Build one with NewCPU,
// which loads and installs a K27 image, then drive it with Step or
// RunUntilIdle.
type CPU struct {
	regs  [regCount]*Register
	mmu   *MMU
	stack *Stack

	state      State
	cycleCount uint64
	lastError  string

	diag  *Diagnostics
	image *Image
	src   []byte
}

// NewCPU loads src as a K27 image and builds a CPU ready to run from the
// image's entry point.
func NewCPU(src []byte) (*CPU, error) {
	img, err := Load(src)
	if err != nil {
		return nil, err
	}

	c := &CPU{
		mmu:   NewMMU(),
		diag:  NewDiagnostics(),
		image: img,
		src:   src,
	}
	for i := 0; i < regCount; i++ {
		width := generalRegWidth
		if i >= RegMAR {
			width = wideRegWidth
		}
		reg, err := NewRegister(width)
		if err != nil {
			return nil, err
		}
		c.regs[i] = reg
	}

	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CPU) reload() error {
	if err := c.image.Install(c.mmu); err != nil {
		return err
	}
	c.stack = newStack(c.image.Header.StackSize)
	for _, r := range c.regs {
		r.Write(0)
	}
	c.regs[RegPC].Write(int32(c.image.EntryPoint()))
	c.state = Halted
	c.cycleCount = 0
	c.lastError = ""
	c.diag.Reset()
	return nil
}

// Reset reloads the original image and returns the CPU to its initial
// Halted state, clearing both diagnostic rings.
func (c *CPU) Reset() error {
	return c.reload()
}

// State returns the CPU's current run state.
func (c *CPU) State() State { return c.state }

// CycleCount returns the number of fetch-execute cycles started,
// including cycles that ended in an error.
func (c *CPU) CycleCount() uint64 { return c.cycleCount }

// LastError returns the message of the most recent error that put the
// CPU into Errored state, or "" if none has occurred since the last
// Reset.
func (c *CPU) LastError() string { return c.lastError }

// PC returns the program counter.
func (c *CPU) PC() uint32 { return uint32(c.regs[RegPC].Read()) }

// MAR returns the memory address register.
func (c *CPU) MAR() uint32 { return uint32(c.regs[RegMAR].Read()) }

// MVR returns the memory value register.
func (c *CPU) MVR() int32 { return c.regs[RegMVR].Read() }

// GeneralRegisters returns the current values of r0-r7.
func (c *CPU) GeneralRegisters() [8]int32 {
	var out [8]int32
	for i := 0; i < 8; i++ {
		out[i] = c.regs[i].Read()
	}
	return out
}

// StackSnapshot returns the current stack contents, bottom first.
func (c *CPU) StackSnapshot() []int32 { return c.stack.snapshot() }

// StackSize returns the number of values currently on the stack.
func (c *CPU) StackSize() int { return len(c.stack.data) }

// StackCapacity returns the stack's fixed capacity.
func (c *CPU) StackCapacity() int { return cap(c.stack.data) }

// InstructionLog returns the recent instruction log, oldest first.
func (c *CPU) InstructionLog() []InstructionLogEntry { return c.diag.InstructionLog() }

// TraceLog returns the recent side-effect trace log, oldest first.
func (c *CPU) TraceLog() []TraceEvent { return c.diag.TraceLog() }

// ReadMemory8/16/32 and WriteMemory8/16/32 expose the MMU directly, for
// front-ends that want to inspect or poke memory without stepping.
func (c *CPU) ReadMemory8(addr uint32) (int8, error)         { return c.mmu.Read8(addr) }
func (c *CPU) WriteMemory8(addr uint32, v int8) error        { return c.mmu.Write8(addr, v) }
func (c *CPU) ReadMemory16(addr uint32) (int16, error)       { return c.mmu.Read16(addr) }
func (c *CPU) WriteMemory16(addr uint32, v int16) error      { return c.mmu.Write16(addr, v) }
func (c *CPU) ReadMemory32(addr uint32) (int32, error)       { return c.mmu.Read32(addr) }
func (c *CPU) WriteMemory32(addr uint32, v int32) error      { return c.mmu.Write32(addr, v) }

// ReadRegister reads register idx (0-10). Reading is unrestricted.
func (c *CPU) ReadRegister(idx int) (int32, error) {
	if idx < 0 || idx >= regCount {
		return 0, fmt.Errorf("%w: index %d", ErrBadRegister, idx)
	}
	return c.regs[idx].Read(), nil
}

// WriteRegister writes register idx. The PC (index 10) is write-protected
// from outside the fetch-execute cycle; only jumps move it.
func (c *CPU) WriteRegister(idx int, v int32) error {
	if idx < 0 || idx >= regCount {
		return fmt.Errorf("%w: index %d", ErrBadRegister, idx)
	}
	if idx == RegPC {
		return fmt.Errorf("%w: PC is not directly writable", ErrProtected)
	}
	c.regs[idx].Write(v)
	return nil
}

// SetRunning, SetHalted and SetDebugging move the CPU between its
// externally-settable states. Transitioning out of Errored requires
// Reset, not a direct state change.
func (c *CPU) SetRunning() error   { return c.transition(Running) }
func (c *CPU) SetHalted() error    { return c.transition(Halted) }
func (c *CPU) SetDebugging() error { return c.transition(Debugging) }

func (c *CPU) transition(to State) error {
	if c.state == Errored {
		return fmt.Errorf("%w: CPU is errored, Reset before resuming", ErrBadState)
	}
	c.state = to
	return nil
}

// Toggle flips between Running and Debugging; it is a no-op from Halted
// or Errored.
func (c *CPU) Toggle() error {
	switch c.state {
	case Running:
		c.state = Debugging
		return nil
	case Debugging:
		c.state = Running
		return nil
	default:
		return fmt.Errorf("%w: cannot toggle from %s", ErrBadState, c.state)
	}
}

// Halt forces the CPU to Halted from any state except Errored, where it
// is a no-op.
func (c *CPU) Halt() {
	if c.state == Errored {
		return
	}
	c.state = Halted
}

func (c *CPU) errorOut(err error, addr uint32) {
	c.state = Errored
	c.lastError = err.Error()
	c.diag.LogError(c.cycleCount, addr, err)
}

// Step executes a single fetch-execute cycle. BadState is the only
// condition Step surfaces as an error return — it is an error to Step
// while Halted or Errored, and callers should check State first. Every
// other runtime fault (memory fault, stack over/underflow, divide by
// zero, unknown opcode) is instead recorded via errorOut, moving the CPU
// to Errored; Step still returns normally, and callers learn of the
// fault through State and LastError.
func (c *CPU) Step() (StepResult, error) {
	if c.state == Halted {
		return StepResult{}, fmt.Errorf("%w: cannot step while halted", ErrBadState)
	}
	if c.state == Errored {
		return StepResult{}, fmt.Errorf("%w: cannot step while errored", ErrBadState)
	}

	c.cycleCount++

	pc := c.PC()
	instr, err := c.mmu.Fetch(pc)
	if err != nil {
		c.errorOut(err, pc)
		return StepResult{}, nil
	}

	c.regs[RegPC].Write(int32(pc + instructionLength))
	c.diag.LogInstruction(c.cycleCount, instr)

	if err := c.execute(instr); err != nil {
		c.errorOut(err, pc)
		return StepResult{}, nil
	}

	if instr.Opcode == opHlt {
		c.state = Halted
	}

	return StepResult{Instruction: instr, Halted: c.state == Halted}, nil
}

// RunUntilIdle steps repeatedly until the CPU leaves the Running state —
// halted, errored, or toggled to Debugging from another goroutine. Since
// Step only returns an error for BadState, which cannot occur here (the
// loop condition already guards on Running), RunUntilIdle never itself
// returns an error; callers check State afterwards.
func (c *CPU) RunUntilIdle() error {
	for c.state == Running {
		if _, err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}

func (c *CPU) execute(instr Instruction) error {
	switch instr.Opcode {
	case opNop:
		return nil
	case opHlt:
		return nil
	case opSl:
		return c.pushValue(signExtend16(instr.Operand))
	case opSpop:
		return c.popMany(int(instr.Operand))
	case opLlbl:
		return c.pushLabel(instr.Operand)
	case opRgw:
		return c.regWrite(instr.Operand)
	case opRgr:
		return c.regRead(instr.Operand)
	case opJmpl:
		return c.jumpToLabel(instr.Operand)
	case opJmpr:
		return c.jumpRelative(instr)
	case opRet:
		return c.returnFromCall()
	case opJmpa:
		return c.jumpAbsolute()
	case opAdd:
		return c.arith(instr.Operand, func(a, b int32) int32 { return a + b })
	case opSub:
		return c.arith(instr.Operand, func(a, b int32) int32 { return a - b })
	case opMul:
		return c.arith(instr.Operand, func(a, b int32) int32 { return a * b })
	case opDiv:
		return c.divide(instr.Operand)
	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, instr.Opcode)
	}
}

func signExtend16(v uint16) int32 {
	return int32(int16(v))
}

func (c *CPU) pushValue(v int32) error {
	if err := c.stack.push(v); err != nil {
		return err
	}
	c.diag.Trace(PushEvent{Value: v})
	return nil
}

func (c *CPU) popValue() (int32, error) {
	v, err := c.stack.pop()
	if err != nil {
		return 0, err
	}
	c.diag.Trace(PopEvent{Count: 1})
	return v, nil
}

func (c *CPU) popMany(n int) error {
	for i := 0; i < n; i++ {
		if _, err := c.stack.pop(); err != nil {
			return err
		}
	}
	c.diag.Trace(PopEvent{Count: n})
	return nil
}

func (c *CPU) pushLabel(id uint16) error {
	off, err := c.mmu.LabelOffset(id)
	if err != nil {
		return err
	}
	return c.pushValue(int32(off))
}

func (c *CPU) regWrite(idx uint16) error {
	v, err := c.popValue()
	if err != nil {
		return err
	}
	if err := c.WriteRegister(int(idx), v); err != nil {
		return err
	}
	c.diag.Trace(RegWriteEvent{Index: int(idx), Value: v})
	return nil
}

func (c *CPU) regRead(idx uint16) error {
	v, err := c.ReadRegister(int(idx))
	if err != nil {
		return err
	}
	c.diag.Trace(RegReadEvent{Index: int(idx)})
	return c.pushValue(v)
}

// jumpTarget applies §4.5's jump_target rule: an address below
// ProgramBase is taken as relative to ProgramBase and has it added;
// any other address is used unchanged.
func jumpTarget(addr uint32) uint32 {
	if addr < ProgramBase {
		return addr + ProgramBase
	}
	return addr
}

func (c *CPU) jumpToLabel(id uint16) error {
	off, err := c.mmu.LabelOffset(id)
	if err != nil {
		return err
	}
	from := c.PC()
	to := jumpTarget(off)
	c.regs[RegPC].Write(int32(to))
	c.diag.Trace(JumpEvent{From: from, To: to})
	return nil
}

// jumpRelative implements jmpr: write_reg(7, PC) then jump to the
// target label's offset. Despite its name, the displacement is not
// relative to the current instruction — R7 carries the link (the PC as
// it stood after this instruction was fetched) and operand names a
// label, resolved the same way jmpl resolves one.
func (c *CPU) jumpRelative(instr Instruction) error {
	link := c.PC()
	if err := c.WriteRegister(RegR7, int32(link)); err != nil {
		return err
	}
	c.diag.Trace(RegWriteEvent{Index: RegR7, Value: int32(link)})

	off, err := c.mmu.LabelOffset(instr.Operand)
	if err != nil {
		return err
	}
	to := jumpTarget(off)
	c.regs[RegPC].Write(int32(to))
	c.diag.Trace(JumpEvent{From: link, To: to})
	return nil
}

// returnFromCall implements ret: PC <- jump_target(read_reg(7)). It
// reads the link register jmpr wrote, rather than popping the stack.
func (c *CPU) returnFromCall() error {
	link, err := c.ReadRegister(RegR7)
	if err != nil {
		return err
	}
	c.diag.Trace(RegReadEvent{Index: RegR7})

	from := c.PC()
	to := jumpTarget(uint32(link))
	c.regs[RegPC].Write(int32(to))
	c.diag.Trace(JumpEvent{From: from, To: to})
	return nil
}

func (c *CPU) jumpAbsolute() error {
	addr, err := c.popValue()
	if err != nil {
		return err
	}
	from := c.PC()
	to := jumpTarget(uint32(addr))
	c.regs[RegPC].Write(int32(to))
	c.diag.Trace(JumpEvent{From: from, To: to})
	return nil
}

// arith implements the add/sub/mul operand convention: operand == 0
// means both operands come from the stack (b popped first, then a), a
// nonzero operand is a sign-extended immediate used as b against the
// single popped stack value a. The result is pushed back.
func (c *CPU) arith(operand uint16, op func(a, b int32) int32) error {
	if operand == 0 {
		b, err := c.popValue()
		if err != nil {
			return err
		}
		a, err := c.popValue()
		if err != nil {
			return err
		}
		return c.pushValue(op(a, b))
	}
	a, err := c.popValue()
	if err != nil {
		return err
	}
	return c.pushValue(op(a, signExtend16(operand)))
}

func (c *CPU) divide(operand uint16) error {
	var a, b int32
	if operand == 0 {
		var err error
		b, err = c.popValue()
		if err != nil {
			return err
		}
		a, err = c.popValue()
		if err != nil {
			return err
		}
	} else {
		var err error
		a, err = c.popValue()
		if err != nil {
			return err
		}
		b = signExtend16(operand)
	}
	if b == 0 {
		return ErrDivideByZero
	}
	return c.pushValue(a / b)
}
