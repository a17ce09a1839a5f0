// klvm is an interactive terminal front-end for the KL27 core: it loads
// a K27 file, puts the terminal into raw mode, and drives a CPU one
// keystroke-triggered command at a time.
package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/Fuyukai/kl27"
)

// Exit codes, per the command surface's documented contract: 0 success,
// 1 load/parse failure, 2 runtime failure (the CPU is errored at quit,
// or the terminal could not be driven), 3 usage error.
const (
	exitOK      = 0
	exitLoad    = 1
	exitRuntime = 2
	exitUsage   = 3
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: klvm [options] program.k27\n\nInteractive terminal front-end for the KL27 core.\n\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nKeys: n=step  r=run  d=toggle debug  h=halt  s=show state  q=quit\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(exitUsage)
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "klvm: %v\n", err)
		os.Exit(exitLoad)
	}

	cpu, err := kl27.NewCPU(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "klvm: %v\n", err)
		os.Exit(exitLoad)
	}

	host := newTerminalHost(cpu)
	if err := host.run(); err != nil {
		fmt.Fprintf(os.Stderr, "klvm: %v\n", err)
		os.Exit(exitRuntime)
	}
	if cpu.State() == kl27.Errored {
		os.Exit(exitRuntime)
	}
	os.Exit(exitOK)
}

// terminalHost puts stdin in raw mode and maps single keystrokes onto
// CPU commands, printing the CPU's visible state back to stdout after
// every command.
type terminalHost struct {
	cpu *kl27.CPU
	fd  int
}

func newTerminalHost(cpu *kl27.CPU) *terminalHost {
	return &terminalHost{cpu: cpu, fd: int(os.Stdin.Fd())}
}

func (h *terminalHost) run() error {
	oldState, err := term.MakeRaw(h.fd)
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	defer term.Restore(h.fd, oldState)

	h.printState()
	buf := make([]byte, 1)
	for {
		n, err := syscall.Read(h.fd, buf)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		if n == 0 {
			continue
		}

		switch buf[0] {
		case 'q', 0x03: // ctrl-c quits too, since raw mode swallows the signal
			return nil
		case 'n':
			h.step()
		case 'r':
			h.runUntilIdle()
		case 'd':
			if err := h.cpu.Toggle(); err != nil {
				fmt.Fprintf(os.Stdout, "\r\ntoggle: %v\r\n", err)
			}
		case 'h':
			h.cpu.Halt()
		case 's':
			// fall through to printState below
		default:
			continue
		}
		h.printState()
	}
}

func (h *terminalHost) step() {
	if h.cpu.State() == kl27.Halted {
		if err := h.cpu.SetRunning(); err != nil {
			fmt.Fprintf(os.Stdout, "\r\nstep: %v\r\n", err)
			return
		}
	}
	if _, err := h.cpu.Step(); err != nil {
		fmt.Fprintf(os.Stdout, "\r\nstep: %v\r\n", err)
	}
}

func (h *terminalHost) runUntilIdle() {
	if h.cpu.State() == kl27.Halted {
		if err := h.cpu.SetRunning(); err != nil {
			fmt.Fprintf(os.Stdout, "\r\nrun: %v\r\n", err)
			return
		}
	}
	if err := h.cpu.RunUntilIdle(); err != nil {
		fmt.Fprintf(os.Stdout, "\r\nrun: %v\r\n", err)
	}
}

func (h *terminalHost) printState() {
	fmt.Fprintf(os.Stdout, "\r\nstate=%s cycles=%d pc=0x%06X regs=%v stack=%v\r\n",
		h.cpu.State(), h.cpu.CycleCount(), h.cpu.PC(), h.cpu.GeneralRegisters(), h.cpu.StackSnapshot())
	if msg := h.cpu.LastError(); msg != "" {
		fmt.Fprintf(os.Stdout, "last error: %s\r\n", msg)
	}
}
