// doc.go - package kl27, the KL27 virtual CPU core

/*
(c) 2024 - 2026 Fuyukai
https://github.com/Fuyukai/kl27
License: GPLv3 or later
*/

/*
Package kl27 implements the KL27 virtual CPU core: a loader for the K27
binary container format, a flat 16MiB byte-addressable memory unit, an
8-register general-purpose file plus three 32-bit special registers, a
bounded LIFO stack, and the fetch-execute cycle that interprets the KL27
instruction set.

The package is deliberately silent and synchronous — it never writes to
stdout/stderr and never spawns goroutines of its own. Everything it does
is observable through return values, the exported register/stack/PC
accessors, and the two bounded diagnostic rings (recent instructions,
recent side-effect trace events). A front-end — a graphical debugger, a
terminal REPL, a batch conformance runner — drives the CPU one step at a
time (or to idle with RunUntilIdle) and polls those accessors between
calls; this package has no opinion on what that front-end looks like.

The assembler that produces K27 files, and any GPU/TTY peripheral, are
out of scope: this package's only contract with the outside world is the
K27 file format itself.
*/
package kl27
