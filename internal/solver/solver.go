// Package solver spawns the external graph/SAT solver, streams a GNF
// document to its stdin, and parses a SATISFIABLE/UNSATISFIABLE verdict
// from its stdout. The spawn/pipe pattern follows go/parser.ParseStream's
// convention of wiring a subprocess's stdio directly to an
// io.Writer/io.Reader pair and inspecting the exit error.
package solver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	log "github.com/sirupsen/logrus"
)

// DefaultBinary is the solver executable name looked up on PATH, matching
// the reference checker's external dependency.
const DefaultBinary = "monosat"

// Verdict is the solver's answer for one GNF instance.
type Verdict int

const (
	// Satisfiable means a satisfying assignment exists: the encoded history
	// admits a strictly serializable total order.
	Satisfiable Verdict = iota
	// Unsatisfiable means no satisfying assignment exists: the history is
	// not strictly serializable.
	Unsatisfiable
)

func (v Verdict) String() string {
	if v == Satisfiable {
		return "SATISFIABLE"
	}
	return "UNSATISFIABLE"
}

// ContractError marks output that didn't match either accepted verdict
// line byte-for-byte -- a solver-contract violation.
type ContractError struct {
	Output []byte
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("solver: unrecognized output (contract violation): %q", e.Output)
}

// SpawnError wraps a failure to start the solver subprocess at all. When it
// comes from the CLI's startup probe, the CLI (as for any probe failure)
// prints a diagnostic and exits with its own exit code before any encoding
// work is done.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("solver: failed to spawn %q: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

var satLine = []byte("s SATISFIABLE\n")
var unsatLine = []byte("s UNSATISFIABLE\n")

// Driver spawns Binary once per Run call, feeding it a complete GNF
// document and parsing its verdict. The zero value uses DefaultBinary.
type Driver struct {
	Binary string
}

func (d *Driver) binary() string {
	if d.Binary == "" {
		return DefaultBinary
	}
	return d.Binary
}

// Run spawns the solver, writes gnfText followed by a single trailing
// newline to its stdin, closes stdin, waits for exit, and parses stdout.
// Every exit path -- success, non-zero exit, or unparseable output --
// fully drains the subprocess's output before returning, so the pipe is
// never left half-read.
func (d *Driver) Run(ctx context.Context, gnfText string) (Verdict, error) {
	cmd := exec.CommandContext(ctx, d.binary())
	cmd.Stdin = bytes.NewReader(append([]byte(gnfText), '\n'))

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	log.WithFields(log.Fields{"binary": d.binary(), "input_bytes": len(gnfText)}).Debug("spawning solver")

	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return 0, &SpawnError{Binary: d.binary(), Err: err}
		}
		return 0, fmt.Errorf("solver: %s exited with error: %w", d.binary(), err)
	}

	out := stdout.Bytes()
	switch {
	case bytes.Equal(out, satLine):
		return Satisfiable, nil
	case bytes.Equal(out, unsatLine):
		return Unsatisfiable, nil
	default:
		return 0, &ContractError{Output: out}
	}
}

// Probe verifies the solver binary is reachable and well-behaved by
// running it on an empty (vacuously satisfiable) GNF document, exactly as
// the checker does once at startup before any real work. An UNSATISFIABLE
// response to an empty input can't happen for a correct solver and is
// treated as a ContractError, the same as unparseable output.
func (d *Driver) Probe(ctx context.Context) error {
	verdict, err := d.Run(ctx, "")
	if err != nil {
		return err
	}
	if verdict != Satisfiable {
		return &ContractError{Output: []byte(verdict.String())}
	}
	return nil
}
