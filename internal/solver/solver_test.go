package solver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeSolver writes a tiny shell script that reads stdin (discarding it)
// and prints the given response, standing in for the real monosat binary.
func fakeSolver(t *testing.T, response string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-solver.sh")
	// Interpolate the response via a heredoc rather than shell-quoting it.
	script := "#!/bin/sh\ncat >/dev/null\ncat <<'SERCHECK_EOF'\n" + response + "SERCHECK_EOF\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRun_Satisfiable(t *testing.T) {
	d := &Driver{Binary: fakeSolver(t, "s SATISFIABLE\n")}
	verdict, err := d.Run(context.Background(), "p cnf 1 1\n1 0\n")
	require.NoError(t, err)
	require.Equal(t, Satisfiable, verdict)
}

func TestRun_Unsatisfiable(t *testing.T) {
	d := &Driver{Binary: fakeSolver(t, "s UNSATISFIABLE\n")}
	verdict, err := d.Run(context.Background(), "p cnf 1 2\n1 0\n-1 0\n")
	require.NoError(t, err)
	require.Equal(t, Unsatisfiable, verdict)
}

func TestRun_MalformedOutputIsContractError(t *testing.T) {
	d := &Driver{Binary: fakeSolver(t, "garbage\n")}
	_, err := d.Run(context.Background(), "")
	require.Error(t, err)
	var contractErr *ContractError
	require.ErrorAs(t, err, &contractErr)
}

func TestRun_SpawnFailureIsDistinguishable(t *testing.T) {
	d := &Driver{Binary: filepath.Join(t.TempDir(), "does-not-exist")}
	_, err := d.Run(context.Background(), "")
	require.Error(t, err)
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
}

func TestProbe_RejectsUnsatForEmptyInput(t *testing.T) {
	d := &Driver{Binary: fakeSolver(t, "s UNSATISFIABLE\n")}
	err := d.Probe(context.Background())
	require.Error(t, err)
	var contractErr *ContractError
	require.ErrorAs(t, err, &contractErr)
}

func TestProbe_AcceptsSatisfiable(t *testing.T) {
	d := &Driver{Binary: fakeSolver(t, "s SATISFIABLE\n")}
	require.NoError(t, d.Probe(context.Background()))
}
