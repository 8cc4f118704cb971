// Command checker is the transactional history checker: given a crashed or
// exited workload's recovered state directory and its emitted stdout
// trace, it decides whether the observed execution was strictly
// serializable.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"

	"github.com/estuary/sercheck/internal/encode"
	"github.com/estuary/sercheck/internal/gnf"
	"github.com/estuary/sercheck/internal/ingest"
	"github.com/estuary/sercheck/internal/metrics"
	"github.com/estuary/sercheck/internal/solver"
	"github.com/estuary/sercheck/internal/store"
)

// Exit codes: 0 for a serializable (or trivially empty) history, 1 for any
// fatal structural violation, solver error, or UNSAT verdict, 2 when the
// startup probe fails (the solver can't be spawned, or misbehaves on an
// empty input).
const (
	exitOK                = 0
	exitViolation         = 1
	exitSolverUnreachable = 2
)

type positional struct {
	CrashedStateDirectory string `required:"true"`
	StdoutFile            string `required:"true"`
}

type solverArgs struct {
	Binary string `long:"binary" optional:"true" default:"" description:"Path to the solver executable; defaults to monosat on PATH"`
}

type args struct {
	Solver      solverArgs            `group:"Solver" namespace:"solver" env-namespace:"SOLVER"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Positional  positional            `positional-args:"yuup"`
}

func main() {
	var opts args
	var parser = flags.NewParser(&opts, flags.Default)

	if _, err := parser.Parse(); err != nil {
		fmt.Println(err)
		os.Exit(exitViolation)
	}

	defer mbp.InitDiagnosticsAndRecover(opts.Diagnostics)()
	mbp.InitLog(opts.Log)

	ctx := context.Background()
	driver := &solver.Driver{Binary: opts.Solver.Binary}

	if err := driver.Probe(ctx); err != nil {
		log.WithError(err).Error("solver is not reachable or is misbehaving")
		os.Exit(exitSolverUnreachable)
	}

	os.Exit(run(ctx, opts.Positional, driver))
}

// run performs the checker's full pipeline and returns the process exit
// code, separated from main so the exit path stays a single os.Exit call.
func run(ctx context.Context, pos positional, driver *solver.Driver) int {
	f, err := os.Open(pos.StdoutFile)
	if err != nil {
		log.WithError(err).Error("failed to open stdout_file")
		return exitViolation
	}
	defer f.Close()

	result, err := ingest.Parse(f)
	if err == ingest.ErrNotWritten {
		log.Info("workload never wrote transaction specs; nothing to check")
		return exitOK
	}
	if err != nil {
		log.WithError(err).Error("failed to ingest workload trace")
		return exitViolation
	}

	st, err := store.Open(pos.CrashedStateDirectory)
	if err != nil {
		log.WithError(err).Error("failed to recover crashed state directory")
		return exitViolation
	}
	defer st.Close()

	if err := store.Scan(st, result.History); err != nil {
		log.WithError(err).Error("terminal scan failed")
		return exitViolation
	}

	g, err := encode.Build(result.History)
	if err != nil {
		log.WithError(err).Error("history is not strictly serializable: semantic violation")
		return exitViolation
	}

	reg := metrics.NewRegistry()
	reg.NVariables.Set(float64(g.NVariables()))
	reg.NClauses.Set(float64(g.NClauses()))
	reg.NNodes.Set(float64(g.NNodes()))
	reg.NEdges.Set(float64(g.NEdges()))
	encode.LogSummary(g)

	verdict, err := timeSolve(ctx, driver, g, reg)
	reg.LogSnapshot()
	if err != nil {
		log.WithError(err).Error("solver invocation failed")
		return exitViolation
	}

	log.WithField("verdict", verdict.String()).Info("solver finished")
	if verdict != solver.Satisfiable {
		return exitViolation
	}
	return exitOK
}

func timeSolve(ctx context.Context, driver *solver.Driver, g *gnf.GNF, reg *metrics.Registry) (solver.Verdict, error) {
	start := time.Now()
	verdict, err := driver.Run(ctx, g.Serialize())
	reg.SolveTime.Observe(time.Since(start).Seconds())
	return verdict, err
}
