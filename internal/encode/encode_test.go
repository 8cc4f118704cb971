package encode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/sercheck/internal/history"
)

func completed(ops []history.Operation, start, end uint64, results []*history.Bytes) history.Transaction {
	return history.Transaction{
		Spec:   history.TransactionSpec{Ops: ops},
		Status: history.TransactionStatus{Status: history.Completed, Start: start, End: end, GetResults: results},
	}
}

func bp(s string) *history.Bytes {
	b := history.Bytes(s)
	return &b
}

// Scenario 1: two disjoint-key Inserts, non-overlapping in realtime.
func TestBuild_TriviallySerializable(t *testing.T) {
	h := &history.History{Transactions: []history.Transaction{
		completed([]history.Operation{
			{Insert: &history.InsertOp{Key: history.Bytes("a"), Value: history.Bytes("1")}},
		}, 1, 2, []*history.Bytes{nil}),
		completed([]history.Operation{
			{Insert: &history.InsertOp{Key: history.Bytes("b"), Value: history.Bytes("2")}},
		}, 3, 4, []*history.Bytes{nil}),
	}}

	g, err := Build(h)
	require.NoError(t, err)
	require.Equal(t, 2, g.NNodes())
	require.GreaterOrEqual(t, g.NEdges(), 1) // at least the realtime edge T0->T1
}

// Scenario 2: read observes a prior write of the same value.
func TestBuild_ReadObservesWrite(t *testing.T) {
	h := &history.History{Transactions: []history.Transaction{
		completed([]history.Operation{
			{Insert: &history.InsertOp{Key: history.Bytes("k"), Value: history.Bytes("v")}},
		}, 1, 1, []*history.Bytes{nil}),
		completed([]history.Operation{
			{Get: &history.GetOp{Key: history.Bytes("k")}},
		}, 2, 2, []*history.Bytes{bp("v")}),
	}}

	g, err := Build(h)
	require.NoError(t, err)
	require.NoError(t, g.Validate())
}

// Scenario 3: a read observes a value no transaction ever wrote.
func TestBuild_ReadFromNowhereIsFatal(t *testing.T) {
	h := &history.History{Transactions: []history.Transaction{
		completed([]history.Operation{
			{Get: &history.GetOp{Key: history.Bytes("x")}},
		}, 1, 1, []*history.Bytes{bp("ghost")}),
	}}

	_, err := Build(h)
	require.Error(t, err)
	var viol *ViolationError
	require.ErrorAs(t, err, &viol)
}

// Scenario 6: a Crashed write still counts as a write to its key, so the
// later read of None gets a unit-asserted R->W anti-dependency edge to it;
// no realtime edge involves the crashed transaction, so this stays
// satisfiable.
func TestBuild_CrashTolerance(t *testing.T) {
	h := &history.History{Transactions: []history.Transaction{
		{
			Spec:   history.TransactionSpec{Ops: []history.Operation{{Insert: &history.InsertOp{Key: history.Bytes("k"), Value: history.Bytes("v")}}}},
			Status: history.TransactionStatus{Status: history.Crashed, Start: 1},
		},
		completed([]history.Operation{
			{Get: &history.GetOp{Key: history.Bytes("k")}},
		}, 2, 3, []*history.Bytes{nil}),
	}}

	g, err := Build(h)
	require.NoError(t, err)
	require.NoError(t, g.Validate())
}

// Scenario 5 (structure only -- satisfiability itself needs the external
// solver): the classic write-skew cycle produces one read-dependency edge
// per key (T1->T0 on x, T0->T1 on y). The transactions overlap in realtime,
// so no realtime edge is added, and the two edges form a cycle a correct
// solver would find unsatisfiable. Here we only assert the GNF builds
// without a pre-solver violation and carries exactly those two edges.
func TestBuild_ClassicCycleEncodesWithoutPreSolverViolation(t *testing.T) {
	h := &history.History{Transactions: []history.Transaction{
		completed([]history.Operation{
			{Get: &history.GetOp{Key: history.Bytes("x")}},
			{Insert: &history.InsertOp{Key: history.Bytes("y"), Value: history.Bytes("b")}},
		}, 1, 10, []*history.Bytes{bp("a"), nil}),
		completed([]history.Operation{
			{Get: &history.GetOp{Key: history.Bytes("y")}},
			{Insert: &history.InsertOp{Key: history.Bytes("x"), Value: history.Bytes("a")}},
		}, 2, 11, []*history.Bytes{bp("b"), nil}),
	}}

	g, err := Build(h)
	require.NoError(t, err)
	require.NoError(t, g.Validate())
	require.Equal(t, 2, g.NEdges())
}

func TestBuild_MultiWriteMatchesCorrectValue(t *testing.T) {
	h := &history.History{Transactions: []history.Transaction{
		completed([]history.Operation{
			{Insert: &history.InsertOp{Key: history.Bytes("k"), Value: history.Bytes("v1")}},
		}, 1, 2, []*history.Bytes{nil}),
		completed([]history.Operation{
			{Insert: &history.InsertOp{Key: history.Bytes("k"), Value: history.Bytes("v2")}},
		}, 3, 4, []*history.Bytes{nil}),
		completed([]history.Operation{
			{Get: &history.GetOp{Key: history.Bytes("k")}},
		}, 5, 6, []*history.Bytes{bp("v2")}),
	}}

	g, err := Build(h)
	require.NoError(t, err)
	require.NoError(t, g.Validate())
}

func TestBuild_MultiWriteReadMatchesNoCandidateIsFatal(t *testing.T) {
	h := &history.History{Transactions: []history.Transaction{
		completed([]history.Operation{
			{Insert: &history.InsertOp{Key: history.Bytes("k"), Value: history.Bytes("v1")}},
		}, 1, 2, []*history.Bytes{nil}),
		completed([]history.Operation{
			{Insert: &history.InsertOp{Key: history.Bytes("k"), Value: history.Bytes("v2")}},
		}, 3, 4, []*history.Bytes{nil}),
		completed([]history.Operation{
			{Get: &history.GetOp{Key: history.Bytes("k")}},
		}, 5, 6, []*history.Bytes{bp("v3")}),
	}}

	_, err := Build(h)
	require.Error(t, err)
}

func TestBuild_NoWritesReadMustBeAbsent(t *testing.T) {
	h := &history.History{Transactions: []history.Transaction{
		completed([]history.Operation{
			{Get: &history.GetOp{Key: history.Bytes("k")}},
		}, 1, 2, []*history.Bytes{nil}),
	}}

	g, err := Build(h)
	require.NoError(t, err)
	require.NoError(t, g.Validate())
}
