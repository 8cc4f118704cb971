package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/sercheck/internal/history"
)

// fakeStore is an in-memory Store used to test Scan without a real
// on-disk database.
type fakeStore struct {
	values map[string]history.Bytes
}

func (f *fakeStore) Get(key []byte) (*history.Bytes, error) {
	v, ok := f.values[string(key)]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (f *fakeStore) Iter() ([][]byte, error) {
	keys := make([][]byte, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, []byte(k))
	}
	return keys, nil
}

func (f *fakeStore) Close() {}

func txWithOps(ops ...history.Operation) history.Transaction {
	return history.Transaction{
		Spec: history.TransactionSpec{Ops: ops},
		Status: history.TransactionStatus{
			Status:     history.Completed,
			Start:      10,
			End:        20,
			GetResults: make([]*history.Bytes, len(ops)),
		},
	}
}

func TestScan_AppendsPointReadOverUnionOfKeys(t *testing.T) {
	h := &history.History{
		Transactions: []history.Transaction{
			txWithOps(history.Operation{Insert: &history.InsertOp{Key: history.Bytes("a"), Value: history.Bytes("1")}}),
			txWithOps(history.Operation{Insert: &history.InsertOp{Key: history.Bytes("b"), Value: history.Bytes("2")}}),
		},
	}

	fs := &fakeStore{values: map[string]history.Bytes{"a": history.Bytes("1"), "b": history.Bytes("2")}}
	require.NoError(t, Scan(fs, h))

	require.Len(t, h.Transactions, 3)
	pointRead := h.Transactions[2]
	require.Equal(t, history.Completed, pointRead.Status.Status)
	require.Len(t, pointRead.Spec.Ops, 2)
	require.Equal(t, "a", string(pointRead.Spec.Ops[0].Key()))
	require.Equal(t, "b", string(pointRead.Spec.Ops[1].Key()))

	require.NotNil(t, pointRead.Status.GetResults[0])
	require.Equal(t, history.Bytes("1"), *pointRead.Status.GetResults[0])
	require.NotNil(t, pointRead.Status.GetResults[1])
	require.Equal(t, history.Bytes("2"), *pointRead.Status.GetResults[1])
}

func TestScan_MissingKeyYieldsNilResult(t *testing.T) {
	h := &history.History{
		Transactions: []history.Transaction{
			txWithOps(history.Operation{Remove: &history.RemoveOp{Key: history.Bytes("gone")}}),
		},
	}
	fs := &fakeStore{values: map[string]history.Bytes{}}
	require.NoError(t, Scan(fs, h))

	pointRead := h.Transactions[len(h.Transactions)-1]
	require.Nil(t, pointRead.Status.GetResults[0])
}

func TestScan_KeyExNihiloIsFatal(t *testing.T) {
	h := &history.History{
		Transactions: []history.Transaction{
			txWithOps(history.Operation{Insert: &history.InsertOp{Key: history.Bytes("a"), Value: history.Bytes("1")}}),
		},
	}
	// The store durably holds key "b", which no spec ever mentioned.
	fs := &fakeStore{values: map[string]history.Bytes{"a": history.Bytes("1"), "b": history.Bytes("x")}}

	err := Scan(fs, h)
	require.Error(t, err)
	var exNihilo *ExNihiloError
	require.ErrorAs(t, err, &exNihilo)
}

func TestScan_TimestampStrictlyExceedsMaxObserved(t *testing.T) {
	h := &history.History{
		Transactions: []history.Transaction{
			txWithOps(history.Operation{Insert: &history.InsertOp{Key: history.Bytes("k"), Value: history.Bytes("v")}}),
		},
	}
	fs := &fakeStore{values: map[string]history.Bytes{"k": history.Bytes("v")}}
	maxBefore := h.MaxTimestamp()
	require.NoError(t, Scan(fs, h))

	pointRead := h.Transactions[len(h.Transactions)-1]
	require.Greater(t, pointRead.Status.Start, maxBefore)
}
