// Package ingest parses a workload's emitted JSON stream -- a first line
// holding the transaction specs, followed by a stream of Start/End records
// -- into an in-memory history.History.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/estuary/sercheck/internal/history"
)

// ErrNotWritten is returned by Parse when the first line of the stream is
// missing or empty: the workload crashed before emitting any transaction
// specs. The caller treats this as a successful "nothing to check" run.
var ErrNotWritten = fmt.Errorf("ingest: transaction specs not written yet")

// Result is the ingested trace, plus the maximum Start/End timestamp
// observed across every record. The terminal scan places its synthetic
// point-read transaction from History.MaxTimestamp, which reports the same
// value for an ingested history.
type Result struct {
	History      *history.History
	MaxTimestamp uint64
}

// Parse reads the workload's stdout_file wire format from r and produces a
// Result. It returns ErrNotWritten if the stream's first line is missing or
// blank. Every
// other contract violation (double Start, End-before-Start, End after
// Completed, End before Start's timestamp) is returned as a descriptive,
// fatal error.
func Parse(r io.Reader) (*Result, error) {
	buffered := bufio.NewReaderSize(r, 64*1024)

	specsLine, err := buffered.ReadBytes('\n')
	if len(bytes.TrimSpace(specsLine)) == 0 {
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("ingest: reading transaction specs line: %w", err)
		}
		return nil, ErrNotWritten
	}

	var specs []history.TransactionSpec
	if jsonErr := json.Unmarshal(specsLine, &specs); jsonErr != nil {
		return nil, fmt.Errorf("ingest: parsing transaction specs: %w", jsonErr)
	}

	txs := make([]history.Transaction, len(specs))
	for i, spec := range specs {
		txs[i] = history.Transaction{
			Index:  i,
			Spec:   spec,
			Status: history.TransactionStatus{Status: history.NeverRan},
		}
	}

	var maxTimestamp uint64
	decoder := json.NewDecoder(buffered)
	for decoder.More() {
		var record outputRecord
		if err := decoder.Decode(&record); err != nil {
			return nil, fmt.Errorf("ingest: parsing Start/End record stream: %w", err)
		}

		switch {
		case record.Start != nil:
			s := record.Start
			if s.Start > maxTimestamp {
				maxTimestamp = s.Start
			}
			if s.TransactionIdx < 0 || s.TransactionIdx >= len(txs) {
				return nil, fmt.Errorf("ingest: Start record references unknown transaction %d", s.TransactionIdx)
			}
			tx := &txs[s.TransactionIdx]
			if tx.Status.Status != history.NeverRan {
				return nil, fmt.Errorf("ingest: transaction %d was reported as starting twice", s.TransactionIdx)
			}
			tx.Status = history.TransactionStatus{Status: history.Crashed, Start: s.Start}
			log.WithFields(log.Fields{"transaction_idx": s.TransactionIdx, "start": s.Start}).Trace("observed Start")

		case record.End != nil:
			e := record.End
			if e.End > maxTimestamp {
				maxTimestamp = e.End
			}
			if e.TransactionIdx < 0 || e.TransactionIdx >= len(txs) {
				return nil, fmt.Errorf("ingest: End record references unknown transaction %d", e.TransactionIdx)
			}
			tx := &txs[e.TransactionIdx]
			switch tx.Status.Status {
			case history.NeverRan:
				return nil, fmt.Errorf(
					"ingest: transaction %d was reported as ending before starting (by appearance order)",
					e.TransactionIdx)
			case history.Completed:
				return nil, fmt.Errorf("ingest: transaction %d was reported as ending twice", e.TransactionIdx)
			case history.Crashed:
				if e.End < tx.Status.Start {
					return nil, fmt.Errorf(
						"ingest: transaction %d was reported as ending before starting (end=%d < start=%d)",
						e.TransactionIdx, e.End, tx.Status.Start)
				}
				tx.Status = history.TransactionStatus{
					Status:     history.Completed,
					Start:      tx.Status.Start,
					End:        e.End,
					GetResults: e.GetResults,
				}
				log.WithFields(log.Fields{"transaction_idx": e.TransactionIdx, "start": tx.Status.Start, "end": e.End}).Trace("observed End")
			}

		default:
			return nil, fmt.Errorf("ingest: Start/End record had neither variant set")
		}
	}

	return &Result{
		History:      &history.History{Transactions: txs},
		MaxTimestamp: maxTimestamp,
	}, nil
}
