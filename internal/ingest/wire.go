package ingest

import "github.com/estuary/sercheck/internal/history"

// startRecord is the wire shape of `{"Start":{"transaction_idx":N,"start":T}}`.
type startRecord struct {
	TransactionIdx int    `json:"transaction_idx"`
	Start          uint64 `json:"start"`
}

// endRecord is the wire shape of
// `{"End":{"transaction_idx":N,"end":T,"get_results":[null|[b,...],...]}}`.
type endRecord struct {
	TransactionIdx int              `json:"transaction_idx"`
	End            uint64           `json:"end"`
	GetResults     []*history.Bytes `json:"get_results"`
}

// outputRecord is the externally-tagged union of Start/End records streamed
// after the first line of the workload's stdout file.
type outputRecord struct {
	Start *startRecord `json:"Start,omitempty"`
	End   *endRecord   `json:"End,omitempty"`
}
