// Package encode implements the dependency encoder: given a history.History,
// it derives realtime-order and per-key read/write/anti-dependency edges and
// clauses and accumulates them into a gnf.GNF.
package encode

import (
	"bytes"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/estuary/sercheck/internal/gnf"
	"github.com/estuary/sercheck/internal/history"
	"github.com/estuary/sercheck/internal/prop"
)

// ViolationError is a semantic impossibility detected without invoking the
// solver: a read value that no write could have produced. It short-circuits
// before GNF emission.
type ViolationError struct {
	Reason string
}

func (e *ViolationError) Error() string { return "encode: " + e.Reason }

// Build derives the full GNF for h: realtime edges between every pair of
// Completed transactions, then per-key read/write/anti-dependency
// encoding. It returns a ViolationError if the history contains a
// semantic impossibility.
func Build(h *history.History) (*gnf.GNF, error) {
	g := gnf.New()

	nodes := make([]gnf.Node, len(h.Transactions))
	for i := range h.Transactions {
		nodes[i] = g.AddNode()
	}

	addRealtimeEdges(g, h, nodes)

	if err := encodeKeys(g, h, nodes); err != nil {
		return nil, err
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("encode: built an invalid GNF: %w", err)
	}
	return g, nil
}

// addRealtimeEdges adds an unconditional edge Ti->Tj for every ordered
// pair of Completed transactions where Tj.start strictly follows Ti.end.
// NeverRan and Crashed transactions contribute none.
func addRealtimeEdges(g *gnf.GNF, h *history.History, nodes []gnf.Node) {
	for i, ti := range h.Transactions {
		if ti.Status.Status != history.Completed {
			continue
		}
		for j, tj := range h.Transactions {
			if tj.Status.Status != history.Completed {
				continue
			}
			if tj.Status.Start > ti.Status.End {
				v := g.AddVariable()
				g.AddClause(prop.Clause{prop.Lit(v)}, fmt.Sprintf("Real-time edge from T%d to T%d", i, j))
				g.AddEdge(nodes[i], nodes[j], v, fmt.Sprintf("Real time ordering of T%d and T%d", i, j))
			}
		}
	}
}

// keyAccess is one transaction's touch of a key: its index and the value
// observed (for a read) or written (for a write; nil means a Remove).
type keyAccess struct {
	txIdx int
	value history.Bytes
	// present distinguishes a write of an empty-but-present value / a read
	// that observed `Some(empty)` from the Remove/absent case.
	present bool
}

// encodeKeys partitions every operation in h by key and applies the case
// analysis below to each key's reads and writes.
func encodeKeys(g *gnf.GNF, h *history.History, nodes []gnf.Node) error {
	keyOps := groupByKey(h)

	// Iterate keys in sorted order for deterministic GNF output.
	keys := make([]string, 0, len(keyOps))
	for k := range keyOps {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, keyStr := range keys {
		ops := keyOps[keyStr]
		var reads, writes []keyAccess

		for _, op := range ops {
			tx := &h.Transactions[op.txIdx]
			if op.op.IsGet() {
				if tx.Status.Status != history.Completed {
					continue // reads in crashed/never-ran transactions are discarded
				}
				result := tx.Status.GetResults[op.opIdx]
				ka := keyAccess{txIdx: op.txIdx}
				if result != nil {
					ka.present = true
					ka.value = history.Bytes(*result)
				}
				reads = append(reads, ka)
				continue
			}
			// Writes (Insert/Remove) contribute from Crashed or Completed
			// transactions: a crashed write may have become durable. A
			// NeverRan transaction never executed at all and contributes no
			// candidate writes. This is a latent source of false SATs if a
			// store could ever make writes visible before Start is flushed,
			// but nothing in this harness's target store does that.
			if tx.Status.Status == history.NeverRan {
				continue
			}
			value, isWrite := op.op.WriteValue()
			if !isWrite {
				continue
			}
			ka := keyAccess{txIdx: op.txIdx}
			if op.op.Insert != nil {
				ka.present = true
				ka.value = value
			}
			writes = append(writes, ka)
		}

		if err := encodeKey(g, []byte(keyStr), reads, writes, nodes); err != nil {
			return err
		}
	}
	return nil
}

type opRef struct {
	txIdx, opIdx int
	op           history.Operation
}

// groupByKey indexes every operation in the history by the raw key bytes
// it touches.
func groupByKey(h *history.History) map[string][]opRef {
	out := make(map[string][]opRef)
	for txIdx, tx := range h.Transactions {
		for opIdx, op := range tx.Spec.Ops {
			k := string(op.Key())
			out[k] = append(out[k], opRef{txIdx: txIdx, opIdx: opIdx, op: op})
		}
	}
	return out
}

func valuesEqual(present1 bool, v1 history.Bytes, present2 bool, v2 history.Bytes) bool {
	if present1 != present2 {
		return false
	}
	if !present1 {
		return true
	}
	return bytes.Equal(v1, v2)
}

// encodeKey case-splits on the number of writes and reads touching key: no
// constraints when there are no reads, every read must be absent when there
// are no writes, a direct W-R/R-W edge when there's exactly one write, and
// the fuller disjunctive encoding below when there's more than one.
func encodeKey(g *gnf.GNF, key []byte, reads, writes []keyAccess, nodes []gnf.Node) error {
	switch {
	case len(writes) == 0 && len(reads) == 0:
		panic("encode: key group with neither reads nor writes: impossible by construction")

	case len(reads) == 0:
		// (_, 0): no constraints.
		return nil

	case len(writes) == 0:
		// (0, _): every read must be absent.
		for _, r := range reads {
			if r.present {
				return &ViolationError{Reason: fmt.Sprintf(
					"transaction %d read a value for key %x with no transaction ever writing it", r.txIdx, key)}
			}
		}
		return nil

	case len(writes) == 1:
		return encodeSingleWrite(g, key, writes[0], reads, nodes)

	default:
		return encodeMultiWrite(g, key, writes, reads, nodes)
	}
}

// encodeSingleWrite handles the single-write case: w is the key's only
// write, and each read either precedes it (anti-dependency), observes it
// (read-dependency), or is impossible given the values involved.
func encodeSingleWrite(g *gnf.GNF, key []byte, w keyAccess, reads []keyAccess, nodes []gnf.Node) error {
	for _, r := range reads {
		switch {
		case !w.present && !r.present:
			// W=None, R=None: no edge, order unconstrained.

		case !w.present && r.present:
			return &ViolationError{Reason: fmt.Sprintf(
				"transaction %d observed a value for key %x but the sole write removed it", r.txIdx, key)}

		case w.present && !r.present:
			// Anti-dependency: read must precede the write.
			v := g.AddVariable()
			comment := fmt.Sprintf("R-W anti-dependency edge from T%d to T%d on %x", r.txIdx, w.txIdx, key)
			g.AddClause(prop.Clause{prop.Lit(v)}, comment)
			g.AddEdge(nodes[r.txIdx], nodes[w.txIdx], v, comment)

		default: // both present
			if !valuesEqual(w.present, w.value, r.present, r.value) {
				return &ViolationError{Reason: fmt.Sprintf(
					"transaction %d observed a value for key %x that doesn't match the sole write", r.txIdx, key)}
			}
			v := g.AddVariable()
			comment := fmt.Sprintf("W-R dependency edge from T%d to T%d on %x", w.txIdx, r.txIdx, key)
			g.AddClause(prop.Clause{prop.Lit(v)}, comment)
			g.AddEdge(nodes[w.txIdx], nodes[r.txIdx], v, comment)
		}
	}
	return nil
}

// encodeMultiWrite handles the case of two or more writes to the same key:
// for each read, every write whose value matches is a candidate source, and
// the encoding picks one by asserting its read-dependency edge while ruling
// out every other candidate either having been overwritten first or having
// been read around.
func encodeMultiWrite(g *gnf.GNF, key []byte, writes, reads []keyAccess, nodes []gnf.Node) error {
	for _, r := range reads {
		var matching []keyAccess
		for _, w := range writes {
			if valuesEqual(w.present, w.value, r.present, r.value) {
				matching = append(matching, w)
			}
		}
		if r.present && len(matching) == 0 {
			return &ViolationError{Reason: fmt.Sprintf(
				"transaction %d observed a value for key %x matching none of the candidate writes", r.txIdx, key)}
		}

		// Pre-allocate one candidate R->W anti-dependency edge per write.
		// When there's exactly one matching write and the read is present,
		// that write's edge is never referenced by the disjunction built
		// below and is skipped -- a deliberate, documented asymmetry (see
		// DESIGN.md) that relies on the unit-asserted W-R edge alone to fix
		// the order in that case.
		outerDisjWillBeTrivial := len(matching)+boolToInt(!r.present) == 1

		skipSoleMatchEdge := len(matching) == 1 && r.present
		readToWriteAntiDep := make([]*prop.Variable, len(writes))
		for i, w := range writes {
			if skipSoleMatchEdge && w.txIdx == matching[0].txIdx {
				readToWriteAntiDep[i] = nil
				continue
			}
			v := g.AddVariable()
			prefix := "Candidate "
			if outerDisjWillBeTrivial {
				prefix = ""
			}
			comment := fmt.Sprintf("%sR-W anti-dependency from T%d to T%d on %x", prefix, r.txIdx, w.txIdx, key)
			g.AddEdge(nodes[r.txIdx], nodes[w.txIdx], v, comment)
			readToWriteAntiDep[i] = &v
		}

		var disjArgs []prop.Expression
		for _, w := range matching {
			writeToRead := g.AddVariable()
			prefix := "Candidate "
			if outerDisjWillBeTrivial {
				prefix = ""
			}
			comment := fmt.Sprintf("%sW-R dependency from T%d to T%d on %x", prefix, w.txIdx, r.txIdx, key)
			g.AddEdge(nodes[w.txIdx], nodes[r.txIdx], writeToRead, comment)

			conjArgs := make([]prop.Expression, 0, len(writes))
			conjArgs = append(conjArgs, prop.L(prop.Lit(writeToRead)))

			for i, other := range writes {
				if other.txIdx == w.txIdx {
					continue
				}
				wwVar := g.AddVariable()
				g.AddEdge(nodes[other.txIdx], nodes[w.txIdx], wwVar, fmt.Sprintf(
					"Candidate W-W anti-dependency from T%d to T%d on %x", other.txIdx, w.txIdx, key))
				conjArgs = append(conjArgs, prop.Or(
					prop.L(prop.Lit(wwVar)),
					prop.L(prop.Lit(*readToWriteAntiDep[i])),
				))
			}
			disjArgs = append(disjArgs, prop.And(conjArgs...))
		}

		if !r.present {
			conjArgs := make([]prop.Expression, 0, len(writes))
			for _, v := range readToWriteAntiDep {
				conjArgs = append(conjArgs, prop.L(prop.Lit(*v)))
			}
			disjArgs = append(disjArgs, prop.And(conjArgs...))
		}

		clauses := prop.ToCNF(prop.Or(disjArgs...))
		writesStr := formatTxList(writes)
		g.AddClauses(clauses, fmt.Sprintf("Ordering of writes [%s] and read T%d on %x", writesStr, r.txIdx, key))
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTxList(writes []keyAccess) string {
	var b bytes.Buffer
	for i, w := range writes {
		if i != 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "T%d", w.txIdx)
	}
	return b.String()
}

// LogSummary writes an informational log line with the GNF's size, giving
// an operator a diagnostic trail for the most recently encoded run.
func LogSummary(g *gnf.GNF) {
	log.WithFields(log.Fields{
		"n_variables": g.NVariables(),
		"n_nodes":     g.NNodes(),
		"n_edges":     g.NEdges(),
		"n_clauses":   g.NClauses(),
	}).Info("encoded dependency graph")
}
