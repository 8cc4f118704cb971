// Package gnf builds the Graph+CNF aggregate consumed by the external
// solver: a variable/node allocator, clause groups, directed edges, and a
// reserved acyclicity variable, serialized to the textual GNF dialect the
// solver accepts.
package gnf

import (
	"fmt"
	"strings"

	"github.com/estuary/sercheck/internal/prop"
)

// Node is a graph node index (0-indexed).
type Node int

// Edge is a directed, conditionally-active edge: it exists in the solved
// graph iff its Variable is assigned true.
type Edge struct {
	From, To Node
	Variable prop.Variable
	Comment  string
}

type clauseGroup struct {
	comment string
	clauses []prop.Clause
}

// AcyclicVariable is always variable 1, reserved by convention and
// unit-asserted exactly once by New.
const AcyclicVariable prop.Variable = 1

// GNF accumulates variables, graph nodes/edges, CNF clauses, and the
// acyclicity predicate across the whole history, monotonically, and is
// finalized by Serialize.
type GNF struct {
	nVariables int
	groups     []clauseGroup
	nNodes     int
	edges      []Edge
}

// New constructs an empty GNF, with variable 1 reserved for acyclicity and
// immediately unit-asserted: the acyclicity variable appears as a positive
// unit clause exactly once, asserted rather than conditional.
func New() *GNF {
	g := &GNF{nVariables: 1}
	g.groups = append(g.groups, clauseGroup{
		comment: "Acyclic property",
		clauses: []prop.Clause{{prop.Lit(AcyclicVariable)}},
	})
	return g
}

// AddVariable allocates and returns a fresh variable.
func (g *GNF) AddVariable() prop.Variable {
	g.nVariables++
	return prop.Variable(g.nVariables)
}

// AddNode allocates and returns a fresh graph node.
func (g *GNF) AddNode() Node {
	n := Node(g.nNodes)
	g.nNodes++
	return n
}

// AddEdge records a directed edge whose existence is controlled by
// variable. The variable must have been produced by this GNF's own
// AddVariable.
func (g *GNF) AddEdge(from, to Node, variable prop.Variable, comment string) {
	g.edges = append(g.edges, Edge{From: from, To: to, Variable: variable, Comment: comment})
}

// AddClause appends a single clause under a diagnostic comment.
func (g *GNF) AddClause(clause prop.Clause, comment string) {
	g.groups = append(g.groups, clauseGroup{comment: comment, clauses: []prop.Clause{clause}})
}

// AddClauses appends a group of clauses (e.g. the CNF of one encoded
// constraint) under a single diagnostic comment.
func (g *GNF) AddClauses(clauses []prop.Clause, comment string) {
	g.groups = append(g.groups, clauseGroup{comment: comment, clauses: clauses})
}

// NVariables, NNodes, NEdges and NClauses report the GNF's current size,
// used both for diagnostics (internal/metrics) and for round-trip checks
// against the serialized header.
func (g *GNF) NVariables() int { return g.nVariables }
func (g *GNF) NNodes() int     { return g.nNodes }
func (g *GNF) NEdges() int     { return len(g.edges) }
func (g *GNF) NClauses() int {
	n := 0
	for _, grp := range g.groups {
		n += len(grp.clauses)
	}
	return n
}

// Validate checks the structural invariants a well-formed GNF must hold:
// every edge's variable falls within the allocated range, edges don't
// repeat their (from,to,variable) triple or reuse a variable across edges,
// and every clause literal references an allocated variable.
func (g *GNF) Validate() error {
	seenTriple := make(map[Edge]struct{}, len(g.edges))
	seenVar := make(map[prop.Variable]struct{}, len(g.edges))
	for _, e := range g.edges {
		if int(e.Variable) < 1 || int(e.Variable) > g.nVariables {
			return fmt.Errorf("gnf: edge %d->%d references unallocated variable %d", e.From, e.To, e.Variable)
		}
		if int(e.From) < 0 || int(e.From) >= g.nNodes || int(e.To) < 0 || int(e.To) >= g.nNodes {
			return fmt.Errorf("gnf: edge references unallocated node (%d->%d, nNodes=%d)", e.From, e.To, g.nNodes)
		}
		key := Edge{From: e.From, To: e.To, Variable: e.Variable}
		if _, dup := seenTriple[key]; dup {
			return fmt.Errorf("gnf: duplicate edge triple (%d,%d,%d)", e.From, e.To, e.Variable)
		}
		seenTriple[key] = struct{}{}
		if _, dup := seenVar[e.Variable]; dup {
			return fmt.Errorf("gnf: variable %d reused by more than one edge", e.Variable)
		}
		seenVar[e.Variable] = struct{}{}
	}
	for _, grp := range g.groups {
		for _, clause := range grp.clauses {
			for _, lit := range clause {
				if int(lit.Var) < 1 || int(lit.Var) > g.nVariables {
					return fmt.Errorf("gnf: clause references unallocated variable %d", lit.Var)
				}
			}
		}
	}
	return nil
}

// Serialize renders the GNF to the textual dialect the external solver
// accepts: a DIMACS CNF header and clauses, followed by a
// `digraph`/`edge`/`acyclic` section. Comments are diagnostic only and
// never affect the logical content.
func (g *GNF) Serialize() string {
	var b strings.Builder

	fmt.Fprintf(&b, "p cnf %d %d\n", g.nVariables, g.NClauses())
	for _, grp := range g.groups {
		fmt.Fprintf(&b, "c %s\n", grp.comment)
		for _, clause := range grp.clauses {
			for _, lit := range clause {
				if lit.Negated {
					fmt.Fprintf(&b, "-%d ", lit.Var)
				} else {
					fmt.Fprintf(&b, "%d ", lit.Var)
				}
			}
			b.WriteString("0\n")
		}
	}

	fmt.Fprintf(&b, "digraph %d %d 0\n", g.nNodes, len(g.edges))
	for _, e := range g.edges {
		fmt.Fprintf(&b, "c %s\nedge 0 %d %d %d\n", e.Comment, e.From, e.To, e.Variable)
	}
	fmt.Fprintf(&b, "acyclic 0 %d\n", AcyclicVariable)

	return b.String()
}
