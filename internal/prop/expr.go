// Package prop implements a small propositional-logic expression tree over
// Boolean literals, rewritten to conjunctive normal form by iterated
// bottom-up fixpoint rewriting.
package prop

import "sort"

// Variable is a positive-integer SAT variable index (1-indexed).
type Variable int

// Literal is a variable or its negation.
type Literal struct {
	Var     Variable
	Negated bool
}

// Lit builds a positive literal for v.
func Lit(v Variable) Literal { return Literal{Var: v} }

// Not builds the negation of v.
func Not(v Variable) Literal { return Literal{Var: v, Negated: true} }

// Clause is a disjunction of literals: the canonical CNF unit.
type Clause []Literal

// Expression is a propositional-logic tree: Literal, Conjunction, or
// Disjunction. It is mutated in place by ToCNF and discarded afterward --
// Expressions are never retained across a CNF conversion.
type Expression interface {
	isExpression()
}

// ExprLiteral wraps a single Literal.
type ExprLiteral struct {
	Lit Literal
}

// ExprConjunction is an AND of its children.
type ExprConjunction struct {
	Children []Expression
}

// ExprDisjunction is an OR of its children.
type ExprDisjunction struct {
	Children []Expression
}

func (*ExprLiteral) isExpression()     {}
func (*ExprConjunction) isExpression() {}
func (*ExprDisjunction) isExpression() {}

// And builds a Conjunction expression.
func And(children ...Expression) Expression { return &ExprConjunction{Children: children} }

// Or builds a Disjunction expression.
func Or(children ...Expression) Expression { return &ExprDisjunction{Children: children} }

// L builds a Literal expression.
func L(lit Literal) Expression { return &ExprLiteral{Lit: lit} }

// status is the result of visiting one node during rewriting.
type status int

const (
	statusOther status = iota
	statusLiteral
	statusCnfClause
	statusCnf
)

// ToCNF converts expr to an equivalent list of Clauses under classical
// propositional semantics. It panics if rewriting reaches a fixpoint that
// isn't a conjunction-of-clauses, a clause, or a literal -- an internal
// invariant violation the rewrite rules are supposed to preclude, never a
// user-facing condition.
func ToCNF(expr Expression) []Clause {
	root := expr
	st := rewriteVisit(&root)
	for st != statusCnf && st != statusCnfClause && st != statusLiteral {
		st = rewriteVisit(&root)
	}

	var clauseExprs []Expression
	if conj, ok := root.(*ExprConjunction); ok {
		clauseExprs = conj.Children
	} else {
		clauseExprs = []Expression{root}
	}

	clauses := make([]Clause, 0, len(clauseExprs))
	for _, ce := range clauseExprs {
		switch e := ce.(type) {
		case *ExprConjunction:
			panic("prop: CNF normalization invariant violated: nested conjunction in clause position")
		case *ExprDisjunction:
			clauses = append(clauses, dedupeSort(e.Children))
		case *ExprLiteral:
			clauses = append(clauses, Clause{e.Lit})
		default:
			panic("prop: CNF normalization invariant violated: unrecognized expression node")
		}
	}
	return clauses
}

// dedupeSort builds a Clause from disjunction children, deduplicating
// literals and sorting them into a stable, deterministic order: all
// positive literals ascending by variable, then all negated literals
// ascending by variable. This matches a derived-Ord enum whose variants are
// declared Variable-before-Negation, which is what the reference
// implementation this was ported from relies on for deterministic DIMACS
// output.
func dedupeSort(children []Expression) Clause {
	seen := make(map[Literal]struct{}, len(children))
	lits := make([]Literal, 0, len(children))
	for _, c := range children {
		lit, ok := c.(*ExprLiteral)
		if !ok {
			panic("prop: CNF normalization invariant violated: non-literal in clause position")
		}
		if _, dup := seen[lit.Lit]; dup {
			continue
		}
		seen[lit.Lit] = struct{}{}
		lits = append(lits, lit.Lit)
	}
	sort.Slice(lits, func(i, j int) bool {
		a, b := lits[i], lits[j]
		if a.Negated != b.Negated {
			return !a.Negated // positives before negations
		}
		return a.Var < b.Var
	})
	return lits
}

// rewriteVisit applies one rewrite step to the node at *slot, in place, and
// reports what shape it ended up in. It is the Go analogue of the
// reference implementation's recursive `rewrite_visitor`.
func rewriteVisit(slot *Expression) status {
	switch e := (*slot).(type) {
	case *ExprLiteral:
		return statusLiteral

	case *ExprConjunction:
		isCnf := true
		for i := range e.Children {
			st := rewriteVisit(&e.Children[i])
			if st != statusCnfClause && st != statusLiteral {
				isCnf = false
			}
		}
		if isCnf {
			return statusCnf
		}
		if len(e.Children) == 1 {
			*slot = e.Children[0]
			return statusOther
		}
		// Flatten any nested conjunctions into this one.
		for i := 0; i < len(e.Children); i++ {
			if nested, ok := e.Children[i].(*ExprConjunction); ok {
				last := len(nested.Children) - 1
				replacement := nested.Children[last]
				nested.Children = nested.Children[:last]
				e.Children[i] = replacement
				e.Children = append(e.Children, nested.Children...)
			}
		}
		return statusOther

	case *ExprDisjunction:
		isCnfClause := true
		for i := range e.Children {
			if rewriteVisit(&e.Children[i]) != statusLiteral {
				isCnfClause = false
			}
		}
		if isCnfClause {
			return statusCnfClause
		}
		if len(e.Children) == 1 {
			*slot = e.Children[0]
			return statusOther
		}

		firstConjunction := -1
		for i := 0; i < len(e.Children); i++ {
			switch nested := e.Children[i].(type) {
			case *ExprDisjunction:
				// Flatten any nested disjunctions into this one.
				last := len(nested.Children) - 1
				replacement := nested.Children[last]
				nested.Children = nested.Children[:last]
				if firstConjunction == -1 {
					if _, ok := replacement.(*ExprConjunction); ok {
						firstConjunction = i
					}
				}
				e.Children[i] = replacement
				e.Children = append(e.Children, nested.Children...)
			case *ExprConjunction:
				if firstConjunction == -1 {
					firstConjunction = i
				}
			}
		}

		// Distribute: pick the first conjunction child and one other child,
		// replace both with a conjunction of (other OR each conjunct).
		if firstConjunction != -1 && len(e.Children) >= 2 {
			conj := e.Children[firstConjunction].(*ExprConjunction)
			last := len(e.Children) - 1
			e.Children[firstConjunction] = e.Children[last]
			e.Children = e.Children[:last]

			otherIdx := len(e.Children) - 1
			other := e.Children[otherIdx]
			e.Children = e.Children[:otherIdx]

			distributed := make([]Expression, len(conj.Children))
			for i, arg := range conj.Children {
				distributed[i] = &ExprDisjunction{Children: []Expression{cloneExpr(other), arg}}
			}
			e.Children = append(e.Children, &ExprConjunction{Children: distributed})
		}
		return statusOther

	default:
		panic("prop: unrecognized Expression node")
	}
}

// cloneExpr deep-copies an Expression tree, so each distributed branch gets
// an independent copy rather than aliasing a shared subtree.
func cloneExpr(expr Expression) Expression {
	switch e := expr.(type) {
	case *ExprLiteral:
		return &ExprLiteral{Lit: e.Lit}
	case *ExprConjunction:
		children := make([]Expression, len(e.Children))
		for i, c := range e.Children {
			children[i] = cloneExpr(c)
		}
		return &ExprConjunction{Children: children}
	case *ExprDisjunction:
		children := make([]Expression, len(e.Children))
		for i, c := range e.Children {
			children[i] = cloneExpr(c)
		}
		return &ExprDisjunction{Children: children}
	default:
		panic("prop: unrecognized Expression node")
	}
}
