// Package filter implements the boolean-expression flight filter and
// SQL builder described in spec.md §4.9 (C9): flight-table predicates
// ANDed with input-parameter predicates, plus an optional boolean-
// expression tree over input-parameter predicates supporting
// arbitrary AND/OR nesting. Package filter knows nothing about
// Journal or FlightContext; it only builds WHERE-clause fragments and
// positional arguments for a target SQL dialect, mirroring the split
// between package stairway and package journal.
package filter

import (
	"fmt"
	"strings"
)

// Op is a comparison operator usable in a Predicate.
type Op string

const (
	OpEQ Op = "="
	OpNE Op = "!="
	OpLT Op = "<"
	OpLE Op = "<="
	OpGT Op = ">"
	OpGE Op = ">="
	OpIN Op = "IN"
)

// Column identifies a flight-table column a Predicate compares
// against (spec.md §6's flight table).
type Column string

const (
	ColFlightID     Column = "flight_id"
	ColClassName    Column = "class_name"
	ColStatus       Column = "status"
	ColOwnerID      Column = "owner_id"
	ColSubmitTime   Column = "submit_time"
	ColCompletedTime Column = "completed_time"
)

// Predicate is one flight-table comparison or one input-parameter
// comparison (spec.md §4.9). A zero Key means "compare the flight
// table Column directly"; a non-zero Key means "this predicate is an
// EXISTS subquery over the input-parameter side table, correlated by
// flight_id and keyed by Key".
type Predicate struct {
	Column Column // flight-table column; ignored when Key != ""
	Key    string // input-parameter name; "" means a flight-table predicate
	Op     Op
	Value  any   // string, time.Time, or nil for IS NULL/IS NOT NULL
	Values []any // used only when Op == OpIN
}

// BoolExpr is a node in the boolean-expression tree over
// input-parameter predicates (spec.md §4.9). Exactly one of Leaf,
// And, or Or is set.
type BoolExpr struct {
	Leaf *Predicate
	And  []BoolExpr
	Or   []BoolExpr
}

// Leaf wraps p as a single-predicate BoolExpr.
func Leaf(p Predicate) BoolExpr { return BoolExpr{Leaf: &p} }

// And combines exprs with AND.
func And(exprs ...BoolExpr) BoolExpr { return BoolExpr{And: exprs} }

// Or combines exprs with OR.
func Or(exprs ...BoolExpr) BoolExpr { return BoolExpr{Or: exprs} }

// Query is a full flight-enumeration filter: an AND of flight-table
// predicates, an optional input-parameter boolean-expression tree, and
// paging (spec.md §4.9).
type Query struct {
	// FlightPredicates are ANDed inline comparisons on the flight table.
	FlightPredicates []Predicate

	// Inputs, if non-nil, is the boolean-expression tree over
	// input-parameter predicates.
	Inputs *BoolExpr

	// Ascending orders by submit_time ascending when true, descending
	// otherwise.
	Ascending bool

	// Limit bounds the number of rows returned; 0 means "use the
	// caller's default".
	Limit int

	// PageToken, if non-empty, is a cursor from a previous page (spec.md
	// §4.9): the query adds submit_time > token (ascending) or
	// submit_time < token (descending).
	PageToken string

	// Offset, if PageToken == "", uses a plain offset/limit page
	// instead of the cursor style.
	Offset int
}

// Dialect abstracts the positional-parameter placeholder syntax of the
// target SQL backend (spec.md §6: MySQL/Postgres/SQLite all differ
// here).
type Dialect int

const (
	// DialectQuestion uses "?" placeholders (SQLite, MySQL).
	DialectQuestion Dialect = iota
	// DialectDollar uses "$1", "$2", ... placeholders (Postgres).
	DialectDollar
)

type sqlBuilder struct {
	dialect Dialect
	args    []any
	sb      strings.Builder
}

func (b *sqlBuilder) placeholder() string {
	switch b.dialect {
	case DialectDollar:
		return fmt.Sprintf("$%d", len(b.args))
	default:
		return "?"
	}
}

func (b *sqlBuilder) addArg(v any) string {
	b.args = append(b.args, v)
	return b.placeholder()
}

// ToSQL renders q's filter (flight predicates ANDed with the input
// boolean-expression tree) into a WHERE-clause fragment (without the
// leading "WHERE") and its positional arguments, for the given
// dialect (spec.md §4.9's SQL generator).
//
// Each input-parameter predicate becomes an EXISTS subquery over
// flight_input, correlated by flight_id and keyed by the parameter
// name; boolean-expression trees become parenthesised AND/OR
// combinations of those EXISTS clauses, exactly as spec.md prescribes.
func (q Query) ToSQL(dialect Dialect) (string, []any) {
	b := &sqlBuilder{dialect: dialect}

	var clauses []string
	for _, p := range q.FlightPredicates {
		clauses = append(clauses, b.renderFlightPredicate(p))
	}
	if q.Inputs != nil {
		clauses = append(clauses, b.renderExpr(*q.Inputs))
	}

	if len(clauses) == 0 {
		return "1=1", b.args
	}
	return strings.Join(clauses, " AND "), b.args
}

func (b *sqlBuilder) renderFlightPredicate(p Predicate) string {
	col := string(p.Column)
	if p.Op == OpIN {
		phs := make([]string, len(p.Values))
		for i, v := range p.Values {
			phs[i] = b.addArg(v)
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(phs, ","))
	}
	if p.Value == nil {
		if p.Op == OpNE {
			return fmt.Sprintf("%s IS NOT NULL", col)
		}
		return fmt.Sprintf("%s IS NULL", col)
	}
	return fmt.Sprintf("%s %s %s", col, string(p.Op), b.addArg(p.Value))
}

// renderExpr renders one node of the input-parameter boolean tree.
func (b *sqlBuilder) renderExpr(e BoolExpr) string {
	switch {
	case e.Leaf != nil:
		return b.renderInputExists(*e.Leaf)
	case len(e.And) > 0:
		return b.renderJoin(e.And, " AND ")
	case len(e.Or) > 0:
		return b.renderJoin(e.Or, " OR ")
	default:
		return "1=1"
	}
}

func (b *sqlBuilder) renderJoin(exprs []BoolExpr, sep string) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = b.renderExpr(e)
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// renderInputExists renders one input-parameter predicate as an
// EXISTS subquery over flight_input, correlated by flight_id and
// keyed by p.Key (spec.md §4.9).
func (b *sqlBuilder) renderInputExists(p Predicate) string {
	keyPh := b.addArg(p.Key)

	var cmp string
	if p.Op == OpIN {
		phs := make([]string, len(p.Values))
		for i, v := range p.Values {
			phs[i] = b.addArg(v)
		}
		cmp = fmt.Sprintf("value IN (%s)", strings.Join(phs, ","))
	} else if p.Value == nil {
		if p.Op == OpNE {
			cmp = "value IS NOT NULL"
		} else {
			cmp = "value IS NULL"
		}
	} else {
		cmp = fmt.Sprintf("value %s %s", string(p.Op), b.addArg(p.Value))
	}

	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM flight_input fi WHERE fi.flight_id = flight.flight_id AND fi.param_key = %s AND fi.%s)",
		keyPh, cmp,
	)
}
