package querysql

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/stateindex/internal/entry"
	"github.com/roach88/stateindex/internal/queryir"
)

// AlwaysTrue is rendered for absent filters and empty combinators.
const AlwaysTrue = "1=1"

// Fixed columns of the data_entries table.
const (
	UIDColumn     = "uid"
	KeyColumn     = "key"
	AddressColumn = "address"
)

// Compiler renders validated filter and sort models as SQL text.
//
// Literals are interpolated rather than bound: every literal and every
// generated identifier passes through Escape. The output for a given input
// is byte-identical across calls, and a Compiler has no mutable state, so it
// is safe for concurrent use.
//
// Callers must run queryir.Validate first. The compiler only rejects nodes it
// cannot render at all (nil children, unknown enum values).
type Compiler struct {
	dialect Dialect
}

// NewCompiler creates a Compiler for the given dialect.
func NewCompiler(d Dialect) *Compiler {
	return &Compiler{dialect: d}
}

// Dialect returns the dialect the compiler renders for.
func (c *Compiler) Dialect() Dialect {
	return c.dialect
}

// CompileWhere renders a filter as a WHERE predicate (without the keyword).
// A nil filter renders AlwaysTrue.
//
// Example:
//
//	And{Address{"X"}, KeyFragment{0, integer, eq, 42}}
//
// Translates to:
//
//	(address = 'X' AND fragment_0_integer = 42)
func (c *Compiler) CompileWhere(f queryir.Filter) (string, error) {
	if f == nil {
		return AlwaysTrue, nil
	}
	return c.compileFilter(f)
}

// CompileSort renders sort items as an ORDER BY list (without the keyword).
// An empty list renders the empty string.
func (c *Compiler) CompileSort(items []queryir.SortItem) (string, error) {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		part, err := c.compileSortItem(item)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", "), nil
}

// compileFilter recursively compiles a filter node.
func (c *Compiler) compileFilter(f queryir.Filter) (string, error) {
	f, ok := queryir.Normalize(f)
	if !ok {
		return "", fmt.Errorf("cannot compile nil filter")
	}

	switch node := f.(type) {
	case queryir.And:
		return c.compileJunction(node.Children, " AND ")
	case queryir.Or:
		return c.compileJunction(node.Children, " OR ")
	case queryir.In:
		return c.compileIn(node)
	case queryir.KeyFragment:
		return c.compileComparison(FragmentColumn(node.Position, node.Type), node.Operation, node.Value)
	case queryir.ValueFragment:
		return c.compileComparison(ValueFragmentColumn(node.Position, node.Type), node.Operation, node.Value)
	case queryir.Key:
		return KeyColumn + " = " + StringLiteral(node.Value), nil
	case queryir.Address:
		return AddressColumn + " = " + StringLiteral(node.Value), nil
	case queryir.Value:
		return c.compileValue(node)
	default:
		return "", fmt.Errorf("unsupported filter type: %T", f)
	}
}

// compileJunction parenthesizes children joined by sep.
func (c *Compiler) compileJunction(children []queryir.Filter, sep string) (string, error) {
	if len(children) == 0 {
		return AlwaysTrue, nil
	}
	parts := make([]string, 0, len(children))
	for _, child := range children {
		part, err := c.compileFilter(child)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (c *Compiler) compileComparison(column string, op queryir.Operation, v entry.Value) (string, error) {
	sqlOp, err := operator(op)
	if err != nil {
		return "", err
	}
	lit, err := Literal(v)
	if err != nil {
		return "", err
	}
	return column + " " + sqlOp + " " + lit, nil
}

// compileValue targets the typed value column. String and binary equality
// also compares md5 digests, booleans also require a non-null column.
func (c *Compiler) compileValue(v queryir.Value) (string, error) {
	if !v.Type.Valid() {
		return "", fmt.Errorf("unsupported value type %q", v.Type)
	}
	column := ValueColumn(v.Type)
	cmp, err := c.compileComparison(column, v.Operation, v.Value)
	if err != nil {
		return "", err
	}

	switch v.Type {
	case entry.TypeString, entry.TypeBinary:
		lit, _ := Literal(v.Value)
		return fmt.Sprintf("(%s AND md5(%s) = md5(%s))", cmp, column, lit), nil
	case entry.TypeBool:
		return fmt.Sprintf("(%s AND %s IS NOT NULL)", cmp, column), nil
	default:
		return cmp, nil
	}
}

// compileIn renders tuple membership. Postgres accepts a parenthesized list
// of row values, SQLite needs a VALUES table.
func (c *Compiler) compileIn(in queryir.In) (string, error) {
	if len(in.Properties) == 0 || len(in.Rows) == 0 {
		return AlwaysTrue, nil
	}

	columns := make([]string, len(in.Properties))
	for i, p := range in.Properties {
		col, err := PropertyColumn(p)
		if err != nil {
			return "", err
		}
		columns[i] = col
	}

	rows := make([]string, len(in.Rows))
	for r, row := range in.Rows {
		lits := make([]string, len(row))
		for i, v := range row {
			lit, err := Literal(v)
			if err != nil {
				return "", err
			}
			lits[i] = lit
		}
		rows[r] = "(" + strings.Join(lits, ",") + ")"
	}

	list := strings.Join(rows, ",")
	if c.dialect == SQLite {
		list = "VALUES " + list
	}
	return fmt.Sprintf("((%s) IN (%s))", strings.Join(columns, ","), list), nil
}

func (c *Compiler) compileSortItem(item queryir.SortItem) (string, error) {
	var column string
	var dir queryir.Direction
	switch s := item.(type) {
	case queryir.SortFragment:
		column, dir = FragmentColumn(s.Position, s.Type), s.Direction
	case queryir.SortValueFragment:
		column, dir = ValueFragmentColumn(s.Position, s.Type), s.Direction
	case queryir.SortKey:
		column, dir = KeyColumn, s.Direction
	case queryir.SortValue:
		if !s.Type.Valid() {
			return "", fmt.Errorf("unsupported value type %q", s.Type)
		}
		column, dir = ValueColumn(s.Type), s.Direction
	case queryir.SortAddress:
		column, dir = AddressColumn, s.Direction
	case queryir.SortBase:
		column, dir = UIDColumn, s.Direction
	default:
		return "", fmt.Errorf("unsupported sort item: %T", item)
	}

	switch dir {
	case queryir.Asc:
		return column + " ASC", nil
	case queryir.Desc:
		return column + " DESC", nil
	default:
		return "", fmt.Errorf("unsupported sort direction %q", dir)
	}
}

// FragmentColumn names the key fragment column for a position and type.
func FragmentColumn(position int, t queryir.FragmentType) string {
	return Escape(fmt.Sprintf("fragment_%d_%s", position, t))
}

// ValueFragmentColumn names the value fragment column for a position and type.
func ValueFragmentColumn(position int, t queryir.FragmentType) string {
	return Escape(fmt.Sprintf("value_fragment_%d_%s", position, t))
}

// ValueColumn names the value column holding type t.
func ValueColumn(t entry.Type) string {
	return Escape(t.Column())
}

// PropertyColumn maps an In property to its physical column.
func PropertyColumn(p queryir.PropertyRef) (string, error) {
	switch prop := p.(type) {
	case queryir.FragmentProperty:
		return FragmentColumn(prop.Position, prop.Type), nil
	case queryir.KeyProperty:
		return KeyColumn, nil
	case queryir.AddressProperty:
		return AddressColumn, nil
	case queryir.ValueProperty:
		if !prop.Type.Valid() {
			return "", fmt.Errorf("unsupported value type %q", prop.Type)
		}
		return ValueColumn(prop.Type), nil
	default:
		return "", fmt.Errorf("unsupported property: %T", p)
	}
}

// Literal renders a typed value as SQL text.
func Literal(v entry.Value) (string, error) {
	switch val := v.(type) {
	case entry.String:
		return StringLiteral(string(val)), nil
	case entry.Integer:
		return strconv.FormatInt(int64(val), 10), nil
	case entry.Bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case entry.Binary:
		return BinaryLiteral(val), nil
	case nil:
		return "", fmt.Errorf("cannot render null literal")
	default:
		return "", fmt.Errorf("unsupported literal type: %T", v)
	}
}

// StringLiteral quotes escaped text. When escaping introduced backslash
// sequences the literal is wrapped in unescape_literal so the database sees
// the original text. Plain text only needs its quotes doubled, which every
// SQL dialect reads natively.
func StringLiteral(s string) string {
	e := Escape(s)
	if strings.IndexByte(e, '\\') < 0 {
		return "'" + e + "'"
	}
	return "unescape_literal('" + e + "')"
}

// BinaryLiteral renders bytes as a base64 string decoded by the database.
func BinaryLiteral(b []byte) string {
	return "decode(" + StringLiteral(base64.StdEncoding.EncodeToString(b)) + ", 'base64')"
}

func operator(op queryir.Operation) (string, error) {
	switch op {
	case queryir.OpEq:
		return "=", nil
	case queryir.OpGt:
		return ">", nil
	case queryir.OpGte:
		return ">=", nil
	case queryir.OpLt:
		return "<", nil
	case queryir.OpLte:
		return "<=", nil
	default:
		return "", fmt.Errorf("unsupported operation %q", op)
	}
}
