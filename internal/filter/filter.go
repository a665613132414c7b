// Package filter compiles N1QL-style SELECT statements and evaluates their
// WHERE clause against JSON documents.
//
// Statements are parsed with the MySQL-dialect parser from
// github.com/xwb1989/sqlparser. Named parameters are written $name, as in
// N1QL, and bound at match time rather than interpolated into the text.
package filter

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"
)

var (
	// ErrUnsupported is returned for syntax the evaluator does not handle
	ErrUnsupported = errors.New("unsupported expression")

	// ErrUnboundParameter is returned when a $name has no value
	ErrUnboundParameter = errors.New("unbound parameter")
)

// Filter is a compiled statement
type Filter struct {
	statement string
	keyspace  string
	where     sqlparser.Expr // nil matches everything
}

// Compile parses statement, which must be a SELECT from a single keyspace.
func Compile(statement string) (*Filter, error) {
	sql := strings.TrimSuffix(strings.TrimSpace(statement), ";")

	stmt, err := sqlparser.Parse(rewriteParams(sql))
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return nil, fmt.Errorf("%w: statement type %T", ErrUnsupported, stmt)
	}
	if len(sel.From) != 1 {
		return nil, fmt.Errorf("%w: only single keyspace SELECT supported", ErrUnsupported)
	}

	keyspace, err := getTableName(sel.From[0])
	if err != nil {
		return nil, err
	}

	f := &Filter{statement: statement, keyspace: keyspace}
	if sel.Where != nil {
		f.where = sel.Where.Expr
	}
	return f, nil
}

// Keyspace returns the name the statement selects from
func (f *Filter) Keyspace() string {
	return f.keyspace
}

// String returns the statement as given to Compile
func (f *Filter) String() string {
	return f.statement
}

// Match reports whether doc satisfies the WHERE clause. Comparisons against
// missing fields or nulls are unknown, and unknown does not match.
func (f *Filter) Match(doc map[string]interface{}, params map[string]interface{}) (bool, error) {
	if f.where == nil {
		return true, nil
	}
	ev := &evaluator{keyspace: f.keyspace, doc: doc, params: params}
	result, err := ev.test(f.where)
	if err != nil {
		return false, err
	}
	return result == triTrue, nil
}

func getTableName(expr sqlparser.TableExpr) (string, error) {
	switch t := expr.(type) {
	case *sqlparser.AliasedTableExpr:
		if tbl, ok := t.Expr.(sqlparser.TableName); ok {
			return tbl.Name.String(), nil
		}
	}
	return "", fmt.Errorf("%w: could not determine keyspace", ErrUnsupported)
}

// rewriteParams turns $name into the parser's :name bind syntax, and into
// the ::name list form after IN. Quoted text is copied untouched.
func rewriteParams(sql string) string {
	var out strings.Builder
	out.Grow(len(sql) + 8)

	var quote byte
	lastWord := ""
	for i := 0; i < len(sql); i++ {
		ch := sql[i]

		if quote != 0 {
			out.WriteByte(ch)
			if ch == '\\' && i+1 < len(sql) {
				i++
				out.WriteByte(sql[i])
			} else if ch == quote {
				quote = 0
			}
			continue
		}

		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			quote = ch
			lastWord = ""
			out.WriteByte(ch)
		case ch == '$' && i+1 < len(sql) && isIdentStart(sql[i+1]):
			j := i + 1
			for j < len(sql) && isIdentPart(sql[j]) {
				j++
			}
			if strings.EqualFold(lastWord, "in") {
				out.WriteString("::")
			} else {
				out.WriteString(":")
			}
			out.WriteString(sql[i+1 : j])
			lastWord = ""
			i = j - 1
		case isIdentPart(ch):
			j := i
			for j < len(sql) && isIdentPart(sql[j]) {
				j++
			}
			lastWord = sql[i:j]
			out.WriteString(lastWord)
			i = j - 1
		default:
			if ch != ' ' && ch != '\t' && ch != '\n' && ch != '\r' {
				lastWord = ""
			}
			out.WriteByte(ch)
		}
	}
	return out.String()
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || ('0' <= ch && ch <= '9')
}

// tri is a three-valued logic result
type tri int

const (
	triUnknown tri = iota
	triFalse
	triTrue
)

func triOf(b bool) tri {
	if b {
		return triTrue
	}
	return triFalse
}

func (t tri) not() tri {
	switch t {
	case triTrue:
		return triFalse
	case triFalse:
		return triTrue
	}
	return triUnknown
}

type evaluator struct {
	keyspace string
	doc      map[string]interface{}
	params   map[string]interface{}
}

func (ev *evaluator) test(expr sqlparser.Expr) (tri, error) {
	switch e := expr.(type) {
	case *sqlparser.AndExpr:
		left, err := ev.test(e.Left)
		if err != nil {
			return triUnknown, err
		}
		right, err := ev.test(e.Right)
		if err != nil {
			return triUnknown, err
		}
		if left == triFalse || right == triFalse {
			return triFalse, nil
		}
		if left == triUnknown || right == triUnknown {
			return triUnknown, nil
		}
		return triTrue, nil

	case *sqlparser.OrExpr:
		left, err := ev.test(e.Left)
		if err != nil {
			return triUnknown, err
		}
		right, err := ev.test(e.Right)
		if err != nil {
			return triUnknown, err
		}
		if left == triTrue || right == triTrue {
			return triTrue, nil
		}
		if left == triUnknown || right == triUnknown {
			return triUnknown, nil
		}
		return triFalse, nil

	case *sqlparser.NotExpr:
		inner, err := ev.test(e.Expr)
		if err != nil {
			return triUnknown, err
		}
		return inner.not(), nil

	case *sqlparser.ParenExpr:
		return ev.test(e.Expr)

	case *sqlparser.ComparisonExpr:
		return ev.compare(e)

	case *sqlparser.RangeCond:
		return ev.between(e)

	case *sqlparser.IsExpr:
		return ev.is(e)
	}

	// Bare value used as a condition
	v, ok, err := ev.value(expr)
	if err != nil || !ok {
		return triUnknown, err
	}
	b, isBool := v.(bool)
	return triOf(isBool && b), nil
}

func (ev *evaluator) compare(e *sqlparser.ComparisonExpr) (tri, error) {
	switch e.Operator {
	case sqlparser.InStr, sqlparser.NotInStr:
		return ev.in(e)
	}

	left, lok, err := ev.value(e.Left)
	if err != nil {
		return triUnknown, err
	}
	right, rok, err := ev.value(e.Right)
	if err != nil {
		return triUnknown, err
	}

	if e.Operator == sqlparser.NullSafeEqualStr {
		if !lok || !rok {
			return triOf(lok == rok), nil
		}
		return triOf(equal(left, right)), nil
	}
	if !lok || !rok {
		return triUnknown, nil
	}

	switch e.Operator {
	case sqlparser.EqualStr:
		return triOf(equal(left, right)), nil
	case sqlparser.NotEqualStr, "<>":
		return triOf(!equal(left, right)), nil
	case sqlparser.LessThanStr, sqlparser.LessEqualStr, sqlparser.GreaterThanStr, sqlparser.GreaterEqualStr:
		c, ok := order(left, right)
		if !ok {
			return triUnknown, nil
		}
		switch e.Operator {
		case sqlparser.LessThanStr:
			return triOf(c < 0), nil
		case sqlparser.LessEqualStr:
			return triOf(c <= 0), nil
		case sqlparser.GreaterThanStr:
			return triOf(c > 0), nil
		default:
			return triOf(c >= 0), nil
		}
	case sqlparser.LikeStr, sqlparser.NotLikeStr:
		matched, ok, err := like(left, right)
		if err != nil || !ok {
			return triUnknown, err
		}
		if e.Operator == sqlparser.NotLikeStr {
			matched = !matched
		}
		return triOf(matched), nil
	case sqlparser.RegexpStr, sqlparser.NotRegexpStr:
		s, sok := left.(string)
		pattern, pok := right.(string)
		if !sok || !pok {
			return triUnknown, nil
		}
		matched, err := regexp.MatchString(pattern, s)
		if err != nil {
			return triUnknown, fmt.Errorf("invalid regexp %q: %w", pattern, err)
		}
		if e.Operator == sqlparser.NotRegexpStr {
			matched = !matched
		}
		return triOf(matched), nil
	}

	return triUnknown, fmt.Errorf("%w: operator %s", ErrUnsupported, e.Operator)
}

func (ev *evaluator) in(e *sqlparser.ComparisonExpr) (tri, error) {
	left, lok, err := ev.value(e.Left)
	if err != nil {
		return triUnknown, err
	}

	var candidates []interface{}
	switch r := e.Right.(type) {
	case sqlparser.ValTuple:
		for _, item := range r {
			v, ok, err := ev.value(item)
			if err != nil {
				return triUnknown, err
			}
			if ok {
				candidates = append(candidates, v)
			}
		}
	case sqlparser.ListArg:
		v, err := ev.param(strings.TrimPrefix(string(r), "::"))
		if err != nil {
			return triUnknown, err
		}
		list, ok := v.([]interface{})
		if !ok {
			return triUnknown, fmt.Errorf("parameter %s: IN needs a list, got %T", string(r), v)
		}
		candidates = list
	default:
		return triUnknown, fmt.Errorf("%w: %s", ErrUnsupported, sqlparser.String(e.Right))
	}

	if !lok {
		return triUnknown, nil
	}

	found := false
	for _, c := range candidates {
		if equal(left, c) {
			found = true
			break
		}
	}
	if e.Operator == sqlparser.NotInStr {
		found = !found
	}
	return triOf(found), nil
}

func (ev *evaluator) between(e *sqlparser.RangeCond) (tri, error) {
	v, ok, err := ev.value(e.Left)
	if err != nil {
		return triUnknown, err
	}
	from, fok, err := ev.value(e.From)
	if err != nil {
		return triUnknown, err
	}
	to, tok, err := ev.value(e.To)
	if err != nil {
		return triUnknown, err
	}
	if !ok || !fok || !tok {
		return triUnknown, nil
	}

	lo, ok1 := order(v, from)
	hi, ok2 := order(v, to)
	if !ok1 || !ok2 {
		return triUnknown, nil
	}
	result := triOf(lo >= 0 && hi <= 0)
	if e.Operator == sqlparser.NotBetweenStr {
		return result.not(), nil
	}
	return result, nil
}

func (ev *evaluator) is(e *sqlparser.IsExpr) (tri, error) {
	v, ok, err := ev.value(e.Expr)
	if err != nil {
		return triUnknown, err
	}
	b, isBool := v.(bool)

	switch e.Operator {
	case sqlparser.IsNullStr:
		return triOf(!ok), nil
	case sqlparser.IsNotNullStr:
		return triOf(ok), nil
	case sqlparser.IsTrueStr:
		return triOf(isBool && b), nil
	case sqlparser.IsNotTrueStr:
		return triOf(!(isBool && b)), nil
	case sqlparser.IsFalseStr:
		return triOf(isBool && !b), nil
	case sqlparser.IsNotFalseStr:
		return triOf(!(isBool && !b)), nil
	}
	return triUnknown, fmt.Errorf("%w: operator %s", ErrUnsupported, e.Operator)
}

// value evaluates a scalar expression. ok is false for missing fields and nulls.
func (ev *evaluator) value(expr sqlparser.Expr) (interface{}, bool, error) {
	switch e := expr.(type) {
	case *sqlparser.SQLVal:
		switch e.Type {
		case sqlparser.StrVal:
			return string(e.Val), true, nil
		case sqlparser.IntVal, sqlparser.FloatVal:
			f, err := strconv.ParseFloat(string(e.Val), 64)
			if err != nil {
				return nil, false, fmt.Errorf("invalid number %q: %w", e.Val, err)
			}
			return f, true, nil
		case sqlparser.ValArg:
			v, err := ev.param(strings.TrimPrefix(string(e.Val), ":"))
			if err != nil {
				return nil, false, err
			}
			return v, v != nil, nil
		}
		return nil, false, fmt.Errorf("%w: literal %s", ErrUnsupported, sqlparser.String(e))
	case *sqlparser.NullVal:
		return nil, false, nil
	case sqlparser.BoolVal:
		return bool(e), true, nil
	case *sqlparser.ColName:
		v, ok := lookup(ev.doc, ev.path(e))
		return v, ok && v != nil, nil
	case *sqlparser.ParenExpr:
		return ev.value(e.Expr)
	case *sqlparser.UnaryExpr:
		if e.Operator == sqlparser.UMinusStr {
			v, ok, err := ev.value(e.Expr)
			if err != nil || !ok {
				return nil, false, err
			}
			if f, isNum := v.(float64); isNum {
				return -f, true, nil
			}
			return nil, false, nil
		}
	}
	return nil, false, fmt.Errorf("%w: %s", ErrUnsupported, sqlparser.String(expr))
}

func (ev *evaluator) param(name string) (interface{}, error) {
	v, ok := ev.params[name]
	if !ok {
		return nil, fmt.Errorf("%w: $%s", ErrUnboundParameter, name)
	}
	return Normalize(v), nil
}

// path flattens a possibly qualified column into field names, dropping a
// leading keyspace qualifier.
func (ev *evaluator) path(col *sqlparser.ColName) []string {
	var parts []string
	if !col.Qualifier.Qualifier.IsEmpty() {
		parts = append(parts, col.Qualifier.Qualifier.String())
	}
	if !col.Qualifier.Name.IsEmpty() {
		parts = append(parts, col.Qualifier.Name.String())
	}
	parts = append(parts, col.Name.String())

	if len(parts) > 1 && parts[0] == ev.keyspace {
		parts = parts[1:]
	}
	return parts
}

func lookup(doc map[string]interface{}, path []string) (interface{}, bool) {
	var current interface{} = doc
	for _, field := range path {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[field]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Normalize converts Go parameter values into the shapes produced by
// decoding JSON: numbers become float64 and slices become []interface{}.
func Normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case nil, string, bool, float64, map[string]interface{}:
		return x
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = Normalize(item)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

func equal(a, b interface{}) bool {
	if c, ok := order(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// order compares two scalars of the same kind
func order(a, b interface{}) (int, bool) {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// like matches s against a SQL LIKE pattern (% and _ wildcards)
func like(s, pattern interface{}) (bool, bool, error) {
	str, ok := s.(string)
	if !ok {
		return false, false, nil
	}
	pat, ok := pattern.(string)
	if !ok {
		return false, false, nil
	}

	var re strings.Builder
	re.WriteString("(?s)^")
	for _, r := range pat {
		switch r {
		case '%':
			re.WriteString(".*")
		case '_':
			re.WriteString(".")
		default:
			re.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	re.WriteString("$")

	matched, err := regexp.MatchString(re.String(), str)
	if err != nil {
		return false, false, err
	}
	return matched, true, nil
}
