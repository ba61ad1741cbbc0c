package memory

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"unitwork/internal/core/tx"
)

// predicate is a compiled row filter. Serializable transactions keep the predicates
// they scanned with and other transactions may not write rows matching them.
type predicate struct {
	table string
	expr  string
	prg   cel.Program
	vars  map[string]any
}

func (p *predicate) match(row map[string]any) bool {
	out, _, err := p.prg.Eval(map[string]any{"row": celRow(row), "args": p.vars})
	if err != nil {
		// Missing columns and type mismatches do not match.
		return false
	}
	ok, _ := out.Value().(bool)
	return ok
}

type compiler struct {
	env   *cel.Env
	mu    sync.Mutex
	cache map[string]cel.Program
}

func newCompiler() (*compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("memory: cel env: %w", err)
	}
	return &compiler{env: env, cache: make(map[string]cel.Program)}, nil
}

func (c *compiler) compile(table, expr string, vars map[string]any) (*predicate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prg, ok := c.cache[expr]
	if !ok {
		ast, iss := c.env.Compile(expr)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("memory: compile %q: %w", expr, iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("memory: predicate %q must be boolean, got %s", expr, ast.OutputType())
		}
		var err error
		if prg, err = c.env.Program(ast); err != nil {
			return nil, fmt.Errorf("memory: program %q: %w", expr, err)
		}
		c.cache[expr] = prg
	}

	args := make(map[string]any, len(vars))
	for k, v := range vars {
		args[k] = celValue(v)
	}
	return &predicate{table: table, expr: expr, prg: prg, vars: args}, nil
}

// filterPredicate turns an equality filter into `row["a"] == args["a"] && ...`.
// An empty filter matches every row.
func (c *compiler) filterPredicate(table string, filter tx.Filter) (*predicate, error) {
	if len(filter) == 0 {
		return c.compile(table, "true", nil)
	}
	cols := make([]string, 0, len(filter))
	for col := range filter {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	terms := make([]string, len(cols))
	for i, col := range cols {
		q := strconv.Quote(col)
		terms[i] = fmt.Sprintf("(%s in row && row[%s] == args[%s])", q, q, q)
	}
	return c.compile(table, strings.Join(terms, " && "), filter)
}

func celRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = celValue(v)
	}
	return out
}

// celValue maps Go values onto the types CEL compares natively. Decimals and UUIDs go
// through their driver representation, so they compare the way a database would.
func celValue(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int64, uint64, float64, []byte, time.Time:
		return x
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return fmt.Sprint(v)
		}
		return celValue(dv)
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return fmt.Sprint(v)
}
