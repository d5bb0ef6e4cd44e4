package store

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// Query is a compiled search predicate. It is an expr-lang boolean expression
// evaluated with the record fields as variables, plus `key` and `record`.
type Query struct {
	source  string
	program *exprvm.Program
}

var (
	programsMu sync.RWMutex
	programs   = make(map[string]*exprvm.Program)
)

// CompileQuery compiles src, reusing an earlier compilation of the same text.
// An empty query matches everything.
func CompileQuery(src string) (*Query, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return &Query{}, nil
	}

	programsMu.RLock()
	program, ok := programs[src]
	programsMu.RUnlock()
	if ok {
		return &Query{source: src, program: program}, nil
	}

	program, err := exprlang.Compile(src,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadQuery, src, err)
	}

	programsMu.Lock()
	programs[src] = program
	programsMu.Unlock()
	return &Query{source: src, program: program}, nil
}

func (q *Query) String() string { return q.source }

// Match evaluates the predicate against one record.
func (q *Query) Match(key string, rec Record) (bool, error) {
	if q.program == nil {
		return true, nil
	}
	env := make(map[string]any, len(rec)+2)
	for k, v := range rec {
		env[k] = v
	}
	env["key"] = key
	env["record"] = map[string]any(rec)

	out, err := exprlang.Run(q.program, env)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrBadQuery, q.source, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// Filter runs q over the candidates and returns the matches ordered by key.
func (q *Query) Filter(candidates map[string]Record) ([]Hit, error) {
	keys := make([]string, 0, len(candidates))
	for k := range candidates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var hits []Hit
	for _, k := range keys {
		ok, err := q.Match(k, candidates[k])
		if err != nil {
			return nil, err
		}
		if ok {
			hits = append(hits, Hit{Key: k, Record: candidates[k].Clone()})
		}
	}
	return hits, nil
}

// InRange reports whether an index value lies in [start, end]. Numbers are
// compared numerically, strings lexically. A nil end means equality.
func InRange(v, start, end any) bool {
	if end == nil {
		c, ok := compare(v, start)
		return ok && c == 0
	}
	lo, ok := compare(v, start)
	if !ok || lo < 0 {
		return false
	}
	hi, ok := compare(v, end)
	return ok && hi <= 0
}

func compare(a, b any) (int, bool) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	af, ok := number(a)
	if !ok {
		return 0, false
	}
	bf, ok := number(b)
	if !ok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	}
	return 0, true
}

func number(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case float32:
		f = float64(t)
	case float64:
		f = t
	case bool:
		if t {
			f = 1
		}
	default:
		return 0, false
	}
	return f, !math.IsNaN(f)
}
