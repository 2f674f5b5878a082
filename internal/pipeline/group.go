package pipeline

import "github.com/dot-do/mondodb/internal/document"

// groupState accumulates one group's running values across the documents
// that hash to it, in the order spec.md §4.8 assigns to each accumulator.
type groupState struct {
	idValue document.Value
	order   int
	sums    map[string]float64
	counts  map[string]int64 // numeric operand count seen, for $avg
	firsts  map[string]document.Value
	lasts   map[string]document.Value
	mins    map[string]document.Value
	maxs    map[string]document.Value
	pushes  map[string][]document.Value
	sets    map[string][]document.Value
	seen    map[string]map[string]bool // dedup key for $addToSet
}

func newGroupState(id document.Value, order int) *groupState {
	return &groupState{
		idValue: id,
		order:   order,
		sums:    make(map[string]float64),
		counts:  make(map[string]int64),
		firsts:  make(map[string]document.Value),
		lasts:   make(map[string]document.Value),
		mins:    make(map[string]document.Value),
		maxs:    make(map[string]document.Value),
		pushes:  make(map[string][]document.Value),
		sets:    make(map[string][]document.Value),
		seen:    make(map[string]map[string]bool),
	}
}

// stageGroup implements $group: build a hash map keyed by the _id
// expression, apply every accumulator field, and emit one output document
// per group in first-seen order (spec.md §4.8).
func stageGroup(arg document.Value, docs []*document.Doc) ([]*document.Doc, error) {
	if arg.Kind != document.KindDocument {
		return docs, nil
	}
	idExpr, _ := arg.Doc.Get("_id")

	var fields []string
	var accs []document.Value
	arg.Doc.Range(func(k string, v document.Value) bool {
		if k == "_id" {
			return true
		}
		fields = append(fields, k)
		accs = append(accs, v)
		return true
	})

	order := 0
	groups := make(map[string]*groupState)
	var groupOrder []string

	for _, d := range docs {
		idVal := evalGroupID(idExpr, d)
		key := groupKey(idVal)
		g, ok := groups[key]
		if !ok {
			g = newGroupState(idVal, order)
			order++
			groups[key] = g
			groupOrder = append(groupOrder, key)
		}
		for i, field := range fields {
			accumulate(g, field, accs[i], d)
		}
	}

	out := make([]*document.Doc, 0, len(groupOrder))
	for _, key := range groupOrder {
		g := groups[key]
		od := document.NewDoc()
		od.Set("_id", g.idValue)
		for i, field := range fields {
			od.Set(field, finalizeAccumulator(g, field, accs[i]))
		}
		out = append(out, od)
	}
	return out, nil
}

// evalGroupID evaluates the _id expression: a literal/constant, a field path
// beginning with "$", or a compound document of sub-expressions.
func evalGroupID(expr document.Value, d *document.Doc) document.Value {
	switch expr.Kind {
	case document.KindString:
		if len(expr.Str) > 0 && expr.Str[0] == '$' {
			if v, ok := d.GetPath(expr.Str[1:]); ok {
				return v
			}
			return document.Null()
		}
		return expr
	case document.KindDocument:
		out := document.NewDoc()
		expr.Doc.Range(func(k string, v document.Value) bool {
			out.Set(k, evalGroupID(v, d))
			return true
		})
		return document.DocumentOf(out)
	default:
		return expr
	}
}

func groupKey(v document.Value) string {
	b, err := document.ToJSON(wrapSingleton(v))
	if err != nil {
		return v.String()
	}
	return string(b)
}

func wrapSingleton(v document.Value) *document.Doc {
	d := document.NewDoc()
	d.Set("k", v)
	return d
}

// accumulatorOperand extracts the single $-operator and its argument from an
// accumulator spec such as {$sum: 1} or {$push: "$field"}.
func accumulatorOperand(spec document.Value) (string, document.Value, bool) {
	if spec.Kind != document.KindDocument || spec.Doc.Len() != 1 {
		return "", document.Value{}, false
	}
	op := spec.Doc.Keys()[0]
	v, _ := spec.Doc.Get(op)
	return op, v, true
}

func resolveOperand(v document.Value, d *document.Doc) document.Value {
	if v.Kind == document.KindString && len(v.Str) > 0 && v.Str[0] == '$' {
		if resolved, ok := d.GetPath(v.Str[1:]); ok {
			return resolved
		}
		return document.Null()
	}
	return v
}

func accumulate(g *groupState, field string, spec document.Value, d *document.Doc) {
	op, operand, ok := accumulatorOperand(spec)
	if !ok {
		return
	}
	switch op {
	case "$sum":
		if operand.Kind == document.KindInt64 && operand.Int64 == 1 {
			g.sums[field]++
			return
		}
		val := resolveOperand(operand, d)
		if n, ok := val.AsFloat64(); ok {
			g.sums[field] += n
		}
		// Missing numeric operands count as zero for $sum (spec.md §4.8).
	case "$avg":
		val := resolveOperand(operand, d)
		if n, ok := val.AsFloat64(); ok {
			g.sums[field] += n
			g.counts[field]++
		}
		// $avg ignores non-numbers (spec.md §4.8) — no counts++ otherwise.
	case "$first":
		if _, seen := g.firsts[field]; !seen {
			g.firsts[field] = resolveOperand(operand, d)
		}
	case "$last":
		g.lasts[field] = resolveOperand(operand, d)
	case "$min":
		val := resolveOperand(operand, d)
		if cur, seen := g.mins[field]; !seen || document.Compare(val, cur) < 0 {
			g.mins[field] = val
		}
	case "$max":
		val := resolveOperand(operand, d)
		if cur, seen := g.maxs[field]; !seen || document.Compare(val, cur) > 0 {
			g.maxs[field] = val
		}
	case "$push":
		g.pushes[field] = append(g.pushes[field], resolveOperand(operand, d))
	case "$addToSet":
		val := resolveOperand(operand, d)
		if g.seen[field] == nil {
			g.seen[field] = make(map[string]bool)
		}
		k := groupKey(val)
		if !g.seen[field][k] {
			g.seen[field][k] = true
			g.sets[field] = append(g.sets[field], val)
		}
	}
}

func finalizeAccumulator(g *groupState, field string, spec document.Value) document.Value {
	op, _, ok := accumulatorOperand(spec)
	if !ok {
		return document.Null()
	}
	switch op {
	case "$sum":
		return numericResult(g.sums[field])
	case "$avg":
		if g.counts[field] == 0 {
			return document.Null()
		}
		return document.Float64(g.sums[field] / float64(g.counts[field]))
	case "$first":
		if v, ok := g.firsts[field]; ok {
			return v
		}
		return document.Null()
	case "$last":
		if v, ok := g.lasts[field]; ok {
			return v
		}
		return document.Null()
	case "$min":
		if v, ok := g.mins[field]; ok {
			return v
		}
		return document.Null()
	case "$max":
		if v, ok := g.maxs[field]; ok {
			return v
		}
		return document.Null()
	case "$push":
		return document.ArrayOf(g.pushes[field]...)
	case "$addToSet":
		return document.ArrayOf(g.sets[field]...)
	default:
		return document.Null()
	}
}

// numericResult renders a float64 accumulator total as an int64 Value when
// it holds an exact integer, matching MongoDB's own $sum-of-integers result
// type, otherwise as a float64.
func numericResult(f float64) document.Value {
	if f == float64(int64(f)) {
		return document.Int64(int64(f))
	}
	return document.Float64(f)
}
