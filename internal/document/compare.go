package document

import "strings"

// typeOrder ranks Kinds relative to each other for the total order spec.md
// §4.8's $sort and comparison-operator evaluation require between unlike
// scalar types. This ranking is an implementation decision (spec.md leaves
// the exact cross-type order unspecified beyond "missing/null sorts least");
// it follows MongoDB's own documented BSON comparison order, collapsing
// Int64/Float64 into one numeric rank since spec.md's Value has no separate
// Decimal128-vs-double ordering requirement. Recorded as an Open Question
// resolution in DESIGN.md.
func typeOrder(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindInt64, KindFloat64, KindDecimal128:
		return 1
	case KindString:
		return 2
	case KindDocument:
		return 3
	case KindArray:
		return 4
	case KindBinary:
		return 5
	case KindUUID:
		return 6
	case KindBool:
		return 7
	case KindDate:
		return 8
	default:
		return 9
	}
}

// Compare implements the total order of spec.md §4.8: missing/null values
// compare less than everything except another missing/null value; otherwise
// values of the same kind compare by value, and values of different kinds
// compare by typeOrder.
func Compare(a, b Value) int {
	if a.Kind == KindNull && b.Kind == KindNull {
		return 0
	}
	oa, ob := typeOrder(a.Kind), typeOrder(b.Kind)
	if oa != ob {
		if oa < ob {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindNull:
		return 0
	case KindBool:
		return compareBool(a.Bool, b.Bool)
	case KindInt64, KindFloat64, KindDecimal128:
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		if a.Kind == KindDecimal128 {
			af = parseDecimalApprox(a.Dec.Canonical)
		}
		if b.Kind == KindDecimal128 {
			bf = parseDecimalApprox(b.Dec.Canonical)
		}
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case KindString:
		return strings.Compare(a.Str, b.Str)
	case KindDate:
		switch {
		case a.Date.Before(b.Date):
			return -1
		case a.Date.After(b.Date):
			return 1
		default:
			return 0
		}
	case KindUUID:
		return strings.Compare(a.UUID.Canonical, b.UUID.Canonical)
	case KindBinary:
		return compareBytes(a.Bin.Data, b.Bin.Data)
	case KindArray:
		return compareArrays(a.Array, b.Array)
	case KindDocument:
		return compareDocs(a.Doc, b.Doc)
	default:
		return 0
	}
}

func compareBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a && b {
		return -1
	}
	return 1
}

func compareBytes(a, b []byte) int {
	la, lb := len(a), len(b)
	n := la
	if lb < n {
		n = lb
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	default:
		return 0
	}
}

func compareArrays(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareDocs(a, b *Doc) int {
	ak, bk := a.Keys(), b.Keys()
	n := len(ak)
	if len(bk) < n {
		n = len(bk)
	}
	for i := 0; i < n; i++ {
		if ak[i] != bk[i] {
			return strings.Compare(ak[i], bk[i])
		}
		av, _ := a.Get(ak[i])
		bv, _ := b.Get(bk[i])
		if c := Compare(av, bv); c != 0 {
			return c
		}
	}
	switch {
	case len(ak) < len(bk):
		return -1
	case len(ak) > len(bk):
		return 1
	default:
		return 0
	}
}

// parseDecimalApprox parses the canonical decimal string into a float64 for
// ordering purposes only; the canonical string remains the source of truth
// and is never replaced by the parsed float.
func parseDecimalApprox(s string) float64 {
	var sign float64 = 1
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		if s[i] == '-' {
			sign = -1
		}
		i++
	}
	var intPart, fracPart float64
	fracDiv := 1.0
	seenDot := false
	for ; i < len(s); i++ {
		c := s[i]
		if c == '.' {
			seenDot = true
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		d := float64(c - '0')
		if seenDot {
			fracDiv *= 10
			fracPart += d / fracDiv
		} else {
			intPart = intPart*10 + d
		}
	}
	return sign * (intPart + fracPart)
}

// Equal reports value equality using Compare.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}
