package docstore

import "strings"

// FieldPath addresses a possibly nested field as a list of segments.
type FieldPath []string

// Path builds a FieldPath from segments.
func Path(segments ...string) FieldPath {
	return FieldPath(segments)
}

// Child returns a copy of p extended by seg.
func (p FieldPath) Child(seg string) FieldPath {
	out := make(FieldPath, len(p), len(p)+1)
	copy(out, p)
	return append(out, seg)
}

// String renders p in the store's dotted form. Segments that are not simple
// identifiers are quoted with backticks, e.g. purchases.`writing-one-hsk#hsk3`.
func (p FieldPath) String() string {
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = quoteSegment(seg)
	}
	return strings.Join(parts, ".")
}

// HasPrefix reports whether q is a prefix of p (or equal to it).
func (p FieldPath) HasPrefix(q FieldPath) bool {
	if len(q) > len(p) {
		return false
	}
	for i := range q {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// Valid reports whether p is non-empty with no empty segments.
func (p FieldPath) Valid() bool {
	if len(p) == 0 {
		return false
	}
	for _, seg := range p {
		if seg == "" {
			return false
		}
	}
	return true
}

func quoteSegment(seg string) string {
	if isSimpleSegment(seg) {
		return seg
	}
	var b strings.Builder
	b.Grow(len(seg) + 2)
	b.WriteByte('`')
	for _, r := range seg {
		if r == '`' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('`')
	return b.String()
}

func isSimpleSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for i, r := range seg {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// ParsePath is the inverse of FieldPath.String.
func ParsePath(s string) (FieldPath, bool) {
	var (
		out    FieldPath
		cur    strings.Builder
		quoted bool
		escape bool
		closed bool
	)
	for _, r := range s {
		switch {
		case escape:
			cur.WriteRune(r)
			escape = false
		case quoted && r == '\\':
			escape = true
		case quoted && r == '`':
			quoted = false
			closed = true
		case quoted:
			cur.WriteRune(r)
		case r == '`' && cur.Len() == 0 && !closed:
			quoted = true
		case r == '.':
			if cur.Len() == 0 && !closed {
				return nil, false
			}
			out = append(out, cur.String())
			cur.Reset()
			closed = false
		case closed:
			return nil, false
		default:
			cur.WriteRune(r)
		}
	}
	if quoted || escape || (cur.Len() == 0 && !closed) {
		return nil, false
	}
	return append(out, cur.String()), true
}
