package cache

import (
	"strings"
)

// MaxPatternLength bounds pattern, key and tag length.
const MaxPatternLength = 512

// Pattern is a compiled glob. '*' matches any run of bytes, including the
// empty run; every other byte matches itself. Matching is anchored at both
// ends, case-sensitive, and purely textual: "products:*" does not match
// "product:42".
type Pattern struct {
	raw      string
	segments []string // literal pieces between stars
	literal  bool
}

// CompilePattern validates and compiles a glob pattern.
func CompilePattern(raw string) (*Pattern, error) {
	if err := validateToken("pattern", raw); err != nil {
		return nil, err
	}
	return &Pattern{
		raw:      raw,
		segments: strings.Split(raw, "*"),
		literal:  !strings.Contains(raw, "*"),
	}, nil
}

// MustCompilePattern is CompilePattern for patterns known at compile time.
func MustCompilePattern(raw string) *Pattern {
	p, err := CompilePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) String() string { return p.raw }

// IsLiteral reports whether the pattern contains no wildcard.
func (p *Pattern) IsLiteral() bool { return p.literal }

// Match reports whether s matches the whole pattern.
func (p *Pattern) Match(s string) bool {
	if p.literal {
		return s == p.raw
	}

	first := p.segments[0]
	last := p.segments[len(p.segments)-1]
	if len(s) < len(first)+len(last) {
		return false
	}
	if !strings.HasPrefix(s, first) || !strings.HasSuffix(s, last) {
		return false
	}

	// Middle segments are matched greedily left to right inside the window
	// left after removing the anchored prefix and suffix.
	rest := s[len(first) : len(s)-len(last)]
	for _, seg := range p.segments[1 : len(p.segments)-1] {
		if seg == "" {
			continue
		}
		i := strings.Index(rest, seg)
		if i < 0 {
			return false
		}
		rest = rest[i+len(seg):]
	}
	return true
}

// CompilePatterns compiles a list, dropping duplicates. An empty list is valid.
// The first invalid pattern fails the whole list.
func CompilePatterns(raws []string) ([]*Pattern, error) {
	out := make([]*Pattern, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		if _, dup := seen[raw]; dup {
			continue
		}
		p, err := CompilePattern(raw)
		if err != nil {
			return nil, err
		}
		seen[raw] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// matchAny reports whether s matches at least one pattern.
func matchAny(patterns []*Pattern, s string) bool {
	for _, p := range patterns {
		if p.Match(s) {
			return true
		}
	}
	return false
}

// validateToken applies the shared rules for keys, tags and patterns.
func validateToken(kind, s string) error {
	if s == "" {
		return invalidPatternf("%s must not be empty", kind)
	}
	if len(s) > MaxPatternLength {
		return invalidPatternf("%s too long: %d bytes (max %d)", kind, len(s), MaxPatternLength)
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; c < 0x20 || c == 0x7f {
			return invalidPatternf("%s contains control character at offset %d", kind, i)
		}
	}
	return nil
}
