package glob

import "strings"

// DefaultExpansionCap bounds the Cartesian expansion of classes and
// alternations. When expanding the next atom would push the frontier past
// the cap, generation stops and the scanner handles the remaining atoms by
// delimiter walking instead.
const DefaultExpansionCap = 100_000

// PrefixNode is one entry of the expansion frontier: a concrete key prefix
// plus the index of the first pattern atom it has not consumed.
type PrefixNode struct {
	// Literal is the concrete prefix string accumulated so far.
	Literal string

	// TokenCursor indexes the next unexpanded atom in the pattern.
	TokenCursor int

	// Depth is the number of delimiters in Literal.
	Depth int
}

// Expansion is the result of expanding a pattern into seed prefixes.
type Expansion struct {
	// Nodes are the seed prefixes, deduplicated, in generation order.
	Nodes []PrefixNode

	// PeakFrontier is the largest frontier cardinality observed while
	// expanding. Surfaced in diagnostics so users can tell when a pattern
	// fans out aggressively.
	PeakFrontier int

	// Capped is true when expansion stopped early because the next atom
	// would have exceeded the cap.
	Capped bool
}

// ExpandOptions tunes prefix expansion.
type ExpandOptions struct {
	// Cap bounds the frontier size. Zero means DefaultExpansionCap.
	Cap int
}

// Expand generates the seed prefixes for a pattern.
//
// Literals append to every frontier entry; classes and alternations multiply
// the frontier by one entry per concrete choice. Expansion stops at the
// first `*`, `**`, `?`, or negated class, or when the cap would be exceeded:
// everything past that point is the scanner's job.
//
// The returned nodes cover every key the pattern could match and contain no
// prefix that cannot lead to a match.
func Expand(p *Pattern, opts ExpandOptions) *Expansion {
	limit := opts.Cap
	if limit <= 0 {
		limit = DefaultExpansionCap
	}

	frontier := []string{""}
	cursor := 0
	peak := 1
	capped := false

	tokens := p.Tokens()
	delim := string(p.Delimiter())

loop:
	for cursor < len(tokens) {
		tok := tokens[cursor]
		switch tok.Kind {
		case TokenLiteral:
			for i := range frontier {
				frontier[i] = joinPrefix(frontier[i], tok.Lit, delim)
			}
		case TokenClass:
			if tok.Negated {
				break loop
			}
			if len(frontier)*len(tok.Chars) > limit {
				capped = true
				break loop
			}
			next := make([]string, 0, len(frontier)*len(tok.Chars))
			for _, f := range frontier {
				for _, c := range tok.Chars {
					next = append(next, f+string(c))
				}
			}
			frontier = next
		case TokenAlt:
			if len(frontier)*len(tok.Choices) > limit {
				capped = true
				break loop
			}
			next := make([]string, 0, len(frontier)*len(tok.Choices))
			for _, f := range frontier {
				for _, choice := range tok.Choices {
					next = append(next, joinPrefix(f, choice, delim))
				}
			}
			frontier = next
		default:
			// Any, Star, DoubleStar: delimiter-walk territory.
			break loop
		}
		cursor++
		if len(frontier) > peak {
			peak = len(frontier)
		}
	}

	nodes := make([]PrefixNode, 0, len(frontier))
	seen := make(map[string]struct{}, len(frontier))
	for _, f := range frontier {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		nodes = append(nodes, PrefixNode{
			Literal:     f,
			TokenCursor: cursor,
			Depth:       strings.Count(f, delim),
		})
	}

	return &Expansion{Nodes: nodes, PeakFrontier: peak, Capped: capped}
}

// IsExactKey reports whether the node consumed every pattern atom, meaning
// its literal is a complete candidate key rather than a prefix to list.
func (n PrefixNode) IsExactKey(p *Pattern) bool {
	return n.TokenCursor >= len(p.Tokens())
}

// IsRecursive reports whether the node's next atom is `**`, meaning the
// scanner should walk the whole subtree without a delimiter.
func (n PrefixNode) IsRecursive(p *Pattern) bool {
	tokens := p.Tokens()
	return n.TokenCursor < len(tokens) && tokens[n.TokenCursor].Kind == TokenDoubleStar
}

// joinPrefix appends part to prefix, collapsing a doubled delimiter at the
// seam. Some S3-compatible stores (minio among them) reject keys containing
// consecutive delimiters, and an empty alternation choice before a literal
// delimiter would otherwise produce one.
func joinPrefix(prefix, part, delim string) string {
	if strings.HasSuffix(prefix, delim) && strings.HasPrefix(part, delim) {
		return prefix + part[len(delim):]
	}
	return prefix + part
}
