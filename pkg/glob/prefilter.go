package glob

// Prefix compatibility: deciding whether a listed common prefix could still
// lead to a matching key. The scanner prunes any branch for which this says
// no, so correctness here is what keeps the listing exact.
//
// The check is a forward-only NFA simulation over the pattern atoms. Each
// state is a (token, alternative, offset) triple; `*` contributes a self
// loop, `**` accepts everything from that point on. The state set is
// bounded by the token count times the longest literal, so the simulation
// is cheap even for pathological prefixes.

// nfaState is a position within the token sequence.
//
// For TokenLiteral, off is the rune offset inside the literal. For
// TokenAlt, branch selects the alternative and off the offset within it.
// Other token kinds use branch == -1 and off == 0.
type nfaState struct {
	tok    int
	branch int
	off    int
}

// PrefixMatch is the outcome of a prefix-compatibility check.
type PrefixMatch struct {
	// Compatible is true when some continuation of the prefix could match
	// the pattern (including the empty continuation).
	Compatible bool

	// Recursive is true when a surviving path has reached a `**` atom:
	// every continuation from here on must be found with a full
	// delimiter-less walk.
	Recursive bool
}

// MatchPrefix reports whether the given concrete prefix is compatible with
// the pattern, and whether matching past it requires a recursive walk.
func (p *Pattern) MatchPrefix(prefix string) PrefixMatch {
	states := closure(p.tokens, []nfaState{{tok: 0, branch: -1}})

	for _, c := range prefix {
		if anyRecursive(p.tokens, states) {
			return PrefixMatch{Compatible: true, Recursive: true}
		}
		states = step(p.tokens, states, c, p.delimiter)
		if len(states) == 0 {
			return PrefixMatch{}
		}
		states = closure(p.tokens, states)
	}

	return PrefixMatch{
		Compatible: true,
		Recursive:  anyRecursive(p.tokens, states),
	}
}

// step consumes one rune, producing the successor state set.
func step(tokens []Token, states []nfaState, c rune, delimiter rune) []nfaState {
	var next []nfaState
	add := func(s nfaState) {
		for _, e := range next {
			if e == s {
				return
			}
		}
		next = append(next, s)
	}

	for _, s := range states {
		if s.tok >= len(tokens) {
			// Pattern exhausted: nothing left to consume input.
			continue
		}
		tok := tokens[s.tok]
		switch tok.Kind {
		case TokenLiteral:
			runes := []rune(tok.Lit)
			if s.off < len(runes) && runes[s.off] == c {
				if s.off+1 == len(runes) {
					add(nfaState{tok: s.tok + 1, branch: -1})
				} else {
					add(nfaState{tok: s.tok, branch: -1, off: s.off + 1})
				}
			}
		case TokenAny:
			if c != delimiter {
				add(nfaState{tok: s.tok + 1, branch: -1})
			}
		case TokenStar:
			if c != delimiter {
				add(s) // self loop
			}
		case TokenDoubleStar:
			// Normally caught by anyRecursive before stepping; a `**`
			// consumes any rune, delimiter included.
			add(s)
		case TokenClass:
			if classContains(tok, c) != tok.Negated {
				add(nfaState{tok: s.tok + 1, branch: -1})
			}
		case TokenAlt:
			for bi, choice := range tok.Choices {
				branch := bi
				off := 0
				if s.branch >= 0 {
					if s.branch != bi {
						continue
					}
					off = s.off
				}
				runes := []rune(choice)
				if off < len(runes) && runes[off] == c {
					if off+1 == len(runes) {
						add(nfaState{tok: s.tok + 1, branch: -1})
					} else {
						add(nfaState{tok: s.tok, branch: branch, off: off + 1})
					}
				}
			}
		}
	}
	return next
}

// closure adds the states reachable without consuming input: a `*` may
// match the empty run, and an empty alternation choice passes through.
func closure(tokens []Token, states []nfaState) []nfaState {
	out := make([]nfaState, 0, len(states))
	seen := make(map[nfaState]struct{}, len(states))

	var visit func(s nfaState)
	visit = func(s nfaState) {
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)

		if s.tok >= len(tokens) {
			return
		}
		tok := tokens[s.tok]
		switch tok.Kind {
		case TokenStar:
			visit(nfaState{tok: s.tok + 1, branch: -1})
		case TokenAlt:
			if s.branch < 0 {
				for _, choice := range tok.Choices {
					if choice == "" {
						visit(nfaState{tok: s.tok + 1, branch: -1})
						break
					}
				}
			}
		case TokenLiteral:
			if tok.Lit == "" {
				visit(nfaState{tok: s.tok + 1, branch: -1})
			}
		}
	}

	for _, s := range states {
		visit(s)
	}
	return out
}

// anyRecursive reports whether any state currently sits on a `**` atom.
func anyRecursive(tokens []Token, states []nfaState) bool {
	for _, s := range states {
		if s.tok < len(tokens) && tokens[s.tok].Kind == TokenDoubleStar {
			return true
		}
	}
	return false
}

func classContains(tok Token, c rune) bool {
	for _, r := range tok.Chars {
		if r == c {
			return true
		}
	}
	return false
}
