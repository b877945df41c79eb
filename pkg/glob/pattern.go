// Package glob compiles S3 key glob patterns into a token sequence used for
// prefix expansion and a regular expression used for full-key confirmation.
//
// Both representations are built from the same parse so they cannot drift:
// the token list drives prefix generation and prefix-compatibility pruning,
// the regex decides whether a concrete key matches.
package glob

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultDelimiter is the key separator used when none is configured.
const DefaultDelimiter = '/'

// TokenKind identifies a pattern atom.
type TokenKind int

const (
	// TokenLiteral is a run of non-meta characters.
	TokenLiteral TokenKind = iota

	// TokenAny is `?`: exactly one character other than the delimiter.
	TokenAny

	// TokenStar is `*`: any run of characters other than the delimiter.
	TokenStar

	// TokenDoubleStar is `**`: any run of characters including the delimiter.
	TokenDoubleStar

	// TokenClass is `[abc]` / `[a-z]` / `[!abc]`: one character from a set.
	TokenClass

	// TokenAlt is `{a,b,c}`: one of a fixed set of literal alternatives.
	TokenAlt
)

// Token is a single atom of a parsed pattern.
//
// Exactly one of the payload fields is meaningful, selected by Kind.
type Token struct {
	Kind TokenKind

	// Lit is the literal text for TokenLiteral (escapes already removed).
	Lit string

	// Chars is the expanded member set for TokenClass. Ranges like a-z are
	// expanded to individual code points at parse time.
	Chars []rune

	// Negated marks a `[!...]` class.
	Negated bool

	// Choices are the literal alternatives for TokenAlt.
	Choices []string
}

// SyntaxError reports a malformed pattern.
type SyntaxError struct {
	// Pos is the byte offset in the pattern where parsing failed.
	Pos int

	// Reason is a human-readable description of the failure.
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("pattern syntax error at offset %d: %s", e.Pos, e.Reason)
}

// Pattern is a compiled glob.
//
// A Pattern is immutable and safe for concurrent use.
type Pattern struct {
	raw       string
	delimiter rune
	tokens    []Token

	re             *regexp.Regexp
	literalPrefix  string
	firstRecursive int
}

// Parse compiles a glob pattern with the given delimiter.
//
// Recognized syntax:
//
//	*        any run of characters other than the delimiter
//	**       any run of characters including the delimiter
//	?        exactly one character other than the delimiter
//	[abc]    one character from the set; ranges like [a-z] are allowed
//	[!abc]   one character not in the set
//	{a,b,c}  one of the listed literal alternatives (no nesting)
//	\x       the literal character x
//
// A pattern ending with the delimiter gets a trailing `*` appended: asking
// for `foo/bar/` means "everything directly within bar".
func Parse(raw string, delimiter rune) (*Pattern, error) {
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}

	tokens, err := tokenize(raw)
	if err != nil {
		return nil, err
	}

	// A trailing delimiter means "list within": append a synthetic star so
	// `foo/*/` matches the objects directly inside the matched prefixes.
	if n := len(tokens); n > 0 {
		last := tokens[n-1]
		if last.Kind == TokenLiteral && strings.HasSuffix(last.Lit, string(delimiter)) {
			tokens = append(tokens, Token{Kind: TokenStar})
		}
	}

	p := &Pattern{
		raw:            raw,
		delimiter:      delimiter,
		tokens:         tokens,
		firstRecursive: -1,
	}

	for i, tok := range tokens {
		if tok.Kind == TokenDoubleStar {
			p.firstRecursive = i
			break
		}
	}
	if len(tokens) > 0 && tokens[0].Kind == TokenLiteral {
		p.literalPrefix = tokens[0].Lit
	}

	re, err := compileRegex(tokens, delimiter)
	if err != nil {
		return nil, &SyntaxError{Pos: 0, Reason: fmt.Sprintf("compiling match regex: %v", err)}
	}
	p.re = re

	return p, nil
}

// tokenize splits the raw pattern into atoms. Adjacent literal characters
// coalesce into a single TokenLiteral.
func tokenize(raw string) ([]Token, error) {
	runes := []rune(raw)
	var tokens []Token
	var lit strings.Builder

	flushLit := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, Token{Kind: TokenLiteral, Lit: lit.String()})
			lit.Reset()
		}
	}

	// pos tracks the byte offset for error reporting.
	pos := 0
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '\\':
			if i+1 >= len(runes) {
				return nil, &SyntaxError{Pos: pos, Reason: "trailing escape character"}
			}
			i++
			lit.WriteRune(runes[i])
			pos += len(string(c)) + len(string(runes[i]))
			continue
		case '*':
			flushLit()
			if i+1 < len(runes) && runes[i+1] == '*' {
				tokens = append(tokens, Token{Kind: TokenDoubleStar})
				i++
				pos += 2
			} else {
				tokens = append(tokens, Token{Kind: TokenStar})
				pos++
			}
			continue
		case '?':
			flushLit()
			tokens = append(tokens, Token{Kind: TokenAny})
			pos++
			continue
		case '[':
			flushLit()
			tok, consumed, err := parseClass(runes[i:], pos)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			for _, r := range runes[i : i+consumed] {
				pos += len(string(r))
			}
			i += consumed - 1
			continue
		case '{':
			flushLit()
			tok, consumed, err := parseAlternation(runes[i:], pos)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			for _, r := range runes[i : i+consumed] {
				pos += len(string(r))
			}
			i += consumed - 1
			continue
		default:
			lit.WriteRune(c)
			pos += len(string(c))
		}
	}
	flushLit()
	return tokens, nil
}

// parseClass parses a character class starting at runes[0] == '['.
// Returns the token and the number of runes consumed.
func parseClass(runes []rune, pos int) (Token, int, error) {
	var members []rune
	negated := false
	i := 1

	if i < len(runes) && runes[i] == '!' {
		negated = true
		i++
	}
	// A `]` immediately after the opener (or after `!`) is a literal member.
	if i < len(runes) && runes[i] == ']' {
		members = append(members, ']')
		i++
	}

	for i < len(runes) {
		c := runes[i]
		switch {
		case c == ']':
			if len(members) == 0 {
				return Token{}, 0, &SyntaxError{Pos: pos, Reason: "empty character class"}
			}
			return Token{Kind: TokenClass, Chars: members, Negated: negated}, i + 1, nil
		case c == '-' && len(members) > 0 && i+1 < len(runes) && runes[i+1] != ']':
			start := members[len(members)-1]
			end := runes[i+1]
			if end <= start {
				return Token{}, 0, &SyntaxError{
					Pos:    pos,
					Reason: fmt.Sprintf("invalid range %c-%c (end must be greater than start)", start, end),
				}
			}
			members = members[:len(members)-1]
			for r := start; r <= end; r++ {
				members = append(members, r)
			}
			i += 2
		case c == '-' && len(members) > 0 && i+1 < len(runes) && runes[i+1] == ']':
			return Token{}, 0, &SyntaxError{Pos: pos, Reason: "range missing end character"}
		default:
			members = append(members, c)
			i++
		}
	}

	return Token{}, 0, &SyntaxError{Pos: pos, Reason: "unterminated character class (missing ']')"}
}

// parseAlternation parses `{a,b,c}` starting at runes[0] == '{'.
// Alternatives are literal strings; nesting is rejected. An empty
// alternative (as in `{,tmp}`) is allowed.
func parseAlternation(runes []rune, pos int) (Token, int, error) {
	var choices []string
	var cur strings.Builder

	for i := 1; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case ',':
			choices = append(choices, cur.String())
			cur.Reset()
		case '}':
			choices = append(choices, cur.String())
			return Token{Kind: TokenAlt, Choices: choices}, i + 1, nil
		case '{':
			return Token{}, 0, &SyntaxError{Pos: pos, Reason: "nested alternation is not supported"}
		case '\\':
			if i+1 >= len(runes) {
				return Token{}, 0, &SyntaxError{Pos: pos, Reason: "trailing escape character"}
			}
			i++
			cur.WriteRune(runes[i])
		default:
			cur.WriteRune(c)
		}
	}

	return Token{}, 0, &SyntaxError{Pos: pos, Reason: "unterminated alternation (missing '}')"}
}

// compileRegex builds the anchored full-key matcher from the token list.
func compileRegex(tokens []Token, delimiter rune) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`\A`)
	for _, tok := range tokens {
		b.WriteString(tokenRegex(tok, delimiter))
	}
	b.WriteString(`\z`)
	return regexp.Compile(b.String())
}

func tokenRegex(tok Token, delimiter rune) string {
	switch tok.Kind {
	case TokenLiteral:
		return regexp.QuoteMeta(tok.Lit)
	case TokenAny:
		return "[^" + escapeClassRune(delimiter) + "]"
	case TokenStar:
		return "[^" + escapeClassRune(delimiter) + "]*"
	case TokenDoubleStar:
		return ".*"
	case TokenClass:
		var b strings.Builder
		b.WriteByte('[')
		if tok.Negated {
			b.WriteByte('^')
		}
		for _, r := range tok.Chars {
			b.WriteString(escapeClassRune(r))
		}
		b.WriteByte(']')
		return b.String()
	case TokenAlt:
		quoted := make([]string, len(tok.Choices))
		for i, c := range tok.Choices {
			quoted[i] = regexp.QuoteMeta(c)
		}
		return "(?:" + strings.Join(quoted, "|") + ")"
	default:
		return ""
	}
}

// escapeClassRune escapes a rune for use inside a regex character class.
func escapeClassRune(r rune) string {
	switch r {
	case '\\', ']', '^', '-', '[':
		return `\` + string(r)
	}
	return string(r)
}

// Raw returns the original pattern text.
func (p *Pattern) Raw() string { return p.raw }

// Delimiter returns the configured delimiter.
func (p *Pattern) Delimiter() rune { return p.delimiter }

// Tokens returns the parsed atom sequence.
func (p *Pattern) Tokens() []Token { return p.tokens }

// LiteralPrefix returns the longest leading substring of the pattern that
// contains no metacharacters (escapes removed). It is the natural seed
// prefix for listing.
func (p *Pattern) LiteralPrefix() string { return p.literalPrefix }

// FirstRecursive returns the token index of the first `**`, or -1.
func (p *Pattern) FirstRecursive() int { return p.firstRecursive }

// HasMeta reports whether the pattern contains any non-literal atom.
func (p *Pattern) HasMeta() bool {
	for _, tok := range p.tokens {
		if tok.Kind != TokenLiteral {
			return true
		}
	}
	return false
}

// MatchKey reports whether key matches the full pattern.
func (p *Pattern) MatchKey(key string) bool {
	return p.re.MatchString(key)
}

// Regex exposes the compiled matcher, mainly for diagnostics and tests.
func (p *Pattern) Regex() *regexp.Regexp { return p.re }

// BaseStripPrefix returns the literal prefix truncated to the last
// delimiter, or the whole literal prefix when it contains no delimiter.
// This is the portion stripped from keys in from-first-glob path mode.
func (p *Pattern) BaseStripPrefix() string {
	lp := p.literalPrefix
	if idx := strings.LastIndex(lp, string(p.delimiter)); idx >= 0 {
		return lp[:idx+1]
	}
	return lp
}
