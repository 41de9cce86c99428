package agent

import (
	"fmt"
	"strings"
	"unicode"

	"datachat/dbpool"
)

// ValidationResult carries the statement cleared for execution and the named
// parameters it expects, in order of first appearance.
type ValidationResult struct {
	NormalizedSQL string
	ParamNames    []string
}

// Validator enforces the read-only contract on generated and user-edited SQL.
// Nothing reaches a data source without passing through here first.
type Validator struct {
	MaxLength int
}

// NewValidator creates a validator with the given statement length cap.
func NewValidator(maxLength int) *Validator {
	return &Validator{MaxLength: maxLength}
}

// write keywords rejected wherever they appear outside strings and comments
var forbiddenWords = map[string]bool{
	"insert": true, "update": true, "delete": true, "drop": true,
	"alter": true, "create": true, "truncate": true, "rename": true,
	"grant": true, "revoke": true, "call": true, "merge": true,
	"exec": true, "execute": true, "into": true,
}

// densityFloor is the statement length under which the comment density
// heuristic stays silent.
const densityFloor = 200

// Validate checks one statement. It strips markdown fences and a trailing
// semicolon, rejects anything that is not a single SELECT (or WITH ending in
// SELECT), and extracts :name parameters.
func (v *Validator) Validate(sqlText, dialect string) (*ValidationResult, error) {
	cleaned := strings.TrimSpace(stripFences(sqlText))
	if cleaned == "" {
		return nil, Fail("validate", KindSqlEmpty, fmt.Errorf("statement is empty"))
	}
	if v.MaxLength > 0 && len(cleaned) > v.MaxLength {
		return nil, Fail("validate", KindLengthExceeded, fmt.Errorf("statement length %d exceeds limit %d", len(cleaned), v.MaxLength))
	}

	scan := scanStatement(cleaned, dialect)

	if len(scan.words) == 0 {
		return nil, Fail("validate", KindSqlEmpty, fmt.Errorf("statement holds no executable tokens"))
	}

	// anything after the first live semicolon is a second statement
	if scan.extraStatement {
		return nil, Fail("validate", KindSqlMultiStatement, fmt.Errorf("multiple statements are not allowed"))
	}

	first := scan.words[0]
	switch strings.ToLower(first.text) {
	case "select":
	case "with":
		// the query body must come back up to the WITH level and select
		terminal := false
		for _, w := range scan.words[1:] {
			if w.depth == first.depth && strings.EqualFold(w.text, "select") {
				terminal = true
				break
			}
		}
		if !terminal {
			return nil, Fail("validate", KindSqlNotReadOnly, fmt.Errorf("WITH statement does not end in SELECT"))
		}
	default:
		return nil, Fail("validate", KindSqlNotReadOnly, fmt.Errorf("statement starts with %s", strings.ToUpper(first.text)))
	}

	for _, w := range scan.words {
		if forbiddenWords[strings.ToLower(w.text)] {
			return nil, Fail("validate", KindSqlNotReadOnly, fmt.Errorf("statement contains %s", strings.ToUpper(w.text)))
		}
	}

	if len(cleaned) >= densityFloor && scan.commentChars*2 > len(cleaned) {
		return nil, Fail("validate", KindSqlNotReadOnly, fmt.Errorf("statement is mostly comments"))
	}

	normalized := strings.TrimSpace(cleaned)
	for strings.HasSuffix(normalized, ";") {
		normalized = strings.TrimSpace(strings.TrimSuffix(normalized, ";"))
	}

	return &ValidationResult{NormalizedSQL: normalized, ParamNames: scan.params}, nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = t[3:]
	if idx := strings.IndexByte(t, '\n'); idx >= 0 {
		head := strings.TrimSpace(t[:idx])
		if head == "" || isFenceTag(head) {
			t = t[idx+1:]
		}
	}
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

func isFenceTag(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

type wordToken struct {
	text  string
	depth int
}

type scanResult struct {
	words          []wordToken
	params         []string
	commentChars   int
	extraStatement bool
}

// scanStatement walks the statement once, tracking quoted regions and
// comments so that keywords, parameters and statement boundaries are only
// recognized in live SQL text.
func scanStatement(src, dialect string) scanResult {
	var res scanResult
	runes := []rune(src)
	n := len(runes)
	depth := 0
	seenSemicolon := false
	seenParam := map[string]bool{}

	mysqlish := dialect == dbpool.DialectMySQL || dialect == dbpool.DialectSQLite

	i := 0
	for i < n {
		r := runes[i]

		lineComment := (r == '-' && i+1 < n && runes[i+1] == '-') ||
			(r == '#' && dialect == dbpool.DialectMySQL)
		blockComment := r == '/' && i+1 < n && runes[i+1] == '*'

		// trailing comments after the final semicolon are fine; anything
		// else is a second statement
		if seenSemicolon && !unicode.IsSpace(r) && !lineComment && !blockComment {
			res.extraStatement = true
		}

		switch {
		case r == '\'' || r == '"':
			i = skipQuoted(runes, i, r)
			continue
		case r == '`' && mysqlish:
			i = skipQuoted(runes, i, '`')
			continue
		case r == '[' && dialect == dbpool.DialectSQLServer:
			i = skipBracketQuoted(runes, i)
			continue
		case lineComment:
			start := i
			for i < n && runes[i] != '\n' {
				i++
			}
			res.commentChars += i - start
			continue
		case blockComment:
			// the first closer ends the block, so nothing smuggled after a
			// nested opener escapes the scan
			start := i
			i += 2
			for i < n {
				if runes[i] == '*' && i+1 < n && runes[i+1] == '/' {
					i += 2
					break
				}
				i++
			}
			res.commentChars += i - start
			continue
		}

		switch {
		case r == ';':
			seenSemicolon = true
			i++
		case r == '(':
			depth++
			i++
		case r == ')':
			if depth > 0 {
				depth--
			}
			i++
		case r == ':':
			if i+1 < n && isWordStart(runes[i+1]) && (i == 0 || runes[i-1] != ':') {
				j := i + 1
				for j < n && isWordPart(runes[j]) {
					j++
				}
				name := string(runes[i+1 : j])
				if !seenParam[name] {
					seenParam[name] = true
					res.params = append(res.params, name)
				}
				i = j
			} else {
				// skip both colons of a cast so :: never yields a parameter
				if i+1 < n && runes[i+1] == ':' {
					i++
				}
				i++
			}
		case isWordStart(r):
			j := i
			for j < n && isWordPart(runes[j]) {
				j++
			}
			res.words = append(res.words, wordToken{text: string(runes[i:j]), depth: depth})
			i = j
		default:
			i++
		}
	}

	return res
}

// skipQuoted advances past a quoted region whose closer is doubled to escape.
func skipQuoted(runes []rune, start int, quote rune) int {
	i := start + 1
	n := len(runes)
	for i < n {
		if runes[i] == quote {
			if i+1 < n && runes[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return n
}

func skipBracketQuoted(runes []rune, start int) int {
	i := start + 1
	n := len(runes)
	for i < n {
		if runes[i] == ']' {
			if i+1 < n && runes[i+1] == ']' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return n
}

func isWordStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
