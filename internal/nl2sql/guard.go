package nl2sql

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/clinicsql/clinicsql/internal/query"
)

var (
	ErrEmptyStatement = errors.New("no SQL statement in model output")
	ErrNotReadOnly    = errors.New("statement is not read-only")
)

var writeKeywords = map[string]struct{}{
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "MERGE": {}, "UPSERT": {},
	"DROP": {}, "ALTER": {}, "CREATE": {}, "TRUNCATE": {}, "REPLACE": {},
	"GRANT": {}, "REVOKE": {}, "ATTACH": {}, "DETACH": {}, "COPY": {},
	"PRAGMA": {}, "INSTALL": {}, "LOAD": {}, "CALL": {}, "EXPORT": {},
	"IMPORT": {}, "SET": {}, "INTO": {}, "VACUUM": {}, "CHECKPOINT": {},
	"LOCK": {}, "RENAME": {}, "COMMENT": {},
}

// statementVerbs lead statements that are not plain queries. Any other
// unknown leading word goes to the database, which reports the syntax error.
var statementVerbs = map[string]struct{}{
	"SHOW": {}, "DESCRIBE": {}, "DESC": {}, "EXPLAIN": {}, "ANALYZE": {},
	"SUMMARIZE": {}, "USE": {}, "BEGIN": {}, "START": {}, "COMMIT": {},
	"ROLLBACK": {}, "ABORT": {}, "SAVEPOINT": {}, "RELEASE": {}, "PREPARE": {},
	"EXECUTE": {}, "DEALLOCATE": {}, "DO": {}, "HANDLER": {}, "FLUSH": {},
	"KILL": {}, "RESET": {}, "DISCARD": {}, "LISTEN": {}, "NOTIFY": {},
	"UNLISTEN": {}, "CLUSTER": {}, "REINDEX": {}, "REFRESH": {}, "SECURITY": {},
	"VALUES": {}, "TABLE": {}, "FROM": {}, "PIVOT": {}, "UNPIVOT": {},
}

type sqlToken struct {
	word        string
	semicolon   bool
	openParen   bool
	dollarQuote bool
}

// ValidateStatement accepts exactly one read-only query. Keywords inside
// string literals, quoted identifiers and comments are ignored, and a keyword
// directly followed by "(" is a function call.
//
// Dialects disagree on backslashes inside literals, so the statement must pass
// with and without backslash escapes. Dollar-quoted literals are refused.
func ValidateStatement(sqlText string) error {
	sqlText = query.StripTrailingSemicolons(sqlText)
	if err := validateTokens(tokenizeSQL(sqlText, false)); err != nil {
		return err
	}
	return validateTokens(tokenizeSQL(sqlText, true))
}

func validateTokens(tokens []sqlToken) error {
	var words []sqlToken
	for _, token := range tokens {
		if token.word != "" || token.semicolon {
			words = append(words, token)
		}
	}
	if len(words) == 0 {
		return ErrEmptyStatement
	}

	for _, token := range tokens {
		if token.dollarQuote {
			return fmt.Errorf("%w: dollar-quoted literal", ErrNotReadOnly)
		}
	}
	for i, token := range words {
		if token.semicolon && i < len(words)-1 {
			return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
		}
	}

	if _, verb := statementVerbs[strings.ToUpper(words[0].word)]; verb {
		return fmt.Errorf("%w: leading keyword %q", ErrNotReadOnly, words[0].word)
	}

	for i, token := range tokens {
		upper := strings.ToUpper(token.word)
		if _, blocked := writeKeywords[upper]; !blocked {
			continue
		}
		if i+1 < len(tokens) && tokens[i+1].openParen {
			continue
		}
		return fmt.Errorf("%w: contains %s", ErrNotReadOnly, upper)
	}
	return nil
}

// tokenizeSQL yields bare words, semicolons and opening parentheses.
// Literals, quoted identifiers and comments produce no tokens. With
// backslashEscapes a backslash inside a literal escapes the next character.
func tokenizeSQL(sqlText string, backslashEscapes bool) []sqlToken {
	var tokens []sqlToken
	runes := []rune(sqlText)
	n := len(runes)

	for i := 0; i < n; {
		r := runes[i]
		switch {
		case r == '\'' || r == '"' || r == '`':
			i = skipQuoted(runes, i, r, backslashEscapes && r != '`')
		case r == '$' && i+1 < n && (runes[i+1] == '$' || runes[i+1] == '_' || unicode.IsLetter(runes[i+1])):
			tokens = append(tokens, sqlToken{dollarQuote: true})
			i++
		case r == '-' && i+1 < n && runes[i+1] == '-':
			for i < n && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < n && runes[i+1] == '*':
			i += 2
			for i < n && !(runes[i] == '*' && i+1 < n && runes[i+1] == '/') {
				i++
			}
			i += 2
		case r == ';':
			tokens = append(tokens, sqlToken{semicolon: true})
			i++
		case r == '(':
			tokens = append(tokens, sqlToken{openParen: true})
			i++
		case isWordRune(r):
			start := i
			for i < n && isWordRune(runes[i]) {
				i++
			}
			tokens = append(tokens, sqlToken{word: string(runes[start:i])})
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			i++
		default:
			tokens = append(tokens, sqlToken{})
			i++
		}
	}
	return tokens
}

// skipQuoted returns the index just past the literal opened at start.
// A doubled quote character is an escaped quote.
func skipQuoted(runes []rune, start int, quote rune, backslashEscapes bool) int {
	i := start + 1
	for i < len(runes) {
		if backslashEscapes && runes[i] == '\\' {
			i += 2
			continue
		}
		if runes[i] == quote {
			if i+1 < len(runes) && runes[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

func isWordRune(r rune) bool {
	return r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r > 127
}
