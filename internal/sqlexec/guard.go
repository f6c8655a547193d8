package sqlexec

import (
	"errors"
	"regexp"
	"strings"
)

var ErrNotReadOnly = errors.New("statement is not a read-only select")

var (
	quotedIdent = regexp.MustCompile(`"(?:[^"]|"")*"`)
	quotedText  = regexp.MustCompile(`'(?:[^']|'')*'`)
	mutation    = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|truncate|create|grant|revoke|copy|merge|call|vacuum|comment)\b`)
)

// CheckReadOnly accepts a single SELECT (or WITH ... SELECT) statement.
func CheckReadOnly(text string) error {
	s := quotedText.ReplaceAllString(quotedIdent.ReplaceAllString(text, `""`), `''`)
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")

	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return ErrNotReadOnly
	}
	if strings.Contains(s, ";") || mutation.MatchString(s) {
		return ErrNotReadOnly
	}
	return nil
}
