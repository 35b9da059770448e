// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

// Package sqlguard decides whether an agent-authored SQL statement may run
// against the restricted read-only connection. It is a token scanner, not a
// parser, and prefers rejecting a valid query over accepting an unsafe one.
// The database credential enforces the same allowlist independently.
package sqlguard

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// DefaultAllowedTables are the survey tables the agent may read.
var DefaultAllowedTables = []string{
	"documents",
	"reports",
	"sg_reports",
	"latest_versions",
	"report_entity_suggestions",
	"resolution_mandates",
	"report_frequencies",
}

// DefaultSensitiveTables hold authentication and session state.
var DefaultSensitiveTables = []string{
	"users",
	"sessions",
	"accounts",
	"magic_links",
	"magic_link_tokens",
	"auth_tokens",
	"verification_tokens",
}

// deniedKeywords mutate data or schema, or escape the read-only sandbox.
var deniedKeywords = []string{
	"insert", "update", "delete", "drop", "alter", "create", "truncate",
	"grant", "revoke", "exec", "execute", "into", "copy",
}

// notTables may follow FROM or JOIN without naming a table.
var notTables = map[string]struct{}{
	"select": {}, "where": {}, "lateral": {}, "unnest": {}, "array": {}, "exists": {},
	"values": {}, "union": {}, "intersect": {}, "except": {}, "all": {}, "distinct": {},
	"on": {}, "as": {}, "with": {}, "not": {}, "null": {}, "case": {}, "when": {},
	"generate_series": {}, "json_array_elements": {}, "jsonb_array_elements": {},
	"json_array_elements_text": {}, "jsonb_array_elements_text": {}, "json_each": {},
	"jsonb_each": {}, "jsonb_each_text": {}, "regexp_split_to_table": {},
	"string_to_table": {}, "rows": {},
}

var (
	keywordRe       = regexp.MustCompile(`(?i)\b(` + strings.Join(deniedKeywords, "|") + `)\b`)
	systemCatalogRe = regexp.MustCompile(`(?i)\b(pg_\w*|information_schema)\b`)

	innerFromRe = regexp.MustCompile(`\b(?:extract|substring|trim|overlay|position)\s*\([^()]*?\bfrom\b`)

	tableRefRe  = regexp.MustCompile(`\b(?:from|join)\s+(?:lateral\s+)?([a-z_][a-z0-9_$]*)(?:\s*\.\s*([a-z_][a-z0-9_$]*))?`)
	listNextRe  = regexp.MustCompile(`^(?:\s+(?:as\s+)?[a-z_][a-z0-9_$]*)?\s*,\s*([a-z_][a-z0-9_$]*)(?:\s*\.\s*([a-z_][a-z0-9_$]*))?`)
	qualifiedRe = regexp.MustCompile(`\b([a-z_][a-z0-9_$]*)\.([a-z_][a-z0-9_$]*)`)
	cteRe       = regexp.MustCompile(`(?:\bwith(?:\s+recursive)?|,)\s*([a-z_][a-z0-9_$]*)\s*(?:\([^()]*\))?\s+as\s+(?:not\s+)?(?:materialized\s+)?\(`)
)

// limitClauses match a row cap at the very end of a masked statement. The
// first submatch is the row count.
var limitClauses = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\blimit\s+(\d+|all)(?:\s+offset\s+\d+(?:\s+rows?)?)?$`),
	regexp.MustCompile(`(?i)\boffset\s+\d+(?:\s+rows?)?\s+limit\s+(\d+|all)$`),
	regexp.MustCompile(`(?i)\bfetch\s+(?:first|next)\s+(\d+)\s+rows?\s+only$`),
}

// Verdict is the outcome of validating one statement.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Err converts a rejection into a coded error. It returns nil for accepted
// statements.
func (v Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	return sgerr.New(sgerr.CodeSQLValidateRejected, v.Reason)
}

func accept() Verdict {
	return Verdict{Allowed: true}
}

func reject(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// Policy configures the table lists a Validator enforces.
type Policy struct {
	AllowedTables   []string
	SensitiveTables []string
}

// Validator checks statements against a fixed Policy. It is safe for
// concurrent use.
type Validator struct {
	allowed     map[string]struct{}
	allowedList []string
	sensitiveRe *regexp.Regexp
}

// New builds a Validator. Empty policy lists fall back to the defaults.
func New(p Policy) *Validator {
	allowedTables := p.AllowedTables
	if len(allowedTables) == 0 {
		allowedTables = DefaultAllowedTables
	}
	sensitiveTables := p.SensitiveTables
	if len(sensitiveTables) == 0 {
		sensitiveTables = DefaultSensitiveTables
	}

	v := &Validator{allowed: make(map[string]struct{}, len(allowedTables))}
	for _, t := range allowedTables {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := v.allowed[t]; !dup {
			v.allowed[t] = struct{}{}
			v.allowedList = append(v.allowedList, t)
		}
	}
	slices.Sort(v.allowedList)

	quoted := make([]string, 0, len(sensitiveTables))
	for _, t := range sensitiveTables {
		if t = strings.TrimSpace(t); t != "" {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(t)))
		}
	}
	v.sensitiveRe = regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
	return v
}

// Default returns a Validator over the survey tables.
func Default() *Validator {
	return New(Policy{})
}

// AllowedTables returns the sorted allowlist.
func (v *Validator) AllowedTables() []string {
	return slices.Clone(v.allowedList)
}

// Validate runs the checks in order. The first failing check decides the
// reason.
func (v *Validator) Validate(sql string) Verdict {
	trimmed := strings.TrimSpace(sql)
	lower := strings.ToLower(trimmed)

	if !startsWithWord(lower, "select") && !startsWithWord(lower, "with") {
		return reject("Only SELECT queries are allowed; the statement begins with %q", firstWord(trimmed))
	}

	if m := keywordRe.FindString(trimmed); m != "" {
		return reject("Forbidden keyword %q: only read-only SELECT queries are permitted", strings.ToUpper(m))
	}
	if m := systemCatalogRe.FindString(trimmed); m != "" {
		return reject("Access to system catalog %q is not allowed", strings.ToLower(m))
	}
	if m := v.sensitiveRe.FindString(trimmed); m != "" {
		return reject("Access to table %q is not allowed", strings.ToLower(m))
	}

	masked, ok := maskSQL(lower)
	if !ok {
		return reject("Unterminated quote or comment")
	}
	scan := scannable(masked)
	ctes := cteNames(scan)

	for _, name := range tableRefs(scan) {
		if v.isAllowed(name) || ctes[name] {
			continue
		}
		return reject("Table %q is not in the allowed list. Allowed tables: %s", name, strings.Join(v.allowedList, ", "))
	}

	for _, m := range qualifiedRe.FindAllStringSubmatch(scan, -1) {
		left, right := m[1], m[2]
		if v.isAllowed(left) || ctes[left] || len(left) <= 3 {
			continue
		}
		if !v.isAllowed(right) {
			return reject("Schema-qualified reference %q is not allowed; table %q is not in the allowed list. Allowed tables: %s",
				left+"."+right, right, strings.Join(v.allowedList, ", "))
		}
	}

	if strings.Contains(strings.TrimRight(scan, "; \t\r\n"), ";") {
		return reject("Only a single statement may be submitted")
	}

	return accept()
}

func (v *Validator) isAllowed(name string) bool {
	_, ok := v.allowed[name]
	return ok
}

// tableRefs lists the table names referenced by FROM and JOIN clauses,
// including comma-separated FROM lists. Names followed by "(" are function
// calls and are skipped.
func tableRefs(scan string) []string {
	var names []string
	collect := func(rest string, m []int) {
		name := scan[m[2]:m[3]]
		if m[4] >= 0 {
			name = scan[m[4]:m[5]]
		}
		if strings.HasPrefix(strings.TrimLeft(rest, " \t\r\n"), "(") {
			return
		}
		if _, kw := notTables[name]; kw {
			return
		}
		names = append(names, name)
	}

	for _, m := range tableRefRe.FindAllStringSubmatchIndex(scan, -1) {
		collect(scan[m[1]:], m)

		pos := m[1]
		for {
			next := listNextRe.FindStringSubmatchIndex(scan[pos:])
			if next == nil {
				break
			}
			shifted := make([]int, len(next))
			for i, idx := range next {
				if idx >= 0 {
					idx += pos
				}
				shifted[i] = idx
			}
			collect(scan[shifted[1]:], shifted)
			pos = shifted[1]
		}
	}
	return names
}

// cteNames returns names introduced by a leading WITH clause.
func cteNames(scan string) map[string]bool {
	names := map[string]bool{}
	if !startsWithWord(scan, "with") {
		return names
	}
	for _, m := range cteRe.FindAllStringSubmatch(scan, -1) {
		if _, kw := notTables[m[1]]; !kw {
			names[m[1]] = true
		}
	}
	return names
}

// scannable drops identifier quotes and the inner FROM of functions like
// EXTRACT so the reference scans only see SQL structure. The input must be
// lower-cased and already passed through maskSQL.
func scannable(masked string) string {
	s := strings.NewReplacer(`"`, "", "`", "").Replace(masked)
	return innerFromRe.ReplaceAllStringFunc(s, func(m string) string {
		return m[:len(m)-len("from")] + "    "
	})
}

// maskSQL blanks comments and the contents of string literals in one
// left-to-right pass, so a comment marker inside a literal and a quote inside
// a comment are both inert. The result has the same length as s and every
// other byte is unchanged. Quoted identifiers keep their contents. ok is
// false when a literal, identifier or block comment is left open.
func maskSQL(s string) (masked string, ok bool) {
	b := []byte(s)
	for i := 0; i < len(b); {
		switch {
		case b[i] == '\'':
			end := closeLiteral(s, i, escapeString(s, i))
			if end < 0 {
				return "", false
			}
			blank(b, i+1, end-1)
			i = end
		case b[i] == '"' || b[i] == '`':
			end := closeLiteral(s, i, false)
			if end < 0 {
				return "", false
			}
			i = end
		case b[i] == '$':
			tag := dollarTag(s, i)
			if tag == "" {
				i++
				continue
			}
			n := strings.Index(s[i+len(tag):], tag)
			if n < 0 {
				return "", false
			}
			end := i + len(tag) + n + len(tag)
			blank(b, i, end)
			b[i], b[end-1] = '\'', '\''
			i = end
		case strings.HasPrefix(s[i:], "--"):
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				end = len(s)
			} else {
				end += i
			}
			blank(b, i, end)
			i = end
		case strings.HasPrefix(s[i:], "/*"):
			n := strings.Index(s[i+2:], "*/")
			if n < 0 {
				return "", false
			}
			end := i + 2 + n + 2
			blank(b, i, end)
			i = end
		default:
			i++
		}
	}
	return string(b), true
}

// closeLiteral returns the offset just past the quote that closes the
// literal opened at s[start], or -1. A doubled quote is an escaped quote;
// with backslash set a backslash escapes the next byte.
func closeLiteral(s string, start int, backslash bool) int {
	q := s[start]
	for j := start + 1; j < len(s); j++ {
		switch {
		case backslash && s[j] == '\\':
			j++
		case s[j] == q:
			if j+1 < len(s) && s[j+1] == q {
				j++
				continue
			}
			return j + 1
		}
	}
	return -1
}

// escapeString reports whether the quote at s[i] opens a Postgres E'...'
// string, where backslash escapes apply.
func escapeString(s string, i int) bool {
	if i == 0 || (s[i-1] != 'e' && s[i-1] != 'E') {
		return false
	}
	return i == 1 || !isIdentByte(s[i-2])
}

// dollarTag returns the $tag$ delimiter opening a dollar-quoted string at
// s[i], or "" when the dollar sign is part of an identifier or a parameter.
func dollarTag(s string, i int) string {
	if i > 0 && isIdentByte(s[i-1]) {
		return ""
	}
	j := i + 1
	for j < len(s) && s[j] != '$' {
		c := s[j]
		if !isIdentByte(c) || (j == i+1 && c >= '0' && c <= '9') {
			return ""
		}
		j++
	}
	if j >= len(s) {
		return ""
	}
	return s[i : j+1]
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= 0x80
}

func blank(b []byte, from, to int) {
	for k := from; k < to; k++ {
		if b[k] != '\n' {
			b[k] = ' '
		}
	}
}

// EnsureLimit caps the rows a statement can return. A trailing top-level
// LIMIT or FETCH FIRST no larger than limit is kept as written. LIMIT ALL and
// larger counts are lowered to limit. Anything else gets a LIMIT clause
// appended; a LIMIT inside a subquery, literal or comment does not count.
// Trailing semicolons and comments are dropped before appending.
func EnsureLimit(sql string, limit int) string {
	base := strings.TrimSpace(sql)
	masked, ok := maskSQL(base)
	if !ok {
		return fmt.Sprintf("%s\nLIMIT %d", strings.TrimRight(base, "; \t\r\n"), limit)
	}
	body := strings.TrimRight(masked, "; \t\r\n")
	base = base[:len(body)]

	for _, re := range limitClauses {
		m := re.FindStringSubmatchIndex(body)
		if m == nil || depthAt(body, m[0]) != 0 {
			continue
		}
		if n, err := strconv.Atoi(body[m[2]:m[3]]); err == nil && n <= limit {
			return sql
		}
		return base[:m[2]] + strconv.Itoa(limit) + base[m[3]:]
	}
	return fmt.Sprintf("%s\nLIMIT %d", base, limit)
}

// depthAt returns the parenthesis nesting depth at offset i of a masked
// statement.
func depthAt(masked string, i int) int {
	depth := 0
	for _, c := range masked[:i] {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return depth
}

func startsWithWord(s, word string) bool {
	if !strings.HasPrefix(s, word) {
		return false
	}
	if len(s) == len(word) {
		return true
	}
	c := s[len(word)]
	return !(c == '_' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9')
}

func firstWord(s string) string {
	if i := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '(' }); i > 0 {
		return strings.ToUpper(s[:i])
	}
	return strings.ToUpper(s)
}
