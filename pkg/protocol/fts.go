package protocol

import "strings"

// SanitizeFTS5Query quotes every term so FTS5 keywords ("and", "or", "not",
// "near") are treated as literals, then joins the terms with OR for broader
// recall. FTS5's implicit AND requires every term to appear, which is too
// strict for fuzzy lookups over short observation titles.
func SanitizeFTS5Query(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return query
	}
	var b strings.Builder
	for _, f := range fields {
		// Embedded double quotes would terminate the FTS5 string early.
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" OR ")
		}
		b.WriteByte('"')
		b.WriteString(f)
		b.WriteByte('"')
	}
	if b.Len() == 0 {
		return query
	}
	return b.String()
}
