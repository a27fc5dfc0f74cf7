package query

import (
	"strings"
)

// ForGIM übersetzt die Query in eine Form, die das Suchfeld des Portals
// versteht. Die Übersetzung ist bewusst verlustbehaftet: höchstens zwei
// einfache Terme werden mit OR gruppiert, Wildcard-Terme mit AND verknüpft.
// Liefert die Gruppierung nichts, fällt sie auf den Originaltext ohne
// Feld-Tags zurück.
func ForGIM(q *Query) string {
	var plain, wild []string
	for _, t := range q.tokens {
		if t.isOp() {
			continue
		}
		text := t.text
		if strings.ContainsAny(text, " \t") {
			text = `"` + text + `"`
		}
		if t.wildcard {
			wild = append(wild, text+"*")
		} else if len(plain) < 2 {
			plain = append(plain, text)
		}
	}

	var parts []string
	switch len(plain) {
	case 0:
	case 1:
		parts = append(parts, plain[0])
	default:
		parts = append(parts, "("+plain[0]+" OR "+plain[1]+")")
	}
	if len(wild) > 0 {
		group := strings.Join(wild, " AND ")
		if len(wild) > 1 || len(parts) > 0 {
			group = "(" + group + ")"
		}
		parts = append(parts, group)
	}

	out := strings.Join(parts, " AND ")
	if out == "" {
		out = StripTags(q.raw)
	}
	return out
}
