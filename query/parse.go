package query

import (
	"strconv"
	"strings"
	"unicode"
)

// Parse zerlegt eine Query im PubMed-Stil in ihre Modellform: Phrasen in
// Anführungszeichen bleiben ein Term, [Feld]-Suffixe werden erkannt,
// Trunkierungssterne gesetzt und [dp]-Datumsfilter in den Jahresbereich
// gehoben, damit kein Übersetzer sie wörtlich weiterreichen kann.
func Parse(text string) *Query {
	q := New()
	q.raw = strings.TrimSpace(text)

	for _, rt := range splitTokens(q.raw) {
		word := rt.text

		if !rt.quoted {
			switch strings.ToUpper(word) {
			case "AND":
				q.operator("AND")
				continue
			case "OR":
				q.operator("OR")
				continue
			case "NOT":
				q.operator("NOT")
				continue
			}
		}

		word = strings.Trim(word, "()")
		if word == "" {
			continue
		}

		text, field := splitFieldTag(word)
		if strings.EqualFold(field, "dp") {
			// Datumsfilter werden nie als Term übernommen.
			if start, end, ok := parseYearRange(text); ok {
				q.Years(start, end)
			}
			continue
		}

		wildcard := strings.HasSuffix(text, "*")
		if wildcard {
			text = strings.TrimRight(text, "*")
		}
		if text = strings.TrimSpace(text); text == "" {
			continue
		}
		q.add(text, field, wildcard)
	}

	q.trimDanglingOperators()
	return q
}

type rawToken struct {
	text   string
	quoted bool
}

// splitTokens trennt an Leerraum, lässt Phrasen in Anführungszeichen und
// Feld-Tags in eckigen Klammern aber zusammen.
func splitTokens(s string) []rawToken {
	var out []rawToken
	var b strings.Builder
	inQuote := false
	inBracket := false
	quoted := false

	flush := func() {
		if b.Len() > 0 {
			out = append(out, rawToken{text: b.String(), quoted: quoted})
			b.Reset()
		}
		quoted = false
	}

	for _, r := range s {
		switch {
		case r == '"' && !inBracket:
			inQuote = !inQuote
			if inQuote {
				quoted = true
			}
		case r == '[' && !inQuote:
			inBracket = true
			b.WriteRune(r)
		case r == ']' && !inQuote:
			inBracket = false
			b.WriteRune(r)
		case unicode.IsSpace(r) && !inQuote && !inBracket:
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return out
}

// splitFieldTag trennt ein [Feld]-Suffix vom Term ab.
func splitFieldTag(word string) (string, string) {
	if !strings.HasSuffix(word, "]") {
		return word, ""
	}
	idx := strings.LastIndex(word, "[")
	if idx <= 0 {
		return word, ""
	}
	return word[:idx], word[idx+1 : len(word)-1]
}

// parseYearRange liest "2020:2023", "2020:" oder "2023" als Jahresbereich.
func parseYearRange(text string) (int, int, bool) {
	parts := strings.SplitN(text, ":", 2)
	start, okStart := parseYear(parts[0])
	if len(parts) == 1 {
		return start, start, okStart
	}
	end, okEnd := parseYear(parts[1])
	if !okStart && !okEnd {
		return 0, 0, false
	}
	return start, end, true
}

func parseYear(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if len(s) != 4 {
		return 0, false
	}
	y, err := strconv.Atoi(s)
	if err != nil || y < 1000 {
		return 0, false
	}
	return y, true
}

// trimDanglingOperators entfernt Operatoren am Anfang und Ende der
// Token-Folge, etwa das AND vor einem entfernten Datumsfilter.
func (q *Query) trimDanglingOperators() {
	for len(q.tokens) > 0 && q.tokens[0].isOp() {
		q.tokens = q.tokens[1:]
	}
	for len(q.tokens) > 0 && q.tokens[len(q.tokens)-1].isOp() {
		q.tokens = q.tokens[:len(q.tokens)-1]
	}
}
