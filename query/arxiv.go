package query

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Feste Zuordnung von PubMed-Feldnamen auf arXiv-Präfixe. Unbekannte Felder
// fallen auf die Volltextsuche zurück.
var arxivPrefixByField = map[string]string{
	"title":          "ti:",
	"ti":             "ti:",
	"author":         "au:",
	"au":             "au:",
	"journal":        "jr:",
	"ta":             "jr:",
	"jour":           "jr:",
	"title/abstract": "all:",
	"tiab":           "all:",
}

var boolWordPattern = regexp.MustCompile(`\b(AND|OR|NOT)\b`)

// ForArxiv übersetzt die Query in arXiv-Syntax: Feld-Tags werden durch
// Schema-Präfixe ersetzt, Phrasen in Anführungszeichen gesetzt und der
// Jahresbereich als submittedDate-Filter angehängt. Ein [dp]-Filter der
// Eingabe taucht im Ergebnis nie wörtlich auf.
func ForArxiv(q *Query) string {
	body := arxivBody(q)

	start, end, ok := q.yearRange()
	if !ok {
		return body
	}
	clause := fmt.Sprintf("submittedDate:[%d01010000 TO %d12312400]", start, end)
	if body == "" {
		return clause
	}
	return body + " AND " + clause
}

// ForArxivSince rendert die Query mit einem taggenauen submittedDate-Fenster
// für die inkrementelle Erkennung. Ein Jahresbereich der Query wird dabei
// verworfen, das Fenster ist die strengere Einschränkung.
func ForArxivSince(q *Query, since, until time.Time) string {
	clause := fmt.Sprintf("submittedDate:[%s0000 TO %s2400]",
		since.Format("20060102"), until.Format("20060102"))
	body := arxivBody(q)
	if body == "" {
		return clause
	}
	return body + " AND " + clause
}

func arxivBody(q *Query) string {
	var parts []string
	prevTerm := false
	for _, t := range q.tokens {
		if t.isOp() {
			op := t.op
			if op == "NOT" {
				op = "ANDNOT"
			}
			parts = append(parts, op)
			prevTerm = false
			continue
		}
		if prevTerm {
			// arXiv kennt keine implizite Verknüpfung.
			parts = append(parts, "AND")
		}
		parts = append(parts, arxivTerm(t))
		prevTerm = true
	}
	return strings.Join(parts, " ")
}

func arxivTerm(t token) string {
	prefix, ok := arxivPrefixByField[strings.ToLower(t.field)]
	if !ok {
		prefix = "all:"
	}

	// Trunkierung wird von arXiv nicht unterstützt, der Stern entfällt.
	text := strings.TrimRight(t.text, "*")

	switch {
	case boolWordPattern.MatchString(text):
		// Eingebettete Operatoren: Klammern statt Anführungszeichen, sonst
		// würde der Teilausdruck wörtlich gesucht.
		return prefix + "(" + text + ")"
	case strings.ContainsAny(text, " \t"):
		return prefix + `"` + text + `"`
	default:
		return prefix + text
	}
}
