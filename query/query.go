// Package query modelliert eine abstrakte boolesche Literatursuche und
// übersetzt sie in die nativen Syntaxen der angebundenen Quellen.
package query

import (
	"fmt"
	"regexp"
	"strings"
)

// Platzhalter für offene Jahresgrenzen, wie PubMed sie akzeptiert.
const (
	openStartYear = 1800
	openEndYear   = 3000
)

type token struct {
	op       string // gesetzt für Operator-Tokens (AND/OR/NOT)
	text     string
	field    string
	wildcard bool
}

func (t token) isOp() bool { return t.op != "" }

// Query ist die geordnete Token-Folge einer booleschen Suche plus optionalem
// Jahresbereich. Übersetzer verändern die Query nicht.
type Query struct {
	tokens    []token
	startYear int
	endYear   int

	// Originaltext, falls die Query aus einem String geparst wurde. Die
	// PubMed-Übersetzung reicht ihn unverändert durch, damit Klammerung und
	// Eigenheiten der Eingabe erhalten bleiben.
	raw string
}

// New erzeugt eine leere Query.
func New() *Query {
	return &Query{}
}

// Term hängt einen einfachen Suchbegriff an.
func (q *Query) Term(text string) *Query {
	return q.add(text, "", false)
}

// FieldTerm hängt einen Suchbegriff mit Feld-Tag an, z.B. Title/Abstract.
func (q *Query) FieldTerm(text, field string) *Query {
	return q.add(text, field, false)
}

// Wildcard hängt einen Suchbegriff mit Trunkierungsstern an.
func (q *Query) Wildcard(text string) *Query {
	return q.add(text, "", true)
}

func (q *Query) add(text, field string, wildcard bool) *Query {
	text = strings.TrimSpace(text)
	if text == "" {
		return q
	}
	q.tokens = append(q.tokens, token{text: text, field: field, wildcard: wildcard})
	return q
}

// And hängt den Operator AND an. Direkt aufeinanderfolgende Operatoren werden
// verworfen, damit die Token-Folge gültig bleibt.
func (q *Query) And() *Query { return q.operator("AND") }

// Or hängt den Operator OR an.
func (q *Query) Or() *Query { return q.operator("OR") }

// Not hängt den Operator NOT an.
func (q *Query) Not() *Query { return q.operator("NOT") }

func (q *Query) operator(op string) *Query {
	if len(q.tokens) == 0 || q.tokens[len(q.tokens)-1].isOp() {
		return q
	}
	q.tokens = append(q.tokens, token{op: op})
	return q
}

// Years setzt den Jahresbereich. 0 lässt die jeweilige Grenze offen.
func (q *Query) Years(start, end int) *Query {
	q.startYear = start
	q.endYear = end
	return q
}

// IsEmpty meldet, ob die Query weder Terme noch Jahresbereich enthält.
func (q *Query) IsEmpty() bool {
	return len(q.tokens) == 0 && q.startYear == 0 && q.endYear == 0 && q.raw == ""
}

// HasTerms meldet, ob mindestens ein Suchbegriff vorhanden ist.
func (q *Query) HasTerms() bool {
	for _, t := range q.tokens {
		if !t.isOp() {
			return true
		}
	}
	return false
}

// HasWildcards meldet, ob mindestens ein Begriff mit Trunkierungsstern
// vorhanden ist.
func (q *Query) HasWildcards() bool {
	for _, t := range q.tokens {
		if t.wildcard {
			return true
		}
	}
	return false
}

// yearRange liefert den Jahresbereich mit aufgefüllten offenen Grenzen.
func (q *Query) yearRange() (int, int, bool) {
	if q.startYear == 0 && q.endYear == 0 {
		return 0, 0, false
	}
	start, end := q.startYear, q.endYear
	if start == 0 {
		start = openStartYear
	}
	if end == 0 {
		end = openEndYear
	}
	return start, end, true
}

// String rendert die Query in PubMed-Syntax, der kanonischen Textform:
// Terme mit [Feld]-Suffix und Trunkierungsstern, explizite Operatoren,
// Jahresbereich als angehängter start:end[dp]-Filter.
func (q *Query) String() string {
	var parts []string
	for _, t := range q.tokens {
		if t.isOp() {
			parts = append(parts, t.op)
			continue
		}
		s := t.text
		if t.wildcard {
			s += "*"
		}
		if t.field != "" {
			s += "[" + t.field + "]"
		}
		parts = append(parts, s)
	}
	body := strings.Join(parts, " ")

	start, end, ok := q.yearRange()
	if !ok {
		return body
	}
	clause := fmt.Sprintf("%d:%d[dp]", start, end)
	if body == "" {
		return clause
	}
	return body + " AND " + clause
}

// ForPubMed liefert die native PubMed-Query. Geparste Queries werden als
// Originaltext durchgereicht; ein per Years gesetzter Bereich wird nur
// angehängt, wenn der Text selbst noch keinen [dp]-Filter trägt.
func ForPubMed(q *Query) string {
	body := q.raw
	if body == "" {
		return q.String()
	}
	start, end, ok := q.yearRange()
	if !ok || strings.Contains(strings.ToLower(body), "[dp]") {
		return body
	}
	return body + " AND " + fmt.Sprintf("%d:%d[dp]", start, end)
}

var fieldTagPattern = regexp.MustCompile(`\[[^\]]*\]`)

// StripTags entfernt Feld-Tags und Anführungszeichen aus einer Query im
// PubMed-Stil und kollabiert Leerraum. Dient als letzte Rückfallebene der
// verlustbehafteten Portal-Übersetzung.
func StripTags(text string) string {
	cleaned := fieldTagPattern.ReplaceAllString(text, " ")
	cleaned = strings.ReplaceAll(cleaned, `"`, " ")
	return strings.Join(strings.Fields(cleaned), " ")
}
