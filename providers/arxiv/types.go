// Package arxiv enthält die Logik für die Interaktion mit der arXiv Atom-API.
package arxiv

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// Feed ist die Top-Level-Struktur des Atom-Dokuments der arXiv API.
type Feed struct {
	XMLName xml.Name `xml:"feed"`
	Entries []Entry  `xml:"entry"`
}

// Entry repräsentiert einen einzelnen Treffer im Atom-Feed.
type Entry struct {
	ID              string     `xml:"id"`
	Title           string     `xml:"title"`
	Summary         string     `xml:"summary"`
	Published       string     `xml:"published"`
	Authors         []Author   `xml:"author"`
	Categories      []Category `xml:"category"`
	PrimaryCategory Category   `xml:"primary_category"`
	JournalRef      string     `xml:"journal_ref"`
}

// Author repräsentiert einen Autor eines Eintrags.
type Author struct {
	Name string `xml:"name"`
}

// Category repräsentiert eine arXiv-Kategorie wie cs.LG.
type Category struct {
	Term string `xml:"term,attr"`
}

// extractArxivID liest die arXiv-ID aus der id-URL eines Eintrags
// (z.B. "http://arxiv.org/abs/2301.07041v2" -> "2301.07041").
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len(prefix):]

	// Versions-Suffix wie v1, v2 abschneiden.
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}
