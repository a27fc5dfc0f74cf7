package gim

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"paper-scout/models"
)

// abstractFallback wird eingesetzt, wenn ein Treffer keinen Abstract zeigt.
const abstractFallback = "Abstract not available."

var yearPattern = regexp.MustCompile(`(19|20)\d{2}`)

// Die Detailansicht listet den Abstract zwischen der ABSTRACT-Überschrift und
// der nächsten Sektion.
var abstractSectionPattern = regexp.MustCompile(`(?is)ABSTRACT(.*?)(?:INTRODUCTION|OBJECTIVE|MATERIALS AND METHODS|RESULTS|CONCLUSION|REFERENCES|Subject|$)`)

// ParseResults liest Treffer aus dem HTML einer Ergebnisseite. Die Funktion
// arbeitet rein statisch und wird sowohl auf Browser-Schnappschüsse als auch
// auf direkt geladene Seiten angewendet. Kaputte Einzeltreffer werden
// übersprungen, nie die ganze Seite verworfen.
func ParseResults(html string, limit int) []*models.Paper {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	items := doc.Find(resultItemSelector)
	if items.Length() == 0 {
		for _, sel := range fallbackItemSelectors {
			if found := doc.Find(sel); found.Length() > 0 {
				items = found
				break
			}
		}
	}

	var papers []*models.Paper
	items.EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if paper := mapItem(item); paper != nil {
			papers = append(papers, paper)
		}
		return limit <= 0 || len(papers) < limit
	})
	return papers
}

// mapItem extrahiert einen Treffer. Navigations-Links, zu kurze Titel und
// Einträge ohne brauchbare Identität liefern nil.
func mapItem(item *goquery.Selection) *models.Paper {
	titleLink := item.Find(".titleArt a").First()
	title := cleanText(titleLink.Text())
	if len(title) < minTitleLength || isDeniedTitle(title) {
		return nil
	}

	href := strings.TrimSpace(titleLink.AttrOr("href", ""))
	if strings.HasPrefix(href, "javascript:") {
		return nil
	}

	var authors []string
	item.Find(".author a").Each(func(_ int, a *goquery.Selection) {
		if name := cleanText(a.Text()); name != "" {
			authors = append(authors, name)
		}
	})

	// "Arch. latinoam. nutr;74(3): 199-205, oct. 2024. tab"
	journal, year, publicationDetails := "", "", ""
	if ref := item.Find(".reference em").First(); ref.Length() > 0 {
		publicationDetails = cleanText(ref.Text())
		journal = strings.TrimSpace(strings.SplitN(publicationDetails, ";", 2)[0])
		year = yearPattern.FindString(publicationDetails)
	}

	databaseInfo := cleanText(item.Find(".dataArticle").First().Text())

	abstract := ""
	if detail := item.Find(".reference-detail").First(); detail.Length() > 0 {
		text := strings.TrimSpace(detail.Text())
		if m := abstractSectionPattern.FindStringSubmatch(text); m != nil {
			abstract = strings.TrimSpace(m[1])
		}
		if abstract == "" {
			abstract = text
		}
	}
	if abstract == "" {
		abstract = abstractFallback
	}

	var subjects []string
	item.Find(".reference-detail h5.title2").Each(func(_ int, h *goquery.Selection) {
		if !strings.Contains(h.Text(), "Subject") {
			return
		}
		h.NextUntil("h5").Filter("a").Each(func(_ int, a *goquery.Selection) {
			if s := cleanText(a.Text()); s != "" {
				subjects = append(subjects, s)
			}
		})
	})

	docID := cleanText(item.Find(".doc_id").First().Text())

	identifier := docID
	if identifier == "" {
		identifier = href
	}
	if identifier == "" {
		return nil
	}

	p := &models.Paper{
		Source:   models.SourceGIM,
		SourceID: identifier,
		Title:    title,
		Authors:  strings.Join(authors, "; "),
		Abstract: abstract,
		URL:      href,
		Extra: models.NewExtra(map[string]string{
			"journal":             journal,
			"year":                year,
			"publication_details": publicationDetails,
			"database_info":       databaseInfo,
			"subjects":            strings.Join(subjects, "; "),
			"doc_id":              docID,
		}),
	}
	if year != "" {
		if t, err := time.Parse("2006", year); err == nil {
			p.PublishedAt = &t
		}
	}
	return p
}

// cleanText kollabiert Leerraum aus HTML-Textknoten.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
