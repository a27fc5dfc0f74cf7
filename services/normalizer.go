package services

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"paper-scout/models"
)

// ligatureReplacer ersetzt typografische Ligaturen, die aus PDF-nahen Quellen
// in Metadaten durchsickern.
var ligatureReplacer = strings.NewReplacer(
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬀ", "ff",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
	"ﬆ", "st",
)

// hyphenBreakRE matcht Trennstriche am Zeilenende vor einem kleingeschriebenen
// Wortrest, z.B. "ab-\nweichung".
var hyphenBreakRE = regexp.MustCompile(`(?m)([\p{L}\p{N}])-(?:\r?\n)\s*([\p{Ll}])`)

// NormalizeRecord bereinigt die Textfelder eines Papers in-place, bevor es
// gespeichert wird. Titel und Autoren werden einzeilig, der Abstract behält
// seine Absätze.
func NormalizeRecord(p *models.Paper) {
	p.Title = normalizeInline(p.Title)
	p.Authors = normalizeInline(p.Authors)
	p.Abstract = normalizeBlock(p.Abstract)
}

func normalizeInline(s string) string {
	s = normalizeUnicodeAndLigatures(s)
	return strings.Join(strings.Fields(s), " ")
}

func normalizeBlock(s string) string {
	s = normalizeUnicodeAndLigatures(s)
	s = fixHyphenation(s)
	return collapseWhitespace(s)
}

// normalizeUnicodeAndLigatures führt NFC-Normalisierung durch und ersetzt gängige Ligaturen.
func normalizeUnicodeAndLigatures(s string) string {
	s = ligatureReplacer.Replace(s)
	t := transform.Chain(norm.NFC)
	normalized, _, _ := transform.String(t, s)
	return normalized
}

// fixHyphenation fügt am Zeilenumbruch getrennte Wörter wieder zusammen.
func fixHyphenation(s string) string {
	return hyphenBreakRE.ReplaceAllString(s, "$1$2")
}

func collapseWhitespace(s string) string {
	// Mehrfache Spaces zu einem Space; mehr als zwei aufeinanderfolgende Zeilenumbrüche auf zwei begrenzen
	spaceRE := regexp.MustCompile("[\t\f\v ]+")
	s = spaceRE.ReplaceAllString(s, " ")
	multiSpace := regexp.MustCompile(` {2,}`)
	s = multiSpace.ReplaceAllString(s, " ")
	multiNewlines := regexp.MustCompile(`\n{3,}`)
	s = multiNewlines.ReplaceAllString(s, "\n\n")
	// Trim per Zeile
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimRightFunc(lines[i], unicode.IsSpace)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
