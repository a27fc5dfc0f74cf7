package providers

import (
	"context"
	"time"

	"paper-scout/models"
	"paper-scout/query"
)

// Provider ist das Interface, das jede Literaturquelle implementieren muss.
type Provider interface {
	// Search übersetzt die Query in die native Syntax der Quelle, führt die
	// Suche aus und gibt normalisierte Paper-Modelle zurück. Treffer werden
	// bei max gekappt.
	Search(ctx context.Context, q *query.Query, max int) ([]*models.Paper, error)

	// Name gibt den eindeutigen Namen der Quelle zurück (z.B. "pubmed").
	Name() string
}

// SinceSearcher wird von Quellen implementiert, die zeitlich eingegrenzte
// Suchen unterstützen. Nur solche Quellen nehmen an der inkrementellen
// Erkennung teil.
type SinceSearcher interface {
	SearchSince(ctx context.Context, q *query.Query, since time.Time, max int) ([]*models.Paper, error)
}

// Ledger ist das Dedup-Gedächtnis über bereits gesehene Identifier je Quelle.
// Es wird vor teuren Detail-Abrufen konsultiert, damit bekannte Treffer nicht
// erneut geladen werden.
type Ledger interface {
	IsKnown(source, identifier string) bool
	RecordSeen(source, identifier string) error
}
