package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/query"
	"paper-scout/retry"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Fetcher implementiert das Provider-Interface für arXiv. Die API liefert
// alle Treffer in einem einzigen Atom-Dokument; fehlerhafte Einträge werden
// einzeln übersprungen und reißen den Batch nicht mit.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger

	policy retry.Policy
}

// NewFetcher erstellt einen neuen arXiv-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config: cfg,
		Logger: logger,
		policy: retry.Policy{
			MaxAttempts: 5,
			BaseDelay:   2 * time.Second,
			MaxDelay:    30 * time.Second,
			RetryIf:     retry.IsTransient,
		},
	}
}

// Name gibt den Namen der Quelle zurück.
func (f *Fetcher) Name() string {
	return models.SourceArxiv
}

// Search führt die Suche auf arXiv aus, sortiert nach Relevanz.
func (f *Fetcher) Search(ctx context.Context, q *query.Query, max int) ([]*models.Paper, error) {
	f.warnDroppedWildcards(q)
	return f.search(ctx, query.ForArxiv(q), max, "relevance")
}

// SearchSince sucht Einreichungen ab dem Stichtag, neueste zuerst.
func (f *Fetcher) SearchSince(ctx context.Context, q *query.Query, since time.Time, max int) ([]*models.Paper, error) {
	f.warnDroppedWildcards(q)
	return f.search(ctx, query.ForArxivSince(q, since, time.Now()), max, "submittedDate")
}

// warnDroppedWildcards protokolliert, dass Trunkierungssterne bei der
// Übersetzung entfallen. arXiv kennt keine Trunkierung.
func (f *Fetcher) warnDroppedWildcards(q *query.Query) {
	if q.HasWildcards() {
		f.Logger.Warn("arXiv unterstützt keine Trunkierung, Sterne entfallen in der Übersetzung")
	}
}

func (f *Fetcher) search(ctx context.Context, term string, max int, sortBy string) ([]*models.Paper, error) {
	if term == "" {
		return nil, nil
	}
	log := f.Logger.With(zap.String("term", term))
	log.Info("Starte Suche auf arXiv.")

	searchURL := fmt.Sprintf("%s?search_query=%s&start=0&max_results=%d&sortBy=%s&sortOrder=descending",
		f.Config.ArxivBaseURL, url.QueryEscape(term), max, sortBy)
	log.Debug("Rufe arXiv API auf", zap.String("url", searchURL))

	var feed Feed
	err := f.policy.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			// Transportfehler sind grundsätzlich wiederholbar.
			return retry.Transient(err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return retry.Transient(fmt.Errorf("arxiv rate limit: status %d", resp.StatusCode))
		default:
			return fmt.Errorf("arxiv search failed: status %d", resp.StatusCode)
		}

		feed = Feed{}
		if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
			return fmt.Errorf("arxiv antwort nicht lesbar: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	papers := make([]*models.Paper, 0, len(feed.Entries))
	for i := range feed.Entries {
		paper := mapEntryToModel(&feed.Entries[i])
		if paper == nil {
			log.Warn("arXiv-Eintrag ohne ID oder Titel übersprungen",
				zap.String("entry_id", feed.Entries[i].ID))
			continue
		}
		papers = append(papers, paper)
	}
	log.Info("Suche auf arXiv abgeschlossen", zap.Int("found_papers", len(papers)))
	return papers, nil
}

// mapEntryToModel konvertiert einen Atom-Eintrag in unser Paper-Modell.
// Einträge ohne ID oder Titel liefern nil.
func mapEntryToModel(entry *Entry) *models.Paper {
	arxivID := extractArxivID(entry.ID)
	title := strings.Join(strings.Fields(entry.Title), " ")
	if arxivID == "" || title == "" {
		return nil
	}

	p := &models.Paper{
		Source:   models.SourceArxiv,
		SourceID: arxivID,
		Title:    title,
		Abstract: strings.TrimSpace(entry.Summary),
		URL:      fmt.Sprintf("https://arxiv.org/abs/%s", arxivID),
	}

	var names []string
	for _, a := range entry.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			names = append(names, name)
		}
	}
	p.Authors = strings.Join(names, ", ")

	if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
		p.PublishedAt = &t
	}

	var categories []string
	for _, c := range entry.Categories {
		if c.Term != "" {
			categories = append(categories, c.Term)
		}
	}
	primary := entry.PrimaryCategory.Term
	if primary == "" && len(categories) > 0 {
		primary = categories[0]
	}
	p.Extra = models.NewExtra(map[string]string{
		"categories":       strings.Join(categories, "; "),
		"primary_category": primary,
		"pdf_url":          fmt.Sprintf("https://arxiv.org/pdf/%s", arxivID),
		"journal_ref":      strings.TrimSpace(entry.JournalRef),
	})

	return p
}
