package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/providers"
	"paper-scout/query"
	"paper-scout/retry"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Fetcher kapselt die zweiphasige Suche auf PubMed: ESearch liefert eine
// geordnete PMID-Liste, EFetch anschließend die Details als einen XML-Batch.
// Zwischen den Phasen filtert das Ledger bereits bekannte PMIDs heraus, damit
// keine Details doppelt geladen werden.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
	Ledger providers.Ledger

	policy retry.Policy
}

// NewFetcher erstellt eine neue Instanz des PubMed-Fetchers.
func NewFetcher(cfg *config.Config, logger *zap.Logger, ledger providers.Ledger) *Fetcher {
	return &Fetcher{
		Config: cfg,
		Logger: logger,
		Ledger: ledger,
		policy: retry.Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second},
	}
}

// Name gibt den Namen der Quelle zurück.
func (f *Fetcher) Name() string {
	return models.SourcePubMed
}

// Search führt eine vollständige Suche auf PubMed durch.
func (f *Fetcher) Search(ctx context.Context, q *query.Query, max int) ([]*models.Paper, error) {
	return f.search(ctx, query.ForPubMed(q), max)
}

// SearchSince schränkt die Suche auf Publikationen ab dem Stichtag ein.
func (f *Fetcher) SearchSince(ctx context.Context, q *query.Query, since time.Time, max int) ([]*models.Paper, error) {
	term := query.ForPubMed(q)
	if term == "" {
		return nil, nil
	}
	term += " AND " + since.Format("2006/01/02") + ":3000[dp]"
	return f.search(ctx, term, max)
}

func (f *Fetcher) search(ctx context.Context, term string, max int) ([]*models.Paper, error) {
	if term == "" {
		return nil, nil
	}
	log := f.Logger.With(zap.String("term", term))

	ids, err := f.searchIDs(ctx, term, max)
	if err != nil {
		return nil, fmt.Errorf("fehler bei der PubMed ID-Suche: %w", err)
	}
	if len(ids) == 0 {
		log.Info("PubMed ESearch lieferte keine Treffer.")
		return nil, nil
	}

	// Dedup vor Phase 2: bekannte PMIDs werden nicht erneut geladen.
	fresh := ids
	if f.Ledger != nil {
		fresh = make([]string, 0, len(ids))
		for _, pmid := range ids {
			if !f.Ledger.IsKnown(models.SourcePubMed, pmid) {
				fresh = append(fresh, pmid)
			}
		}
	}
	if len(fresh) == 0 {
		log.Info("Alle PMIDs bereits bekannt, EFetch entfällt.", zap.Int("ids", len(ids)))
		return nil, nil
	}

	papers, err := f.fetchDetails(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("fehler beim PubMed Detail-Abruf: %w", err)
	}
	log.Info("PubMed Suche abgeschlossen",
		zap.Int("ids", len(ids)),
		zap.Int("neu", len(fresh)),
		zap.Int("papers", len(papers)))
	return papers, nil
}

// searchIDs führt eine ESearch-Abfrage durch und gibt eine Liste von PMIDs zurück.
func (f *Fetcher) searchIDs(ctx context.Context, term string, max int) ([]string, error) {
	searchURL := f.buildEsearchURL(term, max)
	f.Logger.Debug("Rufe ESearch-URL auf", zap.String("url", searchURL))

	var ids []string
	err := f.policy.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("esearch failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var esearchResp ESearchResponse
		if err := json.NewDecoder(resp.Body).Decode(&esearchResp); err != nil {
			return fmt.Errorf("esearch antwort nicht lesbar: %w", err)
		}
		ids = esearchResp.ESearchResult.IdList
		return nil
	})
	if err != nil {
		return nil, err
	}
	if max > 0 && len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

// fetchDetails holt die Metadaten aller übergebenen PMIDs in einem EFetch-Batch.
func (f *Fetcher) fetchDetails(ctx context.Context, pmids []string) ([]*models.Paper, error) {
	efetchURL := f.buildEfetchURL(pmids)
	f.Logger.Debug("Rufe EFetch-URL auf", zap.String("url", efetchURL), zap.Int("ids", len(pmids)))

	var articleSet PubmedArticleSet
	err := f.policy.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, efetchURL, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("efetch failed: status %d", resp.StatusCode)
		}

		articleSet = PubmedArticleSet{}
		if err := xml.NewDecoder(resp.Body).Decode(&articleSet); err != nil {
			return fmt.Errorf("efetch antwort nicht lesbar: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	papers := make([]*models.Paper, 0, len(articleSet.PubmedArticle))
	for i := range articleSet.PubmedArticle {
		paper := mapArticleToModel(&articleSet.PubmedArticle[i])
		if paper == nil {
			f.Logger.Warn("PubMed-Eintrag ohne PMID oder Titel übersprungen",
				zap.String("pmid", articleSet.PubmedArticle[i].MedlineCitation.PMID))
			continue
		}
		papers = append(papers, paper)
	}
	return papers, nil
}

// buildEsearchURL baut die URL für eine ESearch-Anfrage.
func (f *Fetcher) buildEsearchURL(term string, retmax int) string {
	base := fmt.Sprintf("%s/esearch.fcgi?db=pubmed&term=%s&retmode=json&retmax=%d&sort=relevance",
		f.Config.PubMedBaseURL, url.QueryEscape(term), retmax)
	return base + f.identParams()
}

// buildEfetchURL baut die URL für den EFetch-Batch.
func (f *Fetcher) buildEfetchURL(pmids []string) string {
	base := fmt.Sprintf("%s/efetch.fcgi?db=pubmed&id=%s&retmode=xml",
		f.Config.PubMedBaseURL, strings.Join(pmids, ","))
	return base + f.identParams()
}

func (f *Fetcher) identParams() string {
	var b strings.Builder
	if f.Config.PubMedAPIKey != "" {
		b.WriteString("&api_key=" + f.Config.PubMedAPIKey)
	}
	if f.Config.PubMedTool != "" {
		b.WriteString("&tool=" + url.QueryEscape(f.Config.PubMedTool))
	}
	if f.Config.PubMedEmail != "" {
		b.WriteString("&email=" + url.QueryEscape(f.Config.PubMedEmail))
	}
	return b.String()
}

// mapArticleToModel wandelt ein XML-Article-Objekt in unser Paper-Modell um.
// Einträge ohne PMID oder Titel liefern nil und werden verworfen; fehlende
// optionale Felder bleiben leere Strings.
func mapArticleToModel(article *PubmedArticle) *models.Paper {
	pmid := strings.TrimSpace(article.MedlineCitation.PMID)
	title := strings.TrimSpace(article.MedlineCitation.Article.Title)
	if pmid == "" || title == "" {
		return nil
	}

	p := &models.Paper{
		Source:   models.SourcePubMed,
		SourceID: pmid,
		Title:    title,
		Abstract: strings.TrimSpace(strings.Join(article.MedlineCitation.Article.Abstract.Text, "\n")),
		URL:      fmt.Sprintf("https://pubmed.ncbi.nlm.nih.gov/%s/", pmid),
	}

	var names []string
	for _, author := range article.MedlineCitation.Article.Authors {
		name := strings.TrimSpace(author.LastName + " " + author.ForeName)
		if name == "" {
			name = strings.TrimSpace(author.CollectiveName)
		}
		if name != "" {
			names = append(names, name)
		}
	}
	p.Authors = strings.Join(names, ", ")

	p.PublishedAt = publishedDate(article)
	p.Extra = models.NewExtra(map[string]string{
		"journal": strings.TrimSpace(article.MedlineCitation.Article.Journal.Title),
		"doi":     extractDOI(article),
	})

	return p
}

// extractDOI bevorzugt die ArticleIdList und fällt auf ELocationID zurück.
func extractDOI(article *PubmedArticle) string {
	for _, id := range article.PubmedData.ArticleIDs {
		if strings.EqualFold(id.IDType, "doi") {
			if v := strings.TrimSpace(id.Value); v != "" {
				return v
			}
		}
	}
	for _, id := range article.MedlineCitation.Article.ELocationID {
		if id.IDType == "doi" && id.ValidYN == "Y" {
			return strings.TrimSpace(id.Value)
		}
	}
	return ""
}

// publishedDate bevorzugt den pubmed-Eintrag der Publikations-Historie und
// fällt auf das Journal-Datum zurück.
func publishedDate(article *PubmedArticle) *time.Time {
	for _, h := range article.PubmedData.History {
		if h.PubStatus == "pubmed" {
			if t := parsePubDate(h.Year, h.Month, h.Day); t != nil {
				return t
			}
		}
	}
	pd := article.MedlineCitation.Article.Journal.PubDate
	return parsePubDate(pd.Year, pd.Month, pd.Day)
}

// parsePubDate setzt ein Datum aus den quellenüblichen Teilfeldern zusammen.
func parsePubDate(year, monthStr, dayStr string) *time.Time {
	if year == "" {
		return nil
	}
	month := "01"
	if monthStr != "" {
		parsedMonth, err := time.Parse("Jan", monthStr)
		if err == nil {
			month = fmt.Sprintf("%02d", parsedMonth.Month())
		} else {
			// Fallback für numerische Monate
			tm, err := time.Parse("1", monthStr)
			if err == nil {
				month = fmt.Sprintf("%02d", tm.Month())
			}
		}
	}
	day := "01"
	if dayStr != "" {
		day = dayStr
	}
	dateStr := fmt.Sprintf("%s-%s-%s", year, month, day)
	t, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return nil
	}
	return &t
}
