// Package gim steuert die Suche im Global Index Medicus über einen echten
// Browser. Das Portal hat keine API; die Treffer entstehen aus HTML-Schnappschüssen
// der Ergebnisseiten, die statisch ausgewertet werden.
package gim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/query"
	"paper-scout/retry"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Fetcher implementiert das Provider-Interface für das Portal. Jeder Aufruf
// von Search öffnet eine frische Browser-Sitzung; es wird kein Zustand
// zwischen Suchen geteilt.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger

	policy retry.Policy
}

// NewFetcher erstellt einen neuen Portal-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Config: cfg,
		Logger: logger,
		policy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    10 * time.Second,
			RetryIf:     retry.IsTransient,
		},
	}
}

// Name gibt den Namen der Quelle zurück.
func (f *Fetcher) Name() string {
	return models.SourceGIM
}

// Search führt die Portalsuche aus. Fehler verlassen die Methode nie: jede
// Stufe fällt auf die nächste zurück, im schlimmsten Fall ist das Ergebnis
// leer. Stufen: Formular-Flow im Browser, Direkt-URL im Browser, statischer
// Abruf ohne Browser.
func (f *Fetcher) Search(ctx context.Context, q *query.Query, max int) ([]*models.Paper, error) {
	term := query.ForGIM(q)
	if term == "" {
		return nil, nil
	}
	log := f.Logger.With(zap.String("term", term))
	log.Info("Starte Suche auf GIM.")

	papers, err := f.searchBrowser(ctx, term, max)
	if err != nil {
		log.Warn("GIM Formularsuche fehlgeschlagen, versuche Direkt-URL.", zap.Error(err))
	}
	if len(papers) == 0 {
		papers, err = f.searchDirectURL(ctx, term, max)
		if err != nil {
			log.Warn("GIM Direkt-URL fehlgeschlagen, versuche statischen Abruf.", zap.Error(err))
		}
	}
	if len(papers) == 0 {
		papers, err = f.fetchStatic(ctx, term, max)
		if err != nil {
			log.Warn("GIM statischer Abruf fehlgeschlagen, keine Treffer.", zap.Error(err))
			return nil, nil
		}
	}

	log.Info("Suche auf GIM abgeschlossen", zap.Int("found_papers", len(papers)))
	return papers, nil
}

// searchBrowser fährt den Formular-Flow und wiederholt ihn bei
// Challenge-Seiten und Transportfehlern.
func (f *Fetcher) searchBrowser(ctx context.Context, term string, max int) ([]*models.Paper, error) {
	var papers []*models.Paper
	err := f.policy.Do(ctx, func() error {
		var err error
		papers, err = f.runSession(ctx, term, max)
		return err
	})
	return papers, err
}

func (f *Fetcher) runSession(ctx context.Context, term string, max int) ([]*models.Paper, error) {
	browserCtx, cancel := f.newBrowserContext(ctx)
	defer cancel()

	if err := f.step(browserCtx, chromedp.Navigate(f.searchPageURL())); err != nil {
		return nil, retry.Transient(fmt.Errorf("portal nicht erreichbar: %w", err))
	}

	html, err := f.snapshot(browserCtx)
	if err != nil {
		return nil, err
	}
	if isChallenge(html) {
		return nil, retry.Transient(errors.New("challenge-Seite erkannt"))
	}

	inputSel, ok := f.firstExisting(browserCtx, searchInputSelectors)
	if !ok {
		return nil, errors.New("kein Suchfeld gefunden")
	}
	if err := f.step(browserCtx, chromedp.SetValue(inputSel, term, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("suchfeld nicht befüllbar: %w", err)
	}

	buttonSel, ok := f.firstExisting(browserCtx, searchButtonSelectors)
	if !ok {
		return nil, errors.New("kein Suchknopf gefunden")
	}
	if err := f.step(browserCtx, chromedp.Click(buttonSel, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("suche nicht abschickbar: %w", err)
	}

	if _, ok := f.awaitAny(browserCtx, resultContainerSelectors); !ok {
		html, snapErr := f.snapshot(browserCtx)
		if snapErr == nil && hasNoResultsMarker(html) {
			f.Logger.Info("GIM meldet keine Treffer.")
			return nil, nil
		}
		return nil, errors.New("ergebnisliste nicht gefunden")
	}

	// Trefferzahl pro Seite hochsetzen, best effort.
	_ = f.step(browserCtx, chromedp.Evaluate(setPageSizeJS, nil), chromedp.Sleep(2*time.Second))

	// Abstracts einblenden: erst der globale Schalter, dann pro Treffer.
	_ = f.step(browserCtx, chromedp.Evaluate(toggleDetailsJS, nil), chromedp.Sleep(2*time.Second))
	html, err = f.snapshot(browserCtx)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(html, "reference-detail") {
		_ = f.step(browserCtx, chromedp.Evaluate(expandItemsJS, nil), chromedp.Sleep(2*time.Second))
		if fresh, snapErr := f.snapshot(browserCtx); snapErr == nil {
			html = fresh
		}
	}

	papers := ParseResults(html, max)
	for page := 2; len(papers) < max && page <= f.Config.GIMMaxPages; page++ {
		if !f.clickNext(browserCtx, page) {
			break
		}
		pageHTML, snapErr := f.snapshot(browserCtx)
		if snapErr != nil {
			break
		}
		pagePapers := ParseResults(pageHTML, max-len(papers))
		if len(pagePapers) == 0 {
			break
		}
		f.Logger.Debug("GIM Folgeseite verarbeitet",
			zap.Int("page", page), zap.Int("new", len(pagePapers)))
		papers = append(papers, pagePapers...)
	}
	return papers, nil
}

// searchDirectURL lädt die Ergebnisseite über die bekannte URL-Form direkt im
// Browser, ohne den Formular-Flow.
func (f *Fetcher) searchDirectURL(ctx context.Context, term string, max int) ([]*models.Paper, error) {
	browserCtx, cancel := f.newBrowserContext(ctx)
	defer cancel()

	err := f.step(browserCtx, chromedp.Navigate(f.directSearchURL(term)), chromedp.Sleep(3*time.Second))
	if err != nil {
		return nil, err
	}
	html, err := f.snapshot(browserCtx)
	if err != nil {
		return nil, err
	}
	return ParseResults(html, max), nil
}

// fetchStatic holt die Ergebnisseite ohne Browser. Letzte Rückfallebene,
// greift auch, wenn auf dem Host kein Chrome verfügbar ist.
func (f *Fetcher) fetchStatic(ctx context.Context, term string, max int) ([]*models.Paper, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.directSearchURL(term), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gim fetch failed: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return ParseResults(string(body), max), nil
}

func (f *Fetcher) newBrowserContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.Config.GIMHeadless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(userAgents[rand.Intn(len(userAgents))]),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	return browserCtx, func() {
		cancelBrowser()
		cancelAlloc()
	}
}

// step führt Browser-Aktionen mit dem konfigurierten Schritt-Timeout aus.
func (f *Fetcher) step(ctx context.Context, actions ...chromedp.Action) error {
	stepCtx, cancel := context.WithTimeout(ctx, f.Config.GIMStepTimeout)
	defer cancel()
	return chromedp.Run(stepCtx, actions...)
}

func (f *Fetcher) snapshot(ctx context.Context) (string, error) {
	var html string
	err := f.step(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (f *Fetcher) firstExisting(ctx context.Context, selectors []string) (string, bool) {
	for _, sel := range selectors {
		if f.exists(ctx, sel, chromedp.ByQueryAll) {
			return sel, true
		}
	}
	return "", false
}

func (f *Fetcher) exists(ctx context.Context, sel string, by chromedp.QueryOption) bool {
	var nodes []*cdp.Node
	err := f.step(ctx, chromedp.Nodes(sel, &nodes, by, chromedp.AtLeast(0)))
	return err == nil && len(nodes) > 0
}

// awaitAny wartet höchstens ein Schritt-Timeout darauf, dass einer der
// Selektoren auf der Seite auftaucht.
func (f *Fetcher) awaitAny(ctx context.Context, selectors []string) (string, bool) {
	deadline := time.Now().Add(f.Config.GIMStepTimeout)
	for {
		if sel, ok := f.firstExisting(ctx, selectors); ok {
			return sel, true
		}
		if time.Now().After(deadline) {
			return "", false
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// clickNext blättert zur nächsten Seite: erst explizite next-Links, dann
// Links mit dem Text "Next" oder der Seitenzahl.
func (f *Fetcher) clickNext(ctx context.Context, page int) bool {
	for _, sel := range nextPageSelectors {
		if !f.exists(ctx, sel, chromedp.ByQueryAll) {
			continue
		}
		if err := f.step(ctx, chromedp.Click(sel, chromedp.ByQuery), chromedp.Sleep(2*time.Second)); err == nil {
			return true
		}
	}
	for _, text := range []string{"Next", strconv.Itoa(page)} {
		xpath := fmt.Sprintf(`//a[normalize-space(text())=%q]`, text)
		if !f.exists(ctx, xpath, chromedp.BySearch) {
			continue
		}
		if err := f.step(ctx, chromedp.Click(xpath, chromedp.BySearch), chromedp.Sleep(2*time.Second)); err == nil {
			return true
		}
	}
	return false
}

func (f *Fetcher) searchPageURL() string {
	return f.Config.GIMBaseURL + "?lang=en"
}

func (f *Fetcher) directSearchURL(term string) string {
	encoded := strings.ReplaceAll(term, " ", "+")
	return f.Config.GIMBaseURL + "?output=site&lang=en&from=0&sort=&format=summary&count=20&fb=&page=1&q=" + encoded
}
