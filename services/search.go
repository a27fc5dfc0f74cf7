package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/providers"
	"paper-scout/query"
)

// SourceOutcome fasst das Ergebnis einer einzelnen Quelle innerhalb eines
// Suchlaufs zusammen. Error ist gesetzt, wenn die Quelle fehlgeschlagen ist;
// die übrigen Quellen bleiben davon unberührt.
type SourceOutcome struct {
	Source   string          `json:"source"`
	Papers   []*models.Paper `json:"papers"`
	NewCount int             `json:"new_count"`
	Error    string          `json:"error,omitempty"`
}

// SearchService fächert eine Suche parallel über alle konfigurierten Quellen
// auf. Jedes Teilergebnis wird sofort gespeichert und exportiert, sobald die
// Quelle fertig ist, statt auf den langsamsten Abruf zu warten.
type SearchService struct {
	Config    *config.Config
	DB        *gorm.DB
	Logger    *zap.Logger
	Providers []providers.Provider
	Ledger    *Ledger
	Exporter  *ExportService
}

// NewSearchService erstellt eine neue Instanz des SearchService.
func NewSearchService(cfg *config.Config, db *gorm.DB, logger *zap.Logger, provs []providers.Provider, ledger *Ledger, exporter *ExportService) *SearchService {
	return &SearchService{
		Config:    cfg,
		DB:        db,
		Logger:    logger,
		Providers: provs,
		Ledger:    ledger,
		Exporter:  exporter,
	}
}

// Run führt die Suche auf allen Quellen parallel aus und liefert die
// Teilergebnisse sortiert nach Quellenname zurück.
func (s *SearchService) Run(ctx context.Context, q *query.Query, max int) []SourceOutcome {
	if max <= 0 {
		max = s.Config.DefaultMaxResults
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []SourceOutcome
	)
	for _, provider := range s.Providers {
		wg.Add(1)
		go func(p providers.Provider) {
			defer wg.Done()
			outcome := s.runSource(ctx, p, q, max)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		}(provider)
	}
	wg.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Source < outcomes[j].Source })
	return outcomes
}

// runSource bearbeitet eine einzelne Quelle: suchen, speichern, exportieren.
// Eine Panik in der Quelle wird abgefangen und als Fehler gemeldet, damit der
// Gesamtlauf weiterlebt.
func (s *SearchService) runSource(ctx context.Context, p providers.Provider, q *query.Query, max int) (outcome SourceOutcome) {
	outcome = SourceOutcome{Source: p.Name(), Papers: []*models.Paper{}}
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("Quelle ist mit Panik ausgestiegen", zap.String("source", p.Name()), zap.Any("panic", r))
			outcome.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	log := s.Logger.With(zap.String("source", p.Name()))
	log.Info("Starte Suche auf Quelle.")

	papers, err := p.Search(ctx, q, max)
	if err != nil {
		log.Error("Suche auf Quelle fehlgeschlagen", zap.Error(err))
		outcome.Error = err.Error()
		// Auch ein fehlgeschlagener Lauf hinterlässt eine CSV mit Kopfzeile,
		// damit sichtbar bleibt, dass die Suche versucht wurde.
		s.export(ctx, log, p.Name(), nil)
		return outcome
	}

	outcome.NewCount = s.persistBatch(log, p.Name(), papers)
	if papers != nil {
		outcome.Papers = papers
	}
	s.export(ctx, log, p.Name(), papers)

	log.Info("Suche auf Quelle abgeschlossen", zap.Int("found_papers", len(papers)), zap.Int("new_papers", outcome.NewCount))
	return outcome
}

// persistBatch speichert die Treffer einer Quelle. Bereits vorhandene Paper
// laufen über ON CONFLICT ins Leere; nur tatsächlich eingefügte Zeilen zählen
// als neu. Jede gespeicherte ID wird zusätzlich im Ledger registriert.
func (s *SearchService) persistBatch(log *zap.Logger, source string, papers []*models.Paper) int {
	newCount := 0
	for _, paper := range papers {
		if paper.SourceID == "" || paper.Title == "" {
			log.Warn("Treffer ohne ID oder Titel wird nicht gespeichert", zap.String("title", paper.Title))
			continue
		}
		NormalizeRecord(paper)

		res := s.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(paper)
		if res.Error != nil {
			log.Error("Paper konnte nicht gespeichert werden", zap.String("source_id", paper.SourceID), zap.Error(res.Error))
			continue
		}
		if res.RowsAffected > 0 {
			newCount++
		}
		if err := s.Ledger.RecordSeen(source, paper.SourceID); err != nil {
			log.Warn("Ledger-Eintrag fehlgeschlagen", zap.String("source_id", paper.SourceID), zap.Error(err))
		}
	}
	return newCount
}

func (s *SearchService) export(ctx context.Context, log *zap.Logger, source string, papers []*models.Paper) {
	if s.Exporter == nil {
		return
	}
	if _, err := s.Exporter.WriteBatch(ctx, source, papers); err != nil {
		log.Warn("CSV-Export fehlgeschlagen", zap.Error(err))
	}
}
