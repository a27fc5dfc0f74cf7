package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/providers"
	"paper-scout/query"
)

// CheckResult fasst einen Prüflauf für eine gespeicherte Suche zusammen.
type CheckResult struct {
	Success        bool   `json:"success"`
	SearchName     string `json:"search_name"`
	NewPapersCount int    `json:"new_papers_count"`
	Error          string `json:"error,omitempty"`
}

// AlertService prüft gespeicherte Suchen zyklisch auf neue Publikationen.
// Neu heißt hier: noch nie für genau dieses Suchprofil gemeldet. Das ist
// bewusst unabhängig vom globalen Ledger, denn dieselbe Publikation kann für
// verschiedene Suchprofile jeweils einmal neu sein.
type AlertService struct {
	Config    *config.Config
	DB        *gorm.DB
	Logger    *zap.Logger
	Providers []providers.Provider
	Mailer    *Mailer
}

// NewAlertService erstellt eine neue Instanz des AlertService. Der Mailer darf
// nil sein, dann entfallen Benachrichtigungen.
func NewAlertService(cfg *config.Config, db *gorm.DB, logger *zap.Logger, provs []providers.Provider, mailer *Mailer) *AlertService {
	return &AlertService{
		Config:    cfg,
		DB:        db,
		Logger:    logger,
		Providers: provs,
		Mailer:    mailer,
	}
}

// CheckSavedSearch führt einen einzelnen Prüflauf aus: Quellen abfragen, noch
// unbekannte Treffer als Ergebnisse anlegen und den Wasserstand vorrücken.
// Ergebniszeilen und Wasserstand werden in einer Transaktion geschrieben,
// damit kein Treffer doppelt gemeldet wird, wenn ein Lauf mittendrin abbricht.
func (a *AlertService) CheckSavedSearch(ctx context.Context, search *models.SavedSearch) CheckResult {
	log := a.Logger.With(zap.String("search_name", search.Name), zap.Uint("search_id", search.ID))
	result := CheckResult{SearchName: search.Name}

	// Der Wasserstand wird vor der Suche festgehalten: Publikationen, die
	// während des Laufs erscheinen, fallen so in den nächsten Zyklus statt
	// in die Lücke zwischen Suchbeginn und -ende.
	checkStart := time.Now().UTC()

	q := query.Parse(search.Query)
	params := search.Params()
	max := params.MaxResults
	if max <= 0 {
		max = a.Config.DefaultMaxResults
	}
	if params.StartYear > 0 || params.EndYear > 0 {
		q.Years(params.StartYear, params.EndYear)
	}

	log.Info("Starte Prüfung der gespeicherten Suche.")

	var found []*models.Paper
	for _, name := range search.SourceList() {
		provider := a.providerByName(name)
		if provider == nil {
			log.Warn("Unbekannte Quelle im Suchprofil", zap.String("source", name))
			continue
		}

		var (
			papers []*models.Paper
			err    error
		)
		if search.LastCheckedAt.IsZero() {
			// Erster Lauf: volle Suche, alle Treffer gelten als neu.
			papers, err = provider.Search(ctx, q, max)
		} else if since, ok := provider.(providers.SinceSearcher); ok {
			papers, err = since.SearchSince(ctx, q, search.LastCheckedAt, max)
		} else {
			log.Debug("Quelle unterstützt keine Zeitfenster-Suche und wird übersprungen", zap.String("source", name))
			continue
		}
		if err != nil {
			log.Error("Quellsuche während der Prüfung fehlgeschlagen", zap.String("source", name), zap.Error(err))
			continue
		}
		found = append(found, papers...)
	}

	var created []*models.SearchResult
	err := a.DB.Transaction(func(tx *gorm.DB) error {
		for _, paper := range found {
			if paper.SourceID == "" {
				continue
			}
			var count int64
			if err := tx.Model(&models.SearchResult{}).
				Where("saved_search_id = ? AND source = ? AND paper_id = ?", search.ID, paper.Source, paper.SourceID).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			row := &models.SearchResult{
				SavedSearchID: search.ID,
				Source:        paper.Source,
				PaperID:       paper.SourceID,
				Title:         paper.Title,
				Authors:       paper.Authors,
				Abstract:      paper.Abstract,
				URL:           resultURL(paper),
				PublishedAt:   paper.PublishedAt,
				FoundAt:       checkStart,
				IsNew:         true,
			}
			if err := tx.Create(row).Error; err != nil {
				return err
			}
			created = append(created, row)
		}

		// Wasserstand nur vorwärts bewegen; ein parallel gelaufener
		// späterer Check bleibt maßgeblich.
		return tx.Model(&models.SavedSearch{}).
			Where("id = ? AND last_checked_at <= ?", search.ID, checkStart).
			Update("last_checked_at", checkStart).Error
	})
	if err != nil {
		log.Error("Prüflauf konnte nicht gespeichert werden", zap.Error(err))
		result.Error = err.Error()
		return result
	}

	search.LastCheckedAt = checkStart
	result.Success = true
	result.NewPapersCount = len(created)
	log.Info("Prüfung abgeschlossen", zap.Int("new_papers_count", len(created)))

	if len(created) > 0 && a.Mailer != nil && a.Config.MailEnabled() && search.NotifyEmail != "" {
		a.notify(log, search, created)
	}
	return result
}

// RunForCadence prüft alle aktiven Suchen eines Intervalls nacheinander.
// Jede Suche bekommt ihr eigenes Timeout, damit eine hängende Quelle nicht
// den ganzen Zyklus blockiert.
func (a *AlertService) RunForCadence(ctx context.Context, frequency string) (int, error) {
	var searches []models.SavedSearch
	if err := a.DB.Where("active = ? AND frequency = ?", true, frequency).Find(&searches).Error; err != nil {
		return 0, err
	}

	log := a.Logger.With(zap.String("frequency", frequency))
	log.Info("Starte zyklische Prüfung gespeicherter Suchen", zap.Int("count", len(searches)))

	total := 0
	for i := range searches {
		checkCtx, cancel := context.WithTimeout(ctx, a.Config.AlertTimeout)
		result := a.CheckSavedSearch(checkCtx, &searches[i])
		cancel()
		if !result.Success {
			log.Error("Prüfung fehlgeschlagen", zap.String("search_name", result.SearchName), zap.String("error", result.Error))
			continue
		}
		total += result.NewPapersCount
	}

	log.Info("Zyklische Prüfung abgeschlossen", zap.Int("new_papers", total))
	return total, nil
}

// GetNewPapers liefert ungelesene Treffer, optional gefiltert nach Suchprofil
// und Quelle, neueste zuerst.
func (a *AlertService) GetNewPapers(savedSearchID uint, source string, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	tx := a.DB.Where("is_new = ?", true)
	if savedSearchID > 0 {
		tx = tx.Where("saved_search_id = ?", savedSearchID)
	}
	if source != "" {
		tx = tx.Where("source = ?", source)
	}
	var results []models.SearchResult
	err := tx.Order("found_at desc").Limit(limit).Find(&results).Error
	return results, err
}

// MarkRead setzt einen Treffer auf gelesen und nimmt ihn aus der Neu-Liste.
func (a *AlertService) MarkRead(id uint) error {
	res := a.DB.Model(&models.SearchResult{}).Where("id = ?", id).
		Updates(map[string]interface{}{"is_new": false, "is_read": true})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (a *AlertService) providerByName(name string) providers.Provider {
	for _, p := range a.Providers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// notify verschickt die Mail und markiert die Zeilen bei Erfolg als gemeldet.
func (a *AlertService) notify(log *zap.Logger, search *models.SavedSearch, created []*models.SearchResult) {
	if err := a.Mailer.SendNewPapers(search, created); err != nil {
		log.Warn("Mailversand fehlgeschlagen", zap.Error(err))
		return
	}
	ids := make([]uint, 0, len(created))
	for _, row := range created {
		ids = append(ids, row.ID)
	}
	if err := a.DB.Model(&models.SearchResult{}).Where("id IN ?", ids).Update("is_notified", true).Error; err != nil {
		log.Warn("is_notified konnte nicht gesetzt werden", zap.Error(err))
		return
	}
	log.Info("Benachrichtigung verschickt", zap.String("recipient", search.NotifyEmail), zap.Int("papers", len(ids)))
}

// resultURL wählt den Link für die Ergebniszeile. Bei arXiv ist das direkte
// PDF nützlicher als die Abstract-Seite.
func resultURL(p *models.Paper) string {
	if p.Source == models.SourceArxiv {
		if pdf := p.ExtraField("pdf_url"); pdf != "" {
			return pdf
		}
	}
	return p.URL
}
