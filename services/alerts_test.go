package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"paper-scout/models"
	"paper-scout/providers"
)

func newAlertService(t *testing.T, db *gorm.DB, provs ...providers.Provider) *AlertService {
	t.Helper()
	return NewAlertService(newTestConfig(t), db, zap.NewNop(), provs, nil)
}

func createSavedSearch(t *testing.T, db *gorm.DB, search *models.SavedSearch) *models.SavedSearch {
	t.Helper()
	require.NoError(t, db.Create(search).Error)
	return search
}

func resultCount(t *testing.T, db *gorm.DB, searchID uint) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.SearchResult{}).
		Where("saved_search_id = ?", searchID).Count(&count).Error)
	return count
}

func TestCheckSavedSearchFirstRunMarksAllNew(t *testing.T) {
	db := newTestDB(t)
	pub := &stubProvider{name: models.SourcePubMed, papers: []*models.Paper{
		stubPaper(models.SourcePubMed, "111", "First hit"),
		stubPaper(models.SourcePubMed, "222", "Second hit"),
	}}
	svc := newAlertService(t, db, pub)
	search := createSavedSearch(t, db, &models.SavedSearch{
		Name: "covid watch", Query: "covid", Sources: "pubmed", Frequency: models.FrequencyDaily, Active: true,
	})

	before := time.Now().UTC()
	result := svc.CheckSavedSearch(context.Background(), search)

	assert.True(t, result.Success)
	assert.Equal(t, "covid watch", result.SearchName)
	assert.Equal(t, 2, result.NewPapersCount)
	assert.Equal(t, 1, pub.searchCalls)

	var rows []models.SearchResult
	require.NoError(t, db.Where("saved_search_id = ?", search.ID).Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].IsNew)
	assert.False(t, rows[0].IsRead)

	var reloaded models.SavedSearch
	require.NoError(t, db.First(&reloaded, search.ID).Error)
	assert.False(t, reloaded.LastCheckedAt.IsZero())
	assert.False(t, reloaded.LastCheckedAt.Before(before.Add(-time.Second)))
}

func TestCheckSavedSearchUsesWatermarkAsSinceBound(t *testing.T) {
	db := newTestDB(t)
	watermark := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pub := &sinceStubProvider{
		stubProvider: stubProvider{name: models.SourcePubMed},
		sincePapers: []*models.Paper{
			stubPaper(models.SourcePubMed, "333", "Fresh paper"),
		},
	}
	svc := newAlertService(t, db, pub)
	search := createSavedSearch(t, db, &models.SavedSearch{
		Name: "covid watch", Query: "covid", Sources: "pubmed",
		Frequency: models.FrequencyDaily, Active: true, LastCheckedAt: watermark,
	})

	result := svc.CheckSavedSearch(context.Background(), search)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.NewPapersCount)
	// Die Zeitfenster-Suche bekommt den gespeicherten Wasserstand, nicht den
	// Startzeitpunkt dieses Laufs.
	assert.Equal(t, 1, pub.sinceCalls)
	assert.True(t, pub.lastSince.Equal(watermark), "since bound should be the stored watermark")
	assert.Equal(t, 0, pub.searchCalls)
}

func TestCheckSavedSearchOnlyUnseenResultsAreNew(t *testing.T) {
	db := newTestDB(t)
	watermark := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	// Die Quelle liefert einen alten Treffer (vor dem Wasserstand bereits
	// gemeldet) zusammen mit einem echten Neuzugang.
	pub := &sinceStubProvider{
		stubProvider: stubProvider{name: models.SourcePubMed},
		sincePapers: []*models.Paper{
			stubPaper(models.SourcePubMed, "old-1", "Already reported"),
			stubPaper(models.SourcePubMed, "new-1", "Just published"),
		},
	}
	svc := newAlertService(t, db, pub)
	search := createSavedSearch(t, db, &models.SavedSearch{
		Name: "covid watch", Query: "covid", Sources: "pubmed",
		Frequency: models.FrequencyDaily, Active: true, LastCheckedAt: watermark,
	})
	seen := models.SearchResult{
		SavedSearchID: search.ID, Source: models.SourcePubMed, PaperID: "old-1",
		Title: "Already reported", FoundAt: watermark, IsNew: true,
	}
	require.NoError(t, db.Create(&seen).Error)
	require.NoError(t, db.Model(&seen).Update("is_new", false).Error)

	result := svc.CheckSavedSearch(context.Background(), search)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.NewPapersCount)
	assert.EqualValues(t, 2, resultCount(t, db, search.ID))

	var fresh models.SearchResult
	require.NoError(t, db.Where("saved_search_id = ? AND paper_id = ?", search.ID, "new-1").First(&fresh).Error)
	assert.True(t, fresh.IsNew)
}

func TestCheckSavedSearchIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	pub := &sinceStubProvider{
		stubProvider: stubProvider{name: models.SourcePubMed, papers: []*models.Paper{
			stubPaper(models.SourcePubMed, "111", "Stable hit"),
		}},
		sincePapers: []*models.Paper{
			stubPaper(models.SourcePubMed, "111", "Stable hit"),
		},
	}
	svc := newAlertService(t, db, pub)
	search := createSavedSearch(t, db, &models.SavedSearch{
		Name: "covid watch", Query: "covid", Sources: "pubmed", Frequency: models.FrequencyDaily, Active: true,
	})

	first := svc.CheckSavedSearch(context.Background(), search)
	require.Equal(t, 1, first.NewPapersCount)

	// Zweiter Lauf liefert denselben Treffer erneut: keine zweite Zeile.
	second := svc.CheckSavedSearch(context.Background(), search)
	assert.True(t, second.Success)
	assert.Equal(t, 0, second.NewPapersCount)
	assert.EqualValues(t, 1, resultCount(t, db, search.ID))
}

func TestCheckSavedSearchDeduplicatesWithinBatch(t *testing.T) {
	db := newTestDB(t)
	pub := &stubProvider{name: models.SourcePubMed, papers: []*models.Paper{
		stubPaper(models.SourcePubMed, "111", "Twice in one batch"),
		stubPaper(models.SourcePubMed, "111", "Twice in one batch"),
	}}
	svc := newAlertService(t, db, pub)
	search := createSavedSearch(t, db, &models.SavedSearch{
		Name: "covid watch", Query: "covid", Sources: "pubmed", Frequency: models.FrequencyDaily, Active: true,
	})

	result := svc.CheckSavedSearch(context.Background(), search)

	assert.Equal(t, 1, result.NewPapersCount)
	assert.EqualValues(t, 1, resultCount(t, db, search.ID))
}

func TestCheckSavedSearchIsolatesFailingSource(t *testing.T) {
	db := newTestDB(t)
	pub := &stubProvider{name: models.SourcePubMed, papers: []*models.Paper{
		stubPaper(models.SourcePubMed, "111", "Healthy hit"),
	}}
	arx := &stubProvider{name: models.SourceArxiv, err: assert.AnError}
	svc := newAlertService(t, db, pub, arx)
	search := createSavedSearch(t, db, &models.SavedSearch{
		Name: "covid watch", Query: "covid", Sources: "pubmed,arxiv", Frequency: models.FrequencyDaily, Active: true,
	})

	result := svc.CheckSavedSearch(context.Background(), search)

	// Der Ausfall einer Quelle bricht die Prüfung nicht ab.
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.NewPapersCount)

	var reloaded models.SavedSearch
	require.NoError(t, db.First(&reloaded, search.ID).Error)
	assert.False(t, reloaded.LastCheckedAt.IsZero())
}

func TestCheckSavedSearchSkipsSourceWithoutSinceSupport(t *testing.T) {
	db := newTestDB(t)
	// Eine Quelle ohne Zeitfenster-Suche nimmt an Folgeläufen nicht teil.
	gim := &stubProvider{name: models.SourceGIM, papers: []*models.Paper{
		stubPaper(models.SourceGIM, "biblio-1", "Should not appear"),
	}}
	svc := newAlertService(t, db, gim)
	search := createSavedSearch(t, db, &models.SavedSearch{
		Name: "covid watch", Query: "covid", Sources: "gim",
		Frequency: models.FrequencyDaily, Active: true,
		LastCheckedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	result := svc.CheckSavedSearch(context.Background(), search)

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.NewPapersCount)
	assert.Equal(t, 0, gim.searchCalls)
}

func TestCheckSavedSearchFailedRunKeepsWatermark(t *testing.T) {
	db := newTestDB(t)
	pub := &stubProvider{name: models.SourcePubMed, papers: []*models.Paper{
		stubPaper(models.SourcePubMed, "111", "Doomed hit"),
	}}
	svc := newAlertService(t, db, pub)
	search := createSavedSearch(t, db, &models.SavedSearch{
		Name: "covid watch", Query: "covid", Sources: "pubmed", Frequency: models.FrequencyDaily, Active: true,
	})

	// Ohne Ergebnistabelle schlägt die Transaktion fehl und rollt zurück.
	require.NoError(t, db.Migrator().DropTable(&models.SearchResult{}))

	result := svc.CheckSavedSearch(context.Background(), search)

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)

	var reloaded models.SavedSearch
	require.NoError(t, db.First(&reloaded, search.ID).Error)
	assert.True(t, reloaded.LastCheckedAt.IsZero())
}

func TestCheckSavedSearchWatermarkNeverMovesBackwards(t *testing.T) {
	db := newTestDB(t)
	future := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	pub := &sinceStubProvider{stubProvider: stubProvider{name: models.SourcePubMed}}
	svc := newAlertService(t, db, pub)
	search := createSavedSearch(t, db, &models.SavedSearch{
		Name: "covid watch", Query: "covid", Sources: "pubmed",
		Frequency: models.FrequencyDaily, Active: true, LastCheckedAt: future,
	})

	result := svc.CheckSavedSearch(context.Background(), search)
	assert.True(t, result.Success)

	var reloaded models.SavedSearch
	require.NoError(t, db.First(&reloaded, search.ID).Error)
	assert.WithinDuration(t, future, reloaded.LastCheckedAt, time.Second)
}

func TestCheckSavedSearchUnknownSourceIgnored(t *testing.T) {
	db := newTestDB(t)
	svc := newAlertService(t, db)
	search := createSavedSearch(t, db, &models.SavedSearch{
		Name: "covid watch", Query: "covid", Sources: "scopus", Frequency: models.FrequencyDaily, Active: true,
	})

	result := svc.CheckSavedSearch(context.Background(), search)

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.NewPapersCount)
}

func TestCheckSavedSearchAppliesParams(t *testing.T) {
	db := newTestDB(t)
	pub := &stubProvider{name: models.SourcePubMed}
	svc := newAlertService(t, db, pub)
	search := createSavedSearch(t, db, &models.SavedSearch{
		Name: "covid watch", Query: "covid", Sources: "pubmed", Frequency: models.FrequencyDaily, Active: true,
		Parameters: []byte(`{"max_results": 7}`),
	})

	svc.CheckSavedSearch(context.Background(), search)

	assert.Equal(t, 7, pub.lastMax)
}

func TestRunForCadenceChecksMatchingSearchesOnly(t *testing.T) {
	db := newTestDB(t)
	pub := &stubProvider{name: models.SourcePubMed, papers: []*models.Paper{
		stubPaper(models.SourcePubMed, "111", "Daily hit"),
	}}
	svc := newAlertService(t, db, pub)

	daily := createSavedSearch(t, db, &models.SavedSearch{
		Name: "daily", Query: "covid", Sources: "pubmed", Frequency: models.FrequencyDaily, Active: true,
	})
	createSavedSearch(t, db, &models.SavedSearch{
		Name: "weekly", Query: "covid", Sources: "pubmed", Frequency: models.FrequencyWeekly, Active: true,
	})
	inactive := createSavedSearch(t, db, &models.SavedSearch{
		Name: "inactive", Query: "covid", Sources: "pubmed", Frequency: models.FrequencyDaily, Active: true,
	})
	// Explizites Update, weil gorm beim Create Zero-Values mit Default-Tag auslässt.
	require.NoError(t, db.Model(inactive).Update("active", false).Error)

	total, err := svc.RunForCadence(context.Background(), models.FrequencyDaily)

	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, pub.searchCalls)
	assert.EqualValues(t, 1, resultCount(t, db, daily.ID))
}

func TestMarkRead(t *testing.T) {
	db := newTestDB(t)
	svc := newAlertService(t, db)
	search := createSavedSearch(t, db, &models.SavedSearch{
		Name: "covid watch", Query: "covid", Sources: "pubmed", Frequency: models.FrequencyDaily, Active: true,
	})
	row := models.SearchResult{
		SavedSearchID: search.ID, Source: models.SourcePubMed, PaperID: "111",
		Title: "To be read", FoundAt: time.Now().UTC(), IsNew: true,
	}
	require.NoError(t, db.Create(&row).Error)

	require.NoError(t, svc.MarkRead(row.ID))

	var reloaded models.SearchResult
	require.NoError(t, db.First(&reloaded, row.ID).Error)
	assert.False(t, reloaded.IsNew)
	assert.True(t, reloaded.IsRead)

	assert.ErrorIs(t, svc.MarkRead(99999), gorm.ErrRecordNotFound)
}

func TestGetNewPapersFiltersAndOrders(t *testing.T) {
	db := newTestDB(t)
	svc := newAlertService(t, db)
	search := createSavedSearch(t, db, &models.SavedSearch{
		Name: "covid watch", Query: "covid", Sources: "pubmed", Frequency: models.FrequencyDaily, Active: true,
	})

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []models.SearchResult{
		{SavedSearchID: search.ID, Source: models.SourcePubMed, PaperID: "1", Title: "Oldest", FoundAt: base, IsNew: true},
		{SavedSearchID: search.ID, Source: models.SourceArxiv, PaperID: "2", Title: "Newest", FoundAt: base.Add(2 * time.Hour), IsNew: true},
		{SavedSearchID: search.ID, Source: models.SourcePubMed, PaperID: "3", Title: "Read already", FoundAt: base.Add(time.Hour), IsNew: true},
	}
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}
	require.NoError(t, db.Model(&rows[2]).Update("is_new", false).Error)

	all, err := svc.GetNewPapers(search.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Newest", all[0].Title)

	pubmedOnly, err := svc.GetNewPapers(search.ID, models.SourcePubMed, 10)
	require.NoError(t, err)
	require.Len(t, pubmedOnly, 1)
	assert.Equal(t, "Oldest", pubmedOnly[0].Title)
}

func TestResultURLPrefersArxivPDF(t *testing.T) {
	withPDF := stubPaper(models.SourceArxiv, "2301.00001", "With PDF")
	withPDF.Extra = models.NewExtra(map[string]string{"pdf_url": "https://arxiv.org/pdf/2301.00001"})
	assert.Equal(t, "https://arxiv.org/pdf/2301.00001", resultURL(withPDF))

	plain := stubPaper(models.SourcePubMed, "111", "Plain")
	assert.Equal(t, "https://example.org/111", resultURL(plain))
}
