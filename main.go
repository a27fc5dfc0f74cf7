package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/providers"
	"paper-scout/providers/arxiv"
	"paper-scout/providers/gim"
	"paper-scout/providers/pubmed"
	"paper-scout/query"
	"paper-scout/services"
	"paper-scout/storage"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var newPapersCounter prometheus.Counter

func init() {
	newPapersCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "new_papers_added_total",
			Help: "Total number of new papers added to the database.",
		},
	)
	prometheus.MustRegister(newPapersCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APIKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-Key")
		if apiKey != cfg.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(&models.Paper{}, &models.SavedSearch{}, &models.SearchResult{}, &models.SeenRecord{}); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	// Setup Services
	ledger := services.NewLedger(db, logging)

	var s3Client *s3.Client
	if cfg.ExportS3Enabled() {
		s3Client, err = storage.NewS3Client(cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		logging.Info("S3 export mirror enabled", zap.String("bucket", cfg.ExportS3Bucket))
	} else {
		logging.Info("S3 export mirror not configured, CSV files stay local")
	}
	exporter := services.NewExportService(cfg, logging, s3Client)

	// Setup Providers
	enabledProviders := buildProviders(cfg, logging, ledger)
	if len(enabledProviders) == 0 {
		logging.Fatal("No valid sources enabled. Check ENABLED_SOURCES in .env")
	}

	searchService := services.NewSearchService(cfg, db, logging, enabledProviders, ledger, exporter)
	mailer := services.NewMailer(cfg, logging)
	alertService := services.NewAlertService(cfg, db, logging, enabledProviders, mailer)
	advisor := services.NewAdvisor(cfg, logging)

	if !cfg.MailEnabled() {
		logging.Info("SMTP not configured, alert emails disabled")
	}
	if !advisor.Enabled() {
		logging.Info("Advisor API key not set, query suggestions disabled")
	}

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Setup Routes
	setupSearchRoutes(router, searchService)
	setupPaperRoutes(router, db, logging)
	setupSavedSearchRoutes(router, db, logging, alertService)
	setupResultRoutes(router, db, logging, alertService)
	setupExportRoutes(router, exporter)
	setupAdvisorRoutes(router, advisor)
	setupMailRoutes(router, cfg, mailer)

	// Setup Cron
	cronScheduler := cron.New()
	addCadence := func(schedule, frequency string) {
		_, err := cronScheduler.AddFunc(schedule, func() {
			logging.Info("Running scheduled alert check...", zap.String("frequency", frequency))
			count, err := alertService.RunForCadence(context.Background(), frequency)
			if err != nil {
				logging.Error("Scheduled alert check failed", zap.String("frequency", frequency), zap.Error(err))
				return
			}
			logging.Info("Scheduled alert check completed", zap.String("frequency", frequency), zap.Int("new_papers", count))
			newPapersCounter.Add(float64(count))
		})
		if err != nil {
			logging.Fatal("Invalid cron schedule", zap.String("schedule", schedule), zap.Error(err))
		}
	}
	addCadence(cfg.DailyCron, models.FrequencyDaily)
	addCadence(cfg.WeeklyCron, models.FrequencyWeekly)
	addCadence(cfg.MonthlyCron, models.FrequencyMonthly)
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// buildProviders instanziiert die in ENABLED_SOURCES gelisteten Quellen.
func buildProviders(cfg *config.Config, logging *zap.Logger, ledger providers.Ledger) []providers.Provider {
	names := strings.Split(cfg.EnabledSources, ",")
	var enabled []providers.Provider
	for _, name := range names {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case models.SourcePubMed:
			enabled = append(enabled, pubmed.NewFetcher(cfg, logging, ledger))
		case models.SourceArxiv:
			enabled = append(enabled, arxiv.NewFetcher(cfg, logging))
		case models.SourceGIM:
			enabled = append(enabled, gim.NewFetcher(cfg, logging))
		case "":
		default:
			logging.Warn("Unknown source in config", zap.String("source_name", name))
		}
	}
	if len(enabled) > 0 {
		active := make([]string, 0, len(enabled))
		for _, p := range enabled {
			active = append(active, p.Name())
		}
		logging.Info("Active sources loaded", zap.Strings("sources", active))
	}
	return enabled
}

func setupSearchRoutes(router *gin.Engine, searchService *services.SearchService) {
	rg := router.Group("/api/search")

	// Synchroner Ad-hoc-Lauf über alle aktiven Quellen.
	rg.POST("/", func(c *gin.Context) {
		type SearchRequest struct {
			Query      string `json:"query" binding:"required"`
			MaxResults int    `json:"max_results"`
			StartYear  int    `json:"start_year"`
			EndYear    int    `json:"end_year"`
		}

		var req SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		q := query.Parse(req.Query)
		if req.StartYear > 0 || req.EndYear > 0 {
			q.Years(req.StartYear, req.EndYear)
		}

		outcomes := searchService.Run(c.Request.Context(), q, req.MaxResults)

		totalNew := 0
		for _, outcome := range outcomes {
			totalNew += outcome.NewCount
		}
		newPapersCounter.Add(float64(totalNew))

		c.JSON(http.StatusOK, gin.H{
			"query":      req.Query,
			"new_papers": totalNew,
			"results":    outcomes,
		})
	})
}

func setupPaperRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/api/papers")

	rg.GET("/", func(c *gin.Context) {
		tx := db.Model(&models.Paper{})
		if source := c.Query("source"); source != "" {
			tx = tx.Where("source = ?", source)
		}
		limit := 100
		if raw := c.Query("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		var papers []models.Paper
		if err := tx.Order("created_at desc").Limit(limit).Find(&papers).Error; err != nil {
			log.Error("Database query for papers failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, papers)
	})
}

func setupSavedSearchRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger, alertService *services.AlertService) {
	rg := router.Group("/api/saved-searches")

	rg.POST("/", func(c *gin.Context) {
		var search models.SavedSearch
		if err := c.ShouldBindJSON(&search); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if search.Name == "" || search.Query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name and query are required"})
			return
		}
		if err := db.Create(&search).Error; err != nil {
			log.Error("DB error creating saved search", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create saved search"})
			return
		}
		c.JSON(http.StatusCreated, search)
	})

	rg.GET("/", func(c *gin.Context) {
		var searches []models.SavedSearch
		if err := db.Order("created_at desc").Find(&searches).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, searches)
	})

	rg.GET("/:id", func(c *gin.Context) {
		var search models.SavedSearch
		if err := db.First(&search, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "saved search not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, search)
	})

	rg.PATCH("/:id", func(c *gin.Context) {
		id := c.Param("id")

		var search models.SavedSearch
		if err := db.First(&search, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "saved search not found"})
				return
			}
			log.Error("DB error checking for saved search on PATCH", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		// Nur die gesendeten Felder binden, um Überschreiben zu verhindern
		var updateData map[string]interface{}
		if err := c.ShouldBindJSON(&updateData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		delete(updateData, "id")
		delete(updateData, "last_checked_at")

		if err := db.Model(&search).Updates(updateData).Error; err != nil {
			log.Error("DB error updating saved search", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update saved search"})
			return
		}
		c.JSON(http.StatusOK, search)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		id := c.Param("id")

		var search models.SavedSearch
		if err := db.First(&search, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "saved search not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		// Ergebniszeilen hängen per Cascade an der Suche.
		if err := db.Select("Results").Delete(&search).Error; err != nil {
			log.Error("DB error deleting saved search", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete saved search"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "saved search deleted"})
	})

	// Manueller Sofort-Lauf einer gespeicherten Suche.
	rg.POST("/:id/run", func(c *gin.Context) {
		var search models.SavedSearch
		if err := db.First(&search, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "saved search not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		result := alertService.CheckSavedSearch(c.Request.Context(), &search)
		if result.Success {
			newPapersCounter.Add(float64(result.NewPapersCount))
		}
		c.JSON(http.StatusOK, result)
	})
}

func setupResultRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger, alertService *services.AlertService) {
	rg := router.Group("/api/results")

	rg.GET("/", func(c *gin.Context) {
		tx := db.Model(&models.SearchResult{})
		if sid := c.Query("saved_search_id"); sid != "" {
			tx = tx.Where("saved_search_id = ?", sid)
		}
		if source := c.Query("source"); source != "" {
			tx = tx.Where("source = ?", source)
		}
		if c.Query("new_only") == "true" {
			tx = tx.Where("is_new = ?", true)
		}
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		var results []models.SearchResult
		if err := tx.Order("found_at desc").Limit(limit).Find(&results).Error; err != nil {
			log.Error("Database query for results failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, results)
	})

	rg.POST("/:id/read", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		if err := alertService.MarkRead(uint(id)); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
				return
			}
			log.Error("DB error marking result as read", zap.Uint64("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark result"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "marked as read"})
	})
}

func setupExportRoutes(router *gin.Engine, exporter *services.ExportService) {
	rg := router.Group("/api/export")

	rg.GET("/:source", func(c *gin.Context) {
		source := c.Param("source")
		path := exporter.FilePath(source)
		if _, err := os.Stat(path); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no export available for this source"})
			return
		}
		c.FileAttachment(path, source+"_results.csv")
	})
}

func setupAdvisorRoutes(router *gin.Engine, advisor *services.Advisor) {
	rg := router.Group("/api/advisor")

	rg.POST("/suggest", func(c *gin.Context) {
		type SuggestRequest struct {
			Input string `json:"input" binding:"required"`
		}

		var req SuggestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if !advisor.Enabled() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "advisor not configured"})
			return
		}

		suggestion, err := advisor.Suggest(c.Request.Context(), req.Input)
		if err != nil {
			// Degradierter Modus: die Eingabe selbst wird zur Query.
			c.JSON(http.StatusOK, gin.H{
				"pubmed_query": req.Input,
				"gim_query":    req.Input,
				"fallback":     true,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"pubmed_query": suggestion.PubmedQuery,
			"gim_query":    suggestion.GIMQuery,
			"fallback":     false,
		})
	})
}

func setupMailRoutes(router *gin.Engine, cfg *config.Config, mailer *services.Mailer) {
	rg := router.Group("/api/test-email")

	rg.POST("/", func(c *gin.Context) {
		type TestMailRequest struct {
			To string `json:"to" binding:"required,email"`
		}

		var req TestMailRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "valid recipient address required"})
			return
		}
		if !cfg.MailEnabled() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mail delivery not configured"})
			return
		}
		if err := mailer.SendTest(req.To); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send test email"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "test email sent"})
	})
}
