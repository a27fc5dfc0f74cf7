package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"4242"`
	APIKey   string `envconfig:"API_KEY"`

	// Basis-URL der Weboberfläche, wird in Mails verlinkt.
	AppBaseURL string `envconfig:"APP_BASE_URL" default:"http://localhost:4242"`

	// Verzeichnis für die CSV-Exporte der Ad-hoc-Suchen.
	DataDir string `envconfig:"DATA_DIR" default:"data"`

	DefaultMaxResults int `envconfig:"DEFAULT_MAX_RESULTS" default:"50"`

	PubMedBaseURL string `envconfig:"PUBMED_BASE_URL" default:"https://eutils.ncbi.nlm.nih.gov/entrez/eutils"`
	PubMedAPIKey  string `envconfig:"PUBMED_API_KEY"`
	PubMedEmail   string `envconfig:"PUBMED_EMAIL"`
	PubMedTool    string `envconfig:"PUBMED_TOOL" default:"paper-scout"`

	ArxivBaseURL string `envconfig:"ARXIV_BASE_URL" default:"http://export.arxiv.org/api/query"`

	GIMBaseURL     string        `envconfig:"GIM_BASE_URL" default:"https://pesquisa.bvsalud.org/gim/"`
	GIMHeadless    bool          `envconfig:"GIM_HEADLESS" default:"true"`
	GIMStepTimeout time.Duration `envconfig:"GIM_STEP_TIMEOUT" default:"20s"`
	GIMMaxPages    int           `envconfig:"GIM_MAX_PAGES" default:"10"`

	// Cron-Ausdrücke der drei Prüfintervalle.
	DailyCron   string `envconfig:"DAILY_CRON" default:"0 1 * * *"`
	WeeklyCron  string `envconfig:"WEEKLY_CRON" default:"0 2 * * 1"`
	MonthlyCron string `envconfig:"MONTHLY_CRON" default:"0 3 1 * *"`

	// Zeitbudget pro gespeicherter Suche im Alert-Lauf.
	AlertTimeout time.Duration `envconfig:"ALERT_TIMEOUT" default:"10m"`

	// SMTP-Zustellung; ohne Host bleibt der Mailversand deaktiviert.
	MailHost     string `envconfig:"MAIL_HOST"`
	MailPort     int    `envconfig:"MAIL_PORT" default:"587"`
	MailUsername string `envconfig:"MAIL_USERNAME"`
	MailPassword string `envconfig:"MAIL_PASSWORD"`
	MailFrom     string `envconfig:"MAIL_FROM"`

	// OpenRouter-kompatibler Endpunkt für Query-Vorschläge; optional.
	AdvisorBaseURL string `envconfig:"ADVISOR_BASE_URL" default:"https://openrouter.ai/api/v1"`
	AdvisorAPIKey  string `envconfig:"ADVISOR_API_KEY"`
	AdvisorModel   string `envconfig:"ADVISOR_MODEL" default:"openai/gpt-4o-mini"`

	// S3-Spiegel für CSV-Exporte; ohne Bucket bleibt der Upload deaktiviert.
	ExportS3Key    string `envconfig:"EXPORT_S3_KEY"`
	ExportS3Secret string `envconfig:"EXPORT_S3_SECRET"`
	ExportS3URL    string `envconfig:"EXPORT_S3_URL"`
	ExportS3Region string `envconfig:"EXPORT_S3_REGION" default:"eu-central-1"`
	ExportS3Bucket string `envconfig:"EXPORT_S3_BUCKET"`

	// Quellen-Konfiguration
	EnabledSources string `envconfig:"ENABLED_SOURCES" default:"pubmed,arxiv,gim"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// MailEnabled meldet, ob der SMTP-Versand vollständig konfiguriert ist.
func (c *Config) MailEnabled() bool {
	return c.MailHost != "" && c.MailFrom != ""
}

// ExportS3Enabled meldet, ob der S3-Spiegel konfiguriert ist.
func (c *Config) ExportS3Enabled() bool {
	return c.ExportS3Bucket != "" && c.ExportS3Key != "" && c.ExportS3Secret != "" && c.ExportS3URL != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
