package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/storage"
)

// csvColumnsBySource definiert das Spaltenschema je Quelle. Beim Schreiben
// werden fehlende Werte als leere Strings aufgefüllt, sodass jede Zeile dem
// Schema entspricht.
var csvColumnsBySource = map[string][]string{
	models.SourcePubMed: {"pmid", "title", "authors", "abstract", "journal", "pub_date", "doi", "url"},
	models.SourceArxiv:  {"arxiv_id", "title", "authors", "published", "primary_category", "pdf_url", "abstract"},
	models.SourceGIM:    {"title", "authors", "journal", "year", "publication_details", "database_info", "abstract", "subjects", "doc_id", "url"},
}

// ExportService schreibt Suchergebnisse als CSV-Dateien unter DataDir und
// spiegelt sie optional in einen S3-Bucket.
type ExportService struct {
	Config   *config.Config
	Logger   *zap.Logger
	S3Client *s3.Client
}

// NewExportService erstellt eine neue Instanz des ExportService. Der S3-Client
// darf nil sein, dann entfällt der Spiegel.
func NewExportService(cfg *config.Config, logger *zap.Logger, s3Client *s3.Client) *ExportService {
	return &ExportService{Config: cfg, Logger: logger, S3Client: s3Client}
}

// FilePath gibt den CSV-Pfad für eine Quelle zurück.
func (e *ExportService) FilePath(source string) string {
	return filepath.Join(e.Config.DataDir, source+"_results.csv")
}

// WriteBatch schreibt die Treffer eines Suchlaufs in die CSV der Quelle.
// Ein leerer Batch legt die Datei mit reiner Kopfzeile neu an, damit sichtbar
// bleibt, dass die Suche gelaufen ist. Ansonsten wird angehängt und die
// Kopfzeile nur bei einer neuen Datei geschrieben.
func (e *ExportService) WriteBatch(ctx context.Context, source string, papers []*models.Paper) (string, error) {
	columns, ok := csvColumnsBySource[source]
	if !ok {
		return "", fmt.Errorf("kein Export-Schema für Quelle %q", source)
	}
	if err := os.MkdirAll(e.Config.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("datenverzeichnis anlegen: %w", err)
	}
	path := e.FilePath(source)

	if len(papers) == 0 {
		if err := writeCSV(path, columns, nil, false); err != nil {
			return "", err
		}
		e.Logger.Info("Leere CSV mit Kopfzeile angelegt", zap.String("path", path))
		e.mirrorToS3(ctx, source, path)
		return path, nil
	}

	_, statErr := os.Stat(path)
	appendMode := statErr == nil

	rows := make([][]string, 0, len(papers))
	for _, p := range papers {
		rows = append(rows, csvRow(source, columns, p))
	}
	if err := writeCSV(path, columns, rows, appendMode); err != nil {
		return "", err
	}
	e.Logger.Info("CSV-Export geschrieben", zap.String("path", path), zap.Int("rows", len(rows)))
	e.mirrorToS3(ctx, source, path)
	return path, nil
}

// writeCSV schreibt Zeilen in die Datei. Im Append-Modus entfällt die
// Kopfzeile, sonst wird die Datei neu angelegt.
func writeCSV(path string, columns []string, rows [][]string, appendMode bool) error {
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("csv öffnen: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if !appendMode {
		if err := w.Write(columns); err != nil {
			return err
		}
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// csvRow baut eine Zeile im Spaltenschema der Quelle. Nicht belegte Spalten
// bleiben leere Strings.
func csvRow(source string, columns []string, p *models.Paper) []string {
	values := map[string]string{
		"title":    p.Title,
		"authors":  p.Authors,
		"abstract": p.Abstract,
		"url":      p.URL,
	}
	if p.PublishedAt != nil {
		values["pub_date"] = p.PublishedAt.Format("2006-01-02")
		values["published"] = p.PublishedAt.Format(time.RFC3339)
	}
	switch source {
	case models.SourcePubMed:
		values["pmid"] = p.SourceID
		values["journal"] = p.ExtraField("journal")
		values["doi"] = p.ExtraField("doi")
	case models.SourceArxiv:
		values["arxiv_id"] = p.SourceID
		values["primary_category"] = p.ExtraField("primary_category")
		values["pdf_url"] = p.ExtraField("pdf_url")
	case models.SourceGIM:
		values["journal"] = p.ExtraField("journal")
		values["year"] = p.ExtraField("year")
		values["publication_details"] = p.ExtraField("publication_details")
		values["database_info"] = p.ExtraField("database_info")
		values["subjects"] = p.ExtraField("subjects")
		values["doc_id"] = p.ExtraField("doc_id")
	}

	row := make([]string, len(columns))
	for i, col := range columns {
		row[i] = values[col]
	}
	return row
}

// mirrorToS3 lädt die CSV in den konfigurierten Bucket hoch. Fehler werden nur
// geloggt, der lokale Export gilt trotzdem als erfolgreich.
func (e *ExportService) mirrorToS3(ctx context.Context, source, path string) {
	if e.S3Client == nil || !e.Config.ExportS3Enabled() {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		e.Logger.Warn("CSV für S3-Spiegel nicht lesbar", zap.String("path", path), zap.Error(err))
		return
	}
	key := fmt.Sprintf("exports/%s_results.csv", source)
	link, err := storage.UploadFile(ctx, e.S3Client, e.Config.ExportS3Bucket, key, data, e.Config)
	if err != nil {
		e.Logger.Warn("S3-Spiegel fehlgeschlagen", zap.String("source", source), zap.Error(err))
		return
	}
	e.Logger.Info("Export nach S3 gespiegelt", zap.String("link", link))
}
