package services

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paper-scout/models"
)

// Ledger ist das globale Gedächtnis über alle jemals gesehenen Quell-IDs.
// Es arbeitet bewusst unabhängig von den Treffern einzelner Suchprofile:
// eine ID gilt als bekannt, sobald irgendeine Suche sie einmal geliefert hat.
type Ledger struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewLedger erstellt eine neue Instanz des Ledgers.
func NewLedger(db *gorm.DB, logger *zap.Logger) *Ledger {
	return &Ledger{DB: db, Logger: logger}
}

// IsKnown prüft, ob die Kombination aus Quelle und ID bereits registriert ist.
// Datenbankfehler werden geloggt und wie "unbekannt" behandelt, damit eine
// gestörte Ledger-Tabelle niemals Suchergebnisse unterdrückt.
func (l *Ledger) IsKnown(source, identifier string) bool {
	if identifier == "" {
		return false
	}
	var count int64
	err := l.DB.Model(&models.SeenRecord{}).
		Where("source = ? AND identifier = ?", source, identifier).
		Count(&count).Error
	if err != nil {
		l.Logger.Warn("Ledger-Abfrage fehlgeschlagen, ID wird als neu behandelt",
			zap.String("source", source), zap.String("identifier", identifier), zap.Error(err))
		return false
	}
	return count > 0
}

// RecordSeen registriert eine Quell-ID. Wiederholte Aufrufe für dieselbe
// Kombination sind erlaubt und laufen dank ON CONFLICT ins Leere.
func (l *Ledger) RecordSeen(source, identifier string) error {
	if identifier == "" {
		return nil
	}
	record := models.SeenRecord{Source: source, Identifier: identifier}
	return l.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
}
