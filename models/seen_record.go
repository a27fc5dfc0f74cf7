package models

import (
	"time"
)

// SeenRecord protokolliert bereits gesehene Identifier je Quelle. Das Ledger
// verhindert, dass eine Publikation bei Ad-hoc-Suchen mehrfach als neu
// gespeichert wird.
type SeenRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	Source     string `json:"source" gorm:"index:idx_seen_records_identity,unique;size:32;not null"`
	Identifier string `json:"identifier" gorm:"index:idx_seen_records_identity,unique;size:512;not null"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (SeenRecord) TableName() string {
	return "seen_records"
}
