package models

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Zulässige Prüfintervalle einer gespeicherten Suche.
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// SavedSearch repräsentiert eine gespeicherte Suche, die zyklisch erneut
// ausgeführt wird, um neue Publikationen zu erkennen.
type SavedSearch struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name string `json:"name" gorm:"not null"`

	// Bereits gebaute Query im PubMed-Stil; wird pro Quelle übersetzt.
	Query string `json:"query" gorm:"type:text;not null"`

	// Opaque Suchparameter (max_results, start_year, end_year).
	Parameters datatypes.JSON `json:"parameters,omitempty" gorm:"type:jsonb"`

	// Kommaseparierte Quellenliste, z.B. "pubmed,arxiv".
	Sources string `json:"sources" gorm:"default:'pubmed'"`

	Frequency string `json:"frequency" gorm:"index;default:'monthly'"`
	Active    bool   `json:"active" gorm:"index;default:true"`

	// Wasserstand der inkrementellen Erkennung: Beginn des letzten Laufs.
	LastCheckedAt time.Time `json:"last_checked_at"`

	NotifyEmail string `json:"notify_email,omitempty"`

	Results []SearchResult `json:"-" gorm:"constraint:OnDelete:CASCADE"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (SavedSearch) TableName() string {
	return "saved_searches"
}

// SearchParams entpackt den Parameter-Blob einer gespeicherten Suche.
type SearchParams struct {
	MaxResults int `json:"max_results,omitempty"`
	StartYear  int `json:"start_year,omitempty"`
	EndYear    int `json:"end_year,omitempty"`
}

// SourceList zerlegt die kommaseparierte Quellenliste in Einzelnamen.
func (s *SavedSearch) SourceList() []string {
	var out []string
	for _, part := range strings.Split(s.Sources, ",") {
		if name := strings.TrimSpace(strings.ToLower(part)); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Params liest die Suchparameter; ein leerer oder kaputter Blob liefert Defaults.
func (s *SavedSearch) Params() SearchParams {
	var p SearchParams
	if len(s.Parameters) == 0 {
		return p
	}
	if err := json.Unmarshal(s.Parameters, &p); err != nil {
		return SearchParams{}
	}
	return p
}
