package models

import (
	"time"
)

// SearchResult speichert einen Treffer, der für eine gespeicherte Suche als
// neu erkannt wurde. Der zusammengesetzte Unique-Index stellt sicher, dass
// dieselbe Publikation für dieselbe Suche höchstens einmal angelegt wird.
type SearchResult struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SavedSearchID uint   `json:"saved_search_id" gorm:"index:idx_search_results_identity,unique;not null"`
	Source        string `json:"source" gorm:"index:idx_search_results_identity,unique;size:32;not null"`
	PaperID       string `json:"paper_id" gorm:"index:idx_search_results_identity,unique;size:512;not null"`

	Title    string `json:"title" gorm:"not null"`
	Authors  string `json:"authors,omitempty" gorm:"type:text"`
	Abstract string `json:"abstract,omitempty" gorm:"type:text"`
	URL      string `json:"url,omitempty"`

	PublishedAt *time.Time `json:"published_at,omitempty"`
	FoundAt     time.Time  `json:"found_at"`

	// Status-Workflow
	IsNew      bool `json:"is_new" gorm:"index;default:true"`
	IsNotified bool `json:"is_notified" gorm:"default:false"`
	IsRead     bool `json:"is_read" gorm:"default:false"`
}

// TableName gibt explizit den Tabellennamen an.
func (SearchResult) TableName() string {
	return "search_results"
}
