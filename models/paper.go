package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Kennungen der angebundenen Literaturquellen.
const (
	SourcePubMed = "pubmed"
	SourceArxiv  = "arxiv"
	SourceGIM    = "gim"
)

// Paper repräsentiert einen normalisierten Treffer aus einer der angebundenen Quellen.
type Paper struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Quelle + quellenspezifischer Identifier bilden den eindeutigen Schlüssel.
	Source   string `json:"source" gorm:"index:idx_papers_identity,unique;size:32;not null"`
	SourceID string `json:"source_id" gorm:"index:idx_papers_identity,unique;size:512;not null"`

	Title    string `json:"title" gorm:"not null"`
	Authors  string `json:"authors,omitempty" gorm:"type:text"`
	Abstract string `json:"abstract,omitempty" gorm:"type:text"`
	URL      string `json:"url,omitempty"`

	PublishedAt *time.Time `json:"published_at,omitempty"`

	// Quellenspezifische Zusatzfelder (Journal, DOI, Kategorien, Subjects ...),
	// damit das gemeinsame Schema schlank bleibt, aber nichts verloren geht.
	Extra datatypes.JSON `json:"extra,omitempty" gorm:"type:jsonb"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Paper) TableName() string {
	return "papers"
}

// NewExtra serialisiert quellenspezifische Zusatzfelder für die Extra-Spalte.
func NewExtra(fields map[string]string) datatypes.JSON {
	if len(fields) == 0 {
		return nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// ExtraField liest ein einzelnes Zusatzfeld; unbekannte Schlüssel liefern "".
func (p *Paper) ExtraField(key string) string {
	if len(p.Extra) == 0 {
		return ""
	}
	var fields map[string]string
	if err := json.Unmarshal(p.Extra, &fields); err != nil {
		return ""
	}
	return fields[key]
}
