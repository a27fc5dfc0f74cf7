package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringBuildsPubMedSyntax(t *testing.T) {
	q := New().
		FieldTerm("COVID-19", "Title/Abstract").
		And().
		Wildcard("vaccin").
		Years(2020, 2023)

	assert.Equal(t, "COVID-19[Title/Abstract] AND vaccin* AND 2020:2023[dp]", q.String())
}

func TestStringEmptyQuery(t *testing.T) {
	assert.Equal(t, "", New().String())
	assert.True(t, New().IsEmpty())
}

func TestStringYearsOnly(t *testing.T) {
	assert.Equal(t, "2020:2023[dp]", New().Years(2020, 2023).String())
	assert.Equal(t, "2020:3000[dp]", New().Years(2020, 0).String())
	assert.Equal(t, "1800:2023[dp]", New().Years(0, 2023).String())
}

func TestOperatorsNeverConsecutive(t *testing.T) {
	q := New().And().Term("a").Or().Or().And().Term("b")
	assert.Equal(t, "a OR b", q.String())
}

func TestParseRoundTrip(t *testing.T) {
	q := Parse("COVID-19[Title/Abstract] AND vaccin* AND 2020:2023[dp]")

	require.True(t, q.HasTerms())
	assert.Equal(t, "COVID-19[Title/Abstract] AND vaccin* AND 2020:2023[dp]", q.String())
}

func TestParseQuotedPhrase(t *testing.T) {
	q := Parse(`"machine learning"[tiab] AND covid`)

	assert.Equal(t, "machine learning[tiab] AND covid", q.String())
}

func TestParseBracketedFieldWithSpace(t *testing.T) {
	q := Parse("asthma[MeSH Terms] AND children")

	assert.Equal(t, "asthma[MeSH Terms] AND children", q.String())
}

func TestParseDropsDanglingOperators(t *testing.T) {
	q := Parse("covid AND 2020:2023[dp]")

	assert.Equal(t, "covid AND 2020:2023[dp]", q.String())

	q = Parse("AND covid OR")
	assert.Equal(t, "covid", q.String())
}

func TestParseSingleYearFilter(t *testing.T) {
	q := Parse("covid AND 2021[dp]")

	assert.Equal(t, "covid AND 2021:2021[dp]", q.String())
}

func TestForPubMedPassesRawTextThrough(t *testing.T) {
	raw := `(heart OR lung) AND cancer[Title/Abstract]`
	q := Parse(raw)

	// Klammerung der Eingabe bleibt für PubMed erhalten.
	assert.Equal(t, raw, ForPubMed(q))
}

func TestForPubMedAppendsYearsWhenMissing(t *testing.T) {
	q := Parse("covid").Years(2020, 2023)

	assert.Equal(t, "covid AND 2020:2023[dp]", ForPubMed(q))
}

func TestForPubMedKeepsExistingDateFilter(t *testing.T) {
	raw := "covid AND 2020:2023[dp]"
	q := Parse(raw)

	assert.Equal(t, raw, ForPubMed(q))
}

func TestForArxivNeverContainsDp(t *testing.T) {
	q := Parse("COVID-19[Title/Abstract] AND vaccin* AND 2020:2023[dp]")

	got := ForArxiv(q)
	assert.Equal(t, "all:COVID-19 AND all:vaccin AND submittedDate:[202001010000 TO 202312312400]", got)
	assert.NotContains(t, got, "[dp]")
}

func TestForArxivFieldPrefixes(t *testing.T) {
	tests := []struct {
		name  string
		query *Query
		want  string
	}{
		{"title", New().FieldTerm("transformers", "Title"), "ti:transformers"},
		{"author", New().FieldTerm("Vaswani", "au"), "au:Vaswani"},
		{"journal", New().FieldTerm("Nature", "Journal"), "jr:Nature"},
		{"unmapped field", New().FieldTerm("asthma", "MeSH Terms"), "all:asthma"},
		{"no field", New().Term("attention"), "all:attention"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ForArxiv(tt.query))
		})
	}
}

func TestForArxivQuotesPhrases(t *testing.T) {
	q := New().FieldTerm("machine learning", "Title")

	assert.Equal(t, `ti:"machine learning"`, ForArxiv(q))
}

func TestForArxivParenthesizesEmbeddedOperators(t *testing.T) {
	// Anführungszeichen würden den Teilausdruck wörtlich machen.
	q := New().Term("heart AND lung")

	assert.Equal(t, "all:(heart AND lung)", ForArxiv(q))
}

func TestForArxivRendersNotAsAndnot(t *testing.T) {
	q := New().Term("neoplasms").Not().Term("mice")

	assert.Equal(t, "all:neoplasms ANDNOT all:mice", ForArxiv(q))
}

func TestForArxivInsertsImplicitAnd(t *testing.T) {
	q := New().Term("covid").Term("vaccine")

	assert.Equal(t, "all:covid AND all:vaccine", ForArxiv(q))
}

func TestForArxivStripsWildcardStar(t *testing.T) {
	q := New().Wildcard("vaccin")

	assert.Equal(t, "all:vaccin", ForArxiv(q))
}

func TestForArxivSinceWindow(t *testing.T) {
	q := Parse("covid AND 2020:2023[dp]")
	since := time.Date(2024, 8, 15, 10, 30, 0, 0, time.UTC)
	until := time.Date(2024, 8, 22, 9, 0, 0, 0, time.UTC)

	got := ForArxivSince(q, since, until)
	assert.Equal(t, "all:covid AND submittedDate:[202408150000 TO 202408222400]", got)
	assert.NotContains(t, got, "[dp]")
}

func TestForGIMBucketsPlainTerms(t *testing.T) {
	q := Parse("covid AND vaccine AND booster")

	// Höchstens zwei einfache Terme, per OR gruppiert.
	assert.Equal(t, "(covid OR vaccine)", ForGIM(q))
}

func TestForGIMSingleTerm(t *testing.T) {
	assert.Equal(t, "covid", ForGIM(Parse("covid")))
}

func TestForGIMCombinesWildcardGroup(t *testing.T) {
	q := Parse("covid AND vaccine AND immuni*")

	assert.Equal(t, "(covid OR vaccine) AND (immuni*)", ForGIM(q))
}

func TestForGIMWildcardsOnly(t *testing.T) {
	assert.Equal(t, "immuni*", ForGIM(Parse("immuni*")))
	assert.Equal(t, "(immuni* AND vaccin*)", ForGIM(Parse("immuni* AND vaccin*")))
}

func TestForGIMFallsBackToStrippedRawText(t *testing.T) {
	// Nur ein Datumsfilter: die Gruppierung liefert nichts, also bleibt der
	// tag-befreite Originaltext übrig.
	q := Parse("2020:2023[dp]")

	assert.Equal(t, "2020:2023", ForGIM(q))
}

func TestStripTags(t *testing.T) {
	got := StripTags(`COVID-19[Title/Abstract] AND "vaccine hesitancy"`)

	assert.Equal(t, "COVID-19 AND vaccine hesitancy", got)
}

func TestHasWildcards(t *testing.T) {
	assert.False(t, Parse("covid").HasWildcards())
	assert.True(t, Parse("covid AND vaccin*").HasWildcards())
}

func TestTranslatorsNonEmptyForTerms(t *testing.T) {
	q := Parse("covid AND vaccine")

	assert.NotEmpty(t, q.String())
	assert.NotEmpty(t, ForArxiv(q))
	assert.NotEmpty(t, ForGIM(q))
}
