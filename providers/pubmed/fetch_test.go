package pubmed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/query"
)

const esearchTwoIDs = `{"header":{"type":"esearch","version":"0.3"},"esearchresult":{"count":"2","retmax":"2","retstart":"0","idlist":["34567890","34567891"]}}`

const esearchEmpty = `{"header":{"type":"esearch","version":"0.3"},"esearchresult":{"count":"0","retmax":"0","retstart":"0","idlist":[]}}`

const efetchTwoArticles = `<?xml version="1.0" ?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID Version="1">34567890</PMID>
      <Article>
        <Journal>
          <JournalIssue>
            <PubDate><Year>2021</Year><Month>Mar</Month><Day>15</Day></PubDate>
          </JournalIssue>
          <Title>The Lancet</Title>
        </Journal>
        <ArticleTitle>mRNA vaccine efficacy against COVID-19.</ArticleTitle>
        <Abstract>
          <AbstractText>Background section.</AbstractText>
          <AbstractText>Results section.</AbstractText>
        </Abstract>
        <AuthorList>
          <Author><LastName>Doe</LastName><ForeName>Jane</ForeName><Initials>J</Initials></Author>
          <Author><LastName>Smith</LastName><ForeName>Alex</ForeName><Initials>A</Initials></Author>
        </AuthorList>
        <ELocationID EIdType="doi" ValidYN="Y">10.1000/lancet.2021.001</ELocationID>
      </Article>
    </MedlineCitation>
    <PubmedData>
      <History>
        <PubMedPubDate PubStatus="entrez"><Year>2021</Year><Month>3</Month><Day>10</Day></PubMedPubDate>
        <PubMedPubDate PubStatus="pubmed"><Year>2021</Year><Month>3</Month><Day>12</Day></PubMedPubDate>
      </History>
      <ArticleIdList>
        <ArticleId IdType="pubmed">34567890</ArticleId>
        <ArticleId IdType="doi">10.1000/lancet.2021.001</ArticleId>
      </ArticleIdList>
    </PubmedData>
  </PubmedArticle>
  <PubmedArticle>
    <MedlineCitation>
      <PMID Version="1">34567891</PMID>
      <Article>
        <Journal>
          <JournalIssue>
            <PubDate><Year>2020</Year></PubDate>
          </JournalIssue>
          <Title>Nature Medicine</Title>
        </Journal>
        <ArticleTitle>Sparse record without optional fields.</ArticleTitle>
      </Article>
    </MedlineCitation>
    <PubmedData>
      <ArticleIdList>
        <ArticleId IdType="pubmed">34567891</ArticleId>
      </ArticleIdList>
    </PubmedData>
  </PubmedArticle>
</PubmedArticleSet>`

const efetchMissingTitle = `<?xml version="1.0" ?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID Version="1">34567890</PMID>
      <Article>
        <ArticleTitle>Kept record.</ArticleTitle>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
  <PubmedArticle>
    <MedlineCitation>
      <PMID Version="1">34567891</PMID>
      <Article>
        <Journal><Title>Orphan Journal</Title></Journal>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
</PubmedArticleSet>`

// upstream is a fake E-Utilities endpoint that records the requests it serves.
type upstream struct {
	mu           sync.Mutex
	esearchCalls int
	efetchCalls  int
	esearchTerms []string
	efetchIDs    []string

	esearchBody   string
	efetchBody    string
	esearchFailN  int
	esearchStatus int
}

func (u *upstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.esearchCalls++
		u.esearchTerms = append(u.esearchTerms, r.URL.Query().Get("term"))
		fail := u.esearchCalls <= u.esearchFailN
		u.mu.Unlock()
		if fail {
			w.WriteHeader(u.esearchStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(u.esearchBody))
	})
	mux.HandleFunc("/efetch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.efetchCalls++
		u.efetchIDs = append(u.efetchIDs, r.URL.Query().Get("id"))
		u.mu.Unlock()
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(u.efetchBody))
	})
	return mux
}

type fakeLedger struct {
	known map[string]bool
}

func (l *fakeLedger) IsKnown(source, identifier string) bool {
	return l.known[source+"/"+identifier]
}

func (l *fakeLedger) RecordSeen(source, identifier string) error { return nil }

func newTestFetcher(t *testing.T, up *upstream, ledger *fakeLedger) (*Fetcher, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(up.handler())
	t.Cleanup(srv.Close)

	cfg := &config.Config{PubMedBaseURL: srv.URL}
	f := NewFetcher(cfg, zap.NewNop(), ledger)
	return f, srv
}

func TestSearchTwoPhase(t *testing.T) {
	up := &upstream{esearchBody: esearchTwoIDs, efetchBody: efetchTwoArticles}
	f, _ := newTestFetcher(t, up, nil)

	q := query.New().FieldTerm("COVID-19", "Title/Abstract").And().Wildcard("vaccin").Years(2020, 2023)
	papers, err := f.Search(context.Background(), q, 10)
	require.NoError(t, err)
	require.Len(t, papers, 2)

	assert.Equal(t, 1, up.esearchCalls)
	assert.Equal(t, 1, up.efetchCalls, "details must be fetched in a single batch")
	require.Len(t, up.esearchTerms, 1)
	assert.Equal(t, "COVID-19[Title/Abstract] AND vaccin* AND 2020:2023[dp]", up.esearchTerms[0])
	require.Len(t, up.efetchIDs, 1)
	assert.Equal(t, "34567890,34567891", up.efetchIDs[0])

	p := papers[0]
	assert.Equal(t, models.SourcePubMed, p.Source)
	assert.Equal(t, "34567890", p.SourceID)
	assert.Equal(t, "mRNA vaccine efficacy against COVID-19.", p.Title)
	assert.Equal(t, "Doe Jane, Smith Alex", p.Authors)
	assert.Equal(t, "Background section.\nResults section.", p.Abstract)
	assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/34567890/", p.URL)
	assert.Equal(t, "The Lancet", p.ExtraField("journal"))
	assert.Equal(t, "10.1000/lancet.2021.001", p.ExtraField("doi"))
	require.NotNil(t, p.PublishedAt)
	assert.Equal(t, "2021-03-12", p.PublishedAt.Format("2006-01-02"), "history entry with PubStatus pubmed wins over the journal date")

	sparse := papers[1]
	assert.Equal(t, "34567891", sparse.SourceID)
	assert.Equal(t, "", sparse.Authors)
	assert.Equal(t, "", sparse.Abstract)
	assert.Equal(t, "", sparse.ExtraField("doi"))
	require.NotNil(t, sparse.PublishedAt)
	assert.Equal(t, "2020-01-01", sparse.PublishedAt.Format("2006-01-02"), "year-only journal date falls back to January 1st")
}

func TestSearchEmptyResult(t *testing.T) {
	up := &upstream{esearchBody: esearchEmpty}
	f, _ := newTestFetcher(t, up, nil)

	papers, err := f.Search(context.Background(), query.Parse("no such thing"), 10)
	require.NoError(t, err)
	assert.Empty(t, papers)
	assert.Equal(t, 0, up.efetchCalls, "no detail fetch without hits")
}

func TestSearchLedgerFiltersBeforeDetails(t *testing.T) {
	up := &upstream{esearchBody: esearchTwoIDs, efetchBody: efetchTwoArticles}
	ledger := &fakeLedger{known: map[string]bool{"pubmed/34567890": true}}
	f, _ := newTestFetcher(t, up, ledger)

	papers, err := f.Search(context.Background(), query.Parse("covid"), 10)
	require.NoError(t, err)
	require.Len(t, up.efetchIDs, 1)
	assert.Equal(t, "34567891", up.efetchIDs[0], "known PMIDs must not reach the detail phase")
	// The fixture still returns both articles; the filter is about the request.
	assert.Len(t, papers, 2)
}

func TestSearchAllKnownSkipsDetails(t *testing.T) {
	up := &upstream{esearchBody: esearchTwoIDs}
	ledger := &fakeLedger{known: map[string]bool{"pubmed/34567890": true, "pubmed/34567891": true}}
	f, _ := newTestFetcher(t, up, ledger)

	papers, err := f.Search(context.Background(), query.Parse("covid"), 10)
	require.NoError(t, err)
	assert.Empty(t, papers)
	assert.Equal(t, 0, up.efetchCalls)
}

func TestSearchDropsRecordWithoutTitle(t *testing.T) {
	up := &upstream{esearchBody: esearchTwoIDs, efetchBody: efetchMissingTitle}
	f, _ := newTestFetcher(t, up, nil)

	papers, err := f.Search(context.Background(), query.Parse("covid"), 10)
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "Kept record.", papers[0].Title)
}

func TestSearchRetriesTransientError(t *testing.T) {
	up := &upstream{esearchBody: esearchEmpty, esearchFailN: 1, esearchStatus: http.StatusInternalServerError}
	f, _ := newTestFetcher(t, up, nil)
	f.policy.BaseDelay = time.Millisecond
	f.policy.MaxDelay = 5 * time.Millisecond

	_, err := f.Search(context.Background(), query.Parse("covid"), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, up.esearchCalls, "first attempt fails, second succeeds")
}

func TestSearchSinceAppendsDateWindow(t *testing.T) {
	up := &upstream{esearchBody: esearchEmpty}
	f, _ := newTestFetcher(t, up, nil)

	since := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	_, err := f.SearchSince(context.Background(), query.Parse("covid"), since, 10)
	require.NoError(t, err)
	require.Len(t, up.esearchTerms, 1)
	assert.Equal(t, "covid AND 2024/01/15:3000[dp]", up.esearchTerms[0])
}

func TestSearchTruncatesToMax(t *testing.T) {
	up := &upstream{esearchBody: esearchTwoIDs, efetchBody: efetchTwoArticles}
	f, _ := newTestFetcher(t, up, nil)

	_, err := f.Search(context.Background(), query.Parse("covid"), 1)
	require.NoError(t, err)
	require.Len(t, up.efetchIDs, 1)
	assert.Equal(t, "34567890", up.efetchIDs[0])
}

func TestParsePubDateMonthNames(t *testing.T) {
	cases := []struct {
		year, month, day string
		want             string
	}{
		{"2021", "Mar", "15", "2021-03-15"},
		{"2021", "3", "15", "2021-03-15"},
		{"2020", "", "", "2020-01-01"},
		{"2019", "Dec", "", "2019-12-01"},
	}
	for _, tc := range cases {
		got := parsePubDate(tc.year, tc.month, tc.day)
		require.NotNil(t, got, "case %s-%s-%s", tc.year, tc.month, tc.day)
		assert.Equal(t, tc.want, got.Format("2006-01-02"))
	}
	assert.Nil(t, parsePubDate("", "Mar", "15"), "no year means no date")
}
