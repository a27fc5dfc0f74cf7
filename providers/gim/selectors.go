package gim

import "strings"

// Das Portal ändert sein Markup gelegentlich, deshalb arbeiten alle Schritte
// mit Kandidatenlisten und nehmen den ersten Selektor, der Treffer liefert.

var searchInputSelectors = []string{
	`input.form-control[name="q"]`,
	`input[type="search"]`,
	`input.searchBox`,
	`#searchForm input[type="text"]`,
}

var searchButtonSelectors = []string{
	`button.searchButton`,
	`button[type="submit"]`,
	`input[type="submit"]`,
	`#searchForm button`,
}

var resultContainerSelectors = []string{
	`.results`,
	`.resultRow`,
	`.media-list`,
	`.searchResults`,
	`article.post`,
	`.item`,
}

// Primärer Selektor für einzelne Treffer; die Liste dahinter ist die
// Rückfallebene der statischen Analyse.
const resultItemSelector = `.box1[data-test="result_resource_item"]`

var fallbackItemSelectors = []string{
	`.results .item`,
	`.media-list > div`,
	`.resultRow`,
	`.searchResults li`,
	`.record`,
	`.result`,
	`article.post`,
	`.searchResultItem`,
	`div[id^="doc"]`,
	`.document`,
}

var nextPageSelectors = []string{
	`a.next`,
	`a[rel="next"]`,
}

// Link-Texte, die keine Treffer sind, sondern Navigation.
var titleDenyList = []string{
	"list items",
	"clear list",
	"page",
	"next",
	"previous",
	"javascript:",
	"go to",
	"login",
	"register",
	"sign in",
	"sign up",
}

const minTitleLength = 5

var noResultsMarkers = []string{
	"no results",
	"no documents found",
	"your search did not match",
	"try different keywords",
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// toggleDetailsJS aktiviert den globalen "See more details"-Schalter, falls er
// noch nicht an ist. Liefert den Zustand nach dem Klick.
const toggleDetailsJS = `(() => {
	const toggle = document.getElementById('showDetailSwitch') || document.querySelector('.custom-control-input');
	if (toggle) {
		if (!toggle.checked) { toggle.click(); }
		return true;
	}
	const label = document.querySelector('label[for="showDetailSwitch"]');
	if (label) { label.click(); return true; }
	return false;
})()`

// expandItemsJS klickt die Detail-Schalter einzelner Treffer an, falls der
// globale Schalter keine Abstracts sichtbar gemacht hat.
const expandItemsJS = `(() => {
	const els = document.querySelectorAll('a.showDetails, button.showDetails, .toggle-details, .show-more');
	els.forEach(el => el.click());
	return els.length;
})()`

// setPageSizeJS nutzt die portaleigene Funktion für die Trefferzahl pro Seite.
const setPageSizeJS = `change_count('100')`

func isChallenge(html string) bool {
	return strings.Contains(strings.ToLower(html), "captcha")
}

func hasNoResultsMarker(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range noResultsMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isDeniedTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, deny := range titleDenyList {
		if strings.Contains(lower, deny) {
			return true
		}
	}
	return false
}
