// Package search does accent-insensitive matching over the service catalog.
package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"ckdt/internal/domain"
)

// Fold lowercases s and strips diacritics: "Habilitação" -> "habilitacao".
func Fold(s string) string {
	if s == "" {
		return s
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// ParseCategory resolves user input such as "veiculo" or "INFRAÇÕES" to a
// catalog category.
func ParseCategory(s string) (domain.Category, bool) {
	key := Fold(s)
	if key == "" {
		return "", false
	}
	for _, c := range domain.Categories {
		if Fold(string(c)) == key {
			return c, true
		}
	}
	return "", false
}

// Tokens splits a query into folded words.
func Tokens(query string) []string {
	return strings.FieldsFunc(Fold(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Match reports whether every query token occurs in the service title,
// description, category or, when loaded, its section titles and item texts.
func Match(svc domain.Service, query string) bool {
	tokens := Tokens(query)
	if len(tokens) == 0 {
		return true
	}
	haystack := Fold(document(svc))
	for _, tok := range tokens {
		if !strings.Contains(haystack, tok) {
			return false
		}
	}
	return true
}

func document(svc domain.Service) string {
	var b strings.Builder
	b.WriteString(svc.Title)
	b.WriteByte(' ')
	b.WriteString(svc.Description)
	b.WriteByte(' ')
	b.WriteString(string(svc.Category))
	for _, s := range svc.Sections {
		b.WriteByte(' ')
		b.WriteString(s.Title)
		for _, it := range s.Items {
			b.WriteByte(' ')
			b.WriteString(it.Text)
		}
	}
	return b.String()
}

// Filter keeps the services matching query, preserving order.
func Filter(services []domain.Service, query string) []domain.Service {
	if len(Tokens(query)) == 0 {
		return services
	}
	var out []domain.Service
	for _, svc := range services {
		if Match(svc, query) {
			out = append(out, svc)
		}
	}
	return out
}
