package tools

import (
	"strings"
	"unicode"
)

// Words that introduce a place in travel queries ("3 days in Goa", "trip to Paris").
var placePrepositions = map[string]bool{
	"in": true, "to": true, "at": true, "visit": true, "visiting": true,
	"around": true, "near": true, "into": true, "towards": true,
}

// Words that end a place name once one has started.
var placeTerminators = map[string]bool{
	"for": true, "on": true, "from": true, "next": true, "this": true, "during": true,
	"in": true, "with": true, "and": true, "tomorrow": true, "today": true, "tonight": true,
	"between": true, "until": true, "over": true, "starting": true, "by": true, "at": true,
	"to": true, "week": true, "weekend": true, "days": true, "day": true,
}

// Capitalized words that are never destinations on their own.
var notPlaces = map[string]bool{
	"i": true, "what": true, "what's": true, "how": true, "is": true, "will": true,
	"plan": true, "weather": true, "trip": true, "the": true, "show": true, "tell": true,
	"give": true, "please": true, "can": true, "could": true, "should": true, "my": true,
	"a": true, "an": true, "we": true, "it": true, "going": true, "find": true, "get": true,
	"january": true, "february": true, "march": true, "april": true, "may": true, "june": true,
	"july": true, "august": true, "september": true, "october": true, "november": true, "december": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true, "friday": true,
	"saturday": true, "sunday": true, "next": true, "this": true,
	"go": true, "travel": true, "fly": true, "be": true, "see": true, "stay": true, "head": true,
}

// Lower-case words allowed inside a capitalized place name ("Rio de Janeiro").
var placeConnectors = map[string]bool{
	"de": true, "da": true, "del": true, "della": true, "do": true, "dos": true,
	"la": true, "le": true, "les": true, "of": true, "el": true, "al": true,
	"van": true, "von": true, "y": true,
}

var leadingArticles = map[string]bool{"the": true, "a": true, "an": true}

// ExtractDestination pulls a destination out of a free-text travel request.
// It returns "" when no plausible place is found.
func ExtractDestination(query string) string {
	words := strings.Fields(query)
	// Mixed-case queries are expected to capitalize place names.
	requireCapital := strings.IndexFunc(query, unicode.IsUpper) >= 0
	for i, w := range words {
		if !placePrepositions[strings.ToLower(bare(w))] || endsClause(w) {
			continue
		}
		if place := collectPlace(words[i+1:], requireCapital); place != "" {
			return place
		}
	}
	return capitalizedRun(words)
}

// collectPlace reads words until a terminator, a number or sentence punctuation.
func collectPlace(words []string, requireCapital bool) string {
	var parts []string
	for _, w := range words {
		b := bare(w)
		lower := strings.ToLower(b)
		if b == "" || startsWithDigit(b) {
			break
		}
		if len(parts) == 0 && leadingArticles[lower] {
			continue
		}
		if placeTerminators[lower] {
			break
		}
		if len(parts) == 0 && notPlaces[lower] {
			return ""
		}
		if requireCapital && !upperFirst(b) {
			if len(parts) == 0 {
				return ""
			}
			if !placeConnectors[lower] {
				break
			}
		}
		parts = append(parts, strings.TrimRightFunc(w, isSentencePunct))
		if endsClause(w) {
			break
		}
	}
	return trimPlace(parts)
}

// capitalizedRun returns the first run of capitalized words that are not
// question words or calendar names.
func capitalizedRun(words []string) string {
	var parts []string
	for _, w := range words {
		b := bare(w)
		capital := upperFirst(b) && !notPlaces[strings.ToLower(b)]
		if !capital {
			if len(parts) > 0 {
				break
			}
			continue
		}
		parts = append(parts, strings.TrimRightFunc(w, isSentencePunct))
		if endsClause(w) {
			break
		}
	}
	return trimPlace(parts)
}

// trimPlace joins parts, dropping trailing connectors and commas.
func trimPlace(parts []string) string {
	for len(parts) > 0 && placeConnectors[strings.ToLower(bare(parts[len(parts)-1]))] {
		parts = parts[:len(parts)-1]
	}
	return strings.TrimRight(strings.Join(parts, " "), ", ")
}

func bare(w string) string {
	return strings.TrimFunc(w, func(r rune) bool {
		return unicode.IsPunct(r) && r != '\'' && r != '-'
	})
}

func isSentencePunct(r rune) bool {
	return r == '.' || r == '?' || r == '!' || r == ';' || r == ':' || r == '"' || r == ')'
}

func endsClause(w string) bool {
	return strings.IndexFunc(w, isSentencePunct) >= 0
}

func startsWithDigit(s string) bool {
	return s != "" && unicode.IsDigit([]rune(s)[0])
}

func upperFirst(s string) bool {
	return s != "" && unicode.IsUpper([]rune(s)[0])
}
