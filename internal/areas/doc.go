// Package areas matches free text against topic areas.
//
// Scoring adds TokenWeight for every query word contained in the area's
// instructions and KeywordWeight for every lexicon keyword starting a query word when
// the area's name contains that lexicon domain's fragment. Text is compared
// lowercased and without accents. BestMatch only accepts scores above
// AcceptThreshold.
package areas
