package chunker

import (
	"regexp"
	"strings"

	"github.com/kljensen/snowball/english"
)

var (
	// tokenRe matches a run of word characters or a single punctuation mark.
	tokenRe = regexp.MustCompile(`[\p{L}\p{N}_]+|[^\p{L}\p{N}_\s]`)

	linkRe      = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	markupRe    = regexp.MustCompile("[#*`_~]")
	nonProseRe  = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?;:\-]`)
	nonWordRe   = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	spaceRe     = regexp.MustCompile(`\s+`)
	dateRe      = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	lexicalWord = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

// dateScanWindow is how far into a document the last-updated date is looked for.
const dateScanWindow = 500

// CountTokens returns the number of word and punctuation tokens in s.
// It is a deterministic proxy for model tokens and grows with the text.
func CountTokens(s string) int {
	return len(tokenRe.FindAllStringIndex(s, -1))
}

// NormalizeForEmbedding strips markdown markup from s while keeping it
// readable: link targets are dropped, emphasis and header markers removed,
// symbols outside sentence punctuation replaced and whitespace collapsed.
func NormalizeForEmbedding(s string) string {
	s = linkRe.ReplaceAllString(s, "$1")
	s = markupRe.ReplaceAllString(s, "")
	s = nonProseRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// LexicalText returns the space-joined term list stored in the full-text
// index for s. The same transform is applied to queries so both sides of a
// MATCH agree on stemming and stopwords.
func LexicalText(s string) string {
	return strings.Join(LexicalTerms(s), " ")
}

// LexicalTerms lowercases s, drops punctuation, stopwords and tokens of two
// characters or fewer, and stems what remains.
func LexicalTerms(s string) []string {
	s = nonWordRe.ReplaceAllString(strings.ToLower(s), " ")
	words := lexicalWord.FindAllString(s, -1)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) <= 2 || stopwords[w] {
			continue
		}
		terms = append(terms, english.Stem(w, false))
	}
	return terms
}

// ExtractDate returns the first YYYY-MM-DD date found near the top of text,
// or "" when there is none.
func ExtractDate(text string) string {
	head := text
	if len(head) > dateScanWindow {
		head = head[:dateScanWindow]
	}
	return dateRe.FindString(head)
}

// stopwords is the English stopword list used for lexical indexing.
var stopwords = toSet(`i me my myself we our ours ourselves you you're you've you'll you'd
your yours yourself yourselves he him his himself she she's her hers herself it it's its
itself they them their theirs themselves what which who whom this that that'll these those
am is are was were be been being have has had having do does did doing a an the and but if
or because as until while of at by for with about against between into through during
before after above below to from up down in out on off over under again further then once
here there when where why how all any both each few more most other some such no nor not
only own same so than too very s t can will just don don't should should've now d ll m o re
ve y ain aren aren't couldn couldn't didn didn't doesn doesn't hadn hadn't hasn hasn't haven
haven't isn isn't ma mightn mightn't mustn mustn't needn needn't shan shan't shouldn
shouldn't wasn wasn't weren weren't won won't wouldn wouldn't`)

func toSet(words string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		set[w] = true
	}
	return set
}
