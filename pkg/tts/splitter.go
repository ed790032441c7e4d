package tts

import (
	"strings"
	"unicode"
)

// abbreviations whose trailing period must not end a sentence
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "vs": true, "etc": true, "inc": true,
	"ltd": true, "co": true, "corp": true, "st": true, "ave": true,
	"blvd": true, "rd": true, "apt": true, "dept": true, "est": true,
	"vol": true, "rev": true, "gen": true, "col": true, "lt": true,
	"sgt": true, "capt": true, "cmdr": true, "adm": true, "gov": true,
	"pres": true, "sen": true, "rep": true, "hon": true,
	"jan": true, "feb": true, "mar": true, "apr": true, "jun": true,
	"jul": true, "aug": true, "sep": true, "oct": true, "nov": true,
	"dec": true, "mon": true, "tue": true, "wed": true, "thu": true,
	"fri": true, "sat": true, "sun": true,
	"i.e": true, "e.g": true, "cf": true, "al": true, "approx": true,
	"govt": true, "univ": true, "assn": true,
}

// conjunctions that mark natural break points inside long sentences
var conjunctions = map[string]bool{
	"and": true, "but": true, "or": true, "so": true,
	"because": true, "however": true, "therefore": true,
}

// SplitSentences splits text into sentence chunks for progressive
// synthesis. Sentences shorter than minChunk characters are merged with the
// following one so the engine is not fed one-word fragments.
func SplitSentences(text string, minChunk int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	var sentences []string
	start := 0

	emit := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		if r == '.' {
			// Ellipsis runs never end a sentence
			if (i+1 < len(runes) && runes[i+1] == '.') || (i > 0 && runes[i-1] == '.') {
				continue
			}
			// Decimal numbers like 3.14 or $5.99
			if i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
				continue
			}
			if isAbbreviation(runes, start, i) {
				continue
			}
		}

		if i+1 == len(runes) {
			emit(i + 1)
			start = i + 1
			continue
		}
		if !unicode.IsSpace(runes[i+1]) {
			continue
		}

		// Split only before a capitalized continuation, matching how
		// real sentences resume after terminal punctuation
		k := i + 1
		for k < len(runes) && unicode.IsSpace(runes[k]) {
			k++
		}
		if k < len(runes) && unicode.IsUpper(runes[k]) {
			emit(i + 1)
			start = k
			i = k - 1
		}
	}
	if start < len(runes) {
		emit(len(runes))
	}

	return mergeShort(sentences, minChunk)
}

// SplitForTTS splits text for synthesis, further breaking sentences longer
// than maxChunk characters on commas, semicolons and conjunctions
func SplitForTTS(text string, maxChunk int) []string {
	const minChunk = 15
	if maxChunk <= 0 {
		maxChunk = 200
	}

	var chunks []string
	for _, sentence := range SplitSentences(text, minChunk) {
		if len(sentence) <= maxChunk {
			chunks = append(chunks, sentence)
			continue
		}
		chunks = append(chunks, splitLongSentence(sentence, maxChunk)...)
	}
	return chunks
}

func isAbbreviation(runes []rune, start, periodIdx int) bool {
	// Walk back over the word before the period, allowing interior dots
	// for forms like i.e and e.g
	end := periodIdx
	begin := end
	for begin > start {
		r := runes[begin-1]
		if unicode.IsLetter(r) || r == '.' {
			begin--
			continue
		}
		break
	}
	if begin == end {
		return false
	}
	word := strings.ToLower(strings.TrimPrefix(string(runes[begin:end]), "."))
	return abbreviations[word]
}

func mergeShort(sentences []string, minChunk int) []string {
	var merged []string
	buffer := ""
	for _, s := range sentences {
		if buffer != "" {
			buffer = buffer + " " + s
		} else {
			buffer = s
		}
		if len(buffer) >= minChunk {
			merged = append(merged, buffer)
			buffer = ""
		}
	}
	if buffer != "" {
		if len(merged) > 0 {
			merged[len(merged)-1] = merged[len(merged)-1] + " " + buffer
		} else {
			merged = append(merged, buffer)
		}
	}
	return merged
}

func splitLongSentence(sentence string, maxChunk int) []string {
	words := strings.Fields(sentence)

	var parts []string
	var part []string
	for i, word := range words {
		if len(part) > 0 && (conjunctions[strings.ToLower(word)] ||
			strings.HasSuffix(words[i-1], ",") || strings.HasSuffix(words[i-1], ";")) {
			parts = append(parts, strings.Join(part, " "))
			part = part[:0]
		}
		part = append(part, word)
	}
	if len(part) > 0 {
		parts = append(parts, strings.Join(part, " "))
	}

	// Re-merge adjacent parts while they fit
	var chunks []string
	current := ""
	for _, p := range parts {
		if current == "" {
			current = p
			continue
		}
		if len(current)+len(p)+1 <= maxChunk {
			current = current + " " + p
		} else {
			chunks = append(chunks, current)
			current = p
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}
