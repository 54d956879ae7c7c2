// Package tokenizer turns book text into normalised terms. Chinese text has
// no spaces between words, so segmentation is dictionary driven (sego);
// ASCII letter and digit runs come out of the segmenter as single words and
// are lower-cased.
package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/huichen/sego"
)

// DefaultMinTokenRunes drops single-character terms, which carry little
// signal in Chinese synopses (的, 了, 是 ...).
const DefaultMinTokenRunes = 2

// Options configures a Tokenizer.
type Options struct {
	// DictionaryPath is one sego dictionary file, or several separated by
	// commas. Each line is "word frequency [pos]".
	DictionaryPath string

	// StopWordsPath optionally names a file with one stop word per line.
	StopWordsPath string

	// MinTokenRunes is the minimum term length in runes. Zero means
	// DefaultMinTokenRunes.
	MinTokenRunes int
}

// Tokenizer is safe for concurrent use once constructed.
type Tokenizer struct {
	segmenter *sego.Segmenter
	stopWords map[string]struct{}
	minRunes  int
}

// New loads the segmenter dictionary and stop words.
func New(opts Options) (*Tokenizer, error) {
	if opts.DictionaryPath == "" {
		return nil, fmt.Errorf("tokenizer: dictionary path is required")
	}
	// sego exits the process on a missing file, so check first.
	for _, path := range strings.Split(opts.DictionaryPath, ",") {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("tokenizer: dictionary %s: %w", path, err)
		}
	}
	minRunes := opts.MinTokenRunes
	if minRunes <= 0 {
		minRunes = DefaultMinTokenRunes
	}
	t := &Tokenizer{
		segmenter: new(sego.Segmenter),
		stopWords: make(map[string]struct{}),
		minRunes:  minRunes,
	}
	t.segmenter.LoadDictionary(opts.DictionaryPath)

	if opts.StopWordsPath != "" {
		if err := t.loadStopWords(opts.StopWordsPath); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Tokenize returns the ordered terms of text. Identical input always yields
// an identical sequence; empty input yields nil.
func (t *Tokenizer) Tokenize(text string) []string {
	text = normalize(text)
	if text == "" {
		return nil
	}
	segments := t.segmenter.Segment([]byte(text))
	tokens := make([]string, 0, len(segments))
	for _, segment := range segments {
		term := strings.TrimFunc(segment.Token().Text(), isNotWordRune)
		if utf8.RuneCountInString(term) < t.minRunes {
			continue
		}
		if strings.IndexFunc(term, unicode.IsSpace) >= 0 {
			continue
		}
		if _, isStop := t.stopWords[term]; isStop {
			continue
		}
		tokens = append(tokens, term)
	}
	if len(tokens) == 0 {
		return nil
	}
	return tokens
}

// IsStopWord reports whether term was listed in the stop-word file.
func (t *Tokenizer) IsStopWord(term string) bool {
	_, ok := t.stopWords[term]
	return ok
}

func (t *Tokenizer) loadStopWords(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("tokenizer: opening stop words %s: %w", path, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		word := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if word != "" {
			t.stopWords[word] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("tokenizer: reading stop words %s: %w", path, err)
	}
	return nil
}

// normalize lower-cases text and collapses every whitespace run to a single
// space.
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func isNotWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}
