package knowledge

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// stopWords 关键词提取用的停用词表（英文常用词）
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true, "has": true,
	"have": true, "he": true, "her": true, "his": true, "if": true, "in": true,
	"into": true, "is": true, "it": true, "its": true, "no": true, "not": true,
	"of": true, "on": true, "or": true, "she": true, "so": true, "such": true,
	"that": true, "the": true, "their": true, "then": true, "there": true,
	"these": true, "they": true, "this": true, "to": true, "was": true,
	"we": true, "were": true, "which": true, "will": true, "with": true,
	"you": true, "your": true, "can": true, "do": true, "does": true,
	"about": true, "after": true, "all": true, "also": true, "any": true,
	"been": true, "before": true, "between": true, "both": true, "each": true,
	"more": true, "most": true, "other": true, "some": true, "than": true,
	"when": true, "where": true, "who": true, "how": true, "what": true,
	"would": true, "should": true, "could": true, "may": true, "might": true,
}

// Tokenize 把文本切分为小写词元。
// BM25与关键词提取共用同一套分词，保证统计口径一致。
func Tokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, strings.ToLower(current.String()))
			current.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.IsLetter(r) && !isCJK(r), unicode.IsDigit(r):
			current.WriteRune(r)
		case isCJK(r):
			// 中日韩字符逐字成词
			flush()
			tokens = append(tokens, string(r))
		default:
			flush()
		}
	}
	flush()

	return tokens
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

// ExtractKeywords 基于词频的关键词提取：
// 过滤停用词与单字符词后，取出现频率最高的maxKeywords个词。
func ExtractKeywords(text string, maxKeywords int) []string {
	if maxKeywords <= 0 {
		return nil
	}

	freq := make(map[string]int)
	for _, token := range Tokenize(text) {
		if stopWords[token] {
			continue
		}
		if utf8.RuneCountInString(token) < 2 && !isCJKWord(token) {
			continue
		}
		freq[token]++
	}

	terms := make([]string, 0, len(freq))
	for term := range freq {
		terms = append(terms, term)
	}
	// 频率降序，同频按字典序保证确定性
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] == freq[terms[j]] {
			return terms[i] < terms[j]
		}
		return freq[terms[i]] > freq[terms[j]]
	})

	if len(terms) > maxKeywords {
		terms = terms[:maxKeywords]
	}
	return terms
}

func isCJKWord(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return isCJK(r)
}

// EstimateTokens 粗略估算token数：英文词按1个，中日韩字符按1个
func EstimateTokens(text string) int {
	return len(Tokenize(text))
}
