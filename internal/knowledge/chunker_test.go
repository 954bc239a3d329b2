package knowledge

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
)

func newTestChunker(t *testing.T, max, min, overlap int) *Chunker {
	t.Helper()
	c, err := NewChunker(ChunkerOptions{
		MaxChunkSize: max,
		MinChunkSize: min,
		Overlap:      overlap,
		MaxKeywords:  5,
	})
	require.NoError(t, err)
	return c
}

func TestNewChunkerRejectsBadConfig(t *testing.T) {
	_, err := NewChunker(ChunkerOptions{MaxChunkSize: 100, Overlap: 60})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = NewChunker(ChunkerOptions{MaxChunkSize: 100, MinChunkSize: 200})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestSlidingWindowCoversAllText(t *testing.T) {
	c := newTestChunker(t, 50, 0, 10)
	text := strings.Repeat("abcde ", 40) // 240字符

	chunks := c.SplitSlidingWindow(text)
	require.NotEmpty(t, chunks)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Content), 50)
		assert.Less(t, chunk.StartByte, chunk.EndByte)
	}

	// 步长=40：相邻块起点相差步长
	step := 50 - 10
	assert.Equal(t, step, chunks[1].StartByte-chunks[0].StartByte)
}

func TestSlidingWindowEmptyInput(t *testing.T) {
	c := newTestChunker(t, 50, 0, 10)
	assert.Empty(t, c.SplitSlidingWindow(""))
	assert.Empty(t, c.SplitSlidingWindow("   \n\t  "))
}

func TestSlidingWindowShortInputSingleChunk(t *testing.T) {
	c := newTestChunker(t, 500, 0, 50)
	chunks := c.SplitSlidingWindow("short text")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0].Content)
}

func TestSemanticSplitRespectsSentenceBoundaries(t *testing.T) {
	c := newTestChunker(t, 80, 0, 0)
	text := "First sentence is here. Second sentence follows along. Third sentence closes it out. Fourth one adds more words to overflow."

	chunks := c.SplitSemantic(text)
	require.Greater(t, len(chunks), 1)

	// 任何块都不应在句子中间结束
	for _, chunk := range chunks {
		content := strings.TrimSpace(chunk.Content)
		last, _ := utf8.DecodeLastRuneInString(content)
		assert.True(t, sentenceTerminators[last],
			"chunk should end at a sentence boundary: %q", content)
	}
}

func TestSemanticSplitDecimalNotSplit(t *testing.T) {
	c := newTestChunker(t, 40, 0, 0)
	text := "The value of pi is 3.14159 approximately. Euler's number is 2.71828 as well."

	chunks := c.SplitSemantic(text)
	joined := ""
	for _, chunk := range chunks {
		joined += chunk.Content + " "
	}
	assert.Contains(t, joined, "3.14159")
	assert.Contains(t, joined, "2.71828")
}

func TestSemanticSplitHeadersStartNewChunks(t *testing.T) {
	c := newTestChunker(t, 200, 0, 0)
	text := "# Introduction\n\nSome introductory content here.\n\n# Methods\n\nDescription of methods used."

	chunks := c.SplitSemantic(text)
	require.GreaterOrEqual(t, len(chunks), 2)

	assert.Equal(t, "Introduction", chunks[0].SectionTitle)
	last := chunks[len(chunks)-1]
	assert.Equal(t, "Methods", last.SectionTitle)
}

func TestSemanticSplitMergesUndersizedTail(t *testing.T) {
	c := newTestChunker(t, 100, 30, 0)
	text := strings.Repeat("A full sentence with several words inside. ", 3) + "\n\nTiny tail."

	chunks := c.SplitSemantic(text)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.GreaterOrEqual(t, utf8.RuneCountInString(chunk.Content), 30)
	}
}

func TestSemanticSplitSingleUndersizedChunkKept(t *testing.T) {
	c := newTestChunker(t, 800, 120, 0)
	chunks := c.SplitSemantic("Just one tiny document.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Just one tiny document.", chunks[0].Content)
}

func TestSemanticSplitOversizedSentenceKeptWhole(t *testing.T) {
	c := newTestChunker(t, 50, 0, 0)
	long := strings.Repeat("word ", 30) + "end."

	chunks := c.SplitSemantic(long)
	require.Len(t, chunks, 1)
	assert.Greater(t, utf8.RuneCountInString(chunks[0].Content), 50)
}

func TestStructureIndexHierarchy(t *testing.T) {
	text := "# Top\n\ncontent a\n\n## Middle\n\ncontent b\n\n### Deep\n\ncontent c\n"
	idx := buildStructureIndex(text)
	require.Len(t, idx.headers, 3)

	pos := strings.Index(text, "content c")
	assert.Equal(t, "Top > Middle > Deep", idx.pathBefore(pos))

	header := idx.headerBefore(pos)
	require.NotNil(t, header)
	assert.Equal(t, "Deep", header.title)
	assert.Equal(t, 3, header.level)
}

func TestDetectHeaderVariants(t *testing.T) {
	cases := []struct {
		line  string
		level int
		title string
		ok    bool
	}{
		{"# Title", 1, "Title", true},
		{"### Sub", 3, "Sub", true},
		{"1. Introduction", 1, "Introduction", true},
		{"2.3.1 Details", 3, "Details", true},
		{"OVERVIEW", 1, "OVERVIEW", true},
		{"plain sentence here", 0, "", false},
		{"3.14159", 0, "", false},
		{"#", 0, "", false},
		{"This sentence ends properly.", 0, "", false},
	}

	for _, tc := range cases {
		level, title, ok := detectHeader(tc.line)
		assert.Equal(t, tc.ok, ok, "line=%q", tc.line)
		if tc.ok {
			assert.Equal(t, tc.level, level, "line=%q", tc.line)
			assert.Equal(t, tc.title, title, "line=%q", tc.line)
		}
	}
}

func TestEnrichFillsMetadata(t *testing.T) {
	c := newTestChunker(t, 800, 0, 0)
	text := "# Caching\n\nRedis cache stores query results. Redis eviction uses LRU policy for cache entries."

	chunks := c.SplitSemantic(text)
	require.NotEmpty(t, chunks)

	body := -1
	for i := range chunks {
		if strings.Contains(chunks[i].Content, "Redis") {
			body = i
			break
		}
	}
	require.GreaterOrEqual(t, body, 0)

	chunk := chunks[body]
	assert.Equal(t, "Caching", chunk.SectionTitle)
	assert.Contains(t, chunk.Keywords, "redis")
	assert.Greater(t, chunk.TokenCount, 0)
}

func TestExtractKeywordsFiltersStopWords(t *testing.T) {
	keywords := ExtractKeywords("the quick brown fox jumps over the lazy dog and the fox wins", 3)
	require.NotEmpty(t, keywords)
	assert.Equal(t, "fox", keywords[0])
	for _, kw := range keywords {
		assert.False(t, stopWords[kw])
	}
}

func TestTokenizeCJK(t *testing.T) {
	tokens := Tokenize("向量检索 vector search")
	assert.Contains(t, tokens, "向")
	assert.Contains(t, tokens, "量")
	assert.Contains(t, tokens, "vector")
	assert.Contains(t, tokens, "search")
}
