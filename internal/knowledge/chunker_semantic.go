package knowledge

import (
	"strings"
	"unicode/utf8"

	"github.com/aihub/retrieval-go/internal/models"
)

// textBlock 结构解析出的文本单元：标题行或段落
type textBlock struct {
	content   string
	startByte int
	isHeader  bool
}

// SplitSemantic 结构感知分块：先识别文档结构，再在段落/句子边界切分，
// 绝不从句子中间切开。小于最小块长的尾部片段并入前一块；
// 若整篇只有一个不足最小块长的片段，仍然单独成块。
func (c *Chunker) SplitSemantic(text string) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	structure := buildStructureIndex(text)
	blocks := parseBlocks(text)
	if len(blocks) == 0 {
		return nil
	}

	var chunks []models.Chunk
	var buf strings.Builder
	bufStart := -1

	flush := func(endByte int) {
		content := strings.TrimSpace(buf.String())
		if content == "" {
			buf.Reset()
			bufStart = -1
			return
		}
		chunk := models.Chunk{
			ChunkIndex: len(chunks),
			Content:    content,
			StartByte:  bufStart,
			EndByte:    endByte,
		}
		c.enrich(&chunk, structure)
		chunks = append(chunks, chunk)
		buf.Reset()
		bufStart = -1
	}

	appendPiece := func(piece string, pieceStart int) {
		if bufStart < 0 {
			bufStart = pieceStart
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(piece)
	}

	for _, block := range blocks {
		// 标题开启新块，保证章节不跨块混合
		if block.isHeader && buf.Len() > 0 {
			flush(block.startByte)
		}

		blockLen := utf8.RuneCountInString(block.content)
		bufLen := utf8.RuneCountInString(buf.String())

		if bufLen+blockLen+1 <= c.maxChunkSize {
			appendPiece(block.content, block.startByte)
			continue
		}

		// 整段放不下：先落盘当前缓冲，再按句子填充
		if buf.Len() > 0 {
			flush(block.startByte)
		}

		if blockLen <= c.maxChunkSize {
			appendPiece(block.content, block.startByte)
			continue
		}

		sentences := splitSentences(block.content)
		offset := block.startByte
		for _, sentence := range sentences {
			sentLen := utf8.RuneCountInString(sentence)
			bufLen = utf8.RuneCountInString(buf.String())
			if buf.Len() > 0 && bufLen+sentLen+1 > c.maxChunkSize {
				flush(offset)
			}
			// 单句超长也不从中间切开，独立成块
			appendPiece(strings.TrimSpace(sentence), offset)
			offset += len(sentence)
			if utf8.RuneCountInString(buf.String()) >= c.maxChunkSize {
				flush(offset)
			}
		}
	}

	if buf.Len() > 0 {
		flush(len(text))
	}

	return c.mergeTrailing(chunks)
}

// mergeTrailing 将不足最小块长的块并入前一块；唯一的块即使过小也保留
func (c *Chunker) mergeTrailing(chunks []models.Chunk) []models.Chunk {
	if c.minChunkSize <= 0 || len(chunks) <= 1 {
		return chunks
	}

	merged := make([]models.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if len(merged) > 0 && utf8.RuneCountInString(chunk.Content) < c.minChunkSize {
			prev := &merged[len(merged)-1]
			prev.Content = prev.Content + "\n" + chunk.Content
			prev.EndByte = chunk.EndByte
			prev.TokenCount = EstimateTokens(prev.Content)
			prev.Keywords = strings.Join(ExtractKeywords(prev.Content, c.maxKeywords), ",")
			continue
		}
		chunk.ChunkIndex = len(merged)
		merged = append(merged, chunk)
	}
	return merged
}

// parseBlocks 把文本解析为标题行与空行分隔的段落，记录字节偏移
func parseBlocks(text string) []textBlock {
	var blocks []textBlock
	var para strings.Builder
	paraStart := -1

	offset := 0
	flushPara := func() {
		content := strings.TrimSpace(para.String())
		if content != "" {
			blocks = append(blocks, textBlock{content: content, startByte: paraStart})
		}
		para.Reset()
		paraStart = -1
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			flushPara()
		case isHeaderLine(trimmed):
			flushPara()
			blocks = append(blocks, textBlock{content: trimmed, startByte: offset, isHeader: true})
		default:
			if paraStart < 0 {
				paraStart = offset
			}
			if para.Len() > 0 {
				para.WriteString(" ")
			}
			para.WriteString(trimmed)
		}
		offset += len(line)
	}
	flushPara()

	return blocks
}

func isHeaderLine(line string) bool {
	_, _, ok := detectHeader(line)
	return ok
}

// sentenceTerminators 句子终止符，兼顾中英文标点
var sentenceTerminators = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true, '；': true,
}

// splitSentences 按终止符切分句子，保留原始间隔以便偏移推算
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if !sentenceTerminators[r] {
			continue
		}
		// 英文句点后必须跟空白或结尾，避免把 "3.14" 切开
		if r == '.' && i+1 < len(runes) && runes[i+1] != ' ' && runes[i+1] != '\n' {
			continue
		}
		sentences = append(sentences, current.String())
		current.Reset()
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}
