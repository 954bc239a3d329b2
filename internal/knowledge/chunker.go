package knowledge

import (
	"strings"
	"unicode"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/models"
)

// ChunkerOptions 分块器配置
type ChunkerOptions struct {
	MaxChunkSize int // 最大块长（字符数）
	MinChunkSize int // 最小块长，过小的尾块会并入前一块
	Overlap      int // 滑动窗口重叠字符数
	MaxKeywords  int // 每块提取的关键词数量上限
}

// Chunker 文本分块器，支持滑动窗口与结构感知两种策略
type Chunker struct {
	maxChunkSize int
	minChunkSize int
	overlap      int
	maxKeywords  int
}

// NewChunker 创建分块器。重叠超过最大块长一半视为非法配置。
func NewChunker(opts ChunkerOptions) (*Chunker, error) {
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = 800
	}
	if opts.MinChunkSize < 0 {
		opts.MinChunkSize = 0
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.MaxKeywords <= 0 {
		opts.MaxKeywords = 8
	}
	if opts.Overlap > opts.MaxChunkSize/2 {
		return nil, apperrors.NewInvalidInputError("overlap", "must not exceed half of max chunk size")
	}
	if opts.MinChunkSize > opts.MaxChunkSize {
		return nil, apperrors.NewInvalidInputError("min_chunk_size", "must not exceed max chunk size")
	}

	return &Chunker{
		maxChunkSize: opts.MaxChunkSize,
		minChunkSize: opts.MinChunkSize,
		overlap:      opts.Overlap,
		maxKeywords:  opts.MaxKeywords,
	}, nil
}

// SplitSlidingWindow 滑动窗口分块：固定最大长度加重叠，不关心边界。
// 空输入返回零个块。
func (c *Chunker) SplitSlidingWindow(text string) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	structure := buildStructureIndex(text)
	runes := []rune(text)

	// 预计算每个rune下标对应的字节偏移
	byteAt := make([]int, len(runes)+1)
	pos := 0
	for i, r := range runes {
		byteAt[i] = pos
		pos += len(string(r))
	}
	byteAt[len(runes)] = pos

	step := c.maxChunkSize - c.overlap
	if step <= 0 {
		step = c.maxChunkSize
	}

	var chunks []models.Chunk
	for start := 0; start < len(runes); start += step {
		end := start + c.maxChunkSize
		if end > len(runes) {
			end = len(runes)
		}

		raw := string(runes[start:end])
		content := strings.TrimSpace(raw)
		if content == "" {
			if end == len(runes) {
				break
			}
			continue
		}

		chunk := models.Chunk{
			ChunkIndex: len(chunks),
			Content:    content,
			StartByte:  byteAt[start],
			EndByte:    byteAt[end],
		}
		c.enrich(&chunk, structure)
		chunks = append(chunks, chunk)

		if end == len(runes) {
			break
		}
	}

	return chunks
}

// enrich 填充块的结构化元数据：章节标题、层级路径、类型、关键词、token估算
func (c *Chunker) enrich(chunk *models.Chunk, structure *structureIndex) {
	header := structure.headerBefore(chunk.StartByte)
	if header != nil {
		chunk.SectionTitle = header.title
		chunk.HeaderLevel = header.level
	}
	chunk.SectionPath = structure.pathBefore(chunk.StartByte)
	chunk.ChunkType = classifyChunk(chunk.Content)
	chunk.Keywords = strings.Join(ExtractKeywords(chunk.Content, c.maxKeywords), ",")
	chunk.TokenCount = EstimateTokens(chunk.Content)
}

// headerInfo 检测到的标题行
type headerInfo struct {
	byteOffset int
	level      int // 0-6
	title      string
}

// structureIndex 文档结构索引：按偏移排序的标题列表
type structureIndex struct {
	headers []headerInfo
}

// buildStructureIndex 扫描整篇文本，识别markdown标题、编号章节与全大写标题
func buildStructureIndex(text string) *structureIndex {
	idx := &structureIndex{}
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if level, title, ok := detectHeader(trimmed); ok {
			idx.headers = append(idx.headers, headerInfo{
				byteOffset: offset,
				level:      level,
				title:      title,
			})
		}
		offset += len(line)
	}
	return idx
}

// headerBefore 返回指定偏移之前最近的标题
func (s *structureIndex) headerBefore(byteOffset int) *headerInfo {
	var found *headerInfo
	for i := range s.headers {
		if s.headers[i].byteOffset > byteOffset {
			break
		}
		found = &s.headers[i]
	}
	return found
}

// pathBefore 构建指定偏移处的层级章节路径，如 "引言 > 背景 > 术语"
func (s *structureIndex) pathBefore(byteOffset int) string {
	var stack []headerInfo
	for _, h := range s.headers {
		if h.byteOffset > byteOffset {
			break
		}
		// 弹出层级不低于当前标题的祖先
		for len(stack) > 0 && stack[len(stack)-1].level >= h.level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, h)
	}
	if len(stack) == 0 {
		return ""
	}
	parts := make([]string, len(stack))
	for i, h := range stack {
		parts[i] = h.title
	}
	return strings.Join(parts, " > ")
}

// detectHeader 识别单行是否为标题，返回层级与标题文本
func detectHeader(line string) (int, string, bool) {
	if line == "" {
		return 0, "", false
	}

	// markdown风格 "#"~"######"
	if strings.HasPrefix(line, "#") {
		level := 0
		for level < len(line) && line[level] == '#' && level < 6 {
			level++
		}
		title := strings.TrimSpace(line[level:])
		if title != "" {
			return level, title, true
		}
		return 0, "", false
	}

	// 编号章节 "1." "2.3" "1.2.3 标题"
	if isNumberedHeading(line) {
		fields := strings.SplitN(line, " ", 2)
		title := line
		if len(fields) == 2 {
			title = strings.TrimSpace(fields[1])
		}
		level := strings.Count(fields[0], ".")
		if level < 1 {
			level = 1
		}
		if level > 6 {
			level = 6
		}
		return level, title, true
	}

	// 全大写短行视为节标题
	if isAllCapsHeading(line) {
		return 1, line, true
	}

	return 0, "", false
}

// isNumberedHeading 判断是否为 "1." / "2.3.1" 开头且整体较短的编号标题
func isNumberedHeading(line string) bool {
	if len(line) > 120 {
		return false
	}
	fields := strings.SplitN(line, " ", 2)
	prefix := strings.TrimSuffix(fields[0], ".")
	if prefix == "" {
		return false
	}
	for _, part := range strings.Split(prefix, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if !unicode.IsDigit(r) {
				return false
			}
		}
	}
	// 纯数字行（无标题文本）不算标题
	return len(fields) == 2 && strings.TrimSpace(fields[1]) != ""
}

// isAllCapsHeading 判断是否为全大写的短标题行
func isAllCapsHeading(line string) bool {
	if len(line) > 80 {
		return false
	}
	hasLetter := false
	for _, r := range line {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	// 排除以句号结尾的普通句子
	return hasLetter && !strings.HasSuffix(line, ".")
}

// classifyChunk 粗粒度块类型分类
func classifyChunk(content string) models.ChunkType {
	trimmed := strings.TrimSpace(content)
	if _, _, ok := detectHeader(firstLine(trimmed)); ok {
		if !strings.Contains(trimmed, "\n") {
			return models.ChunkTypeHeading
		}
		return models.ChunkTypeSection
	}
	if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") ||
		strings.HasPrefix(trimmed, "+ ") || isNumberedListItem(trimmed) {
		return models.ChunkTypeListItem
	}
	return models.ChunkTypeParagraph
}

func isNumberedListItem(s string) bool {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i > 0 && i+1 < len(s) && (s[i] == ')' || s[i] == '.') && s[i+1] == ' '
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
