package knowledge

import (
	"context"
	"math"
	"sort"
	"sync"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/models"
)

// BM25默认参数
const (
	DefaultBM25K1 = 1.5
	DefaultBM25B  = 0.75
)

// bm25Entry 索引内一个分块的词频记录与过滤用的文档快照
type bm25Entry struct {
	chunkID    uint
	documentID uint
	content    string
	length     int
	termFreq   map[string]int
	doc        *models.Document
}

// BM25Searcher 进程内BM25检索器，语料统计的唯一拥有者。
// 所有统计变更都在同一把锁内完成，读者可能看到略旧的统计，
// 但绝不会看到半套更新（如文档频率减了而文档数没减）。
type BM25Searcher struct {
	mu sync.RWMutex

	k1 float64
	b  float64

	entries  map[uint]*bm25Entry // chunkID → 记录
	docFreq  map[string]int      // 词 → 含该词的块数
	totalLen int                 // 全部块的词元总数
}

// NewBM25Searcher 创建BM25检索器，k1/b非法时回落默认值
func NewBM25Searcher(k1, b float64) *BM25Searcher {
	if k1 <= 0 {
		k1 = DefaultBM25K1
	}
	if b < 0 || b > 1 {
		b = DefaultBM25B
	}
	return &BM25Searcher{
		k1:      k1,
		b:       b,
		entries: make(map[uint]*bm25Entry),
		docFreq: make(map[string]int),
	}
}

// Index 增量加入一个分块：更新词频、文档频率与平均长度
func (s *BM25Searcher) Index(ctx context.Context, chunk *models.Chunk, doc *models.Document) error {
	if chunk == nil {
		return apperrors.NewInvalidInputError("chunk", "must not be nil")
	}

	tokens := Tokenize(chunk.Content)
	termFreq := make(map[string]int, len(tokens))
	for _, token := range tokens {
		termFreq[token]++
	}

	entry := &bm25Entry{
		chunkID:    chunk.ChunkID,
		documentID: chunk.DocumentID,
		content:    chunk.Content,
		length:     len(tokens),
		termFreq:   termFreq,
		doc:        doc,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 重复索引同一块时先撤销旧统计
	if old, ok := s.entries[chunk.ChunkID]; ok {
		s.removeLocked(old)
	}

	s.entries[chunk.ChunkID] = entry
	s.totalLen += entry.length
	for term := range termFreq {
		s.docFreq[term]++
	}
	return nil
}

// Remove 增量移除一个分块
func (s *BM25Searcher) Remove(ctx context.Context, chunkID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[chunkID]
	if !ok {
		return nil
	}
	s.removeLocked(entry)
	return nil
}

// removeLocked 撤销一条记录的全部统计，调用方必须持有写锁
func (s *BM25Searcher) removeLocked(entry *bm25Entry) {
	delete(s.entries, entry.chunkID)
	s.totalLen -= entry.length
	for term := range entry.termFreq {
		if s.docFreq[term] <= 1 {
			delete(s.docFreq, term)
		} else {
			s.docFreq[term]--
		}
	}
}

// Recompute 从现有块集全量重建统计，用于一致性修复。
// 统计是派生状态，任何时候都可以从块集重新算出。
func (s *BM25Searcher) Recompute() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docFreq = make(map[string]int)
	s.totalLen = 0
	for _, entry := range s.entries {
		tokens := Tokenize(entry.content)
		entry.termFreq = make(map[string]int, len(tokens))
		for _, token := range tokens {
			entry.termFreq[token]++
		}
		entry.length = len(tokens)
		s.totalLen += entry.length
		for term := range entry.termFreq {
			s.docFreq[term]++
		}
	}
}

// Search 对查询做BM25打分，返回带1-based名次的降序结果。
// 同分按chunkID升序，保证确定性。
func (s *BM25Searcher) Search(ctx context.Context, query string, filters SearchFilters, limit int) ([]KeywordMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	docCount := len(s.entries)
	if docCount == 0 {
		return nil, nil
	}
	avgLen := float64(s.totalLen) / float64(docCount)

	var matches []KeywordMatch
	for _, entry := range s.entries {
		if !filters.Match(entry.doc) {
			continue
		}

		score := 0.0
		var freqs map[string]int
		for _, term := range terms {
			tf := entry.termFreq[term]
			if tf == 0 {
				continue
			}
			score += s.termScore(term, tf, entry.length, docCount, avgLen)
			if freqs == nil {
				freqs = make(map[string]int)
			}
			freqs[term] = tf
		}
		if score <= 0 {
			continue
		}

		matches = append(matches, KeywordMatch{
			ChunkID:         entry.chunkID,
			DocumentID:      entry.documentID,
			Content:         entry.content,
			Score:           score,
			TermFrequencies: freqs,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ChunkID < matches[j].ChunkID
		}
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	for i := range matches {
		matches[i].Rank = i + 1
	}
	return matches, nil
}

// termScore 单词项的BM25贡献：IDF(term) * tf*(k1+1) / (tf + k1*(1-b+b*|D|/avgDL))
func (s *BM25Searcher) termScore(term string, tf, docLen, docCount int, avgLen float64) float64 {
	df := s.docFreq[term]
	idf := math.Log(1 + (float64(docCount)-float64(df)+0.5)/(float64(df)+0.5))

	tfF := float64(tf)
	norm := 1 - s.b + s.b*float64(docLen)/avgLen
	return idf * (tfF * (s.k1 + 1)) / (tfF + s.k1*norm)
}

// Ready 统计是否可用
func (s *BM25Searcher) Ready() bool {
	return s != nil
}

// Stats 返回当前语料统计快照（块数、平均长度、词表大小）
func (s *BM25Searcher) Stats() (docCount int, avgDocLen float64, vocabSize int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docCount = len(s.entries)
	if docCount > 0 {
		avgDocLen = float64(s.totalLen) / float64(docCount)
	}
	vocabSize = len(s.docFreq)
	return
}
