package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	apperrors "github.com/aihub/retrieval-go/internal/errors"
	"github.com/aihub/retrieval-go/internal/models"
)

// ElasticKeywordSearcher 基于Elasticsearch的关键词检索实现，
// 进程内BM25的可替代后端。文档过滤字段随块一起写入索引，
// 过滤条件在ES查询内下推执行。
type ElasticKeywordSearcher struct {
	client    *elasticsearch.Client
	indexName string
	ensured   bool
	mu        sync.Mutex
}

// NewElasticKeywordSearcher 创建ES关键词检索器
func NewElasticKeywordSearcher(addresses []string, username, password, apiKey, indexName string) (*ElasticKeywordSearcher, error) {
	if len(addresses) == 0 {
		return nil, apperrors.NewInvalidInputError("addresses", "must not be empty")
	}

	cfg := elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
		APIKey:    apiKey,
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	if indexName == "" {
		indexName = "retrieval_chunks"
	}

	return &ElasticKeywordSearcher{
		client:    client,
		indexName: indexName,
	}, nil
}

func (e *ElasticKeywordSearcher) ensureIndex(ctx context.Context) error {
	e.mu.Lock()
	if e.ensured {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	existsReq := esapi.IndicesExistsRequest{Index: []string{e.indexName}}
	resp, err := existsReq.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == 200 {
		e.mu.Lock()
		e.ensured = true
		e.mu.Unlock()
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"chunk_id":    map[string]interface{}{"type": "keyword"},
				"document_id": map[string]interface{}{"type": "keyword"},
				"content": map[string]interface{}{
					"type":          "text",
					"index_options": "offsets",
				},
				"owner_id":     map[string]interface{}{"type": "long"},
				"visibility":   map[string]interface{}{"type": "keyword"},
				"category":     map[string]interface{}{"type": "keyword"},
				"author":       map[string]interface{}{"type": "text"},
				"content_type": map[string]interface{}{"type": "keyword"},
				"uploaded_at":  map[string]interface{}{"type": "date"},
			},
		},
	}

	body, _ := json.Marshal(mapping)
	createReq := esapi.IndicesCreateRequest{
		Index: e.indexName,
		Body:  bytes.NewReader(body),
	}
	createResp, err := createReq.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer createResp.Body.Close()

	if createResp.IsError() {
		return fmt.Errorf("create index error: %s", createResp.String())
	}

	e.mu.Lock()
	e.ensured = true
	e.mu.Unlock()
	return nil
}

// Index 写入分块及其文档过滤字段
func (e *ElasticKeywordSearcher) Index(ctx context.Context, chunk *models.Chunk, doc *models.Document) error {
	if chunk == nil {
		return apperrors.NewInvalidInputError("chunk", "must not be nil")
	}
	if err := e.ensureIndex(ctx); err != nil {
		return err
	}

	payload := map[string]interface{}{
		"chunk_id":    chunk.ChunkID,
		"document_id": chunk.DocumentID,
		"content":     chunk.Content,
	}
	if doc != nil {
		payload["owner_id"] = doc.OwnerID
		payload["visibility"] = doc.Visibility
		payload["category"] = doc.Category
		payload["author"] = doc.Author
		payload["content_type"] = doc.ContentType
		payload["uploaded_at"] = doc.UploadedAt
	}

	body, _ := json.Marshal(payload)
	req := esapi.IndexRequest{
		Index:      e.indexName,
		DocumentID: strconv.FormatUint(uint64(chunk.ChunkID), 10),
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}

	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("index chunk error: %s", resp.String())
	}
	return nil
}

// Remove 从索引删除分块
func (e *ElasticKeywordSearcher) Remove(ctx context.Context, chunkID uint) error {
	req := esapi.DeleteRequest{
		Index:      e.indexName,
		DocumentID: strconv.FormatUint(uint64(chunkID), 10),
	}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 删除不存在的块不算错误
	if resp.IsError() && resp.StatusCode != 404 {
		return fmt.Errorf("delete chunk error: %s", resp.String())
	}
	return nil
}

// Search 全文检索，过滤条件下推为ES filter子句
func (e *ElasticKeywordSearcher) Search(ctx context.Context, query string, filters SearchFilters, limit int) ([]KeywordMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}

	boolQuery := map[string]interface{}{
		"must": []interface{}{
			map[string]interface{}{
				"match": map[string]interface{}{
					"content": map[string]interface{}{"query": query},
				},
			},
		},
	}
	if clauses := buildFilterClauses(filters); len(clauses) > 0 {
		boolQuery["filter"] = clauses
	}

	body := map[string]interface{}{
		"size":  limit,
		"query": map[string]interface{}{"bool": boolQuery},
	}

	payload, _ := json.Marshal(body)
	searchReq := esapi.SearchRequest{
		Index: []string{e.indexName},
		Body:  bytes.NewReader(payload),
	}

	resp, err := searchReq.Do(ctx, e.client)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("search error: %s", resp.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					DocumentID uint   `json:"document_id"`
					Content    string `json:"content"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	queryTerms := Tokenize(query)
	matches := make([]KeywordMatch, 0, len(result.Hits.Hits))
	for i, hit := range result.Hits.Hits {
		chunkID, _ := strconv.ParseUint(hit.ID, 10, 64)
		matches = append(matches, KeywordMatch{
			ChunkID:         uint(chunkID),
			DocumentID:      hit.Source.DocumentID,
			Content:         hit.Source.Content,
			Score:           hit.Score,
			Rank:            i + 1,
			TermFrequencies: termFrequencies(hit.Source.Content, queryTerms),
		})
	}
	return matches, nil
}

// Ready 连接是否可用
func (e *ElasticKeywordSearcher) Ready() bool {
	return e != nil && e.client != nil
}

// buildFilterClauses 把过滤条件翻译为ES filter子句
func buildFilterClauses(filters SearchFilters) []interface{} {
	var clauses []interface{}
	term := func(field string, value interface{}) {
		clauses = append(clauses, map[string]interface{}{
			"term": map[string]interface{}{field: value},
		})
	}

	if filters.OwnerID != nil {
		term("owner_id", *filters.OwnerID)
	}
	if filters.Visibility != nil {
		term("visibility", string(*filters.Visibility))
	}
	if filters.Category != "" {
		term("category", filters.Category)
	}
	if filters.ContentType != "" {
		term("content_type", filters.ContentType)
	}
	if filters.Author != "" {
		clauses = append(clauses, map[string]interface{}{
			"match": map[string]interface{}{"author": filters.Author},
		})
	}
	if filters.UploadedAfter != nil || filters.UploadedBefore != nil {
		rangeBody := map[string]interface{}{}
		if filters.UploadedAfter != nil {
			rangeBody["gte"] = filters.UploadedAfter
		}
		if filters.UploadedBefore != nil {
			rangeBody["lte"] = filters.UploadedBefore
		}
		clauses = append(clauses, map[string]interface{}{
			"range": map[string]interface{}{"uploaded_at": rangeBody},
		})
	}
	return clauses
}

// termFrequencies 在进程内统计查询词在内容中的词频，用于结果可解释性
func termFrequencies(content string, queryTerms []string) map[string]int {
	if len(queryTerms) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, token := range Tokenize(content) {
		counts[token]++
	}
	var freqs map[string]int
	for _, term := range queryTerms {
		if tf := counts[term]; tf > 0 {
			if freqs == nil {
				freqs = make(map[string]int)
			}
			freqs[term] = tf
		}
	}
	return freqs
}
