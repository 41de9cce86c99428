package agent

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"datachat/database"
	"datachat/logger"
)

// rrfK is the reciprocal-rank fusion constant: fused = Σ 1/(rrfK+rank).
const rrfK = 60

// RetrievedTerm is a term with its fused relevance score.
type RetrievedTerm struct {
	database.Term
	Score float64 `json:"score"`
}

// RetrievedExample is a curated example with its fused relevance score.
type RetrievedExample struct {
	database.Example
	Score float64 `json:"score"`
}

// RetrievedArticle is a knowledge article with its fused relevance score.
type RetrievedArticle struct {
	database.Article
	Score float64 `json:"score"`
}

// Retrieval is the capped context pulled for one question, in three typed
// lanes. Degraded marks a turn that ran without the vector lane.
type Retrieval struct {
	Terms    []RetrievedTerm
	Examples []RetrievedExample
	Articles []RetrievedArticle
	Degraded bool
}

// RetrieverCaps bounds each retrieval lane.
type RetrieverCaps struct {
	Terms    int
	Examples int
	Articles int
}

type indexedItem struct {
	id     string
	text   string // lowercased searchable text
	tokens map[string]float64
	vector []float32
}

type knowledgeIndex struct {
	terms    []database.Term
	examples []database.Example
	articles []database.Article

	termItems    []indexedItem
	exampleItems []indexedItem
	articleItems []indexedItem
}

// Retriever pulls terms, examples and articles relevant to a question from
// the knowledge store. The lexical lane always runs; the vector lane joins
// when an embedder is configured and degrades silently when it fails.
type Retriever struct {
	store    *database.KnowledgeService
	embedder Embedder
	caps     RetrieverCaps
	timeout  time.Duration

	mu  sync.RWMutex
	idx *knowledgeIndex
}

// NewRetriever creates a retriever over the knowledge store. embedder may be
// nil, which disables the vector lane entirely.
func NewRetriever(store *database.KnowledgeService, embedder Embedder, caps RetrieverCaps, timeout time.Duration) *Retriever {
	if caps.Terms <= 0 {
		caps.Terms = 8
	}
	if caps.Examples <= 0 {
		caps.Examples = 4
	}
	if caps.Articles <= 0 {
		caps.Articles = 4
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Retriever{store: store, embedder: embedder, caps: caps, timeout: timeout}
}

// InvalidateIndex drops the in-memory index; the next retrieval rebuilds it
// from the store. Wired as the knowledge CRUD change hook.
func (r *Retriever) InvalidateIndex() {
	r.mu.Lock()
	r.idx = nil
	r.mu.Unlock()
}

// Retrieve returns the capped three-lane context for a question. The dialect
// filters examples, falling back to dialect-free ones when none match.
func (r *Retriever) Retrieve(ctx context.Context, question, dialect string) (*Retrieval, error) {
	idx, err := r.index()
	if err != nil {
		return nil, Fail("retrieve", KindInternal, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	queryTokens := TermFrequencies(Tokenize(question))
	lowerQ := strings.ToLower(question)

	// Terms first: matches expand the query vocabulary before the other
	// lanes score (synonym expansion).
	termLex := lexicalRank(idx.termItems, lowerQ, queryTokens)
	var queryVec []float32
	degraded := false
	if r.embedder != nil {
		queryVec, err = r.embedder.Embed(ctx, question)
		if err != nil {
			logger.With("retriever").Warnf("vector lane degraded to lexical: %v", logger.Redact(err.Error()))
			queryVec = nil
			degraded = true
		}
	}
	termScores := fuse(termLex, vectorRank(idx.termItems, queryVec))

	expanded := make(map[string]float64, len(queryTokens))
	for t, f := range queryTokens {
		expanded[t] = f
	}
	for id, score := range termScores {
		if score <= 0 {
			continue
		}
		for i, item := range idx.termItems {
			if item.id == id {
				for _, tok := range Tokenize(idx.terms[i].FieldName) {
					expanded[tok]++
				}
			}
		}
	}

	exampleScores := fuse(lexicalRank(idx.exampleItems, lowerQ, expanded), vectorRank(idx.exampleItems, queryVec))
	articleScores := fuse(lexicalRank(idx.articleItems, lowerQ, expanded), vectorRank(idx.articleItems, queryVec))

	out := &Retrieval{Degraded: degraded}

	for _, i := range topIndices(idx.termItems, termScores, r.caps.Terms) {
		out.Terms = append(out.Terms, RetrievedTerm{Term: idx.terms[i], Score: termScores[idx.termItems[i].id]})
	}

	// dialect-matching examples win; dialect-free ones fill the remainder
	var matched, fallback []int
	for _, i := range topIndices(idx.exampleItems, exampleScores, len(idx.exampleItems)) {
		switch idx.examples[i].Dialect {
		case dialect:
			matched = append(matched, i)
		case "":
			fallback = append(fallback, i)
		}
	}
	for _, i := range append(matched, fallback...) {
		if len(out.Examples) >= r.caps.Examples {
			break
		}
		out.Examples = append(out.Examples, RetrievedExample{Example: idx.examples[i], Score: exampleScores[idx.exampleItems[i].id]})
	}

	for _, i := range topIndices(idx.articleItems, articleScores, r.caps.Articles) {
		out.Articles = append(out.Articles, RetrievedArticle{Article: idx.articles[i], Score: articleScores[idx.articleItems[i].id]})
	}

	return out, nil
}

// Recommend returns up to k example questions near the given question, for
// follow-up suggestions after an answered turn.
func (r *Retriever) Recommend(question string, k int) []string {
	idx, err := r.index()
	if err != nil || k <= 0 {
		return nil
	}

	queryTokens := TermFrequencies(Tokenize(question))
	scores := map[string]float64{}
	for rank, id := range lexicalRank(idx.exampleItems, strings.ToLower(question), queryTokens) {
		scores[id] = 1.0 / float64(rrfK+rank+1)
	}

	var out []string
	for _, i := range topIndices(idx.exampleItems, scores, k) {
		if q := idx.examples[i].Question; q != question {
			out = append(out, q)
		}
	}
	return out
}

// index returns the current index, building it from the store on first use.
func (r *Retriever) index() (*knowledgeIndex, error) {
	r.mu.RLock()
	idx := r.idx
	r.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idx != nil {
		return r.idx, nil
	}

	terms, err := r.store.AllTerms()
	if err != nil {
		return nil, err
	}
	examples, err := r.store.AllExamples()
	if err != nil {
		return nil, err
	}
	articles, err := r.store.AllArticles()
	if err != nil {
		return nil, err
	}

	idx = &knowledgeIndex{terms: terms, examples: examples, articles: articles}
	for _, t := range terms {
		text := t.Phrase + " " + t.FieldName
		idx.termItems = append(idx.termItems, newIndexedItem(t.ID, text, t.Embedding))
	}
	for _, e := range examples {
		idx.exampleItems = append(idx.exampleItems, newIndexedItem(e.ID, e.Question, e.Embedding))
	}
	for _, a := range articles {
		idx.articleItems = append(idx.articleItems, newIndexedItem(a.ID, a.Title+" "+a.Body, a.Embedding))
	}
	r.idx = idx
	return idx, nil
}

func newIndexedItem(id, text string, embedding []byte) indexedItem {
	vec, err := DecodeVector(embedding)
	if err != nil {
		vec = nil
	}
	return indexedItem{
		id:     id,
		text:   strings.ToLower(text),
		tokens: TermFrequencies(Tokenize(text)),
		vector: vec,
	}
}

// lexicalRank orders items by substring hit plus token overlap and returns
// their ids, best first. Items with no signal are excluded.
func lexicalRank(items []indexedItem, lowerQuery string, queryTokens map[string]float64) []string {
	type scored struct {
		id    string
		score float64
	}
	var hits []scored
	for _, item := range items {
		score := cosineFreq(queryTokens, item.tokens)
		if item.text != "" && (strings.Contains(lowerQuery, item.text) || strings.Contains(item.text, lowerQuery)) {
			score += 1.0
		} else {
			// phrase-level containment of any multi-char token
			for tok := range item.tokens {
				if len(tok) > 3 && strings.Contains(lowerQuery, tok) {
					score += 0.2
					break
				}
			}
		}
		if score > 0 {
			hits = append(hits, scored{item.id, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids
}

// vectorRank orders items by cosine similarity to the query vector. A nil
// query or items without stored embeddings yield no ranking.
func vectorRank(items []indexedItem, queryVec []float32) []string {
	if len(queryVec) == 0 {
		return nil
	}
	type scored struct {
		id    string
		score float64
	}
	var hits []scored
	for _, item := range items {
		if len(item.vector) == 0 {
			continue
		}
		if score := cosine32(queryVec, item.vector); score > 0 {
			hits = append(hits, scored{item.id, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids
}

// fuse merges ranked lanes with reciprocal-rank fusion.
func fuse(lanes ...[]string) map[string]float64 {
	scores := map[string]float64{}
	for _, lane := range lanes {
		for rank, id := range lane {
			scores[id] += 1.0 / float64(rrfK+rank+1)
		}
	}
	return scores
}

// topIndices returns the item indices of the k best fused scores, descending.
func topIndices(items []indexedItem, scores map[string]float64, k int) []int {
	var idxs []int
	for i, item := range items {
		if scores[item.id] > 0 {
			idxs = append(idxs, i)
		}
	}
	sort.SliceStable(idxs, func(a, b int) bool {
		return scores[items[idxs[a]].id] > scores[items[idxs[b]].id]
	})
	if len(idxs) > k {
		idxs = idxs[:k]
	}
	return idxs
}
