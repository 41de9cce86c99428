package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"datachat/database"
	"datachat/dbpool"
)

func knowledgeStore(t *testing.T) *database.KnowledgeService {
	t.Helper()
	db, err := database.InitDB(filepath.Join(t.TempDir(), "knowledge.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return database.NewKnowledgeService(db)
}

type fixedEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

// TestRetrieveLexical 验证词法通道检索与同义词扩展
func TestRetrieveLexical(t *testing.T) {
	store := knowledgeStore(t)
	if _, err := store.CreateTerm(database.Term{Phrase: "销售额", FieldName: "gmv_amount"}); err != nil {
		t.Fatalf("CreateTerm failed: %v", err)
	}
	if _, err := store.CreateExample(database.Example{Question: "query gmv_amount by region", SQL: "SELECT region, SUM(gmv_amount) FROM orders GROUP BY region"}); err != nil {
		t.Fatalf("CreateExample failed: %v", err)
	}
	if _, err := store.CreateExample(database.Example{Question: "list warehouse inventory", SQL: "SELECT * FROM inventory"}); err != nil {
		t.Fatalf("CreateExample failed: %v", err)
	}

	r := NewRetriever(store, nil, RetrieverCaps{}, time.Second)
	out, err := r.Retrieve(context.Background(), "各区域销售额", dbpool.DialectMySQL)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(out.Terms) != 1 || out.Terms[0].Phrase != "销售额" {
		t.Fatalf("expected the matching term, got %+v", out.Terms)
	}
	// the matched term's field name expands the query, pulling in the
	// example that mentions gmv_amount but not the literal question text
	if len(out.Examples) == 0 || out.Examples[0].Question != "query gmv_amount by region" {
		t.Errorf("expected synonym-expanded example, got %+v", out.Examples)
	}
	if out.Degraded {
		t.Error("no embedder configured means no degradation to report")
	}
}

func TestRetrieveDialectFilter(t *testing.T) {
	store := knowledgeStore(t)
	seed := []database.Example{
		{Question: "orders by region", SQL: "SELECT 1", Dialect: dbpool.DialectPostgres},
		{Question: "orders by region detail", SQL: "SELECT 2", Dialect: dbpool.DialectMySQL},
		{Question: "orders by region summary", SQL: "SELECT 3"},
	}
	for _, e := range seed {
		if _, err := store.CreateExample(e); err != nil {
			t.Fatalf("CreateExample failed: %v", err)
		}
	}

	r := NewRetriever(store, nil, RetrieverCaps{Examples: 2}, time.Second)
	out, err := r.Retrieve(context.Background(), "orders by region", dbpool.DialectMySQL)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(out.Examples) != 2 {
		t.Fatalf("expected 2 examples, got %d", len(out.Examples))
	}
	for _, e := range out.Examples {
		if e.Dialect == dbpool.DialectPostgres {
			t.Errorf("postgres example must not reach a mysql turn: %+v", e)
		}
	}
	// matching dialect wins over dialect-free
	if out.Examples[0].Dialect != dbpool.DialectMySQL {
		t.Errorf("dialect match must rank first, got %+v", out.Examples[0])
	}
}

func TestRetrieveVectorLaneDegrades(t *testing.T) {
	store := knowledgeStore(t)
	if _, err := store.CreateTerm(database.Term{Phrase: "revenue", FieldName: "amount"}); err != nil {
		t.Fatalf("CreateTerm failed: %v", err)
	}

	r := NewRetriever(store, &fixedEmbedder{err: fmt.Errorf("embedding endpoint down")}, RetrieverCaps{}, time.Second)
	out, err := r.Retrieve(context.Background(), "total revenue", dbpool.DialectMySQL)
	if err != nil {
		t.Fatalf("a failing vector lane must not fail the retrieval: %v", err)
	}
	if !out.Degraded {
		t.Error("expected Degraded when the embedder fails")
	}
	if len(out.Terms) != 1 {
		t.Errorf("lexical lane must still deliver, got %+v", out.Terms)
	}
}

func TestRetrieveVectorLane(t *testing.T) {
	store := knowledgeStore(t)
	a, err := store.CreateArticle(database.Article{Title: "Returns policy", Body: "Refund handling rules."})
	if err != nil {
		t.Fatalf("CreateArticle failed: %v", err)
	}
	if err := store.SetArticleEmbedding(a.ID, EncodeVector([]float32{1, 0, 0})); err != nil {
		t.Fatalf("SetArticleEmbedding failed: %v", err)
	}

	emb := &fixedEmbedder{vectors: map[string][]float32{"退货怎么处理": {1, 0, 0}}}
	r := NewRetriever(store, emb, RetrieverCaps{}, time.Second)
	out, err := r.Retrieve(context.Background(), "退货怎么处理", dbpool.DialectMySQL)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(out.Articles) != 1 || out.Articles[0].Title != "Returns policy" {
		t.Errorf("expected the vector-matched article, got %+v", out.Articles)
	}
}

func TestInvalidateIndexPicksUpWrites(t *testing.T) {
	store := knowledgeStore(t)
	r := NewRetriever(store, nil, RetrieverCaps{}, time.Second)
	store.SetChangeHook(r.InvalidateIndex)

	out, err := r.Retrieve(context.Background(), "churn rate", dbpool.DialectMySQL)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(out.Terms) != 0 {
		t.Fatalf("expected empty store, got %+v", out.Terms)
	}

	if _, err := store.CreateTerm(database.Term{Phrase: "churn rate", FieldName: "churn_pct"}); err != nil {
		t.Fatalf("CreateTerm failed: %v", err)
	}

	out, err = r.Retrieve(context.Background(), "churn rate", dbpool.DialectMySQL)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(out.Terms) != 1 {
		t.Error("a write must invalidate the index through the change hook")
	}
}

func TestRecommend(t *testing.T) {
	store := knowledgeStore(t)
	for i := 0; i < 3; i++ {
		q := fmt.Sprintf("orders by region variant %d", i)
		if _, err := store.CreateExample(database.Example{Question: q, SQL: "SELECT 1"}); err != nil {
			t.Fatalf("CreateExample failed: %v", err)
		}
	}

	r := NewRetriever(store, nil, RetrieverCaps{}, time.Second)
	got := r.Recommend("orders by region variant 1", 5)
	if len(got) == 0 {
		t.Fatal("expected recommendations")
	}
	for _, q := range got {
		if q == "orders by region variant 1" {
			t.Error("the asked question must not recommend itself")
		}
	}
}
