package store

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, dims int) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{Path: MemoryPath, Dimensions: dims})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// unit returns a unit vector of length dims pointing mostly along axis.
func unit(dims, axis int, spill float32) []float32 {
	v := make([]float32, dims)
	v[axis] = 1
	if spill != 0 {
		v[(axis+1)%dims] = spill
	}
	var s float64
	for _, x := range v {
		s += float64(x * x)
	}
	inv := float32(1 / math.Sqrt(s))
	for i := range v {
		v[i] *= inv
	}
	return v
}

func addDoc(t *testing.T, s *Store, url string) int64 {
	t.Helper()
	id, err := s.UpsertDocument(context.Background(), DocumentInput{URL: url, Title: "t " + url, RawText: "body"})
	require.NoError(t, err)
	return id
}

func TestUpsertDocumentIsIdempotent(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()

	first, err := s.UpsertDocument(ctx, DocumentInput{URL: "https://a.example/x", Title: "First", RawText: "one"})
	require.NoError(t, err)
	second, err := s.UpsertDocument(ctx, DocumentInput{URL: "https://a.example/x", Title: "Second", RawText: "two"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	doc, err := s.GetDocument(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "First", doc.Title, "first write wins")
	assert.Equal(t, HashURL("https://a.example/x"), doc.URLHash)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.DocumentCount)

	has, err := s.HasDocument(ctx, "https://a.example/x")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = s.HasDocument(ctx, "https://b.example/")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = s.UpsertDocument(ctx, DocumentInput{URL: "  "})
	assert.True(t, IsConstraintError(err))
}

func TestDocumentTimesRoundTrip(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()
	pub := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fetched := time.Date(2024, 3, 2, 8, 30, 0, 0, time.UTC)

	id, err := s.UpsertDocument(ctx, DocumentInput{URL: "u", RawText: "x", PublishedAt: &pub, FetchedAt: fetched})
	require.NoError(t, err)
	doc, err := s.GetDocument(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, doc.PublishedAt)
	assert.True(t, pub.Equal(*doc.PublishedAt))
	assert.True(t, fetched.Equal(doc.FetchedAt))
}

func TestAddPassageConstraints(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()
	doc := addDoc(t, s, "u1")

	tests := []struct {
		name  string
		docID int64
		seq   int
		vec   []float32
	}{
		{"unknown document", doc + 100, 0, unit(4, 0, 0)},
		{"wrong dimension", doc, 0, unit(3, 0, 0)},
		{"not normalized", doc, 0, []float32{1, 1, 0, 0}},
		{"empty vector", doc, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddPassage(ctx, tt.docID, tt.seq, "text", tt.vec)
			require.Error(t, err)
			assert.True(t, IsConstraintError(err))
		})
	}

	_, err := s.AddPassage(ctx, doc, 0, "ok", unit(4, 0, 0))
	require.NoError(t, err)
	_, err = s.AddPassage(ctx, doc, 0, "dup seq", unit(4, 1, 0))
	assert.True(t, IsConstraintError(err))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.PassageCount, "rejected passages leave no rows")
	assert.Equal(t, 1, s.PassageCount())
}

func TestNearestPassagesOrdering(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()
	doc := addDoc(t, s, "u1")

	idA, err := s.AddPassage(ctx, doc, 0, "a", unit(4, 0, 0))
	require.NoError(t, err)
	idB, err := s.AddPassage(ctx, doc, 1, "b", unit(4, 0, 0.5))
	require.NoError(t, err)
	idC, err := s.AddPassage(ctx, doc, 2, "c", unit(4, 0, 0)) // same vector as a
	require.NoError(t, err)
	_, err = s.AddPassage(ctx, doc, 3, "d", unit(4, 2, 0))
	require.NoError(t, err)

	got, err := s.NearestPassages(ctx, unit(4, 0, 0), 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	ids := []int64{got[0].PassageID, got[1].PassageID, got[2].PassageID}
	if diff := cmp.Diff([]int64{idA, idC, idB}, ids); diff != "" {
		t.Errorf("ordering mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
	assert.Equal(t, got[0].Similarity, got[1].Similarity)
	assert.Equal(t, "a", got[0].Text)
	assert.Equal(t, "u1", got[0].URL)
	assert.Equal(t, doc, got[2].DocumentID)
}

func TestNearestPassagesBounds(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()

	got, err := s.NearestPassages(ctx, unit(4, 0, 0), 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	doc := addDoc(t, s, "u1")
	_, err = s.AddPassage(ctx, doc, 0, "only", unit(4, 1, 0))
	require.NoError(t, err)

	got, err = s.NearestPassages(ctx, unit(4, 0, 0), 5)
	require.NoError(t, err)
	assert.Len(t, got, 1, "never more than the passage count")

	got, err = s.NearestPassages(ctx, unit(4, 0, 0), 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.NearestPassages(ctx, unit(3, 0, 0), 1)
	assert.True(t, IsConstraintError(err))
}

func TestFirstPassageFixesDimension(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	doc := addDoc(t, s, "u1")
	assert.Equal(t, 0, s.Dimensions())

	_, err := s.AddPassage(ctx, doc, 0, "x", unit(6, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 6, s.Dimensions())

	_, err = s.AddPassage(ctx, doc, 1, "y", unit(4, 0, 0))
	assert.True(t, IsConstraintError(err))
}

func TestReopenRestoresIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "k.db")
	ctx := context.Background()

	s, err := Open(ctx, Options{Path: path, Dimensions: 4})
	require.NoError(t, err)
	doc := addDoc(t, s, "u1")
	id, err := s.AddPassage(ctx, doc, 0, "persisted", unit(4, 3, 0))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Options{Path: path})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 4, s.Dimensions())

	got, err := s.NearestPassages(ctx, unit(4, 3, 0), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].PassageID)
	assert.Equal(t, "persisted", got[0].Text)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Greater(t, st.StorageSizeBytes, int64(0))
}

func TestReopenWithDifferentDimensionFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k.db")
	ctx := context.Background()

	s, err := Open(ctx, Options{Path: path, Dimensions: 4})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Options{Path: path, Dimensions: 8})
	require.Error(t, err)
	assert.True(t, IsConstraintError(err))
}

func TestInsights(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()

	_, err := s.StoreInsight(ctx, InsightInput{Topic: "go", Summary: "first", Confidence: 0.55, Sources: []string{"A"}})
	require.NoError(t, err)
	id2, err := s.StoreInsight(ctx, InsightInput{Topic: "go", Summary: "second", Confidence: 0.6})
	require.NoError(t, err)

	_, err = s.StoreInsight(ctx, InsightInput{Topic: "go", Summary: "bad", Confidence: 1.2})
	assert.True(t, IsConstraintError(err))

	got, err := s.RecentInsights(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, id2, got[0].ID)
	assert.Equal(t, []string{}, got[0].Sources)
	assert.Equal(t, []string{"A"}, got[1].Sources)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.InsightCount)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s := newTestStore(t, 4)
	ctx := context.Background()
	doc := addDoc(t, s, "u1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, err := s.AddPassage(ctx, doc, i, "p", unit(4, i%4, 0.1))
			assert.NoError(t, err)
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				got, err := s.NearestPassages(ctx, unit(4, 0, 0), 3)
				assert.NoError(t, err)
				for _, n := range got {
					assert.NotEmpty(t, n.Text)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.PassageCount())
}

func TestVectorBlobRoundTrip(t *testing.T) {
	v := []float32{0.25, -1, 3.5e-8, 0}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestStatsJSONKeys(t *testing.T) {
	s := newTestStore(t, 2)
	st, err := s.Stats(context.Background())
	require.NoError(t, err)

	data, err := json.Marshal(st)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))

	for _, key := range []string{"document_count", "passage_count", "insight_count", "storage_size_bytes"} {
		assert.Contains(t, got, key)
	}
	assert.EqualValues(t, 0, got["document_count"])
	assert.Greater(t, got["storage_size_bytes"], float64(0))
}

func TestClosedStoreReturnsErrClosed(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Path: MemoryPath, Dimensions: 4})
	require.NoError(t, err)
	doc := addDoc(t, s, "u1")
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.NearestPassages(ctx, unit(4, 0, 0), 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Stats(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.AddPassage(ctx, doc, 0, "late", unit(4, 0, 0))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.HasDocument(ctx, "u1")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.UpsertDocument(ctx, DocumentInput{URL: "u2"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.StoreInsight(ctx, InsightInput{Topic: "t", Summary: "s"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.RecentInsights(ctx, 1)
	assert.ErrorIs(t, err, ErrClosed)
}
