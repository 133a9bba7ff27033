package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dialogd/internal/config"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedder(t *testing.T) {
	h, err := NewHashEmbedder(256)
	require.NoError(t, err)
	assert.Equal(t, 256, h.Dimensions())
	ctx := context.Background()

	docs, err := h.EmbedDocuments(ctx, []string{
		"weather in Lisbon tomorrow",
		"Lisbon weather forecast",
		"book a table for two",
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for _, v := range docs {
		assert.Len(t, v, 256)
		assert.InDelta(t, 1.0, cosine(v, v), 1e-5)
	}
	assert.Greater(t, cosine(docs[0], docs[1]), cosine(docs[0], docs[2]))

	q1, err := h.EmbedQuery(ctx, "Weather, Lisbon!")
	require.NoError(t, err)
	q2, err := h.EmbedQuery(ctx, "weather lisbon")
	require.NoError(t, err)
	assert.Equal(t, q1, q2, "case and punctuation are ignored")

	blank, err := h.EmbedQuery(ctx, "   ")
	require.NoError(t, err)
	assert.Equal(t, float32(1), blank[0])
}

func TestHashEmbedder_Errors(t *testing.T) {
	_, err := NewHashEmbedder(0)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	h, err := NewHashEmbedder(8)
	require.NoError(t, err)
	_, err = h.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = h.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

// newEmbeddingServer serves the OpenAI /embeddings endpoint with
// vectors whose first component is the input index.
func newEmbeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data := make([]map[string]interface{}, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i + 1), 0.5, 0.25},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestService_AgainstCompatibleEndpoint(t *testing.T) {
	srv := newEmbeddingServer(t)
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL, Model: "BAAI/bge-small-en-v1.5"})
	require.NoError(t, err)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0.5, 0.25}, vectors[0])
	assert.Equal(t, []float32{2, 0.5, 0.25}, vectors[1])

	q, err := svc.EmbedQuery(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.5, 0.25}, q)

	_, err = svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestNewService_InvalidConfig(t *testing.T) {
	_, err := NewService(Config{Model: "m"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewService(Config{BaseURL: "http://localhost"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew(t *testing.T) {
	e, err := New(config.EmbeddingsConfig{Provider: config.EmbeddingsHash, Dimensions: 16})
	require.NoError(t, err)
	assert.IsType(t, &HashEmbedder{}, e)

	e, err = New(config.EmbeddingsConfig{Provider: config.EmbeddingsOpenAI, BaseURL: "http://localhost:8080/v1", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &Service{}, e)

	_, err = New(config.EmbeddingsConfig{Provider: "fastembed"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("down")
}

func (failingEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, errors.New("down")
}

func TestInstrument(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	h, err := NewHashEmbedder(8)
	require.NoError(t, err)
	ok := Instrument(h, "hash", meter, zap.NewNop())
	bad := Instrument(failingEmbedder{}, "broken", meter, nil)

	_, err = ok.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	_, err = bad.EmbedQuery(context.Background(), "q")
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = m.Data
		}
	}
	require.Contains(t, names, "dialogd.embedding.duration")
	require.Contains(t, names, "dialogd.embedding.batch_size")
	require.Contains(t, names, "dialogd.embedding.errors")

	errs := names["dialogd.embedding.errors"].(metricdata.Sum[int64])
	require.Len(t, errs.DataPoints, 1)
	assert.Equal(t, int64(1), errs.DataPoints[0].Value)
}
