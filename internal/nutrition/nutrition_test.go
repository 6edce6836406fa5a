package nutrition

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Brownie44l1/food-ai-api/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, AppID: "app-id", APIKey: "app-key"})
}

func TestLookup_FirstMatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/natural/nutrients", r.URL.Path)
		assert.Equal(t, "app-id", r.Header.Get("x-app-id"))
		assert.Equal(t, "app-key", r.Header.Get("x-app-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"query":"apple_pie"}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"foods":[
			{"food_name":"apple pie","nf_calories":296.1,"nf_protein":2.37,"nf_total_fat":13.75,"nf_total_carbohydrate":42.5},
			{"food_name":"pie","nf_calories":1,"nf_protein":1,"nf_total_fat":1,"nf_total_carbohydrate":1}
		]}`))
	})

	facts, err := client.Lookup(context.Background(), "apple_pie")
	require.NoError(t, err)
	require.True(t, facts.Found)

	assert.Equal(t, 296.1, *facts.Calories)
	assert.Equal(t, 2.37, *facts.Protein)
	assert.Equal(t, 13.75, *facts.Fat)
	assert.Equal(t, 42.5, *facts.Carbs)

	raw, err := json.Marshal(facts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"calories":296.1,"protein":2.37,"fat":13.75,"carbs":42.5}`, string(raw))
}

func TestLookup_NullFieldsPassThrough(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"foods":[{"nf_calories":120,"nf_protein":null}]}`))
	})

	facts, err := client.Lookup(context.Background(), "sushi")
	require.NoError(t, err)
	assert.Nil(t, facts.Protein)
	assert.Nil(t, facts.Fat)

	raw, err := json.Marshal(facts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"calories":120,"protein":null,"fat":null,"carbs":null}`, string(raw))
}

func TestLookup_NoMatch(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "empty foods",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"foods":[]}`))
			},
		},
		{
			name: "missing foods",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{}`))
			},
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"message":"We couldn't match any of your foods"}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)

			facts, err := client.Lookup(context.Background(), "mystery")
			require.NoError(t, err)
			assert.False(t, facts.Found)

			raw, err := json.Marshal(facts)
			require.NoError(t, err)
			assert.Equal(t, `{}`, string(raw))
		})
	}
}

func TestLookup_StatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"unauthorized"}`))
	})

	_, err := client.Lookup(context.Background(), "pizza")
	require.Error(t, err)

	var se *upstream.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.False(t, upstream.Retryable(err))
}

func TestLookup_InvalidJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := client.Lookup(context.Background(), "pizza")
	assert.Error(t, err)
}

func TestLookup_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.Lookup(context.Background(), "pizza")
	require.Error(t, err)
	assert.True(t, upstream.Retryable(err))
}

func TestLookup_DegradesToEmptyUnderPolicy(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	opts := upstream.Options{Name: "nutrition", Policy: upstream.Degrade, Retries: 1, RetryWait: 1}
	facts, err := upstream.Call(context.Background(), opts, Facts{}, func(ctx context.Context) (Facts, error) {
		return client.Lookup(ctx, "pizza")
	})

	require.NoError(t, err)
	assert.False(t, facts.Found)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewClient_DefaultBaseURL(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, DefaultBaseURL, c.baseURL)

	c = NewClient(Config{BaseURL: "http://example.test/"})
	assert.Equal(t, "http://example.test", c.baseURL)
}
