package erp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(Config{
		BaseURL:   srv.URL,
		APIKey:    "key",
		APISecret: "secret",
	}, nil)
	require.NoError(t, err)
	return client
}

func TestGetDoc(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/resource/Sales%20Order/SO-0001", r.URL.EscapedPath())
		assert.Equal(t, "token key:secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data": {"name": "SO-0001", "customer": "ACME"}}`))
	})

	doc, err := client.GetDoc(context.Background(), "Sales Order", "SO-0001")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name": "SO-0001", "customer": "ACME"}`, string(doc))
}

func TestListDocs_EncodesFilters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/resource/Item", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("limit_page_length"))

		var filters [][3]string
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("filters")), &filters))
		require.Len(t, filters, 1)
		assert.Equal(t, [3]string{"item_group", "=", "Raw Material"}, filters[0])

		w.Write([]byte(`{"data": []}`))
	})

	_, err := client.ListDocs(context.Background(), "Item",
		map[string]string{"item_group": "Raw Material"}, 20)
	require.NoError(t, err)
}

func TestCreateDoc(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var doc map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
		assert.Equal(t, "ACME", doc["customer"])

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data": {"name": "SO-0002"}}`))
	})

	created, err := client.CreateDoc(context.Background(), "Sales Order",
		json.RawMessage(`{"customer": "ACME"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name": "SO-0002"}`, string(created))
}

func TestAPIError_KeepsBodyVerbatim(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusExpectationFailed)
		w.Write([]byte(`{"exc_type": "ValidationError", "message": "Required field missing: delivery_date"}`))
	})

	_, err := client.CreateDoc(context.Background(), "Sales Order", json.RawMessage(`{}`))
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusExpectationFailed, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "delivery_date")
}

func TestSearchKnowledge_UnwrapsMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "delivery note workflow", r.URL.Query().Get("query"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"message": "A Delivery Note is created from a submitted Sales Order."}`))
	})

	text, err := client.SearchKnowledge(context.Background(), "delivery note workflow", 0)
	require.NoError(t, err)
	assert.Equal(t, "A Delivery Note is created from a submitted Sales Order.", text)
}

func TestDeleteDoc(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodDelete, r.Method)
		w.Write([]byte(`{"message": "ok"}`))
	})

	require.NoError(t, client.DeleteDoc(context.Background(), "Sales Order", "SO-0001"))
	assert.True(t, called)
}
