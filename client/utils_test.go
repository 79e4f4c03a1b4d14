package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type item struct {
	Id   int64  `json:"id"`
	Name string `json:"name"`
}

func TestEnvelopeDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":[{"result":[{"id":7,"name":"a"},{"id":8,"name":"b"}],"numResults":2,"numTotalResults":2}]}`))
	}))
	defer server.Close()

	base := NewBaseClient(server.URL, "")

	first, err := one[item](base.Get("/things"))
	assert.NoError(t, err)
	assert.Equal(t, item{Id: 7, Name: "a"}, first)

	all, err := list[item](base.Get("/things"))
	assert.NoError(t, err)
	assert.Equal(t, []item{{Id: 7, Name: "a"}, {Id: 8, Name: "b"}}, all)
}

func TestEnvelopeEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":[{"result":[],"numResults":0,"numTotalResults":0}]}`))
	}))
	defer server.Close()

	base := NewBaseClient(server.URL, "")

	_, err := one[item](base.Get("/things"))
	assert.ErrorContains(t, err, "empty response")

	all, err := list[item](base.Get("/things"))
	assert.NoError(t, err)
	assert.Empty(t, all)
}

func TestEntriesKeepPerItemErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":[` +
			`{"result":[{"id":7,"name":"a"}],"numResults":1,"numTotalResults":1},` +
			`{"result":[],"numResults":0,"numTotalResults":0,"errorMsg":"File 'ghost.vcf' not found in study 'demo'"}]}`))
	}))
	defer server.Close()

	base := NewBaseClient(server.URL, "")

	items, err := entries[item](base.Get("/things"))
	assert.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, item{Id: 7, Name: "a"}, items[0].Result)
	assert.Empty(t, items[0].ErrorMsg)
	assert.Equal(t, "File 'ghost.vcf' not found in study 'demo'", items[1].ErrorMsg)
}

func TestApiErrorFromEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"user 'bob' does not have permission VIEW","response":[]}`))
	}))
	defer server.Close()

	base := NewBaseClient(server.URL, "")

	_, err := one[item](base.Get("/things"))
	var apiErr *ApiError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "user 'bob' does not have permission VIEW", apiErr.Message)
}

func TestApiErrorFromRawBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("backend exploded"))
	}))
	defer server.Close()

	base := NewBaseClient(server.URL, "")

	err := base.Get("/things").Process(nil)
	var apiErr *ApiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected ApiError, got %v", err)
	}
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "backend exploded", apiErr.Message)
}

func TestRequestCarriesAuthAndParams(t *testing.T) {
	var gotAuth, gotStudy string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotStudy = r.URL.Query().Get("study")
		w.Write([]byte(`{"response":[{"result":[{"id":1,"name":"x"}],"numResults":1,"numTotalResults":1}]}`))
	}))
	defer server.Close()

	base := NewBaseClient(server.URL, "token-123")

	_, err := one[item](base.Get("/things").Param("study", "demo"))
	assert.NoError(t, err)
	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.Equal(t, "demo", gotStudy)
}
