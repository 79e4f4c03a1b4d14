package services

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"genome_catalog/utils"
)

// QueryResult is one entry of the catalog response envelope. Bulk endpoints
// produce one entry per requested id, in request order; in silent mode a
// failed item becomes an empty entry carrying ErrorMsg.
type QueryResult struct {
	Result          []interface{} `json:"result"`
	NumResults      int           `json:"numResults"`
	NumTotalResults int64         `json:"numTotalResults"`
	DbTime          int64         `json:"dbTime"`
	WarningMsg      string        `json:"warningMsg,omitempty"`
	ErrorMsg        string        `json:"errorMsg,omitempty"`
}

// QueryResponse is the envelope every data endpoint answers with. Error is
// only set on failed requests, alongside a non-2xx status.
type QueryResponse struct {
	Error    string        `json:"error,omitempty"`
	Response []QueryResult `json:"response"`
}

func resultOf(started time.Time, items ...interface{}) QueryResult {
	if items == nil {
		items = []interface{}{}
	}
	return QueryResult{
		Result:          items,
		NumResults:      len(items),
		NumTotalResults: int64(len(items)),
		DbTime:          time.Since(started).Milliseconds(),
	}
}

func errorResultOf(started time.Time, err error) QueryResult {
	return QueryResult{
		Result:   []interface{}{},
		DbTime:   time.Since(started).Milliseconds(),
		ErrorMsg: err.Error(),
	}
}

func writeQueryResponse(w http.ResponseWriter, results ...QueryResult) {
	if results == nil {
		results = []QueryResult{}
	}
	utils.WriteJsonResponse(w, QueryResponse{Response: results})
}

func writeQueryError(w http.ResponseWriter, err error) {
	code := GetResponseCode(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	encodeErr := json.NewEncoder(w).Encode(QueryResponse{Error: err.Error(), Response: []QueryResult{}})
	if encodeErr != nil {
		slog.Error("error serializing error response", "error", encodeErr)
	}
}
