package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ApiError is any non-2xx answer from the catalog. The status code is kept so
// callers can map the server's error taxonomy onto their own (the cli turns
// it into exit codes).
type ApiError struct {
	StatusCode int
	Message    string
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("request failed with status %d: %v", e.StatusCode, e.Message)
}

type httpRequest struct {
	method      string
	baseUrl     string
	endpoint    string
	headers     map[string]string
	queryParams map[string]string
	json        interface{}
	body        io.Reader
}

func newHttpRequest(method, baseUrl, endpoint string) *httpRequest {
	return &httpRequest{
		method:      method,
		baseUrl:     baseUrl,
		endpoint:    endpoint,
		headers:     nil,
		queryParams: nil,
		json:        nil,
		body:        nil,
	}
}

func (r *httpRequest) Header(key, value string) *httpRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpRequest) Auth(token string) *httpRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpRequest) Json(data interface{}) *httpRequest {
	r.json = data
	return r
}

func (r *httpRequest) Param(key, value string) *httpRequest {
	if r.queryParams == nil {
		r.queryParams = make(map[string]string)
	}
	r.queryParams[key] = value
	return r
}

func (r *httpRequest) Process(resultHandler func(body io.Reader) error) error {
	fullEndpoint, err := url.JoinPath(r.baseUrl, r.endpoint)
	if err != nil {
		return fmt.Errorf("error formatting url for endpoint %v: %w", r.endpoint, err)
	}

	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req, err := http.NewRequest(r.method, fullEndpoint, r.body)
	if err != nil {
		return fmt.Errorf("error creating %v request for endpoint %v: %w", r.method, r.endpoint, err)
	}

	if r.headers != nil {
		for k, v := range r.headers {
			req.Header.Add(k, v)
		}
	}

	if r.queryParams != nil {
		query := req.URL.Query()
		for k, v := range r.queryParams {
			query.Add(k, v)
		}
		req.URL.RawQuery = query.Encode()
	}

	start := time.Now()

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending %v request to endpoint %v: %w", r.method, r.endpoint, err)
	}
	defer res.Body.Close()

	end := time.Now()

	slog.Debug("genome catalog client", "method", r.method, "endpoint", r.endpoint, "status", res.StatusCode, "duration", end.Sub(start).String())

	if res.StatusCode != http.StatusOK {
		return apiErrorOf(res.StatusCode, res.Body)
	}

	if resultHandler != nil {
		err := resultHandler(res.Body)
		if err != nil {
			return fmt.Errorf("error processing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

// apiErrorOf extracts the envelope error from a failed response, falling back
// to the raw body when the server did not answer with an envelope.
func apiErrorOf(statusCode int, body io.Reader) *ApiError {
	content, err := io.ReadAll(body)
	if err != nil {
		return &ApiError{StatusCode: statusCode}
	}

	var envelope queryResponse
	if err := json.Unmarshal(content, &envelope); err == nil && envelope.Error != "" {
		return &ApiError{StatusCode: statusCode, Message: envelope.Error}
	}
	return &ApiError{StatusCode: statusCode, Message: string(content)}
}

// queryResult mirrors one entry of the catalog response envelope. Results are
// kept raw here so each endpoint can decode them into its own type.
type queryResult struct {
	Result          []json.RawMessage `json:"result"`
	NumResults      int               `json:"numResults"`
	NumTotalResults int64             `json:"numTotalResults"`
	DbTime          int64             `json:"dbTime"`
	WarningMsg      string            `json:"warningMsg"`
	ErrorMsg        string            `json:"errorMsg"`
}

type queryResponse struct {
	Error    string        `json:"error"`
	Response []queryResult `json:"response"`
}

func (r *httpRequest) envelope() (*queryResponse, error) {
	var envelope queryResponse
	err := r.Process(func(body io.Reader) error {
		if err := json.NewDecoder(body).Decode(&envelope); err != nil {
			return fmt.Errorf("error parsing response envelope: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &envelope, nil
}

// one runs the request and decodes the single result of the first envelope
// entry.
func one[T any](r *httpRequest) (T, error) {
	var result T

	envelope, err := r.envelope()
	if err != nil {
		return result, err
	}
	if len(envelope.Response) == 0 || len(envelope.Response[0].Result) == 0 {
		return result, fmt.Errorf("endpoint %v returned an empty response", r.endpoint)
	}

	if err := json.Unmarshal(envelope.Response[0].Result[0], &result); err != nil {
		return result, fmt.Errorf("error parsing result from endpoint %v: %w", r.endpoint, err)
	}
	return result, nil
}

// list runs the request and decodes every result of the first envelope entry.
func list[T any](r *httpRequest) ([]T, error) {
	envelope, err := r.envelope()
	if err != nil {
		return nil, err
	}
	if len(envelope.Response) == 0 {
		return nil, fmt.Errorf("endpoint %v returned an empty response", r.endpoint)
	}

	results := make([]T, 0, len(envelope.Response[0].Result))
	for _, raw := range envelope.Response[0].Result {
		var result T
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("error parsing result from endpoint %v: %w", r.endpoint, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// Entry is one item of a bulk lookup: either a decoded result or the per-item
// error message the server recorded for it in silent mode.
type Entry[T any] struct {
	Result   T
	ErrorMsg string
}

// entries runs a bulk request and decodes one entry per envelope response,
// preserving the request order.
func entries[T any](r *httpRequest) ([]Entry[T], error) {
	envelope, err := r.envelope()
	if err != nil {
		return nil, err
	}

	items := make([]Entry[T], 0, len(envelope.Response))
	for _, entry := range envelope.Response {
		if entry.ErrorMsg != "" || len(entry.Result) == 0 {
			items = append(items, Entry[T]{ErrorMsg: entry.ErrorMsg})
			continue
		}
		var result T
		if err := json.Unmarshal(entry.Result[0], &result); err != nil {
			return nil, fmt.Errorf("error parsing result from endpoint %v: %w", r.endpoint, err)
		}
		items = append(items, Entry[T]{Result: result})
	}
	return items, nil
}

type BaseClient struct {
	baseUrl   string
	authToken string
}

func NewBaseClient(baseUrl string, authToken string) BaseClient {
	return BaseClient{baseUrl: baseUrl, authToken: authToken}
}

func (c *BaseClient) addAuthHeaders(r *httpRequest) *httpRequest {
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *BaseClient) Get(endpoint string) *httpRequest {
	r := newHttpRequest("GET", c.baseUrl, endpoint)
	return c.addAuthHeaders(r)
}

func (c *BaseClient) Post(endpoint string) *httpRequest {
	r := newHttpRequest("POST", c.baseUrl, endpoint)
	return c.addAuthHeaders(r)
}

func (c *BaseClient) Put(endpoint string) *httpRequest {
	r := newHttpRequest("PUT", c.baseUrl, endpoint)
	return c.addAuthHeaders(r)
}

func (c *BaseClient) Delete(endpoint string) *httpRequest {
	r := newHttpRequest("DELETE", c.baseUrl, endpoint)
	return c.addAuthHeaders(r)
}
