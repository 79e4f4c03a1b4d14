package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
		headers:  nil,
		json:     nil,
		body:     nil,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) Body(body io.Reader) *httpTestRequest {
	r.body = body
	return r
}

// Do executes the request. The response body is parsed into result, passing
// nil indicates that no result is expected.
func (r *httpTestRequest) Do(result interface{}) error {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	if r.headers != nil {
		for k, v := range r.headers {
			req.Header.Add(k, v)
		}
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return &httpError{Method: r.method, Endpoint: r.endpoint, StatusCode: res.StatusCode, Content: w.Body.String()}
	}

	if result != nil {
		err := json.NewDecoder(res.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

// DoQuery executes the request and decodes the first item of the response
// envelope into result. Passing nil skips decoding.
func (r *httpTestRequest) DoQuery(result interface{}) error {
	var res queryResponse
	if err := r.Do(&res); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return res.first(result)
}

// DoList executes the request and decodes every item of the first envelope
// entry into result, which must be a pointer to a slice.
func (r *httpTestRequest) DoList(result interface{}) error {
	var res queryResponse
	if err := r.Do(&res); err != nil {
		return err
	}
	return res.items(result)
}

var ErrUnauthorized = errors.New("unauthorized")

// httpError keeps the status and body of a failed request around so tests can
// assert on both.
type httpError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Content    string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("%v request to endpoint %v returned status %d, content '%v'", e.Method, e.Endpoint, e.StatusCode, e.Content)
}

func (e *httpError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

func statusOf(err error) int {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// envelopeError extracts the top level error message of a failed request.
func envelopeError(err error) string {
	var httpErr *httpError
	if !errors.As(err, &httpErr) {
		return ""
	}
	var res queryResponse
	if jsonErr := json.Unmarshal([]byte(httpErr.Content), &res); jsonErr != nil {
		return ""
	}
	return res.Error
}

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

func (q *queryResponse) first(result interface{}) error {
	if len(q.Response) == 0 || len(q.Response[0].Result) == 0 {
		return fmt.Errorf("response envelope has no results")
	}
	return json.Unmarshal(q.Response[0].Result[0], result)
}

func (q *queryResponse) items(result interface{}) error {
	if len(q.Response) == 0 {
		return fmt.Errorf("response envelope has no results")
	}
	data, err := json.Marshal(q.Response[0].Result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}

// entry decodes the single item of the i-th envelope entry.
func (q *queryResponse) entry(i int, result interface{}) error {
	if i >= len(q.Response) {
		return fmt.Errorf("response envelope has only %d entries", len(q.Response))
	}
	if len(q.Response[i].Result) == 0 {
		return fmt.Errorf("entry %d of the response envelope is empty", i)
	}
	return json.Unmarshal(q.Response[i].Result[0], result)
}

type client struct {
	api       chi.Router
	authToken string
	userId    string
}

func (c *client) Get(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "GET", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Post(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "POST", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Put(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "PUT", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "DELETE", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func withQuery(endpoint string, params url.Values) string {
	if len(params) == 0 {
		return endpoint
	}
	return endpoint + "?" + params.Encode()
}

func studyQuery(study string) url.Values {
	params := url.Values{}
	if study != "" {
		params.Set("study", study)
	}
	return params
}

type loginInfo struct {
	UserId      string `json:"userId"`
	AccessToken string `json:"accessToken"`
}

func (c *client) login(user, password string) error {
	body := map[string]string{"user": user, "password": password}

	var res loginInfo
	err := c.Post("/users/login").Json(body).DoQuery(&res)
	if err != nil {
		return err
	}

	c.authToken = res.AccessToken
	c.userId = res.UserId

	return nil
}

type userInfo struct {
	Id           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

func (c *client) createUser(user, name, email, password string) (userInfo, error) {
	body := map[string]string{
		"user": user, "name": name, "email": email, "password": password,
	}

	var res userInfo
	err := c.Post("/users").Json(body).DoQuery(&res)
	return res, err
}

func (c *client) userInfo(user string) (userInfo, error) {
	var res userInfo
	err := c.Get(fmt.Sprintf("/users/%v/info", user)).DoQuery(&res)
	return res, err
}

func (c *client) tokenExpiration() (time.Time, error) {
	var res struct {
		Expiration time.Time `json:"expiration"`
	}
	err := c.Get("/users/token-expiration").DoQuery(&res)
	return res.Expiration, err
}

type projectInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	Alias        string    `json:"alias"`
	Owner        string    `json:"owner"`
	Description  string    `json:"description"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

func (c *client) createProject(name, alias, description string) (projectInfo, error) {
	body := map[string]string{"name": name, "alias": alias, "description": description}

	var res projectInfo
	err := c.Post("/projects").Json(body).DoQuery(&res)
	return res, err
}

func (c *client) projectInfo(ref string) (projectInfo, error) {
	var res projectInfo
	err := c.Get(fmt.Sprintf("/projects/%v/info", ref)).DoQuery(&res)
	return res, err
}

type studyInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	Alias        string    `json:"alias"`
	ProjectId    int64     `json:"projectId"`
	Description  string    `json:"description"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

func (c *client) createStudy(project, name, alias, description string) (studyInfo, error) {
	body := map[string]string{
		"project": project, "name": name, "alias": alias, "description": description,
	}

	var res studyInfo
	err := c.Post("/studies").Json(body).DoQuery(&res)
	return res, err
}

func (c *client) studyInfo(ref string) (studyInfo, error) {
	var res studyInfo
	err := c.Get(fmt.Sprintf("/studies/%v/info", ref)).DoQuery(&res)
	return res, err
}

type groupInfo struct {
	Name  string   `json:"name"`
	Users []string `json:"users"`
}

func (c *client) groups(study string) ([]groupInfo, error) {
	var res []groupInfo
	err := c.Get(fmt.Sprintf("/studies/%v/groups", study)).DoList(&res)
	return res, err
}

func (c *client) createGroup(study, name string, users []string) (groupInfo, error) {
	body := map[string]interface{}{"name": name, "users": users}

	var res groupInfo
	err := c.Post(fmt.Sprintf("/studies/%v/groups", study)).Json(body).DoQuery(&res)
	return res, err
}

func (c *client) addGroupMembers(study, group string, users []string) (groupInfo, error) {
	body := map[string]interface{}{"users": users}

	var res groupInfo
	err := c.Post(fmt.Sprintf("/studies/%v/groups/%v/members", study, group)).Json(body).DoQuery(&res)
	return res, err
}

func (c *client) removeGroupMember(study, group, user string) error {
	return c.Delete(fmt.Sprintf("/studies/%v/groups/%v/members/%v", study, group, user)).DoQuery(nil)
}

type fileInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Type         string    `json:"type"`
	StudyId      int64     `json:"studyId"`
	Format       string    `json:"format"`
	Bioformat    string    `json:"bioformat"`
	Description  string    `json:"description"`
	Size         int64     `json:"size"`
	ExternalUri  string    `json:"externalUri"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

func (c *client) createFile(study, path string, extra map[string]interface{}) (fileInfo, error) {
	body := map[string]interface{}{"study": study, "path": path}
	for k, v := range extra {
		body[k] = v
	}

	var res fileInfo
	err := c.Post("/files").Json(body).DoQuery(&res)
	return res, err
}

func (c *client) fileInfo(ref, study string) (fileInfo, error) {
	var res fileInfo
	endpoint := withQuery(fmt.Sprintf("/files/%v/info", ref), studyQuery(study))
	err := c.Get(endpoint).DoQuery(&res)
	return res, err
}

func (c *client) filesInfo(refs, study string, silent bool) (queryResponse, error) {
	params := studyQuery(study)
	if silent {
		params.Set("silent", "true")
	}

	var res queryResponse
	err := c.Get(withQuery(fmt.Sprintf("/files/%v/info", refs), params)).Do(&res)
	return res, err
}

func (c *client) searchFiles(study string, filters map[string]string) ([]fileInfo, error) {
	params := studyQuery(study)
	for k, v := range filters {
		params.Set(k, v)
	}

	var res []fileInfo
	err := c.Get(withQuery("/files/search", params)).DoList(&res)
	return res, err
}

func (c *client) download(ref, study string) ([]byte, string, error) {
	endpoint := withQuery(fmt.Sprintf("/files/%v/download", ref), studyQuery(study))

	req := httptest.NewRequest("GET", endpoint, nil)
	if c.authToken != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %v", c.authToken))
	}
	w := httptest.NewRecorder()
	c.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, "", &httpError{Method: "GET", Endpoint: endpoint, StatusCode: res.StatusCode, Content: w.Body.String()}
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", err
	}
	return data, res.Header.Get("Content-Type"), nil
}

type sampleInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	StudyId      int64     `json:"studyId"`
	Source       string    `json:"source"`
	Description  string    `json:"description"`
	IndividualId *int64    `json:"individualId"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

func (c *client) createSample(study, name string, extra map[string]interface{}) (sampleInfo, error) {
	body := map[string]interface{}{"study": study, "name": name}
	for k, v := range extra {
		body[k] = v
	}

	var res sampleInfo
	err := c.Post("/samples").Json(body).DoQuery(&res)
	return res, err
}

func (c *client) sampleInfo(ref, study string) (sampleInfo, error) {
	var res sampleInfo
	endpoint := withQuery(fmt.Sprintf("/samples/%v/info", ref), studyQuery(study))
	err := c.Get(endpoint).DoQuery(&res)
	return res, err
}

func (c *client) searchSamples(study string, filters map[string]string) ([]sampleInfo, error) {
	params := studyQuery(study)
	for k, v := range filters {
		params.Set(k, v)
	}

	var res []sampleInfo
	err := c.Get(withQuery("/samples/search", params)).DoList(&res)
	return res, err
}

type individualInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	StudyId      int64     `json:"studyId"`
	Sex          string    `json:"sex"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

func (c *client) createIndividual(study, name string, extra map[string]interface{}) (individualInfo, error) {
	body := map[string]interface{}{"study": study, "name": name}
	for k, v := range extra {
		body[k] = v
	}

	var res individualInfo
	err := c.Post("/individuals").Json(body).DoQuery(&res)
	return res, err
}

type cohortInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	StudyId      int64     `json:"studyId"`
	Type         string    `json:"type"`
	SampleIds    []int64   `json:"sampleIds"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

func (c *client) createCohort(study, name, cohortType string, sampleIds []int64) (cohortInfo, error) {
	body := map[string]interface{}{
		"study": study, "name": name, "type": cohortType, "sampleIds": sampleIds,
	}

	var res cohortInfo
	err := c.Post("/cohorts").Json(body).DoQuery(&res)
	return res, err
}

func (c *client) cohortInfo(ref, study string) (cohortInfo, error) {
	var res cohortInfo
	endpoint := withQuery(fmt.Sprintf("/cohorts/%v/info", ref), studyQuery(study))
	err := c.Get(endpoint).DoQuery(&res)
	return res, err
}

type datasetInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	StudyId      int64     `json:"studyId"`
	FileIds      []int64   `json:"fileIds"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

func (c *client) createDataset(study, name string, fileIds []int64) (datasetInfo, error) {
	body := map[string]interface{}{"study": study, "name": name, "fileIds": fileIds}

	var res datasetInfo
	err := c.Post("/datasets").Json(body).DoQuery(&res)
	return res, err
}

type panelInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	StudyId      int64     `json:"studyId"`
	Disease      string    `json:"disease"`
	Genes        []string  `json:"genes"`
	Regions      []string  `json:"regions"`
	Variants     []string  `json:"variants"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

func (c *client) createPanel(study, name string, extra map[string]interface{}) (panelInfo, error) {
	body := map[string]interface{}{"study": study, "name": name}
	for k, v := range extra {
		body[k] = v
	}

	var res panelInfo
	err := c.Post("/panels").Json(body).DoQuery(&res)
	return res, err
}

type jobInfo struct {
	Id              int64      `json:"id"`
	Name            string     `json:"name"`
	ToolName        string     `json:"toolName"`
	StudyId         int64      `json:"studyId"`
	UserId          string     `json:"userId"`
	CommandLine     string     `json:"commandLine"`
	OutDir          string     `json:"outDir"`
	Queue           string     `json:"queue"`
	Visited         bool       `json:"visited"`
	CreationDate    time.Time  `json:"creationDate"`
	EndDate         *time.Time `json:"endDate"`
	Status          string     `json:"status"`
	ExecutionStatus string     `json:"executionStatus"`
}

func (c *client) submitJob(study, name, tool string, commandLine []string) (jobInfo, error) {
	body := map[string]interface{}{
		"study": study, "name": name, "toolName": tool, "commandLine": commandLine,
	}

	var res jobInfo
	err := c.Post("/jobs").Json(body).DoQuery(&res)
	return res, err
}

func (c *client) jobInfo(ref string) (jobInfo, error) {
	var res jobInfo
	err := c.Get(fmt.Sprintf("/jobs/%v/info", ref)).DoQuery(&res)
	return res, err
}

func (c *client) jobsInfo(refs string, silent bool) (queryResponse, error) {
	params := url.Values{}
	if silent {
		params.Set("silent", "true")
	}

	var res queryResponse
	err := c.Get(withQuery(fmt.Sprintf("/jobs/%v/info", refs), params)).Do(&res)
	return res, err
}

func (c *client) visitJobs(refs string, silent bool) (queryResponse, error) {
	params := url.Values{}
	if silent {
		params.Set("silent", "true")
	}

	var res queryResponse
	err := c.Get(withQuery(fmt.Sprintf("/jobs/%v/visit", refs), params)).Do(&res)
	return res, err
}

func (c *client) deleteJob(ref string) (jobInfo, error) {
	var res jobInfo
	err := c.Delete(fmt.Sprintf("/jobs/%v", ref)).DoQuery(&res)
	return res, err
}

func (c *client) searchJobs(study string, filters map[string]string) ([]jobInfo, error) {
	params := studyQuery(study)
	for k, v := range filters {
		params.Set(k, v)
	}

	var res []jobInfo
	err := c.Get(withQuery("/jobs/search", params)).DoList(&res)
	return res, err
}

type memberAcl struct {
	Member      string   `json:"member"`
	Permissions []string `json:"permissions"`
}

// kind is the url prefix of the entity the acls sit on, e.g. "studies",
// "files" or "jobs".
func (c *client) createAcls(kind, ref, study string, members, permissions []string) ([]memberAcl, error) {
	body := map[string]interface{}{"members": members, "permissions": permissions}

	var res []memberAcl
	endpoint := withQuery(fmt.Sprintf("/%v/%v/acls", kind, ref), studyQuery(study))
	err := c.Post(endpoint).Json(body).DoList(&res)
	return res, err
}

func (c *client) createAclsFromTemplate(kind, ref, study, template string, members []string) ([]memberAcl, error) {
	body := map[string]interface{}{"members": members, "permissions": []string{}, "template": template}

	var res []memberAcl
	endpoint := withQuery(fmt.Sprintf("/%v/%v/acls", kind, ref), studyQuery(study))
	err := c.Post(endpoint).Json(body).DoList(&res)
	return res, err
}

func (c *client) listAcls(kind, ref, study string) ([]memberAcl, error) {
	var res []memberAcl
	endpoint := withQuery(fmt.Sprintf("/%v/%v/acls", kind, ref), studyQuery(study))
	err := c.Get(endpoint).DoList(&res)
	return res, err
}

func (c *client) getAcl(kind, ref, study, member string) ([]memberAcl, error) {
	var res []memberAcl
	endpoint := withQuery(fmt.Sprintf("/%v/%v/acls/%v", kind, ref, member), studyQuery(study))
	err := c.Get(endpoint).DoList(&res)
	return res, err
}

func (c *client) updateAcl(kind, ref, study, member string, add, remove, set []string) (memberAcl, error) {
	body := map[string]interface{}{}
	if add != nil {
		body["add"] = add
	}
	if remove != nil {
		body["remove"] = remove
	}
	if set != nil {
		body["set"] = set
	}

	var res memberAcl
	endpoint := withQuery(fmt.Sprintf("/%v/%v/acls/%v", kind, ref, member), studyQuery(study))
	err := c.Put(endpoint).Json(body).DoQuery(&res)
	return res, err
}

func (c *client) removeAcl(kind, ref, study, member string) (memberAcl, error) {
	var res memberAcl
	endpoint := withQuery(fmt.Sprintf("/%v/%v/acls/%v", kind, ref, member), studyQuery(study))
	err := c.Delete(endpoint).DoQuery(&res)
	return res, err
}

func (c *client) resetAcl(kind, ref, study, member string) error {
	params := studyQuery(study)
	params.Set("reset", "true")

	endpoint := withQuery(fmt.Sprintf("/%v/%v/acls/%v", kind, ref, member), params)
	return c.Delete(endpoint).DoQuery(nil)
}

func (c *client) daemonAcl(member string) (memberAcl, error) {
	params := url.Values{}
	if member != "" {
		params.Set("member", member)
	}

	var res memberAcl
	err := c.Get(withQuery("/admin/daemon/acl", params)).DoQuery(&res)
	return res, err
}

func (c *client) setDaemonAcl(member string, permissions []string) (memberAcl, error) {
	body := map[string]interface{}{"member": member, "permissions": permissions}

	var res memberAcl
	err := c.Post("/admin/daemon/acl").Json(body).DoQuery(&res)
	return res, err
}

type usageStats struct {
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
}

func (c *client) usage() (usageStats, error) {
	var res usageStats
	err := c.Get("/admin/usage").DoQuery(&res)
	return res, err
}
