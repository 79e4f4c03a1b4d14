package client

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// StudyClient binds file, job and group operations to one study reference.
// Entity references passed to its methods are resolved server side within
// that study.
type StudyClient struct {
	BaseClient

	study string
}

// scoped adds the bound study as the resolution hint.
func (c *StudyClient) scoped(r *httpRequest) *httpRequest {
	return r.Param("study", c.study)
}

type GroupInfo struct {
	Name  string   `json:"name"`
	Users []string `json:"users"`
}

func (c *StudyClient) studyEndpoint(suffix string) string {
	return fmt.Sprintf("/api/v1/studies/%v%v", url.PathEscape(c.study), suffix)
}

func (c *StudyClient) Groups() ([]GroupInfo, error) {
	return list[GroupInfo](c.Get(c.studyEndpoint("/groups")))
}

type createGroupRequest struct {
	Name  string   `json:"name"`
	Users []string `json:"users,omitempty"`
}

func (c *StudyClient) CreateGroup(name string, users []string) (GroupInfo, error) {
	return one[GroupInfo](c.Post(c.studyEndpoint("/groups")).Json(createGroupRequest{
		Name: name, Users: users,
	}))
}

type addGroupMembersRequest struct {
	Users []string `json:"users"`
}

func (c *StudyClient) AddGroupMembers(group string, users []string) (GroupInfo, error) {
	endpoint := c.studyEndpoint(fmt.Sprintf("/groups/%v/members", url.PathEscape(group)))
	return one[GroupInfo](c.Post(endpoint).Json(addGroupMembersRequest{Users: users}))
}

func (c *StudyClient) RemoveGroupMember(group, user string) (GroupInfo, error) {
	endpoint := c.studyEndpoint(fmt.Sprintf("/groups/%v/members/%v", url.PathEscape(group), url.PathEscape(user)))
	return one[GroupInfo](c.Delete(endpoint))
}

type FileInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Type         string    `json:"type"`
	StudyId      int64     `json:"studyId"`
	Format       string    `json:"format,omitempty"`
	Bioformat    string    `json:"bioformat,omitempty"`
	Description  string    `json:"description,omitempty"`
	Size         int64     `json:"size"`
	ExternalUri  string    `json:"externalUri,omitempty"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

// CreateFileArgs registers a file or folder. Path is study relative; folder
// paths end with '/'. A zero Type defaults to a regular file.
type CreateFileArgs struct {
	Name        string  `json:"name,omitempty"`
	Path        string  `json:"path"`
	Type        string  `json:"type,omitempty"`
	Format      string  `json:"format,omitempty"`
	Bioformat   string  `json:"bioformat,omitempty"`
	Description string  `json:"description,omitempty"`
	Size        int64   `json:"size,omitempty"`
	ExternalUri string  `json:"externalUri,omitempty"`
	SampleIds   []int64 `json:"sampleIds,omitempty"`
}

type createFileRequest struct {
	Study string `json:"study"`
	CreateFileArgs
}

func (c *StudyClient) CreateFile(args CreateFileArgs) (FileInfo, error) {
	return one[FileInfo](c.Post("/api/v1/files/").Json(createFileRequest{
		Study:          c.study,
		CreateFileArgs: args,
	}))
}

func (c *StudyClient) FileInfo(ref string) (FileInfo, error) {
	return one[FileInfo](c.scoped(c.Get(fmt.Sprintf("/api/v1/files/%v/info", url.PathEscape(ref)))))
}

// FileInfos looks up several references at once. In silent mode a failing
// reference yields an entry with ErrorMsg set instead of failing the call.
func (c *StudyClient) FileInfos(refs []string, silent bool) ([]Entry[FileInfo], error) {
	r := c.scoped(c.Get(fmt.Sprintf("/api/v1/files/%v/info", url.PathEscape(strings.Join(refs, ",")))))
	if silent {
		r.Param("silent", "true")
	}
	return entries[FileInfo](r)
}

type FileSearch struct {
	Directory string
	Name      string
	Type      string
}

func (c *StudyClient) SearchFiles(query FileSearch) ([]FileInfo, error) {
	r := c.scoped(c.Get("/api/v1/files/search"))
	if query.Directory != "" {
		r.Param("directory", query.Directory)
	}
	if query.Name != "" {
		r.Param("name", query.Name)
	}
	if query.Type != "" {
		r.Param("type", query.Type)
	}
	return list[FileInfo](r)
}

// Download fetches a file's content, or a zip archive when the reference
// names a folder.
func (c *StudyClient) Download(ref string) ([]byte, error) {
	var data []byte
	err := c.scoped(c.Get(fmt.Sprintf("/api/v1/files/%v/download", url.PathEscape(ref)))).Process(func(body io.Reader) error {
		var err error
		data, err = io.ReadAll(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

type JobInfo struct {
	Id              int64      `json:"id"`
	Name            string     `json:"name"`
	ToolName        string     `json:"toolName"`
	StudyId         int64      `json:"studyId"`
	UserId          string     `json:"userId"`
	Description     string     `json:"description,omitempty"`
	CommandLine     string     `json:"commandLine"`
	OutDir          string     `json:"outDir"`
	Queue           string     `json:"queue,omitempty"`
	Visited         bool       `json:"visited"`
	CreationDate    time.Time  `json:"creationDate"`
	EndDate         *time.Time `json:"endDate,omitempty"`
	Status          string     `json:"status"`
	ExecutionStatus string     `json:"executionStatus"`
}

// SubmitJobArgs describes a job submission. Queue overrides the tool to
// queue mapping when set.
type SubmitJobArgs struct {
	Name        string   `json:"name"`
	ToolName    string   `json:"toolName"`
	Description string   `json:"description,omitempty"`
	CommandLine []string `json:"commandLine"`
	Queue       string   `json:"queue,omitempty"`
}

type createJobRequest struct {
	Study string `json:"study"`
	SubmitJobArgs
}

func (c *StudyClient) SubmitJob(args SubmitJobArgs) (JobInfo, error) {
	return one[JobInfo](c.Post("/api/v1/jobs/").Json(createJobRequest{
		Study:         c.study,
		SubmitJobArgs: args,
	}))
}

func (c *StudyClient) JobInfo(ref string) (JobInfo, error) {
	return one[JobInfo](c.scoped(c.Get(fmt.Sprintf("/api/v1/jobs/%v/info", url.PathEscape(ref)))))
}

type JobSearch struct {
	Name   string
	Tool   string
	Status string
}

func (c *StudyClient) SearchJobs(query JobSearch) ([]JobInfo, error) {
	r := c.scoped(c.Get("/api/v1/jobs/search"))
	if query.Name != "" {
		r.Param("name", query.Name)
	}
	if query.Tool != "" {
		r.Param("tool", query.Tool)
	}
	if query.Status != "" {
		r.Param("status", query.Status)
	}
	return list[JobInfo](r)
}

// VisitJob marks the job as seen by the caller and returns its refreshed
// state.
func (c *StudyClient) VisitJob(ref string) (JobInfo, error) {
	return one[JobInfo](c.scoped(c.Get(fmt.Sprintf("/api/v1/jobs/%v/visit", url.PathEscape(ref)))))
}

// DeleteJob removes the job record and its output directory.
func (c *StudyClient) DeleteJob(ref string) (JobInfo, error) {
	return one[JobInfo](c.scoped(c.Delete(fmt.Sprintf("/api/v1/jobs/%v", url.PathEscape(ref)))))
}
