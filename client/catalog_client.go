package client

import (
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CatalogClient is the entry point of the catalog api. Login binds the
// access token to the client; Study and Acls return scoped clients sharing
// the same token.
type CatalogClient struct {
	BaseClient

	userId string
}

func New(baseUrl string) CatalogClient {
	return CatalogClient{BaseClient: NewBaseClient(baseUrl, "")}
}

// NewWithToken builds a client around an existing access token, skipping the
// login round trip.
func NewWithToken(baseUrl, authToken string) CatalogClient {
	return CatalogClient{BaseClient: NewBaseClient(baseUrl, authToken)}
}

func (c *CatalogClient) UserId() string {
	return c.userId
}

func (c *CatalogClient) AuthToken() string {
	return c.authToken
}

func (c *CatalogClient) Study(study string) StudyClient {
	return StudyClient{BaseClient: c.BaseClient, study: study}
}

func (c *CatalogClient) Acls(kind, ref, study string) AclClient {
	return AclClient{BaseClient: c.BaseClient, kind: kind, ref: ref, study: study}
}

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserId      string `json:"userId"`
	AccessToken string `json:"accessToken"`
}

func (c *CatalogClient) Login(user, password string) error {
	login, err := one[loginResponse](c.Post("/api/v1/users/login").Json(loginRequest{User: user, Password: password}))
	if err != nil {
		return err
	}

	c.authToken = login.AccessToken
	c.userId = login.UserId
	return nil
}

type tokenExpirationResponse struct {
	Expiration time.Time `json:"expiration"`
}

// TokenExpiration asks the server when the bound token expires.
func (c *CatalogClient) TokenExpiration() (time.Time, error) {
	res, err := one[tokenExpirationResponse](c.Get("/api/v1/users/token-expiration"))
	if err != nil {
		return time.Time{}, err
	}
	return res.Expiration, nil
}

// TokenExpired inspects the bound token's exp claim without a round trip.
// The signature is not verified here, the server still rejects forged tokens.
func (c *CatalogClient) TokenExpired() (bool, error) {
	if c.authToken == "" {
		return true, nil
	}

	token, _, err := jwt.NewParser().ParseUnverified(c.authToken, jwt.MapClaims{})
	if err != nil {
		return true, fmt.Errorf("error parsing access token: %w", err)
	}

	expiration, err := token.Claims.GetExpirationTime()
	if err != nil {
		return true, fmt.Errorf("error reading access token expiration: %w", err)
	}
	if expiration == nil {
		return true, fmt.Errorf("access token carries no expiration")
	}
	return expiration.Before(time.Now()), nil
}

type UserInfo struct {
	Id           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

type createUserRequest struct {
	User     string `json:"user"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *CatalogClient) CreateUser(user, name, email, password string) (UserInfo, error) {
	return one[UserInfo](c.Post("/api/v1/users/").Json(createUserRequest{
		User: user, Name: name, Email: email, Password: password,
	}))
}

func (c *CatalogClient) UserInfo(user string) (UserInfo, error) {
	return one[UserInfo](c.Get(fmt.Sprintf("/api/v1/users/%v/info", url.PathEscape(user))))
}

type ProjectInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	Alias        string    `json:"alias"`
	Owner        string    `json:"owner"`
	Description  string    `json:"description,omitempty"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Alias       string `json:"alias"`
	Description string `json:"description,omitempty"`
}

func (c *CatalogClient) CreateProject(name, alias, description string) (ProjectInfo, error) {
	return one[ProjectInfo](c.Post("/api/v1/projects/").Json(createProjectRequest{
		Name: name, Alias: alias, Description: description,
	}))
}

// ProjectInfo accepts a numeric id or the 'owner@alias' form.
func (c *CatalogClient) ProjectInfo(ref string) (ProjectInfo, error) {
	return one[ProjectInfo](c.Get(fmt.Sprintf("/api/v1/projects/%v/info", url.PathEscape(ref))))
}

type StudyInfo struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	Alias        string    `json:"alias"`
	ProjectId    int64     `json:"projectId"`
	Description  string    `json:"description,omitempty"`
	CreationDate time.Time `json:"creationDate"`
	Status       string    `json:"status"`
}

type createStudyRequest struct {
	Project     string `json:"project"`
	Name        string `json:"name"`
	Alias       string `json:"alias"`
	Description string `json:"description,omitempty"`
}

func (c *CatalogClient) CreateStudy(project, name, alias, description string) (StudyInfo, error) {
	return one[StudyInfo](c.Post("/api/v1/studies/").Json(createStudyRequest{
		Project: project, Name: name, Alias: alias, Description: description,
	}))
}

// StudyInfo accepts a numeric id, a study alias, or the full
// 'owner@project:study' form.
func (c *CatalogClient) StudyInfo(ref string) (StudyInfo, error) {
	return one[StudyInfo](c.Get(fmt.Sprintf("/api/v1/studies/%v/info", url.PathEscape(ref))))
}

type MemberAcl struct {
	Member      string   `json:"member"`
	Permissions []string `json:"permissions"`
}

type DiskUsage struct {
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
}

func (c *CatalogClient) Usage() (DiskUsage, error) {
	return one[DiskUsage](c.Get("/api/v1/admin/usage"))
}

func (c *CatalogClient) DaemonAcl(member string) (MemberAcl, error) {
	r := c.Get("/api/v1/admin/daemon/acl")
	if member != "" {
		r.Param("member", member)
	}
	return one[MemberAcl](r)
}

type setDaemonAclRequest struct {
	Member      string   `json:"member"`
	Permissions []string `json:"permissions"`
}

func (c *CatalogClient) SetDaemonAcl(member string, permissions []string) (MemberAcl, error) {
	return one[MemberAcl](c.Post("/api/v1/admin/daemon/acl").Json(setDaemonAclRequest{
		Member: member, Permissions: permissions,
	}))
}

func (c *CatalogClient) Health() error {
	return c.Get("/api/v1/health").Process(nil)
}
