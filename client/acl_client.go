package client

import (
	"fmt"
	"net/url"
)

// AclClient binds the acl endpoints to one entity. Kind is the resource
// route segment ("studies", "files", "samples", "individuals", "cohorts",
// "datasets", "panels", "jobs"); study is the optional resolution hint for
// non-study kinds.
type AclClient struct {
	BaseClient

	kind  string
	ref   string
	study string
}

func (c *AclClient) endpoint(suffix string) string {
	return fmt.Sprintf("/api/v1/%v/%v/acls%v", c.kind, url.PathEscape(c.ref), suffix)
}

// scoped adds the study hint when one is bound.
func (c *AclClient) scoped(r *httpRequest) *httpRequest {
	if c.study != "" {
		return r.Param("study", c.study)
	}
	return r
}

type createAclsRequest struct {
	Members     []string `json:"members"`
	Permissions []string `json:"permissions"`
	Template    string   `json:"template,omitempty"`
}

// Create grants the listed permissions to every member, or a template's
// permission set when template is given.
func (c *AclClient) Create(members, permissions []string, template string) ([]MemberAcl, error) {
	return list[MemberAcl](c.scoped(c.Post(c.endpoint("/"))).Json(createAclsRequest{
		Members: members, Permissions: permissions, Template: template,
	}))
}

func (c *AclClient) List() ([]MemberAcl, error) {
	return list[MemberAcl](c.scoped(c.BaseClient.Get(c.endpoint("/"))))
}

// Get returns the member's entry, or an empty list when the member holds no
// acl on the entity.
func (c *AclClient) Get(member string) ([]MemberAcl, error) {
	return list[MemberAcl](c.scoped(c.BaseClient.Get(c.endpoint("/" + url.PathEscape(member)))))
}

type updateAclRequest struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
	Set    []string `json:"set"`
}

// Update amends the member's existing entry. Nil slices are not sent; a
// non-nil empty set clears every permission while keeping the entry.
func (c *AclClient) Update(member string, add, remove, set []string) (MemberAcl, error) {
	return one[MemberAcl](c.scoped(c.Put(c.endpoint("/" + url.PathEscape(member)))).Json(updateAclRequest{
		Add: add, Remove: remove, Set: set,
	}))
}

// Remove deletes the member's acl entry and returns the removed state.
func (c *AclClient) Remove(member string) (MemberAcl, error) {
	return one[MemberAcl](c.scoped(c.Delete(c.endpoint("/" + url.PathEscape(member)))))
}

// Reset clears the member's acl entry, succeeding even when none exists.
func (c *AclClient) Reset(member string) error {
	r := c.scoped(c.Delete(c.endpoint("/" + url.PathEscape(member)))).Param("reset", "true")
	_, err := r.envelope()
	return err
}
