package authz

import (
	"fmt"

	"genome_catalog/catalog/schema"
)

// DenyError reports a denied permission check. Denials are normal control
// flow: callers map them onto 403 responses without logging them as errors.
type DenyError struct {
	Message string
}

func (e *DenyError) Error() string {
	return e.Message
}

func deny(userId, permission string, kind schema.EntityKind, id int64) *DenyError {
	return &DenyError{Message: fmt.Sprintf("Permission denied. User '%v' cannot %v %v { id: %v }", userId, permission, displayKind(kind), id)}
}

func denyDaemon(kind schema.EntityKind, id int64) *DenyError {
	return &DenyError{Message: fmt.Sprintf("Permission denied. admin lacks explicit daemon ACL for %v { id: %v }", displayKind(kind), id)}
}

// PreconditionError reports an acl mutation rejected by one of its
// preconditions. Mapped onto 400 responses.
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string {
	return e.Message
}

// InvalidPermissionError reports a permission name outside the enumeration
// of the entity it was used with. Mapped onto 400 responses.
type InvalidPermissionError struct {
	Permission string
}

func (e *InvalidPermissionError) Error() string {
	return fmt.Sprintf("the permission %v is not a correct permission", e.Permission)
}

func displayKind(kind schema.EntityKind) string {
	name := string(kind)
	if name == "" {
		return name
	}
	return string(name[0]-'a'+'A') + name[1:]
}
