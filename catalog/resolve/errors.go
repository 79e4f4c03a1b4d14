package resolve

import (
	"fmt"
	"strings"

	"genome_catalog/catalog/schema"
)

// NotFoundError reports a reference that did not resolve to any entity.
type NotFoundError struct {
	Kind    schema.EntityKind
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

func notFoundId(kind schema.EntityKind, ref string) *NotFoundError {
	return &NotFoundError{Kind: kind, Message: fmt.Sprintf("%v id '%v' does not exist", displayKind(kind), ref)}
}

func notFoundName(kind schema.EntityKind, ref, study string) *NotFoundError {
	if study == "" {
		return &NotFoundError{Kind: kind, Message: fmt.Sprintf("%v '%v' not found", displayKind(kind), ref)}
	}
	return &NotFoundError{Kind: kind, Message: fmt.Sprintf("%v '%v' not found in study '%v'", displayKind(kind), ref, study)}
}

// AmbiguousError reports a bare name that matched more than one entity.
type AmbiguousError struct {
	Kind schema.EntityKind
	Ref  string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("more than one %v found for '%v'", e.Kind, e.Ref)
}

// InvalidRefError reports a reference whose shape cannot be parsed, a comma
// list where a single reference was expected, or a negated reference in a
// position that does not accept negation.
type InvalidRefError struct {
	Message string
}

func (e *InvalidRefError) Error() string {
	return e.Message
}

func displayKind(kind schema.EntityKind) string {
	name := string(kind)
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
