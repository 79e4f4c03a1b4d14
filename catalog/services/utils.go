package services

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"genome_catalog/catalog/authz"
	"genome_catalog/catalog/metadata"
	"genome_catalog/catalog/resolve"
	"genome_catalog/catalog/schema"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

var notFoundSentinels = []error{
	schema.ErrUserNotFound,
	schema.ErrProjectNotFound,
	schema.ErrStudyNotFound,
	schema.ErrGroupNotFound,
	schema.ErrFileNotFound,
	schema.ErrSampleNotFound,
	schema.ErrIndividualNotFound,
	schema.ErrCohortNotFound,
	schema.ErrDatasetNotFound,
	schema.ErrPanelNotFound,
	schema.ErrJobNotFound,
	schema.ErrAclNotFound,
	metadata.ErrStudyConfigurationNotFound,
}

func isNotFound(err error) bool {
	var missing *resolve.NotFoundError
	if errors.As(err, &missing) {
		return true
	}
	for _, sentinel := range notFoundSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func isInvalidArgument(err error) bool {
	var ambiguous *resolve.AmbiguousError
	var invalidRef *resolve.InvalidRefError
	var precondition *authz.PreconditionError
	var invalidPerm *authz.InvalidPermissionError
	var admission *metadata.AdmissionError
	var unknownRef *metadata.UnknownReferenceError
	return errors.As(err, &ambiguous) || errors.As(err, &invalidRef) ||
		errors.As(err, &precondition) || errors.As(err, &invalidPerm) ||
		errors.As(err, &admission) || errors.As(err, &unknownRef)
}

// GetResponseCode maps an error onto its http status. Domain errors carry
// their own classification; anything else must come wrapped by CodedError,
// an unclassified error is a bug and maps to 500.
func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}

	var deny *authz.DenyError
	switch {
	case isNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &deny):
		return http.StatusForbidden
	case isInvalidArgument(err):
		return http.StatusBadRequest
	case metadata.IsConflict(err), errors.Is(err, metadata.ErrLockTimeout):
		return http.StatusConflict
	case errors.Is(err, schema.ErrDbAccessFailed):
		// Already logged with context at the query site.
		return http.StatusInternalServerError
	}

	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

// splitRefs turns a comma separated {ids} url parameter into the individual
// references, preserving order.
func splitRefs(param string) []string {
	parts := strings.Split(param, ",")
	refs := make([]string, 0, len(parts))
	for _, part := range parts {
		refs = append(refs, strings.TrimSpace(part))
	}
	return refs
}

func studyHint(r *http.Request) string {
	return r.URL.Query().Get("study")
}
