package auth

import (
	"net/http/httptest"
	"testing"

	"genome_catalog/catalog/schema"

	"github.com/stretchr/testify/assert"
)

func TestValidateUserId(t *testing.T) {
	assert.NoError(t, validateUserId("ann"))
	assert.NoError(t, validateUserId("ann_b-02"))

	assert.Error(t, validateUserId(""))
	assert.Error(t, validateUserId(schema.AdminUser))
	assert.Error(t, validateUserId(schema.AnonymousUser))
	assert.Error(t, validateUserId(schema.AllMembers))

	// Separators the reference grammar assigns meaning to.
	for _, id := range []string{"lab@ann", "ann:b", "ann,bob", "!ann", "ann/b", "ann b"} {
		assert.Error(t, validateUserId(id), "id %q", id)
	}
}

func TestPrincipalDefaultsToAnonymous(t *testing.T) {
	r := httptest.NewRequest("GET", "/studies/search", nil)
	assert.Equal(t, schema.AnonymousUser, Principal(r))

	r = withPrincipal(r, "ann")
	assert.Equal(t, "ann", Principal(r))

	r = withPrincipal(r, "")
	assert.Equal(t, schema.AnonymousUser, Principal(r))
}
