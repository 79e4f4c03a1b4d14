package authz

import (
	"testing"

	"genome_catalog/catalog/schema"

	"github.com/stretchr/testify/assert"
)

func TestParentPaths(t *testing.T) {
	tests := []struct {
		path    string
		parents []string
	}{
		{"", []string{""}},
		{"a.txt", []string{"", "a.txt"}},
		{"a/", []string{"", "a/"}},
		{"a/b/c.txt", []string{"", "a/", "a/b/", "a/b/c.txt"}},
		{"a/b/", []string{"", "a/", "a/b/"}},
		{"data/qc/stats/summary.tsv", []string{"", "data/", "data/qc/", "data/qc/stats/", "data/qc/stats/summary.tsv"}},
	}

	for _, test := range tests {
		assert.Equal(t, test.parents, ParentPaths(test.path), "path %q", test.path)
	}
}

func TestAuthContextCachesFetchedPaths(t *testing.T) {
	ctx := NewStudyAuthContext(7)
	members := memberTriple("ann", "@lab")
	paths := ParentPaths("data/reads.bam")

	assert.Equal(t, paths, ctx.missingPaths(paths, members))

	// Only the folder came back with a row; every other slot must be filled
	// nil so the paths are not fetched again.
	ctx.merge(paths, members, map[string][]schema.MemberAcl{
		"data/": {{Member: "@lab", Permissions: []string{"VIEW"}}},
	})

	assert.Empty(t, ctx.missingPaths(paths, members))

	acl := ctx.lookup("data/", members)
	if acl == nil || acl.Member != "@lab" {
		t.Fatalf("expected the group acl on the folder, got %v", acl)
	}
	assert.True(t, acl.Has("VIEW"))

	assert.Nil(t, ctx.lookup("", members))
	assert.Nil(t, ctx.lookup("data/reads.bam", members))
	assert.Nil(t, ctx.lookup("never/fetched/", members))
}

func TestAuthContextRefetchesForNewMembers(t *testing.T) {
	ctx := NewStudyAuthContext(7)
	solo := memberTriple("ann", "")
	paths := ParentPaths("data/")

	ctx.merge(paths, solo, map[string][]schema.MemberAcl{
		"data/": {{Member: "ann", Permissions: []string{}}},
	})
	assert.Empty(t, ctx.missingPaths(paths, solo))

	// Once the caller learns ann's group, every cached path is missing the
	// group slot and must be fetched again.
	withGroup := memberTriple("ann", "@lab")
	assert.Equal(t, paths, ctx.missingPaths(paths, withGroup))

	ctx.merge(paths, withGroup, map[string][]schema.MemberAcl{
		"data/": {{Member: "@lab", Permissions: []string{"VIEW", "UPDATE"}}},
	})
	assert.Empty(t, ctx.missingPaths(paths, withGroup))

	// ann's empty acl still shadows the group's grant on the folder.
	acl := ctx.lookup("data/", withGroup)
	if acl == nil || acl.Member != "ann" {
		t.Fatalf("expected ann's own acl to win, got %v", acl)
	}
	assert.False(t, acl.Has("VIEW"))
}
