package authz

import (
	"testing"

	"genome_catalog/catalog/schema"

	"github.com/stretchr/testify/assert"
)

func TestMemberTriple(t *testing.T) {
	assert.Equal(t, []string{"ann", "@lab", "*"}, memberTriple("ann", "@lab"))
	assert.Equal(t, []string{"ann", "*"}, memberTriple("ann", ""))
	assert.Equal(t, []string{schema.AnonymousUser, "*"}, memberTriple(schema.AnonymousUser, ""))
}

func TestPickAclPrecedence(t *testing.T) {
	user := schema.MemberAcl{Member: "ann", Permissions: []string{}}
	group := schema.MemberAcl{Member: "@lab", Permissions: []string{"VIEW"}}
	wildcard := schema.MemberAcl{Member: "*", Permissions: []string{"VIEW", "DELETE"}}

	members := memberTriple("ann", "@lab")

	// The user's own row wins even when it grants less than the group's.
	picked := pickAcl([]schema.MemberAcl{wildcard, group, user}, members)
	if picked == nil || picked.Member != "ann" {
		t.Fatalf("expected the user row, got %v", picked)
	}
	assert.False(t, picked.Has("VIEW"))

	picked = pickAcl([]schema.MemberAcl{wildcard, group}, members)
	if picked == nil || picked.Member != "@lab" {
		t.Fatalf("expected the group row, got %v", picked)
	}

	picked = pickAcl([]schema.MemberAcl{wildcard}, members)
	if picked == nil || picked.Member != "*" {
		t.Fatalf("expected the wildcard row, got %v", picked)
	}

	assert.Nil(t, pickAcl(nil, members))
	assert.Nil(t, pickAcl([]schema.MemberAcl{{Member: "bob"}}, members))
}
