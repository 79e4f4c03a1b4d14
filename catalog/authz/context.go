package authz

import (
	"genome_catalog/catalog/schema"
)

// StudyAuthContext is a request scoped cache mapping path -> member -> acl,
// used while resolving file permissions. A request listing many files under
// the same folders pays at most one acl round trip per distinct ancestor
// path instead of one per file.
//
// A nil slot means the member is known to have no acl on that path; a
// missing slot means the answer has not been fetched yet.
type StudyAuthContext struct {
	StudyId int64

	pathAcls map[string]map[string]*schema.MemberAcl
}

func NewStudyAuthContext(studyId int64) *StudyAuthContext {
	return &StudyAuthContext{
		StudyId:  studyId,
		pathAcls: make(map[string]map[string]*schema.MemberAcl),
	}
}

// missingPaths returns the paths that do not yet have a slot for every
// member in the triple.
func (c *StudyAuthContext) missingPaths(paths []string, members []string) []string {
	missing := make([]string, 0, len(paths))
	for _, path := range paths {
		slots, ok := c.pathAcls[path]
		if !ok {
			missing = append(missing, path)
			continue
		}
		for _, member := range members {
			if _, ok := slots[member]; !ok {
				missing = append(missing, path)
				break
			}
		}
	}
	return missing
}

// merge stores the fetched rows for the given paths, filling members that
// came back without a row with a nil slot so the path is not fetched again.
func (c *StudyAuthContext) merge(paths []string, members []string, fetched map[string][]schema.MemberAcl) {
	for _, path := range paths {
		slots := c.pathAcls[path]
		if slots == nil {
			slots = make(map[string]*schema.MemberAcl, len(members))
			c.pathAcls[path] = slots
		}

		rows := fetched[path]
		for i := range rows {
			row := rows[i]
			slots[row.Member] = &row
		}

		for _, member := range members {
			if _, ok := slots[member]; !ok {
				slots[member] = nil
			}
		}
	}
}

// lookup returns the acl of the first member, in precedence order, holding
// one on the path. Nil when no member has an acl there.
func (c *StudyAuthContext) lookup(path string, members []string) *schema.MemberAcl {
	slots, ok := c.pathAcls[path]
	if !ok {
		return nil
	}
	for _, member := range members {
		if acl := slots[member]; acl != nil {
			return acl
		}
	}
	return nil
}
