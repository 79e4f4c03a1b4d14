package tests

import (
	"fmt"
	"net/http"
	"testing"
)

func TestCreateProject(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	created, err := user.createProject("Genomes 1000", "g1k", "reference genomes")
	if err != nil {
		t.Fatal(err)
	}
	if created.Id <= idOffset {
		t.Fatalf("project id %d should be above the id offset", created.Id)
	}
	if created.Name != "Genomes 1000" || created.Alias != "g1k" || created.Owner != "abc" {
		t.Fatalf("invalid project info %v", created)
	}

	byAlias, err := user.projectInfo("g1k")
	if err != nil {
		t.Fatal(err)
	}
	byId, err := user.projectInfo(fmt.Sprint(created.Id))
	if err != nil {
		t.Fatal(err)
	}
	if byAlias.Id != created.Id || byId.Id != created.Id {
		t.Fatalf("expected project %d, got %v and %v", created.Id, byAlias, byId)
	}

	_, err = user.projectInfo("missing")
	if statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected not found for unknown alias, got %v", err)
	}

	_, err = user.projectInfo("2")
	if statusOf(err) != http.StatusNotFound {
		t.Fatalf("numeric refs below the offset resolve as names, got %v", err)
	}
}

func TestProjectValidation(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	_, err = user.createProject("", "p1", "")
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("empty project name should be rejected, got %v", err)
	}

	for _, alias := range []string{"", "a@b", "a:b", "a,b", "a!b", "a/b", "a b"} {
		_, err := user.createProject("project", alias, "")
		if statusOf(err) != http.StatusBadRequest {
			t.Fatalf("alias '%v' should be rejected, got %v", alias, err)
		}
	}

	if _, err := user.createProject("project", "p1", ""); err != nil {
		t.Fatal(err)
	}

	_, err = user.createProject("other project", "p1", "")
	if statusOf(err) != http.StatusConflict {
		t.Fatalf("duplicate alias for one owner should conflict, got %v", err)
	}

	// Aliases are scoped per owner.
	other, err := env.newUser("xyz")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.createProject("other project", "p1", ""); err != nil {
		t.Fatal(err)
	}
}

func TestAnonymousCannotCreateProject(t *testing.T) {
	env := setupTestEnv(t)

	anonymous := env.newClient()
	_, err := anonymous.createProject("project", "p1", "")
	if statusOf(err) != http.StatusForbidden {
		t.Fatalf("anonymous project creation should be denied, got %v", err)
	}
}

func TestProjectVisibility(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	outsider, err := env.newUser("outsider")
	if err != nil {
		t.Fatal(err)
	}

	project, err := owner.createProject("project", "p1", "")
	if err != nil {
		t.Fatal(err)
	}
	study, err := owner.createStudy("p1", "study one", "s1", "")
	if err != nil {
		t.Fatal(err)
	}

	// Outsiders resolve the project through owner@alias but hold no study
	// access inside it.
	_, err = outsider.projectInfo("owner@p1")
	if statusOf(err) != http.StatusForbidden {
		t.Fatalf("outsider should be denied, got %v", err)
	}

	_, err = owner.createAcls("studies", fmt.Sprint(study.Id), "", []string{"outsider"}, []string{"VIEW_STUDY"})
	if err != nil {
		t.Fatal(err)
	}

	info, err := outsider.projectInfo("owner@p1")
	if err != nil {
		t.Fatal(err)
	}
	if info.Id != project.Id {
		t.Fatalf("expected project %d, got %v", project.Id, info)
	}
}
