package integrationtests

import (
	"errors"
	"net/http"
	"testing"

	"genome_catalog/client"
)

func expectApiError(t *testing.T, err error, status int) {
	var apiErr *client.ApiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error with status %d, got %v", status, err)
	}
	if apiErr.StatusCode != status {
		t.Fatalf("expected status %d, got %d: %v", status, apiErr.StatusCode, apiErr.Message)
	}
}

func TestProjectStudyFileLifecycle(t *testing.T) {
	admin := getAdminClient(t)
	owner := newUser(t, admin, "owner")

	study, scoped := newStudy(t, owner, "lifecycle")

	folder, err := scoped.CreateFile(client.CreateFileArgs{Path: "data/", Type: "DIRECTORY"})
	if err != nil {
		t.Fatal(err)
	}
	if folder.Type != "DIRECTORY" || folder.Path != "data/" {
		t.Fatalf("unexpected folder info: %+v", folder)
	}

	file, err := scoped.CreateFile(client.CreateFileArgs{
		Path:      "data/variants.vcf",
		Format:    "VCF",
		Bioformat: "VARIANT",
		Size:      2048,
	})
	if err != nil {
		t.Fatal(err)
	}
	if file.Name != "variants.vcf" || file.StudyId != study.Id {
		t.Fatalf("unexpected file info: %+v", file)
	}

	_, err = scoped.CreateFile(client.CreateFileArgs{Path: "data/variants.vcf"})
	expectApiError(t, err, http.StatusConflict)

	byName, err := scoped.FileInfo("variants.vcf")
	if err != nil {
		t.Fatal(err)
	}
	if byName.Id != file.Id {
		t.Fatalf("lookup by name returned %d, expected %d", byName.Id, file.Id)
	}

	inFolder, err := scoped.SearchFiles(client.FileSearch{Directory: "data/"})
	if err != nil {
		t.Fatal(err)
	}
	if len(inFolder) != 2 {
		t.Fatalf("expected folder and file in search, got %d results", len(inFolder))
	}

	onlyFiles, err := scoped.SearchFiles(client.FileSearch{Type: "FILE"})
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyFiles) != 1 || onlyFiles[0].Id != file.Id {
		t.Fatalf("unexpected file search results: %+v", onlyFiles)
	}

	again, err := owner.StudyInfo(numericRef(study.Id))
	if err != nil {
		t.Fatal(err)
	}
	if again.Id != study.Id || again.ProjectId != study.ProjectId {
		t.Fatalf("study info mismatch: %+v vs %+v", again, study)
	}
}

func TestFileAclEnforcement(t *testing.T) {
	admin := getAdminClient(t)
	owner := newUser(t, admin, "owner")
	outsider := newUser(t, admin, "outsider")

	study, scoped := newStudy(t, owner, "acl")
	studyRef := numericRef(study.Id)

	file, err := scoped.CreateFile(client.CreateFileArgs{Path: "data/reads.bam", Format: "BAM"})
	if err != nil {
		t.Fatal(err)
	}
	fileRef := numericRef(file.Id)

	outsiderStudy := outsider.Study(studyRef)

	_, err = outsiderStudy.FileInfo(fileRef)
	expectApiError(t, err, http.StatusForbidden)

	// File acls require a study level acl for the member first.
	acls := owner.Acls("files", fileRef, studyRef)
	_, err = acls.Create([]string{outsider.UserId()}, []string{"VIEW"}, "")
	expectApiError(t, err, http.StatusBadRequest)

	studyAcls := owner.Acls("studies", studyRef, "")
	if _, err := studyAcls.Create([]string{outsider.UserId()}, []string{"VIEW_STUDY"}, ""); err != nil {
		t.Fatal(err)
	}

	// VIEW_STUDY does not project onto files.
	_, err = outsiderStudy.FileInfo(fileRef)
	expectApiError(t, err, http.StatusForbidden)

	granted, err := acls.Create([]string{outsider.UserId()}, []string{"VIEW"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(granted) != 1 || granted[0].Member != outsider.UserId() {
		t.Fatalf("unexpected grant result: %+v", granted)
	}

	seen, err := outsiderStudy.FileInfo(fileRef)
	if err != nil {
		t.Fatal(err)
	}
	if seen.Id != file.Id {
		t.Fatalf("outsider saw file %d, expected %d", seen.Id, file.Id)
	}

	// VIEW does not include DOWNLOAD.
	_, err = outsiderStudy.Download(fileRef)
	expectApiError(t, err, http.StatusForbidden)

	if _, err := acls.Remove(outsider.UserId()); err != nil {
		t.Fatal(err)
	}

	_, err = outsiderStudy.FileInfo(fileRef)
	expectApiError(t, err, http.StatusForbidden)
}

func TestGroupPermissions(t *testing.T) {
	admin := getAdminClient(t)
	owner := newUser(t, admin, "owner")
	analyst := newUser(t, admin, "analyst")

	study, scoped := newStudy(t, owner, "groups")
	studyRef := numericRef(study.Id)

	group, err := scoped.CreateGroup("analysts", []string{analyst.UserId()})
	if err != nil {
		t.Fatal(err)
	}
	if group.Name != "@analysts" || len(group.Users) != 1 {
		t.Fatalf("unexpected group: %+v", group)
	}

	_, err = analyst.StudyInfo(studyRef)
	expectApiError(t, err, http.StatusForbidden)

	studyAcls := owner.Acls("studies", studyRef, "")
	if _, err := studyAcls.Create([]string{"@analysts"}, []string{"VIEW_STUDY"}, ""); err != nil {
		t.Fatal(err)
	}

	info, err := analyst.StudyInfo(studyRef)
	if err != nil {
		t.Fatal(err)
	}
	if info.Id != study.Id {
		t.Fatalf("analyst saw study %d, expected %d", info.Id, study.Id)
	}

	// Removing the member from the group revokes the group grant.
	if _, err := scoped.RemoveGroupMember("analysts", analyst.UserId()); err != nil {
		t.Fatal(err)
	}

	_, err = analyst.StudyInfo(studyRef)
	expectApiError(t, err, http.StatusForbidden)
}

func TestAnonymousAccess(t *testing.T) {
	admin := getAdminClient(t)
	owner := newUser(t, admin, "owner")

	study, _ := newStudy(t, owner, "public")
	studyRef := numericRef(study.Id)

	anonymous := client.New(catalogUrl)

	_, err := anonymous.StudyInfo(studyRef)
	expectApiError(t, err, http.StatusForbidden)

	studyAcls := owner.Acls("studies", studyRef, "")
	if _, err := studyAcls.Create([]string{"*"}, []string{"VIEW_STUDY"}, ""); err != nil {
		t.Fatal(err)
	}

	info, err := anonymous.StudyInfo(studyRef)
	if err != nil {
		t.Fatal(err)
	}
	if info.Id != study.Id {
		t.Fatalf("anonymous saw study %d, expected %d", info.Id, study.Id)
	}
}
