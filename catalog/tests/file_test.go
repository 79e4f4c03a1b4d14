package tests

import (
	"archive/zip"
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"genome_catalog/catalog/storage"
)

func TestCreateFilePathRules(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	studyId, err := newStudy(owner, "paths")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	file, err := owner.createFile(study, "data/reads.bam", nil)
	if err != nil {
		t.Fatal(err)
	}
	if file.Path != "data/reads.bam" || file.Name != "reads.bam" || file.Type != "FILE" {
		t.Fatalf("unexpected file %v", file)
	}
	if file.StudyId != studyId || file.Status != "READY" {
		t.Fatalf("unexpected file %v", file)
	}

	// Folder paths are normalized to a trailing slash, and the name defaults
	// to the last path segment.
	dir, err := owner.createFile(study, "data", map[string]interface{}{"type": "DIRECTORY"})
	if err != nil {
		t.Fatal(err)
	}
	if dir.Path != "data/" || dir.Name != "data" || dir.Type != "DIRECTORY" {
		t.Fatalf("unexpected folder %v", dir)
	}

	named, err := owner.createFile(study, "/archive/", map[string]interface{}{"type": "DIRECTORY", "name": "cold_storage"})
	if err != nil {
		t.Fatal(err)
	}
	if named.Path != "archive/" || named.Name != "cold_storage" {
		t.Fatalf("unexpected folder %v", named)
	}

	_, err = owner.createFile(study, "x.txt", map[string]interface{}{"type": "SYMLINK"})
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad type, got %v", err)
	}
	if msg := envelopeError(err); !strings.Contains(msg, "invalid file type") {
		t.Fatalf("unexpected error '%v'", msg)
	}

	// A plain file cannot be created with a folder shaped path.
	_, err = owner.createFile(study, "notes/", nil)
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for a folder shaped file path, got %v", err)
	}
	if msg := envelopeError(err); !strings.Contains(msg, "must name a file") {
		t.Fatalf("unexpected error '%v'", msg)
	}
	if _, err := owner.createFile(study, "", nil); statusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty file path, got %v", err)
	}

	// The root folder exists from study creation and cannot be remade.
	_, err = owner.createFile(study, "/", map[string]interface{}{"type": "DIRECTORY"})
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for the root folder, got %v", err)
	}
	if msg := envelopeError(err); !strings.Contains(msg, "the root folder already exists") {
		t.Fatalf("unexpected error '%v'", msg)
	}

	_, err = owner.createFile(study, "data/reads.bam", nil)
	if statusOf(err) != http.StatusConflict {
		t.Fatalf("expected 409 for a duplicate path, got %v", err)
	}
	if msg := envelopeError(err); !strings.Contains(msg, fmt.Sprintf("path 'data/reads.bam' already exists in study %v", studyId)) {
		t.Fatalf("unexpected error '%v'", msg)
	}

	// The folder path collides however it is spelled.
	if _, err := owner.createFile(study, "/data", map[string]interface{}{"type": "DIRECTORY"}); statusOf(err) != http.StatusConflict {
		t.Fatalf("expected 409 for a duplicate folder, got %v", err)
	}
}

func TestCreateFilePermissions(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	studyId, err := newStudy(owner, "fileperm")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	eve, err := env.newUser("eve")
	if err != nil {
		t.Fatal(err)
	}

	_, err = eve.createFile(study, "intruder.txt", nil)
	if statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	if msg := envelopeError(err); !strings.Contains(msg, "cannot CREATE_FILES Study") {
		t.Fatalf("unexpected deny message '%v'", msg)
	}

	anon := env.newClient()
	if _, err := anon.createFile(study, "anon.txt", nil); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 for anonymous, got %v", err)
	}

	if _, err := owner.createAcls("studies", study, "", []string{"eve"}, []string{"CREATE_FILES", "VIEW_FILES"}); err != nil {
		t.Fatal(err)
	}
	file, err := eve.createFile(study, "allowed.txt", nil)
	if err != nil {
		t.Fatal(err)
	}
	if file.Name != "allowed.txt" {
		t.Fatalf("unexpected file %v", file)
	}
}

func TestFileAclPathInheritance(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	studyId, err := newStudy(owner, "walk")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	if _, err := owner.createFile(study, "data", map[string]interface{}{"type": "DIRECTORY"}); err != nil {
		t.Fatal(err)
	}
	reads, err := owner.createFile(study, "data/reads.bam", nil)
	if err != nil {
		t.Fatal(err)
	}
	stats, err := owner.createFile(study, "data/qc/stats.txt", nil)
	if err != nil {
		t.Fatal(err)
	}
	top, err := owner.createFile(study, "top.txt", nil)
	if err != nil {
		t.Fatal(err)
	}

	eve, err := env.newUser("eve")
	if err != nil {
		t.Fatal(err)
	}

	// A study level entry is required before any file acl, and an empty one
	// grants nothing on its own.
	if _, err := owner.createAcls("studies", study, "", []string{"eve"}, []string{}); err != nil {
		t.Fatal(err)
	}
	if _, err := eve.fileInfo(fmt.Sprint(reads.Id), study); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 before the folder grant, got %v", err)
	}

	// Granting VIEW on the folder opens every file underneath it, including
	// ones nested in folders that have no row of their own.
	acls, err := owner.createAcls("files", "data", study, []string{"eve"}, []string{"VIEW"})
	if err != nil {
		t.Fatal(err)
	}
	if len(acls) != 1 || acls[0].Member != "eve" || len(acls[0].Permissions) != 1 || acls[0].Permissions[0] != "VIEW" {
		t.Fatalf("unexpected acls %v", acls)
	}

	if _, err := eve.fileInfo(fmt.Sprint(reads.Id), study); err != nil {
		t.Fatal(err)
	}
	info, err := eve.fileInfo(fmt.Sprint(stats.Id), study)
	if err != nil {
		t.Fatal(err)
	}
	if info.Path != "data/qc/stats.txt" {
		t.Fatalf("unexpected info %v", info)
	}
	if _, err := eve.fileInfo(fmt.Sprint(top.Id), study); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 outside the granted folder, got %v", err)
	}

	// The deepest path carrying an acl wins: an empty set directly on the
	// file shadows the folder grant, without touching its siblings.
	if _, err := owner.createAcls("files", "reads.bam", study, []string{"eve"}, []string{}); err != nil {
		t.Fatal(err)
	}
	denied, err := owner.getAcl("files", "reads.bam", study, "eve")
	if err != nil {
		t.Fatal(err)
	}
	if len(denied) != 1 || denied[0].Member != "eve" || len(denied[0].Permissions) != 0 {
		t.Fatalf("unexpected acl entries %v", denied)
	}
	if _, err := eve.fileInfo(fmt.Sprint(reads.Id), study); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 from the file level deny, got %v", err)
	}
	if _, err := eve.fileInfo(fmt.Sprint(stats.Id), study); err != nil {
		t.Fatal(err)
	}

	// A grant on the root folder reaches the whole tree, and rows other
	// members hold on deeper paths do not interfere.
	roots, err := owner.searchFiles(study, map[string]string{"name": "."})
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 1 || roots[0].Path != "" {
		t.Fatalf("unexpected root folder match %v", roots)
	}

	bob, err := env.newUser("bob")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := owner.createAcls("studies", study, "", []string{"bob"}, []string{}); err != nil {
		t.Fatal(err)
	}
	if _, err := owner.createAcls("files", fmt.Sprint(roots[0].Id), study, []string{"bob"}, []string{"VIEW"}); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.fileInfo(fmt.Sprint(top.Id), study); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.fileInfo(fmt.Sprint(reads.Id), study); err != nil {
		t.Fatal(err)
	}
}

func TestDownloadFiles(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	studyId, err := newStudy(owner, "downloads")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	if _, err := owner.createFile(study, "data", map[string]interface{}{"type": "DIRECTORY"}); err != nil {
		t.Fatal(err)
	}
	reads, err := owner.createFile(study, "data/reads.fastq", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := owner.createFile(study, "data/counts.txt", nil); err != nil {
		t.Fatal(err)
	}

	content := "@read1\nACGTACGT\n+\nFFFFFFFF\n"
	if err := env.store.Write(storage.StudyFilePath(studyId, "data/reads.fastq"), strings.NewReader(content)); err != nil {
		t.Fatal(err)
	}
	if err := env.store.Write(storage.StudyFilePath(studyId, "data/counts.txt"), strings.NewReader("gene1 10\n")); err != nil {
		t.Fatal(err)
	}

	data, ctype, err := owner.download(fmt.Sprint(reads.Id), study)
	if err != nil {
		t.Fatal(err)
	}
	if ctype != "application/octet-stream" || string(data) != content {
		t.Fatalf("unexpected download (%v, %q)", ctype, data)
	}

	// Folder downloads stream a zip archive of the subtree.
	data, ctype, err = owner.download("data", study)
	if err != nil {
		t.Fatal(err)
	}
	if ctype != "application/zip" || !bytes.HasPrefix(data, []byte("PK")) {
		t.Fatalf("expected a zip archive, got (%v, %d bytes)", ctype, len(data))
	}
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	entries := make(map[string]bool)
	for _, f := range archive.File {
		entries[f.Name] = true
	}
	if !entries["reads.fastq"] || !entries["counts.txt"] {
		t.Fatalf("unexpected archive entries %v", entries)
	}

	// DOWNLOAD is its own permission, VIEW alone is not enough.
	ann, err := env.newUser("ann")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := owner.createAcls("studies", study, "", []string{"ann"}, []string{"VIEW_FILES"}); err != nil {
		t.Fatal(err)
	}
	_, _, err = ann.download(fmt.Sprint(reads.Id), study)
	if statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	if msg := envelopeError(err); !strings.Contains(msg, "cannot DOWNLOAD File") {
		t.Fatalf("unexpected deny message '%v'", msg)
	}
	if _, err := owner.updateAcl("studies", study, "", "ann", []string{"DOWNLOAD_FILES"}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ann.download(fmt.Sprint(reads.Id), study); err != nil {
		t.Fatal(err)
	}

	// Externally tracked files have no content in the workspace.
	ext, err := owner.createFile(study, "external.bam", map[string]interface{}{"externalUri": "s3://genomes/external.bam"})
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = owner.download(fmt.Sprint(ext.Id), study)
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for an external file, got %v", err)
	}
	if msg := envelopeError(err); !strings.Contains(msg, "is tracked externally at") {
		t.Fatalf("unexpected error '%v'", msg)
	}

	// A catalog row whose workspace copy is missing is a server side error.
	ghost, err := owner.createFile(study, "ghost.bin", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := owner.download(fmt.Sprint(ghost.Id), study); statusOf(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500 for missing content, got %v", err)
	}
}

func TestSearchFiles(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	studyId, err := newStudy(owner, "filesearch")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	if _, err := owner.createFile(study, "data", map[string]interface{}{"type": "DIRECTORY"}); err != nil {
		t.Fatal(err)
	}
	aVcf, err := owner.createFile(study, "data/a.vcf", map[string]interface{}{"format": "VCF"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := owner.createFile(study, "data/b.bam", map[string]interface{}{"format": "BAM"}); err != nil {
		t.Fatal(err)
	}
	if _, err := owner.createFile(study, "top.txt", nil); err != nil {
		t.Fatal(err)
	}

	// Unfiltered search returns the whole tree in path order, root first.
	files, err := owner.searchFiles(study, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 5 {
		t.Fatalf("expected 5 files, got %v", len(files))
	}
	if files[0].Path != "" || files[1].Path != "data/" || files[4].Path != "top.txt" {
		t.Fatalf("unexpected order %v", files)
	}

	// The directory filter is normalized and includes the folder itself.
	under, err := owner.searchFiles(study, map[string]string{"directory": "/data"})
	if err != nil {
		t.Fatal(err)
	}
	if len(under) != 3 || under[0].Path != "data/" || under[2].Path != "data/b.bam" {
		t.Fatalf("unexpected folder listing %v", under)
	}

	byName, err := owner.searchFiles(study, map[string]string{"name": "a.vcf"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byName) != 1 || byName[0].Id != aVcf.Id || byName[0].Format != "VCF" {
		t.Fatalf("unexpected name match %v", byName)
	}

	dirs, err := owner.searchFiles(study, map[string]string{"type": "DIRECTORY"})
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 2 {
		t.Fatalf("expected the root and data folders, got %v", dirs)
	}

	// Search drops the entries the caller cannot view.
	eve, err := env.newUser("eve")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := owner.createAcls("studies", study, "", []string{"eve"}, []string{}); err != nil {
		t.Fatal(err)
	}
	if _, err := owner.createAcls("files", "a.vcf", study, []string{"eve"}, []string{"VIEW"}); err != nil {
		t.Fatal(err)
	}
	visible, err := eve.searchFiles(study, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || visible[0].Id != aVcf.Id {
		t.Fatalf("unexpected visible files %v", visible)
	}

	if _, err := owner.searchFiles("", nil); statusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 without a study, got %v", err)
	}
}

func TestFileSampleLinks(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	studyId, err := newStudy(owner, "links")
	if err != nil {
		t.Fatal(err)
	}
	otherId, err := newStudy(owner, "otherlinks")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	local, err := owner.createSample(study, "NA12878", nil)
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := owner.createSample(fmt.Sprint(otherId), "NA12891", nil)
	if err != nil {
		t.Fatal(err)
	}

	linked, err := owner.createFile(study, "na12878.vcf", map[string]interface{}{"sampleIds": []int64{local.Id}})
	if err != nil {
		t.Fatal(err)
	}
	if linked.Name != "na12878.vcf" {
		t.Fatalf("unexpected file %v", linked)
	}

	// Samples can only be linked within their own study.
	_, err = owner.createFile(study, "na12891.vcf", map[string]interface{}{"sampleIds": []int64{foreign.Id}})
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if msg := envelopeError(err); !strings.Contains(msg, "belongs to a different study") {
		t.Fatalf("unexpected error '%v'", msg)
	}

	if _, err := owner.createFile(study, "nobody.vcf", map[string]interface{}{"sampleIds": []int64{99999999}}); statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown sample, got %v", err)
	}

	// The failed creates left no file rows behind.
	files, err := owner.searchFiles(study, map[string]string{"type": "FILE"})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Id != linked.Id {
		t.Fatalf("unexpected files %v", files)
	}
}

func TestBulkFileInfo(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	studyId, err := newStudy(owner, "filebulk")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	reads, err := owner.createFile(study, "reads.fastq", nil)
	if err != nil {
		t.Fatal(err)
	}
	counts, err := owner.createFile(study, "counts.txt", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Results come back in request order, numeric and name references mixed.
	res, err := owner.filesInfo(fmt.Sprintf("counts.txt,%v", reads.Id), study, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Response) != 2 {
		t.Fatalf("expected 2 results, got %v", len(res.Response))
	}
	var first, second fileInfo
	if err := res.entry(0, &first); err != nil {
		t.Fatal(err)
	}
	if err := res.entry(1, &second); err != nil {
		t.Fatal(err)
	}
	if first.Id != counts.Id || second.Id != reads.Id {
		t.Fatalf("unexpected order (%v, %v)", first.Id, second.Id)
	}

	// A miss fails the whole batch unless silent is set.
	_, err = owner.filesInfo("reads.fastq,ghost.txt", study, false)
	if statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if msg := envelopeError(err); !strings.Contains(msg, "found only 1 out of the 2 files looked for") {
		t.Fatalf("unexpected error '%v'", msg)
	}

	res, err = owner.filesInfo("reads.fastq,ghost.txt", study, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Response) != 2 {
		t.Fatalf("expected 2 results, got %v", len(res.Response))
	}
	if err := res.entry(0, &first); err != nil {
		t.Fatal(err)
	}
	if first.Id != reads.Id {
		t.Fatalf("unexpected first entry %v", first)
	}
	expected := fmt.Sprintf("File 'ghost.txt' not found in study '%v'", study)
	if res.Response[1].ErrorMsg != expected || res.Response[1].NumResults != 0 {
		t.Fatalf("unexpected miss entry %+v", res.Response[1])
	}
}
