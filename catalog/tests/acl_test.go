package tests

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAnonymousJobAccess(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	studyId, err := newStudy(owner, "anonacl")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	job, err := owner.submitJob(study, "align1", "bwa", []string{"bwa", "mem", "ref.fa"})
	if err != nil {
		t.Fatal(err)
	}

	// With no acls at all the anonymous principal is denied, not told the
	// job is missing: the id resolves, the permission check fails.
	anon := env.newClient()
	_, err = anon.jobInfo(fmt.Sprint(job.Id))
	if statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	if msg := envelopeError(err); !strings.Contains(msg, "Permission denied. User 'anonymous' cannot VIEW Job") {
		t.Fatalf("unexpected deny message '%v'", msg)
	}

	// By name the job is invisible: no accessible study means nothing to
	// search, so the reference does not resolve.
	if _, err := anon.jobInfo("align1"); statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}

	acls, err := owner.createAcls("studies", study, "", []string{"*"}, []string{"VIEW_JOBS"})
	if err != nil {
		t.Fatal(err)
	}
	if len(acls) != 1 || acls[0].Member != "*" || len(acls[0].Permissions) != 1 || acls[0].Permissions[0] != "VIEW_JOBS" {
		t.Fatalf("unexpected created acls %v", acls)
	}

	info, err := anon.jobInfo(fmt.Sprint(job.Id))
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "align1" || info.ToolName != "bwa" {
		t.Fatalf("unexpected job info %v", info)
	}

	// The study grant also makes the study searchable, so the name form
	// resolves now too.
	if _, err := anon.jobInfo("align1"); err != nil {
		t.Fatal(err)
	}

	removed, err := owner.removeAcl("studies", study, "", "*")
	if err != nil {
		t.Fatal(err)
	}
	if removed.Member != "*" {
		t.Fatalf("unexpected removed acl %v", removed)
	}

	if _, err := anon.jobInfo(fmt.Sprint(job.Id)); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 after removing the grant, got %v", err)
	}
}

func TestEntityAclOnSingleJob(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	studyId, err := newStudy(owner, "jobacl")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	public, err := owner.submitJob(study, "public_job", "samtools", []string{"samtools", "sort"})
	if err != nil {
		t.Fatal(err)
	}
	private, err := owner.submitJob(study, "private_job", "samtools", []string{"samtools", "index"})
	if err != nil {
		t.Fatal(err)
	}

	// '*' and anonymous are exempt from the study-acl-first rule, so a
	// single job can be opened up without touching the study acls.
	if _, err := owner.createAcls("jobs", fmt.Sprint(public.Id), "", []string{"*"}, []string{"VIEW"}); err != nil {
		t.Fatal(err)
	}

	anon := env.newClient()
	if _, err := anon.jobInfo(fmt.Sprint(public.Id)); err != nil {
		t.Fatal(err)
	}
	if _, err := anon.jobInfo(fmt.Sprint(private.Id)); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 on the other job, got %v", err)
	}

	if err := owner.resetAcl("jobs", fmt.Sprint(public.Id), "", "*"); err != nil {
		t.Fatal(err)
	}
	if _, err := anon.jobInfo(fmt.Sprint(public.Id)); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 after reset, got %v", err)
	}

	// Resetting an acl that is already gone is not an error.
	if err := owner.resetAcl("jobs", fmt.Sprint(public.Id), "", "*"); err != nil {
		t.Fatal(err)
	}
}

func TestCreateAclPreconditions(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.newUser("ann"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.newUser("bob"); err != nil {
		t.Fatal(err)
	}

	studyId, err := newStudy(owner, "preconditions")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	job, err := owner.submitJob(study, "qc", "fastqc", []string{"fastqc", "reads.fq"})
	if err != nil {
		t.Fatal(err)
	}
	jobRef := fmt.Sprint(job.Id)

	// Members must exist before any acl can name them.
	_, err = owner.createAcls("studies", study, "", []string{"ghost"}, []string{"VIEW_STUDY"})
	if statusOf(err) != http.StatusBadRequest || !strings.Contains(envelopeError(err), "the user ghost does not exist") {
		t.Fatalf("expected member existence failure, got %v", err)
	}

	if _, err := owner.createAcls("studies", study, "", []string{"ann"}, []string{"VIEW_STUDY", "VIEW_JOBS"}); err != nil {
		t.Fatal(err)
	}

	// One acl per member and entity: a second create must point the caller
	// at update or remove instead of silently overwriting.
	_, err = owner.createAcls("studies", study, "", []string{"ann"}, []string{"VIEW_FILES"})
	if statusOf(err) != http.StatusBadRequest || !strings.Contains(envelopeError(err), "already has some permissions set in study") {
		t.Fatalf("expected duplicate acl failure, got %v", err)
	}

	// A child entity acl needs a study level acl for the member first.
	_, err = owner.createAcls("jobs", jobRef, "", []string{"bob"}, []string{"VIEW"})
	if statusOf(err) != http.StatusBadRequest || !strings.Contains(envelopeError(err), "a general study permission must be defined for that member first") {
		t.Fatalf("expected study-acl-first failure, got %v", err)
	}

	if _, err := owner.createAcls("studies", study, "", []string{"bob"}, []string{"VIEW_STUDY"}); err != nil {
		t.Fatal(err)
	}
	if _, err := owner.createAcls("jobs", jobRef, "", []string{"bob"}, []string{"VIEW"}); err != nil {
		t.Fatal(err)
	}

	// anonymous skips the study-acl-first rule just like '*'.
	if _, err := owner.createAcls("jobs", jobRef, "", []string{"anonymous"}, []string{"VIEW"}); err != nil {
		t.Fatal(err)
	}

	_, err = owner.createAcls("jobs", jobRef, "", []string{"bob"}, []string{"DELETE"})
	if statusOf(err) != http.StatusBadRequest || !strings.Contains(envelopeError(err), "already has permissions set for this job") {
		t.Fatalf("expected duplicate entity acl failure, got %v", err)
	}

	// Permission names are validated against the entity's enumeration.
	_, err = owner.createAcls("studies", study, "", []string{"owner"}, []string{"FLY_TO_THE_MOON"})
	if statusOf(err) != http.StatusBadRequest || !strings.Contains(envelopeError(err), "is not a correct permission") {
		t.Fatalf("expected invalid permission failure, got %v", err)
	}
	_, err = owner.createAcls("studies", study, "", []string{"owner"}, []string{"VIEW"})
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("entity permission on a study acl should fail, got %v", err)
	}

	// Templates are a study acl concept.
	_, err = owner.createAclsFromTemplate("jobs", jobRef, "", "admin", []string{"bob"})
	if statusOf(err) != http.StatusBadRequest || !strings.Contains(envelopeError(err), "acl templates can only be used with study acls") {
		t.Fatalf("expected template failure, got %v", err)
	}
}

func TestAclTemplates(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	for _, user := range []string{"adm", "ana", "guest"} {
		if _, err := env.newUser(user); err != nil {
			t.Fatal(err)
		}
	}

	studyId, err := newStudy(owner, "templates")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	adminAcls, err := owner.createAclsFromTemplate("studies", study, "", "admin", []string{"adm"})
	if err != nil {
		t.Fatal(err)
	}
	analystAcls, err := owner.createAclsFromTemplate("studies", study, "", "analyst", []string{"ana"})
	if err != nil {
		t.Fatal(err)
	}
	lockedAcls, err := owner.createAclsFromTemplate("studies", study, "", "locked", []string{"guest"})
	if err != nil {
		t.Fatal(err)
	}

	has := func(acl memberAcl, permission string) bool {
		for _, p := range acl.Permissions {
			if p == permission {
				return true
			}
		}
		return false
	}

	if len(adminAcls) != 1 || !has(adminAcls[0], "SHARE_STUDY") || !has(adminAcls[0], "DELETE_JOBS") {
		t.Fatalf("admin template should grant everything, got %v", adminAcls)
	}
	if len(analystAcls) != 1 || !has(analystAcls[0], "VIEW_JOBS") || !has(analystAcls[0], "CREATE_FILES") {
		t.Fatalf("analyst template missing expected grants, got %v", analystAcls)
	}
	if has(analystAcls[0], "SHARE_STUDY") || has(analystAcls[0], "DELETE_FILES") {
		t.Fatalf("analyst template should not grant share or delete, got %v", analystAcls)
	}

	// The locked template is an explicit deny-all entry: the row exists but
	// carries no permissions.
	if len(lockedAcls) != 1 || len(lockedAcls[0].Permissions) != 0 {
		t.Fatalf("locked template should grant nothing, got %v", lockedAcls)
	}

	// A deny-all entry still blocks creating a second acl for the member.
	_, err = owner.createAcls("studies", study, "", []string{"guest"}, []string{"VIEW_STUDY"})
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected duplicate acl failure, got %v", err)
	}
}

func TestOwnerHasFullAccess(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	studyId, err := newStudy(owner, "ownership")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	// The owner passes every check with zero acl rows in the study.
	acls, err := owner.listAcls("studies", study, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(acls) != 0 {
		t.Fatalf("expected no acls on a fresh study, got %v", acls)
	}

	file, err := owner.createFile(study, "data/reads.bam", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := owner.fileInfo(fmt.Sprint(file.Id), study); err != nil {
		t.Fatal(err)
	}

	sample, err := owner.createSample(study, "HG001", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := owner.sampleInfo(fmt.Sprint(sample.Id), study); err != nil {
		t.Fatal(err)
	}

	job, err := owner.submitJob(study, "call", "gatk", []string{"gatk", "HaplotypeCaller"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := owner.jobInfo(fmt.Sprint(job.Id)); err != nil {
		t.Fatal(err)
	}
	if _, err := owner.deleteJob(fmt.Sprint(job.Id)); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateAclPermissions(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.newUser("ann"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.newUser("bob"); err != nil {
		t.Fatal(err)
	}

	studyId, err := newStudy(owner, "updates")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	job, err := owner.submitJob(study, "merge", "bcftools", []string{"bcftools", "merge"})
	if err != nil {
		t.Fatal(err)
	}
	jobRef := fmt.Sprint(job.Id)

	for _, member := range []string{"ann", "bob"} {
		if _, err := owner.createAcls("studies", study, "", []string{member}, []string{"VIEW_STUDY"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := owner.createAcls("jobs", jobRef, "", []string{"ann"}, []string{"VIEW"}); err != nil {
		t.Fatal(err)
	}

	// Adding to an existing set unions and sorts.
	updated, err := owner.updateAcl("jobs", jobRef, "", "ann", []string{"DELETE"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Permissions) != 2 || updated.Permissions[0] != "DELETE" || updated.Permissions[1] != "VIEW" {
		t.Fatalf("expected [DELETE VIEW], got %v", updated.Permissions)
	}

	// What was written is what reads back.
	acls, err := owner.getAcl("jobs", jobRef, "", "ann")
	if err != nil {
		t.Fatal(err)
	}
	if len(acls) != 1 || acls[0].Member != "ann" || len(acls[0].Permissions) != 2 {
		t.Fatalf("unexpected acl readback %v", acls)
	}

	updated, err = owner.updateAcl("jobs", jobRef, "", "ann", nil, []string{"VIEW"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Permissions) != 1 || updated.Permissions[0] != "DELETE" {
		t.Fatalf("expected [DELETE], got %v", updated.Permissions)
	}

	// set wins over add and remove and replaces the permissions outright.
	updated, err = owner.updateAcl("jobs", jobRef, "", "ann", []string{"SHARE"}, []string{"DELETE"}, []string{"VIEW", "UPDATE", "DELETE"})
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Permissions) != 3 || updated.Permissions[0] != "DELETE" || updated.Permissions[1] != "UPDATE" || updated.Permissions[2] != "VIEW" {
		t.Fatalf("expected [DELETE UPDATE VIEW], got %v", updated.Permissions)
	}

	// An empty set keeps the entry but clears every permission.
	updated, err = owner.updateAcl("jobs", jobRef, "", "ann", nil, nil, []string{})
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Permissions) != 0 {
		t.Fatalf("expected an empty permission set, got %v", updated.Permissions)
	}
	acls, err = owner.getAcl("jobs", jobRef, "", "ann")
	if err != nil {
		t.Fatal(err)
	}
	if len(acls) != 1 || len(acls[0].Permissions) != 0 {
		t.Fatalf("the deny-all entry should persist, got %v", acls)
	}

	// Updating a member with no entry is an error, not an implicit create.
	_, err = owner.updateAcl("jobs", jobRef, "", "bob", []string{"VIEW"}, nil, nil)
	if statusOf(err) != http.StatusBadRequest || !strings.Contains(envelopeError(err), "does not have any permissions set yet") {
		t.Fatalf("expected update-without-entry failure, got %v", err)
	}

	_, err = owner.updateAcl("jobs", jobRef, "", "ann", []string{"NOT_A_PERMISSION"}, nil, nil)
	if statusOf(err) != http.StatusBadRequest {
		t.Fatalf("expected invalid permission failure, got %v", err)
	}
}

func TestRemoveAndResetAcl(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.newUser("ann"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.newUser("bob"); err != nil {
		t.Fatal(err)
	}

	studyId, err := newStudy(owner, "removal")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	if _, err := owner.createAcls("studies", study, "", []string{"ann"}, []string{"VIEW_STUDY", "VIEW_JOBS"}); err != nil {
		t.Fatal(err)
	}

	removed, err := owner.removeAcl("studies", study, "", "ann")
	if err != nil {
		t.Fatal(err)
	}
	if removed.Member != "ann" || len(removed.Permissions) != 2 {
		t.Fatalf("unexpected removed acl %v", removed)
	}

	// The second remove finds nothing and changes nothing.
	_, err = owner.removeAcl("studies", study, "", "ann")
	if statusOf(err) != http.StatusNotFound || !strings.Contains(envelopeError(err), "does not have any ACLs defined") {
		t.Fatalf("expected remove-missing failure, got %v", err)
	}
	acls, err := owner.getAcl("studies", study, "", "ann")
	if err != nil {
		t.Fatal(err)
	}
	if len(acls) != 0 {
		t.Fatalf("expected no acl entries after removal, got %v", acls)
	}

	// The owner's implicit permissions cannot be stripped.
	_, err = owner.removeAcl("studies", study, "", "owner")
	if statusOf(err) != http.StatusBadRequest || !strings.Contains(envelopeError(err), "not allowed to remove the permissions of the study owner") {
		t.Fatalf("expected owner removal failure, got %v", err)
	}

	// Reset is idempotent, also for members that never held an acl.
	if err := owner.resetAcl("studies", study, "", "ann"); err != nil {
		t.Fatal(err)
	}
	if err := owner.resetAcl("studies", study, "", "bob"); err != nil {
		t.Fatal(err)
	}
}

func TestAclVisibility(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	ann, err := env.newUser("ann")
	if err != nil {
		t.Fatal(err)
	}
	bob, err := env.newUser("bob")
	if err != nil {
		t.Fatal(err)
	}

	studyId, err := newStudy(owner, "visibility")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	if _, err := owner.createAcls("studies", study, "", []string{"ann"}, []string{"VIEW_STUDY"}); err != nil {
		t.Fatal(err)
	}
	if _, err := owner.createAcls("studies", study, "", []string{"bob"}, []string{"VIEW_STUDY"}); err != nil {
		t.Fatal(err)
	}

	// Without SHARE_STUDY a member may only ask about itself.
	acls, err := ann.getAcl("studies", study, "", "ann")
	if err != nil {
		t.Fatal(err)
	}
	if len(acls) != 1 || acls[0].Member != "ann" {
		t.Fatalf("unexpected self acl %v", acls)
	}

	_, err = ann.getAcl("studies", study, "", "bob")
	if statusOf(err) != http.StatusForbidden || !strings.Contains(envelopeError(err), "does not have permissions to see the ACLs of") {
		t.Fatalf("expected visibility failure, got %v", err)
	}

	if _, err := ann.listAcls("studies", study, ""); statusOf(err) != http.StatusForbidden {
		t.Fatalf("listing acls requires SHARE_STUDY, got %v", err)
	}

	all, err := owner.listAcls("studies", study, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Member != "ann" || all[1].Member != "bob" {
		t.Fatalf("unexpected acl listing %v", all)
	}

	// Granting SHARE_STUDY opens both listing and foreign lookups.
	if _, err := owner.updateAcl("studies", study, "", "ann", []string{"SHARE_STUDY"}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := ann.listAcls("studies", study, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := ann.getAcl("studies", study, "", "bob"); err != nil {
		t.Fatal(err)
	}

	// Group members may look up their own group's acl, outsiders may not.
	if _, err := owner.createGroup(study, "devs", []string{"bob"}); err != nil {
		t.Fatal(err)
	}
	if _, err := owner.createAcls("studies", study, "", []string{"@devs"}, []string{"VIEW_JOBS"}); err != nil {
		t.Fatal(err)
	}

	groupAcl, err := bob.getAcl("studies", study, "", "@devs")
	if err != nil {
		t.Fatal(err)
	}
	if len(groupAcl) != 1 || groupAcl[0].Member != "@devs" {
		t.Fatalf("unexpected group acl %v", groupAcl)
	}

	outsider, err := env.newUser("eve")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := outsider.getAcl("studies", study, "", "@devs"); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected group visibility failure, got %v", err)
	}

	// A user lookup folds in the group entry, member row first.
	bobAcls, err := owner.getAcl("studies", study, "", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(bobAcls) != 2 || bobAcls[0].Member != "bob" || bobAcls[1].Member != "@devs" {
		t.Fatalf("expected member then group rows, got %v", bobAcls)
	}
}

func TestAclMemberPrecedence(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	for _, user := range []string{"ann", "bob", "cal"} {
		if _, err := env.newUser(user); err != nil {
			t.Fatal(err)
		}
	}

	studyId, err := newStudy(owner, "precedence")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	job, err := owner.submitJob(study, "stats", "plink", []string{"plink", "--freq"})
	if err != nil {
		t.Fatal(err)
	}
	jobRef := fmt.Sprint(job.Id)

	// ann gets an explicit deny-all entry before joining the group, the
	// group gets the grant afterwards.
	if _, err := owner.createAcls("studies", study, "", []string{"ann"}, []string{}); err != nil {
		t.Fatal(err)
	}
	if _, err := owner.createGroup(study, "devs", []string{"ann", "cal"}); err != nil {
		t.Fatal(err)
	}
	if _, err := owner.createAcls("studies", study, "", []string{"@devs"}, []string{"VIEW_JOBS"}); err != nil {
		t.Fatal(err)
	}

	annClient := env.newClient()
	if err := annClient.login("ann", "ann_password"); err != nil {
		t.Fatal(err)
	}
	calClient := env.newClient()
	if err := calClient.login("cal", "cal_password"); err != nil {
		t.Fatal(err)
	}
	bobClient := env.newClient()
	if err := bobClient.login("bob", "bob_password"); err != nil {
		t.Fatal(err)
	}

	// cal resolves through the group grant, ann's own deny-all entry takes
	// precedence over it.
	if _, err := calClient.jobInfo(jobRef); err != nil {
		t.Fatal(err)
	}
	if _, err := annClient.jobInfo(jobRef); statusOf(err) != http.StatusForbidden {
		t.Fatalf("user entry should beat the group grant, got %v", err)
	}

	// bob has no entry anywhere yet.
	if _, err := bobClient.jobInfo(jobRef); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 for bob, got %v", err)
	}

	// A '*' grant catches bob but still loses to ann's user entry.
	if _, err := owner.createAcls("studies", study, "", []string{"*"}, []string{"VIEW_JOBS"}); err != nil {
		t.Fatal(err)
	}
	if _, err := bobClient.jobInfo(jobRef); err != nil {
		t.Fatal(err)
	}
	if _, err := annClient.jobInfo(jobRef); statusOf(err) != http.StatusForbidden {
		t.Fatalf("user entry should beat the '*' grant, got %v", err)
	}
}

func TestDaemonAclGatesAdmin(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}

	studyId, err := newStudy(owner, "daemon")
	if err != nil {
		t.Fatal(err)
	}
	study := fmt.Sprint(studyId)

	job, err := owner.submitJob(study, "backup", "rsync", []string{"rsync", "-a", "out/"})
	if err != nil {
		t.Fatal(err)
	}

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	// The admin principal holds no implicit data permissions: without a
	// daemon acl it is denied like anyone else.
	_, err = admin.jobInfo(fmt.Sprint(job.Id))
	if statusOf(err) != http.StatusForbidden || !strings.Contains(envelopeError(err), "admin lacks explicit daemon ACL") {
		t.Fatalf("expected daemon denial, got %v", err)
	}

	if _, err := admin.daemonAcl(""); statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected 404 before the daemon acl is set, got %v", err)
	}

	acl, err := admin.setDaemonAcl("", []string{"VIEW_JOBS", "VIEW_STUDY"})
	if err != nil {
		t.Fatal(err)
	}
	if acl.Member != "admin" || len(acl.Permissions) != 2 {
		t.Fatalf("unexpected daemon acl %v", acl)
	}

	if _, err := admin.jobInfo(fmt.Sprint(job.Id)); err != nil {
		t.Fatal(err)
	}

	// The daemon acl is permission scoped: it does not grant what it does
	// not name.
	if _, err := admin.deleteJob(fmt.Sprint(job.Id)); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 deleting without DELETE_JOBS, got %v", err)
	}

	// Only the admin principal may touch the daemon acl endpoints.
	if _, err := owner.setDaemonAcl("", []string{"VIEW_JOBS"}); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %v", err)
	}
	if _, err := owner.daemonAcl(""); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %v", err)
	}
	anon := env.newClient()
	if _, err := anon.usage(); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 for anonymous, got %v", err)
	}

	usage, err := admin.usage()
	if err != nil {
		t.Fatal(err)
	}
	if usage.TotalBytes == 0 || usage.FreeBytes > usage.TotalBytes {
		t.Fatalf("implausible usage stats %+v", usage)
	}
}
