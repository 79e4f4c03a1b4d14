package integrationtests

import (
	"log/slog"
	"os"
	"strconv"
	"testing"

	"genome_catalog/client"

	"github.com/google/uuid"
)

// These tests run against a live catalog stack, started for example with the
// dev compose file. They use the default admin credentials of that setup.
const (
	catalogUrl    = "http://localhost:8000"
	adminUser     = "admin"
	adminPassword = "password"
)

func getAdminClient(t *testing.T) *client.CatalogClient {
	// slog.SetLogLoggerLevel needs go1.22; install a debug-level default
	// handler directly to get the same verbosity on older toolchains.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))

	catalog := client.New(catalogUrl)
	if err := catalog.Login(adminUser, adminPassword); err != nil {
		t.Fatal(err)
	}
	return &catalog
}

// newUser registers a fresh user through the admin account and returns a
// client logged in as that user.
func newUser(t *testing.T, admin *client.CatalogClient, base string) *client.CatalogClient {
	user := randomName(base)

	_, err := admin.CreateUser(user, "Integration Test User", user+"@example.com", "password123")
	if err != nil {
		t.Fatal(err)
	}

	catalog := client.New(catalogUrl)
	if err := catalog.Login(user, "password123"); err != nil {
		t.Fatal(err)
	}
	return &catalog
}

// newStudy creates a project and study owned by the given client and returns
// the study client bound to the study's numeric id.
func newStudy(t *testing.T, owner *client.CatalogClient, base string) (client.StudyInfo, client.StudyClient) {
	project, err := owner.CreateProject(randomName(base), randomName(base+"-alias"), "integration test project")
	if err != nil {
		t.Fatal(err)
	}

	study, err := owner.CreateStudy(numericRef(project.Id), randomName(base), randomName(base+"-alias"), "")
	if err != nil {
		t.Fatal(err)
	}

	return study, owner.Study(numericRef(study.Id))
}

func numericRef(id int64) string {
	return strconv.FormatInt(id, 10)
}

func randomName(base string) string {
	return base + "-" + uuid.New().String()[:8]
}
