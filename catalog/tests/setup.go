package tests

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"genome_catalog/catalog/auth"
	"genome_catalog/catalog/metadata"
	"genome_catalog/catalog/schema"
	"genome_catalog/catalog/services"
	"genome_catalog/catalog/storage"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	catalog services.Catalog
	api     chi.Router
	db      *gorm.DB
	store   storage.Storage
	sched   *SchedulerStub
	meta    *metadata.Manager
}

const (
	adminEmail    = "admin123@mail.com"
	adminPassword = "admin_password123"

	// Catalog ids start above the offset so that small numbers in references
	// are treated as names.
	idOffset = 1000
)

func setupTestEnv(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}

	// A single connection keeps the in-memory database alive and private to
	// this test, and serializes the status sync goroutine against handlers.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&schema.User{}, &schema.Project{}, &schema.Study{},
		&schema.Group{}, &schema.GroupMember{},
		&schema.File{}, &schema.FileSample{}, &schema.Sample{}, &schema.Individual{},
		&schema.Cohort{}, &schema.CohortSample{},
		&schema.Dataset{}, &schema.DatasetFile{}, &schema.Panel{}, &schema.Job{},
		&schema.StudyAcl{}, &schema.FileAcl{}, &schema.SampleAcl{}, &schema.IndividualAcl{},
		&schema.CohortAcl{}, &schema.DatasetAcl{}, &schema.PanelAcl{}, &schema.JobAcl{},
		&schema.DaemonAcl{},
		&schema.StudyConfigurationRecord{}, &schema.StudyLock{}, &schema.IdCounter{},
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := schema.SeedIdCounter(idOffset, db); err != nil {
		t.Fatal(err)
	}

	workspace := filepath.Join(t.TempDir(), "workspace")
	if err := os.MkdirAll(workspace, 0777); err != nil {
		t.Fatalf("error creating workspace directory: %v", err)
	}

	store := storage.NewSharedDisk(workspace)
	sched := newSchedulerStub()

	userAuth, err := auth.NewBasicIdentityProvider(
		db,
		auth.NewAuditLogger(new(bytes.Buffer)),
		auth.BasicProviderArgs{
			Secret:        []byte("290zcv02ai249"),
			AdminEmail:    adminEmail,
			AdminPassword: adminPassword,
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	audit := auth.NewAuditLogger(new(bytes.Buffer))
	meta := metadata.NewManager(metadata.NewGormAdaptor(db))

	catalog := services.NewCatalog(db, store, sched, userAuth, &audit, meta, idOffset)

	return &testEnv{
		catalog: catalog,
		api:     catalog.Routes(),
		db:      db,
		store:   store,
		sched:   sched,
		meta:    meta,
	}
}

func (t *testEnv) newClient() client {
	return client{api: t.api}
}

func (t *testEnv) adminClient() (client, error) {
	c := t.newClient()
	err := c.login(schema.AdminUser, adminPassword)
	return c, err
}

func (t *testEnv) newUser(userId string) (client, error) {
	admin, err := t.adminClient()
	if err != nil {
		return client{}, err
	}

	if _, err := admin.createUser(userId, userId, userId+"@mail.com", userId+"_password"); err != nil {
		return client{}, err
	}

	c := t.newClient()
	err = c.login(userId, userId+"_password")
	return c, err
}

// newStudy creates a project and a study under it owned by the client's user,
// returning the study id.
func newStudy(c client, name string) (int64, error) {
	if _, err := c.createProject(name+"_project", name+"_project", ""); err != nil {
		return 0, err
	}

	study, err := c.createStudy(name+"_project", name, name, "")
	if err != nil {
		return 0, err
	}
	return study.Id, nil
}
