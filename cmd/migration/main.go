package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"strings"

	"genome_catalog/catalog/schema"
	"genome_catalog/cmd/migration/versions"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func postgresDsn(uri string) string {
	if uri == "" {
		log.Fatalf("Missing --db_uri arg")
	}
	parts, err := url.Parse(uri)
	if err != nil {
		log.Fatalf("error parsing db uri: %v", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port())
}

func main() {
	dbUri := flag.String("db_uri", "", "Database URI")
	idOffset := flag.Int64("id_offset", 1000, "Id offset used when initializing a clean database")
	flag.Parse()

	db, err := gorm.Open(postgres.Open(postgresDsn(*dbUri)), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	migration := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			// This is a placeholder to represent the state of the legacy backend db schema.
			ID:      "0",
			Migrate: func(*gorm.DB) error { return nil },
		},
		{
			ID:      "1",
			Migrate: versions.Migration_1_initial_migration,
			// Rollback is not supported for this migration since it folds the
			// legacy acl columns into the acl tables and is not intended to be
			// reversed.
		},
	})

	migration.InitSchema(func(txn *gorm.DB) error {
		log.Println("clean database detected, running full schema initialization")

		err := txn.AutoMigrate(
			&schema.User{}, &schema.Project{}, &schema.Study{},
			&schema.Group{}, &schema.GroupMember{},
			&schema.File{}, &schema.FileSample{}, &schema.Sample{}, &schema.Individual{},
			&schema.Cohort{}, &schema.CohortSample{}, &schema.Dataset{}, &schema.DatasetFile{},
			&schema.Panel{}, &schema.Job{},
			&schema.StudyAcl{}, &schema.FileAcl{}, &schema.SampleAcl{}, &schema.IndividualAcl{},
			&schema.CohortAcl{}, &schema.DatasetAcl{}, &schema.PanelAcl{}, &schema.JobAcl{},
			&schema.DaemonAcl{},
			&schema.StudyConfigurationRecord{}, &schema.StudyLock{}, &schema.IdCounter{},
		)
		if err != nil {
			return err
		}

		return schema.SeedIdCounter(*idOffset, txn)
	})

	if err := migration.Migrate(); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	log.Println("migration completed successfully")
}
