package versions

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"genome_catalog/catalog/schema"

	"gorm.io/gorm"
)

// The id offset the catalog was deployed with before the counter table
// existed. Fresh installs configure their own offset; this migration only
// has to stay above the ids the legacy backend already handed out.
const legacyIdOffset = 1000

/*
 * The legacy backend and gorm disagree on index/constraint names. These
 * migrations drop the old ones and let gorm recreate them.
 */
func dropConstraints(model interface{}, txn *gorm.DB, constraints ...string) error {
	for _, constraint := range constraints {
		if err := txn.Migrator().DropConstraint(model, constraint); err != nil {
			return err
		}
	}
	return nil
}

func migrateUsers(txn *gorm.DB) error {
	log.Println("migrating table 'users'")

	type User struct {
		Password []byte
	}

	if err := txn.Migrator().RenameColumn(&User{}, "password_hash", "password"); err != nil {
		return err
	}

	// Update data type from string to bytes
	if err := txn.Migrator().AlterColumn(&User{}, "password"); err != nil {
		return err
	}

	if err := txn.Migrator().DropColumn(&User{}, "organization"); err != nil {
		return err
	}

	if err := dropConstraints(&User{}, txn, "users_email_key"); err != nil {
		return err
	}

	log.Println("table 'users' migration complete")

	return nil
}

func migrateJobs(txn *gorm.DB) error {
	log.Println("migrating table 'jobs'")

	type Job struct {
		Visited bool `gorm:"not null;default:false"`
	}

	if err := txn.Migrator().AddColumn(&Job{}, "Visited"); err != nil {
		return err
	}

	// The legacy backend counted visits; the new schema only tracks whether
	// the job results were ever collected.
	err := txn.Model(&Job{}).Where("visits > 0").Update("visited", true).Error
	if err != nil {
		return err
	}

	if err := txn.Migrator().DropColumn(&Job{}, "visits"); err != nil {
		return err
	}

	if err := txn.Migrator().RenameColumn(&Job{}, "out_dir_uri", "out_dir"); err != nil {
		return err
	}

	log.Println("table 'jobs' migration complete")

	return nil
}

// The legacy backend embedded acls in an 'acl' text column on every entity
// table, each entry formatted 'member:PERM1,PERM2' and joined with ';'. The
// new schema keeps one acl table per kind, one row per member.
func migrateEntityAcls(txn *gorm.DB) error {
	log.Println("moving legacy acl columns into acl tables")

	sources := []struct {
		model interface{}
		table string
		kind  schema.EntityKind
	}{
		{&schema.Study{}, "studies", schema.KindStudy},
		{&schema.File{}, "files", schema.KindFile},
		{&schema.Sample{}, "samples", schema.KindSample},
		{&schema.Individual{}, "individuals", schema.KindIndividual},
		{&schema.Cohort{}, "cohorts", schema.KindCohort},
		{&schema.Dataset{}, "datasets", schema.KindDataset},
		{&schema.Panel{}, "panels", schema.KindPanel},
		{&schema.Job{}, "jobs", schema.KindJob},
	}

	for _, source := range sources {
		if err := migrateAclColumn(txn, source.table, source.kind); err != nil {
			return err
		}
		if err := txn.Migrator().DropColumn(source.model, "acl"); err != nil {
			return err
		}
	}

	log.Println("acl migration complete")

	return nil
}

func migrateAclColumn(txn *gorm.DB, table string, kind schema.EntityKind) error {
	type row struct {
		Id  int64
		Acl string
	}

	var rows []row
	err := txn.Table(table).Select("id, acl").Where("acl <> ''").Scan(&rows).Error
	if err != nil {
		return err
	}

	for _, r := range rows {
		for _, entry := range strings.Split(r.Acl, ";") {
			member, permissions, ok := strings.Cut(entry, ":")
			if !ok {
				return fmt.Errorf("malformed acl entry '%v' on %v %v", entry, kind, r.Id)
			}
			err := schema.SaveEntityAcl(kind, r.Id, member, schema.SplitPermissions(permissions), txn)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// Study configuration documents used to live in an 'attributes' column on
// the studies table. They move to their own table keyed by study id and the
// fully qualified study name.
func migrateStudyConfigurations(txn *gorm.DB) error {
	log.Println("moving study configuration documents")

	type studyRow struct {
		Id           int64
		Attributes   string
		Alias        string
		ProjectAlias string
		OwnerId      string
	}

	var rows []studyRow
	err := txn.Table("studies").
		Select("studies.id as id, studies.attributes as attributes, studies.alias as alias, projects.alias as project_alias, projects.owner_id as owner_id").
		Joins("JOIN projects ON projects.id = studies.project_id").
		Where("studies.attributes <> ''").
		Scan(&rows).Error
	if err != nil {
		return err
	}

	for _, row := range rows {
		study := schema.Study{Alias: row.Alias}
		record := schema.StudyConfigurationRecord{
			StudyId:   row.Id,
			Name:      study.Fqn(row.OwnerId, row.ProjectAlias),
			Timestamp: time.Now().UnixMilli(),
			Document:  row.Attributes,
		}
		if err := txn.Save(&record).Error; err != nil {
			return err
		}
	}

	type Study struct{}
	if err := txn.Migrator().DropColumn(&Study{}, "attributes"); err != nil {
		return err
	}

	log.Println("study configuration migration complete")

	return nil
}

// The legacy backend allocated ids per table. The shared counter must start
// above every id already handed out, and above the offset reserved for
// telling ids apart from name references.
func seedIdCounter(txn *gorm.DB) error {
	log.Println("seeding the id counter")

	tables := []string{"projects", "studies", "files", "samples", "individuals", "cohorts", "datasets", "panels", "jobs"}

	next := int64(legacyIdOffset)
	for _, table := range tables {
		var maxId sql.NullInt64
		if err := txn.Table(table).Select("max(id)").Scan(&maxId).Error; err != nil {
			return err
		}
		if maxId.Valid && maxId.Int64 > next {
			next = maxId.Int64
		}
	}

	return txn.Save(&schema.IdCounter{Id: 1, NextId: next}).Error
}

func dropUnusedTables(txn *gorm.DB) error {
	// sessions are replaced by stateless tokens, variable sets by embedded
	// annotation sets, and the tool registry by the scheduler queue config.
	tables := []string{"sessions", "variable_sets", "tools"}
	for _, table := range tables {
		if err := txn.Migrator().DropTable(table); err != nil {
			return err
		}
	}
	return nil
}

func Migration_1_initial_migration(txn *gorm.DB) error {
	log.Println("performing initial migration to new backend schema")

	if err := migrateUsers(txn); err != nil {
		return err
	}

	if err := migrateJobs(txn); err != nil {
		return err
	}

	// Creates the acl, lock, configuration and counter tables before data
	// moves into them, and backfills columns added to the entity tables.
	err := txn.Migrator().AutoMigrate(
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

	if err := migrateEntityAcls(txn); err != nil {
		return err
	}

	if err := migrateStudyConfigurations(txn); err != nil {
		return err
	}

	if err := seedIdCounter(txn); err != nil {
		return err
	}

	if err := dropUnusedTables(txn); err != nil {
		return err
	}

	log.Println("initial migration to new backend schema complete")

	return nil
}
