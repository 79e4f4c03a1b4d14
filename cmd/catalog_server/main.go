package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"genome_catalog/catalog/auth"
	"genome_catalog/catalog/metadata"
	"genome_catalog/catalog/schema"
	"genome_catalog/catalog/scheduler/sge"
	"genome_catalog/catalog/services"
	"genome_catalog/catalog/storage"
	"genome_catalog/utils"
	"genome_catalog/utils/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	slogmulti "github.com/samber/slog-multi"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type catalogEnv struct {
	PublicHostname string
	WorkspaceDir   string
	JwtSecret      string

	AdminEmail    string
	AdminPassword string

	SgeQueueConfig string
	IdOffset       int

	DatabaseUri string
}

func loadEnvFile(envFile string) {
	slog.Info(fmt.Sprintf("loading env from file %v", envFile))
	err := godotenv.Load(envFile)
	if err != nil {
		log.Fatalf("error loading .env file '%v': %v", envFile, err)
	}
}

/**
 * ==========================================================================
 * ==== All variables that are used by the catalog must be loaded here.  ====
 * ==== This is to make the data flow clear so that a user can see what  ====
 * ==== variables are exposed, and how the values are propagated through ====
 * ==== the system.                                                      ====
 * ==========================================================================
 */
func loadEnv() catalogEnv {
	missingEnvs := []string{}

	requiredEnv := func(key string) string {
		env := os.Getenv(key)
		if env == "" {
			missingEnvs = append(missingEnvs, key)
			slog.Error("missing required env variable", "key", key)
		}
		return env
	}

	env := catalogEnv{
		PublicHostname: requiredEnv("PUBLIC_HOSTNAME"),
		WorkspaceDir:   requiredEnv("WORKSPACE_DIR"),
		JwtSecret:      requiredEnv("JWT_SECRET"),

		AdminEmail:    requiredEnv("ADMIN_MAIL"),
		AdminPassword: requiredEnv("ADMIN_PASSWORD"),

		SgeQueueConfig: utils.OptionalEnv("SGE_QUEUE_CONFIG"),
		IdOffset:       utils.IntEnvVar("CATALOG_ID_OFFSET", 1000),

		DatabaseUri: requiredEnv("DATABASE_URI"),
	}

	if len(missingEnvs) > 0 {
		log.Fatalf("The following required env vars are missing: %s", strings.Join(missingEnvs, ", "))
	}

	return env
}

func (env *catalogEnv) postgresDsn() string {
	parts, err := url.Parse(env.DatabaseUri)
	if err != nil {
		log.Fatalf("error parsing db uri: %v", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port())
}

func initLogging(logFile *os.File) {
	// victoria logs options transform keys like msg and time into victoria
	// log keys _msg and _time
	var jsonHandler slog.Handler = slog.NewJSONHandler(logFile, logging.GetVictoriaLogsOptions(true))
	jsonHandler = jsonHandler.WithAttrs([]slog.Attr{
		slog.String("service_type", "catalog"),
	})
	textHandler := slog.NewTextHandler(os.Stderr, nil)

	logger := slog.New(slogmulti.Fanout(jsonHandler, textHandler))
	slog.SetDefault(logger)
}

func initDb(dsn string, idOffset int64) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

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
		log.Fatalf("error migrating db schema: %v", err)
	}

	if err := schema.SeedIdCounter(idOffset, db); err != nil {
		log.Fatalf("error seeding id counter: %v", err)
	}

	return db
}

func queueConfig(path string) *sge.Config {
	if path == "" {
		return &sge.Config{DefaultQueue: "all.q"}
	}
	config, err := sge.LoadConfig(path)
	if err != nil {
		log.Fatalf("error loading sge queue config: %v", err)
	}
	return config
}

func main() {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 8000, "Port to run server on")
	syncInterval := flag.Duration("sync_interval", 10*time.Second, "Interval between job status sync passes")

	flag.Parse()

	if *envFile != "" {
		loadEnvFile(*envFile)
	}
	env := loadEnv()

	err := os.MkdirAll(filepath.Join(env.WorkspaceDir, "logs/"), 0777)
	if err != nil {
		log.Fatalf("error creating log dir: %v", err)
	}

	logFile, err := os.OpenFile(filepath.Join(env.WorkspaceDir, "logs/catalog.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer logFile.Close()

	auditStream, err := os.OpenFile(filepath.Join(env.WorkspaceDir, "logs/audit.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening audit log file: %v", err)
	}
	defer auditStream.Close()

	initLogging(logFile)

	db := initDb(env.postgresDsn(), int64(env.IdOffset))

	store := storage.NewSharedDisk(env.WorkspaceDir)
	sched := sge.NewClient(queueConfig(env.SgeQueueConfig))
	audit := auth.NewAuditLogger(auditStream)

	userAuth, err := auth.NewBasicIdentityProvider(
		db,
		audit,
		auth.BasicProviderArgs{
			Secret:        []byte(env.JwtSecret),
			AdminEmail:    env.AdminEmail,
			AdminPassword: env.AdminPassword,
		},
	)
	if err != nil {
		log.Fatalf("error creating basic identity provider: %v", err)
	}

	meta := metadata.NewManager(metadata.NewGormAdaptor(db))

	catalog := services.NewCatalog(db, store, sched, userAuth, &audit, meta, int64(env.IdOffset))

	go catalog.JobStatusSync(*syncInterval)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{env.PublicHostname},                        // Allow public ingress origin
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}, // Allow all HTTP methods
		AllowedHeaders:   []string{"*"},                                       // Allow all headers
		ExposedHeaders:   []string{"*"},                                       // Expose all headers
		AllowCredentials: true,                                                // Allow cookies/auth headers
		MaxAge:           300,                                                 // Cache preflight response for 5 minutes
	}))
	r.Mount("/api/v1", catalog.Routes())

	slog.Info("starting server", "port", *port)
	err = http.ListenAndServe(fmt.Sprintf(":%d", *port), r)
	if err != nil {
		log.Fatalf("listen and serve returned error: %v", err.Error())
	}
	catalog.StopJobStatusSync()
}
