package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"genome_catalog/client"

	"github.com/caarlos0/env/v10"
)

// Exit codes reported to calling scripts. Pipelines key retry logic off
// these, so api failures must keep mapping to the same codes.
const (
	exitOk       = 0
	exitUsage    = 1
	exitDenied   = 2
	exitNotFound = 3
	exitConflict = 4
	exitInternal = 5
)

type cliEnv struct {
	Url      string `env:"CATALOG_URL" envDefault:"http://localhost:8000"`
	Token    string `env:"CATALOG_TOKEN"`
	User     string `env:"CATALOG_USER"`
	Password string `env:"CATALOG_PASSWORD"`
	Study    string `env:"CATALOG_STUDY"`
}

const usageText = `usage: catalog_cli <command> <subcommand> [flags]

commands:
  users     login, create, info, token-expiration
  projects  create, info
  studies   create, info, groups, group-create, group-add, group-remove
  files     create, info, search, download
  jobs      submit, info, search, visit, delete
  acl       create, list, get, update, remove, reset
  admin     usage, daemon-acl, set-daemon-acl

environment:
  CATALOG_URL       server base url (default http://localhost:8000)
  CATALOG_TOKEN     access token from 'users login'
  CATALOG_USER      default user for login
  CATALOG_PASSWORD  default password for login
  CATALOG_STUDY     default study for study scoped commands
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		return exitUsage
	}

	var cfg cliEnv
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "error reading environment:", err)
		return exitUsage
	}

	switch args[0] {
	case "users":
		return usersCommand(cfg, args[1], args[2:])
	case "projects":
		return projectsCommand(cfg, args[1], args[2:])
	case "studies":
		return studiesCommand(cfg, args[1], args[2:])
	case "files":
		return filesCommand(cfg, args[1], args[2:])
	case "jobs":
		return jobsCommand(cfg, args[1], args[2:])
	case "acl":
		return aclCommand(cfg, args[1], args[2:])
	case "admin":
		return adminCommand(cfg, args[1], args[2:])
	default:
		return badUsage(fmt.Sprintf("unknown command '%v'", args[0]))
	}
}

func badUsage(msg string) int {
	fmt.Fprintln(os.Stderr, "error:", msg)
	return exitUsage
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, "error:", err)
	return exitCodeOf(err)
}

func exitCodeOf(err error) int {
	var apiErr *client.ApiError
	if !errors.As(err, &apiErr) {
		return exitInternal
	}

	switch apiErr.StatusCode {
	case http.StatusBadRequest:
		return exitUsage
	case http.StatusUnauthorized, http.StatusForbidden:
		return exitDenied
	case http.StatusNotFound:
		return exitNotFound
	case http.StatusRequestTimeout, http.StatusConflict:
		return exitConflict
	default:
		return exitInternal
	}
}

func printJson(value interface{}) int {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fail(err)
	}
	fmt.Println(string(data))
	return exitOk
}

// splitList parses comma separated flag values, dropping empty parts.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func splitIdList(value string) ([]int64, error) {
	parts := splitList(value)
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id '%v': %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func usersCommand(cfg cliEnv, sub string, args []string) int {
	switch sub {
	case "login":
		fs := flagSet("users login")
		user := fs.String("user", cfg.User, "user id")
		password := fs.String("password", cfg.Password, "password")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *user == "" || *password == "" {
			return badUsage("users login requires -user and -password (or CATALOG_USER/CATALOG_PASSWORD)")
		}

		catalog := client.New(cfg.Url)
		if err := catalog.Login(*user, *password); err != nil {
			return fail(err)
		}
		return printJson(map[string]string{"userId": catalog.UserId(), "accessToken": catalog.AuthToken()})

	case "create":
		fs := flagSet("users create")
		user := fs.String("user", "", "user id")
		name := fs.String("name", "", "display name")
		email := fs.String("email", "", "email address")
		password := fs.String("password", "", "password")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *user == "" || *password == "" {
			return badUsage("users create requires -user and -password")
		}

		catalog := client.NewWithToken(cfg.Url, cfg.Token)
		info, err := catalog.CreateUser(*user, *name, *email, *password)
		if err != nil {
			return fail(err)
		}
		return printJson(info)

	case "info":
		fs := flagSet("users info")
		user := fs.String("user", cfg.User, "user id")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *user == "" {
			return badUsage("users info requires -user")
		}

		catalog := client.NewWithToken(cfg.Url, cfg.Token)
		info, err := catalog.UserInfo(*user)
		if err != nil {
			return fail(err)
		}
		return printJson(info)

	case "token-expiration":
		catalog := client.NewWithToken(cfg.Url, cfg.Token)
		expiration, err := catalog.TokenExpiration()
		if err != nil {
			return fail(err)
		}
		return printJson(map[string]interface{}{"expiration": expiration})

	default:
		return badUsage(fmt.Sprintf("unknown users subcommand '%v'", sub))
	}
}

func projectsCommand(cfg cliEnv, sub string, args []string) int {
	catalog := client.NewWithToken(cfg.Url, cfg.Token)

	switch sub {
	case "create":
		fs := flagSet("projects create")
		name := fs.String("name", "", "project name")
		alias := fs.String("alias", "", "project alias")
		description := fs.String("description", "", "description")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *name == "" || *alias == "" {
			return badUsage("projects create requires -name and -alias")
		}

		info, err := catalog.CreateProject(*name, *alias, *description)
		if err != nil {
			return fail(err)
		}
		return printJson(info)

	case "info":
		fs := flagSet("projects info")
		id := fs.String("id", "", "project id or owner@alias")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *id == "" {
			return badUsage("projects info requires -id")
		}

		info, err := catalog.ProjectInfo(*id)
		if err != nil {
			return fail(err)
		}
		return printJson(info)

	default:
		return badUsage(fmt.Sprintf("unknown projects subcommand '%v'", sub))
	}
}

func studiesCommand(cfg cliEnv, sub string, args []string) int {
	catalog := client.NewWithToken(cfg.Url, cfg.Token)

	switch sub {
	case "create":
		fs := flagSet("studies create")
		project := fs.String("project", "", "project id or owner@alias")
		name := fs.String("name", "", "study name")
		alias := fs.String("alias", "", "study alias")
		description := fs.String("description", "", "description")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *project == "" || *name == "" || *alias == "" {
			return badUsage("studies create requires -project, -name and -alias")
		}

		info, err := catalog.CreateStudy(*project, *name, *alias, *description)
		if err != nil {
			return fail(err)
		}
		return printJson(info)

	case "info":
		fs := flagSet("studies info")
		id := fs.String("id", cfg.Study, "study id, alias or owner@project:study")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *id == "" {
			return badUsage("studies info requires -id")
		}

		info, err := catalog.StudyInfo(*id)
		if err != nil {
			return fail(err)
		}
		return printJson(info)

	case "groups":
		fs := flagSet("studies groups")
		study := fs.String("study", cfg.Study, "study reference")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *study == "" {
			return badUsage("studies groups requires -study")
		}

		scoped := catalog.Study(*study)
		groups, err := scoped.Groups()
		if err != nil {
			return fail(err)
		}
		return printJson(groups)

	case "group-create":
		fs := flagSet("studies group-create")
		study := fs.String("study", cfg.Study, "study reference")
		name := fs.String("name", "", "group name")
		users := fs.String("users", "", "comma separated user ids")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *study == "" || *name == "" {
			return badUsage("studies group-create requires -study and -name")
		}

		scoped := catalog.Study(*study)
		group, err := scoped.CreateGroup(*name, splitList(*users))
		if err != nil {
			return fail(err)
		}
		return printJson(group)

	case "group-add":
		fs := flagSet("studies group-add")
		study := fs.String("study", cfg.Study, "study reference")
		group := fs.String("group", "", "group name")
		users := fs.String("users", "", "comma separated user ids")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *study == "" || *group == "" || *users == "" {
			return badUsage("studies group-add requires -study, -group and -users")
		}

		scoped := catalog.Study(*study)
		info, err := scoped.AddGroupMembers(*group, splitList(*users))
		if err != nil {
			return fail(err)
		}
		return printJson(info)

	case "group-remove":
		fs := flagSet("studies group-remove")
		study := fs.String("study", cfg.Study, "study reference")
		group := fs.String("group", "", "group name")
		user := fs.String("user", "", "user id")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *study == "" || *group == "" || *user == "" {
			return badUsage("studies group-remove requires -study, -group and -user")
		}

		scoped := catalog.Study(*study)
		info, err := scoped.RemoveGroupMember(*group, *user)
		if err != nil {
			return fail(err)
		}
		return printJson(info)

	default:
		return badUsage(fmt.Sprintf("unknown studies subcommand '%v'", sub))
	}
}

func filesCommand(cfg cliEnv, sub string, args []string) int {
	catalog := client.NewWithToken(cfg.Url, cfg.Token)

	switch sub {
	case "create":
		fs := flagSet("files create")
		study := fs.String("study", cfg.Study, "study reference")
		path := fs.String("path", "", "study relative path, folders end with /")
		name := fs.String("name", "", "file name, defaults to the last path segment")
		fileType := fs.String("type", "", "FILE or DIRECTORY")
		format := fs.String("format", "", "file format")
		bioformat := fs.String("bioformat", "", "bioformat")
		description := fs.String("description", "", "description")
		size := fs.Int64("size", 0, "size in bytes")
		externalUri := fs.String("external-uri", "", "uri for externally tracked content")
		samples := fs.String("samples", "", "comma separated sample ids")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *study == "" || *path == "" {
			return badUsage("files create requires -study and -path")
		}
		sampleIds, err := splitIdList(*samples)
		if err != nil {
			return badUsage(err.Error())
		}

		scoped := catalog.Study(*study)
		info, err := scoped.CreateFile(client.CreateFileArgs{
			Name:        *name,
			Path:        *path,
			Type:        *fileType,
			Format:      *format,
			Bioformat:   *bioformat,
			Description: *description,
			Size:        *size,
			ExternalUri: *externalUri,
			SampleIds:   sampleIds,
		})
		if err != nil {
			return fail(err)
		}
		return printJson(info)

	case "info":
		fs := flagSet("files info")
		study := fs.String("study", cfg.Study, "study reference")
		id := fs.String("id", "", "file id or name")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *study == "" || *id == "" {
			return badUsage("files info requires -study and -id")
		}

		scoped := catalog.Study(*study)
		info, err := scoped.FileInfo(*id)
		if err != nil {
			return fail(err)
		}
		return printJson(info)

	case "search":
		fs := flagSet("files search")
		study := fs.String("study", cfg.Study, "study reference")
		directory := fs.String("directory", "", "restrict to a folder subtree")
		name := fs.String("name", "", "exact file name")
		fileType := fs.String("type", "", "FILE or DIRECTORY")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *study == "" {
			return badUsage("files search requires -study")
		}

		scoped := catalog.Study(*study)
		files, err := scoped.SearchFiles(client.FileSearch{Directory: *directory, Name: *name, Type: *fileType})
		if err != nil {
			return fail(err)
		}
		return printJson(files)

	case "download":
		fs := flagSet("files download")
		study := fs.String("study", cfg.Study, "study reference")
		id := fs.String("id", "", "file id or name")
		out := fs.String("out", "", "output path, defaults to stdout")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *study == "" || *id == "" {
			return badUsage("files download requires -study and -id")
		}

		scoped := catalog.Study(*study)
		data, err := scoped.Download(*id)
		if err != nil {
			return fail(err)
		}

		if *out == "" {
			if _, err := os.Stdout.Write(data); err != nil {
				return fail(err)
			}
			return exitOk
		}
		if err := os.WriteFile(*out, data, 0644); err != nil {
			return fail(err)
		}
		return exitOk

	default:
		return badUsage(fmt.Sprintf("unknown files subcommand '%v'", sub))
	}
}

func jobsCommand(cfg cliEnv, sub string, args []string) int {
	catalog := client.NewWithToken(cfg.Url, cfg.Token)

	switch sub {
	case "submit":
		fs := flagSet("jobs submit")
		study := fs.String("study", cfg.Study, "study reference")
		name := fs.String("name", "", "job name")
		tool := fs.String("tool", "", "tool name")
		description := fs.String("description", "", "description")
		queue := fs.String("queue", "", "queue override")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *study == "" || *name == "" || *tool == "" {
			return badUsage("jobs submit requires -study, -name and -tool")
		}
		commandLine := fs.Args()
		if len(commandLine) == 0 {
			return badUsage("jobs submit requires the command line after the flags")
		}

		scoped := catalog.Study(*study)
		info, err := scoped.SubmitJob(client.SubmitJobArgs{
			Name:        *name,
			ToolName:    *tool,
			Description: *description,
			CommandLine: commandLine,
			Queue:       *queue,
		})
		if err != nil {
			return fail(err)
		}
		return printJson(info)

	case "info":
		fs := flagSet("jobs info")
		study := fs.String("study", cfg.Study, "study reference")
		id := fs.String("id", "", "job id or name")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *study == "" || *id == "" {
			return badUsage("jobs info requires -study and -id")
		}

		scoped := catalog.Study(*study)
		info, err := scoped.JobInfo(*id)
		if err != nil {
			return fail(err)
		}
		return printJson(info)

	case "search":
		fs := flagSet("jobs search")
		study := fs.String("study", cfg.Study, "study reference")
		name := fs.String("name", "", "exact job name")
		tool := fs.String("tool", "", "tool name")
		status := fs.String("status", "", "execution status")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *study == "" {
			return badUsage("jobs search requires -study")
		}

		scoped := catalog.Study(*study)
		jobs, err := scoped.SearchJobs(client.JobSearch{Name: *name, Tool: *tool, Status: *status})
		if err != nil {
			return fail(err)
		}
		return printJson(jobs)

	case "visit":
		fs := flagSet("jobs visit")
		study := fs.String("study", cfg.Study, "study reference")
		id := fs.String("id", "", "job id or name")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *study == "" || *id == "" {
			return badUsage("jobs visit requires -study and -id")
		}

		scoped := catalog.Study(*study)
		info, err := scoped.VisitJob(*id)
		if err != nil {
			return fail(err)
		}
		return printJson(info)

	case "delete":
		fs := flagSet("jobs delete")
		study := fs.String("study", cfg.Study, "study reference")
		id := fs.String("id", "", "job id or name")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *study == "" || *id == "" {
			return badUsage("jobs delete requires -study and -id")
		}

		scoped := catalog.Study(*study)
		info, err := scoped.DeleteJob(*id)
		if err != nil {
			return fail(err)
		}
		return printJson(info)

	default:
		return badUsage(fmt.Sprintf("unknown jobs subcommand '%v'", sub))
	}
}

// aclFlags are the target flags shared by every acl subcommand.
type aclFlags struct {
	kind   *string
	id     *string
	study  *string
	member *string
}

func addAclFlags(fs *flag.FlagSet, cfg cliEnv, withMember bool) aclFlags {
	flags := aclFlags{
		kind:  fs.String("kind", "", "resource kind: studies, files, samples, individuals, cohorts, datasets, panels or jobs"),
		id:    fs.String("id", "", "entity id or name"),
		study: fs.String("study", cfg.Study, "study hint for non study kinds"),
	}
	if withMember {
		flags.member = fs.String("member", "", "user id, @group or *")
	}
	return flags
}

func (f *aclFlags) validate(sub string, withMember bool) error {
	if *f.kind == "" || *f.id == "" {
		return fmt.Errorf("acl %v requires -kind and -id", sub)
	}
	if withMember && *f.member == "" {
		return fmt.Errorf("acl %v requires -member", sub)
	}
	return nil
}

func aclCommand(cfg cliEnv, sub string, args []string) int {
	catalog := client.NewWithToken(cfg.Url, cfg.Token)

	switch sub {
	case "create":
		fs := flagSet("acl create")
		flags := addAclFlags(fs, cfg, false)
		members := fs.String("members", "", "comma separated members")
		permissions := fs.String("permissions", "", "comma separated permissions")
		template := fs.String("template", "", "permission template: admin or analyst")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if err := flags.validate(sub, false); err != nil {
			return badUsage(err.Error())
		}
		if *members == "" {
			return badUsage("acl create requires -members")
		}

		acls := catalog.Acls(*flags.kind, *flags.id, *flags.study)
		created, err := acls.Create(splitList(*members), splitList(*permissions), *template)
		if err != nil {
			return fail(err)
		}
		return printJson(created)

	case "list":
		fs := flagSet("acl list")
		flags := addAclFlags(fs, cfg, false)
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if err := flags.validate(sub, false); err != nil {
			return badUsage(err.Error())
		}

		acls := catalog.Acls(*flags.kind, *flags.id, *flags.study)
		all, err := acls.List()
		if err != nil {
			return fail(err)
		}
		return printJson(all)

	case "get":
		fs := flagSet("acl get")
		flags := addAclFlags(fs, cfg, true)
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if err := flags.validate(sub, true); err != nil {
			return badUsage(err.Error())
		}

		acls := catalog.Acls(*flags.kind, *flags.id, *flags.study)
		entry, err := acls.Get(*flags.member)
		if err != nil {
			return fail(err)
		}
		return printJson(entry)

	case "update":
		fs := flagSet("acl update")
		flags := addAclFlags(fs, cfg, true)
		add := fs.String("add", "", "permissions to add")
		remove := fs.String("remove", "", "permissions to remove")
		set := fs.String("set", "", "permissions to set, replacing the current list")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if err := flags.validate(sub, true); err != nil {
			return badUsage(err.Error())
		}

		acls := catalog.Acls(*flags.kind, *flags.id, *flags.study)
		updated, err := acls.Update(*flags.member, splitList(*add), splitList(*remove), splitList(*set))
		if err != nil {
			return fail(err)
		}
		return printJson(updated)

	case "remove":
		fs := flagSet("acl remove")
		flags := addAclFlags(fs, cfg, true)
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if err := flags.validate(sub, true); err != nil {
			return badUsage(err.Error())
		}

		acls := catalog.Acls(*flags.kind, *flags.id, *flags.study)
		removed, err := acls.Remove(*flags.member)
		if err != nil {
			return fail(err)
		}
		return printJson(removed)

	case "reset":
		fs := flagSet("acl reset")
		flags := addAclFlags(fs, cfg, true)
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if err := flags.validate(sub, true); err != nil {
			return badUsage(err.Error())
		}

		acls := catalog.Acls(*flags.kind, *flags.id, *flags.study)
		if err := acls.Reset(*flags.member); err != nil {
			return fail(err)
		}
		return exitOk

	default:
		return badUsage(fmt.Sprintf("unknown acl subcommand '%v'", sub))
	}
}

func adminCommand(cfg cliEnv, sub string, args []string) int {
	catalog := client.NewWithToken(cfg.Url, cfg.Token)

	switch sub {
	case "usage":
		usage, err := catalog.Usage()
		if err != nil {
			return fail(err)
		}
		return printJson(usage)

	case "daemon-acl":
		fs := flagSet("admin daemon-acl")
		member := fs.String("member", "", "daemon member, defaults to admin")
		if fs.Parse(args) != nil {
			return exitUsage
		}

		acl, err := catalog.DaemonAcl(*member)
		if err != nil {
			return fail(err)
		}
		return printJson(acl)

	case "set-daemon-acl":
		fs := flagSet("admin set-daemon-acl")
		member := fs.String("member", "", "daemon member, defaults to admin")
		permissions := fs.String("permissions", "", "comma separated permissions")
		if fs.Parse(args) != nil {
			return exitUsage
		}
		if *permissions == "" {
			return badUsage("admin set-daemon-acl requires -permissions")
		}

		acl, err := catalog.SetDaemonAcl(*member, splitList(*permissions))
		if err != nil {
			return fail(err)
		}
		return printJson(acl)

	default:
		return badUsage(fmt.Sprintf("unknown admin subcommand '%v'", sub))
	}
}
