package services

import (
	"errors"

	"genome_catalog/catalog/authz"
	"genome_catalog/catalog/schema"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	permissionChecks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_permission_checks",
		Help: "Permission checks evaluated",
	})

	permissionDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_permission_denials",
		Help: "Permission checks denied",
	})

	aclMutations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_acl_mutations",
		Help: "Acl create/update/remove/reset operations applied",
	})

	jobSubmissions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_job_submissions",
		Help: "Jobs handed to the batch scheduler",
	})

	schedulerProbeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_scheduler_probe_failures",
		Help: "Status sync probes that failed against the scheduler",
	})
)

func countDenial(err error) error {
	var deny *authz.DenyError
	if errors.As(err, &deny) {
		permissionDenials.Inc()
	}
	return err
}

// The check helpers wrap the authz resolver so every evaluated permission
// lands on the counters regardless of which service asked.

func checkStudyPermission(access *authz.Resolver, studyId int64, userId, permission string) error {
	permissionChecks.Inc()
	return countDenial(access.CheckStudyPermission(studyId, userId, permission))
}

func checkEntityPermission(access *authz.Resolver, kind schema.EntityKind, entityId int64, userId, permission string) error {
	permissionChecks.Inc()
	return countDenial(access.CheckEntityPermission(kind, entityId, userId, permission))
}

func checkFilePermission(access *authz.Resolver, authCtx *authz.StudyAuthContext, fileId int64, userId, permission string) error {
	permissionChecks.Inc()
	return countDenial(access.CheckFilePermission(authCtx, fileId, userId, permission))
}
