package authz

import (
	"genome_catalog/catalog/schema"
)

// Filter operations drop every entity the user cannot VIEW. The study owner
// and the daemon-authorized admin see everything unfiltered. Annotation
// bearing entities additionally lose their annotation sets when the user
// lacks VIEW_ANNOTATIONS on them.

func (r *Resolver) filterBypass(studyId int64, userId string) (bool, error) {
	if userId == schema.AdminUser {
		acl, err := r.daemonAcl()
		if err != nil {
			return false, err
		}
		return acl != nil, nil
	}
	owner, err := schema.GetStudyOwner(studyId, r.db)
	if err != nil {
		return false, err
	}
	return userId == owner, nil
}

func (r *Resolver) FilterFiles(userId string, studyId int64, files []schema.File) ([]schema.File, error) {
	if len(files) == 0 {
		return files, nil
	}
	bypass, err := r.filterBypass(studyId, userId)
	if err != nil {
		return nil, err
	}
	if bypass {
		return files, nil
	}

	authCtx := NewStudyAuthContext(studyId)

	filtered := make([]schema.File, 0, len(files))
	for i := range files {
		acl, err := r.resolveFileAcl(&files[i], userId, authCtx)
		if err != nil {
			return nil, err
		}
		if acl.Has(PermView) {
			filtered = append(filtered, files[i])
		}
	}
	return filtered, nil
}

func (r *Resolver) FilterSamples(userId string, studyId int64, samples []schema.Sample) ([]schema.Sample, error) {
	if len(samples) == 0 {
		return samples, nil
	}
	bypass, err := r.filterBypass(studyId, userId)
	if err != nil {
		return nil, err
	}
	if bypass {
		return samples, nil
	}

	filtered := make([]schema.Sample, 0, len(samples))
	for i := range samples {
		acl, err := r.resolveEntityAcl(schema.KindSample, samples[i].Id, studyId, userId)
		if err != nil {
			return nil, err
		}
		if !acl.Has(PermView) {
			continue
		}
		if !acl.Has(PermViewAnnotations) {
			samples[i].Annotations = ""
		}
		filtered = append(filtered, samples[i])
	}
	return filtered, nil
}

func (r *Resolver) FilterIndividuals(userId string, studyId int64, individuals []schema.Individual) ([]schema.Individual, error) {
	if len(individuals) == 0 {
		return individuals, nil
	}
	bypass, err := r.filterBypass(studyId, userId)
	if err != nil {
		return nil, err
	}
	if bypass {
		return individuals, nil
	}

	filtered := make([]schema.Individual, 0, len(individuals))
	for i := range individuals {
		acl, err := r.resolveEntityAcl(schema.KindIndividual, individuals[i].Id, studyId, userId)
		if err != nil {
			return nil, err
		}
		if !acl.Has(PermView) {
			continue
		}
		if !acl.Has(PermViewAnnotations) {
			individuals[i].Annotations = ""
		}
		filtered = append(filtered, individuals[i])
	}
	return filtered, nil
}

func (r *Resolver) FilterCohorts(userId string, studyId int64, cohorts []schema.Cohort) ([]schema.Cohort, error) {
	if len(cohorts) == 0 {
		return cohorts, nil
	}
	bypass, err := r.filterBypass(studyId, userId)
	if err != nil {
		return nil, err
	}
	if bypass {
		return cohorts, nil
	}

	filtered := make([]schema.Cohort, 0, len(cohorts))
	for i := range cohorts {
		acl, err := r.resolveEntityAcl(schema.KindCohort, cohorts[i].Id, studyId, userId)
		if err != nil {
			return nil, err
		}
		if !acl.Has(PermView) {
			continue
		}
		if !acl.Has(PermViewAnnotations) {
			cohorts[i].Annotations = ""
		}
		filtered = append(filtered, cohorts[i])
	}
	return filtered, nil
}

func (r *Resolver) FilterJobs(userId string, studyId int64, jobs []schema.Job) ([]schema.Job, error) {
	if len(jobs) == 0 {
		return jobs, nil
	}
	bypass, err := r.filterBypass(studyId, userId)
	if err != nil {
		return nil, err
	}
	if bypass {
		return jobs, nil
	}

	filtered := make([]schema.Job, 0, len(jobs))
	for i := range jobs {
		acl, err := r.resolveEntityAcl(schema.KindJob, jobs[i].Id, studyId, userId)
		if err != nil {
			return nil, err
		}
		if acl.Has(PermView) {
			filtered = append(filtered, jobs[i])
		}
	}
	return filtered, nil
}

func (r *Resolver) FilterDatasets(userId string, studyId int64, datasets []schema.Dataset) ([]schema.Dataset, error) {
	if len(datasets) == 0 {
		return datasets, nil
	}
	bypass, err := r.filterBypass(studyId, userId)
	if err != nil {
		return nil, err
	}
	if bypass {
		return datasets, nil
	}

	filtered := make([]schema.Dataset, 0, len(datasets))
	for i := range datasets {
		acl, err := r.resolveEntityAcl(schema.KindDataset, datasets[i].Id, studyId, userId)
		if err != nil {
			return nil, err
		}
		if acl.Has(PermView) {
			filtered = append(filtered, datasets[i])
		}
	}
	return filtered, nil
}

func (r *Resolver) FilterPanels(userId string, studyId int64, panels []schema.Panel) ([]schema.Panel, error) {
	if len(panels) == 0 {
		return panels, nil
	}
	bypass, err := r.filterBypass(studyId, userId)
	if err != nil {
		return nil, err
	}
	if bypass {
		return panels, nil
	}

	filtered := make([]schema.Panel, 0, len(panels))
	for i := range panels {
		acl, err := r.resolveEntityAcl(schema.KindPanel, panels[i].Id, studyId, userId)
		if err != nil {
			return nil, err
		}
		if acl.Has(PermView) {
			filtered = append(filtered, panels[i])
		}
	}
	return filtered, nil
}
