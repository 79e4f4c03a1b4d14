package resolve

import (
	"testing"

	"genome_catalog/catalog/schema"

	"github.com/stretchr/testify/assert"
)

func TestMatchFileRef(t *testing.T) {
	rows := []fileRow{
		{Id: 2001, StudyId: 1, Name: "reads.bam", Path: "data/reads.bam"},
		{Id: 2002, StudyId: 1, Name: "readme.txt", Path: "readme.txt"},
	}

	row, err := matchFileRef(rows, "data/reads.bam")
	assert.NoError(t, err)
	assert.Equal(t, int64(2001), row.Id)

	// A bare name matches on name anywhere in the scope.
	row, err = matchFileRef(rows, "reads.bam")
	assert.NoError(t, err)
	assert.Equal(t, int64(2001), row.Id)

	// Root files match the same row by path and by name; that is not
	// ambiguous.
	row, err = matchFileRef(rows, "readme.txt")
	assert.NoError(t, err)
	assert.Equal(t, int64(2002), row.Id)

	row, err = matchFileRef(rows, "missing.txt")
	assert.NoError(t, err)
	assert.Nil(t, row)

	// A reference containing '/' only ever matches paths, never names.
	row, err = matchFileRef([]fileRow{{Id: 3, Name: "data/odd", Path: "x/y"}}, "data/odd")
	assert.NoError(t, err)
	assert.Nil(t, row)
}

func TestMatchFileRefAmbiguity(t *testing.T) {
	var ambiguous *AmbiguousError

	// Path match and name match landing on different files.
	rows := []fileRow{
		{Id: 2001, StudyId: 1, Name: "sample.txt", Path: "sample.txt"},
		{Id: 2002, StudyId: 1, Name: "sample.txt", Path: "deep/sample.txt"},
	}
	_, err := matchFileRef(rows, "sample.txt")
	assert.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, schema.KindFile, ambiguous.Kind)

	// Same name in two studies within the search scope.
	rows = []fileRow{
		{Id: 2001, StudyId: 1, Name: "a.vcf", Path: "run1/a.vcf"},
		{Id: 2002, StudyId: 2, Name: "a.vcf", Path: "run2/a.vcf"},
	}
	_, err = matchFileRef(rows, "a.vcf")
	assert.ErrorAs(t, err, &ambiguous)

	// Same path in two studies within the search scope.
	rows = []fileRow{
		{Id: 2001, StudyId: 1, Name: "a.vcf", Path: "data/a.vcf"},
		{Id: 2002, StudyId: 2, Name: "a.vcf", Path: "data/a.vcf"},
	}
	_, err = matchFileRef(rows, "data/a.vcf")
	assert.ErrorAs(t, err, &ambiguous)
}

func TestNumericIdOffset(t *testing.T) {
	r := NewResolver(nil, 1000)

	id, ok := r.numericId("1001")
	assert.True(t, ok)
	assert.Equal(t, int64(1001), id)

	// Ids at or below the offset are treated as names.
	_, ok = r.numericId("1000")
	assert.False(t, ok)
	_, ok = r.numericId("17")
	assert.False(t, ok)

	_, ok = r.numericId("")
	assert.False(t, ok)
	_, ok = r.numericId("12a")
	assert.False(t, ok)
	_, ok = r.numericId("-1200")
	assert.False(t, ok)
	_, ok = r.numericId("99999999999999999999")
	assert.False(t, ok)

	assert.True(t, isNumeric("0123"))
	assert.False(t, isNumeric("1_000"))
}

func TestReferenceErrorMessages(t *testing.T) {
	assert.Equal(t, "File 'x.txt' not found in study 'demo'",
		notFoundName(schema.KindFile, "x.txt", "demo").Error())
	assert.Equal(t, "Sample 's1' not found",
		notFoundName(schema.KindSample, "s1", "").Error())
	assert.Equal(t, "Job id '2044' does not exist",
		notFoundId(schema.KindJob, "2044").Error())

	ambiguous := &AmbiguousError{Kind: schema.KindFile, Ref: "a.vcf"}
	assert.Equal(t, "more than one file found for 'a.vcf'", ambiguous.Error())
}
