package csvexport_test

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/email-sequence-backend/internal/csvexport"
	"github.com/nyashahama/email-sequence-backend/internal/order"
)

func parse(t *testing.T, artifact []byte) [][]string {
	t.Helper()
	r := csv.NewReader(bytes.NewReader(artifact))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)
	return records
}

func TestBuild_MixedResultsScenario(t *testing.T) {
	e1 := order.Email{Subject: "Quick question", Body: "Hi Ada"}
	e2 := order.Email{Subject: "Following up", Body: "Bumping this"}

	headers := []string{"name", "company"}
	rows := [][]string{{"Ada", "Acme"}, {"Bob", "Beta"}, {"Cy", "Corp"}}
	results := []order.Sequence{{e1, e2}, order.FailedSequence(), {e1, e2}}

	artifact, err := csvexport.Build(headers, rows, results)
	require.NoError(t, err)

	records := parse(t, artifact)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"name", "company", "Subject 1", "Email 1", "Subject 2", "Email 2"}, records[0])
	assert.Equal(t, []string{"Bob", "Beta", "ERROR", "Failed to generate", "", ""}, records[2])
	assert.Equal(t, []string{"Cy", "Corp", "Quick question", "Hi Ada", "Following up", "Bumping this"}, records[3])

	for _, rec := range records {
		assert.Len(t, rec, len(headers)+2*2)
	}
}

func TestBuild_QuotesEveryField(t *testing.T) {
	artifact, err := csvexport.Build([]string{"a"}, [][]string{{"plain"}}, []order.Sequence{{{Subject: "s", Body: "b"}}})
	require.NoError(t, err)

	assert.Equal(t, "\"a\",\"Subject 1\",\"Email 1\"\n\"plain\",\"s\",\"b\"", string(artifact))
}

func TestBuild_QuoteRoundTrip(t *testing.T) {
	tricky := `She said "hi", then left` + "\nnew line"
	artifact, err := csvexport.Build([]string{"note"}, [][]string{{tricky}}, []order.Sequence{{{Subject: `"Re"`, Body: tricky}}})
	require.NoError(t, err)

	records := parse(t, artifact)
	assert.Equal(t, tricky, records[1][0])
	assert.Equal(t, `"Re"`, records[1][1])
	assert.Equal(t, tricky, records[1][2])
}

func TestBuild_NoResultsMeansNoGeneratedColumns(t *testing.T) {
	artifact, err := csvexport.Build([]string{"a", "b"}, [][]string{{"1", "2"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "\"a\",\"b\"\n\"1\",\"2\"", string(artifact))
}

func TestBuild_EmptyRows(t *testing.T) {
	artifact, err := csvexport.Build([]string{"a"}, nil, nil)
	assert.ErrorIs(t, err, csvexport.ErrEmptyInput)
	assert.Nil(t, artifact)
}

func TestBuild_Deterministic(t *testing.T) {
	rows := [][]string{{"x"}}
	results := []order.Sequence{{{Subject: "s", Body: "b"}}}
	a, err := csvexport.Build([]string{"h"}, rows, results)
	require.NoError(t, err)
	b, err := csvexport.Build([]string{"h"}, rows, results)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "sequences-3f2a9c1e.csv", csvexport.Filename("3f2a9c1e-aaaa-bbbb-cccc-ddddeeeeffff"))
	assert.Equal(t, "sequences-abc.csv", csvexport.Filename("abc"))
}
