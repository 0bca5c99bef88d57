package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFamilyByName(t *testing.T) {
	f, err := FamilyByName("ngram3")
	require.NoError(t, err)
	assert.Equal(t, 3, f.Arity)
	assert.Equal(t, DefaultMaxLabelLen, f.MaxLabelLen)
	assert.Equal(t, "article3term", f.AssociationTable())
	assert.Equal(t, []string{"term1", "term2", "term3"}, f.TermColumns())
	assert.Equal(t, Trigrams, f)

	f, err = FamilyByName(" NGRAM1 ")
	require.NoError(t, err)
	assert.Equal(t, 1, f.Arity)

	_, err = FamilyByName("ngram7")
	assert.Error(t, err)
}

func TestFamilyFileID(t *testing.T) {
	tests := []struct {
		path string
		id   string
		ok   bool
	}{
		{"/corpus/Anthro 2010/ngram3/A1-ngram3.txt", "A1", true},
		{"A1-ngram3.txt", "A1", true},
		{"/corpus/ngram3/journal.1234-ngram3.txt", "journal.1234", true},
		{"/corpus/ngram3/A1-ngram1.txt", "", false},
		{"/corpus/ngram3/-ngram3.txt", "", false},
		{"/corpus/ngram3/A1.txt", "", false},
	}
	for _, tt := range tests {
		id, ok := Trigrams.FileID(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.id, id, tt.path)
	}
}

func TestFamilyNames(t *testing.T) {
	assert.Equal(t, []string{"ngram1", "ngram2", "ngram3"}, FamilyNames())
}

func TestFamilyValidate(t *testing.T) {
	assert.NoError(t, Trigrams.Validate())
	assert.Error(t, Family{Name: "bad", MaxLabelLen: 10}.Validate())
	assert.Error(t, Family{Name: "bad", Arity: 3}.Validate())
}
