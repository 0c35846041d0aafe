package columns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"\ufeffSr.No.":       "sr no",
		"  Title / Heading ": "title heading",
		"PAGE-NO":            "page no",
		"Ｔｉｔｌｅ":              "title",
		"---":                "",
		"":                   "",
	}
	for input, want := range cases {
		assert.Equal(t, want, Normalize(input), "input %q", input)
	}
}

func TestResolveToleratesSequenceHeaderDrift(t *testing.T) {
	for _, header := range []string{"Sr.No.", "Sr No", "S.No"} {
		row := NewRow(2, []string{header, "Title"}, []string{"7", "Kindness"})
		value, ok := row.Get(TxSequence)
		require.True(t, ok, "header %q", header)
		assert.Equal(t, "7", value, "header %q", header)
	}
}

func TestResolveExactBeatsPrefixAndSubstring(t *testing.T) {
	row := NewRow(3,
		[]string{"Page Range", "Page No"},
		[]string{"1-300", "42"},
	)
	value, ok := row.Get(TxPage)
	require.True(t, ok)
	assert.Equal(t, "42", value)
}

func TestResolveFallsThroughBlankCells(t *testing.T) {
	row := NewRow(3,
		[]string{"Title", "Heading"},
		[]string{"   ", "Patience"},
	)
	value, ok := row.Get(TxTitle)
	require.True(t, ok)
	assert.Equal(t, "Patience", value)
}

func TestResolvePrefixAndSubstringPasses(t *testing.T) {
	prefix := NewRow(2, []string{"Keywords (comma separated)"}, []string{"faith, hope"})
	value, ok := prefix.Get(TxKeywords)
	require.True(t, ok)
	assert.Equal(t, "faith, hope", value)

	substring := NewRow(2, []string{"Main Conclusion Drawn"}, []string{"be patient"})
	value, ok = substring.Get(TxConclusion)
	require.True(t, ok)
	assert.Equal(t, "be patient", value)
}

func TestResolveAbsent(t *testing.T) {
	row := NewRow(2, []string{"Colour"}, []string{"red"})
	_, ok := row.Get(TxTitle)
	assert.False(t, ok)

	_, ok = Resolve(row, nil)
	assert.False(t, ok)
}

func TestDefinesIgnoresShortHeadersInsideBookAliases(t *testing.T) {
	row := NewRow(2,
		[]string{"Sr No", "Title", "Page", "Remark"},
		[]string{"1", "Kindness", "10", "good"},
	)
	for _, field := range BookFields() {
		assert.False(t, row.Defines(field), "field %s", field)
	}

	book := NewRow(2, []string{"Book Name (English)", "Title"}, []string{"Gems", ""})
	assert.True(t, book.Defines(BookName))
}

func TestCanonicalHeadersResolveToTheirField(t *testing.T) {
	fields := append(BookFields(), TransactionFields()...)
	headers := make([]string, len(fields))
	for i, field := range fields {
		headers[i] = Header(field)
	}
	for i, field := range fields {
		values := make([]string, len(fields))
		values[i] = "x"
		row := NewRow(2, headers, values)
		value, ok := row.Get(field)
		require.True(t, ok, "field %s", field)
		assert.Equal(t, "x", value, "field %s", field)
	}
}

func TestRowEmpty(t *testing.T) {
	assert.True(t, NewRow(4, []string{"A", "B"}, []string{" ", ""}).Empty())
	assert.False(t, NewRow(4, []string{"A", "B"}, []string{"", "b"}).Empty())
	assert.True(t, NewRow(4, []string{"A"}, nil).Empty())
}
