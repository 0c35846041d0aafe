package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/folio/internal/columns"
	"github.com/rpattn/folio/pkg/validator"
)

func row(index int, headers []string, values ...string) columns.Row {
	return columns.NewRow(index, headers, values)
}

func TestParseRowExtractsTransaction(t *testing.T) {
	headers := []string{"Sr No", "Title", "Text", "Rating", "Generic Topics", "Specific Topics", "Category", "Images"}
	r := row(4, headers, "3.0", " Grace ", `{"en":"grace","fr":"grâce"}`, "4,5", "a; b, c; A\nd", "x", "Cat", "one.png; two,final.png\none.png")

	in, rowErr := parseRow(r, validator.NewFieldValidator())
	require.Nil(t, rowErr)
	assert.Equal(t, 4, in.row)
	assert.Equal(t, 3, in.sequence)
	assert.Equal(t, "grace", in.titleKey)
	assert.Equal(t, "Grace", in.tx.Title)
	assert.True(t, in.tx.Text.Structured())
	assert.Equal(t, "grâce", in.tx.Text.Values["fr"])
	require.NotNil(t, in.tx.Rating)
	assert.InDelta(t, 4.5, *in.tx.Rating, 0.0001)
	assert.Equal(t, []string{"a", "b, c", "d"}, in.genericNames)
	assert.Equal(t, []string{"x"}, in.specificNames)
	assert.Equal(t, "Cat", in.category)
	assert.Equal(t, []string{"one.png", "two,final.png"}, in.tx.Images)
}

func TestParseRowRequiresIdentity(t *testing.T) {
	r := row(7, []string{"Sr No", "Title", "Remark"}, "", "", "only a remark")

	_, rowErr := parseRow(r, validator.NewFieldValidator())
	require.NotNil(t, rowErr)
	assert.Equal(t, 7, rowErr.Row)
}

func TestParseRowRejectsOutOfRangeValues(t *testing.T) {
	v := validator.NewFieldValidator()

	_, rowErr := parseRow(row(2, []string{"Sr No", "Title"}, "0", "t"), v)
	require.NotNil(t, rowErr)
	assert.Equal(t, []string{"Sr No"}, rowErr.Fields)

	_, rowErr = parseRow(row(2, []string{"Title", "Rating"}, "t", "-1"), v)
	require.NotNil(t, rowErr)
	assert.Equal(t, []string{"Rating"}, rowErr.Fields)
}

func TestBookRowDetection(t *testing.T) {
	headers := []string{"Book Name", "Publisher", "Sr No", "Title"}
	assert.True(t, isBookRow(row(2, headers, "Ledger", "", "", "")))
	assert.False(t, isBookRow(row(3, headers, "", "", "1", "One")))
	assert.False(t, isBookRow(row(2, []string{"Title", "Page"}, "One", "4")))

	book := extractBook(row(2, headers, " Ledger ", "Acme", "", ""))
	assert.Equal(t, "Ledger", book.Name)
	assert.Equal(t, "Acme", book.Publisher)
}
