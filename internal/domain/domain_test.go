package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocalizedText(t *testing.T) {
	structured := ParseLocalizedText(` {"en":"Be kind","ur":"meherbani"} `)
	require.True(t, structured.Structured())
	assert.Equal(t, `{"en":"Be kind","ur":"meherbani"}`, structured.String())

	plain := ParseLocalizedText("{not json}")
	assert.False(t, plain.Structured())
	assert.Equal(t, "{not json}", plain.String())

	nested := ParseLocalizedText(`{"en":{"x":"y"}}`)
	assert.False(t, nested.Structured())

	assert.True(t, ParseLocalizedText("").IsZero())
}

func TestLocalizedTextJSON(t *testing.T) {
	for _, text := range []LocalizedText{PlainText("hello"), {Values: map[string]string{"en": "hi"}}} {
		encoded, err := json.Marshal(text)
		require.NoError(t, err)
		var decoded LocalizedText
		require.NoError(t, json.Unmarshal(encoded, &decoded))
		assert.Equal(t, text.String(), decoded.String())
		assert.Equal(t, text.Structured(), decoded.Structured())
	}
}

func TestBookFillEmptyNeverOverwrites(t *testing.T) {
	existing := Book{Name: "Gems", Publisher: "Dar", Grade: ""}
	updated, changed := existing.FillEmpty(Book{Publisher: "Other", Grade: " A ", Edition: "2nd"})
	require.True(t, changed)
	assert.Equal(t, "Dar", updated.Publisher)
	assert.Equal(t, "A", updated.Grade)
	assert.Equal(t, "2nd", updated.Edition)

	_, changed = updated.FillEmpty(Book{Publisher: "Again"})
	assert.False(t, changed)
}

func TestTransactionFilterMatches(t *testing.T) {
	termID := uuid.New()
	tx := Transaction{
		Title:        "Patience in hardship",
		Text:         PlainText("Endure"),
		GenericTerms: []TermRef{{ID: termID, Name: "Virtue"}},
	}
	assert.True(t, TransactionFilter{}.Matches(tx))
	assert.True(t, TransactionFilter{TermID: &termID}.Matches(tx))
	other := uuid.New()
	assert.False(t, TransactionFilter{TermID: &other}.Matches(tx))
	assert.True(t, TransactionFilter{Search: "HARDSHIP"}.Matches(tx))
	assert.True(t, TransactionFilter{Search: "endure"}.Matches(tx))
	assert.False(t, TransactionFilter{Search: "anger"}.Matches(tx))
}

func TestImportJobCloneIsDeep(t *testing.T) {
	job := ImportJob{Files: []FileSummary{{Name: "a.csv", Sheets: []SheetSummary{{Name: "a", Errors: []RowError{{Row: 2, Fields: []string{"rating"}}}}}}}}
	clone := job.Clone()
	clone.Files[0].Sheets[0].Errors[0].Fields[0] = "page"
	clone.Files[0].Name = "b.csv"
	assert.Equal(t, "rating", job.Files[0].Sheets[0].Errors[0].Fields[0])
	assert.Equal(t, "a.csv", job.Files[0].Name)
}
