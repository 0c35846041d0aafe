package columns

// AliasTableVersion changes whenever a canonical header or alias list changes.
// Exported files carry headers from this table, so the importer accepts them
// as long as both sides agree on the version.
const AliasTableVersion = "2"

// Field names a logical column understood by the importer.
type Field string

// Book (parent record) fields.
const (
	BookLibraryID Field = "book.library_id"
	BookName      Field = "book.name"
	BookSummary   Field = "book.summary"
	BookPageRange Field = "book.page_range"
	BookGrade     Field = "book.grade"
	BookRemark    Field = "book.remark"
	BookEdition   Field = "book.edition"
	BookPublisher Field = "book.publisher"
)

// Transaction (child record) fields.
const (
	TxSequence      Field = "transaction.sequence"
	TxTitle         Field = "transaction.title"
	TxKeywords      Field = "transaction.keywords"
	TxText          Field = "transaction.text"
	TxParagraph     Field = "transaction.paragraph"
	TxPage          Field = "transaction.page"
	TxRating        Field = "transaction.rating"
	TxRemark        Field = "transaction.remark"
	TxSummary       Field = "transaction.summary"
	TxConclusion    Field = "transaction.conclusion"
	TxGenericTerms  Field = "transaction.generic_terms"
	TxSpecificTerms Field = "transaction.specific_terms"
	TxTermCategory  Field = "transaction.term_category"
	TxImages        Field = "transaction.images"
)

type fieldAliases struct {
	field   Field
	aliases []string
}

// The first alias of each entry is the canonical header written by exports.
var bookFields = []fieldAliases{
	{BookLibraryID, []string{"Library ID", "Library Id No", "Lib ID", "Book ID"}},
	{BookName, []string{"Book Name", "Book Title", "Name of Book"}},
	{BookSummary, []string{"Book Summary", "Book Abstract"}},
	{BookPageRange, []string{"Page Range", "Total Pages"}},
	{BookGrade, []string{"Grade", "Book Grade"}},
	{BookRemark, []string{"Book Remark", "Book Remarks"}},
	{BookEdition, []string{"Edition", "Book Edition"}},
	{BookPublisher, []string{"Publisher", "Publication", "Published By"}},
}

var transactionFields = []fieldAliases{
	{TxSequence, []string{"Sr No", "SrNo", "S No", "SNo", "Serial No", "Serial Number", "Sequence", "Seq No"}},
	{TxTitle, []string{"Title", "Heading", "Title / Heading", "Subject"}},
	{TxKeywords, []string{"Keywords", "Key Words", "Keyword", "Tags"}},
	{TxText, []string{"Text", "Excerpt", "Content", "Matter"}},
	{TxParagraph, []string{"Paragraph No", "Para No", "Paragraph", "Para"}},
	{TxPage, []string{"Page No", "Page Number", "Page"}},
	{TxRating, []string{"Rating", "Stars", "Score"}},
	{TxRemark, []string{"Remark", "Remarks", "Note", "Notes"}},
	{TxSummary, []string{"Summary", "Gist"}},
	{TxConclusion, []string{"Conclusion", "Conclusions", "Inference"}},
	{TxGenericTerms, []string{"Generic Topics", "Generic Topic", "Generic Terms", "Generic"}},
	{TxSpecificTerms, []string{"Specific Topics", "Specific Topic", "Specific Terms", "Specific"}},
	{TxTermCategory, []string{"Category", "Topic Category", "Term Category"}},
	{TxImages, []string{"Images", "Image Links", "Image References"}},
}

var aliasIndex = func() map[Field][]string {
	index := make(map[Field][]string, len(bookFields)+len(transactionFields))
	for _, entry := range bookFields {
		index[entry.field] = entry.aliases
	}
	for _, entry := range transactionFields {
		index[entry.field] = entry.aliases
	}
	return index
}()

// Aliases returns the ordered header spellings accepted for a field.
func Aliases(field Field) []string {
	return append([]string(nil), aliasIndex[field]...)
}

// Header returns the canonical header for a field.
func Header(field Field) string {
	aliases := aliasIndex[field]
	if len(aliases) == 0 {
		return ""
	}
	return aliases[0]
}

// BookFields lists the book fields in export column order.
func BookFields() []Field {
	return fieldsOf(bookFields)
}

// TransactionFields lists the transaction fields in export column order.
func TransactionFields() []Field {
	return fieldsOf(transactionFields)
}

func fieldsOf(entries []fieldAliases) []Field {
	out := make([]Field, len(entries))
	for i, entry := range entries {
		out[i] = entry.field
	}
	return out
}
