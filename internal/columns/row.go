package columns

import "strings"

// Cell is one header/value pair of a decoded row.
type Cell struct {
	Header string
	Value  string
	key    string
}

// Row is a decoded spreadsheet row with its cells in source column order.
// Index is the 1-based row number in the original file, header row included.
type Row struct {
	Index int
	cells []Cell
}

// NewRow pairs headers with values. Missing trailing values are treated as empty.
func NewRow(index int, headers []string, values []string) Row {
	cells := make([]Cell, 0, len(headers))
	for i, header := range headers {
		value := ""
		if i < len(values) {
			value = values[i]
		}
		cells = append(cells, Cell{Header: header, Value: value, key: Normalize(header)})
	}
	return Row{Index: index, cells: cells}
}

// Cells returns a copy of the row's cells.
func (r Row) Cells() []Cell {
	return append([]Cell(nil), r.cells...)
}

// Empty reports whether every cell is blank.
func (r Row) Empty() bool {
	for _, cell := range r.cells {
		if strings.TrimSpace(cell.Value) != "" {
			return false
		}
	}
	return true
}

// Get resolves a logical field against the row using the field's alias list.
func (r Row) Get(field Field) (string, bool) {
	return Resolve(r, Aliases(field))
}

// Defines reports whether the row carries a value for field under a header
// that equals one of its aliases or starts with one. Short headers such as
// "Title" or "Page" sit inside longer aliases such as "Book Title" or
// "Page Range", so the looser passes are not used here.
func (r Row) Defines(field Field) bool {
	_, ok := resolve(r, NormalizeAll(Aliases(field)), strictPasses)
	return ok
}

var strictPasses = []matchPass{
	func(header, alias string) bool { return header == alias },
	func(header, alias string) bool { return strings.HasPrefix(header, alias+" ") },
}

type matchPass func(header, alias string) bool

var passes = []matchPass{
	func(header, alias string) bool { return header == alias },
	func(header, alias string) bool {
		return strings.HasPrefix(header, alias) || strings.HasPrefix(alias, header)
	},
	// Substring matches are bounded by word breaks so short aliases such as
	// "s no" cannot land inside unrelated words.
	func(header, alias string) bool {
		h, a := " "+header+" ", " "+alias+" "
		return strings.Contains(h, a) || strings.Contains(a, h)
	},
}

// Resolve returns the trimmed value of the first cell matched by an alias.
// Exact matches across all aliases are tried before prefix matches, and prefix
// matches before substring matches; within a pass aliases are tried in order.
// A matched cell with a blank value does not satisfy the alias.
func Resolve(row Row, aliases []string) (string, bool) {
	return resolve(row, NormalizeAll(aliases), passes)
}

func resolve(row Row, keys []string, passes []matchPass) (string, bool) {
	if len(keys) == 0 {
		return "", false
	}
	for _, match := range passes {
		for _, alias := range keys {
			for _, cell := range row.cells {
				if cell.key == "" || !match(cell.key, alias) {
					continue
				}
				if value := strings.TrimSpace(cell.Value); value != "" {
					return value, true
				}
			}
		}
	}
	return "", false
}
