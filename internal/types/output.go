package types

// TableRenderer is implemented by results that print as a table in table
// output mode. JSON mode marshals the value itself.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
	EmptyMessage() string
}

// TableRenderable lets a value keep its JSON shape while handing the
// table writer a separate view.
type TableRenderable interface {
	AsTableRenderer() TableRenderer
}

// Table is a prebuilt TableRenderer
type Table struct {
	Columns []string
	Cells   [][]string
	Empty   string
}

func (t Table) Headers() []string    { return t.Columns }
func (t Table) Rows() [][]string     { return t.Cells }
func (t Table) EmptyMessage() string { return t.Empty }
