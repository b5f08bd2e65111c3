package export

// Dataset defines tabular export content.
type Dataset struct {
	Title   string
	Headers []string
	Rows    []map[string]string
	// Numeric marks headers whose cells are right aligned in PDF output.
	Numeric map[string]bool
	// Footer lines are printed below the table in PDF output only.
	Footer []string
}

// Record returns the row values ordered by headers.
func (d Dataset) Record(row map[string]string) []string {
	record := make([]string, len(d.Headers))
	for i, header := range d.Headers {
		record[i] = row[header]
	}
	return record
}
