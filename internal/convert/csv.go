package convert

import (
	"encoding/csv"
	"fmt"
	"io"
)

// csvBatchRows is the number of data rows per section.
const csvBatchRows = 50

// CSVConverter renders a CSV file as markdown tables, one section per
// batch of rows with the header repeated.
type CSVConverter struct{}

func (c *CSVConverter) Convert(r io.Reader, filename string) (string, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}

	var doc document
	doc.heading(1, Stem(filename))
	if len(records) == 0 {
		return doc.String(), nil
	}

	headers := records[0]
	data := records[1:]
	if len(data) <= csvBatchRows {
		doc.table(records)
		return doc.String(), nil
	}
	for i := 0; i < len(data); i += csvBatchRows {
		end := min(i+csvBatchRows, len(data))
		// Line numbers are 1-indexed and skip the header.
		doc.heading(2, fmt.Sprintf("Rows %d-%d", i+2, end+1))
		doc.table(append([][]string{headers}, data[i:end]...))
	}
	return doc.String(), nil
}
