package ingest

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/model"
)

// ReadCSV parses a lead CSV with a header row.
func ReadCSV(r io.Reader) ([]model.Lead, *Report, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, eris.New("csv: empty file")
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "csv: read header")
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrap(err, "csv: read row")
		}
		rows = append(rows, record)
	}

	leads, report := fromRows(header, rows)
	if len(leads) == 0 {
		return nil, report, eris.New("csv: no rows with a usable email column")
	}
	return leads, report, nil
}
