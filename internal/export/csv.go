// Package export renders leads to CSV for download and campaign handoff.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/model"
)

// header is the exported column order.
var header = []string{
	"email", "first_name", "last_name", "title", "seniority", "phone",
	"linkedin_url", "city", "state", "country",
	"company_name", "company_domain", "company_industry", "company_size",
	"verification_status", "score", "outreach_status",
}

// WriteCSV writes leads as CSV with a header row.
func WriteCSV(w io.Writer, leads []model.Lead) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "export: write header")
	}

	for _, lead := range leads {
		row := []string{
			lead.Email, lead.FirstName, lead.LastName, lead.Title, lead.Seniority, lead.Phone,
			lead.LinkedInURL, lead.City, lead.State, lead.Country,
			lead.CompanyName, lead.CompanyDomain, lead.CompanyIndustry, strconv.Itoa(lead.CompanySize),
			string(lead.VerificationStatus), strconv.Itoa(lead.Score), lead.OutreachStatus,
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrapf(err, "export: write row %s", lead.Email)
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush")
}

// Filename builds a dated export file name, e.g. "leads_2026-08-31.csv".
func Filename(prefix string, now time.Time) string {
	return fmt.Sprintf("%s_%s.csv", prefix, now.UTC().Format("2006-01-02"))
}
