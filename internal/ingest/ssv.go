package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
)

// ssvHeader is the fixed 26-field header row spec.md §6 requires
// bit-exact, independent of validation outcome.
var ssvHeader = []string{
	"doctorLicenseId", "groupNumber", "visitDate", "visitTime", "patientNam",
	"field6", "field7", "field8", "field9", "field10",
	"sector",
	"field12", "field13", "field14", "field15", "field16", "field17", "field18",
	"field19", "field20", "field21", "field22", "field23", "field24", "field25", "field26",
}

// WriteSSV emits records in the 26-column, CRLF-terminated billing export
// format, independent of the validation path: export remains available
// even for error-blocked runs under investigation.
func WriteSSV(w io.Writer, doctorLicenseID, groupNumber string, records []domain.BillingRecord) error {
	if _, err := io.WriteString(w, strings.Join(ssvHeader, ";")+"\r\n"); err != nil {
		return fmt.Errorf("ingest: write ssv header: %w", err)
	}

	for _, rec := range records {
		row := make([]string, 26)
		row[0] = doctorLicenseID
		row[1] = groupNumber
		row[2] = rec.DateService.Format("2006-01-02")
		if rec.Debut != nil {
			row[3] = *rec.Debut
		}
		row[4] = rec.Patient
		row[10] = sectorDigit(rec.SecteurActivite)

		if _, err := io.WriteString(w, strings.Join(row, ";")+"\r\n"); err != nil {
			return fmt.Errorf("ingest: write ssv row: %w", err)
		}
	}
	return nil
}

// sectorDigit maps a free-text secteurActivite to the 0-7 digit the SSV
// format requires; an unrecognized sector defaults to "0".
func sectorDigit(secteurActivite string) string {
	switch strings.TrimSpace(secteurActivite) {
	case "1":
		return "1"
	case "2":
		return "2"
	case "3":
		return "3"
	case "4":
		return "4"
	case "5":
		return "5"
	case "6":
		return "6"
	case "7":
		return "7"
	default:
		return "0"
	}
}
