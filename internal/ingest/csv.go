// Package ingest turns an uploaded semicolon-delimited CSV into canonical
// BillingRecords (spec.md §4.4).
package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/money"
)

// headerDictionary maps the French CSV column labels to canonical
// BillingRecord fields. Columns absent from this map are preserved into
// CustomFields rather than dropped.
var headerDictionary = map[string]string{
	"Lieu de pratique":      "lieuPratique",
	"Secteur d'activité":    "secteurActivite",
	"Élément de contexte":   "elementContexte",
	"Date de Service":       "dateService",
	"Début":                 "debut",
	"Fin":                   "fin",
	"Code":                  "code",
	"Unités":                "unites",
	"Rôle":                  "role",
	"Montant Preliminaire":  "montantPreliminaire",
	"Montant Payé":          "montantPaye",
	"Doctor Info":           "doctorInfo",
	"Patient":                "patient",
	"Facture":               "facture",
	"ID RAMQ":               "idRamq",
	"Diagnostic":             "diagnostic",
	"Période":                "periode",
}

// criticalColumns must be present in the header row or the run fails at
// the parsing stage.
var criticalColumns = []string{"Code", "Date de Service", "Facture", "Patient"}

// ParseError describes one unusable row.
type ParseError struct {
	RowIndex int
	Reason   string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("row %d: %s", e.RowIndex, e.Reason)
}

// Result is the outcome of parsing one CSV upload.
type Result struct {
	Records []domain.BillingRecord
	Errors  []ParseError
}

// Parse reads a semicolon-delimited CSV, decoding UTF-8 with a Latin-1
// fallback, and returns canonical BillingRecords plus any per-row parse
// errors. It returns an error only for a missing critical column or a
// file with zero usable records, per spec.md §4.4.
func Parse(r io.Reader) (Result, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: read upload: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(decodeWithFallback(raw)))
	reader.Comma = ';'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return Result{}, fmt.Errorf("ingest: read header row: %w", err)
	}

	columnField := make(map[int]string, len(header))
	columnLabel := make(map[int]string, len(header))
	present := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		columnLabel[i] = h
		present[h] = true
		if field, ok := headerDictionary[h]; ok {
			columnField[i] = field
		}
	}

	var missing []string
	for _, c := range criticalColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return Result{}, fmt.Errorf("ingest: missing required columns: %s", strings.Join(missing, ", "))
	}

	var result Result
	recordNumber := 0
	rowIndex := 1
	for {
		rowIndex++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Errors = append(result.Errors, ParseError{RowIndex: rowIndex, Reason: err.Error()})
			continue
		}
		if isBlankRow(row) {
			continue
		}

		recordNumber++
		rec, perr := buildRecord(recordNumber, rowIndex, row, columnField, columnLabel)
		if perr != nil {
			result.Errors = append(result.Errors, *perr)
			continue
		}
		result.Records = append(result.Records, rec)
	}

	if len(result.Records) == 0 {
		return result, fmt.Errorf("ingest: no usable records parsed (%d row errors)", len(result.Errors))
	}
	return result, nil
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func buildRecord(recordNumber, rowIndex int, row []string, columnField, columnLabel map[int]string) (domain.BillingRecord, *ParseError) {
	rec := domain.BillingRecord{RecordNumber: recordNumber, CustomFields: map[string]string{}}

	var dateServiceRaw, montantPreliminaireRaw, montantPayeRaw, debutRaw, finRaw, doctorInfoRaw string

	for i, v := range row {
		field, known := columnField[i]
		if !known {
			label := columnLabel[i]
			if label != "" {
				rec.CustomFields[label] = v
			}
			continue
		}
		switch field {
		case "lieuPratique":
			rec.LieuPratique = v
		case "secteurActivite":
			rec.SecteurActivite = v
		case "elementContexte":
			if v != "" {
				val := v
				rec.ElementContexte = &val
			}
		case "dateService":
			dateServiceRaw = v
		case "debut":
			debutRaw = v
		case "fin":
			finRaw = v
		case "code":
			rec.Code = v
		case "unites":
			rec.Unites = v
		case "role":
			rec.Role = v
		case "montantPreliminaire":
			montantPreliminaireRaw = v
		case "montantPaye":
			montantPayeRaw = v
		case "doctorInfo":
			doctorInfoRaw = v
		case "patient":
			rec.Patient = v
		case "facture":
			rec.Facture = v
		case "idRamq":
			rec.IDRamq = v
		case "diagnostic":
			rec.Diagnostic = v
		case "periode":
			rec.Periode = v
		}
	}

	dateService, err := parseDate(dateServiceRaw)
	if err != nil {
		return rec, &ParseError{RowIndex: rowIndex, Reason: fmt.Sprintf("invalid dateService %q: %v", dateServiceRaw, err)}
	}
	rec.DateService = dateService

	if debutRaw != "" {
		rec.Debut = &debutRaw
	}
	if finRaw != "" {
		rec.Fin = &finRaw
	}
	if doctorInfoRaw != "" {
		rec.DoctorInfo = &doctorInfoRaw
	}

	preliminaire, err := money.ParseQuebec(montantPreliminaireRaw)
	if err != nil {
		return rec, &ParseError{RowIndex: rowIndex, Reason: fmt.Sprintf("invalid montantPreliminaire %q: %v", montantPreliminaireRaw, err)}
	}
	rec.MontantPreliminaire = preliminaire

	if strings.TrimSpace(montantPayeRaw) != "" {
		paye, err := money.ParseQuebec(montantPayeRaw)
		if err != nil {
			return rec, &ParseError{RowIndex: rowIndex, Reason: fmt.Sprintf("invalid montantPaye %q: %v", montantPayeRaw, err)}
		}
		rec.MontantPaye = &paye
	}

	rec.ID = fmt.Sprintf("%s-%d", rec.Facture, recordNumber)
	return rec, nil
}

// decodeWithFallback returns raw as-is if it is valid UTF-8, else
// transcodes it from Latin-1 (ISO-8859-1), spec.md's tolerated fallback.
func decodeWithFallback(raw []byte) []byte {
	if utf8.Valid(raw) {
		return raw
	}
	decoded, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), raw)
	if err != nil {
		return raw
	}
	return decoded
}
