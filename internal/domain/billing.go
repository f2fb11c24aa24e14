// Package domain defines the canonical entities and external-collaborator
// interfaces for the RAMQ billing validation engine.
package domain

import (
	"time"

	"github.com/montignypatrik/facnet-validator-sub007/internal/money"
)

// BillingCode is a reference billing code with hierarchical classification.
type BillingCode struct {
	Code           string            `json:"code"`
	Description    string            `json:"description"`
	Category       string            `json:"category"`
	Place          string            `json:"place"`
	Tariff         money.Cents       `json:"tariff"`
	ExtraUnitValue money.Cents       `json:"extraUnitValue"`
	UnitRequired   bool              `json:"unitRequired"`
	TopLevel       string            `json:"topLevel"`
	Level1Group    string            `json:"level1Group"`
	Level2Group    string            `json:"level2Group"`
	Leaf           string            `json:"leaf"`
	Active         bool              `json:"active"`
	CustomFields   map[string]string `json:"customFields,omitempty"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// ContextElement classifies a billing line (walk-in, vulnerable population, GMF, ...).
type ContextElement struct {
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
}

// Establishment is a billing place of practice.
type Establishment struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         string            `json:"type,omitempty"`
	Region       string            `json:"region,omitempty"`
	Active       bool              `json:"active"`
	CustomFields map[string]string `json:"customFields,omitempty"`
}

// IsCabinet reports whether an establishment id denotes an outpatient cabinet
// (its first character is '5').
func IsCabinet(establishmentID string) bool {
	return len(establishmentID) > 0 && establishmentID[0] == '5'
}

// BillingRecord is one canonical, normalized CSV row.
type BillingRecord struct {
	ID                  string            `json:"id"`
	ValidationRunID      string            `json:"validationRunId"`
	RecordNumber         int               `json:"recordNumber"`
	Facture              string            `json:"facture"`
	IDRamq               string            `json:"idRamq"`
	DateService          time.Time         `json:"dateService"`
	Debut                *string           `json:"debut,omitempty"`
	Fin                  *string           `json:"fin,omitempty"`
	Periode              string            `json:"periode,omitempty"`
	LieuPratique         string            `json:"lieuPratique"`
	SecteurActivite      string            `json:"secteurActivite,omitempty"`
	Diagnostic           string            `json:"diagnostic,omitempty"`
	Code                 string            `json:"code"`
	Unites               string            `json:"unites,omitempty"`
	Role                 string            `json:"role,omitempty"`
	ElementContexte      *string           `json:"elementContexte,omitempty"`
	MontantPreliminaire  money.Cents       `json:"montantPreliminaire"`
	MontantPaye          *money.Cents      `json:"montantPaye,omitempty"`
	DoctorInfo           *string           `json:"-"`
	Patient              string            `json:"patient"`
	CustomFields         map[string]string `json:"customFields,omitempty"`
}

// IsCabinetRecord reports whether the record's lieuPratique is a cabinet.
func (r *BillingRecord) IsCabinetRecord() bool {
	return IsCabinet(r.LieuPratique)
}

// IsPaid reports whether the record's montantPaye denotes a paid claim:
// present and strictly positive. Null or zero means unpaid.
func (r *BillingRecord) IsPaid() bool {
	return r.MontantPaye != nil && r.MontantPaye.IsPositive()
}

// PaidAmount returns the paid amount, or zero if unpaid.
func (r *BillingRecord) PaidAmount() money.Cents {
	if r.MontantPaye == nil {
		return money.Zero
	}
	return *r.MontantPaye
}

// RunStage is a ValidationRun's position in the processing state machine.
type RunStage string

const (
	StageQueued     RunStage = "queued"
	StageParsing    RunStage = "parsing"
	StageValidating RunStage = "validating"
	StagePersisting RunStage = "persisting"
	StageDone       RunStage = "done"
	StageFailed     RunStage = "failed"
)

// Error codes surfaced on a failed ValidationRun.
const (
	ErrCodeCancelled      = "CANCELLED"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeParseFailure   = "PARSE_FAILURE"
	ErrCodeReferenceUnavailable = "REFERENCE_UNAVAILABLE"
	ErrCodePersistFailure = "PERSIST_FAILURE"
	ErrCodeInternal       = "INTERNAL"
)

// ValidationRun tracks one validation job from upload to completion.
type ValidationRun struct {
	ID                string    `json:"id"`
	Owner             string    `json:"owner"`
	FileName          string    `json:"fileName"`
	CreatedAt         time.Time `json:"createdAt"`
	Stage             RunStage  `json:"stage"`
	Progress          int       `json:"progress"`
	RecordsParsed     int       `json:"recordsParsed"`
	ErrorCount        int       `json:"errorCount"`
	OptimizationCount int       `json:"optimizationCount"`
	InfoCount         int       `json:"infoCount"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	ErrorCode         string    `json:"errorCode,omitempty"`
}

// Severity classifies a ValidationResult.
type Severity string

const (
	SeverityError        Severity = "error"
	SeverityOptimization Severity = "optimization"
	SeverityInfo         Severity = "info"
)

// Finding is a single ValidationResult produced by a rule handler.
type Finding struct {
	ID               string         `json:"id"`
	ValidationRunID  string         `json:"validationRunId"`
	RuleID           string         `json:"ruleId"`
	Severity         Severity       `json:"severity"`
	Category         string         `json:"category"`
	Message          string         `json:"message"`
	Solution         string         `json:"solution,omitempty"`
	BillingRecordID  string         `json:"billingRecordId,omitempty"`
	AffectedRecords  []string       `json:"affectedRecords,omitempty"`
	IDRamq           string         `json:"idRamq,omitempty"`
	RuleData         map[string]any `json:"ruleData,omitempty"`
}

// MonetaryImpact returns the ruleData["monetaryImpact"] as Cents, or zero
// if absent or of an unexpected type.
func (f *Finding) MonetaryImpact() money.Cents {
	if f.RuleData == nil {
		return money.Zero
	}
	switch v := f.RuleData["monetaryImpact"].(type) {
	case money.Cents:
		return v
	case int64:
		return money.Cents(v)
	case int:
		return money.Cents(v)
	case float64:
		return money.FromFloat(v)
	default:
		return money.Zero
	}
}

// Category tags used by the handler catalogue (spec.md §4.2).
const (
	CategoryRuleExecutionError = "rule_execution_error"
	CategoryInterventionClinique = "intervention_clinique"
	CategoryOfficeFee          = "office_fee"
	CategoryAnnualLimit        = "annual_limit"
	CategoryRevenueOptimization = "revenue_optimization"
)
