package domain

import "encoding/json"

// RuleType enumerates the bespoke and declarative handler families a Rule
// can be materialized into (spec.md §4.2).
type RuleType string

const (
	RuleTypeDailyTimeLimit      RuleType = "daily_time_limit"
	RuleTypeOfficeFee           RuleType = "office_fee"
	RuleTypeAnnualLimit         RuleType = "annual_limit"
	RuleTypeVisitDurationRevenue RuleType = "visit_duration_revenue"

	RuleTypeProhibition              RuleType = "prohibition"
	RuleTypeRequirement               RuleType = "requirement"
	RuleTypeTimeRestriction           RuleType = "time_restriction"
	RuleTypeLocationRestriction       RuleType = "location_restriction"
	RuleTypeAgeRestriction            RuleType = "age_restriction"
	RuleTypeAmountLimit               RuleType = "amount_limit"
	RuleTypeMutualExclusion           RuleType = "mutual_exclusion"
	RuleTypeMissingAnnualOpportunity  RuleType = "missing_annual_opportunity"
	RuleTypeDeclarativeAnnualLimit    RuleType = "annual_limit_declarative"
)

// Rule is a persisted, enable/disable-able validation rule definition.
// Condition holds the handler-specific configuration: for declarative
// types (§4.2.5) this is a CEL expression plus parameters; for bespoke
// types it is a small JSON object of numeric/string thresholds.
type Rule struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        RuleType        `json:"type"`
	Enabled     bool            `json:"enabled"`
	Severity    Severity        `json:"severity"`
	Condition   json.RawMessage `json:"condition"`
	Description string          `json:"description,omitempty"`
}

// DailyTimeLimitParams configures the §4.2.1 intervention clinique handler.
type DailyTimeLimitParams struct {
	PrimaryCode      string   `json:"primaryCode"`      // fixed duration per record, e.g. "8857"
	PrimaryMinutes   int      `json:"primaryMinutes"`   // e.g. 30
	SecondaryCode    string   `json:"secondaryCode"`    // duration read from Unites, e.g. "8859"
	ExcludedContexts []string `json:"excludedContexts"` // e.g. ["ICEP","ICSM","ICTOX"]
	MaxMinutesPerDay int      `json:"maxMinutesPerDay"` // e.g. 180
}

// OfficeFeeParams configures the §4.2.2 office-fee handler. Tariffs for
// CodeA/CodeB are read from the codes snapshot rather than duplicated here.
type OfficeFeeParams struct {
	CodeA            string   `json:"codeA"` // e.g. "19928"
	CodeB            string   `json:"codeB"` // e.g. "19929"
	WalkInContexts   []string `json:"walkInContexts"`  // e.g. ["#G160","#AR"]; leading # tolerated
	RegisteredMinA   int      `json:"registeredMinA"`  // e.g. 6
	RegisteredMinB   int      `json:"registeredMinB"`  // e.g. 12
	WalkInMinA       int      `json:"walkInMinA"`       // e.g. 10
	WalkInMinB       int      `json:"walkInMinB"`       // e.g. 20
	DailyCapCents    int64    `json:"dailyCapCents"`    // e.g. 6480 (64.80$)
}

// AnnualLimitParams configures the §4.2.3 annual-per-patient handler and
// its §4.2.5 "annual_limit" declarative variant. The effective code set
// is the union of Codes (taken verbatim) and the codes that LeafPatterns
// resolves to through the codes snapshot's leaf index.
type AnnualLimitParams struct {
	Codes        []string `json:"codes,omitempty"`
	LeafPatterns []string `json:"leafPatterns,omitempty"` // e.g. ["Visite de prise en charge","Visite périodique"]
}

// VisitDurationRevenueParams configures the §4.2.4 handler. Tariffs for
// ShortVisitCode/LongVisitCode are read from the codes snapshot (Tariff
// for the first period, ExtraUnitValue for each additional period).
type VisitDurationRevenueParams struct {
	ThresholdMinutes int    `json:"thresholdMinutes"` // e.g. 30
	ShortVisitCode   string `json:"shortVisitCode"`   // e.g. "8857"
	LongVisitCode    string `json:"longVisitCode"`    // e.g. "8859"
	EligibleTopLevel string `json:"eligibleTopLevel"` // e.g. "B - CONSULTATION, EXAMEN ET VISITE"
}

// DeclarativeCondition is the condition shape of the six CEL-backed rule
// types (spec.md §4.2.5): a boolean expression evaluated per record (or
// per record group) plus a fixed set of named parameters the expression
// may reference. missing_annual_opportunity also reads this shape, using
// only Params, Message and Solution.
type DeclarativeCondition struct {
	Expression string         `json:"expression"`
	Params     map[string]any `json:"params,omitempty"`
	Message    string         `json:"message"`
	Solution   string         `json:"solution,omitempty"`
}
