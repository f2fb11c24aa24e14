package repository

// Schema definitions for the billing validation store. Compatible with
// both SQLite and PostgreSQL (no driver-specific types).

const schemaBillingCodes = `
CREATE TABLE IF NOT EXISTS billing_codes (
    code TEXT PRIMARY KEY,
    description TEXT NOT NULL,
    category TEXT,
    place TEXT,
    tariff_cents INTEGER NOT NULL DEFAULT 0,
    extra_unit_value_cents INTEGER NOT NULL DEFAULT 0,
    unit_required INTEGER NOT NULL DEFAULT 0,
    top_level TEXT,
    level1_group TEXT,
    level2_group TEXT,
    leaf TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    custom_fields TEXT,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_billing_codes_top_level ON billing_codes(top_level);
CREATE INDEX IF NOT EXISTS idx_billing_codes_leaf ON billing_codes(leaf);
`

const schemaContextElements = `
CREATE TABLE IF NOT EXISTS context_elements (
    name TEXT PRIMARY KEY,
    description TEXT,
    tags TEXT,
    custom_fields TEXT
);
`

const schemaEstablishments = `
CREATE TABLE IF NOT EXISTS establishments (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT,
    region TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    custom_fields TEXT
);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    severity TEXT NOT NULL,
    condition TEXT NOT NULL,
    description TEXT
);

CREATE INDEX IF NOT EXISTS idx_rules_type ON rules(type);
CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(enabled);
`

const schemaValidationRuns = `
CREATE TABLE IF NOT EXISTS validation_runs (
    id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    file_name TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    stage TEXT NOT NULL,
    progress INTEGER NOT NULL DEFAULT 0,
    records_parsed INTEGER NOT NULL DEFAULT 0,
    error_count INTEGER NOT NULL DEFAULT 0,
    optimization_count INTEGER NOT NULL DEFAULT 0,
    info_count INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    error_code TEXT
);

CREATE INDEX IF NOT EXISTS idx_validation_runs_owner ON validation_runs(owner);
CREATE INDEX IF NOT EXISTS idx_validation_runs_stage ON validation_runs(stage);
`

const schemaBillingRecords = `
CREATE TABLE IF NOT EXISTS billing_records (
    id TEXT PRIMARY KEY,
    validation_run_id TEXT NOT NULL,
    record_number INTEGER NOT NULL,
    facture TEXT,
    id_ramq TEXT,
    date_service TIMESTAMP NOT NULL,
    debut TEXT,
    fin TEXT,
    periode TEXT,
    lieu_pratique TEXT,
    secteur_activite TEXT,
    diagnostic TEXT,
    code TEXT NOT NULL,
    unites TEXT,
    role TEXT,
    element_contexte TEXT,
    montant_preliminaire_cents INTEGER NOT NULL DEFAULT 0,
    montant_paye_cents INTEGER,
    patient TEXT,
    custom_fields TEXT
);

CREATE INDEX IF NOT EXISTS idx_billing_records_run ON billing_records(validation_run_id);
CREATE INDEX IF NOT EXISTS idx_billing_records_patient ON billing_records(validation_run_id, patient);
CREATE INDEX IF NOT EXISTS idx_billing_records_code ON billing_records(validation_run_id, code);
`

const schemaValidationResults = `
CREATE TABLE IF NOT EXISTS validation_results (
    id TEXT PRIMARY KEY,
    validation_run_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    severity TEXT NOT NULL,
    category TEXT,
    message TEXT NOT NULL,
    solution TEXT,
    billing_record_id TEXT,
    affected_records TEXT,
    id_ramq TEXT,
    rule_data TEXT
);

CREATE INDEX IF NOT EXISTS idx_validation_results_run ON validation_results(validation_run_id);
CREATE INDEX IF NOT EXISTS idx_validation_results_severity ON validation_results(validation_run_id, severity);
`

// AllSchemas returns all schema statements in dependency order.
func AllSchemas() []string {
	return []string{
		schemaBillingCodes,
		schemaContextElements,
		schemaEstablishments,
		schemaRules,
		schemaValidationRuns,
		schemaBillingRecords,
		schemaValidationResults,
	}
}
