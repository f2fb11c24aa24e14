// Package repository provides data persistence implementations for
// billing reference data, validation runs, billing records and results.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/montignypatrik/facnet-validator-sub007/internal/domain"
	"github.com/montignypatrik/facnet-validator-sub007/internal/money"
)

// SQLRepository implements domain.Repository using database/sql. Works
// with both the SQLite driver (Standalone tier) and the PostgreSQL
// driver (Cluster tier) through one parameterized-query implementation;
// only the placeholder syntax differs, handled by rebind.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// ListBillingCodes returns every reference billing code.
func (r *SQLRepository) ListBillingCodes(ctx context.Context) ([]domain.BillingCode, error) {
	query := `
		SELECT code, description, category, place, tariff_cents, extra_unit_value_cents,
		       unit_required, top_level, level1_group, level2_group, leaf, active,
		       custom_fields, updated_at
		FROM billing_codes
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []domain.BillingCode
	for rows.Next() {
		var c domain.BillingCode
		var tariff, extraUnit int64
		var unitRequired, active int
		var customFields sql.NullString

		if err := rows.Scan(
			&c.Code, &c.Description, &c.Category, &c.Place, &tariff, &extraUnit,
			&unitRequired, &c.TopLevel, &c.Level1Group, &c.Level2Group, &c.Leaf, &active,
			&customFields, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}

		c.Tariff = money.Cents(tariff)
		c.ExtraUnitValue = money.Cents(extraUnit)
		c.UnitRequired = unitRequired == 1
		c.Active = active == 1
		if customFields.Valid && customFields.String != "" {
			json.Unmarshal([]byte(customFields.String), &c.CustomFields)
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// ListContextElements returns every context-element definition.
func (r *SQLRepository) ListContextElements(ctx context.Context) ([]domain.ContextElement, error) {
	query := `SELECT name, description, tags, custom_fields FROM context_elements`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var elements []domain.ContextElement
	for rows.Next() {
		var e domain.ContextElement
		var tags, customFields sql.NullString

		if err := rows.Scan(&e.Name, &e.Description, &tags, &customFields); err != nil {
			return nil, err
		}
		if tags.Valid && tags.String != "" {
			json.Unmarshal([]byte(tags.String), &e.Tags)
		}
		if customFields.Valid && customFields.String != "" {
			json.Unmarshal([]byte(customFields.String), &e.CustomFields)
		}
		elements = append(elements, e)
	}
	return elements, rows.Err()
}

// ListEstablishments returns every establishment.
func (r *SQLRepository) ListEstablishments(ctx context.Context) ([]domain.Establishment, error) {
	query := `SELECT id, name, type, region, active, custom_fields FROM establishments`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var establishments []domain.Establishment
	for rows.Next() {
		var e domain.Establishment
		var active int
		var customFields sql.NullString

		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.Region, &active, &customFields); err != nil {
			return nil, err
		}
		e.Active = active == 1
		if customFields.Valid && customFields.String != "" {
			json.Unmarshal([]byte(customFields.String), &e.CustomFields)
		}
		establishments = append(establishments, e)
	}
	return establishments, rows.Err()
}

// ListRules returns every rule definition, enabled or not; callers
// filter on Enabled when materializing handlers.
func (r *SQLRepository) ListRules(ctx context.Context) ([]domain.Rule, error) {
	query := `SELECT id, name, type, enabled, severity, condition, description FROM rules ORDER BY name`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var enabled int
		var condition string

		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Type, &enabled, &rule.Severity, &condition, &rule.Description); err != nil {
			return nil, err
		}
		rule.Enabled = enabled == 1
		rule.Condition = json.RawMessage(condition)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// UpsertRule inserts or replaces a rule definition.
func (r *SQLRepository) UpsertRule(ctx context.Context, rule domain.Rule) error {
	query := `
		INSERT INTO rules (id, name, type, enabled, severity, condition, description)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			enabled = excluded.enabled,
			severity = excluded.severity,
			condition = excluded.condition,
			description = excluded.description
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Type, boolToInt(rule.Enabled), rule.Severity,
		string(rule.Condition), rule.Description,
	)
	return err
}

// CreateRun inserts a new validation run.
func (r *SQLRepository) CreateRun(ctx context.Context, run domain.ValidationRun) error {
	query := `
		INSERT INTO validation_runs (
			id, owner, file_name, created_at, stage, progress,
			records_parsed, error_count, optimization_count, info_count,
			error_message, error_code
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, run.Owner, run.FileName, run.CreatedAt, run.Stage, run.Progress,
		run.RecordsParsed, run.ErrorCount, run.OptimizationCount, run.InfoCount,
		run.ErrorMessage, run.ErrorCode,
	)
	return err
}

// GetRun retrieves a validation run by id.
func (r *SQLRepository) GetRun(ctx context.Context, id string) (domain.ValidationRun, error) {
	query := `
		SELECT id, owner, file_name, created_at, stage, progress,
		       records_parsed, error_count, optimization_count, info_count,
		       error_message, error_code
		FROM validation_runs WHERE id = ?
	`

	var run domain.ValidationRun
	var errMsg, errCode sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&run.ID, &run.Owner, &run.FileName, &run.CreatedAt, &run.Stage, &run.Progress,
		&run.RecordsParsed, &run.ErrorCount, &run.OptimizationCount, &run.InfoCount,
		&errMsg, &errCode,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ValidationRun{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ValidationRun{}, err
	}
	run.ErrorMessage = errMsg.String
	run.ErrorCode = errCode.String
	return run, nil
}

// UpdateRun persists the run's mutable fields (stage, progress, counts, error).
func (r *SQLRepository) UpdateRun(ctx context.Context, run domain.ValidationRun) error {
	query := `
		UPDATE validation_runs SET
			stage = ?, progress = ?, records_parsed = ?, error_count = ?,
			optimization_count = ?, info_count = ?, error_message = ?, error_code = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		run.Stage, run.Progress, run.RecordsParsed, run.ErrorCount,
		run.OptimizationCount, run.InfoCount, run.ErrorMessage, run.ErrorCode,
		run.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRuns lists validation runs matching filter, newest first.
func (r *SQLRepository) ListRuns(ctx context.Context, filter domain.RunFilter) ([]domain.ValidationRun, error) {
	query := `
		SELECT id, owner, file_name, created_at, stage, progress,
		       records_parsed, error_count, optimization_count, info_count,
		       error_message, error_code
		FROM validation_runs
		WHERE (? = '' OR owner = ?) AND (? = '' OR stage = ?)
		ORDER BY created_at DESC
	`
	args := []any{filter.Owner, filter.Owner, string(filter.Stage), string(filter.Stage)}

	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.ValidationRun
	for rows.Next() {
		var run domain.ValidationRun
		var errMsg, errCode sql.NullString

		if err := rows.Scan(
			&run.ID, &run.Owner, &run.FileName, &run.CreatedAt, &run.Stage, &run.Progress,
			&run.RecordsParsed, &run.ErrorCount, &run.OptimizationCount, &run.InfoCount,
			&errMsg, &errCode,
		); err != nil {
			return nil, err
		}
		run.ErrorMessage = errMsg.String
		run.ErrorCode = errCode.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// BulkInsertRecords inserts every parsed billing record for a run in
// one transaction, so a failure midway never leaves a run's record set
// half-populated.
func (r *SQLRepository) BulkInsertRecords(ctx context.Context, records []domain.BillingRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO billing_records (
			id, validation_run_id, record_number, facture, id_ramq, date_service,
			debut, fin, periode, lieu_pratique, secteur_activite, diagnostic,
			code, unites, role, element_contexte, montant_preliminaire_cents,
			montant_paye_cents, patient, custom_fields
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		var montantPaye sql.NullInt64
		if rec.MontantPaye != nil {
			montantPaye = sql.NullInt64{Int64: int64(*rec.MontantPaye), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.ValidationRunID, rec.RecordNumber, rec.Facture, rec.IDRamq, rec.DateService,
			rec.Debut, rec.Fin, rec.Periode, rec.LieuPratique, rec.SecteurActivite, rec.Diagnostic,
			rec.Code, rec.Unites, rec.Role, rec.ElementContexte, int64(rec.MontantPreliminaire),
			montantPaye, rec.Patient, marshalJSON(rec.CustomFields),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListRecords returns every billing record for one run, in record order.
func (r *SQLRepository) ListRecords(ctx context.Context, validationRunID string) ([]domain.BillingRecord, error) {
	query := `
		SELECT id, validation_run_id, record_number, facture, id_ramq, date_service,
		       debut, fin, periode, lieu_pratique, secteur_activite, diagnostic,
		       code, unites, role, element_contexte, montant_preliminaire_cents,
		       montant_paye_cents, patient, custom_fields
		FROM billing_records WHERE validation_run_id = ? ORDER BY record_number
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), validationRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.BillingRecord
	for rows.Next() {
		var rec domain.BillingRecord
		var montantPreliminaire int64
		var montantPaye sql.NullInt64
		var customFields sql.NullString

		if err := rows.Scan(
			&rec.ID, &rec.ValidationRunID, &rec.RecordNumber, &rec.Facture, &rec.IDRamq, &rec.DateService,
			&rec.Debut, &rec.Fin, &rec.Periode, &rec.LieuPratique, &rec.SecteurActivite, &rec.Diagnostic,
			&rec.Code, &rec.Unites, &rec.Role, &rec.ElementContexte, &montantPreliminaire,
			&montantPaye, &rec.Patient, &customFields,
		); err != nil {
			return nil, err
		}

		rec.MontantPreliminaire = money.Cents(montantPreliminaire)
		if montantPaye.Valid {
			v := money.Cents(montantPaye.Int64)
			rec.MontantPaye = &v
		}
		if customFields.Valid && customFields.String != "" {
			json.Unmarshal([]byte(customFields.String), &rec.CustomFields)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// BulkInsertResults inserts every finding produced for a run in one transaction.
func (r *SQLRepository) BulkInsertResults(ctx context.Context, results []domain.Finding) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO validation_results (
			id, validation_run_id, rule_id, severity, category, message, solution,
			billing_record_id, affected_records, id_ramq, rule_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, finding := range results {
		if _, err := stmt.ExecContext(ctx,
			finding.ID, finding.ValidationRunID, finding.RuleID, finding.Severity, finding.Category,
			finding.Message, finding.Solution, finding.BillingRecordID,
			marshalJSON(finding.AffectedRecords), finding.IDRamq, marshalJSON(finding.RuleData),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListResults lists validation results matching filter.
func (r *SQLRepository) ListResults(ctx context.Context, filter domain.ResultFilter) ([]domain.Finding, error) {
	query := `
		SELECT id, validation_run_id, rule_id, severity, category, message, solution,
		       billing_record_id, affected_records, id_ramq, rule_data
		FROM validation_results
		WHERE validation_run_id = ? AND (? = '' OR severity = ?)
		ORDER BY rowid
	`
	args := []any{filter.ValidationRunID, string(filter.Severity), string(filter.Severity)}

	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []domain.Finding
	for rows.Next() {
		var f domain.Finding
		var solution, billingRecordID, idRamq sql.NullString
		var affectedRecords, ruleData sql.NullString

		if err := rows.Scan(
			&f.ID, &f.ValidationRunID, &f.RuleID, &f.Severity, &f.Category, &f.Message, &solution,
			&billingRecordID, &affectedRecords, &idRamq, &ruleData,
		); err != nil {
			return nil, err
		}

		f.Solution = solution.String
		f.BillingRecordID = billingRecordID.String
		f.IDRamq = idRamq.String
		if affectedRecords.Valid && affectedRecords.String != "" {
			json.Unmarshal([]byte(affectedRecords.String), &f.AffectedRecords)
		}
		if ruleData.Valid && ruleData.String != "" {
			json.Unmarshal([]byte(ruleData.String), &f.RuleData)
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// DeleteRun removes a run and cascades to its records and results.
func (r *SQLRepository) DeleteRun(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		"DELETE FROM validation_results WHERE validation_run_id = ?",
		"DELETE FROM billing_records WHERE validation_run_id = ?",
		"DELETE FROM validation_runs WHERE id = ?",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, r.rebind(stmt), id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
