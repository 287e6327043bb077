// Command seed loads the TEST-WF-001 fixture: one underwriting with a
// full snapshot and three processor bindings, enough to run every
// workflow against a fresh database. Safe to run repeatedly; all rows
// carry fixed ids and insert with ON CONFLICT DO NOTHING.
package main

import (
	"database/sql"
	"log"

	"github.com/joho/godotenv"

	"github.com/aura/underwriting/internal/config"
	"github.com/aura/underwriting/internal/database"
)

// Fixture ids. Fixed so reruns are no-ops and tests can reference them.
const (
	orgID          = "11111111-1111-4111-8111-111111111101"
	underwritingID = "22222222-2222-4222-8222-222222222201"

	ownerPrimaryID   = "33333333-3333-4333-8333-333333333301"
	ownerSecondaryID = "33333333-3333-4333-8333-333333333302"
	merchantAddrID   = "44444444-4444-4444-8444-444444444401"

	docBankStatementID = "55555555-5555-4555-8555-555555555501"
	docDriversLicense  = "55555555-5555-4555-8555-555555555502"
	revBankStatementID = "66666666-6666-4666-8666-666666666601"
	revDriversLicense  = "66666666-6666-4666-8666-666666666602"

	orgProcApplicationID    = "77777777-7777-4777-8777-777777777701"
	orgProcBankStatementID  = "77777777-7777-4777-8777-777777777702"
	orgProcDriversLicenseID = "77777777-7777-4777-8777-777777777703"

	uwProcApplicationID    = "88888888-8888-4888-8888-888888888801"
	uwProcBankStatementID  = "88888888-8888-4888-8888-888888888802"
	uwProcDriversLicenseID = "88888888-8888-4888-8888-888888888803"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Connect(cfg.Postgres.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	if err := seed(db); err != nil {
		log.Fatalf("Seed failed: %v", err)
	}

	log.Printf("✅ TEST-WF-001 fixture ready (underwriting=%s)", underwritingID)
}

type statement struct {
	label string
	query string
	args  []interface{}
}

func seed(db *sql.DB) error {
	stmts := []statement{
		{
			label: "underwriting TEST-WF-001",
			query: `INSERT INTO underwriting
				(id, organization_id, serial_number, status, application_type, request_amount, purpose,
				 merchant_name, merchant_dba_name, merchant_ein, merchant_industry, merchant_email,
				 merchant_phone, merchant_entity_type, merchant_state_of_incorporation)
				VALUES ($1, $2, 'TEST-WF-001', 'created', 'term_loan', 250000.00, 'working capital',
				 'Test Merchant Inc', 'Test Merchant', '12-3456789', 'retail', 'finance@testmerchant.example',
				 '+1-555-0100', 'LLC', 'CA')
				ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{underwritingID, orgID},
		},
		{
			label: "merchant address",
			query: `INSERT INTO merchant_address (id, underwriting_id, addr_1, city, state, zip)
				VALUES ($1, $2, '100 Market Street', 'San Francisco', 'CA', '94105')
				ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{merchantAddrID, underwritingID},
		},
		{
			label: "primary owner",
			query: `INSERT INTO owner
				(id, underwriting_id, first_name, last_name, email, phone_mobile, birthday,
				 fico_score, ssn, ownership_percent, primary_owner, enabled)
				VALUES ($1, $2, 'Jane', 'Founder', 'jane@testmerchant.example', '+1-555-0101',
				 '1980-01-15', 742, '123-45-6789', 60.00, true, true)
				ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{ownerPrimaryID, underwritingID},
		},
		{
			label: "secondary owner",
			query: `INSERT INTO owner
				(id, underwriting_id, first_name, last_name, email, phone_mobile, birthday,
				 fico_score, ownership_percent, primary_owner, enabled)
				VALUES ($1, $2, 'John', 'Partner', 'john@testmerchant.example', '+1-555-0102',
				 '1975-06-30', 718, 40.00, false, true)
				ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{ownerSecondaryID, underwritingID},
		},
		{
			label: "bank statement document",
			query: `INSERT INTO document (id, underwriting_id, status, stipulation_type, current_revision_id, filename, mime_type)
				VALUES ($1, $2, 'uploaded', 's_bank_statement', $3, 'statement-may.pdf', 'application/pdf')
				ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{docBankStatementID, underwritingID, revBankStatementID},
		},
		{
			label: "bank statement revision",
			query: `INSERT INTO document_revision (id, document_id, revision, gcs_uri)
				VALUES ($1, $2, 1, 'gs://aura-underwriting-docs/test/statement-may.pdf')
				ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{revBankStatementID, docBankStatementID},
		},
		{
			label: "drivers license document",
			query: `INSERT INTO document (id, underwriting_id, status, stipulation_type, current_revision_id, filename, mime_type)
				VALUES ($1, $2, 'uploaded', 's_drivers_license', $3, 'license-jane.jpg', 'image/jpeg')
				ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{docDriversLicense, underwritingID, revDriversLicense},
		},
		{
			label: "drivers license revision",
			query: `INSERT INTO document_revision (id, document_id, revision, gcs_uri)
				VALUES ($1, $2, 1, 'gs://aura-underwriting-docs/test/license-jane.jpg')
				ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{revDriversLicense, docDriversLicense},
		},
		{
			label: "org processor: application",
			query: `INSERT INTO organization_processors (id, organization_id, processor, name, auto, status, config, price_cents)
				VALUES ($1, $2, 'test_application_processor', 'Application Review', true, 'active', '{}', 150)
				ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{orgProcApplicationID, orgID},
		},
		{
			label: "org processor: bank statement",
			query: `INSERT INTO organization_processors (id, organization_id, processor, name, auto, status, config, price_cents)
				VALUES ($1, $2, 'test_bank_statement_processor', 'Bank Statement Analysis', true, 'active',
				 '{"minimum_document": 1}', 400)
				ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{orgProcBankStatementID, orgID},
		},
		{
			label: "org processor: drivers license",
			query: `INSERT INTO organization_processors (id, organization_id, processor, name, auto, status, config, price_cents)
				VALUES ($1, $2, 'test_drivers_license_processor', 'Identity Verification', true, 'active', '{}', 250)
				ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{orgProcDriversLicenseID, orgID},
		},
		{
			label: "underwriting processor: application",
			query: `INSERT INTO underwriting_processors
				(id, organization_id, underwriting_id, organization_processor_id, processor, name, auto, enabled)
				VALUES ($1, $2, $3, $4, 'test_application_processor', 'Application Review', true, true)
				ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{uwProcApplicationID, orgID, underwritingID, orgProcApplicationID},
		},
		{
			label: "underwriting processor: bank statement",
			query: `INSERT INTO underwriting_processors
				(id, organization_id, underwriting_id, organization_processor_id, processor, name, auto, enabled)
				VALUES ($1, $2, $3, $4, 'test_bank_statement_processor', 'Bank Statement Analysis', true, true)
				ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{uwProcBankStatementID, orgID, underwritingID, orgProcBankStatementID},
		},
		{
			label: "underwriting processor: drivers license",
			query: `INSERT INTO underwriting_processors
				(id, organization_id, underwriting_id, organization_processor_id, processor, name, auto, enabled)
				VALUES ($1, $2, $3, $4, 'test_drivers_license_processor', 'Identity Verification', true, true)
				ON CONFLICT (id) DO NOTHING`,
			args: []interface{}{uwProcDriversLicenseID, orgID, underwritingID, orgProcDriversLicenseID},
		},
	}

	for _, s := range stmts {
		res, err := db.Exec(s.query, s.args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			log.Printf("🌱 Seeded %s", s.label)
		} else {
			log.Printf("⏭️  Skipped %s (already present)", s.label)
		}
	}
	return nil
}
