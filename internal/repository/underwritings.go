package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/aura/underwriting/internal/core"
)

// UnderwritingRepository loads case snapshots: the underwriting row plus
// merchant address, owners and documents, resolved in one call so
// filtration hashes a consistent view.
type UnderwritingRepository struct {
	db     *sql.DB
	logger *log.Logger
}

func NewUnderwritingRepository(db *sql.DB) *UnderwritingRepository {
	return &UnderwritingRepository{
		db:     db,
		logger: log.New(log.Writer(), "[UNDERWRITING-REPO] ", log.LstdFlags),
	}
}

func (r *UnderwritingRepository) GetSnapshot(ctx context.Context, id string) (*core.Underwriting, error) {
	var (
		uw         core.Underwriting
		status     string
		appType    sql.NullString
		appRefID   sql.NullString
		amount     sql.NullFloat64
		reqDate    sql.NullString
		purpose    sql.NullString
		dbaName    sql.NullString
		industry   sql.NullString
		email      sql.NullString
		phone      sql.NullString
		website    sql.NullString
		entityType sql.NullString
		incDate    sql.NullString
		incState   sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, serial_number, status,
		       application_type, application_ref_id, request_amount, request_date::text, purpose,
		       merchant_name, merchant_dba_name, merchant_ein, merchant_industry,
		       merchant_email, merchant_phone, merchant_website, merchant_entity_type,
		       merchant_incorporation_date, merchant_state_of_incorporation,
		       created_at, updated_at
		FROM underwriting
		WHERE id = $1`, id).Scan(
		&uw.ID, &uw.OrganizationID, &uw.SerialNumber, &status,
		&appType, &appRefID, &amount, &reqDate, &purpose,
		&uw.Merchant.Name, &dbaName, &uw.Merchant.EIN, &industry,
		&email, &phone, &website, &entityType,
		&incDate, &incState,
		&uw.CreatedAt, &uw.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get underwriting %s: %w", id, err)
	}
	uw.Status = core.UnderwritingStatus(status)
	uw.ApplicationType = appType.String
	uw.ApplicationRefID = appRefID.String
	uw.RequestAmount = amount.Float64
	uw.RequestDate = reqDate.String
	uw.Purpose = purpose.String
	uw.Merchant.DBAName = dbaName.String
	uw.Merchant.Industry = industry.String
	uw.Merchant.Email = email.String
	uw.Merchant.Phone = phone.String
	uw.Merchant.Website = website.String
	uw.Merchant.EntityType = entityType.String
	uw.Merchant.IncorporationDate = incDate.String
	uw.Merchant.StateOfIncorporation = incState.String

	if uw.Merchant.Address, err = r.merchantAddress(ctx, id); err != nil {
		return nil, err
	}
	if uw.Owners, err = r.owners(ctx, id); err != nil {
		return nil, err
	}
	if uw.Documents, err = r.documents(ctx, id); err != nil {
		return nil, err
	}
	return &uw, nil
}

func (r *UnderwritingRepository) merchantAddress(ctx context.Context, underwritingID string) (*core.Address, error) {
	var (
		a     core.Address
		addr2 sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT addr_1, addr_2, city, state, zip
		FROM merchant_address
		WHERE underwriting_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, underwritingID).Scan(&a.Addr1, &addr2, &a.City, &a.State, &a.Zip)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get merchant address for %s: %w", underwritingID, err)
	}
	a.Addr2 = addr2.String
	return &a, nil
}

// owners are ordered by creation so the application payload, and with it
// the payload hash, is stable across loads.
func (r *UnderwritingRepository) owners(ctx context.Context, underwritingID string) ([]core.Owner, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.first_name, o.last_name, o.email,
		       o.phone_mobile, o.phone_home, o.phone_work,
		       o.birthday::text, o.fico_score, o.ssn, o.ownership_percent,
		       o.primary_owner, o.enabled, o.created_at, o.updated_at,
		       a.addr_1, a.addr_2, a.city, a.state, a.zip
		FROM owner o
		LEFT JOIN owner_address a ON a.owner_id = o.id
		WHERE o.underwriting_id = $1
		ORDER BY o.created_at, o.id`, underwritingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners for %s: %w", underwritingID, err)
	}
	defer rows.Close()

	var out []core.Owner
	for rows.Next() {
		var (
			o                core.Owner
			email, mobile    sql.NullString
			home, work       sql.NullString
			birthday, ssn    sql.NullString
			fico             sql.NullInt64
			pct              sql.NullFloat64
			addr1, addr2     sql.NullString
			city, state, zip sql.NullString
		)
		if err := rows.Scan(
			&o.ID, &o.FirstName, &o.LastName, &email,
			&mobile, &home, &work,
			&birthday, &fico, &ssn, &pct,
			&o.PrimaryOwner, &o.Enabled, &o.CreatedAt, &o.UpdatedAt,
			&addr1, &addr2, &city, &state, &zip,
		); err != nil {
			return nil, fmt.Errorf("failed to scan owner row: %w", err)
		}
		o.Email = email.String
		o.PhoneMobile = mobile.String
		o.PhoneHome = home.String
		o.PhoneWork = work.String
		o.Birthday = birthday.String
		o.FicoScore = int(fico.Int64)
		o.SSN = ssn.String
		o.OwnershipPercent = pct.Float64
		if addr1.Valid {
			o.Address = &core.Address{
				Addr1: addr1.String,
				Addr2: addr2.String,
				City:  city.String,
				State: state.String,
				Zip:   zip.String,
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *UnderwritingRepository) documents(ctx context.Context, underwritingID string) ([]core.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, underwriting_id, status, stipulation_type,
		       COALESCE(current_revision_id::text, ''), filename, mime_type,
		       created_at, updated_at
		FROM document
		WHERE underwriting_id = $1
		ORDER BY created_at, id`, underwritingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents for %s: %w", underwritingID, err)
	}
	defer rows.Close()

	var out []core.Document
	for rows.Next() {
		var (
			d        core.Document
			filename sql.NullString
			mime     sql.NullString
		)
		if err := rows.Scan(
			&d.ID, &d.UnderwritingID, &d.Status, &d.StipulationType,
			&d.CurrentRevisionID, &filename, &mime,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		d.Filename = filename.String
		d.MimeType = mime.String
		out = append(out, d)
	}
	return out, rows.Err()
}
