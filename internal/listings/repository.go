package listings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stay-revenue/internal/platform/db"
	"github.com/odyssey-erp/stay-revenue/internal/revenue"
	"github.com/odyssey-erp/stay-revenue/internal/shared"
)

// Lookup is the read surface shared by Repository and Cache.
type Lookup interface {
	FindByProductID(ctx context.Context, productID string) (Listing, error)
	ListActive(ctx context.Context) ([]Listing, error)
}

var (
	_ Lookup = (*Repository)(nil)
	_ Lookup = (*Cache)(nil)
)

// Repository reads listings from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const listingColumns = `id, product_id, organization_id, name, currency, pmc_share, active`

// FindByProductID resolves the listing mapped to a channel product id.
func (r *Repository) FindByProductID(ctx context.Context, productID string) (Listing, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE product_id = $1`, productID)
	listing, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Listing{}, &shared.NotFoundError{Entity: "listing", Key: productID}
	}
	if err != nil {
		return Listing{}, fmt.Errorf("listings: find %s: %w", productID, err)
	}
	rules, err := r.feeRules(ctx, []int64{listing.ID})
	if err != nil {
		return Listing{}, err
	}
	listing.FeeRules = rules[listing.ID]
	return listing, nil
}

// ListActive returns every active listing with its fee rules.
func (r *Repository) ListActive(ctx context.Context) ([]Listing, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+listingColumns+` FROM listings WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Listing
	var ids []int64
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, listing)
		ids = append(ids, listing.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rules, err := r.feeRules(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].FeeRules = rules[out[i].ID]
	}
	return out, nil
}

func (r *Repository) feeRules(ctx context.Context, listingIDs []int64) (map[int64][]FeeRule, error) {
	out := make(map[int64][]FeeRule, len(listingIDs))
	if len(listingIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT listing_id, name, unit, amount, taxable, pmc_share, mandatory
FROM listing_fee_rules WHERE listing_id = ANY($1) ORDER BY listing_id, id`, listingIDs)
	if err != nil {
		return nil, fmt.Errorf("listings: fee rules: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			listingID     int64
			rule          FeeRule
			unit          string
			amount, share pgtype.Numeric
		)
		if err := rows.Scan(&listingID, &rule.Name, &unit, &amount, &rule.Taxable, &share, &rule.Mandatory); err != nil {
			return nil, err
		}
		rule.Unit = revenue.FeeUnit(unit)
		rule.Amount = db.Decimal(amount)
		rule.PmcShare = db.NullDecimal(share)
		out[listingID] = append(out[listingID], rule)
	}
	return out, rows.Err()
}

func scanListing(row pgx.Row) (Listing, error) {
	var listing Listing
	var share pgtype.Numeric
	if err := row.Scan(&listing.ID, &listing.ProductID, &listing.OrganizationID, &listing.Name, &listing.Currency, &share, &listing.Active); err != nil {
		return Listing{}, err
	}
	listing.PmcShare = db.Decimal(share)
	return listing, nil
}
