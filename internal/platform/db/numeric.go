package db

import (
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Numeric converts a decimal to a NUMERIC parameter.
func Numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// NullNumeric converts an optional decimal; nil becomes SQL NULL.
func NullNumeric(d *decimal.Decimal) pgtype.Numeric {
	if d == nil {
		return pgtype.Numeric{}
	}
	return Numeric(*d)
}

// Decimal converts a scanned NUMERIC. NULL and NaN read as zero.
func Decimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

// NullDecimal converts a scanned nullable NUMERIC.
func NullDecimal(n pgtype.Numeric) *decimal.Decimal {
	if !n.Valid || n.NaN || n.Int == nil {
		return nil
	}
	v := decimal.NewFromBigInt(n.Int, n.Exp)
	return &v
}
