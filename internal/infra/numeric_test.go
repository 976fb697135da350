package infra

import (
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericRoundTrip(t *testing.T) {
	tests := []string{"0", "50", "50.00", "12.34", "-7.5", "99999999999999.99"}

	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			d := decimal.RequireFromString(raw)
			got, err := NumericToDecimal(DecimalToNumeric(d))
			require.NoError(t, err)
			assert.True(t, d.Equal(got), "want %s got %s", d, got)
		})
	}
}

func TestNumericToDecimal_ScaledInt(t *testing.T) {
	// 1234 * 10^-2, as returned by PostgreSQL for numeric(18,2) 12.34
	n := pgtype.Numeric{Int: big.NewInt(1234), Exp: -2, Valid: true}
	d, err := NumericToDecimal(n)
	require.NoError(t, err)
	assert.Equal(t, "12.34", d.StringFixed(2))
}

func TestNumericToDecimal_PositiveExponent(t *testing.T) {
	n := pgtype.Numeric{Int: big.NewInt(5), Exp: 3, Valid: true}
	d, err := NumericToDecimal(n)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(5000).Equal(d))
}

func TestNumericToDecimal_Null(t *testing.T) {
	_, err := NumericToDecimal(pgtype.Numeric{Valid: false})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NULL")
}

func TestNumericToDecimal_NaN(t *testing.T) {
	_, err := NumericToDecimal(pgtype.Numeric{NaN: true, Valid: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NaN")
}

func TestNumericToDecimal_Infinity(t *testing.T) {
	_, err := NumericToDecimal(pgtype.Numeric{InfinityModifier: pgtype.Infinity, Valid: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "infinite")
}
