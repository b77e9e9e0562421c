// Package pricing derives product prices from metal weight, wastage, making charge
// and the current per-unit metal rate. Everything here is pure; storage lives in
// the rates and products packages.
package pricing

import (
	"fmt"
	"time"

	"jewellery-storefront/internal/apperr"

	"github.com/shopspring/decimal"
)

// Money is an amount in whole currency units. Prices carry no fractional part.
type Money int64

type Grade string

const (
	GradeA Grade = "GRADE_A"
	GradeB Grade = "GRADE_B"
	Silver Grade = "SILVER"
)

var Grades = []Grade{GradeA, GradeB, Silver}

func (g Grade) Valid() bool {
	switch g {
	case GradeA, GradeB, Silver:
		return true
	}
	return false
}

func ParseGrade(s string) (Grade, error) {
	g := Grade(s)
	if !g.Valid() {
		return "", fmt.Errorf("%w: unknown grade %q", apperr.ErrInvalidArgument, s)
	}
	return g, nil
}

// UnitGrams is the mass of one pricing unit. Rates are quoted per unit.
var UnitGrams = decimal.RequireFromString("11.664")

var (
	maxLossPercent = decimal.NewFromInt(50)
	hundred        = decimal.NewFromInt(100)
)

type Rate struct {
	Grade       Grade           `json:"grade"`
	RatePerUnit decimal.Decimal `json:"rate_per_unit"`
	Active      bool            `json:"active"`
	LastUpdated time.Time       `json:"last_updated"`
	UpdatedBy   string          `json:"updated_by"`
}

// RateTable is an immutable snapshot of rates keyed by grade. A single snapshot is
// used for a whole recomputation pass so that grades never mix old and new values.
type RateTable map[Grade]Rate

func NewRateTable(rates []Rate) RateTable {
	t := make(RateTable, len(rates))
	for _, r := range rates {
		t[r.Grade] = r
	}
	return t
}

// ActiveRate returns the per-unit rate of g when it exists, is active and positive.
func (t RateTable) ActiveRate(g Grade) (decimal.Decimal, bool) {
	r, ok := t[g]
	if !ok || !r.Active || !r.RatePerUnit.IsPositive() {
		return decimal.Zero, false
	}
	return r.RatePerUnit, true
}

// Attributes are the product fields the price depends on.
type Attributes struct {
	Grade        Grade
	Weight       decimal.Decimal
	LossPercent  decimal.Decimal
	MakingCharge Money
}

func ValidateAttributes(a Attributes) error {
	if !a.Grade.Valid() {
		return fmt.Errorf("%w: unknown grade %q", apperr.ErrInvalidArgument, a.Grade)
	}
	if !a.Weight.IsPositive() {
		return fmt.Errorf("%w: weight must be positive", apperr.ErrInvalidArgument)
	}
	if a.LossPercent.IsNegative() || a.LossPercent.GreaterThan(maxLossPercent) {
		return fmt.Errorf("%w: loss percent must be within [0,50]", apperr.ErrInvalidArgument)
	}
	if a.MakingCharge < 0 {
		return fmt.Errorf("%w: making charge must not be negative", apperr.ErrInvalidArgument)
	}
	return nil
}

// ComputePrice applies
//
//	effectiveWeight = weight * (1 + lossPercent/100)
//	price           = round(effectiveWeight / UnitGrams * ratePerUnit + makingCharge)
//
// rounding half away from zero to whole currency units. A non-positive rate yields ErrDegenerate.
func ComputePrice(weight, lossPercent decimal.Decimal, makingCharge Money, ratePerUnit decimal.Decimal) (Money, error) {
	if !ratePerUnit.IsPositive() {
		return 0, fmt.Errorf("%w: rate per unit must be positive", apperr.ErrDegenerate)
	}
	effectiveWeight := weight.Mul(decimal.NewFromInt(1).Add(lossPercent.Div(hundred)))
	metalCost := effectiveWeight.Mul(ratePerUnit).Div(UnitGrams)
	total := metalCost.Add(decimal.NewFromInt(int64(makingCharge)))
	return Money(total.Round(0).IntPart()), nil
}

// PriceFor prices a product against a rate snapshot. It fails with ErrDegenerate when
// the product's grade has no active rate instead of quoting zero.
func PriceFor(a Attributes, table RateTable) (Money, error) {
	if err := ValidateAttributes(a); err != nil {
		return 0, err
	}
	rate, ok := table.ActiveRate(a.Grade)
	if !ok {
		return 0, fmt.Errorf("%w: no active rate for grade %s", apperr.ErrDegenerate, a.Grade)
	}
	return ComputePrice(a.Weight, a.LossPercent, a.MakingCharge, rate)
}
