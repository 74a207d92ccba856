package app

import (
	"fmt"

	"github.com/shopspring/decimal"

	arb "github.com/fd1az/triarb/business/arbitrage/domain"
	md "github.com/fd1az/triarb/business/marketdata/domain"
)

// BalanceCheck is the outcome of a pre-flight balance check.
type BalanceCheck struct {
	Sufficient bool
	Message    string
	Currency   string
	Required   decimal.Decimal
	Available  decimal.Decimal
}

// BalanceValidator requires the start currency to cover the start amount
// plus a buffer for fees and slippage not known until fills arrive. It
// reserves nothing.
type BalanceValidator struct {
	buffer decimal.Decimal
}

// NewBalanceValidator creates a validator. buffer is a fraction: 0.05 asks
// for 5% headroom.
func NewBalanceValidator(buffer decimal.Decimal) *BalanceValidator {
	return &BalanceValidator{buffer: buffer}
}

// Required returns the balance needed to start opp.
func (v *BalanceValidator) Required(opp *arb.Opportunity) decimal.Decimal {
	return opp.StartAmount.Mul(decimal.NewFromInt(1).Add(v.buffer))
}

// ValidateForExecution checks bal against opp's start amount.
func (v *BalanceValidator) ValidateForExecution(opp *arb.Opportunity, bal md.Balance) BalanceCheck {
	ccy := opp.StartCurrency()
	required := v.Required(opp)
	check := BalanceCheck{Currency: ccy, Required: required, Available: bal.Available}

	switch {
	case bal.Currency != "" && bal.Currency != ccy:
		check.Message = fmt.Sprintf("balance is for %s, path starts in %s", bal.Currency, ccy)
	case bal.Available.LessThan(required):
		check.Message = fmt.Sprintf("insufficient %s: available %s, required %s (start %s + %s%% buffer)",
			ccy, bal.Available.String(), required.String(), opp.StartAmount.String(),
			v.buffer.Mul(decimal.NewFromInt(100)).String())
	default:
		check.Sufficient = true
		check.Message = fmt.Sprintf("%s %s available, %s required", bal.Available.String(), ccy, required.String())
	}
	return check
}
