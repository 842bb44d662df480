package domain

// RealBalanceCredit returns how much of a credited amount counts as real
// money. Gateway-settled credits carry their full amount; promotional grants
// never do.
func RealBalanceCredit(txType TransactionType, amount float64) float64 {
	switch txType {
	case TransactionTypeRecharge, TransactionTypeRefund:
		return amount
	case TransactionTypeBonus, TransactionTypeCashback, TransactionTypeReferralBonus:
		return 0
	default:
		return 0
	}
}

// ExtractRealRatio derives the fraction of a wallet that is real money.
// A nil real sub-balance means the wallet predates the split and is assumed
// all real. A real sub-balance above total indicates corrupted data and is
// clamped rather than propagated.
func ExtractRealRatio(total float64, real *float64) float64 {
	if total <= 0 {
		return 1.0
	}
	if real == nil {
		return 1.0
	}
	if *real >= total {
		return 1.0
	}
	if *real <= 0 {
		return 0
	}
	return *real / total
}
