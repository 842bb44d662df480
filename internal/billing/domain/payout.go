package domain

import "math"

// Round2 rounds half-up to 2 decimal places. It is applied only at final
// computation steps, never on intermediate sums, so rounding error does not
// compound.
func Round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

// Calculate splits a charge into the platform fee and the expert's earnings.
// Only the real-money portion of the wallet spend participates: bonus credit
// the platform never actually received must not turn into a cash payout.
// realRatio arrives pre-clamped to [0,1] by the wallet layer.
func Calculate(gatewayPortion, walletPortion, realRatio, feePercent float64) PayoutBreakdown {
	effective := gatewayPortion + walletPortion*realRatio
	fee := Round2(effective * feePercent / 100)
	earnings := Round2(effective - fee)
	return PayoutBreakdown{
		EffectiveRealAmount: Round2(effective),
		PlatformFee:         fee,
		ExpertEarnings:      earnings,
	}
}

// CostFor converts billable seconds at a per-minute rate into a charge.
func CostFor(billableSeconds int64, ratePerMinute float64) float64 {
	return Round2(float64(billableSeconds) / 60 * ratePerMinute)
}
