package pricing

// Redemption is the outcome of converting a point balance into a deduction.
type Redemption struct {
	PointsUsed int
	Value      int64
}

// RedeemPoints converts up to balance points at rate currency units each,
// never exceeding payable and never consuming a fractional point.
func RedeemPoints(balance int, payable, rate int64) Redemption {
	if balance <= 0 || payable <= 0 || rate <= 0 {
		return Redemption{}
	}
	value := int64(balance) * rate
	if value > payable {
		value = payable
	}
	used := value / rate
	return Redemption{PointsUsed: int(used), Value: used * rate}
}

// EarnedPoints is the award for a paid order total, one point per unit.
func EarnedPoints(total, unit int64) int {
	if total <= 0 || unit <= 0 {
		return 0
	}
	return int(total / unit)
}
