package billing

// TierBreakdown is a point-in-time view of every balance tier, in seconds.
// Daily gift is the remaining allowance, not the raw usage counter.
type TierBreakdown struct {
	WelcomeBonusSeconds int64 `json:"welcome_bonus_seconds"`
	DailyGiftSeconds    int64 `json:"daily_gift_seconds"`
	PaidSeconds         int64 `json:"paid_seconds"`
	SubscriptionSeconds int64 `json:"subscription_seconds"`
}

// Total sums every tier. Paid and subscription seconds form one logical
// "paid" tier for authorization but stay separate for debit ordering.
func (t TierBreakdown) Total() int64 {
	return t.WelcomeBonusSeconds + t.DailyGiftSeconds + t.PaidSeconds + t.SubscriptionSeconds
}

// BillingIncrementSeconds is the charge granularity: elapsed time is always
// rounded up to the next increment before any tier math.
const BillingIncrementSeconds int64 = 10

// BillableSeconds rounds an elapsed duration up to the billing increment.
func BillableSeconds(durationSeconds int64) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	increments := (durationSeconds + BillingIncrementSeconds - 1) / BillingIncrementSeconds
	return increments * BillingIncrementSeconds
}
