package models

import "time"

// Period is a rolling accounting window for fatigue and budget counters.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Key returns the calendar bucket identifier for the period containing now.
// Counters are stored per bucket, so crossing a period boundary naturally
// starts from zero without an explicit reset write.
func (p Period) Key(now time.Time) string {
	now = now.UTC()

	switch p {
	case PeriodDay:
		return now.Format("2006-01-02")
	case PeriodWeek:
		year, week := now.ISOWeek()
		return formatWeek(year, week)
	case PeriodMonth:
		return now.Format("2006-01")
	default:
		return now.Format("2006-01-02")
	}
}

func formatWeek(year, week int) string {
	return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006") + "-W" + twoDigits(week)
}

func twoDigits(n int) string {
	const digits = "0123456789"
	if n < 0 {
		n = 0
	}

	return string([]byte{digits[(n/10)%10], digits[n%10]})
}

// FatigueRecord tracks contact pressure for one recipient on one channel.
// All counters are integers; the score is derived, never stored.
type FatigueRecord struct {
	RecipientID   string    `json:"recipient_id"`
	Channel       Channel   `json:"channel"`
	ContactsDay   int64     `json:"contacts_day"`
	ContactsWeek  int64     `json:"contacts_week"`
	ContactsMonth int64     `json:"contacts_month"`
	LastContactAt time.Time `json:"last_contact_at"`
}

// Fatigue score weights: recent contacts count more than older ones.
const (
	fatigueWeightDay   = 10
	fatigueWeightWeek  = 3
	fatigueWeightMonth = 1
)

// Score collapses the window counters into a single integer fatigue score.
func (f FatigueRecord) Score() int64 {
	return f.ContactsDay*fatigueWeightDay +
		f.ContactsWeek*fatigueWeightWeek +
		f.ContactsMonth*fatigueWeightMonth
}

// BudgetRecord tracks allotted vs. spent for one scope and channel within
// one period. Amounts are in the smallest currency unit. The ledger is a
// counter, not a gate: spent may exceed allotted, and the evaluator is the
// one responsible for checking before committing a decision.
type BudgetRecord struct {
	Scope     string  `json:"scope"`
	Channel   Channel `json:"channel"`
	Period    Period  `json:"period"`
	PeriodKey string  `json:"period_key"`
	Allotted  int64   `json:"allotted"`
	Spent     int64   `json:"spent"`
}

// Remaining returns allotted minus spent, never below zero.
func (b BudgetRecord) Remaining() int64 {
	remaining := b.Allotted - b.Spent
	if remaining < 0 {
		return 0
	}

	return remaining
}
