// Package memory provides an in-process ledger backed by plain maps. It is
// the default for development and tests; production deployments share
// counters across instances through the redis backend.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/groundgame/groundgame/pkg/ledger"
	"github.com/groundgame/groundgame/pkg/models"
)

type allotmentKey struct {
	scope   string
	channel models.Channel
	period  models.Period
}

type bucketKey struct {
	owner     string
	channel   models.Channel
	period    models.Period
	periodKey string
}

// Ledger keeps all counters in memory, guarded by a single mutex. Bucket
// keys embed the calendar period key, so stale buckets are simply never
// read again after a rollover.
type Ledger struct {
	mu          sync.Mutex
	contacts    map[bucketKey]int64
	lastContact map[string]time.Time
	allotments  map[allotmentKey]int64
	spend       map[bucketKey]int64
}

func NewLedger() *Ledger {
	return &Ledger{
		contacts:    make(map[bucketKey]int64),
		lastContact: make(map[string]time.Time),
		allotments:  make(map[allotmentKey]int64),
		spend:       make(map[bucketKey]int64),
	}
}

func (l *Ledger) RecordContact(_ context.Context, recipientID string, channel models.Channel, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, period := range ledger.Periods {
		key := bucketKey{owner: recipientID, channel: channel, period: period, periodKey: period.Key(now)}
		l.contacts[key]++
	}

	l.lastContact[recipientID+"|"+string(channel)] = now.UTC()

	return nil
}

func (l *Ledger) Fatigue(_ context.Context, recipientID string, channel models.Channel, now time.Time) (*models.FatigueRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := &models.FatigueRecord{
		RecipientID: recipientID,
		Channel:     channel,
	}

	record.ContactsDay = l.contacts[bucketKey{recipientID, channel, models.PeriodDay, models.PeriodDay.Key(now)}]
	record.ContactsWeek = l.contacts[bucketKey{recipientID, channel, models.PeriodWeek, models.PeriodWeek.Key(now)}]
	record.ContactsMonth = l.contacts[bucketKey{recipientID, channel, models.PeriodMonth, models.PeriodMonth.Key(now)}]
	record.LastContactAt = l.lastContact[recipientID+"|"+string(channel)]

	return record, nil
}

func (l *Ledger) SetAllotment(_ context.Context, scope string, channel models.Channel, period models.Period, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.allotments[allotmentKey{scope: scope, channel: channel, period: period}] = amount

	return nil
}

func (l *Ledger) RecordSpend(_ context.Context, scope string, channel models.Channel, amount int64, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, period := range ledger.Periods {
		key := bucketKey{owner: scope, channel: channel, period: period, periodKey: period.Key(now)}
		l.spend[key] += amount
	}

	return nil
}

func (l *Ledger) BudgetStatus(_ context.Context, scope string, channel models.Channel, now time.Time) ([]*models.BudgetRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var records []*models.BudgetRecord

	for _, period := range ledger.Periods {
		allotted, ok := l.allotments[allotmentKey{scope: scope, channel: channel, period: period}]
		if !ok {
			continue
		}

		periodKey := period.Key(now)

		records = append(records, &models.BudgetRecord{
			Scope:     scope,
			Channel:   channel,
			Period:    period,
			PeriodKey: periodKey,
			Allotted:  allotted,
			Spent:     l.spend[bucketKey{owner: scope, channel: channel, period: period, periodKey: periodKey}],
		})
	}

	return records, nil
}

func (l *Ledger) HealthCheck(_ context.Context) error {
	return nil
}

func (l *Ledger) Close(_ context.Context) error {
	return nil
}
