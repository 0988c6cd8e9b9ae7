// Package redis provides a ledger shared across engine instances. Counters
// use INCRBY on period-stamped keys, so increments are atomic without any
// application-level locking, and keys expire once their period is long past.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/groundgame/groundgame/pkg/ledger"
	"github.com/groundgame/groundgame/pkg/models"
)

const keyPrefix = "groundgame:ledger"

// Retention per period: long enough to cover the whole window plus slack
// for clock skew between instances, short enough that stale buckets vanish
// on their own.
var retention = map[models.Period]time.Duration{
	models.PeriodDay:   48 * time.Hour,
	models.PeriodWeek:  14 * 24 * time.Hour,
	models.PeriodMonth: 62 * 24 * time.Hour,
}

type Ledger struct {
	client *goredis.Client
	logger *slog.Logger
}

func NewLedger(ctx context.Context, logger *slog.Logger, redisURL string) (*Ledger, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := goredis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to redis ledger", "addr", opts.Addr)

	return &Ledger{client: client, logger: logger}, nil
}

func contactKey(recipientID string, channel models.Channel, period models.Period, now time.Time) string {
	return fmt.Sprintf("%s:fatigue:%s:%s:%s:%s", keyPrefix, recipientID, channel, period, period.Key(now))
}

func lastContactKey(recipientID string, channel models.Channel) string {
	return fmt.Sprintf("%s:fatigue:%s:%s:last", keyPrefix, recipientID, channel)
}

func spendKey(scope string, channel models.Channel, period models.Period, now time.Time) string {
	return fmt.Sprintf("%s:budget:spent:%s:%s:%s:%s", keyPrefix, scope, channel, period, period.Key(now))
}

func allotmentKey(scope string, channel models.Channel) string {
	return fmt.Sprintf("%s:budget:allotted:%s:%s", keyPrefix, scope, channel)
}

func (l *Ledger) RecordContact(ctx context.Context, recipientID string, channel models.Channel, now time.Time) error {
	pipe := l.client.TxPipeline()

	for _, period := range ledger.Periods {
		key := contactKey(recipientID, channel, period, now)
		pipe.IncrBy(ctx, key, 1)
		pipe.Expire(ctx, key, retention[period])
	}

	pipe.Set(ctx, lastContactKey(recipientID, channel), now.UTC().Format(time.RFC3339Nano), retention[models.PeriodMonth])

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record contact for %s: %w", recipientID, err)
	}

	return nil
}

func (l *Ledger) Fatigue(ctx context.Context, recipientID string, channel models.Channel, now time.Time) (*models.FatigueRecord, error) {
	keys := []string{
		contactKey(recipientID, channel, models.PeriodDay, now),
		contactKey(recipientID, channel, models.PeriodWeek, now),
		contactKey(recipientID, channel, models.PeriodMonth, now),
	}

	counts := make([]int64, len(keys))

	for i, key := range keys {
		count, err := l.client.Get(ctx, key).Int64()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("failed to read contact counter %s: %w", key, err)
		}

		counts[i] = count
	}

	record := &models.FatigueRecord{
		RecipientID:   recipientID,
		Channel:       channel,
		ContactsDay:   counts[0],
		ContactsWeek:  counts[1],
		ContactsMonth: counts[2],
	}

	raw, err := l.client.Get(ctx, lastContactKey(recipientID, channel)).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("failed to read last contact time: %w", err)
	}

	if raw != "" {
		if parsed, parseErr := time.Parse(time.RFC3339Nano, raw); parseErr == nil {
			record.LastContactAt = parsed
		}
	}

	return record, nil
}

func (l *Ledger) SetAllotment(ctx context.Context, scope string, channel models.Channel, period models.Period, amount int64) error {
	err := l.client.HSet(ctx, allotmentKey(scope, channel), string(period), amount).Err()
	if err != nil {
		return fmt.Errorf("failed to set allotment for %s: %w", scope, err)
	}

	return nil
}

func (l *Ledger) RecordSpend(ctx context.Context, scope string, channel models.Channel, amount int64, now time.Time) error {
	pipe := l.client.TxPipeline()

	for _, period := range ledger.Periods {
		key := spendKey(scope, channel, period, now)
		pipe.IncrBy(ctx, key, amount)
		pipe.Expire(ctx, key, retention[period])
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record spend for %s: %w", scope, err)
	}

	return nil
}

func (l *Ledger) BudgetStatus(ctx context.Context, scope string, channel models.Channel, now time.Time) ([]*models.BudgetRecord, error) {
	allotments, err := l.client.HGetAll(ctx, allotmentKey(scope, channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read allotments for %s: %w", scope, err)
	}

	var records []*models.BudgetRecord

	for _, period := range ledger.Periods {
		raw, ok := allotments[string(period)]
		if !ok {
			continue
		}

		var allotted int64
		if _, scanErr := fmt.Sscan(raw, &allotted); scanErr != nil {
			return nil, fmt.Errorf("failed to parse allotment %q for %s: %w", raw, scope, scanErr)
		}

		spent, getErr := l.client.Get(ctx, spendKey(scope, channel, period, now)).Int64()
		if getErr != nil && !errors.Is(getErr, goredis.Nil) {
			return nil, fmt.Errorf("failed to read spend counter for %s: %w", scope, getErr)
		}

		records = append(records, &models.BudgetRecord{
			Scope:     scope,
			Channel:   channel,
			Period:    period,
			PeriodKey: period.Key(now),
			Allotted:  allotted,
			Spent:     spent,
		})
	}

	return records, nil
}

func (l *Ledger) HealthCheck(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Ledger) Close(_ context.Context) error {
	return l.client.Close()
}
