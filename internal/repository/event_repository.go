package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/clickhouse"
	pkgkafka "SignalFlow/pkg/kafka"
)

// ClickHouseEventLog implements EventLog on a ClickHouse table.
type ClickHouseEventLog struct {
	client *clickhouse.Client
	db     *sql.DB
	table  string
}

func NewClickHouseEventLog(client *clickhouse.Client, table string) *ClickHouseEventLog {
	return &ClickHouseEventLog{client: client, db: client.DB(), table: client.Database() + "." + table}
}

var _ domrepo.EventLog = (*ClickHouseEventLog)(nil)

// Init creates the database and table when missing.
func (s *ClickHouseEventLog) Init(ctx context.Context) error {
	db, table, _ := strings.Cut(s.table, ".")
	return s.client.InitSchema(ctx, clickhouse.EventsSchema(db, table))
}

// StoreBatch inserts with multi-row VALUES in chunks to cut round trips.
func (s *ClickHouseEventLog) StoreBatch(ctx context.Context, events []models.EventRecord) error {
	const chunkSize = 2000
	for start := 0; start < len(events); start += chunkSize {
		end := start + chunkSize
		if end > len(events) {
			end = len(events)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*6)
		for _, e := range events[start:end] {
			if e.ID == "" || e.Symbol == "" || e.Timestamp.IsZero() {
				continue
			}
			details, err := json.Marshal(e.Details)
			if err != nil {
				return fmt.Errorf("marshal details for %s: %w", e.ID, err)
			}
			values = append(values, "(?, ?, ?, ?, ?, ?)")
			args = append(args, e.ID, e.Timestamp.UTC(), e.Symbol, e.EventType, e.Strength, string(details))
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (id, ts, symbol, event_type, strength, details) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
	}
	return nil
}

// Query returns the newest events, optionally narrowed by symbol and kind.
func (s *ClickHouseEventLog) Query(ctx context.Context, symbol string, kind models.EventKind, limit int) ([]models.EventRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, symbol)
	}
	if kind != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(kind))
	}
	q := fmt.Sprintf("SELECT id, ts, symbol, event_type, strength, details FROM %s", s.table)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.EventRecord
	for rows.Next() {
		var (
			rec     models.EventRecord
			ts      time.Time
			details string
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Symbol, &rec.EventType, &rec.Strength, &details); err != nil {
			return nil, err
		}
		rec.Timestamp = ts.UTC()
		if details != "" {
			if err := json.Unmarshal([]byte(details), &rec.Details); err != nil {
				return nil, fmt.Errorf("decode details for %s: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *ClickHouseEventLog) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

// Close is a no-op; the client is closed by its owner.
func (s *ClickHouseEventLog) Close() error { return nil }

// KafkaEventPublisher ships event records to a topic keyed by symbol.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

func (p *KafkaEventPublisher) PublishBatch(ctx context.Context, events []models.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(events))
	for i, e := range events {
		msgs[i] = pkgkafka.Message{Key: []byte(e.Symbol), Value: e}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

// Close is a no-op; the producer is shared with the log collector.
func (p *KafkaEventPublisher) Close() error { return nil }
