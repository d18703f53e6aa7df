package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/postgres"
)

// PostgresSignalStore implements SignalStore on PostgreSQL.
type PostgresSignalStore struct {
	pool *postgres.Pool
}

func NewPostgresSignalStore(pool *postgres.Pool) *PostgresSignalStore {
	return &PostgresSignalStore{pool: pool}
}

var _ domrepo.SignalStore = (*PostgresSignalStore)(nil)

const signalColumns = `id, created_at, symbol, direction, score, mtf_score, entry_price, tp_price, sl_price, atr,
	components, votes, trigger_events, mtf, outcome, closed_at, close_price, return_pct`

// Record inserts the signal. Returns ErrDuplicateKey if the id exists.
func (s *PostgresSignalStore) Record(ctx context.Context, sig *models.Signal) (*models.Signal, error) {
	if sig == nil || sig.ID == "" || sig.Symbol == "" || !sig.Direction.Valid() {
		return nil, domrepo.ErrInvalidInput
	}
	components, err := json.Marshal(sig.Components)
	if err != nil {
		return nil, fmt.Errorf("marshal components: %w", err)
	}
	votes, err := json.Marshal(sig.Votes)
	if err != nil {
		return nil, fmt.Errorf("marshal votes: %w", err)
	}
	triggers := sig.TriggerEvents
	if triggers == nil {
		triggers = []models.EventKind{}
	}
	trig, err := json.Marshal(triggers)
	if err != nil {
		return nil, fmt.Errorf("marshal trigger events: %w", err)
	}
	var mtf []byte
	if sig.MTF != nil {
		if mtf, err = json.Marshal(sig.MTF); err != nil {
			return nil, fmt.Errorf("marshal mtf: %w", err)
		}
	}

	query := `
		INSERT INTO signals (
			id, created_at, symbol, direction, score, mtf_score, entry_price, tp_price, sl_price, atr,
			components, votes, trigger_events, mtf
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.pool.Exec(ctx, query,
		sig.ID,
		sig.CreatedAt.UTC(),
		sig.Symbol,
		string(sig.Direction),
		sig.Score,
		sig.MTFScore,
		sig.EntryPrice,
		sig.TargetPrice,
		sig.StopPrice,
		sig.ATR,
		components,
		votes,
		trig,
		mtf,
	)
	if err != nil {
		if postgres.IsDuplicateKey(err) {
			return nil, domrepo.ErrDuplicateKey
		}
		return nil, fmt.Errorf("insert signal: %w", err)
	}
	return sig, nil
}

// UpdateOutcome writes the terminal state only while outcome is NULL.
func (s *PostgresSignalStore) UpdateOutcome(ctx context.Context, id string, u models.OutcomeUpdate) (bool, error) {
	if !u.Outcome.Valid() {
		return false, domrepo.ErrInvalidInput
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE signals
		SET outcome = $2, closed_at = $3, close_price = $4, return_pct = $5
		WHERE id = $1 AND outcome IS NULL
	`, id, string(u.Outcome), u.ClosedAt.UTC(), u.ClosePrice, u.ReturnPct)
	if err != nil {
		return false, fmt.Errorf("update outcome: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM signals WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check signal exists: %w", err)
	}
	if !exists {
		return false, domrepo.ErrNotFound
	}
	return false, nil
}

func (s *PostgresSignalStore) Get(ctx context.Context, id string) (*models.Signal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = $1`, id)
	sig, err := scanSignal(row)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, domrepo.ErrNotFound
		}
		return nil, fmt.Errorf("get signal: %w", err)
	}
	return sig, nil
}

// List returns signals newest first.
func (s *PostgresSignalStore) List(ctx context.Context, f models.SignalFilter) ([]*models.Signal, error) {
	var (
		where []string
		args  []any
	)
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		where = append(where, fmt.Sprintf("symbol = $%d", len(args)))
	}
	switch {
	case f.OpenOnly:
		where = append(where, "outcome IS NULL")
	case f.Outcome != nil:
		args = append(args, string(*f.Outcome))
		where = append(where, fmt.Sprintf("outcome = $%d", len(args)))
	}

	query := `SELECT ` + signalColumns + ` FROM signals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// ListOpen returns open signals oldest first.
func (s *PostgresSignalStore) ListOpen(ctx context.Context) ([]*models.Signal, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+signalColumns+` FROM signals WHERE outcome IS NULL ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list open signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

const statsSelect = `
	SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE outcome IS NULL),
		COUNT(*) FILTER (WHERE outcome = 'tp_hit'),
		COUNT(*) FILTER (WHERE outcome = 'sl_hit'),
		COUNT(*) FILTER (WHERE outcome = 'expired'),
		COUNT(*) FILTER (WHERE outcome = 'manual'),
		COUNT(*) FILTER (WHERE outcome = 'reversed'),
		COUNT(*) FILTER (WHERE direction = 'long'),
		COUNT(*) FILTER (WHERE direction = 'short'),
		COALESCE(AVG(return_pct) FILTER (WHERE outcome IS NOT NULL), 0),
		COALESCE(AVG(EXTRACT(EPOCH FROM closed_at - created_at)) FILTER (WHERE closed_at IS NOT NULL), 0)::float8,
		COALESCE(AVG(score), 0)`

func (s *PostgresSignalStore) Stats(ctx context.Context, f models.StatsFilter) (*models.SignalStats, error) {
	where, args := statsWhere(f)
	row := s.pool.QueryRow(ctx, statsSelect+`, ''::text FROM signals`+where, args...)
	st, err := scanStats(row)
	if err != nil {
		return nil, fmt.Errorf("signal stats: %w", err)
	}
	st.Symbol = f.Symbol
	return st, nil
}

// StatsBySymbol groups by symbol, busiest first.
func (s *PostgresSignalStore) StatsBySymbol(ctx context.Context, f models.StatsFilter) ([]*models.SignalStats, error) {
	where, args := statsWhere(f)
	rows, err := s.pool.Query(ctx, statsSelect+`, symbol FROM signals`+where+` GROUP BY symbol ORDER BY COUNT(*) DESC, symbol ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("signal stats by symbol: %w", err)
	}
	defer rows.Close()

	var out []*models.SignalStats
	for rows.Next() {
		st, err := scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresSignalStore) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresSignalStore) Close() error { return nil }

func statsWhere(f models.StatsFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		where = append(where, fmt.Sprintf("symbol = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since.UTC())
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func scanStats(row pgx.Row) (*models.SignalStats, error) {
	var st models.SignalStats
	var total, open, wins, losses, expired, manual, reversed, longs, shorts int64
	err := row.Scan(&total, &open, &wins, &losses, &expired, &manual, &reversed, &longs, &shorts,
		&st.AvgReturnPct, &st.AvgDurationSec, &st.AvgScore, &st.Symbol)
	if err != nil {
		return nil, err
	}
	st.Total, st.Open = int(total), int(open)
	st.Wins, st.Losses = int(wins), int(losses)
	st.Expired, st.Manual, st.Reversed = int(expired), int(manual), int(reversed)
	st.Longs, st.Shorts = int(longs), int(shorts)
	finishStats(&st)
	return &st, nil
}

func scanSignal(row pgx.Row) (*models.Signal, error) {
	var (
		sig                         models.Signal
		direction                   string
		components, votes, triggers []byte
		mtf                         []byte
		outcome                     *string
		closedAt                    *time.Time
	)
	err := row.Scan(
		&sig.ID,
		&sig.CreatedAt,
		&sig.Symbol,
		&direction,
		&sig.Score,
		&sig.MTFScore,
		&sig.EntryPrice,
		&sig.TargetPrice,
		&sig.StopPrice,
		&sig.ATR,
		&components,
		&votes,
		&triggers,
		&mtf,
		&outcome,
		&closedAt,
		&sig.ClosePrice,
		&sig.ReturnPct,
	)
	if err != nil {
		return nil, err
	}
	sig.Direction = models.Direction(direction)
	sig.CreatedAt = sig.CreatedAt.UTC()
	if err := json.Unmarshal(components, &sig.Components); err != nil {
		return nil, fmt.Errorf("decode components: %w", err)
	}
	if err := json.Unmarshal(votes, &sig.Votes); err != nil {
		return nil, fmt.Errorf("decode votes: %w", err)
	}
	if err := json.Unmarshal(triggers, &sig.TriggerEvents); err != nil {
		return nil, fmt.Errorf("decode trigger events: %w", err)
	}
	if len(mtf) > 0 {
		sig.MTF = &models.MTFResult{}
		if err := json.Unmarshal(mtf, sig.MTF); err != nil {
			return nil, fmt.Errorf("decode mtf: %w", err)
		}
	}
	if outcome != nil {
		o := models.Outcome(*outcome)
		sig.Outcome = &o
	}
	if closedAt != nil {
		t := closedAt.UTC()
		sig.ClosedAt = &t
	}
	return &sig, nil
}

func scanSignals(rows pgx.Rows) ([]*models.Signal, error) {
	var out []*models.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// finishStats derives the closed count and win rate. Win rate is tp hits over closed signals.
func finishStats(st *models.SignalStats) {
	st.Closed = st.Total - st.Open
	if st.Closed > 0 {
		st.WinRate = float64(st.Wins) / float64(st.Closed)
	}
}
