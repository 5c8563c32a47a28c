package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mselser95/polymarket-ledger/pkg/types"
)

// PostgresSink implements TradeSink using PostgreSQL. Inserts carry an ON
// CONFLICT DO NOTHING clause on the trade uniqueness key, so replaying a
// window of the event log is safe.
type PostgresSink struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresSink creates a new PostgreSQL sink.
func NewPostgresSink(cfg *PostgresConfig) (*PostgresSink, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cfg.Logger.Info("postgres-sink-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresSink{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

const insertTradeQuery = `
	INSERT INTO trades (
		ts, market_id, maker, taker, nonquote_side,
		maker_direction, taker_direction, price,
		quote_amount, token_amount,
		maker_amount_raw, taker_amount_raw, tx_hash
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
	)
	ON CONFLICT (tx_hash, maker, taker, maker_amount_raw, taker_amount_raw) DO NOTHING
`

// StoreTrades inserts a batch of trades inside a single transaction.
func (p *PostgresSink) StoreTrades(ctx context.Context, trades []types.CanonicalTrade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, insertTradeQuery)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		_, err = stmt.ExecContext(ctx,
			t.Timestamp,
			t.MarketID,
			t.Maker,
			t.Taker,
			string(t.NonQuoteSide),
			string(t.MakerDirection),
			string(t.TakerDirection),
			t.Price,
			t.QuoteAmount,
			t.TokenAmount,
			t.MakerAmountRaw,
			t.TakerAmountRaw,
			t.TxHash,
		)
		if err != nil {
			return fmt.Errorf("insert trade %s: %w", t.TxHash, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit trades: %w", err)
	}

	p.logger.Debug("trades-stored", zap.Int("count", len(trades)))

	return nil
}

// Close closes the database connection.
func (p *PostgresSink) Close() error {
	p.logger.Info("closing-postgres-sink")
	return p.db.Close()
}
