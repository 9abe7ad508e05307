package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"dvfcli/internal/aggregate"
	apperrors "dvfcli/internal/errors"
	"dvfcli/internal/records"
)

// SQLiteSink keeps the tables in a single SQLite file.
type SQLiteSink struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteSink opens (or creates) the database at path.
func NewSQLiteSink(ctx context.Context, path string, logger *slog.Logger) (*SQLiteSink, error) {
	if path == "" {
		return nil, apperrors.NewConfigError("sqlite path is empty", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, apperrors.NewStorageError("create sqlite directory", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.NewStorageError("open sqlite", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteSink{db: db, path: path, logger: logger.With(slog.String("sink", "sqlite"))}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Name identifies the sink in logs and diagnostics.
func (s *SQLiteSink) Name() string { return "sqlite" }

// DB exposes the handle for read-back queries.
func (s *SQLiteSink) DB() *sql.DB { return s.db }

func (s *SQLiteSink) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + TransactionsTable + ` (
			transaction_key TEXT PRIMARY KEY,
			mutation_id TEXT NOT NULL,
			disposition_no INTEGER NOT NULL,
			date_mutation TEXT NOT NULL,
			mutation_nature TEXT NOT NULL,
			property_type TEXT NOT NULL,
			property_value REAL NOT NULL,
			primary_parcel_id TEXT NOT NULL,
			parcel_ids TEXT NOT NULL,
			total_built_surface REAL NOT NULL,
			num_rooms INTEGER NOT NULL,
			has_dependency INTEGER NOT NULL,
			unit_price REAL NOT NULL,
			address TEXT NOT NULL,
			postal_code TEXT NOT NULL,
			commune_code TEXT NOT NULL,
			commune_name TEXT NOT NULL,
			department_code TEXT NOT NULL,
			region_code TEXT,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			iris_code TEXT,
			iris_name TEXT,
			time_adjusted_unit_price REAL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + AggregatesTable + ` (
			geo_level TEXT NOT NULL,
			geo_code TEXT NOT NULL,
			geo_name TEXT,
			parent_code TEXT,
			property_type TEXT NOT NULL,
			time_span TEXT NOT NULL,
			transaction_count INTEGER NOT NULL,
			house_count INTEGER NOT NULL,
			apartment_count INTEGER NOT NULL,
			mean_price REAL,
			median_price REAL,
			q25_price REAL,
			q75_price REAL,
			median_time_adjusted_price REAL,
			PRIMARY KEY (geo_level, geo_code, property_type, time_span)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.NewStorageError("create sqlite tables", err)
		}
	}
	return nil
}

// WriteTransactions replaces the transactions table. Dates are stored as
// YYYY-MM-DD and parcel ids as a ';'-joined list.
func (s *SQLiteSink) WriteTransactions(ctx context.Context, txs []records.NormalizedTransaction) (int64, error) {
	return s.replace(ctx, TransactionsTable, transactionColumns, len(txs), func(i int) []interface{} {
		t := &txs[i]
		row := transactionValues(t, strings.Join(t.ParcelIDs, ";"))
		row[3] = t.Date.Format("2006-01-02")
		return row
	})
}

// WriteAggregates replaces the aggregates table.
func (s *SQLiteSink) WriteAggregates(ctx context.Context, aggs []aggregate.GeoAggregate) (int64, error) {
	return s.replace(ctx, AggregatesTable, aggregateColumns, len(aggs), func(i int) []interface{} {
		return aggregateValues(&aggs[i])
	})
}

func (s *SQLiteSink) replace(ctx context.Context, table string, columns []string, n int, row func(int) []interface{}) (retN int64, retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.NewStorageError("begin transaction", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return 0, apperrors.NewStorageError("clear "+table, err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		table, strings.Join(columns, ", "), placeholders(len(columns))))
	if err != nil {
		return 0, apperrors.NewStorageError("prepare insert into "+table, err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			return 0, apperrors.NewStorageError(fmt.Sprintf("insert row %d into %s", i, table), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, apperrors.NewStorageError("commit "+table, err)
	}

	s.logger.InfoContext(ctx, "replaced table",
		slog.String("table", table),
		slog.String("file_path", s.path),
		slog.Int("rows", n))
	return int64(n), nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
