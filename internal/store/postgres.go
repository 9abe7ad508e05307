package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dvfcli/internal/aggregate"
	apperrors "dvfcli/internal/errors"
	"dvfcli/internal/records"
)

// PostgresSink bulk-loads the tables with COPY.
type PostgresSink struct {
	pool   *pgxpool.Pool
	schema string
	logger *slog.Logger
}

// NewPostgresSink connects to dsn and creates the tables under schema when missing.
func NewPostgresSink(ctx context.Context, dsn, schema string, logger *slog.Logger) (*PostgresSink, error) {
	if dsn == "" {
		return nil, apperrors.NewConfigError("postgres dsn is empty", nil)
	}
	if schema == "" {
		schema = "public"
	}
	if err := ValidateIdentifier(schema); err != nil {
		return nil, apperrors.NewConfigError("postgres schema", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, apperrors.NewConfigError("parse postgres dsn", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.NewStorageError("connect to postgres", err)
	}

	s := &PostgresSink{pool: pool, schema: schema, logger: logger.With(slog.String("sink", "postgres"))}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Name identifies the sink in logs and diagnostics.
func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func (s *PostgresSink) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgx.Identifier{s.schema}.Sanitize()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			transaction_key TEXT PRIMARY KEY,
			mutation_id TEXT NOT NULL,
			disposition_no INTEGER NOT NULL,
			date_mutation DATE NOT NULL,
			mutation_nature TEXT NOT NULL,
			property_type TEXT NOT NULL,
			property_value DOUBLE PRECISION NOT NULL,
			primary_parcel_id TEXT NOT NULL,
			parcel_ids TEXT[] NOT NULL,
			total_built_surface DOUBLE PRECISION NOT NULL,
			num_rooms INTEGER NOT NULL,
			has_dependency BOOLEAN NOT NULL,
			unit_price DOUBLE PRECISION NOT NULL,
			address TEXT NOT NULL,
			postal_code TEXT NOT NULL,
			commune_code TEXT NOT NULL,
			commune_name TEXT NOT NULL,
			department_code TEXT NOT NULL,
			region_code TEXT,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			iris_code TEXT,
			iris_name TEXT,
			time_adjusted_unit_price DOUBLE PRECISION
		)`, s.table(TransactionsTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			geo_level TEXT NOT NULL,
			geo_code TEXT NOT NULL,
			geo_name TEXT,
			parent_code TEXT,
			property_type TEXT NOT NULL,
			time_span TEXT NOT NULL,
			transaction_count INTEGER NOT NULL,
			house_count INTEGER NOT NULL,
			apartment_count INTEGER NOT NULL,
			mean_price DOUBLE PRECISION,
			median_price DOUBLE PRECISION,
			q25_price DOUBLE PRECISION,
			q75_price DOUBLE PRECISION,
			median_time_adjusted_price DOUBLE PRECISION,
			PRIMARY KEY (geo_level, geo_code, property_type, time_span)
		)`, s.table(AggregatesTable)),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return apperrors.NewStorageError("create postgres tables", err)
		}
	}
	return nil
}

// WriteTransactions replaces the transactions table.
func (s *PostgresSink) WriteTransactions(ctx context.Context, txs []records.NormalizedTransaction) (int64, error) {
	return s.replace(ctx, TransactionsTable, transactionColumns, pgx.CopyFromSlice(len(txs), func(i int) ([]interface{}, error) {
		t := &txs[i]
		parcels := t.ParcelIDs
		if parcels == nil {
			parcels = []string{}
		}
		return transactionValues(t, parcels), nil
	}))
}

// WriteAggregates replaces the aggregates table.
func (s *PostgresSink) WriteAggregates(ctx context.Context, aggs []aggregate.GeoAggregate) (int64, error) {
	return s.replace(ctx, AggregatesTable, aggregateColumns, pgx.CopyFromSlice(len(aggs), func(i int) ([]interface{}, error) {
		return aggregateValues(&aggs[i]), nil
	}))
}

func (s *PostgresSink) replace(ctx context.Context, table string, columns []string, src pgx.CopyFromSource) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, apperrors.NewStorageError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, s.table(table))); err != nil {
		return 0, apperrors.NewStorageError("truncate "+table, err)
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{s.schema, table}, columns, src)
	if err != nil {
		return 0, apperrors.NewStorageError("copy into "+table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, apperrors.NewStorageError("commit "+table, err)
	}

	s.logger.InfoContext(ctx, "replaced table",
		slog.String("table", s.schema+"."+table),
		slog.Int64("rows", n))
	return n, nil
}

// Close releases the pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
