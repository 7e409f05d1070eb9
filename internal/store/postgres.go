package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Rajchodisetti/market-data/internal/marketdata"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS market_snapshots (
	id                     BIGSERIAL PRIMARY KEY,
	location               TEXT             NOT NULL,
	property_type          TEXT             NOT NULL,
	period                 TEXT             NOT NULL,
	average_price          DOUBLE PRECISION NOT NULL,
	median_price           DOUBLE PRECISION NOT NULL,
	price_per_sqm          DOUBLE PRECISION NOT NULL,
	total_listings         INTEGER          NOT NULL,
	sold_listings          INTEGER          NOT NULL,
	average_days_on_market DOUBLE PRECISION NOT NULL,
	trend                  TEXT             NOT NULL,
	trend_percentage       DOUBLE PRECISION NOT NULL,
	source                 TEXT             NOT NULL,
	last_updated           TIMESTAMPTZ      NOT NULL,
	UNIQUE (location, property_type, period)
);

CREATE TABLE IF NOT EXISTS comparable_sales (
	snapshot_id    BIGINT           NOT NULL REFERENCES market_snapshots(id) ON DELETE CASCADE,
	position       INTEGER          NOT NULL,
	sale_id        TEXT             NOT NULL,
	address        TEXT             NOT NULL,
	suburb         TEXT             NOT NULL,
	city           TEXT             NOT NULL,
	property_type  TEXT             NOT NULL,
	bedrooms       INTEGER,
	bathrooms      INTEGER,
	size           DOUBLE PRECISION,
	land_size      DOUBLE PRECISION,
	sale_price     DOUBLE PRECISION NOT NULL CHECK (sale_price > 0),
	sale_date      TIMESTAMPTZ      NOT NULL,
	days_on_market INTEGER,
	source         TEXT             NOT NULL,
	PRIMARY KEY (snapshot_id, position)
);
`

var saleColumns = []string{
	"snapshot_id", "position", "sale_id", "address", "suburb", "city", "property_type",
	"bedrooms", "bathrooms", "size", "land_size", "sale_price", "sale_date", "days_on_market", "source",
}

// Postgres persists snapshots through a pgx connection pool.
type Postgres struct {
	db *pgxpool.Pool
}

// OpenPostgres connects a pool to dsn and verifies it.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return NewPostgres(pool), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, postgresSchema)
	return err
}

func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}

func (p *Postgres) FindLatest(ctx context.Context, key marketdata.Key) (snap *marketdata.Snapshot, found bool, err error) {
	start := time.Now()
	defer func() { observeQuery("postgres", "find_latest", start, err) }()

	// Snapshot row and its sales must come from the same committed version.
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, false, fmt.Errorf("begin read %s: %w", key, err)
	}
	defer tx.Rollback(ctx)

	var (
		id  int64
		out = marketdata.Snapshot{Key: key}
	)
	err = tx.QueryRow(ctx, `
		SELECT id, average_price, median_price, price_per_sqm, total_listings, sold_listings,
		       average_days_on_market, trend, trend_percentage, source, last_updated
		FROM market_snapshots
		WHERE location = $1 AND property_type = $2 AND period = $3`,
		key.Location, string(key.PropertyType), string(key.Period),
	).Scan(
		&id,
		&out.AveragePrice,
		&out.MedianPrice,
		&out.PricePerSqm,
		&out.TotalListings,
		&out.SoldListings,
		&out.AverageDaysOnMarket,
		&out.Trend,
		&out.TrendPercentage,
		&out.Source,
		&out.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find %s: %w", key, err)
	}
	out.LastUpdated = out.LastUpdated.UTC()

	rows, err := tx.Query(ctx, `
		SELECT sale_id, address, suburb, city, property_type, bedrooms, bathrooms, size,
		       land_size, sale_price, sale_date, days_on_market, source
		FROM comparable_sales
		WHERE snapshot_id = $1
		ORDER BY position`, id)
	if err != nil {
		return nil, false, fmt.Errorf("find sales %s: %w", key, err)
	}
	defer rows.Close()

	for rows.Next() {
		var c marketdata.ComparableSale
		if err := rows.Scan(
			&c.ID,
			&c.Address,
			&c.Suburb,
			&c.City,
			&c.PropertyType,
			&c.Bedrooms,
			&c.Bathrooms,
			&c.Size,
			&c.LandSize,
			&c.SalePrice,
			&c.SaleDate,
			&c.DaysOnMarket,
			&c.Source,
		); err != nil {
			return nil, false, fmt.Errorf("scan sale %s: %w", key, err)
		}
		c.SaleDate = c.SaleDate.UTC()
		out.Comparables = append(out.Comparables, c)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("read sales %s: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit read %s: %w", key, err)
	}
	return &out, true, nil
}

func (p *Postgres) Upsert(ctx context.Context, snap *marketdata.Snapshot) (err error) {
	if snap == nil {
		return nil
	}
	start := time.Now()
	defer func() { observeQuery("postgres", "upsert", start, err) }()

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert %s: %w", snap.Key, err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO market_snapshots (
			location, property_type, period, average_price, median_price, price_per_sqm,
			total_listings, sold_listings, average_days_on_market, trend, trend_percentage,
			source, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (location, property_type, period) DO UPDATE SET
			average_price          = EXCLUDED.average_price,
			median_price           = EXCLUDED.median_price,
			price_per_sqm          = EXCLUDED.price_per_sqm,
			total_listings         = EXCLUDED.total_listings,
			sold_listings          = EXCLUDED.sold_listings,
			average_days_on_market = EXCLUDED.average_days_on_market,
			trend                  = EXCLUDED.trend,
			trend_percentage       = EXCLUDED.trend_percentage,
			source                 = EXCLUDED.source,
			last_updated           = EXCLUDED.last_updated
		WHERE market_snapshots.last_updated <= EXCLUDED.last_updated
		RETURNING id`,
		snap.Location, string(snap.PropertyType), string(snap.Period),
		snap.AveragePrice, snap.MedianPrice, snap.PricePerSqm,
		snap.TotalListings, snap.SoldListings, snap.AverageDaysOnMarket,
		string(snap.Trend), snap.TrendPercentage, snap.Source,
		snap.LastUpdated,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		recordIgnored("postgres", snap.Key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("upsert %s: %w", snap.Key, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM comparable_sales WHERE snapshot_id = $1`, id); err != nil {
		return fmt.Errorf("clear sales %s: %w", snap.Key, err)
	}

	sales := snap.Comparables
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"comparable_sales"}, saleColumns,
		pgx.CopyFromSlice(len(sales), func(i int) ([]any, error) {
			c := sales[i]
			return []any{
				id, i, c.ID, c.Address, c.Suburb, c.City, string(c.PropertyType),
				c.Bedrooms, c.Bathrooms, c.Size, c.LandSize, c.SalePrice,
				c.SaleDate, c.DaysOnMarket, c.Source,
			}, nil
		}),
	); err != nil {
		return fmt.Errorf("copy sales %s: %w", snap.Key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", snap.Key, err)
	}
	return nil
}
