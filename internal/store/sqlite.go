package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Rajchodisetti/market-data/internal/marketdata"
)

// Times are stored as unix microseconds so the freshness guard compares
// integers and matches the precision of the Postgres backend.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS market_snapshots (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	location               TEXT    NOT NULL,
	property_type          TEXT    NOT NULL,
	period                 TEXT    NOT NULL,
	average_price          REAL    NOT NULL,
	median_price           REAL    NOT NULL,
	price_per_sqm          REAL    NOT NULL,
	total_listings         INTEGER NOT NULL,
	sold_listings          INTEGER NOT NULL,
	average_days_on_market REAL    NOT NULL,
	trend                  TEXT    NOT NULL,
	trend_percentage       REAL    NOT NULL,
	source                 TEXT    NOT NULL,
	last_updated           INTEGER NOT NULL,
	UNIQUE (location, property_type, period)
);

CREATE TABLE IF NOT EXISTS comparable_sales (
	snapshot_id    INTEGER NOT NULL REFERENCES market_snapshots(id) ON DELETE CASCADE,
	position       INTEGER NOT NULL,
	sale_id        TEXT    NOT NULL,
	address        TEXT    NOT NULL,
	suburb         TEXT    NOT NULL,
	city           TEXT    NOT NULL,
	property_type  TEXT    NOT NULL,
	bedrooms       INTEGER,
	bathrooms      INTEGER,
	size           REAL,
	land_size      REAL,
	sale_price     REAL    NOT NULL CHECK (sale_price > 0),
	sale_date      INTEGER NOT NULL,
	days_on_market INTEGER,
	source         TEXT    NOT NULL,
	PRIMARY KEY (snapshot_id, position)
);
`

// SQLite persists snapshots in a single database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time; pragmas below are per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) FindLatest(ctx context.Context, key marketdata.Key) (snap *marketdata.Snapshot, found bool, err error) {
	start := time.Now()
	defer func() { observeQuery("sqlite", "find_latest", start, err) }()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, false, fmt.Errorf("begin read %s: %w", key, err)
	}
	defer tx.Rollback()

	var (
		id          int64
		lastUpdated int64
		out         = marketdata.Snapshot{Key: key}
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, average_price, median_price, price_per_sqm, total_listings, sold_listings,
		       average_days_on_market, trend, trend_percentage, source, last_updated
		FROM market_snapshots
		WHERE location = ? AND property_type = ? AND period = ?`,
		key.Location, key.PropertyType, key.Period,
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
		&lastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find %s: %w", key, err)
	}
	out.LastUpdated = time.UnixMicro(lastUpdated).UTC()

	rows, err := tx.QueryContext(ctx, `
		SELECT sale_id, address, suburb, city, property_type, bedrooms, bathrooms, size,
		       land_size, sale_price, sale_date, days_on_market, source
		FROM comparable_sales
		WHERE snapshot_id = ?
		ORDER BY position`, id)
	if err != nil {
		return nil, false, fmt.Errorf("find sales %s: %w", key, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c        marketdata.ComparableSale
			saleDate int64
		)
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
			&saleDate,
			&c.DaysOnMarket,
			&c.Source,
		); err != nil {
			return nil, false, fmt.Errorf("scan sale %s: %w", key, err)
		}
		c.SaleDate = time.UnixMicro(saleDate).UTC()
		out.Comparables = append(out.Comparables, c)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("read sales %s: %w", key, err)
	}
	return &out, true, nil
}

func (s *SQLite) Upsert(ctx context.Context, snap *marketdata.Snapshot) (err error) {
	if snap == nil {
		return nil
	}
	start := time.Now()
	defer func() { observeQuery("sqlite", "upsert", start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert %s: %w", snap.Key, err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO market_snapshots (
			location, property_type, period, average_price, median_price, price_per_sqm,
			total_listings, sold_listings, average_days_on_market, trend, trend_percentage,
			source, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (location, property_type, period) DO UPDATE SET
			average_price          = excluded.average_price,
			median_price           = excluded.median_price,
			price_per_sqm          = excluded.price_per_sqm,
			total_listings         = excluded.total_listings,
			sold_listings          = excluded.sold_listings,
			average_days_on_market = excluded.average_days_on_market,
			trend                  = excluded.trend,
			trend_percentage       = excluded.trend_percentage,
			source                 = excluded.source,
			last_updated           = excluded.last_updated
		WHERE market_snapshots.last_updated <= excluded.last_updated
		RETURNING id`,
		snap.Location, snap.PropertyType, snap.Period,
		snap.AveragePrice, snap.MedianPrice, snap.PricePerSqm,
		snap.TotalListings, snap.SoldListings, snap.AverageDaysOnMarket,
		snap.Trend, snap.TrendPercentage, snap.Source,
		snap.LastUpdated.UnixMicro(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		recordIgnored("sqlite", snap.Key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("upsert %s: %w", snap.Key, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM comparable_sales WHERE snapshot_id = ?`, id); err != nil {
		return fmt.Errorf("clear sales %s: %w", snap.Key, err)
	}

	if len(snap.Comparables) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO comparable_sales (
				snapshot_id, position, sale_id, address, suburb, city, property_type,
				bedrooms, bathrooms, size, land_size, sale_price, sale_date, days_on_market, source
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare sales %s: %w", snap.Key, err)
		}
		defer stmt.Close()

		for i, c := range snap.Comparables {
			if _, err := stmt.ExecContext(ctx,
				id, i, c.ID, c.Address, c.Suburb, c.City, c.PropertyType,
				c.Bedrooms, c.Bathrooms, c.Size, c.LandSize, c.SalePrice,
				c.SaleDate.UnixMicro(), c.DaysOnMarket, c.Source,
			); err != nil {
				return fmt.Errorf("insert sale %s #%d: %w", snap.Key, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", snap.Key, err)
	}
	return nil
}
