package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dwsmith1983/muse/internal/provider"
	"github.com/dwsmith1983/muse/pkg/types"
)

// LatestIdentifier returns the identifier of the most recent row in a feed.
func (s *Store) LatestIdentifier(ctx context.Context, feed string) (string, error) {
	table, err := s.table(feed)
	if err != nil {
		return "", err
	}

	var id string
	err = s.pool.QueryRow(ctx, `
		SELECT identifier FROM records
		WHERE table_name = $1 AND identifier IS NOT NULL AND identifier <> ''
		ORDER BY ts DESC, id DESC
		LIMIT 1
	`, table).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("feed %q: %w", feed, provider.ErrNoIdentifier)
	}
	if err != nil {
		return "", fmt.Errorf("querying latest identifier for %q: %w", feed, err)
	}
	return id, nil
}

// RowCountAndLastSeen counts a feed's rows for identifier and returns the
// newest row timestamp. A feed with no rows returns a zero time.
func (s *Store) RowCountAndLastSeen(ctx context.Context, feed, identifier string) (int, time.Time, error) {
	table, err := s.table(feed)
	if err != nil {
		return 0, time.Time{}, err
	}

	var (
		count    int
		lastSeen *time.Time
	)
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), MAX(ts) FROM records
		WHERE table_name = $1 AND identifier = $2
	`, table, identifier).Scan(&count, &lastSeen)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("querying freshness for %q: %w", feed, err)
	}
	if lastSeen == nil {
		return count, time.Time{}, nil
	}
	return count, lastSeen.UTC(), nil
}

// correlationSQL joins both feeds' daily aggregates. Per-day correlation is
// computed over hourly means present in both feeds; it is NULL when a day has
// fewer than two shared hours.
const correlationSQL = `
WITH a AS (
    SELECT date_trunc('hour', ts) AS bucket, avg(metric) AS m, count(*) AS n
    FROM records
    WHERE table_name = $1 AND ts >= NOW() - make_interval(days => $3::int)
    GROUP BY bucket
), b AS (
    SELECT date_trunc('hour', ts) AS bucket, avg(metric) AS m, count(*) AS n
    FROM records
    WHERE table_name = $2 AND ts >= NOW() - make_interval(days => $3::int)
    GROUP BY bucket
), a_day AS (
    SELECT date_trunc('day', bucket) AS day, COALESCE(avg(m), 0) AS metric, sum(n)::int AS rows
    FROM a GROUP BY 1
), b_day AS (
    SELECT date_trunc('day', bucket) AS day, COALESCE(avg(m), 0) AS metric, sum(n)::int AS rows
    FROM b GROUP BY 1
), pairs AS (
    SELECT date_trunc('day', a.bucket) AS day, corr(a.m, b.m) AS c
    FROM a JOIN b ON a.bucket = b.bucket
    GROUP BY 1
)
SELECT ad.day, ad.metric, bd.metric, ad.rows, bd.rows, p.c
FROM a_day ad
JOIN b_day bd ON ad.day = bd.day
LEFT JOIN pairs p ON p.day = ad.day
ORDER BY ad.day
`

// CorrelationWindow returns the joined daily aggregates of feeds A and B
// over the last days.
func (s *Store) CorrelationWindow(ctx context.Context, days int) (types.CorrelationWindow, error) {
	tableA, err := s.table(s.feedA)
	if err != nil {
		return nil, err
	}
	tableB, err := s.table(s.feedB)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, correlationSQL, tableA, tableB, days)
	if err != nil {
		return nil, fmt.Errorf("querying correlation window: %w", err)
	}
	defer rows.Close()

	var window types.CorrelationWindow
	for rows.Next() {
		var d types.CorrelationDay
		if err := rows.Scan(&d.Day, &d.FeedAMetric, &d.FeedBMetric, &d.FeedARows, &d.FeedBRows, &d.Correlation); err != nil {
			return nil, fmt.Errorf("scanning correlation row: %w", err)
		}
		d.Day = d.Day.UTC()
		window = append(window, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading correlation window: %w", err)
	}
	return window, nil
}
