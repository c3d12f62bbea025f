package ranking

import (
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const dateLayout = "2006-01-02"

// MetricNames is the fixed set of ranked metrics, one value column and one
// rank column each. rs_avg is the composite used for ordered-scan reads.
var MetricNames = []string{"rs_3d", "rs_1m", "rs_3m", "rs_1y", "rs_avg"}

// CompositeMetric orders the Latest listing.
const CompositeMetric = "rs_avg"

// Direction filters rank-delta results.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionAny  Direction = "any"
)

// UnknownMetricError reports a metric name outside the allowed set.
type UnknownMetricError struct {
	Metric  string
	Allowed []string
}

func (e *UnknownMetricError) Error() string {
	return fmt.Sprintf("unknown metric %q, allowed metrics: %s", e.Metric, strings.Join(e.Allowed, ", "))
}

// RawMetrics maps metric name to a nullable raw value for one symbol.
type RawMetrics map[string]*float64

// Row is one stored (date, symbol) score row.
type Row struct {
	Date   string              `json:"date"`
	Symbol string              `json:"symbol"`
	Values map[string]*float64 `json:"values"`
	Ranks  map[string]*int     `json:"ranks"`
}

// Mover is one rank-delta result. Change is pastRank − currentRank, so a
// positive change means the symbol improved.
type Mover struct {
	Symbol      string `json:"symbol"`
	CurrentRank int    `json:"current_rank"`
	PastRank    int    `json:"past_rank"`
	Change      int    `json:"rank_change"`
}

// Repository stores one score row per (date, symbol) in SQLite and answers
// latest/history/rank-delta queries. A date's rows are only ever written as a
// single transaction, so readers never observe a half-ranked date.
type Repository struct {
	db      *sql.DB
	mu      sync.RWMutex
	allowed []string
}

// NewRepository opens (or creates) the SQLite database at path in WAL mode.
// The allowlist restricts which metrics rank-delta queries may use and must
// be a subset of MetricNames.
func NewRepository(path string, allowlist []string) (*Repository, error) {
	for _, m := range allowlist {
		if !knownMetric(m) {
			return nil, &UnknownMetricError{Metric: m, Allowed: MetricNames}
		}
	}
	if len(allowlist) == 0 {
		allowlist = MetricNames
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &Repository{db: db, allowed: allowlist}
	if err := repo.createTables(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// AllowedMetrics returns the metrics rank-delta queries may use.
func (r *Repository) AllowedMetrics() []string {
	out := make([]string, len(r.allowed))
	copy(out, r.allowed)
	return out
}

func (r *Repository) createTables() error {
	cols := make([]string, 0, 2*len(MetricNames))
	for _, m := range MetricNames {
		cols = append(cols, m+" REAL", m+"_rank INTEGER")
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS daily_scores (
			date VARCHAR NOT NULL,
			symbol VARCHAR NOT NULL,
			%s,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (date, symbol)
		)
	`, strings.Join(cols, ",\n\t\t\t"))
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create daily_scores table: %w", err)
	}

	r.db.Exec("CREATE INDEX IF NOT EXISTS idx_scores_date ON daily_scores(date)")
	r.db.Exec("CREATE INDEX IF NOT EXISTS idx_scores_symbol ON daily_scores(symbol)")
	r.db.Exec("CREATE INDEX IF NOT EXISTS idx_scores_date_composite ON daily_scores(date, " + CompositeMetric + "_rank)")

	log.Println("daily_scores table created/verified")
	return nil
}

// Upsert replaces every row for date with freshly ranked rows computed from
// the given raw metrics, as one transaction. Either the full date commits or
// nothing does; re-running with identical input leaves identical state.
func (r *Repository) Upsert(date string, rows map[string]RawMetrics) (int, error) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", date, err)
	}

	// Rank each metric across the full entity set before touching storage.
	ranksByMetric := make(map[string]map[string]*int, len(MetricNames))
	for _, metric := range MetricNames {
		values := make(map[string]*float64, len(rows))
		for symbol, raw := range rows {
			values[symbol] = raw[metric]
		}
		ranksByMetric[metric] = CompetitionRanks(values)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM daily_scores WHERE date = ?", date); err != nil {
		return 0, fmt.Errorf("failed to clear rows for %s: %w", date, err)
	}

	cols := []string{"date", "symbol"}
	for _, m := range MetricNames {
		cols = append(cols, m, m+"_rank")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.Prepare(fmt.Sprintf(
		"INSERT INTO daily_scores (%s) VALUES (%s)", strings.Join(cols, ", "), placeholders))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for symbol, raw := range rows {
		args := make([]any, 0, len(cols))
		args = append(args, date, symbol)
		for _, metric := range MetricNames {
			args = append(args, nullFloat(raw[metric]), nullInt(ranksByMetric[metric][symbol]))
		}
		if _, err := stmt.Exec(args...); err != nil {
			return 0, fmt.Errorf("failed to insert row for %s on %s: %w", symbol, date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rows for %s: %w", date, err)
	}
	return len(rows), nil
}

// Latest returns every row for the most recent stored date at or before the
// given date (today when empty), ordered by composite rank.
func (r *Repository) Latest(date string) ([]Row, error) {
	if date == "" {
		date = time.Now().Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest sql.NullString
	err := r.db.QueryRow("SELECT MAX(date) FROM daily_scores WHERE date <= ?", date).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to find latest date: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}

	query := fmt.Sprintf(
		"SELECT %s FROM daily_scores WHERE date = ? ORDER BY %s_rank IS NULL, %s_rank",
		selectColumns(), CompositeMetric, CompositeMetric)
	return r.queryRows(query, latest.String)
}

// History returns up to maxRows rows for symbol, most recent date first.
func (r *Repository) History(symbol string, maxRows int) ([]Row, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol must not be empty")
	}
	if maxRows <= 0 {
		return nil, fmt.Errorf("max rows must be > 0, got %d", maxRows)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	query := fmt.Sprintf(
		"SELECT %s FROM daily_scores WHERE symbol = ? ORDER BY date DESC LIMIT %d",
		selectColumns(), maxRows)
	return r.queryRows(query, symbol)
}

// RankDelta reports symbols whose rank on metric moved by at least minChange
// between the latest stored date and the lookbackDays-th most recent distinct
// stored date before it. The reference is an offset among existing dates, not
// a calendar offset, so non-trading days do not shift the comparison. Only
// symbols ranked on both dates are compared.
func (r *Repository) RankDelta(metric string, lookbackDays, minChange int, direction Direction, limit int) ([]Mover, error) {
	if !r.metricAllowed(metric) {
		return nil, &UnknownMetricError{Metric: metric, Allowed: r.allowed}
	}
	if lookbackDays < 1 {
		return nil, fmt.Errorf("lookback days must be >= 1, got %d", lookbackDays)
	}
	if minChange < 0 {
		return nil, fmt.Errorf("min change must be >= 0, got %d", minChange)
	}
	switch direction {
	case DirectionUp, DirectionDown, DirectionAny:
	case "":
		direction = DirectionAny
	default:
		return nil, fmt.Errorf("invalid direction %q, expected up, down or any", direction)
	}
	if limit <= 0 {
		limit = 50
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest sql.NullString
	if err := r.db.QueryRow("SELECT MAX(date) FROM daily_scores").Scan(&latest); err != nil {
		return nil, fmt.Errorf("failed to find latest date: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}

	var past sql.NullString
	err := r.db.QueryRow(
		"SELECT DISTINCT date FROM daily_scores WHERE date < ? ORDER BY date DESC LIMIT 1 OFFSET ?",
		latest.String, lookbackDays-1).Scan(&past)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to find reference date: %w", err)
	}
	if err == sql.ErrNoRows || !past.Valid {
		// Fewer stored dates than the lookback: no reference, no movers.
		return nil, nil
	}

	// metric passed the allowlist, so interpolating its column is safe.
	rankCol := metric + "_rank"
	query := fmt.Sprintf(`
		SELECT cur.symbol, cur.%s, past.%s
		FROM daily_scores cur
		JOIN daily_scores past ON past.symbol = cur.symbol
		WHERE cur.date = ? AND past.date = ?
		AND cur.%s IS NOT NULL AND past.%s IS NOT NULL
	`, rankCol, rankCol, rankCol, rankCol)

	sqlRows, err := r.db.Query(query, latest.String, past.String)
	if err != nil {
		return nil, fmt.Errorf("failed to query rank delta: %w", err)
	}
	defer sqlRows.Close()

	var movers []Mover
	for sqlRows.Next() {
		var m Mover
		if err := sqlRows.Scan(&m.Symbol, &m.CurrentRank, &m.PastRank); err != nil {
			return nil, fmt.Errorf("failed to scan rank delta row: %w", err)
		}
		m.Change = m.PastRank - m.CurrentRank

		switch direction {
		case DirectionUp:
			if m.Change < minChange {
				continue
			}
		case DirectionDown:
			if -m.Change < minChange {
				continue
			}
		default:
			if abs(m.Change) < minChange {
				continue
			}
		}
		movers = append(movers, m)
	}
	if err := sqlRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rank delta rows: %w", err)
	}

	sortMovers(movers)
	if len(movers) > limit {
		movers = movers[:limit]
	}
	return movers, nil
}

func (r *Repository) queryRows(query string, args ...any) ([]Row, error) {
	sqlRows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer sqlRows.Close()

	var rows []Row
	for sqlRows.Next() {
		row := Row{
			Values: make(map[string]*float64, len(MetricNames)),
			Ranks:  make(map[string]*int, len(MetricNames)),
		}

		dest := []any{&row.Date, &row.Symbol}
		vals := make([]sql.NullFloat64, len(MetricNames))
		ranks := make([]sql.NullInt64, len(MetricNames))
		for i := range MetricNames {
			dest = append(dest, &vals[i], &ranks[i])
		}
		if err := sqlRows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan score row: %w", err)
		}

		for i, metric := range MetricNames {
			if vals[i].Valid {
				v := vals[i].Float64
				row.Values[metric] = &v
			} else {
				row.Values[metric] = nil
			}
			if ranks[i].Valid {
				rank := int(ranks[i].Int64)
				row.Ranks[metric] = &rank
			} else {
				row.Ranks[metric] = nil
			}
		}
		rows = append(rows, row)
	}
	if err := sqlRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read score rows: %w", err)
	}
	return rows, nil
}

func (r *Repository) metricAllowed(metric string) bool {
	for _, m := range r.allowed {
		if m == metric {
			return true
		}
	}
	return false
}

func knownMetric(metric string) bool {
	for _, m := range MetricNames {
		if m == metric {
			return true
		}
	}
	return false
}

func selectColumns() string {
	cols := []string{"date", "symbol"}
	for _, m := range MetricNames {
		cols = append(cols, m, m+"_rank")
	}
	return strings.Join(cols, ", ")
}

func sortMovers(movers []Mover) {
	sort.Slice(movers, func(i, j int) bool {
		if abs(movers[i].Change) != abs(movers[j].Change) {
			return abs(movers[i].Change) > abs(movers[j].Change)
		}
		return movers[i].Symbol < movers[j].Symbol
	})
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
