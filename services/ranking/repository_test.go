package ranking

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T, allowlist ...string) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "scores.db"), allowlist)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func rowsBySymbol(t *testing.T, rows []Row) map[string]Row {
	t.Helper()
	out := make(map[string]Row, len(rows))
	for _, row := range rows {
		out[row.Symbol] = row
	}
	return out
}

func TestUpsertAndLatest(t *testing.T) {
	repo := newTestRepo(t)

	n, err := repo.Upsert("2026-03-02", map[string]RawMetrics{
		"AAA": {"rs_1m": fptr(80.0), "rs_avg": fptr(75.0)},
		"BBB": {"rs_1m": fptr(80.0), "rs_avg": fptr(60.0)},
		"CCC": {"rs_1m": fptr(70.0), "rs_avg": nil},
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	rows, err := repo.Latest("")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	got := rowsBySymbol(t, rows)
	require.Equal(t, 1, *got["AAA"].Ranks["rs_1m"])
	require.Equal(t, 1, *got["BBB"].Ranks["rs_1m"])
	require.Equal(t, 3, *got["CCC"].Ranks["rs_1m"])

	// A null raw value always yields a null rank.
	require.Nil(t, got["CCC"].Values["rs_avg"])
	require.Nil(t, got["CCC"].Ranks["rs_avg"])
	// Metrics never supplied stay null too.
	require.Nil(t, got["AAA"].Values["rs_3d"])
	require.Nil(t, got["AAA"].Ranks["rs_3d"])
}

func TestUpsertIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	input := map[string]RawMetrics{
		"AAA": {"rs_avg": fptr(90.0)},
		"BBB": {"rs_avg": fptr(50.0)},
	}

	_, err := repo.Upsert("2026-03-02", input)
	require.NoError(t, err)
	first, err := repo.Latest("")
	require.NoError(t, err)

	_, err = repo.Upsert("2026-03-02", input)
	require.NoError(t, err)
	second, err := repo.Latest("")
	require.NoError(t, err)

	require.Equal(t, rowsBySymbol(t, first), rowsBySymbol(t, second))
	require.Len(t, second, 2)
}

func TestUpsertReplacesWholeDate(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Upsert("2026-03-02", map[string]RawMetrics{
		"AAA": {"rs_avg": fptr(90.0)},
		"BBB": {"rs_avg": fptr(50.0)},
		"CCC": {"rs_avg": fptr(30.0)},
	})
	require.NoError(t, err)

	_, err = repo.Upsert("2026-03-02", map[string]RawMetrics{
		"AAA": {"rs_avg": fptr(40.0)},
		"DDD": {"rs_avg": fptr(70.0)},
	})
	require.NoError(t, err)

	rows, err := repo.Latest("")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	got := rowsBySymbol(t, rows)
	require.Contains(t, got, "DDD")
	require.NotContains(t, got, "BBB")
	require.Equal(t, 1, *got["DDD"].Ranks["rs_avg"])
	require.Equal(t, 2, *got["AAA"].Ranks["rs_avg"])
}

func TestUpsertRejectsInvalidDate(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Upsert("", map[string]RawMetrics{"AAA": {"rs_avg": fptr(1.0)}})
	require.Error(t, err)
	_, err = repo.Upsert("02/03/2026", map[string]RawMetrics{"AAA": {"rs_avg": fptr(1.0)}})
	require.Error(t, err)
}

func TestLatestHonorsDateCeiling(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Upsert("2026-02-27", map[string]RawMetrics{"AAA": {"rs_avg": fptr(1.0)}})
	require.NoError(t, err)
	_, err = repo.Upsert("2026-03-02", map[string]RawMetrics{"AAA": {"rs_avg": fptr(2.0)}})
	require.NoError(t, err)

	rows, err := repo.Latest("2026-02-28")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "2026-02-27", rows[0].Date)

	rows, err = repo.Latest("2026-02-26")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestHistoryOrderAndLimit(t *testing.T) {
	repo := newTestRepo(t)

	for _, date := range []string{"2026-02-25", "2026-02-26", "2026-02-27", "2026-03-02"} {
		_, err := repo.Upsert(date, map[string]RawMetrics{
			"AAA": {"rs_avg": fptr(1.0)},
			"BBB": {"rs_avg": fptr(2.0)},
		})
		require.NoError(t, err)
	}

	rows, err := repo.History("AAA", 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "2026-03-02", rows[0].Date)
	require.Equal(t, "2026-02-27", rows[1].Date)
	require.Equal(t, "2026-02-26", rows[2].Date)
	for _, row := range rows {
		require.Equal(t, "AAA", row.Symbol)
	}

	_, err = repo.History("AAA", 0)
	require.Error(t, err)
	_, err = repo.History("", 10)
	require.Error(t, err)
}

func TestRankDeltaRoundTrip(t *testing.T) {
	repo := newTestRepo(t)

	// Earlier date: X ranks 5th of five.
	_, err := repo.Upsert("2026-02-27", map[string]RawMetrics{
		"S1": {"rs_1m": fptr(100.0)},
		"S2": {"rs_1m": fptr(90.0)},
		"S3": {"rs_1m": fptr(80.0)},
		"S4": {"rs_1m": fptr(70.0)},
		"X":  {"rs_1m": fptr(60.0)},
	})
	require.NoError(t, err)

	// Latest date: X climbs to 2nd.
	_, err = repo.Upsert("2026-03-02", map[string]RawMetrics{
		"S1": {"rs_1m": fptr(100.0)},
		"S2": {"rs_1m": fptr(50.0)},
		"S3": {"rs_1m": fptr(40.0)},
		"S4": {"rs_1m": fptr(30.0)},
		"X":  {"rs_1m": fptr(95.0)},
	})
	require.NoError(t, err)

	movers, err := repo.RankDelta("rs_1m", 1, 1, DirectionUp, 10)
	require.NoError(t, err)

	var x *Mover
	for i := range movers {
		if movers[i].Symbol == "X" {
			x = &movers[i]
		}
	}
	require.NotNil(t, x)
	require.Equal(t, 2, x.CurrentRank)
	require.Equal(t, 5, x.PastRank)
	require.Equal(t, 3, x.Change)

	// Sorted by descending absolute change, X moved the most.
	require.Equal(t, "X", movers[0].Symbol)
}

func TestRankDeltaUsesDistinctDateOffsets(t *testing.T) {
	repo := newTestRepo(t)

	// Three stored dates with a weekend gap. Lookback 2 must pick the second
	// most recent distinct date before the latest, regardless of the gap.
	byDate := map[string]map[string]RawMetrics{
		"2026-02-25": {"AAA": {"rs_1m": fptr(10.0)}, "BBB": {"rs_1m": fptr(90.0)}},
		"2026-02-27": {"AAA": {"rs_1m": fptr(20.0)}, "BBB": {"rs_1m": fptr(80.0)}},
		"2026-03-02": {"AAA": {"rs_1m": fptr(90.0)}, "BBB": {"rs_1m": fptr(10.0)}},
	}
	for _, date := range []string{"2026-02-25", "2026-02-27", "2026-03-02"} {
		_, err := repo.Upsert(date, byDate[date])
		require.NoError(t, err)
	}

	movers, err := repo.RankDelta("rs_1m", 2, 1, DirectionAny, 10)
	require.NoError(t, err)
	require.Len(t, movers, 2)

	// On 2026-02-25 AAA ranked 2nd, on 2026-03-02 it ranks 1st.
	for _, m := range movers {
		if m.Symbol == "AAA" {
			require.Equal(t, 1, m.CurrentRank)
			require.Equal(t, 2, m.PastRank)
		}
	}
}

func TestRankDeltaExcludesUnrankedSymbols(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Upsert("2026-02-27", map[string]RawMetrics{
		"AAA": {"rs_1m": fptr(10.0)},
		"BBB": {"rs_1m": nil},
	})
	require.NoError(t, err)
	_, err = repo.Upsert("2026-03-02", map[string]RawMetrics{
		"AAA": {"rs_1m": fptr(20.0)},
		"BBB": {"rs_1m": fptr(30.0)},
	})
	require.NoError(t, err)

	movers, err := repo.RankDelta("rs_1m", 1, 0, DirectionAny, 10)
	require.NoError(t, err)
	for _, m := range movers {
		require.NotEqual(t, "BBB", m.Symbol, "symbols unranked on either date must be excluded")
	}
}

func TestRankDeltaSurfacesStorageErrors(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Upsert("2026-03-02", map[string]RawMetrics{"AAA": {"rs_1m": fptr(1.0)}})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	// A broken store must report the failure, never an empty mover list.
	movers, err := repo.RankDelta("rs_1m", 1, 0, DirectionAny, 10)
	require.Error(t, err)
	require.Nil(t, movers)
}

func TestUpsertRollsBackOnMidWriteFailure(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Upsert("2026-03-02", map[string]RawMetrics{
		"AAA": {"rs_avg": fptr(90.0)},
		"BBB": {"rs_avg": fptr(50.0)},
	})
	require.NoError(t, err)

	// Abort any insert for one symbol so the replacing transaction fails
	// partway through.
	_, err = repo.db.Exec(`
		CREATE TRIGGER abort_bad_symbol BEFORE INSERT ON daily_scores
		WHEN NEW.symbol = 'BAD' BEGIN
			SELECT RAISE(ABORT, 'injected write failure');
		END`)
	require.NoError(t, err)

	_, err = repo.Upsert("2026-03-02", map[string]RawMetrics{
		"AAA": {"rs_avg": fptr(10.0)},
		"BAD": {"rs_avg": fptr(20.0)},
	})
	require.Error(t, err)

	// The failed replace must roll back whole: the date's previous rows stay
	// visible, no partial rows appear.
	rows, err := repo.Latest("")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	got := rowsBySymbol(t, rows)
	require.NotContains(t, got, "BAD")
	require.Equal(t, 90.0, *got["AAA"].Values["rs_avg"])
	require.Equal(t, 50.0, *got["BBB"].Values["rs_avg"])
}

func TestRankDeltaUnknownMetric(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.RankDelta("sharpe", 1, 1, DirectionAny, 10)
	var unknownErr *UnknownMetricError
	require.ErrorAs(t, err, &unknownErr)
	require.Equal(t, "sharpe", unknownErr.Metric)
	require.Contains(t, err.Error(), "rs_avg")
}

func TestRankDeltaHonorsAllowlist(t *testing.T) {
	repo := newTestRepo(t, "rs_avg")

	_, err := repo.RankDelta("rs_1m", 1, 1, DirectionAny, 10)
	var unknownErr *UnknownMetricError
	require.ErrorAs(t, err, &unknownErr)
	require.Equal(t, []string{"rs_avg"}, unknownErr.Allowed)
}

func TestNewRepositoryRejectsUnknownAllowlistMetric(t *testing.T) {
	_, err := NewRepository(filepath.Join(t.TempDir(), "scores.db"), []string{"sharpe"})
	var unknownErr *UnknownMetricError
	require.True(t, errors.As(err, &unknownErr))
}
