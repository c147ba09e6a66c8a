package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadwatch/internal/domain"
)

var upsertPattern = `(?s)INSERT INTO gap_observations.+` +
	regexp.QuoteMeta(`ON CONFLICT (instrument_id, obs_date, time_slot) DO UPDATE SET`)

func newMockStore(t *testing.T) (*GapStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewGapStore(mock), mock
}

func testObservation(gap1, gap2 float64) domain.GapObservation {
	return domain.GapObservation{
		InstrumentID: 7,
		Date:         time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		TimeSlot:     "09:30",
		Gap1:         domain.Float(gap1),
		Gap2:         domain.Float(gap2),
		Price1:       domain.Float(100),
		Price2:       domain.Float(100 + gap1),
		Price3:       domain.Float(100 + gap1 + gap2),
		ObservedAt:   time.Date(2024, 3, 4, 9, 30, 2, 0, time.UTC),
	}
}

func TestGapStore_UpsertSameKeyTwice(t *testing.T) {
	store, mock := newMockStore(t)
	first := testObservation(2, -1)
	second := testObservation(3, -2)
	second.ObservedAt = first.ObservedAt.Add(5 * time.Minute)

	mock.ExpectExec(upsertPattern).WithArgs(gapArgs(first)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(upsertPattern).WithArgs(
		int64(7), first.Date, "09:30",
		domain.Float(3), domain.Float(-2),
		domain.Float(100), domain.Float(103), domain.Float(101),
		second.ObservedAt,
	).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, first))
	require.NoError(t, store.Upsert(ctx, second))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGapStore_UpsertOverwritesEveryValueColumn(t *testing.T) {
	for _, col := range []string{"gap_1", "gap_2", "price_1", "price_2", "price_3", "observed_at"} {
		assert.Contains(t, gapUpsertQuery, col+" = EXCLUDED."+col)
	}
}

func TestGapStore_UpsertError(t *testing.T) {
	store, mock := newMockStore(t)
	obs := testObservation(2, -1)
	dbErr := errors.New("connection reset")
	mock.ExpectExec(upsertPattern).WithArgs(gapArgs(obs)...).WillReturnError(dbErr)

	err := store.Upsert(context.Background(), obs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dbErr))
	assert.Contains(t, err.Error(), "upsert gap 7 2024-03-04 09:30")
}

// scriptedBatch answers each queued exec in order with the matching error.
type scriptedBatch struct {
	errs   []error
	execs  int
	closed bool
}

func (b *scriptedBatch) Exec() (pgconn.CommandTag, error) {
	i := b.execs
	b.execs++
	if i < len(b.errs) && b.errs[i] != nil {
		return pgconn.CommandTag{}, b.errs[i]
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (b *scriptedBatch) Query() (pgx.Rows, error) {
	return nil, errors.New("not used")
}

func (b *scriptedBatch) QueryRow() pgx.Row {
	return nil
}

func (b *scriptedBatch) Close() error {
	b.closed = true
	return nil
}

type batchConn struct {
	Querier
	results *scriptedBatch
	sent    *pgx.Batch
}

func (c *batchConn) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	c.sent = b
	return c.results
}

func TestGapStore_UpsertBatchReturnsFailingItem(t *testing.T) {
	dbErr := errors.New("value out of range")
	conn := &batchConn{results: &scriptedBatch{errs: []error{nil, dbErr}}}
	store := NewGapStore(conn)

	obs := []domain.GapObservation{testObservation(1, 1), testObservation(2, 2), testObservation(3, 3)}
	obs[1].TimeSlot = "09:35"
	obs[2].TimeSlot = "09:40"

	err := store.UpsertBatch(context.Background(), obs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dbErr))
	assert.Contains(t, err.Error(), "batch item 1")

	require.NotNil(t, conn.sent)
	require.Len(t, conn.sent.QueuedQueries, 3)
	assert.Equal(t, gapUpsertQuery, conn.sent.QueuedQueries[1].SQL)
	assert.Equal(t, gapArgs(obs[1]), conn.sent.QueuedQueries[1].Arguments)
	assert.Equal(t, 2, conn.results.execs)
	assert.True(t, conn.results.closed)
}

func TestGapStore_UpsertBatchEmpty(t *testing.T) {
	conn := &batchConn{results: &scriptedBatch{}}
	require.NoError(t, NewGapStore(conn).UpsertBatch(context.Background(), nil))
	assert.Nil(t, conn.sent)
}

func TestGapStore_AggregateBaselines(t *testing.T) {
	store, mock := newMockStore(t)
	from := time.Date(2024, 2, 13, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	last := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"instrument_id", "time_slot", "avg", "avg", "max", "count"}).
		AddRow(int64(7), "09:30", domain.Float(1.5), domain.Float(-0.5), last, int64(12)).
		AddRow(int64(7), "09:35", domain.Float(2.0), nil, last, int64(3))
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(DISTINCT obs_date)")).WithArgs(from, to).WillReturnRows(rows)

	got, err := store.AggregateBaselines(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(7), got[0].InstrumentID)
	assert.Equal(t, "09:30", got[0].TimeSlot)
	require.NotNil(t, got[0].Gap1)
	require.NotNil(t, got[0].Gap2)
	assert.InDelta(t, 1.5, *got[0].Gap1, 1e-9)
	assert.InDelta(t, -0.5, *got[0].Gap2, 1e-9)
	assert.Equal(t, last, got[0].BaselineDate)
	assert.Equal(t, 12, got[0].SampleDays)

	require.NotNil(t, got[1].Gap1)
	assert.Nil(t, got[1].Gap2)
	assert.Equal(t, 3, got[1].SampleDays)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGapStore_AggregateBaselinesQueryError(t *testing.T) {
	store, mock := newMockStore(t)
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM gap_observations").WithArgs(day, day).WillReturnError(errors.New("timeout"))

	_, err := store.AggregateBaselines(context.Background(), day, day)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggregate baselines")
}

func TestGapStore_DeleteBefore(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM gap_observations").WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 42))

	n, err := store.DeleteBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
