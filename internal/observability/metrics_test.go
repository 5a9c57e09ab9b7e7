package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordDBQuery_ObservesDuration(t *testing.T) {
	RecordDBQuery("postgres", "candles_upsert", 0.042, nil)
	RecordDBQuery("postgres", "candles_upsert", 0.013, nil)

	n := testutil.CollectAndCount(DefaultMetrics.DBQueryDuration,
		"candlewatch_database_query_duration_seconds")
	require.GreaterOrEqual(t, n, 1, "duration series exists for the operation")

	errs := testutil.ToFloat64(DefaultMetrics.DBQueryErrors.WithLabelValues("postgres", "candles_upsert"))
	require.Zero(t, errs, "successful queries are not errors")
}

func TestRecordDBQuery_CountsErrorsPerOperation(t *testing.T) {
	RecordDBQuery("clickhouse", "archive_write", 0.1, errors.New("connection reset"))
	RecordDBQuery("clickhouse", "archive_write", 0.1, nil)
	RecordDBQuery("clickhouse", "archive_write", 0.2, errors.New("connection reset"))
	RecordDBQuery("clickhouse", "archive_range", 0.1, errors.New("connection reset"))

	writeErrs := testutil.ToFloat64(DefaultMetrics.DBQueryErrors.WithLabelValues("clickhouse", "archive_write"))
	require.Equal(t, 2.0, writeErrs)

	rangeErrs := testutil.ToFloat64(DefaultMetrics.DBQueryErrors.WithLabelValues("clickhouse", "archive_range"))
	require.Equal(t, 1.0, rangeErrs, "operations keep separate error series")
}
