package sources

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
)

func TestNewSource(t *testing.T) {
	cfg := DefaultConfig()
	src, err := NewSource(&cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &CSVSource{}, src)

	cfg.Type = constants.SourceInfluxDB
	_, err = NewSource(&cfg, nil)
	require.Error(t, err, "no bucket configured")

	cfg.InfluxDB.Bucket = "metrics"
	src, err = NewSource(&cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &InfluxDBSource{}, src)

	cfg.Type = constants.SourcePostgres
	src, err = NewSource(&cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &PostgresSource{}, src)

	cfg.Type = "kafka"
	_, err = NewSource(&cfg, nil)
	assert.Equal(t, errors.ErrorTypeConfiguration, errors.GetType(err))

	_, err = NewSource(nil, nil)
	assert.Error(t, err)
	assert.Len(t, SupportedTypes(), 3)
}

func TestBuildFluxQuery(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	query := buildFluxQuery("sensors", interfaces.SeriesQuery{
		Series: "power",
		Fields: []string{"load", "temp"},
		Start:  start,
		End:    start.Add(time.Hour),
		Limit:  48,
	})

	assert.True(t, strings.HasPrefix(query, `from(bucket: "sensors")`))
	assert.Contains(t, query, "range(start: 2024-01-01T00:00:00Z, stop: 2024-01-01T01:00:00Z)")
	assert.Contains(t, query, `r._measurement == "power"`)
	assert.Contains(t, query, `r._field == "load" or r._field == "temp"`)
	assert.Contains(t, query, "pivot(")
	assert.Contains(t, query, "tail(n: 48)")

	open := buildFluxQuery("sensors", interfaces.SeriesQuery{Series: `we"ird`})
	assert.Contains(t, open, "range(start: 0)")
	assert.Contains(t, open, `r._measurement == "we\"ird"`)
	assert.NotContains(t, open, "_field ==")
	assert.NotContains(t, open, "tail(")
}

func TestFieldColumns(t *testing.T) {
	columns := fieldColumns(map[string]interface{}{
		"_time":        time.Now(),
		"_measurement": "power",
		"result":       "_result",
		"table":        int64(0),
		"site":         "north",
		"temp":         1.5,
		"load":         int64(3),
	})
	assert.Equal(t, []string{"load", "temp"}, columns)
}

func TestToFloat(t *testing.T) {
	for _, v := range []interface{}{1.5, float32(1.5), int64(1), 1, uint64(1), true, "2.5"} {
		_, ok := toFloat(v)
		assert.True(t, ok, "%T", v)
	}
	_, ok := toFloat(nil)
	assert.False(t, ok)
	_, ok = toFloat("n/a")
	assert.False(t, ok)
}

func TestBuildSelect(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args := buildSelect("metrics.power", "time", []string{"load", "Temp"}, interfaces.SeriesQuery{
		Start: start,
		End:   start.Add(time.Hour),
		Limit: 10,
	})
	assert.Equal(t, `SELECT "time", "load", "Temp" FROM "metrics"."power" WHERE "time" >= $1 AND "time" < $2 ORDER BY "time" DESC LIMIT $3`, query)
	assert.Equal(t, []interface{}{start, start.Add(time.Hour), 10}, args)

	query, args = buildSelect("power", "ts", []string{"load"}, interfaces.SeriesQuery{})
	assert.Equal(t, `SELECT "ts", "load" FROM "power" ORDER BY "ts" DESC`, query)
	assert.Empty(t, args)
}

func TestPostgresConnString(t *testing.T) {
	cfg := &PostgresConfig{
		Host:           "db",
		Port:           5432,
		Database:       "series",
		Username:       "reader",
		Password:       "it's secret",
		SSLMode:        "disable",
		ConnectTimeout: 5 * time.Second,
	}
	assert.Equal(t, `host=db port=5432 user=reader password='it\'s secret' dbname=series sslmode=disable connect_timeout=5`, cfg.connString())

	cfg.DSN = "postgres://reader@db/series"
	assert.Equal(t, "postgres://reader@db/series", cfg.connString())
}

func TestNullableRow(t *testing.T) {
	row, ok := nullableRow([]sql.NullFloat64{{Float64: 1, Valid: true}, {Float64: 2, Valid: true}})
	assert.True(t, ok)
	assert.Equal(t, []float64{1, 2}, row)

	_, ok = nullableRow([]sql.NullFloat64{{Float64: 1, Valid: true}, {}})
	assert.False(t, ok)
}

func TestSourcesRequireConnect(t *testing.T) {
	ctx := context.Background()
	influx, err := NewInfluxDBSource(&InfluxDBConfig{URL: "http://localhost:8086", Bucket: "b"}, nil)
	require.NoError(t, err)
	_, err = influx.Read(ctx, interfaces.SeriesQuery{Series: "m"})
	assert.Error(t, err)
	assert.Error(t, influx.Ping(ctx))
	assert.NoError(t, influx.Close())

	pg, err := NewPostgresSource(&PostgresConfig{Host: "localhost"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "time", pg.config.TimeColumn)
	_, err = pg.Read(ctx, interfaces.SeriesQuery{Series: "t"})
	assert.Error(t, err)
	assert.NoError(t, pg.Close())

	_, err = NewPostgresSource(&PostgresConfig{}, nil)
	assert.Error(t, err)
	_, err = NewInfluxDBSource(&InfluxDBConfig{Bucket: "b"}, nil)
	assert.Error(t, err)
}

// Requires a PostgreSQL server at TSFORECAST_TEST_POSTGRES_DSN.
func TestPostgresSourceIntegration(t *testing.T) {
	dsn := os.Getenv("TSFORECAST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Integration test - requires TSFORECAST_TEST_POSTGRES_DSN")
	}
	ctx := context.Background()
	src, err := NewPostgresSource(&PostgresConfig{DSN: dsn, TimeColumn: "time"}, nil)
	require.NoError(t, err)
	require.NoError(t, src.Connect(ctx))
	defer src.Close()

	_, err = src.db.ExecContext(ctx, `CREATE TEMP TABLE tsforecast_load (time timestamptz, load double precision, site text)`)
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err = src.db.ExecContext(ctx, `INSERT INTO tsforecast_load VALUES ($1, $2, 'north')`,
			start.Add(time.Duration(i)*time.Hour), float64(i))
		require.NoError(t, err)
	}

	ts, err := src.Read(ctx, interfaces.SeriesQuery{Series: "tsforecast_load", Fields: []string{"load"}, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4}, ts.Column(0))
}
