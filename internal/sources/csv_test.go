package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
)

const energyCSV = `timestamp,load,temperature
2024-01-01T02:00:00Z,12.5,3.0
2024-01-01T00:00:00Z,10.0,1.0
2024-01-01T01:00:00Z,11.0,2.0
2024-01-01T03:00:00Z,oops,4.0
2024-01-01T04:00:00Z,14.0,5.0
`

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func connectedCSV(t *testing.T, cfg *CSVConfig) *CSVSource {
	t.Helper()
	src, err := NewCSVSource(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, src.Connect(context.Background()))
	return src
}

func TestCSVSourceReadsAndSorts(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "energy.csv", energyCSV)
	src := connectedCSV(t, &CSVConfig{Path: path})
	require.NoError(t, src.Ping(context.Background()))

	ts, err := src.Read(context.Background(), interfaces.SeriesQuery{})
	require.NoError(t, err)
	assert.Equal(t, "energy", ts.Name)
	assert.Equal(t, []string{"load", "temperature"}, ts.Columns)
	require.Equal(t, 4, ts.Len(), "the unparsable row is skipped")
	assert.Equal(t, []float64{10, 11, 12.5, 14}, ts.Column(0))
	assert.Equal(t, []float64{1, 2, 3, 5}, ts.Column(1))
}

func TestCSVSourceQueryOptions(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "energy.csv", energyCSV)
	src := connectedCSV(t, &CSVConfig{Path: dir})
	start := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)

	ts, err := src.Read(context.Background(), interfaces.SeriesQuery{
		Series: "energy",
		Fields: []string{"temperature"},
		Start:  start,
		End:    start.Add(4 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"temperature"}, ts.Columns)
	assert.Equal(t, []float64{2, 3, 4, 5}, ts.Column(0), "only requested columns must parse")

	ts, err = src.Read(context.Background(), interfaces.SeriesQuery{Series: "energy.csv", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{12.5, 14}, ts.Column(0), "limit keeps the latest rows")

	_, err = src.Read(context.Background(), interfaces.SeriesQuery{Series: "energy", Fields: []string{"wind"}})
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))

	_, err = src.Read(context.Background(), interfaces.SeriesQuery{Series: "solar"})
	assert.Equal(t, errors.ErrorTypeSource, errors.GetType(err))

	_, err = src.Read(context.Background(), interfaces.SeriesQuery{Series: "../energy"})
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))
}

func TestCSVSourceFormats(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "daily.csv", "day;sales\n2024-01-01;3\n2024-01-02;4\n2024-01-03;5\n")
	src := connectedCSV(t, &CSVConfig{Path: path, Delimiter: ";", TimestampColumn: "day"})

	ts, err := src.Read(context.Background(), interfaces.SeriesQuery{})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 5}, ts.Column(0))
	assert.Equal(t, 24*time.Hour, ts.Step())

	noTime := writeCSV(t, dir, "values.csv", "a,b\n1,2\n")
	src = connectedCSV(t, &CSVConfig{Path: noTime})
	_, err = src.Read(context.Background(), interfaces.SeriesQuery{})
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetType(err))

	empty := writeCSV(t, dir, "empty.csv", "time,a\nbad,1\n")
	src = connectedCSV(t, &CSVConfig{Path: empty})
	_, err = src.Read(context.Background(), interfaces.SeriesQuery{})
	assert.Equal(t, errors.ErrorTypeSource, errors.GetType(err))
}

func TestCSVSourceLifecycle(t *testing.T) {
	_, err := NewCSVSource(nil, nil)
	assert.Error(t, err)
	_, err = NewCSVSource(&CSVConfig{}, nil)
	assert.Error(t, err)
	_, err = NewCSVSource(&CSVConfig{Path: ".", Delimiter: "::"}, nil)
	assert.Error(t, err)

	src, err := NewCSVSource(&CSVConfig{Path: filepath.Join(t.TempDir(), "missing")}, nil)
	require.NoError(t, err)
	assert.Error(t, src.Connect(context.Background()))
	_, err = src.Read(context.Background(), interfaces.SeriesQuery{})
	assert.Error(t, err)
	assert.Error(t, src.Ping(context.Background()))
	assert.NoError(t, src.Close())
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2024-01-01T00:00:00Z", "2024-01-01T00:00:00.5+01:00", "2024-01-01 00:00:00", "2024-01-01"} {
		_, err := parseTime(s)
		assert.NoError(t, err, s)
	}
	_, err := parseTime("yesterday")
	assert.Error(t, err)
}
