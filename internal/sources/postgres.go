package sources

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

// PostgresConfig holds configuration for reading series from PostgreSQL or
// TimescaleDB. A query's Series names the table, optionally schema-qualified.
type PostgresConfig struct {
	DSN             string        `json:"dsn,omitempty" mapstructure:"dsn" yaml:"dsn"`
	Host            string        `json:"host" mapstructure:"host" yaml:"host"`
	Port            int           `json:"port" mapstructure:"port" yaml:"port"`
	Database        string        `json:"database" mapstructure:"database" yaml:"database"`
	Username        string        `json:"username" mapstructure:"username" yaml:"username"`
	Password        string        `json:"password" mapstructure:"password" yaml:"password"`
	SSLMode         string        `json:"ssl_mode" mapstructure:"ssl_mode" yaml:"ssl_mode"`
	TimeColumn      string        `json:"time_column" mapstructure:"time_column" yaml:"time_column"`
	ConnectTimeout  time.Duration `json:"connect_timeout" mapstructure:"connect_timeout" yaml:"connect_timeout"`
	QueryTimeout    time.Duration `json:"query_timeout" mapstructure:"query_timeout" yaml:"query_timeout"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections" yaml:"max_connections"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// connString builds a lib/pq key/value connection string, preferring DSN
func (c *PostgresConfig) connString() string {
	if c.DSN != "" {
		return c.DSN
	}
	parts := []string{
		"host=" + quoteConnValue(c.Host),
		fmt.Sprintf("port=%d", c.Port),
	}
	if c.Username != "" {
		parts = append(parts, "user="+quoteConnValue(c.Username))
	}
	if c.Password != "" {
		parts = append(parts, "password="+quoteConnValue(c.Password))
	}
	if c.Database != "" {
		parts = append(parts, "dbname="+quoteConnValue(c.Database))
	}
	if c.SSLMode != "" {
		parts = append(parts, "sslmode="+quoteConnValue(c.SSLMode))
	}
	if c.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", int(c.ConnectTimeout/time.Second)))
	}
	return strings.Join(parts, " ")
}

func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// PostgresSource reads series from a table with a timestamp column and
// numeric value columns
type PostgresSource struct {
	config *PostgresConfig
	db     *sql.DB
	logger *logrus.Logger
	mu     sync.RWMutex
}

// NewPostgresSource creates a new PostgreSQL source
func NewPostgresSource(config *PostgresConfig, logger *logrus.Logger) (*PostgresSource, error) {
	if config == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "Postgres config cannot be nil")
	}
	if config.DSN == "" && config.Host == "" {
		return nil, errors.NewConfigurationError(errors.CodeMissingField, "Postgres DSN or host is required")
	}
	if config.TimeColumn == "" {
		config.TimeColumn = "time"
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &PostgresSource{config: config, logger: logger}, nil
}

// Connect opens the connection pool and pings the database
func (p *PostgresSource) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return nil
	}

	db, err := sql.Open("postgres", p.config.connString())
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeSource, errors.CodeConnectionFailed, "Failed to open database connection")
	}
	if p.config.MaxConnections > 0 {
		db.SetMaxOpenConns(p.config.MaxConnections)
	}
	if p.config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.config.MaxIdleConns)
	}
	if p.config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.config.ConnMaxLifetime)
	}

	if p.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.WrapError(err, errors.ErrorTypeSource, errors.CodeConnectionFailed, "Failed to ping database")
	}
	p.db = db

	p.logger.WithFields(logrus.Fields{
		"host":     p.config.Host,
		"port":     p.config.Port,
		"database": p.config.Database,
	}).Info("Connected to PostgreSQL")
	return nil
}

// Close closes the database connection
func (p *PostgresSource) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeSource, errors.CodeConnectionFailed, "Failed to close database connection")
	}
	p.logger.Info("PostgreSQL connection closed")
	return nil
}

// Ping tests the database connection
func (p *PostgresSource) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return notConnected("Postgres")
	}
	if err := p.db.PingContext(ctx); err != nil {
		return errors.WrapError(err, errors.ErrorTypeSource, errors.CodeConnectionFailed, "PostgreSQL ping failed")
	}
	return nil
}

// Read selects the rows of table q.Series. Without explicit fields every
// numeric column other than the time column is read.
func (p *PostgresSource) Read(ctx context.Context, q interfaces.SeriesQuery) (*models.TimeSeries, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return nil, notConnected("Postgres")
	}
	if q.Series == "" {
		return nil, errors.NewValidationError(errors.CodeMissingField, "Postgres queries need a table")
	}

	if p.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.QueryTimeout)
		defer cancel()
	}

	fields := q.Fields
	if len(fields) == 0 {
		var err error
		if fields, err = p.numericColumns(ctx, q.Series); err != nil {
			return nil, err
		}
	}

	query, args := buildSelect(q.Series, p.config.TimeColumn, fields, q)
	p.logger.WithFields(logrus.Fields{
		"query": query,
	}).Debug("Executing PostgreSQL query")

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSource, errors.CodeReadFailed, "Failed to query series")
	}
	defer rows.Close()

	var points []models.DataPoint
	for rows.Next() {
		var timestamp time.Time
		values := make([]sql.NullFloat64, len(fields))
		dest := make([]interface{}, 0, len(fields)+1)
		dest = append(dest, &timestamp)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeSource, errors.CodeReadFailed, "Failed to scan row")
		}

		row, ok := nullableRow(values)
		if !ok {
			p.logger.WithField("time", timestamp).Debug("Skipping row with NULL values")
			continue
		}
		points = append(points, models.DataPoint{Timestamp: timestamp, Values: row})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSource, errors.CodeReadFailed, "Error iterating rows")
	}

	ts, err := finish(q.Series, append([]string(nil), fields...), points, q)
	if err != nil {
		return nil, err
	}
	p.logger.WithFields(logrus.Fields{
		"table": q.Series,
		"rows":  ts.Len(),
	}).Debug("Read series from PostgreSQL")
	return ts, nil
}

func (p *PostgresSource) numericColumns(ctx context.Context, table string) ([]string, error) {
	schema, name := splitTable(table)
	schemaExpr := "current_schema()"
	args := []interface{}{name, p.config.TimeColumn}
	if schema != "" {
		schemaExpr = "$3"
		args = append(args, schema)
	}
	query := `SELECT column_name FROM information_schema.columns
		WHERE table_name = $1 AND column_name <> $2 AND table_schema = ` + schemaExpr + `
		AND data_type IN ('smallint', 'integer', 'bigint', 'real', 'double precision', 'numeric')
		ORDER BY ordinal_position`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSource, errors.CodeReadFailed, "Failed to inspect table columns")
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeSource, errors.CodeReadFailed, "Failed to scan column name")
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSource, errors.CodeReadFailed, "Error iterating columns")
	}
	if len(columns) == 0 {
		return nil, errors.NewSourceError(errors.CodeMissingField,
			fmt.Sprintf("table '%s' has no numeric columns", table))
	}
	return columns, nil
}

func splitTable(table string) (schema, name string) {
	if i := strings.Index(table, "."); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

func quoteTable(table string) string {
	schema, name := splitTable(table)
	if schema == "" {
		return pq.QuoteIdentifier(name)
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(name)
}

// buildSelect returns the newest rows first so LIMIT keeps the most recent
// observations; finish restores ascending order.
func buildSelect(table, timeColumn string, fields []string, q interfaces.SeriesQuery) (string, []interface{}) {
	cols := make([]string, 0, len(fields)+1)
	cols = append(cols, pq.QuoteIdentifier(timeColumn))
	for _, f := range fields {
		cols = append(cols, pq.QuoteIdentifier(f))
	}

	var where []string
	var args []interface{}
	if !q.Start.IsZero() {
		args = append(args, q.Start)
		where = append(where, fmt.Sprintf("%s >= $%d", pq.QuoteIdentifier(timeColumn), len(args)))
	}
	if !q.End.IsZero() {
		args = append(args, q.End)
		where = append(where, fmt.Sprintf("%s < $%d", pq.QuoteIdentifier(timeColumn), len(args)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(cols, ", "), quoteTable(table))
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY %s DESC", pq.QuoteIdentifier(timeColumn))
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func nullableRow(values []sql.NullFloat64) ([]float64, bool) {
	row := make([]float64, len(values))
	for i, v := range values {
		if !v.Valid {
			return nil, false
		}
		row[i] = v.Float64
	}
	return row, true
}
