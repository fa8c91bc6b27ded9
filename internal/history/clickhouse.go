package history

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds the configuration for the ClickHouse connection.
type ClickHouseConfig struct {
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// DefaultClickHouseConfig returns the default ClickHouse configuration.
func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		Hosts:           []string{"localhost:9000"},
		Database:        "responder",
		Username:        "default",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		DialTimeout:     10 * time.Second,
	}
}

// ClickHouseClient wraps the ClickHouse connection used for the durable
// action history table.
type ClickHouseClient struct {
	conn   driver.Conn
	config ClickHouseConfig
}

// NewClickHouseClient connects and verifies the connection.
func NewClickHouseClient(cfg ClickHouseConfig) (*ClickHouseClient, error) {
	opts := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionZSTD,
		},
		DialTimeout:     cfg.DialTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	if cfg.TLSEnabled {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	return &ClickHouseClient{conn: conn, config: cfg}, nil
}

// Migrate creates the action history table if it does not exist. The table
// carries no update or delete path, matching the append-only contract.
func (c *ClickHouseClient) Migrate(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS action_history (
    id          UUID,
    seq         UInt64,
    timestamp   DateTime64(3, 'UTC'),
    action_type LowCardinality(String),
    status      LowCardinality(String),
    detail      String,
    error       String,
    alert_type  LowCardinality(String),
    source_ip   String,
    target_ip   String,
    severity    LowCardinality(String),
    confidence  Float64,
    alert_json  String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(timestamp)
ORDER BY (timestamp, id)
TTL toDateTime(timestamp) + INTERVAL 1 YEAR
`
	if err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create action_history table: %w", err)
	}
	return nil
}

// InsertBatch writes a batch of entries.
func (c *ClickHouseClient) InsertBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO action_history")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range entries {
		alertJSON, err := json.Marshal(e.Alert)
		if err != nil {
			return fmt.Errorf("marshal alert for entry %s: %w", e.ID, err)
		}
		err = batch.Append(
			e.ID,
			e.Seq,
			e.Timestamp,
			string(e.ActionType),
			string(e.Status),
			e.Detail,
			e.Error,
			string(e.Alert.AlertType),
			e.Alert.SourceIP,
			e.Alert.TargetIP,
			string(e.Alert.Severity),
			e.Alert.Confidence,
			string(alertJSON),
		)
		if err != nil {
			return fmt.Errorf("append entry %s: %w", e.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Close releases the connection.
func (c *ClickHouseClient) Close() error {
	return c.conn.Close()
}
