package clickhouse

import "fmt"

// TickSchema returns the DDL for the raw tick archive of database db.
// Candles are aggregated at query time from this single table.
func TickSchema(db string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.otc_ticks (
    ts      DateTime64(3, 'UTC'),
    symbol  LowCardinality(String),
    price   Float64,
    seq     UInt64,
    source  LowCardinality(String)
) ENGINE = ReplacingMergeTree
PARTITION BY toYYYYMMDD(ts)
ORDER BY (symbol, ts, seq)
TTL toDateTime(ts) + INTERVAL 90 DAY`, db),
	}
}

// TickTable is the fully qualified raw tick table name.
func TickTable(db string) string {
	return db + ".otc_ticks"
}
