// Package migrations embeds the schema scripts applied by `innbot migrate`.
package migrations

import _ "embed"

//go:embed 001_init.sql
var MySQL string

//go:embed clickhouse/001_check_log.sql
var ClickHouse string
