package export

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTablesListsEveryTable(t *testing.T) {
	assert.Equal(t, []string{
		"products", "sellers",
		"price_history", "sales_history", "rating_history",
		"crawl_logs", "latest_snapshot",
	}, Tables())
}

func TestTableByName(t *testing.T) {
	tab, ok := tableByName("price_history")
	require.True(t, ok)
	assert.Equal(t, historyHeader, tab.header)

	_, ok = tableByName("orders")
	assert.False(t, ok)
}

func TestExportRejectsUnknownTable(t *testing.T) {
	e := New(nil, t.TempDir(), zerolog.Nop())
	_, err := e.Export("orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown table "orders"`)
	assert.Contains(t, err.Error(), "price_history", "the error names the valid tables")
}

func TestFormatValues(t *testing.T) {
	assert.Equal(t, "19990000", formatInt(19990000))
	assert.Equal(t, "4.7", formatFloat(4.7))
	assert.Equal(t, "100", formatFloat(100))

	at := time.Date(2026, 3, 1, 11, 30, 0, 0, time.FixedZone("ICT", 7*3600))
	assert.Equal(t, "2026-03-01T04:30:00Z", formatTime(at), "timestamps are exported in UTC")

	assert.Equal(t, "", formatNullInt(sql.NullInt64{}))
	assert.Equal(t, "42", formatNullInt(sql.NullInt64{Int64: 42, Valid: true}))
	assert.Equal(t, "", formatNullFloat(sql.NullFloat64{}))
	assert.Equal(t, "0.5", formatNullFloat(sql.NullFloat64{Float64: 0.5, Valid: true}))
}
