package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quotra/quotra/feed"
)

func coinSource() *feed.Source {
	return &feed.Source{
		ID:         "coingecko",
		URL:        "https://example.com/coins",
		Format:     feed.FormatArray,
		NaturalKey: "id",
		Fields: []feed.FieldRule{
			{Name: "id", Path: "id", Type: feed.TypeString, Required: true},
			{Name: "symbol", Path: "symbol", Type: feed.TypeString},
			{Name: "price", Path: "current_price", Type: feed.TypeNumber},
		},
		CompareFields: []string{"symbol", "price"},
	}
}

func newTestNormalizer() *Normalizer {
	return NewNormalizer(zap.NewNop().Sugar())
}

func TestNormalizeArrayResponse(t *testing.T) {
	body := []byte(`[
		{"id": "bitcoin", "symbol": "btc", "current_price": 67000.5},
		{"id": "ethereum", "symbol": "eth", "current_price": 3200.25}
	]`)

	records, skipped, err := newTestNormalizer().Normalize(coinSource(), body)
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	require.Len(t, records, 2)

	assert.Equal(t, "coingecko", records[0].SourceID)
	assert.Equal(t, "bitcoin", records[0].NaturalKey)
	assert.Equal(t, 0, records[0].ItemIndex)
	assert.Equal(t, "btc", records[0].Fields["symbol"])
	assert.Equal(t, float64(67000.5), records[0].Fields["price"])

	assert.Equal(t, "ethereum", records[1].NaturalKey)
	assert.Equal(t, 1, records[1].ItemIndex)
}

func TestNormalizeObjectResponse(t *testing.T) {
	src := coinSource()
	src.Format = feed.FormatObject

	body := []byte(`{"id": "bitcoin", "symbol": "btc", "current_price": 67000.5}`)

	records, skipped, err := newTestNormalizer().Normalize(src, body)
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	require.Len(t, records, 1)
	assert.Equal(t, "bitcoin", records[0].NaturalKey)
}

func TestNormalizeWrappedResponse(t *testing.T) {
	src := coinSource()
	src.Format = feed.FormatWrapped
	src.CollectionPath = "result.coins"

	body := []byte(`{"result": {"coins": [
		{"id": "bitcoin", "symbol": "btc", "current_price": 67000.5}
	]}}`)

	records, skipped, err := newTestNormalizer().Normalize(src, body)
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	require.Len(t, records, 1)
	assert.Equal(t, "bitcoin", records[0].NaturalKey)
}

func TestNormalizeWrappedDefaultsToDataKey(t *testing.T) {
	src := coinSource()
	src.Format = feed.FormatWrapped

	for _, key := range []string{"data", "Data"} {
		body := []byte(`{"` + key + `": [{"id": "bitcoin", "symbol": "btc", "current_price": 1}]}`)
		records, _, err := newTestNormalizer().Normalize(src, body)
		require.NoError(t, err, "key %q", key)
		require.Len(t, records, 1)
	}
}

func TestNormalizeWrappedMissingCollectionFails(t *testing.T) {
	src := coinSource()
	src.Format = feed.FormatWrapped
	src.CollectionPath = "result.coins"

	_, _, err := newTestNormalizer().Normalize(src, []byte(`{"result": {}}`))
	assert.Error(t, err)
}

func TestNormalizeMalformedBodyFails(t *testing.T) {
	_, _, err := newTestNormalizer().Normalize(coinSource(), []byte(`not json at all`))
	assert.Error(t, err)
}

func TestNormalizeSkipsItemMissingRequiredField(t *testing.T) {
	body := []byte(`[
		{"id": "bitcoin", "symbol": "btc", "current_price": 67000.5},
		{"symbol": "mystery", "current_price": 1.0},
		{"id": "ethereum", "symbol": "eth", "current_price": 3200.25}
	]`)

	records, skipped, err := newTestNormalizer().Normalize(coinSource(), body)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, records, 2)
	assert.Equal(t, "bitcoin", records[0].NaturalKey)
	assert.Equal(t, "ethereum", records[1].NaturalKey)
	// Index reflects position in the raw response, not the surviving batch
	assert.Equal(t, 2, records[1].ItemIndex)
}

func TestNormalizeSkipsNonObjectItems(t *testing.T) {
	body := []byte(`[
		{"id": "bitcoin", "symbol": "btc", "current_price": 1},
		"rogue string",
		42
	]`)

	records, skipped, err := newTestNormalizer().Normalize(coinSource(), body)
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	assert.Len(t, records, 1)
}

func TestNormalizeDropsUndeclaredFields(t *testing.T) {
	body := []byte(`[
		{"id": "bitcoin", "symbol": "btc", "current_price": 1,
		 "last_updated": "2026-01-01T00:00:00Z", "market_cap_rank": 1}
	]`)

	records, _, err := newTestNormalizer().Normalize(coinSource(), body)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.NotContains(t, records[0].Fields, "last_updated")
	assert.NotContains(t, records[0].Fields, "market_cap_rank")
	assert.Len(t, records[0].Fields, 3)
}

func TestNormalizeOmitsMissingOptionalField(t *testing.T) {
	body := []byte(`[{"id": "bitcoin", "current_price": 1}]`)

	records, skipped, err := newTestNormalizer().Normalize(coinSource(), body)
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	require.Len(t, records, 1)
	assert.NotContains(t, records[0].Fields, "symbol")
}

func TestNormalizeCoercesStringPriceToNumber(t *testing.T) {
	// Binance quotes prices as strings
	body := []byte(`[{"id": "BTCUSDT", "symbol": "btc", "current_price": "67000.50000000"}]`)

	records, _, err := newTestNormalizer().Normalize(coinSource(), body)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, float64(67000.5), records[0].Fields["price"])
}

func TestNormalizeNumericNaturalKeyIsStable(t *testing.T) {
	src := &feed.Source{
		ID:         "exchange",
		URL:        "https://example.com",
		Format:     feed.FormatArray,
		NaturalKey: "pair_id",
		Fields: []feed.FieldRule{
			{Name: "pair_id", Path: "pair_id", Type: feed.TypeNumber, Required: true},
		},
		CompareFields: []string{"pair_id"},
	}
	body := []byte(`[{"pair_id": 1027}]`)

	records, _, err := newTestNormalizer().Normalize(src, body)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1027", records[0].NaturalKey)
}

func TestNormalizeEmptyArrayYieldsNoRecords(t *testing.T) {
	records, skipped, err := newTestNormalizer().Normalize(coinSource(), []byte(`[]`))
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	assert.Empty(t, records)
}
