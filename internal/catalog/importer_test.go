package catalog

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"orderdesk/internal"
)

func mkXLSX(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}
	buf := bytes.NewBuffer(nil)
	_, err := f.WriteTo(buf)
	require.NoError(t, err)
	return buf
}

type memoryStore struct {
	products []internal.CatalogProduct
	metadata map[string]string
}

func (m *memoryStore) UpsertProducts(_ context.Context, products []internal.CatalogProduct) error {
	m.products = append(m.products, products...)
	return nil
}

func (m *memoryStore) SetMetadata(_ context.Context, key, value string) error {
	if m.metadata == nil {
		m.metadata = map[string]string{}
	}
	m.metadata[key] = value
	return nil
}

func TestImportXLSX(t *testing.T) {
	buf := mkXLSX(t, [][]any{
		{"Catalog export"},
		{"Product Code", "Product Name", "Description", "Units per packet", "Packets per carton", "Units per carton", "Price", "Active"},
		{"8x80", "Bolt 8x80", "zinc", 10, 10, 100, "12.50", "yes"},
		{"8x100", "Bolt 8x100", "", 10, 5, "", 14, ""},
		{"BAD-1", "Broken pack", "", 10, 5, 60, 3, ""},
		{"", "No code", "", "", "", 10, 1, ""},
		{},
		{"OLD", "Old bolt", "", "", "", 20, "2", "no"},
	})

	store := &memoryStore{}
	report, err := ImportXLSX(context.Background(), store, buf, "t1")
	require.NoError(t, err)

	assert.Equal(t, 3, report.Imported)
	require.Len(t, report.Rejected, 2)
	assert.Equal(t, 5, report.Rejected[0].Row)
	assert.Contains(t, report.Rejected[0].Err, "BAD-1")
	assert.Equal(t, 6, report.Rejected[1].Row)

	require.Len(t, store.products, 3)
	first := store.products[0]
	assert.Equal(t, "t1", first.TenantID)
	assert.Equal(t, 100, first.UnitsPerCarton)
	assert.Equal(t, "12.5", first.Price.String())
	assert.True(t, first.IsActive)

	derived := store.products[1]
	assert.Equal(t, 50, derived.UnitsPerCarton)
	require.NotNil(t, derived.PacketsPerCarton)
	assert.Equal(t, 5, *derived.PacketsPerCarton)

	assert.False(t, store.products[2].IsActive)
	assert.Nil(t, store.products[2].UnitsPerPacket)
}

func TestImportXLSXWithoutHeader(t *testing.T) {
	buf := mkXLSX(t, [][]any{{"a", "b"}, {"c", "d"}})
	_, err := ImportXLSX(context.Background(), &memoryStore{}, buf, "t1")
	assert.Error(t, err)
}

type fakeFeed struct {
	products []internal.CatalogProduct
	err      error
}

func (f fakeFeed) Products(context.Context, string) ([]internal.CatalogProduct, error) {
	return f.products, f.err
}

func TestSyncSkipsInvalidPackaging(t *testing.T) {
	per, packets := 10, 5
	store := &memoryStore{}
	s := &SyncService{store: store, logger: zap.NewNop(), feed: fakeFeed{products: []internal.CatalogProduct{
		product("t1", "", "8x80", "Bolt", "", true),
		{TenantID: "t1", Code: "bad", Name: "Bad", UnitsPerCarton: 60, UnitsPerPacket: &per, PacketsPerCarton: &packets},
	}}}

	report, err := s.Sync(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, SyncReport{Fetched: 2, Upserted: 1, Rejected: 1}, report)
	require.Len(t, store.products, 1)
	assert.Contains(t, store.metadata, SyncMetadataKey("t1"))

	failing := &SyncService{store: store, logger: zap.NewNop(), feed: fakeFeed{err: errors.New("down")}}
	_, err = failing.Sync(context.Background(), "t1")
	assert.Error(t, err)
}
