package service

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/events"
)

var shopeeMapping = ColumnMapping{OrderID: "No. Pesanan", SKU: "SKU", Qty: "Jumlah", Date: "Waktu Pesanan", Price: "Harga"}

const shopeeExport = "No. Pesanan,SKU,Jumlah,Waktu Pesanan,Harga\n" +
	"SP-A,SHP-KPH-M,2,2024-05-01 10:00,85.000\n" +
	"SP-A,SHP-KFL-L,1,2024-05-01 10:00,\n" +
	",,,,\n" +
	"SP-B,SHP-KPH-M,1,2024-05-02,\n"

func importInput(text string) ImportInput {
	return ImportInput{Channel: domain.ChannelShopee, FileName: "export.csv", CsvText: text, Mapping: shopeeMapping}
}

func TestImportPreview(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, f.warehouse.ID, f.tee.ID, 2)
	f.mapSku(t, domain.ChannelShopee, "SHP-KPH-M", f.tee.ID)

	p, err := f.imports.Preview(context.Background(), importInput(shopeeExport))
	require.NoError(t, err)
	assert.Equal(t, 3, p.TotalRows)
	assert.Equal(t, 2, p.Orders)
	assert.Equal(t, []string{"SHP-KFL-L"}, p.MissingSkus)
	require.Len(t, p.Sample, 3)
	assert.Equal(t, 5, p.Sample[2].RowNumber)
	assert.Equal(t, domain.RowUnmapped, p.Sample[1].Status)

	f.mapSku(t, domain.ChannelShopee, "SHP-KFL-L", f.shirt.ID)
	p, err = f.imports.Preview(context.Background(), importInput(shopeeExport))
	require.NoError(t, err)
	assert.Empty(t, p.MissingSkus)
	assert.ElementsMatch(t, []domain.Shortage{
		{OutletID: f.warehouse.ID, VariantID: f.shirt.ID, Need: 1, Have: 0},
		{OutletID: f.warehouse.ID, VariantID: f.tee.ID, Need: 3, Have: 2},
	}, p.Insufficient)

	batches, err := f.imports.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.Equal(t, 2, f.qty(t, f.warehouse.ID, f.tee.ID))
}

func TestImportSubmitReadyImportsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stockIn(t, f.warehouse.ID, f.tee.ID, 5)
	f.stockIn(t, f.warehouse.ID, f.shirt.ID, 5)
	f.mapSku(t, domain.ChannelShopee, "SHP-KPH-M", f.tee.ID)
	f.mapSku(t, domain.ChannelShopee, "SHP-KFL-L", f.shirt.ID)

	_, err := f.imports.Submit(ctx, staff, importInput(shopeeExport))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	b, err := f.imports.Submit(ctx, admin, importInput(shopeeExport))
	require.NoError(t, err)
	assert.Equal(t, domain.BatchImported, b.Status)
	assert.Equal(t, "imported 2 orders, skipped 0", b.Message)
	require.NotNil(t, b.ImportedAt)
	for _, r := range b.Rows {
		assert.Equal(t, domain.RowImported, r.Status)
		assert.NotEmpty(t, r.OrderID)
	}
	assert.Equal(t, 2, f.qty(t, f.warehouse.ID, f.tee.ID))
	assert.Equal(t, 4, f.qty(t, f.warehouse.ID, f.shirt.ID))

	orders, err := f.orders.List(ctx, domain.OrderFilter{Channel: domain.ChannelShopee})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, domain.SourceCSV, o.Source)
		if o.ExternalOrderID == "SP-A" {
			assert.True(t, decimal.NewFromInt(170000+189000).Equal(o.TotalAmount), o.TotalAmount.String())
			assert.Equal(t, 2024, o.OrderedAt.Year())
		}
	}

	again, err := f.imports.Finalize(ctx, admin, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchImported, again.Status)
	assert.Equal(t, 2, f.qty(t, f.warehouse.ID, f.tee.ID))
	assert.Len(t, f.pub.kinds(events.KindBatchImported), 1)
	f.requireLedgerConsistent(t)
}

func TestImportNeedsMappingThenFinalize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stockIn(t, f.warehouse.ID, f.tee.ID, 5)
	f.stockIn(t, f.warehouse.ID, f.shirt.ID, 5)
	f.mapSku(t, domain.ChannelShopee, "SHP-KPH-M", f.tee.ID)

	b, err := f.imports.Submit(ctx, admin, importInput(shopeeExport))
	require.NoError(t, err)
	assert.Equal(t, domain.BatchNeedsMapping, b.Status)
	assert.Contains(t, b.Message, "SHP-KFL-L")
	assert.Equal(t, 5, f.qty(t, f.warehouse.ID, f.tee.ID))
	assert.Len(t, f.pub.kinds(events.KindBatchBlocked), 1)

	stored, err := f.imports.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, stored.Rows, 3)
	assert.Equal(t, domain.RowUnmapped, stored.Rows[1].Status)

	f.mapSku(t, domain.ChannelShopee, "SHP-KFL-L", f.shirt.ID)
	done, err := f.imports.Finalize(ctx, admin, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchImported, done.Status)
	assert.Equal(t, 2, f.qty(t, f.warehouse.ID, f.tee.ID))
	assert.Equal(t, 4, f.qty(t, f.warehouse.ID, f.shirt.ID))
}

func TestImportShortageBlocksWholeBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stockIn(t, f.warehouse.ID, f.tee.ID, 2)
	f.stockIn(t, f.warehouse.ID, f.shirt.ID, 5)
	f.mapSku(t, domain.ChannelShopee, "SHP-KPH-M", f.tee.ID)
	f.mapSku(t, domain.ChannelShopee, "SHP-KFL-L", f.shirt.ID)

	b, err := f.imports.Submit(ctx, admin, importInput(shopeeExport))
	require.NoError(t, err)
	assert.Equal(t, domain.BatchError, b.Status)
	assert.Contains(t, b.Message, "insufficient stock")
	assert.Equal(t, 2, f.qty(t, f.warehouse.ID, f.tee.ID))
	assert.Equal(t, 5, f.qty(t, f.warehouse.ID, f.shirt.ID))

	stored, err := f.imports.Get(ctx, b.ID)
	require.NoError(t, err)
	statuses := map[domain.RowStatus]int{}
	for _, r := range stored.Rows {
		statuses[r.Status]++
	}
	assert.Equal(t, map[domain.RowStatus]int{domain.RowShort: 2, domain.RowMapped: 1}, statuses)

	orders, err := f.orders.List(ctx, domain.OrderFilter{Channel: domain.ChannelShopee})
	require.NoError(t, err)
	assert.Empty(t, orders)

	f.stockIn(t, f.warehouse.ID, f.tee.ID, 1)
	done, err := f.imports.Finalize(ctx, admin, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchImported, done.Status)
	assert.Equal(t, 0, f.qty(t, f.warehouse.ID, f.tee.ID))
	f.requireLedgerConsistent(t)
}

func TestImportSkipsOrdersRecordedElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stockIn(t, f.warehouse.ID, f.tee.ID, 10)
	f.stockIn(t, f.warehouse.ID, f.shirt.ID, 10)
	f.mapSku(t, domain.ChannelShopee, "SHP-KPH-M", f.tee.ID)
	f.mapSku(t, domain.ChannelShopee, "SHP-KFL-L", f.shirt.ID)

	_, err := f.hooks.Receive(ctx, domain.ChannelShopee, shopeeBody("SP-A", "READY_TO_SHIP", "SHP-KPH-M", 2))
	require.NoError(t, err)
	assert.Equal(t, 8, f.qty(t, f.warehouse.ID, f.tee.ID))

	b, err := f.imports.Submit(ctx, admin, importInput(shopeeExport))
	require.NoError(t, err)
	assert.Equal(t, domain.BatchImported, b.Status)
	assert.Equal(t, "imported 1 orders, skipped 1", b.Message)
	assert.Equal(t, domain.RowSkipped, b.Rows[0].Status)
	assert.Equal(t, 7, f.qty(t, f.warehouse.ID, f.tee.ID))
	assert.Equal(t, 10, f.qty(t, f.warehouse.ID, f.shirt.ID))
}

func TestImportParseErrorsReportRowNumbers(t *testing.T) {
	f := newFixture(t)
	text := "No. Pesanan,SKU,Jumlah\n" +
		"SP-A,SHP-KPH-M,dua\n" +
		",SHP-KPH-M,1\n" +
		"SP-C,SHP-KPH-M,0\n"
	in := importInput(text)
	in.Mapping = ColumnMapping{OrderID: "No. Pesanan", SKU: "SKU", Qty: "Jumlah"}

	_, err := f.imports.Preview(context.Background(), in)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "row 2")
	assert.Contains(t, verr.Message, "row 3")
	assert.Contains(t, verr.Message, "row 4")

	in.Mapping.Qty = "Qty"
	_, err = f.imports.Preview(context.Background(), in)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "mapping.qty", verr.Field)
}

func TestImportSemicolonCSVWithBOM(t *testing.T) {
	records, err := readCSV("\ufefforder;sku;qty\nA-1;X;2\n")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"order", "sku", "qty"}, {"A-1", "X", "2"}}, records)
}

func TestImportXLSX(t *testing.T) {
	f := newFixture(t)
	f.stockIn(t, f.warehouse.ID, f.tee.ID, 5)
	f.mapSku(t, domain.ChannelTikTok, "TT-KPH-M", f.tee.ID)

	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	require.NoError(t, book.SetSheetRow(sheet, "A1", &[]any{"Order ID", "Seller SKU", "Quantity"}))
	require.NoError(t, book.SetSheetRow(sheet, "A2", &[]any{"TT-1", "TT-KPH-M", 2}))
	require.NoError(t, book.SetSheetRow(sheet, "A3", &[]any{"TT-2", "TT-KPH-M", 1}))
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)

	b, err := f.imports.Submit(context.Background(), admin, ImportInput{
		Channel:    domain.ChannelTikTok,
		FileName:   "orders.xlsx",
		XlsxBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Mapping:    ColumnMapping{OrderID: "order id", SKU: "seller sku", Qty: "quantity"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchImported, b.Status)
	assert.Equal(t, 2, b.TotalRows)
	assert.Equal(t, 2, f.qty(t, f.warehouse.ID, f.tee.ID))
}

func TestParsePrice(t *testing.T) {
	tests := map[string]string{
		"189000":     "189000",
		"189.000":    "189000",
		"Rp 189.000": "189000",
		"1.250.000":  "1250000",
		"189,000.50": "189000.5",
		"189.000,50": "189000.5",
		"89.5":       "89.5",
	}
	for in, want := range tests {
		got, err := parsePrice(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.String(), in)
	}
	_, err := parsePrice("gratis")
	assert.Error(t, err)
	_, err = parsePrice("-5")
	assert.Error(t, err)
}
