package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Enumerations
const (
	RoleAdmin   UserRole = "admin"
	RoleManager UserRole = "manager"
	RoleStaff   UserRole = "staff"
	RoleSystem  UserRole = "system"

	OutletWarehouse    OutletType = "WAREHOUSE"
	OutletOfflineStore OutletType = "OFFLINE_STORE"
	OutletOnline       OutletType = "ONLINE"

	ChannelOfflineStore Channel = "OFFLINE_STORE"
	ChannelShopee       Channel = "SHOPEE"
	ChannelTikTok       Channel = "TIKTOK"
	ChannelReseller     Channel = "RESELLER"
	ChannelManual       Channel = "MANUAL"

	MovementIn          MovementType = "IN"
	MovementOut         MovementType = "OUT"
	MovementTransferIn  MovementType = "TRANSFER_IN"
	MovementTransferOut MovementType = "TRANSFER_OUT"
	MovementAdjustment  MovementType = "ADJUSTMENT"

	RefOrder         RefType = "ORDER"
	RefOrderReversal RefType = "ORDER_REVERSAL"
	RefCSVImport     RefType = "CSV_IMPORT"
	RefStockIn       RefType = "STOCK_IN"
	RefStockTransfer RefType = "STOCK_TRANSFER"
	RefAdjustment    RefType = "STOCK_ADJUSTMENT"
	RefOpname        RefType = "STOCK_OPNAME"

	OrderNew       OrderStatus = "NEW"
	OrderPaid      OrderStatus = "PAID"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderReturned  OrderStatus = "RETURNED"

	SourcePOS     OrderSource = "POS"
	SourceManual  OrderSource = "MANUAL"
	SourceCSV     OrderSource = "CSV"
	SourceWebhook OrderSource = "WEBHOOK"

	WebhookReceived  WebhookStatus = "RECEIVED"
	WebhookUnmapped  WebhookStatus = "UNMAPPED"
	WebhookError     WebhookStatus = "ERROR"
	WebhookIgnored   WebhookStatus = "IGNORED"
	WebhookProcessed WebhookStatus = "PROCESSED"

	BatchNeedsMapping BatchStatus = "NEEDS_MAPPING"
	BatchError        BatchStatus = "ERROR"
	BatchReady        BatchStatus = "READY"
	BatchImported     BatchStatus = "IMPORTED"

	RowPending  RowStatus = "PENDING"
	RowMapped   RowStatus = "MAPPED"
	RowUnmapped RowStatus = "UNMAPPED"
	RowShort    RowStatus = "INSUFFICIENT_STOCK"
	RowSkipped  RowStatus = "SKIPPED"
	RowImported RowStatus = "IMPORTED"
)

type UserRole string
type OutletType string
type Channel string
type MovementType string
type RefType string
type OrderStatus string
type OrderSource string
type WebhookStatus string
type BatchStatus string
type RowStatus string

// ParseChannel normalizes a channel name such as "shopee" or "TikTok".
func ParseChannel(s string) (Channel, bool) {
	c := Channel(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case ChannelOfflineStore, ChannelShopee, ChannelTikTok, ChannelReseller, ChannelManual:
		return c, true
	}
	return "", false
}

// External reports whether orders of the channel originate on a marketplace.
func (c Channel) External() bool {
	return c == ChannelShopee || c == ChannelTikTok
}

// Terminal reports whether no further processing can change the event.
func (s WebhookStatus) Terminal() bool {
	return s == WebhookProcessed || s == WebhookIgnored
}

// Retryable reports whether the event should be offered for re-processing.
func (s WebhookStatus) Retryable() bool {
	return s == WebhookReceived || s == WebhookUnmapped || s == WebhookError
}

// Closed reports whether the order already had its stock returned.
func (s OrderStatus) Closed() bool {
	return s == OrderCancelled || s == OrderReturned
}

// Actor identifies who performs a mutation. It is passed explicitly to
// every mutator.
type Actor struct {
	UserID string
	Role   UserRole
}

// SystemActor attributes work done by ingestion pipelines.
var SystemActor = Actor{UserID: "system", Role: RoleSystem}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

type Outlet struct {
	ID        string
	Name      string
	Type      OutletType
	Lifecycle Lifecycle
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Product struct {
	ID        string
	Name      string
	Lifecycle Lifecycle
}

// Variant is a sellable size of a product. ProductLifecycle mirrors the
// owning product so callers can reject sales of deactivated products.
type Variant struct {
	ID               string
	ProductID        string
	ProductName      string
	Size             string
	SKU              string
	Price            decimal.Decimal
	MinQty           int
	Lifecycle        Lifecycle
	ProductLifecycle Lifecycle
}

// Sellable reports whether both the variant and its product are active.
func (v Variant) Sellable() bool {
	return v.Lifecycle == LifecycleActive && v.ProductLifecycle == LifecycleActive
}

// StockKey addresses one Stock row.
type StockKey struct {
	OutletID  string
	VariantID string
}

func (k StockKey) Less(o StockKey) bool {
	if k.OutletID != o.OutletID {
		return k.OutletID < o.OutletID
	}
	return k.VariantID < o.VariantID
}

type Stock struct {
	OutletID  string
	VariantID string
	SKU       string
	Qty       int
	UpdatedAt time.Time
}

// StockMovement is an append-only ledger entry. Qty is the unsigned
// magnitude; QtyBefore/QtyAfter carry the sign for adjustments.
type StockMovement struct {
	ID        string
	Type      MovementType
	OutletID  string
	VariantID string
	Qty       int
	QtyBefore int
	QtyAfter  int
	Note      string
	RefType   RefType
	RefID     string
	ActorID   string
	CreatedAt time.Time
}

// SignedQty returns the change this movement applied to its Stock row.
func (m StockMovement) SignedQty() int {
	switch m.Type {
	case MovementIn, MovementTransferIn:
		return m.Qty
	case MovementOut, MovementTransferOut:
		return -m.Qty
	default:
		if m.QtyAfter < m.QtyBefore {
			return -m.Qty
		}
		return m.Qty
	}
}

type MovementFilter struct {
	OutletID  string
	VariantID string
	RefType   RefType
	RefID     string
	Limit     int
}

type Order struct {
	ID              string
	Channel         Channel
	Source          OrderSource
	ExternalOrderID string
	OutletID        string
	Status          OrderStatus
	TotalAmount     decimal.Decimal
	Note            string
	OrderedAt       time.Time
	CreatedBy       string
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type OrderItem struct {
	ID          string
	OrderID     string
	VariantID   string
	ExternalSKU string
	Qty         int
	Price       decimal.Decimal
	Subtotal    decimal.Decimal
}

// RecalculateTotal sets item subtotals and the order total from prices.
func (o *Order) RecalculateTotal() {
	total := decimal.Zero
	for i := range o.Items {
		o.Items[i].Subtotal = o.Items[i].Price.Mul(decimal.NewFromInt(int64(o.Items[i].Qty)))
		total = total.Add(o.Items[i].Subtotal)
	}
	o.TotalAmount = total
}

// QtyByVariant sums item quantities per variant.
func (o Order) QtyByVariant() map[string]int {
	out := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		out[it.VariantID] += it.Qty
	}
	return out
}

type OrderFilter struct {
	Channel Channel
	Status  OrderStatus
	Limit   int
}

type ChannelSkuMap struct {
	ID            string
	Channel       Channel
	ExternalSkuID string
	VariantID     string
	CreatedAt     time.Time
}

type WebhookEvent struct {
	ID              string
	Channel         Channel
	IdempotencyKey  string
	ExternalOrderID string
	Payload         []byte
	Status          WebhookStatus
	ErrorMessage    string
	Attempts        int
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
}

type WebhookEventFilter struct {
	Channel  Channel
	Statuses []WebhookStatus
	Limit    int
}

type CsvImportBatch struct {
	ID         string
	Channel    Channel
	OutletID   string
	FileName   string
	Status     BatchStatus
	Message    string
	TotalRows  int
	CreatedBy  string
	Rows       []CsvImportRow
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ImportedAt *time.Time
}

type CsvImportRow struct {
	ID              string
	BatchID         string
	RowNumber       int
	ExternalOrderID string
	ExternalSKU     string
	Qty             int
	Price           *decimal.Decimal
	OrderDate       *time.Time
	VariantID       string
	OrderID         string
	Status          RowStatus
	ErrorMessage    string
}

type StockIn struct {
	ID         string
	OutletID   string
	Supplier   string
	Note       string
	ReceivedAt time.Time
	CreatedBy  string
	Items      []StockInItem
	CreatedAt  time.Time
}

type StockInItem struct {
	VariantID string
	Qty       int
}

type StockTransfer struct {
	ID            string
	FromOutletID  string
	ToOutletID    string
	Note          string
	TransferredAt time.Time
	CreatedBy     string
	Items         []StockTransferItem
	CreatedAt     time.Time
}

type StockTransferItem struct {
	VariantID string
	Qty       int
}

type StockAdjustment struct {
	ID        string
	OutletID  string
	VariantID string
	DeltaQty  int
	Reason    string
	CreatedBy string
	CreatedAt time.Time
}

type StockOpname struct {
	ID        string
	OutletID  string
	Note      string
	CreatedBy string
	Items     []StockOpnameItem
	CreatedAt time.Time
}

type StockOpnameItem struct {
	VariantID  string
	SystemQty  int
	CountedQty int
	Diff       int
}

// LedgerDrift reports a Stock row that no longer equals the movement sum.
type LedgerDrift struct {
	OutletID    string
	VariantID   string
	StockQty    int
	MovementSum int
}
