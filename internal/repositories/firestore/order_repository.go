package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/y3dhub/api/internal/domain"
	pfirestore "github.com/y3dhub/api/internal/platform/firestore"
)

const ordersCollection = "orders"

// OrderRepository reads ingested marketplace orders from Firestore.
type OrderRepository struct {
	base *pfirestore.BaseRepository[domain.Order]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}

	encoder := func(ctx context.Context, value domain.Order) (any, error) {
		return encodeOrderDocument(value), nil
	}
	decoder := func(ctx context.Context, snap *firestore.DocumentSnapshot) (domain.Order, error) {
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Order{}, err
		}
		doc.ID = snap.Ref.ID
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = snap.CreateTime
		}
		if doc.UpdatedAt.IsZero() {
			doc.UpdatedAt = snap.UpdateTime
		}
		return decodeOrderDocument(doc), nil
	}

	base := pfirestore.NewBaseRepository[domain.Order](provider, ordersCollection, encoder, decoder)
	return &OrderRepository{base: base}, nil
}

// FindByID loads an order with its items.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data, nil
}

// FindByOrderNumber resolves a marketplace order number to the order.
func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", orderNumber).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.lookup", status.Error(codes.NotFound, "order not found"))
	}
	return docs[0].Data, nil
}

func encodeOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ID:            item.ID,
			ProductSKU:    strings.TrimSpace(item.ProductSKU),
			ProductName:   item.ProductName,
			Quantity:      item.Quantity,
			PrintSettings: item.PrintSettings,
		})
	}

	return orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		Marketplace:   string(order.Marketplace),
		CustomerNotes: order.CustomerNotes,
		ShipByDate:    cloneTime(order.ShipByDate),
		Status:        string(order.Status),
		Items:         items,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
}

func decodeOrderDocument(doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ID:            item.ID,
			ProductSKU:    item.ProductSKU,
			ProductName:   item.ProductName,
			Quantity:      item.Quantity,
			PrintSettings: item.PrintSettings,
		})
	}

	return domain.Order{
		ID:            doc.ID,
		OrderNumber:   doc.OrderNumber,
		Marketplace:   domain.Marketplace(doc.Marketplace),
		CustomerNotes: doc.CustomerNotes,
		ShipByDate:    cloneTime(doc.ShipByDate),
		Status:        domain.OrderStatus(doc.Status),
		Items:         items,
		CreatedAt:     doc.CreatedAt.UTC(),
		UpdatedAt:     doc.UpdatedAt.UTC(),
	}
}

type orderDocument struct {
	ID            string              `firestore:"-"`
	OrderNumber   string              `firestore:"orderNumber"`
	Marketplace   string              `firestore:"marketplace"`
	CustomerNotes string              `firestore:"customerNotes"`
	ShipByDate    *time.Time          `firestore:"shipByDate,omitempty"`
	Status        string              `firestore:"status"`
	Items         []orderItemDocument `firestore:"items"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	UpdatedAt     time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ID            string         `firestore:"id"`
	ProductSKU    string         `firestore:"productSku"`
	ProductName   string         `firestore:"productName"`
	Quantity      int            `firestore:"quantity"`
	PrintSettings any            `firestore:"printSettings,omitempty"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
