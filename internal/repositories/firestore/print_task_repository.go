package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/y3dhub/api/internal/domain"
	pfirestore "github.com/y3dhub/api/internal/platform/firestore"
	"github.com/y3dhub/api/internal/repositories"
)

const printTasksCollection = "printTasks"

// PrintTaskRepository persists derived print tasks in Firestore.
type PrintTaskRepository struct {
	base *pfirestore.BaseRepository[domain.PrintTask]
}

// NewPrintTaskRepository constructs a Firestore-backed print task repository.
func NewPrintTaskRepository(provider *pfirestore.Provider) (*PrintTaskRepository, error) {
	if provider == nil {
		return nil, errors.New("print task repository: firestore provider is required")
	}

	encoder := func(ctx context.Context, value domain.PrintTask) (any, error) {
		return encodePrintTaskDocument(value), nil
	}
	decoder := func(ctx context.Context, snap *firestore.DocumentSnapshot) (domain.PrintTask, error) {
		var doc printTaskDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.PrintTask{}, err
		}
		doc.ID = snap.Ref.ID
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = snap.CreateTime
		}
		if doc.UpdatedAt.IsZero() {
			doc.UpdatedAt = snap.UpdateTime
		}
		return decodePrintTaskDocument(doc), nil
	}

	base := pfirestore.NewBaseRepository[domain.PrintTask](provider, printTasksCollection, encoder, decoder)
	return &PrintTaskRepository{base: base}, nil
}

// Insert stores a new task document. Participates in an open transaction when present.
func (r *PrintTaskRepository) Insert(ctx context.Context, task domain.PrintTask) error {
	if r == nil || r.base == nil {
		return errors.New("print task repository not initialised")
	}
	task.ID = strings.TrimSpace(task.ID)
	if task.ID == "" {
		return errors.New("print task repository: id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, task.ID)
	if err != nil {
		return err
	}
	payload := encodePrintTaskDocument(task)
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		if err := tx.Create(docRef, payload); err != nil {
			return pfirestore.WrapError("print_tasks.insert", err)
		}
		return nil
	}
	if _, err := docRef.Create(ctx, payload); err != nil {
		return pfirestore.WrapError("print_tasks.insert", err)
	}
	return nil
}

// Update replaces the task document state. Participates in an open transaction when present.
func (r *PrintTaskRepository) Update(ctx context.Context, task domain.PrintTask) error {
	if r == nil || r.base == nil {
		return errors.New("print task repository not initialised")
	}
	task.ID = strings.TrimSpace(task.ID)
	if task.ID == "" {
		return errors.New("print task repository: id is required")
	}

	if _, err := r.base.Set(ctx, task.ID, task); err != nil {
		return err
	}
	return nil
}

// ListByOrder returns every task for the order sorted by item id then task index.
func (r *PrintTaskRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PrintTask, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("print task repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("print task repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).
			OrderBy("orderItemId", firestore.Asc).
			OrderBy("taskIndex", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	tasks := make([]domain.PrintTask, 0, len(docs))
	for _, doc := range docs {
		tasks = append(tasks, doc.Data)
	}
	return tasks, nil
}

// List returns tasks matching the filter sorted by creation time.
func (r *PrintTaskRepository) List(ctx context.Context, filter repositories.PrintTaskFilter) ([]domain.PrintTask, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("print task repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, status := range filter.Status {
				statuses = append(statuses, string(status))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Asc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	tasks := make([]domain.PrintTask, 0, len(docs))
	for _, doc := range docs {
		tasks = append(tasks, doc.Data)
	}
	return tasks, nil
}

func encodePrintTaskDocument(task domain.PrintTask) printTaskDocument {
	return printTaskDocument{
		OrderID:      strings.TrimSpace(task.OrderID),
		OrderItemID:  strings.TrimSpace(task.OrderItemID),
		TaskIndex:    task.TaskIndex,
		CustomText:   cloneStringPtr(task.CustomText),
		Color1:       cloneStringPtr(task.Color1),
		Color2:       cloneStringPtr(task.Color2),
		Quantity:     task.Quantity,
		NeedsReview:  task.NeedsReview,
		ReviewReason: cloneStringPtr(task.ReviewReason),
		Annotation:   cloneStringPtr(task.Annotation),
		SKU:          strings.TrimSpace(task.SKU),
		ProductName:  task.ProductName,
		OrderNumber:  strings.TrimSpace(task.OrderNumber),
		ShipByDate:   cloneTime(task.ShipByDate),
		Status:       string(task.Status),
		CreatedAt:    task.CreatedAt.UTC(),
		UpdatedAt:    task.UpdatedAt.UTC(),
	}
}

func decodePrintTaskDocument(doc printTaskDocument) domain.PrintTask {
	return domain.PrintTask{
		ID:           doc.ID,
		OrderID:      doc.OrderID,
		OrderItemID:  doc.OrderItemID,
		TaskIndex:    doc.TaskIndex,
		CustomText:   cloneStringPtr(doc.CustomText),
		Color1:       cloneStringPtr(doc.Color1),
		Color2:       cloneStringPtr(doc.Color2),
		Quantity:     doc.Quantity,
		NeedsReview:  doc.NeedsReview,
		ReviewReason: cloneStringPtr(doc.ReviewReason),
		Annotation:   cloneStringPtr(doc.Annotation),
		SKU:          doc.SKU,
		ProductName:  doc.ProductName,
		OrderNumber:  doc.OrderNumber,
		ShipByDate:   cloneTime(doc.ShipByDate),
		Status:       domain.PrintTaskStatus(doc.Status),
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
}

type printTaskDocument struct {
	ID           string     `firestore:"-"`
	OrderID      string     `firestore:"orderId"`
	OrderItemID  string     `firestore:"orderItemId"`
	TaskIndex    int        `firestore:"taskIndex"`
	CustomText   *string    `firestore:"customText,omitempty"`
	Color1       *string    `firestore:"color1,omitempty"`
	Color2       *string    `firestore:"color2,omitempty"`
	Quantity     int        `firestore:"quantity"`
	NeedsReview  bool       `firestore:"needsReview"`
	ReviewReason *string    `firestore:"reviewReason,omitempty"`
	Annotation   *string    `firestore:"annotation,omitempty"`
	SKU          string     `firestore:"sku"`
	ProductName  string     `firestore:"productName"`
	OrderNumber  string     `firestore:"orderNumber"`
	ShipByDate   *time.Time `firestore:"shipByDate,omitempty"`
	Status       string     `firestore:"status"`
	CreatedAt    time.Time  `firestore:"createdAt"`
	UpdatedAt    time.Time  `firestore:"updatedAt"`
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
