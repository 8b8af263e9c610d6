package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/y3dhub/api/internal/domain"
	pfirestore "github.com/y3dhub/api/internal/platform/firestore"
)

const extractionAuditsCollection = "extractionAudits"

// ExtractionAuditRepository stores completion-service call records in Firestore.
type ExtractionAuditRepository struct {
	base *pfirestore.BaseRepository[domain.ExtractionAuditEntry]
}

// NewExtractionAuditRepository constructs a Firestore-backed extraction audit repository.
func NewExtractionAuditRepository(provider *pfirestore.Provider) (*ExtractionAuditRepository, error) {
	if provider == nil {
		return nil, errors.New("extraction audit repository: firestore provider is required")
	}

	encoder := func(ctx context.Context, value domain.ExtractionAuditEntry) (any, error) {
		return encodeExtractionAuditDocument(value), nil
	}
	decoder := func(ctx context.Context, snap *firestore.DocumentSnapshot) (domain.ExtractionAuditEntry, error) {
		var doc extractionAuditDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.ExtractionAuditEntry{}, err
		}
		doc.ID = snap.Ref.ID
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = snap.CreateTime
		}
		return decodeExtractionAuditDocument(doc), nil
	}

	base := pfirestore.NewBaseRepository[domain.ExtractionAuditEntry](provider, extractionAuditsCollection, encoder, decoder)
	return &ExtractionAuditRepository{base: base}, nil
}

// Append stores a new audit entry. Entries are immutable once written.
func (r *ExtractionAuditRepository) Append(ctx context.Context, entry domain.ExtractionAuditEntry) error {
	if r == nil || r.base == nil {
		return errors.New("extraction audit repository not initialised")
	}
	entry.ID = strings.TrimSpace(entry.ID)
	if entry.ID == "" {
		return errors.New("extraction audit repository: id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, entry.ID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeExtractionAuditDocument(entry)); err != nil {
		return pfirestore.WrapError("extraction_audits.append", err)
	}
	return nil
}

// ListByOrder returns the audit trail for one order, oldest first.
func (r *ExtractionAuditRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ExtractionAuditEntry, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("extraction audit repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("extraction audit repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	entries := make([]domain.ExtractionAuditEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.Data)
	}
	return entries, nil
}

func encodeExtractionAuditDocument(entry domain.ExtractionAuditEntry) extractionAuditDocument {
	return extractionAuditDocument{
		OrderID:     strings.TrimSpace(entry.OrderID),
		Model:       strings.TrimSpace(entry.Model),
		Prompt:      entry.Prompt,
		RawResponse: entry.RawResponse,
		Success:     entry.Success,
		ErrorDetail: cloneStringPtr(entry.ErrorDetail),
		DurationMS:  entry.Duration.Milliseconds(),
		CreatedAt:   entry.CreatedAt.UTC(),
	}
}

func decodeExtractionAuditDocument(doc extractionAuditDocument) domain.ExtractionAuditEntry {
	return domain.ExtractionAuditEntry{
		ID:          doc.ID,
		OrderID:     doc.OrderID,
		Model:       doc.Model,
		Prompt:      doc.Prompt,
		RawResponse: doc.RawResponse,
		Success:     doc.Success,
		ErrorDetail: cloneStringPtr(doc.ErrorDetail),
		Duration:    time.Duration(doc.DurationMS) * time.Millisecond,
		CreatedAt:   doc.CreatedAt.UTC(),
	}
}

type extractionAuditDocument struct {
	ID          string    `firestore:"-"`
	OrderID     string    `firestore:"orderId"`
	Model       string    `firestore:"model"`
	Prompt      string    `firestore:"prompt"`
	RawResponse string    `firestore:"rawResponse"`
	Success     bool      `firestore:"success"`
	ErrorDetail *string   `firestore:"errorDetail,omitempty"`
	DurationMS  int64     `firestore:"durationMs"`
	CreatedAt   time.Time `firestore:"createdAt"`
}
