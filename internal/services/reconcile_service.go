package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	domain "github.com/y3dhub/api/internal/domain"
	"github.com/y3dhub/api/internal/extraction"
	"github.com/y3dhub/api/internal/normalize"
	"github.com/y3dhub/api/internal/platform/requestctx"
	"github.com/y3dhub/api/internal/repositories"
)

var (
	errReconcileOrdersRequired     = errors.New("reconcile: order repository is required")
	errReconcilePrintTasksRequired = errors.New("reconcile: print task repository is required")
	errReconcileUnitOfWorkRequired = errors.New("reconcile: unit of work is required")
	errReconcileExtractorRequired  = errors.New("reconcile: extractor is required")
	errReconcileClockRequired      = errors.New("reconcile: clock is required")
)

// ErrReconcileInvalidInput indicates the caller provided an unusable order reference.
var ErrReconcileInvalidInput = errors.New("reconcile: invalid input")

// ErrReconcileNotFound indicates the referenced order does not exist.
var ErrReconcileNotFound = errors.New("reconcile: order not found")

// ErrReconcileUnavailable indicates a dependency failure prevented the run.
var ErrReconcileUnavailable = errors.New("reconcile: service unavailable")

// ErrReconcileExtraction indicates the completion call failed or produced
// unusable output.
var ErrReconcileExtraction = errors.New("reconcile: extraction failed")

const (
	printTaskIDPrefix     = "pt_"
	extractionIDPrefix    = "alg_"
	maxReviewReasonLength = 1000
	placeholderCustomText = "Placeholder - Review Needed"
)

// Extractor produces structured personalization output for one order.
type Extractor interface {
	Extract(ctx context.Context, order domain.Order, candidates map[string][]normalize.Candidate) (*extraction.Result, error)
}

// CandidateNormalizer parses marketplace hints for one order item.
type CandidateNormalizer interface {
	Normalize(ctx context.Context, order domain.Order, item domain.OrderItem) ([]normalize.Candidate, error)
}

// ReconcileServiceDeps wires the reconciler's dependencies. Audits, Normalizer
// and Publisher are optional.
type ReconcileServiceDeps struct {
	Orders      repositories.OrderRepository
	PrintTasks  repositories.PrintTaskRepository
	Audits      repositories.ExtractionAuditRepository
	UnitOfWork  repositories.UnitOfWork
	Normalizer  CandidateNormalizer
	Extractor   Extractor
	Publisher   ReconcileEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
}

type reconcileService struct {
	orders     repositories.OrderRepository
	tasks      repositories.PrintTaskRepository
	audits     repositories.ExtractionAuditRepository
	uow        repositories.UnitOfWork
	normalizer CandidateNormalizer
	extractor  Extractor
	publisher  ReconcileEventPublisher
	now        func() time.Time
	newID      func() string
	group      singleflight.Group
}

// NewReconcileService constructs a ReconcileService with the provided dependencies.
func NewReconcileService(deps ReconcileServiceDeps) (ReconcileService, error) {
	if deps.Orders == nil {
		return nil, errReconcileOrdersRequired
	}
	if deps.PrintTasks == nil {
		return nil, errReconcilePrintTasksRequired
	}
	if deps.UnitOfWork == nil {
		return nil, errReconcileUnitOfWorkRequired
	}
	if deps.Extractor == nil {
		return nil, errReconcileExtractorRequired
	}
	clock := deps.Clock
	if clock == nil {
		return nil, errReconcileClockRequired
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &reconcileService{
		orders:     deps.Orders,
		tasks:      deps.PrintTasks,
		audits:     deps.Audits,
		uow:        deps.UnitOfWork,
		normalizer: deps.Normalizer,
		extractor:  deps.Extractor,
		publisher:  deps.Publisher,
		now:        func() time.Time { return clock().UTC() },
		newID:      func() string { return strings.ToLower(idGen()) },
	}, nil
}

// Reconcile runs normalization, extraction, and the task diff for one order.
// Concurrent calls for the same order reference coalesce into a single run.
func (s *reconcileService) Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error) {
	if s == nil || s.orders == nil {
		return ReconcileResult{}, ErrReconcileUnavailable
	}
	ref := strings.TrimSpace(cmd.OrderRef)
	if ref == "" {
		return ReconcileResult{}, ErrReconcileInvalidInput
	}

	key := ref
	if cmd.DryRun {
		key += "|dry"
	}
	value, err, _ := s.group.Do(key, func() (any, error) {
		result, err := s.reconcileOrder(ctx, ref, cmd.DryRun)
		if err != nil {
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	return value.(ReconcileResult), nil
}

func (s *reconcileService) reconcileOrder(ctx context.Context, ref string, dryRun bool) (ReconcileResult, error) {
	logger := requestctx.Logger(ctx)

	order, err := s.resolveOrder(ctx, ref)
	if err != nil {
		return ReconcileResult{}, err
	}

	candidates := make(map[string][]normalize.Candidate, len(order.Items))
	if s.normalizer != nil {
		for _, item := range order.Items {
			parsed, err := s.normalizer.Normalize(ctx, order, item)
			if err != nil {
				logger.Warn("normalization failed, extracting without hints",
					zap.String("order_id", order.ID),
					zap.String("order_item_id", item.ID),
					zap.Error(err),
				)
				continue
			}
			if len(parsed) > 0 {
				candidates[item.ID] = parsed
			}
		}
	}

	extracted, extractErr := s.extractor.Extract(ctx, order, candidates)
	s.appendAudit(ctx, order.ID, extracted, extractErr)
	if extractErr != nil {
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrReconcileExtraction, extractErr)
	}

	existing, err := s.tasks.ListByOrder(ctx, order.ID)
	if err != nil {
		return ReconcileResult{}, s.mapRepoError(err)
	}
	byItem := make(map[string][]domain.PrintTask)
	for _, task := range existing {
		byItem[task.OrderItemID] = append(byItem[task.OrderItemID], task)
	}

	result := ReconcileResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		DryRun:      dryRun,
	}
	var plans []ItemMutationPlan
	for _, item := range order.Items {
		proposed, warnings := mergeItemRecords(item, extracted.Output.ItemPersonalizations)
		plan := BuildItemPlan(item.ID, byItem[item.ID], proposed)
		plan.Warnings = append(warnings, plan.Warnings...)
		result.Created += len(plan.Creates)
		result.Updated += len(plan.Updates)
		result.Unchanged += len(byItem[item.ID]) - len(plan.Updates)
		result.Warnings = append(result.Warnings, plan.Warnings...)
		plans = append(plans, plan)
	}

	if !dryRun {
		if err := s.applyPlans(ctx, order, plans); err != nil {
			return ReconcileResult{}, err
		}
		if tasks, err := s.tasks.ListByOrder(ctx, order.ID); err == nil {
			result.Tasks = tasks
		} else {
			logger.Warn("could not reload tasks after reconcile",
				zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	result.CompletedAt = s.now()
	s.publishEvent(ctx, result)

	logger.Info("order reconciled",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("warnings", len(result.Warnings)),
		zap.Bool("dry_run", dryRun),
	)
	return result, nil
}

func (s *reconcileService) resolveOrder(ctx context.Context, ref string) (domain.Order, error) {
	order, err := s.orders.FindByID(ctx, ref)
	if err == nil {
		return order, nil
	}
	if !isRepoNotFound(err) {
		return domain.Order{}, s.mapRepoError(err)
	}
	order, err = s.orders.FindByOrderNumber(ctx, ref)
	if err == nil {
		return order, nil
	}
	if isRepoNotFound(err) {
		return domain.Order{}, fmt.Errorf("%w: %s", ErrReconcileNotFound, ref)
	}
	return domain.Order{}, s.mapRepoError(err)
}

// applyPlans writes every mutation in one transaction: either the whole order
// converges or none of it does.
func (s *reconcileService) applyPlans(ctx context.Context, order domain.Order, plans []ItemMutationPlan) error {
	now := s.now()
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		for _, plan := range plans {
			for _, update := range plan.Updates {
				task := update.Task
				task.UpdatedAt = now
				if err := s.tasks.Update(txCtx, task); err != nil {
					return err
				}
			}
			for _, create := range plan.Creates {
				item := orderItemByID(order, plan.OrderItemID)
				task := domain.PrintTask{
					ID:           printTaskIDPrefix + s.newID(),
					OrderID:      order.ID,
					OrderItemID:  plan.OrderItemID,
					TaskIndex:    create.TaskIndex,
					CustomText:   create.Record.CustomText,
					Color1:       create.Record.Color1,
					Color2:       create.Record.Color2,
					Quantity:     create.Record.Quantity,
					NeedsReview:  create.Record.NeedsReview,
					ReviewReason: create.Record.ReviewReason,
					Annotation:   create.Record.Annotation,
					SKU:          item.ProductSKU,
					ProductName:  item.ProductName,
					OrderNumber:  order.OrderNumber,
					ShipByDate:   order.ShipByDate,
					Status:       domain.PrintTaskStatusPending,
					CreatedAt:    now,
					UpdatedAt:    now,
				}
				if err := s.tasks.Insert(txCtx, task); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return s.mapRepoError(err)
	}
	return nil
}

func (s *reconcileService) appendAudit(ctx context.Context, orderID string, result *extraction.Result, extractErr error) {
	if s.audits == nil || result == nil {
		return
	}
	entry := domain.ExtractionAuditEntry{
		ID:          extractionIDPrefix + s.newID(),
		OrderID:     orderID,
		Model:       result.Model,
		Prompt:      result.Prompt,
		RawResponse: result.RawResponse,
		Success:     extractErr == nil,
		Duration:    result.Duration,
		CreatedAt:   s.now(),
	}
	if extractErr != nil {
		detail := extractErr.Error()
		entry.ErrorDetail = &detail
	}
	if err := s.audits.Append(ctx, entry); err != nil {
		requestctx.Logger(ctx).Warn("could not persist extraction audit",
			zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *reconcileService) publishEvent(ctx context.Context, result ReconcileResult) {
	if s.publisher == nil {
		return
	}
	msg := ReconcileEventMessage{
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
		Created:     result.Created,
		Updated:     result.Updated,
		Warnings:    len(result.Warnings),
		DryRun:      result.DryRun,
		CompletedAt: result.CompletedAt,
	}
	if _, err := s.publisher.PublishReconcileEvent(ctx, msg); err != nil {
		requestctx.Logger(ctx).Warn("could not publish reconcile event",
			zap.String("order_id", result.OrderID), zap.Error(err))
	}
}

func (s *reconcileService) mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if isRepoNotFound(err) {
		return fmt.Errorf("%w: %v", ErrReconcileNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrReconcileUnavailable, err)
}

func orderItemByID(order domain.Order, itemID string) domain.OrderItem {
	for _, item := range order.Items {
		if item.ID == itemID {
			return item
		}
	}
	return domain.OrderItem{}
}

// mergeItemRecords folds the item-level review flags and the quantity
// invariant into the proposed records. An item the model skipped gets a
// single placeholder record flagged for review.
func mergeItemRecords(item domain.OrderItem, extractions map[string]extraction.ItemExtraction) ([]domain.PersonalizationRecord, []string) {
	ex, ok := extractions[item.ID]
	if !ok || len(ex.Personalizations) == 0 {
		reason := "No extraction result for item"
		annotation := "Placeholder created: " + reason
		text := placeholderCustomText
		return []domain.PersonalizationRecord{{
				CustomText:   &text,
				Quantity:     item.Quantity,
				NeedsReview:  true,
				ReviewReason: &reason,
				Annotation:   &annotation,
			}}, []string{fmt.Sprintf("item %s: no extraction result, placeholder created", item.ID)}
	}

	itemNeedsReview := ex.OverallNeedsReview
	var itemReasons []string
	if ex.OverallReviewReason != nil && strings.TrimSpace(*ex.OverallReviewReason) != "" {
		itemReasons = append(itemReasons, strings.TrimSpace(*ex.OverallReviewReason))
	}

	var warnings []string
	total := 0
	for _, record := range ex.Personalizations {
		total += record.Quantity
	}
	if total != item.Quantity {
		qtyMsg := fmt.Sprintf("Qty Mismatch (AI Total: %d, Order Item: %d)", total, item.Quantity)
		itemNeedsReview = true
		itemReasons = append(itemReasons, qtyMsg)
		warnings = append(warnings, fmt.Sprintf("item %s: %s", item.ID, qtyMsg))
	}

	out := make([]domain.PersonalizationRecord, 0, len(ex.Personalizations))
	for _, record := range ex.Personalizations {
		merged := record
		merged.NeedsReview = itemNeedsReview || record.NeedsReview

		parts := append([]string(nil), itemReasons...)
		if record.NeedsReview && record.ReviewReason != nil && strings.TrimSpace(*record.ReviewReason) != "" {
			parts = append(parts, strings.TrimSpace(*record.ReviewReason))
		}
		if merged.NeedsReview && record.Annotation != nil && strings.TrimSpace(*record.Annotation) != "" {
			parts = append(parts, "Annotation: "+strings.TrimSpace(*record.Annotation))
		}
		if reason := joinUniqueReasons(parts); reason != "" {
			merged.ReviewReason = &reason
		} else {
			merged.ReviewReason = nil
		}
		out = append(out, merged)
	}
	return out, warnings
}

func joinUniqueReasons(parts []string) string {
	seen := make(map[string]struct{}, len(parts))
	var unique []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		unique = append(unique, part)
	}
	joined := strings.Join(unique, "; ")
	if len(joined) > maxReviewReasonLength {
		joined = joined[:maxReviewReasonLength]
	}
	return joined
}

// BuildItemPlan diffs the stored tasks for one item against the proposed
// records. Existing tasks are matched to records by position after sorting by
// task index. Tasks are never deleted: a shorter proposal only updates the
// matching prefix and leaves the rest untouched behind a warning.
func BuildItemPlan(orderItemID string, existing []domain.PrintTask, proposed []domain.PersonalizationRecord) ItemMutationPlan {
	plan := ItemMutationPlan{OrderItemID: orderItemID}

	tasks := append([]domain.PrintTask(nil), existing...)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskIndex < tasks[j].TaskIndex })

	dbCount := len(tasks)
	aiCount := len(proposed)

	prefix := dbCount
	if aiCount < prefix {
		prefix = aiCount
	}
	for i := 0; i < prefix; i++ {
		if updated, fields := diffTask(tasks[i], proposed[i]); len(fields) > 0 {
			plan.Updates = append(plan.Updates, TaskUpdate{Task: updated, ChangedFields: fields})
		}
	}

	switch {
	case aiCount > dbCount:
		for i := dbCount; i < aiCount; i++ {
			plan.Creates = append(plan.Creates, TaskCreate{TaskIndex: i, Record: proposed[i]})
		}
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"AI suggests more tasks (%d) than exist (%d). Creating missing tasks.", aiCount, dbCount))
	case aiCount < dbCount:
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(
			"MANUAL INTERVENTION REQUIRED: AI suggests fewer tasks (%d) than exist (%d). Existing tasks beyond index %d were not automatically deleted.",
			aiCount, dbCount, aiCount-1))
	}
	return plan
}

// diffTask compares one stored task against its proposed record, returning
// the updated task and the names of the fields that changed.
func diffTask(task domain.PrintTask, record domain.PersonalizationRecord) (domain.PrintTask, []string) {
	var fields []string

	if !stringPtrEqual(task.CustomText, record.CustomText) {
		task.CustomText = record.CustomText
		fields = append(fields, "customText")
	}
	if !stringPtrEqual(task.Color1, record.Color1) {
		task.Color1 = record.Color1
		fields = append(fields, "color1")
	}
	if !stringPtrEqual(task.Color2, record.Color2) {
		task.Color2 = record.Color2
		fields = append(fields, "color2")
	}
	if task.Quantity != record.Quantity {
		task.Quantity = record.Quantity
		fields = append(fields, "quantity")
	}
	if task.NeedsReview != record.NeedsReview {
		task.NeedsReview = record.NeedsReview
		fields = append(fields, "needsReview")
	}
	if !stringPtrEqual(task.ReviewReason, record.ReviewReason) {
		task.ReviewReason = record.ReviewReason
		fields = append(fields, "reviewReason")
	}
	if !stringPtrEqual(task.Annotation, record.Annotation) {
		task.Annotation = record.Annotation
		fields = append(fields, "annotation")
	}

	// A record needing review pulls the task back to pending unless it has
	// already completed.
	if record.NeedsReview && task.Status != domain.PrintTaskStatusCompleted && task.Status != domain.PrintTaskStatusPending {
		task.Status = domain.PrintTaskStatusPending
		fields = append(fields, "status")
	}
	return task, fields
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
