package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/y3dhub/api/internal/domain"
	"github.com/y3dhub/api/internal/extraction"
	"github.com/y3dhub/api/internal/normalize"
	"github.com/y3dhub/api/internal/repositories"
)

type stubRepoError struct {
	notFound bool
}

func (e *stubRepoError) Error() string       { return "stub repository error" }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return false }
func (e *stubRepoError) IsUnavailable() bool { return !e.notFound }

type stubOrderRepo struct {
	orders map[string]domain.Order
}

func (r *stubOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	if order, ok := r.orders[orderID]; ok {
		return order, nil
	}
	return domain.Order{}, &stubRepoError{notFound: true}
}

func (r *stubOrderRepo) FindByOrderNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	for _, order := range r.orders {
		if order.OrderNumber == orderNumber {
			return order, nil
		}
	}
	return domain.Order{}, &stubRepoError{notFound: true}
}

type stubTaskRepo struct {
	mu       sync.Mutex
	tasks    map[string]domain.PrintTask
	inserted []domain.PrintTask
	updated  []domain.PrintTask
	failNext error
}

func newStubTaskRepo(tasks ...domain.PrintTask) *stubTaskRepo {
	repo := &stubTaskRepo{tasks: make(map[string]domain.PrintTask)}
	for _, task := range tasks {
		repo.tasks[task.ID] = task
	}
	return repo
}

func (r *stubTaskRepo) Insert(_ context.Context, task domain.PrintTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext != nil {
		return r.failNext
	}
	r.inserted = append(r.inserted, task)
	r.tasks[task.ID] = task
	return nil
}

func (r *stubTaskRepo) Update(_ context.Context, task domain.PrintTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext != nil {
		return r.failNext
	}
	r.updated = append(r.updated, task)
	r.tasks[task.ID] = task
	return nil
}

func (r *stubTaskRepo) ListByOrder(_ context.Context, orderID string) ([]domain.PrintTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PrintTask
	for _, task := range r.tasks {
		if task.OrderID == orderID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (r *stubTaskRepo) List(_ context.Context, filter repositories.PrintTaskFilter) ([]domain.PrintTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PrintTask
	for _, task := range r.tasks {
		if len(filter.Status) > 0 {
			match := false
			for _, status := range filter.Status {
				if task.Status == status {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, task)
	}
	return out, nil
}

type stubAuditRepo struct {
	entries []domain.ExtractionAuditEntry
}

func (r *stubAuditRepo) Append(_ context.Context, entry domain.ExtractionAuditEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func (r *stubAuditRepo) ListByOrder(_ context.Context, orderID string) ([]domain.ExtractionAuditEntry, error) {
	return r.entries, nil
}

type stubUnitOfWork struct {
	calls int32
}

func (u *stubUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	atomic.AddInt32(&u.calls, 1)
	return fn(ctx)
}

type stubExtractor struct {
	output *extraction.Output
	err    error
	calls  int
}

func (e *stubExtractor) Extract(_ context.Context, order domain.Order, _ map[string][]normalize.Candidate) (*extraction.Result, error) {
	e.calls++
	result := &extraction.Result{
		Output:      e.output,
		Prompt:      "prompt",
		RawResponse: "raw",
		Model:       "gpt-4o-mini",
		Duration:    25 * time.Millisecond,
	}
	if e.err != nil {
		return result, e.err
	}
	return result, nil
}

type stubPublisher struct {
	messages []ReconcileEventMessage
}

func (p *stubPublisher) PublishReconcileEvent(_ context.Context, msg ReconcileEventMessage) (string, error) {
	p.messages = append(p.messages, msg)
	return fmt.Sprintf("msg_%d", len(p.messages)), nil
}

func fixedClock() time.Time {
	return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
}

func sequentialIDs() func() string {
	var counter int64
	return func() string {
		return fmt.Sprintf("id%04d", atomic.AddInt64(&counter, 1))
	}
}

func reconcileOrderFixture() domain.Order {
	return domain.Order{
		ID:          "ord_1",
		OrderNumber: "240-1111",
		Marketplace: domain.MarketplaceEbay,
		Status:      domain.OrderStatusAwaitingProduction,
		Items: []domain.OrderItem{
			{ID: "item_1", ProductSKU: "wi_12345_3", ProductName: "Pet Tag", Quantity: 2},
		},
	}
}

func existingTask(id string, index int, text string, qty int) domain.PrintTask {
	textCopy := text
	return domain.PrintTask{
		ID:          id,
		OrderID:     "ord_1",
		OrderItemID: "item_1",
		TaskIndex:   index,
		CustomText:  &textCopy,
		Quantity:    qty,
		SKU:         "wi_12345_3",
		ProductName: "Pet Tag",
		OrderNumber: "240-1111",
		Status:      domain.PrintTaskStatusPending,
	}
}

func extractionOutput(records ...domain.PersonalizationRecord) *extraction.Output {
	return &extraction.Output{
		ItemPersonalizations: map[string]extraction.ItemExtraction{
			"item_1": {Personalizations: records},
		},
	}
}

func record(text string, qty int) domain.PersonalizationRecord {
	textCopy := text
	return domain.PersonalizationRecord{CustomText: &textCopy, Quantity: qty}
}

func newTestReconcileService(t *testing.T, orders *stubOrderRepo, tasks *stubTaskRepo, extractor *stubExtractor, audits *stubAuditRepo, publisher *stubPublisher) (ReconcileService, *stubUnitOfWork) {
	t.Helper()
	uow := &stubUnitOfWork{}
	deps := ReconcileServiceDeps{
		Orders:      orders,
		PrintTasks:  tasks,
		UnitOfWork:  uow,
		Extractor:   extractor,
		Clock:       fixedClock,
		IDGenerator: sequentialIDs(),
	}
	if audits != nil {
		deps.Audits = audits
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	svc, err := NewReconcileService(deps)
	if err != nil {
		t.Fatalf("NewReconcileService: %v", err)
	}
	return svc, uow
}

func TestReconcileUpdatesChangedFields(t *testing.T) {
	orders := &stubOrderRepo{orders: map[string]domain.Order{"ord_1": reconcileOrderFixture()}}
	tasks := newStubTaskRepo(
		existingTask("pt_a", 0, "Old Name", 1),
		existingTask("pt_b", 1, "Bob", 1),
	)
	extractor := &stubExtractor{output: extractionOutput(record("Alice", 1), record("Bob", 1))}

	svc, uow := newTestReconcileService(t, orders, tasks, extractor, nil, nil)
	result, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: "ord_1"})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if result.Created != 0 || result.Updated != 1 {
		t.Fatalf("expected 0 creates and 1 update, got %d/%d", result.Created, result.Updated)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", result.Warnings)
	}
	if uow.calls != 1 {
		t.Fatalf("expected one transaction, got %d", uow.calls)
	}
	if len(tasks.updated) != 1 {
		t.Fatalf("expected one repository update, got %d", len(tasks.updated))
	}
	if got := *tasks.updated[0].CustomText; got != "Alice" {
		t.Fatalf("expected updated text Alice, got %q", got)
	}
}

func TestReconcileCreatesMissingTasks(t *testing.T) {
	orders := &stubOrderRepo{orders: map[string]domain.Order{"ord_1": reconcileOrderFixture()}}
	tasks := newStubTaskRepo(existingTask("pt_a", 0, "Alice", 1))
	extractor := &stubExtractor{output: extractionOutput(record("Alice", 1), record("Bob", 1))}

	svc, _ := newTestReconcileService(t, orders, tasks, extractor, nil, nil)
	result, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: "ord_1"})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("expected 1 create, got %d", result.Created)
	}
	if len(tasks.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(tasks.inserted))
	}
	created := tasks.inserted[0]
	if created.TaskIndex != 1 {
		t.Fatalf("expected dense task index 1, got %d", created.TaskIndex)
	}
	if created.Status != domain.PrintTaskStatusPending {
		t.Fatalf("expected pending status, got %s", created.Status)
	}
	if created.SKU != "wi_12345_3" || created.OrderNumber != "240-1111" {
		t.Fatalf("expected denormalised order fields, got %+v", created)
	}
	want := "AI suggests more tasks (2) than exist (1). Creating missing tasks."
	if len(result.Warnings) != 1 || result.Warnings[0] != want {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}
}

func TestReconcileNeverDeletes(t *testing.T) {
	order := reconcileOrderFixture()
	order.Items[0].Quantity = 3
	orders := &stubOrderRepo{orders: map[string]domain.Order{"ord_1": order}}
	tasks := newStubTaskRepo(
		existingTask("pt_a", 0, "Alice", 1),
		existingTask("pt_b", 1, "Bob", 1),
		existingTask("pt_c", 2, "Caro", 1),
	)
	extractor := &stubExtractor{output: func() *extraction.Output {
		out := extractionOutput(record("Alice", 2), record("Bob", 1))
		return out
	}()}

	svc, _ := newTestReconcileService(t, orders, tasks, extractor, nil, nil)
	result, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: "ord_1"})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if len(tasks.tasks) != 3 {
		t.Fatalf("expected all 3 tasks retained, got %d", len(tasks.tasks))
	}
	found := false
	for _, warning := range result.Warnings {
		if warning == "MANUAL INTERVENTION REQUIRED: AI suggests fewer tasks (2) than exist (3). Existing tasks beyond index 1 were not automatically deleted." {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected manual intervention warning, got %v", result.Warnings)
	}
	if surplus, ok := tasks.tasks["pt_c"]; !ok || *surplus.CustomText != "Caro" {
		t.Fatalf("expected surplus task untouched, got %+v", surplus)
	}
}

func TestReconcileQuantityMismatchFlagsReview(t *testing.T) {
	orders := &stubOrderRepo{orders: map[string]domain.Order{"ord_1": reconcileOrderFixture()}}
	tasks := newStubTaskRepo(existingTask("pt_a", 0, "Alice", 1))
	// Order quantity is 2 but the model proposes a single unit.
	extractor := &stubExtractor{output: extractionOutput(record("Alice", 1))}

	svc, _ := newTestReconcileService(t, orders, tasks, extractor, nil, nil)
	result, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: "ord_1"})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if len(tasks.updated) != 1 {
		t.Fatalf("expected one update, got %d", len(tasks.updated))
	}
	updated := tasks.updated[0]
	if !updated.NeedsReview {
		t.Fatalf("expected review flag on quantity mismatch")
	}
	if updated.ReviewReason == nil || *updated.ReviewReason != "Qty Mismatch (AI Total: 1, Order Item: 2)" {
		t.Fatalf("unexpected review reason: %v", updated.ReviewReason)
	}
	wantWarning := "item item_1: Qty Mismatch (AI Total: 1, Order Item: 2)"
	found := false
	for _, warning := range result.Warnings {
		if warning == wantWarning {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected quantity warning, got %v", result.Warnings)
	}
}

func TestReconcileDryRunWritesNothing(t *testing.T) {
	orders := &stubOrderRepo{orders: map[string]domain.Order{"ord_1": reconcileOrderFixture()}}
	tasks := newStubTaskRepo(existingTask("pt_a", 0, "Old", 1))
	extractor := &stubExtractor{output: extractionOutput(record("Alice", 1), record("Bob", 1))}

	svc, uow := newTestReconcileService(t, orders, tasks, extractor, nil, nil)
	result, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: "ord_1", DryRun: true})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if !result.DryRun {
		t.Fatalf("expected dry run flag")
	}
	if result.Created != 1 || result.Updated != 1 {
		t.Fatalf("expected projected 1 create and 1 update, got %d/%d", result.Created, result.Updated)
	}
	if uow.calls != 0 {
		t.Fatalf("expected no transaction on dry run, got %d", uow.calls)
	}
	if len(tasks.inserted) != 0 || len(tasks.updated) != 0 {
		t.Fatalf("expected no writes on dry run")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	orders := &stubOrderRepo{orders: map[string]domain.Order{"ord_1": reconcileOrderFixture()}}
	tasks := newStubTaskRepo()
	extractor := &stubExtractor{output: extractionOutput(record("Alice", 1), record("Bob", 1))}

	svc, _ := newTestReconcileService(t, orders, tasks, extractor, nil, nil)
	first, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: "ord_1"})
	if err != nil {
		t.Fatalf("first Reconcile returned error: %v", err)
	}
	if first.Created != 2 {
		t.Fatalf("expected 2 creates on first run, got %d", first.Created)
	}

	second, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: "ord_1"})
	if err != nil {
		t.Fatalf("second Reconcile returned error: %v", err)
	}
	if second.Created != 0 || second.Updated != 0 {
		t.Fatalf("expected empty plan on second run, got %d/%d", second.Created, second.Updated)
	}
}

func TestReconcileForcesPendingOnReview(t *testing.T) {
	orders := &stubOrderRepo{orders: map[string]domain.Order{"ord_1": reconcileOrderFixture()}}
	inProgress := existingTask("pt_a", 0, "Alice", 1)
	inProgress.Status = domain.PrintTaskStatusInProgress
	completed := existingTask("pt_b", 1, "Bob", 1)
	completed.Status = domain.PrintTaskStatusCompleted
	tasks := newStubTaskRepo(inProgress, completed)

	reviewed := record("Alice", 1)
	reviewed.NeedsReview = true
	reason := "illegible note"
	reviewed.ReviewReason = &reason
	reviewedDone := record("Bob", 1)
	reviewedDone.NeedsReview = true
	reviewedDone.ReviewReason = &reason
	extractor := &stubExtractor{output: extractionOutput(reviewed, reviewedDone)}

	svc, _ := newTestReconcileService(t, orders, tasks, extractor, nil, nil)
	if _, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: "ord_1"}); err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if got := tasks.tasks["pt_a"].Status; got != domain.PrintTaskStatusPending {
		t.Fatalf("expected in-progress task forced to pending, got %s", got)
	}
	if got := tasks.tasks["pt_b"].Status; got != domain.PrintTaskStatusCompleted {
		t.Fatalf("expected completed task status untouched, got %s", got)
	}
}

func TestReconcileResolvesOrderNumber(t *testing.T) {
	orders := &stubOrderRepo{orders: map[string]domain.Order{"ord_1": reconcileOrderFixture()}}
	tasks := newStubTaskRepo()
	extractor := &stubExtractor{output: extractionOutput(record("Alice", 2))}

	svc, _ := newTestReconcileService(t, orders, tasks, extractor, nil, nil)
	result, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: "240-1111"})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if result.OrderID != "ord_1" {
		t.Fatalf("expected order resolved by number, got %q", result.OrderID)
	}
}

func TestReconcileOrderNotFound(t *testing.T) {
	orders := &stubOrderRepo{orders: map[string]domain.Order{}}
	svc, _ := newTestReconcileService(t, orders, newStubTaskRepo(), &stubExtractor{output: extractionOutput()}, nil, nil)

	_, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: "missing"})
	if !errors.Is(err, ErrReconcileNotFound) {
		t.Fatalf("expected ErrReconcileNotFound, got %v", err)
	}
}

func TestReconcileExtractionFailureAudited(t *testing.T) {
	orders := &stubOrderRepo{orders: map[string]domain.Order{"ord_1": reconcileOrderFixture()}}
	audits := &stubAuditRepo{}
	extractor := &stubExtractor{err: errors.New("upstream down")}

	svc, _ := newTestReconcileService(t, orders, newStubTaskRepo(), extractor, audits, nil)
	_, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: "ord_1"})
	if !errors.Is(err, ErrReconcileExtraction) {
		t.Fatalf("expected ErrReconcileExtraction, got %v", err)
	}
	if len(audits.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(audits.entries))
	}
	entry := audits.entries[0]
	if entry.Success {
		t.Fatalf("expected failed audit entry")
	}
	if entry.ErrorDetail == nil {
		t.Fatalf("expected error detail recorded")
	}
	if entry.Model != "gpt-4o-mini" || entry.Prompt != "prompt" {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}

func TestReconcilePlaceholderForSkippedItem(t *testing.T) {
	orders := &stubOrderRepo{orders: map[string]domain.Order{"ord_1": reconcileOrderFixture()}}
	tasks := newStubTaskRepo()
	extractor := &stubExtractor{output: &extraction.Output{ItemPersonalizations: map[string]extraction.ItemExtraction{}}}

	svc, _ := newTestReconcileService(t, orders, tasks, extractor, nil, nil)
	result, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: "ord_1"})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("expected one placeholder create, got %d", result.Created)
	}
	created := tasks.inserted[0]
	if *created.CustomText != "Placeholder - Review Needed" {
		t.Fatalf("unexpected placeholder text %q", *created.CustomText)
	}
	if !created.NeedsReview {
		t.Fatalf("expected placeholder flagged for review")
	}
	if created.Quantity != 2 {
		t.Fatalf("expected placeholder to carry the item quantity, got %d", created.Quantity)
	}
}

func TestReconcilePublishesEvent(t *testing.T) {
	orders := &stubOrderRepo{orders: map[string]domain.Order{"ord_1": reconcileOrderFixture()}}
	publisher := &stubPublisher{}
	extractor := &stubExtractor{output: extractionOutput(record("Alice", 1), record("Bob", 1))}

	svc, _ := newTestReconcileService(t, orders, newStubTaskRepo(), extractor, nil, publisher)
	if _, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: "ord_1"}); err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if len(publisher.messages) != 1 {
		t.Fatalf("expected one published event, got %d", len(publisher.messages))
	}
	msg := publisher.messages[0]
	if msg.OrderID != "ord_1" || msg.OrderNumber != "240-1111" || msg.Created != 2 {
		t.Fatalf("unexpected event payload: %+v", msg)
	}
}

func TestReconcileEmptyRef(t *testing.T) {
	svc, _ := newTestReconcileService(t, &stubOrderRepo{}, newStubTaskRepo(), &stubExtractor{output: extractionOutput()}, nil, nil)
	if _, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: "  "}); !errors.Is(err, ErrReconcileInvalidInput) {
		t.Fatalf("expected ErrReconcileInvalidInput, got %v", err)
	}
}

func TestBuildItemPlanEqualCountsNoChanges(t *testing.T) {
	existing := []domain.PrintTask{existingTask("pt_a", 0, "Alice", 1)}
	proposed := []domain.PersonalizationRecord{record("Alice", 1)}

	plan := BuildItemPlan("item_1", existing, proposed)
	if len(plan.Creates) != 0 || len(plan.Updates) != 0 || len(plan.Warnings) != 0 {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
}

func TestBuildItemPlanSortsByTaskIndex(t *testing.T) {
	existing := []domain.PrintTask{
		existingTask("pt_b", 1, "Bob", 1),
		existingTask("pt_a", 0, "Alice", 1),
	}
	proposed := []domain.PersonalizationRecord{record("Alice", 1), record("Robert", 1)}

	plan := BuildItemPlan("item_1", existing, proposed)
	if len(plan.Updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(plan.Updates))
	}
	if plan.Updates[0].Task.ID != "pt_b" {
		t.Fatalf("expected index-1 task matched to second record, got %s", plan.Updates[0].Task.ID)
	}
	if got := *plan.Updates[0].Task.CustomText; got != "Robert" {
		t.Fatalf("expected text Robert, got %q", got)
	}
}

func TestBuildItemPlanClearsReviewWithoutStatusChange(t *testing.T) {
	flagged := existingTask("pt_a", 0, "Alice", 1)
	flagged.NeedsReview = true
	reason := "old reason"
	flagged.ReviewReason = &reason
	flagged.Status = domain.PrintTaskStatusInProgress

	plan := BuildItemPlan("item_1", []domain.PrintTask{flagged}, []domain.PersonalizationRecord{record("Alice", 1)})
	if len(plan.Updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(plan.Updates))
	}
	updated := plan.Updates[0].Task
	if updated.NeedsReview {
		t.Fatalf("expected review flag cleared")
	}
	if updated.ReviewReason != nil {
		t.Fatalf("expected review reason cleared")
	}
	if updated.Status != domain.PrintTaskStatusInProgress {
		t.Fatalf("expected status untouched when clearing review, got %s", updated.Status)
	}
}

// gateExtractor blocks every call until released so tests can hold a
// reconcile run in flight.
type gateExtractor struct {
	mu      sync.Mutex
	calls   int
	started chan string
	release chan struct{}
	outputs map[string]*extraction.Output
}

func (e *gateExtractor) Extract(_ context.Context, order domain.Order, _ map[string][]normalize.Candidate) (*extraction.Result, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	e.started <- order.ID
	<-e.release
	return &extraction.Result{
		Output:      e.outputs[order.ID],
		Prompt:      "prompt",
		RawResponse: "raw",
		Model:       "gpt-4o-mini",
		Duration:    time.Millisecond,
	}, nil
}

func (e *gateExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func waitStarted(t *testing.T, started <-chan string) string {
	t.Helper()
	select {
	case id := <-started:
		return id
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for an extraction to start")
		return ""
	}
}

func TestReconcileCoalescesConcurrentRuns(t *testing.T) {
	orders := &stubOrderRepo{orders: map[string]domain.Order{"ord_1": reconcileOrderFixture()}}
	tasks := newStubTaskRepo()
	gate := &gateExtractor{
		started: make(chan string, 4),
		release: make(chan struct{}),
		outputs: map[string]*extraction.Output{"ord_1": extractionOutput(record("Alice", 2))},
	}
	uow := &stubUnitOfWork{}
	svc, err := NewReconcileService(ReconcileServiceDeps{
		Orders:      orders,
		PrintTasks:  tasks,
		UnitOfWork:  uow,
		Extractor:   gate,
		Clock:       fixedClock,
		IDGenerator: sequentialIDs(),
	})
	if err != nil {
		t.Fatalf("NewReconcileService: %v", err)
	}

	const runs = 3
	results := make(chan ReconcileResult, runs)
	errs := make(chan error, runs)
	for i := 0; i < runs; i++ {
		go func() {
			result, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: "ord_1"})
			results <- result
			errs <- err
		}()
	}

	waitStarted(t, gate.started)
	// Give the remaining callers time to join the in-flight run.
	time.Sleep(50 * time.Millisecond)
	close(gate.release)

	for i := 0; i < runs; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Reconcile returned error: %v", err)
		}
		result := <-results
		if result.Created != 1 {
			t.Fatalf("expected every caller to see 1 create, got %d", result.Created)
		}
	}
	if got := gate.callCount(); got != 1 {
		t.Fatalf("expected one extraction for coalesced runs, got %d", got)
	}
	if got := atomic.LoadInt32(&uow.calls); got != 1 {
		t.Fatalf("expected one transaction for coalesced runs, got %d", got)
	}
}

func TestReconcileDistinctOrdersRunIndependently(t *testing.T) {
	first := reconcileOrderFixture()
	second := domain.Order{
		ID:          "ord_2",
		OrderNumber: "240-2222",
		Marketplace: domain.MarketplaceEbay,
		Status:      domain.OrderStatusAwaitingProduction,
		Items: []domain.OrderItem{
			{ID: "item_2", ProductSKU: "wi_67890_6", ProductName: "Pet Tag", Quantity: 1},
		},
	}
	orders := &stubOrderRepo{orders: map[string]domain.Order{first.ID: first, second.ID: second}}
	tasks := newStubTaskRepo()
	bob := "Bob"
	gate := &gateExtractor{
		started: make(chan string, 2),
		release: make(chan struct{}),
		outputs: map[string]*extraction.Output{
			"ord_1": extractionOutput(record("Alice", 2)),
			"ord_2": {ItemPersonalizations: map[string]extraction.ItemExtraction{
				"item_2": {Personalizations: []domain.PersonalizationRecord{{CustomText: &bob, Quantity: 1}}},
			}},
		},
	}
	uow := &stubUnitOfWork{}
	svc, err := NewReconcileService(ReconcileServiceDeps{
		Orders:      orders,
		PrintTasks:  tasks,
		UnitOfWork:  uow,
		Extractor:   gate,
		Clock:       fixedClock,
		IDGenerator: sequentialIDs(),
	})
	if err != nil {
		t.Fatalf("NewReconcileService: %v", err)
	}

	errs := make(chan error, 2)
	for _, ref := range []string{"ord_1", "ord_2"} {
		go func(ref string) {
			_, err := svc.Reconcile(context.Background(), ReconcileCommand{OrderRef: ref})
			errs <- err
		}(ref)
	}

	// Both extractions must be in flight at once; a serialized group would
	// never deliver the second start signal before release.
	started := map[string]bool{}
	started[waitStarted(t, gate.started)] = true
	started[waitStarted(t, gate.started)] = true
	if !started["ord_1"] || !started["ord_2"] {
		t.Fatalf("expected both orders extracting concurrently, got %v", started)
	}
	close(gate.release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Reconcile returned error: %v", err)
		}
	}
	if got := gate.callCount(); got != 2 {
		t.Fatalf("expected one extraction per order, got %d", got)
	}
	if got := atomic.LoadInt32(&uow.calls); got != 2 {
		t.Fatalf("expected one transaction per order, got %d", got)
	}
}
