package documents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline-erp/ledgerline/internal/audit"
	"github.com/ledgerline-erp/ledgerline/internal/sequence"
	"github.com/ledgerline-erp/ledgerline/internal/shared"
)

type mockRepo struct {
	docs          map[int64]*Document
	nextID        int64
	creditDeltas  map[int64]float64
	overdue       []Document
	overdueEvents map[int64]bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		docs:          make(map[int64]*Document),
		creditDeltas:  make(map[int64]float64),
		overdueEvents: make(map[int64]bool),
	}
}

func (m *mockRepo) Create(_ context.Context, _ DBTX, doc *Document) error {
	m.nextID++
	doc.ID = m.nextID
	doc.Balance = doc.Total
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	stored := *doc
	m.docs[doc.ID] = &stored
	return nil
}

func (m *mockRepo) Get(_ context.Context, id int64) (*Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, _ DBTX, id int64) (*Document, error) {
	return m.Get(ctx, id)
}

func (m *mockRepo) GetManyForUpdate(ctx context.Context, _ DBTX, ids []int64) ([]Document, error) {
	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := m.docs[id]; ok {
			docs = append(docs, *doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (m *mockRepo) List(_ context.Context, filter ListFilter, _ shared.PageRequest) ([]Document, int, error) {
	docs := make([]Document, 0)
	for _, doc := range m.docs {
		if filter.Type != "" && doc.Type != filter.Type {
			continue
		}
		docs = append(docs, *doc)
	}
	return docs, len(docs), nil
}

func (m *mockRepo) UpdateDraft(_ context.Context, _ DBTX, doc *Document) error {
	stored, ok := m.docs[doc.ID]
	if !ok {
		return shared.ErrNotFound
	}
	*stored = *doc
	stored.Balance = stored.Total - stored.PaidAmount
	return nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, _ DBTX, id int64, status, reason string) error {
	doc, ok := m.docs[id]
	if !ok {
		return shared.ErrNotFound
	}
	doc.Status = status
	doc.CancellationReason = reason
	return nil
}

func (m *mockRepo) Delete(_ context.Context, _ DBTX, id int64) error {
	if _, ok := m.docs[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

func (m *mockRepo) DeleteMany(_ context.Context, _ DBTX, ids []int64) error {
	for _, id := range ids {
		delete(m.docs, id)
	}
	return nil
}

func (m *mockRepo) HasActiveChild(_ context.Context, _ DBTX, parentID int64) (bool, error) {
	for _, doc := range m.docs {
		if doc.ParentID != nil && *doc.ParentID == parentID && doc.Status != StatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) CreditClient(_ context.Context, _ DBTX, clientID int64, delta float64) error {
	m.creditDeltas[clientID] += delta
	return nil
}

func (m *mockRepo) ListOverdue(context.Context, time.Time) ([]Document, error) {
	return m.overdue, nil
}

func (m *mockRepo) HasOverdueEvent(_ context.Context, documentID int64, _ time.Time) (bool, error) {
	return m.overdueEvents[documentID], nil
}

type stubIssuer struct {
	next map[string]int64
}

func (s *stubIssuer) IssueTx(_ context.Context, _ sequence.DBTX, kind string, period int) (sequence.IssuedNumber, error) {
	if s.next == nil {
		s.next = make(map[string]int64)
	}
	cfg, err := sequence.KindConfig(kind)
	if err != nil {
		return sequence.IssuedNumber{}, err
	}
	s.next[kind]++
	return sequence.IssuedNumber{
		Kind:      kind,
		Prefix:    cfg.Prefix,
		Period:    period,
		Value:     s.next[kind],
		Formatted: sequence.Format(cfg, period, s.next[kind]),
	}, nil
}

type stubRecorder struct {
	events []audit.Event
	err    error
}

func (s *stubRecorder) Record(_ context.Context, _ audit.DBTX, event audit.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *stubRecorder) FormatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

func (s *stubRecorder) lastAction() string {
	if len(s.events) == 0 {
		return ""
	}
	return s.events[len(s.events)-1].Action
}

func passTx(ctx context.Context, fn func(q DBTX) error) error {
	return fn(nil)
}

func newDocService(repo *mockRepo, rec *stubRecorder) *Service {
	return NewService(slog.Default(), repo, &stubIssuer{}, rec, nil, passTx)
}

func invoiceRequest() CreateDocumentRequest {
	return CreateDocumentRequest{
		Type:     TypeInvoice,
		ClientID: 10,
		Lines: []LineInput{
			{Description: "Consulting", Quantity: 10, UnitPrice: 100, TaxRate: 21},
		},
	}
}

func TestCreateComputesTotalsAndNumbers(t *testing.T) {
	repo := newMockRepo()
	rec := &stubRecorder{}
	svc := newDocService(repo, rec)

	doc, err := svc.Create(context.Background(), invoiceRequest())
	require.NoError(t, err)

	assert.Equal(t, StatusDraft, doc.Status)
	assert.Contains(t, doc.Number, "INV-")
	assert.Equal(t, 1000.0, doc.Subtotal)
	assert.Equal(t, 210.0, doc.TaxAmount)
	assert.Equal(t, 1210.0, doc.Total)
	assert.Equal(t, 1210.0, doc.Balance)
	require.NotNil(t, doc.DueDate, "invoices get a default due date")

	assert.Equal(t, 1210.0, repo.creditDeltas[10], "invoice credits the client aggregate")
	assert.Equal(t, audit.ActionDocumentCreated, rec.lastAction())
}

func TestCreateQuotationDoesNotTouchClientAggregate(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{})

	_, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:     TypeQuotation,
		ClientID: 10,
		Lines:    []LineInput{{Description: "Work", Quantity: 1, UnitPrice: 500}},
	})
	require.NoError(t, err)
	assert.Empty(t, repo.creditDeltas)
}

func TestCreateRejectsEmptyLines(t *testing.T) {
	svc := newDocService(newMockRepo(), &stubRecorder{})

	_, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:     TypeQuotation,
		ClientID: 10,
	})
	require.Error(t, err)
}

func TestCreateAuditFailureAborts(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{err: audit.ErrWriteFailed})

	_, err := svc.Create(context.Background(), invoiceRequest())
	require.ErrorIs(t, err, audit.ErrWriteFailed)
}

func TestUpdateDraftRecomputesTotals(t *testing.T) {
	repo := newMockRepo()
	rec := &stubRecorder{}
	svc := newDocService(repo, rec)

	doc, err := svc.Create(context.Background(), invoiceRequest())
	require.NoError(t, err)

	newLines := []LineInput{{Description: "Consulting", Quantity: 5, UnitPrice: 100, TaxRate: 21}}
	updated, err := svc.Update(context.Background(), doc.ID, UpdateDocumentRequest{Lines: &newLines})
	require.NoError(t, err)

	assert.Equal(t, 605.0, updated.Total)
	assert.InDelta(t, 605.0, repo.creditDeltas[10], 0.001, "client credit follows the new total")
	assert.Equal(t, audit.ActionDocumentUpdated, rec.lastAction())
}

func TestUpdateRejectsIssuedDocument(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{})

	doc, err := svc.Create(context.Background(), invoiceRequest())
	require.NoError(t, err)
	repo.docs[doc.ID].Status = StatusSent

	notes := "late edit"
	_, err = svc.Update(context.Background(), doc.ID, UpdateDocumentRequest{Notes: &notes})
	require.ErrorIs(t, err, ErrImmutableDocument)
}

func TestTransitionHappyPath(t *testing.T) {
	repo := newMockRepo()
	rec := &stubRecorder{}
	svc := newDocService(repo, rec)

	doc, err := svc.Create(context.Background(), invoiceRequest())
	require.NoError(t, err)

	updated, err := svc.Transition(context.Background(), doc.ID, TransitionRequest{Status: StatusConfirmed})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)
	assert.Equal(t, StatusConfirmed, repo.docs[doc.ID].Status)
	require.NotNil(t, updated.ConfirmedAt, "returned document carries the confirmation stamp")
	assert.Equal(t, audit.ActionStatusChanged, rec.lastAction())
}

func TestTransitionIllegal(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{})

	doc, err := svc.Create(context.Background(), invoiceRequest())
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), doc.ID, TransitionRequest{Status: StatusViewed})
	require.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, StatusDraft, repo.docs[doc.ID].Status, "failed transition leaves status untouched")
}

func TestTransitionCancelInvoiceUnwindsClientCredit(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{})

	doc, err := svc.Create(context.Background(), invoiceRequest())
	require.NoError(t, err)
	repo.docs[doc.ID].Status = StatusSent

	cancelled, err := svc.Transition(context.Background(), doc.ID, TransitionRequest{Status: StatusCancelled, Reason: "void"})
	require.NoError(t, err)
	require.NotNil(t, cancelled.CancelledAt)
	assert.InDelta(t, 0.0, repo.creditDeltas[10], 0.001, "cancellation restores the aggregate")
}

func TestConvertQuotationToPurchaseOrder(t *testing.T) {
	repo := newMockRepo()
	rec := &stubRecorder{}
	svc := newDocService(repo, rec)

	src, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:     TypeQuotation,
		ClientID: 10,
		Lines:    []LineInput{{Description: "Hosting", Quantity: 12, UnitPrice: 30, TaxRate: 21}},
	})
	require.NoError(t, err)
	repo.docs[src.ID].Status = StatusAccepted

	child, err := svc.Convert(context.Background(), src.ID, ConvertRequest{TargetType: TypePurchaseOrder})
	require.NoError(t, err)

	assert.Equal(t, TypePurchaseOrder, child.Type)
	assert.Equal(t, StatusDraft, child.Status)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, src.ID, *child.ParentID)
	assert.Contains(t, child.Number, "PO-")
	assert.Equal(t, src.Total, child.Total, "repriced lines give the same totals for identical inputs")
	require.Len(t, child.Lines, 1)
	assert.Equal(t, audit.ActionDocumentConverted, rec.lastAction())
}

func TestConvertTwiceRejected(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{})

	src, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:     TypeQuotation,
		ClientID: 10,
		Lines:    []LineInput{{Description: "Work", Quantity: 1, UnitPrice: 100}},
	})
	require.NoError(t, err)
	repo.docs[src.ID].Status = StatusAccepted

	_, err = svc.Convert(context.Background(), src.ID, ConvertRequest{TargetType: TypePurchaseOrder})
	require.NoError(t, err)

	_, err = svc.Convert(context.Background(), src.ID, ConvertRequest{TargetType: TypePurchaseOrder})
	require.ErrorIs(t, err, ErrAlreadyConverted)
}

func TestConvertAgainAfterChildCancelled(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{})

	src, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:     TypeQuotation,
		ClientID: 10,
		Lines:    []LineInput{{Description: "Work", Quantity: 1, UnitPrice: 100}},
	})
	require.NoError(t, err)
	repo.docs[src.ID].Status = StatusAccepted

	child, err := svc.Convert(context.Background(), src.ID, ConvertRequest{TargetType: TypePurchaseOrder})
	require.NoError(t, err)
	repo.docs[child.ID].Status = StatusCancelled

	again, err := svc.Convert(context.Background(), src.ID, ConvertRequest{TargetType: TypePurchaseOrder})
	require.NoError(t, err, "a cancelled child does not block re-conversion")
	assert.NotEqual(t, child.Number, again.Number)
}

func TestConvertToInvoiceCreditsClient(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{})

	src, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:     TypeAcceptanceReport,
		ClientID: 10,
		Lines:    []LineInput{{Description: "Milestone", Quantity: 1, UnitPrice: 2000, TaxRate: 21}},
	})
	require.NoError(t, err)
	repo.docs[src.ID].Status = StatusSigned

	child, err := svc.Convert(context.Background(), src.ID, ConvertRequest{TargetType: TypeInvoice})
	require.NoError(t, err)
	assert.Equal(t, TypeInvoice, child.Type)
	require.NotNil(t, child.DueDate)
	assert.InDelta(t, 2420.0, repo.creditDeltas[10], 0.001)
}

func TestConvertWrongTarget(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{})

	src, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:     TypeQuotation,
		ClientID: 10,
		Lines:    []LineInput{{Description: "Work", Quantity: 1, UnitPrice: 100}},
	})
	require.NoError(t, err)
	repo.docs[src.ID].Status = StatusAccepted

	_, err = svc.Convert(context.Background(), src.ID, ConvertRequest{TargetType: TypeInvoice})
	require.ErrorIs(t, err, ErrInvalidConversionPath)
}

func TestDeleteDraftOnly(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{})

	doc, err := svc.Create(context.Background(), invoiceRequest())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), doc.ID))
	assert.NotContains(t, repo.docs, doc.ID)
	assert.InDelta(t, 0.0, repo.creditDeltas[10], 0.001, "deleting a draft invoice unwinds the aggregate")

	doc2, err := svc.Create(context.Background(), invoiceRequest())
	require.NoError(t, err)
	repo.docs[doc2.ID].Status = StatusSent

	err = svc.Delete(context.Background(), doc2.ID)
	require.ErrorIs(t, err, ErrImmutableDocument)
}

func TestBulkSetStatusSkipsTransitionTables(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{})

	var ids []int64
	for i := 0; i < 2; i++ {
		doc, err := svc.Create(context.Background(), CreateDocumentRequest{
			Type:     TypeQuotation,
			ClientID: 10,
			Lines:    []LineInput{{Description: "Work", Quantity: 1, UnitPrice: 100}},
		})
		require.NoError(t, err)
		ids = append(ids, doc.ID)
	}
	// REJECTED -> CONFIRMED is not a legal lifecycle transition, but bulk
	// corrections bypass the tables.
	repo.docs[ids[1]].Status = StatusRejected

	affected, err := svc.BulkSetStatus(context.Background(), BulkStatusRequest{IDs: ids, Status: StatusConfirmed})
	require.NoError(t, err)
	assert.Equal(t, 2, affected)
	assert.Equal(t, StatusConfirmed, repo.docs[ids[0]].Status)
	assert.Equal(t, StatusConfirmed, repo.docs[ids[1]].Status)
}

func TestBulkSetStatusRejectsDerivedAndLedgerStatuses(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{})

	doc, err := svc.Create(context.Background(), invoiceRequest())
	require.NoError(t, err)

	for _, status := range []string{StatusPaid, StatusOverdue} {
		_, err := svc.BulkSetStatus(context.Background(), BulkStatusRequest{IDs: []int64{doc.ID}, Status: status})
		require.Error(t, err, status)
		assert.Equal(t, StatusDraft, repo.docs[doc.ID].Status)
	}
}

func TestBulkCancelInvoiceUncreditsClient(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{})

	doc, err := svc.Create(context.Background(), invoiceRequest())
	require.NoError(t, err)
	repo.docs[doc.ID].Status = StatusSent

	_, err = svc.BulkSetStatus(context.Background(), BulkStatusRequest{
		IDs: []int64{doc.ID}, Status: StatusCancelled, Reason: "duplicate billing",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, repo.creditDeltas[10], 0.001, "cancelled invoice no longer counts as invoiced")
}

func TestBulkSetStatusAppliesAll(t *testing.T) {
	repo := newMockRepo()
	rec := &stubRecorder{}
	svc := newDocService(repo, rec)

	var ids []int64
	for i := 0; i < 3; i++ {
		doc, err := svc.Create(context.Background(), CreateDocumentRequest{
			Type:     TypeQuotation,
			ClientID: 10,
			Lines:    []LineInput{{Description: "Work", Quantity: 1, UnitPrice: 100}},
		})
		require.NoError(t, err)
		ids = append(ids, doc.ID)
	}

	affected, err := svc.BulkSetStatus(context.Background(), BulkStatusRequest{IDs: ids, Status: StatusConfirmed})
	require.NoError(t, err)
	assert.Equal(t, 3, affected)
	for _, id := range ids {
		assert.Equal(t, StatusConfirmed, repo.docs[id].Status)
	}
	var bulkEvents int
	for _, e := range rec.events {
		if e.Action == audit.ActionBulkStatusChanged {
			bulkEvents++
		}
	}
	assert.Equal(t, 3, bulkEvents, "one trail record per member")
}

func TestBulkSetStatusMissingMember(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{})

	doc, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:     TypeQuotation,
		ClientID: 10,
		Lines:    []LineInput{{Description: "Work", Quantity: 1, UnitPrice: 100}},
	})
	require.NoError(t, err)

	_, err = svc.BulkSetStatus(context.Background(), BulkStatusRequest{IDs: []int64{doc.ID, 999}, Status: StatusConfirmed})
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.Equal(t, StatusDraft, repo.docs[doc.ID].Status)
}

func TestBulkDeleteRejectsNonDraft(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{})

	a, err := svc.Create(context.Background(), invoiceRequest())
	require.NoError(t, err)
	b, err := svc.Create(context.Background(), invoiceRequest())
	require.NoError(t, err)
	repo.docs[b.ID].Status = StatusSent

	_, err = svc.BulkDelete(context.Background(), BulkDeleteRequest{IDs: []int64{a.ID, b.ID}})
	require.ErrorIs(t, err, ErrImmutableDocument)

	var rejection *BulkRejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, []string{b.Number}, rejection.Numbers)
	assert.Contains(t, repo.docs, a.ID, "batch rejected wholesale")
}

func TestBulkDeleteDrafts(t *testing.T) {
	repo := newMockRepo()
	svc := newDocService(repo, &stubRecorder{})

	a, err := svc.Create(context.Background(), invoiceRequest())
	require.NoError(t, err)
	b, err := svc.Create(context.Background(), invoiceRequest())
	require.NoError(t, err)

	deleted, err := svc.BulkDelete(context.Background(), BulkDeleteRequest{IDs: []int64{a.ID, b.ID}})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Empty(t, repo.docs)
	assert.InDelta(t, 0.0, repo.creditDeltas[10], 0.001)
}

func TestMarkOverdueRecordsTrail(t *testing.T) {
	repo := newMockRepo()
	rec := &stubRecorder{}
	svc := newDocService(repo, rec)

	due := mustDate("2026-08-01")
	repo.overdue = []Document{
		{ID: 1, Number: "INV-2026-000001", Type: TypeInvoice, Status: StatusSent, DueDate: &due, Balance: 500},
		{ID: 2, Number: "INV-2026-000002", Type: TypeInvoice, Status: StatusViewed, DueDate: &due, Balance: 120},
	}

	count, err := svc.MarkOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.Len(t, rec.events, 2)
	assert.Equal(t, audit.ActionInvoiceOverdue, rec.events[0].Action)
	assert.Equal(t, audit.SeverityWarning, rec.events[0].Severity)
	assert.Equal(t, shared.System.Name, rec.events[0].ActorName)
}

func TestMarkOverdueSkipsAlreadyRecorded(t *testing.T) {
	repo := newMockRepo()
	rec := &stubRecorder{}
	svc := newDocService(repo, rec)

	due := mustDate("2026-08-01")
	repo.overdue = []Document{
		{ID: 1, Number: "INV-2026-000001", Type: TypeInvoice, Status: StatusSent, DueDate: &due, Balance: 500},
		{ID: 2, Number: "INV-2026-000002", Type: TypeInvoice, Status: StatusViewed, DueDate: &due, Balance: 120},
	}
	repo.overdueEvents[1] = true

	count, err := svc.MarkOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count, "still counts every overdue invoice")
	require.Len(t, rec.events, 1, "trail written only for the newly observed one")
	assert.Equal(t, "INV-2026-000002", rec.events[0].DocumentNumber)
}
