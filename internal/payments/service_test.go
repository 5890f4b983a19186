package payments

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline-erp/ledgerline/internal/audit"
	"github.com/ledgerline-erp/ledgerline/internal/documents"
	"github.com/ledgerline-erp/ledgerline/internal/money"
	"github.com/ledgerline-erp/ledgerline/internal/sequence"
	"github.com/ledgerline-erp/ledgerline/internal/shared"
)

type mockLedgerRepo struct {
	invoices   map[int64]*invoiceState
	payments   []Payment
	clientPaid map[int64]float64
}

func newMockLedgerRepo() *mockLedgerRepo {
	return &mockLedgerRepo{
		invoices:   make(map[int64]*invoiceState),
		clientPaid: make(map[int64]float64),
	}
}

func (m *mockLedgerRepo) LockInvoice(_ context.Context, _ DBTX, id int64) (*invoiceState, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *inv
	return &copied, nil
}

func (m *mockLedgerRepo) DebitInvoice(_ context.Context, _ DBTX, id int64, amount float64) (float64, float64, bool, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return 0, 0, false, nil
	}
	// same guard the SQL enforces
	if inv.Type != documents.TypeInvoice ||
		inv.Status == documents.StatusDraft || inv.Status == documents.StatusCancelled ||
		inv.Balance < amount-money.Tolerance {
		return 0, 0, false, nil
	}
	inv.PaidAmount = money.Add(inv.PaidAmount, amount)
	inv.Balance = money.Sub(inv.Balance, amount)
	return inv.PaidAmount, inv.Balance, true, nil
}

func (m *mockLedgerRepo) MarkPaid(_ context.Context, _ DBTX, id int64) (bool, error) {
	inv := m.invoices[id]
	if inv.Status == documents.StatusPaid {
		return false, nil
	}
	inv.Status = documents.StatusPaid
	return true, nil
}

func (m *mockLedgerRepo) Insert(_ context.Context, _ DBTX, p *Payment) error {
	p.ID = int64(len(m.payments) + 1)
	m.payments = append(m.payments, *p)
	return nil
}

func (m *mockLedgerRepo) CreditClient(_ context.Context, _ DBTX, clientID int64, amount float64) error {
	m.clientPaid[clientID] += amount
	return nil
}

func (m *mockLedgerRepo) ListByDocument(_ context.Context, id int64) ([]Payment, error) {
	var out []Payment
	for _, p := range m.payments {
		if p.DocumentID == id {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockLedgerRepo) List(context.Context, ListFilter, shared.PageRequest) ([]Payment, int, error) {
	return m.payments, len(m.payments), nil
}

func (m *mockLedgerRepo) TotalsByMethod(context.Context, time.Time, time.Time) ([]MethodTotal, error) {
	byMethod := map[string]*MethodTotal{}
	for _, p := range m.payments {
		t, ok := byMethod[p.Method]
		if !ok {
			t = &MethodTotal{Method: p.Method}
			byMethod[p.Method] = t
		}
		t.Count++
		t.Sum += p.Amount
	}
	var out []MethodTotal
	for _, t := range byMethod {
		out = append(out, *t)
	}
	return out, nil
}

type stubIssuer struct {
	next int64
}

func (s *stubIssuer) IssueTx(_ context.Context, _ sequence.DBTX, kind string, period int) (sequence.IssuedNumber, error) {
	cfg, err := sequence.KindConfig(kind)
	if err != nil {
		return sequence.IssuedNumber{}, err
	}
	s.next++
	return sequence.IssuedNumber{
		Kind:      kind,
		Period:    period,
		Value:     s.next,
		Formatted: sequence.Format(cfg, period, s.next),
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

func (s *stubRecorder) actions() []string {
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Action
	}
	return out
}

func passTx(ctx context.Context, fn func(q DBTX) error) error {
	return fn(nil)
}

func newLedgerService(repo *mockLedgerRepo, rec *stubRecorder) *Service {
	return NewService(slog.Default(), repo, &stubIssuer{}, rec, nil, nil, passTx)
}

func seedInvoice(repo *mockLedgerRepo, id int64, status string, total, paid float64) {
	repo.invoices[id] = &invoiceState{
		ID:         id,
		Number:     fmt.Sprintf("INV-2026-%06d", id),
		Type:       documents.TypeInvoice,
		Status:     status,
		ClientID:   10,
		Total:      total,
		PaidAmount: paid,
		Balance:    money.Sub(total, paid),
	}
}

func TestApplyPartialPayment(t *testing.T) {
	repo := newMockLedgerRepo()
	seedInvoice(repo, 1, documents.StatusSent, 1000, 0)
	rec := &stubRecorder{}
	svc := newLedgerService(repo, rec)

	result, err := svc.Apply(context.Background(), ApplyPaymentRequest{
		DocumentID: 1, Amount: 400, Method: MethodTransfer, Reference: "wire-778",
	})
	require.NoError(t, err)

	assert.Equal(t, 400.0, result.PaidAmount)
	assert.Equal(t, 600.0, result.Balance)
	assert.Equal(t, documents.StatusSent, result.DocumentStatus, "partial payment leaves the status alone")
	assert.Contains(t, result.Payment.Number, "PAY-")
	assert.Equal(t, StatusCompleted, result.Payment.Status)

	assert.Equal(t, 400.0, repo.clientPaid[10])
	assert.Equal(t, []string{audit.ActionPaymentApplied}, rec.actions())
}

func TestApplySettlingPaymentMarksPaid(t *testing.T) {
	repo := newMockLedgerRepo()
	seedInvoice(repo, 1, documents.StatusSent, 1000, 600)
	rec := &stubRecorder{}
	svc := newLedgerService(repo, rec)

	result, err := svc.Apply(context.Background(), ApplyPaymentRequest{
		DocumentID: 1, Amount: 400, Method: MethodCash,
	})
	require.NoError(t, err)

	assert.Equal(t, documents.StatusPaid, result.DocumentStatus)
	assert.Equal(t, 0.0, result.Balance)
	assert.Equal(t, documents.StatusPaid, repo.invoices[1].Status)
	assert.Equal(t, []string{audit.ActionInvoicePaid, audit.ActionPaymentApplied}, rec.actions())
}

func TestApplyToleranceSettles(t *testing.T) {
	repo := newMockLedgerRepo()
	seedInvoice(repo, 1, documents.StatusSent, 100.004, 0)
	svc := newLedgerService(repo, &stubRecorder{})

	result, err := svc.Apply(context.Background(), ApplyPaymentRequest{
		DocumentID: 1, Amount: 100, Method: MethodCard,
	})
	require.NoError(t, err)
	assert.Equal(t, documents.StatusPaid, result.DocumentStatus, "sub-cent residue counts as settled")
}

func TestApplyOverpaymentRejected(t *testing.T) {
	repo := newMockLedgerRepo()
	seedInvoice(repo, 1, documents.StatusSent, 1000, 800)
	rec := &stubRecorder{}
	svc := newLedgerService(repo, rec)

	_, err := svc.Apply(context.Background(), ApplyPaymentRequest{
		DocumentID: 1, Amount: 300, Method: MethodCash,
	})
	require.ErrorIs(t, err, ErrOverpaymentRejected)
	assert.Equal(t, 800.0, repo.invoices[1].PaidAmount, "rejected payment writes nothing")
	assert.Empty(t, repo.payments)
	assert.Empty(t, rec.events)
}

func TestApplyInvalidAmount(t *testing.T) {
	svc := newLedgerService(newMockLedgerRepo(), &stubRecorder{})

	_, err := svc.Apply(context.Background(), ApplyPaymentRequest{DocumentID: 1, Amount: 0, Method: MethodCash})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Apply(context.Background(), ApplyPaymentRequest{DocumentID: 1, Amount: -50, Method: MethodCash})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestApplyRejectsUnpayableDocuments(t *testing.T) {
	repo := newMockLedgerRepo()
	seedInvoice(repo, 1, documents.StatusDraft, 1000, 0)
	seedInvoice(repo, 2, documents.StatusCancelled, 1000, 0)
	repo.invoices[3] = &invoiceState{ID: 3, Number: "QT-2026-000003", Type: documents.TypeQuotation, Status: documents.StatusSent, ClientID: 10, Total: 500, Balance: 500}
	svc := newLedgerService(repo, &stubRecorder{})

	for _, id := range []int64{1, 2, 3} {
		_, err := svc.Apply(context.Background(), ApplyPaymentRequest{DocumentID: id, Amount: 100, Method: MethodCash})
		require.ErrorIs(t, err, ErrNotPayable, "document %d", id)
	}
}

func TestApplyUnknownDocument(t *testing.T) {
	svc := newLedgerService(newMockLedgerRepo(), &stubRecorder{})

	_, err := svc.Apply(context.Background(), ApplyPaymentRequest{DocumentID: 42, Amount: 100, Method: MethodCash})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestApplyAuditFailureAborts(t *testing.T) {
	repo := newMockLedgerRepo()
	seedInvoice(repo, 1, documents.StatusSent, 1000, 0)
	svc := newLedgerService(repo, &stubRecorder{err: audit.ErrWriteFailed})

	_, err := svc.Apply(context.Background(), ApplyPaymentRequest{DocumentID: 1, Amount: 100, Method: MethodCash})
	require.ErrorIs(t, err, audit.ErrWriteFailed)
}

func TestApplySequentialPaymentsAccumulate(t *testing.T) {
	repo := newMockLedgerRepo()
	seedInvoice(repo, 1, documents.StatusSent, 300, 0)
	svc := newLedgerService(repo, &stubRecorder{})

	for i := 0; i < 3; i++ {
		_, err := svc.Apply(context.Background(), ApplyPaymentRequest{DocumentID: 1, Amount: 100, Method: MethodTransfer})
		require.NoError(t, err)
	}

	assert.Equal(t, documents.StatusPaid, repo.invoices[1].Status)
	assert.Equal(t, 300.0, repo.clientPaid[10])
	require.Len(t, repo.payments, 3)
	assert.NotEqual(t, repo.payments[0].Number, repo.payments[1].Number)

	_, err := svc.Apply(context.Background(), ApplyPaymentRequest{DocumentID: 1, Amount: 100, Method: MethodTransfer})
	require.ErrorIs(t, err, ErrOverpaymentRejected, "a settled invoice accepts no further money")
}
