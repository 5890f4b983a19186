package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline-erp/ledgerline/internal/audit"
	"github.com/ledgerline-erp/ledgerline/internal/sequence"
	"github.com/ledgerline-erp/ledgerline/internal/shared"
)

type mockRepository struct {
	mu            sync.Mutex
	clients       map[int64]*Client
	nextID        int64
	stored        map[int64][3]float64 // invoiced, paid, balance
	computed      map[int64][2]float64 // invoiced, paid
	setCalls      int
	aggregatesErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		clients:  make(map[int64]*Client),
		stored:   make(map[int64][3]float64),
		computed: make(map[int64][2]float64),
	}
}

func (m *mockRepository) Create(_ context.Context, _ DBTX, number string, req CreateClientRequest) (*Client, error) {
	m.nextID++
	c := &Client{ID: m.nextID, Number: number, Name: req.Name, Email: req.Email}
	m.clients[c.ID] = c
	return c, nil
}

func (m *mockRepository) Get(_ context.Context, id int64) (*Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return c, nil
}

func (m *mockRepository) List(context.Context, shared.PageRequest) ([]Client, error) {
	list := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		list = append(list, *c)
	}
	return list, nil
}

func (m *mockRepository) Update(_ context.Context, id int64, req UpdateClientRequest) (*Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	if req.Name != nil {
		c.Name = *req.Name
	}
	return c, nil
}

func (m *mockRepository) Aggregates(_ context.Context, _ DBTX, id int64) (float64, float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aggregatesErr != nil {
		return 0, 0, 0, m.aggregatesErr
	}
	s, ok := m.stored[id]
	if !ok {
		return 0, 0, 0, shared.ErrNotFound
	}
	return s[0], s[1], s[2], nil
}

func (m *mockRepository) ComputeAggregates(_ context.Context, _ DBTX, id int64) (float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.computed[id]
	return c[0], c[1], nil
}

func (m *mockRepository) SetAggregates(_ context.Context, _ DBTX, id int64, invoiced, paid, balance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	m.stored[id] = [3]float64{invoiced, paid, balance}
	return nil
}

func (m *mockRepository) IDs(context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(m.stored))
	for id := range m.stored {
		ids = append(ids, id)
	}
	return ids, nil
}

type mockIssuer struct {
	next int64
}

func (m *mockIssuer) IssueTx(_ context.Context, _ sequence.DBTX, kind string, _ int) (sequence.IssuedNumber, error) {
	m.next++
	cfg, err := sequence.KindConfig(kind)
	if err != nil {
		return sequence.IssuedNumber{}, err
	}
	return sequence.IssuedNumber{
		Kind:      kind,
		Prefix:    cfg.Prefix,
		Value:     m.next,
		Formatted: sequence.Format(cfg, 0, m.next),
	}, nil
}

type mockRecorder struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (m *mockRecorder) Record(_ context.Context, _ audit.DBTX, event audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockRecorder) FormatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

func directTx(ctx context.Context, fn func(q DBTX) error) error {
	return fn(nil)
}

func newTestService(repo *mockRepository, rec *mockRecorder) *Service {
	return NewService(slog.Default(), repo, &mockIssuer{}, rec, directTx)
}

func TestCreateIssuesNumberAndRecordsAudit(t *testing.T) {
	repo := newMockRepository()
	rec := &mockRecorder{}
	svc := newTestService(repo, rec)

	client, err := svc.Create(context.Background(), CreateClientRequest{
		Name:  "Acme s.r.o.",
		Email: "billing@acme.example",
	})
	require.NoError(t, err)
	assert.Equal(t, "CLI-000001", client.Number)

	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.ActionClientCreated, rec.events[0].Action)
	assert.Equal(t, audit.CategoryClient, rec.events[0].Category)
	assert.Equal(t, client.ID, rec.events[0].EntityID)
}

func TestCreateRejectsInvalidPayload(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo, &mockRecorder{})

	_, err := svc.Create(context.Background(), CreateClientRequest{Name: "X"})
	require.Error(t, err)
	assert.Empty(t, repo.clients, "nothing persisted on validation failure")
}

func TestCreateAuditFailureAborts(t *testing.T) {
	repo := newMockRepository()
	rec := &mockRecorder{err: audit.ErrWriteFailed}
	svc := newTestService(repo, rec)

	_, err := svc.Create(context.Background(), CreateClientRequest{
		Name:  "Acme s.r.o.",
		Email: "billing@acme.example",
	})
	require.ErrorIs(t, err, audit.ErrWriteFailed)
}

func TestReconcileNoDrift(t *testing.T) {
	repo := newMockRepository()
	repo.stored[1] = [3]float64{1000, 400, 600}
	repo.computed[1] = [2]float64{1000, 400}
	rec := &mockRecorder{}
	svc := newTestService(repo, rec)

	result, err := svc.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, result.Drifted)
	assert.Equal(t, 0, repo.setCalls)
	assert.Empty(t, rec.events, "clean aggregates leave no trail")
}

func TestReconcileRepairsDrift(t *testing.T) {
	repo := newMockRepository()
	repo.stored[1] = [3]float64{1000, 400, 600}
	repo.computed[1] = [2]float64{1200, 400}
	rec := &mockRecorder{}
	svc := newTestService(repo, rec)

	result, err := svc.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, result.Drifted)
	assert.Equal(t, 1200.0, result.TotalInvoiced)
	assert.Equal(t, 800.0, result.Balance)
	assert.Equal(t, [3]float64{1200, 400, 800}, repo.stored[1])

	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.ActionClientReconciled, rec.events[0].Action)
	assert.Equal(t, audit.SeverityWarning, rec.events[0].Severity)
}

func TestReconcileToleratesFloatNoise(t *testing.T) {
	repo := newMockRepository()
	repo.stored[1] = [3]float64{0.3, 0.1, 0.2}
	repo.computed[1] = [2]float64{0.1 + 0.2, 0.1}
	svc := newTestService(repo, &mockRecorder{})

	result, err := svc.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, result.Drifted, "representation noise is not drift")
}

func TestReconcileUnknownClient(t *testing.T) {
	svc := newTestService(newMockRepository(), &mockRecorder{})

	_, err := svc.Reconcile(context.Background(), 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReconcileAllContinuesOnFailure(t *testing.T) {
	repo := newMockRepository()
	repo.stored[1] = [3]float64{100, 0, 100}
	repo.computed[1] = [2]float64{150, 0}
	repo.stored[2] = [3]float64{50, 50, 0}
	repo.computed[2] = [2]float64{50, 50}
	svc := newTestService(repo, &mockRecorder{})

	repaired, err := svc.ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
}

func TestReconcileAggregateReadFailure(t *testing.T) {
	repo := newMockRepository()
	repo.aggregatesErr = errors.New("timeout")
	svc := newTestService(repo, &mockRecorder{})

	_, err := svc.Reconcile(context.Background(), 1)
	require.Error(t, err)
}
