package audit

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline-erp/ledgerline/internal/shared"
)

type fakeDB struct {
	execErr  error
	execs    int
	lastSQL  string
	lastArgs []any
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs++
	f.lastSQL = sql
	f.lastArgs = args
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func testCtx() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: 7, Name: "jan.kovar", Role: "admin"})
}

func TestRecordFillsDefaults(t *testing.T) {
	db := &fakeDB{}
	rec := NewRecorder(slog.Default())

	err := rec.Record(testCtx(), db, Event{
		Action:     ActionDocumentCreated,
		EntityType: "document",
		EntityID:   42,
	})
	require.NoError(t, err)
	require.Equal(t, 1, db.execs)

	// positional args: action, category, severity, ..., actor_id, actor_name
	assert.Equal(t, ActionDocumentCreated, db.lastArgs[0])
	assert.Equal(t, CategorySystem, db.lastArgs[1])
	assert.Equal(t, SeverityInfo, db.lastArgs[2])
	assert.Equal(t, int64(7), db.lastArgs[6])
	assert.Equal(t, "jan.kovar", db.lastArgs[7])
	createdAt, ok := db.lastArgs[11].(time.Time)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().UTC(), createdAt, time.Minute)
}

func TestRecordKeepsExplicitActor(t *testing.T) {
	db := &fakeDB{}
	rec := NewRecorder(slog.Default())

	err := rec.Record(context.Background(), db, Event{
		Action:     ActionInvoiceOverdue,
		Category:   CategoryFinancial,
		Severity:   SeverityWarning,
		EntityType: "document",
		EntityID:   9,
		ActorID:    shared.System.ID,
		ActorName:  shared.System.Name,
	})
	require.NoError(t, err)
	assert.Equal(t, CategoryFinancial, db.lastArgs[1])
	assert.Equal(t, SeverityWarning, db.lastArgs[2])
	assert.Equal(t, "system", db.lastArgs[7])
}

func TestRecordRejectsMissingActor(t *testing.T) {
	db := &fakeDB{}
	rec := NewRecorder(slog.Default())

	err := rec.Record(context.Background(), db, Event{Action: ActionDocumentCreated})
	require.ErrorIs(t, err, ErrWriteFailed)
	assert.Equal(t, 0, db.execs, "nothing written without an actor")
}

func TestRecordWriteFailure(t *testing.T) {
	db := &fakeDB{execErr: errors.New("relation does not exist")}
	rec := NewRecorder(slog.Default())

	err := rec.Record(testCtx(), db, Event{Action: ActionPaymentApplied, EntityType: "document", EntityID: 1})
	require.ErrorIs(t, err, ErrWriteFailed)
}

func TestFormatAmount(t *testing.T) {
	rec := NewRecorder(slog.Default())
	assert.Equal(t, "1,234.50", rec.FormatAmount(1234.5))
	assert.Equal(t, "0.00", rec.FormatAmount(0))
}

func TestBuildWhere(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	where, args := buildWhere(SearchFilter{
		From:           &from,
		Action:         ActionPaymentApplied,
		DocumentNumber: "INV-2026",
	})
	assert.Equal(t, " WHERE created_at >= $1 AND action = $2 AND document_number ILIKE $3", where)
	require.Len(t, args, 3)
	assert.Equal(t, "%INV-2026%", args[2])
}

func TestBuildWhereEmpty(t *testing.T) {
	where, args := buildWhere(SearchFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}
