package documents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline-erp/ledgerline/internal/audit"
	"github.com/ledgerline-erp/ledgerline/internal/money"
	"github.com/ledgerline-erp/ledgerline/internal/observability"
	"github.com/ledgerline-erp/ledgerline/internal/platform/db"
	"github.com/ledgerline-erp/ledgerline/internal/sequence"
	"github.com/ledgerline-erp/ledgerline/internal/shared"
)

// defaultInvoiceTerm is the payment term applied when an invoice is created
// without an explicit due date.
const defaultInvoiceTerm = 14 * 24 * time.Hour

// RepositoryPort defines data access methods for documents.
type RepositoryPort interface {
	Create(ctx context.Context, q DBTX, doc *Document) error
	Get(ctx context.Context, id int64) (*Document, error)
	GetForUpdate(ctx context.Context, q DBTX, id int64) (*Document, error)
	GetManyForUpdate(ctx context.Context, q DBTX, ids []int64) ([]Document, error)
	List(ctx context.Context, filter ListFilter, p shared.PageRequest) ([]Document, int, error)
	UpdateDraft(ctx context.Context, q DBTX, doc *Document) error
	UpdateStatus(ctx context.Context, q DBTX, id int64, status, reason string) error
	Delete(ctx context.Context, q DBTX, id int64) error
	DeleteMany(ctx context.Context, q DBTX, ids []int64) error
	HasActiveChild(ctx context.Context, q DBTX, parentID int64) (bool, error)
	CreditClient(ctx context.Context, q DBTX, clientID int64, delta float64) error
	ListOverdue(ctx context.Context, now time.Time) ([]Document, error)
	HasOverdueEvent(ctx context.Context, documentID int64, since time.Time) (bool, error)
}

// NumberIssuer allocates document numbers inside the caller's transaction.
type NumberIssuer interface {
	IssueTx(ctx context.Context, q sequence.DBTX, kind string, period int) (sequence.IssuedNumber, error)
}

// AuditRecorder persists audit events.
type AuditRecorder interface {
	Record(ctx context.Context, q audit.DBTX, event audit.Event) error
	FormatAmount(amount float64) string
}

// TxFunc runs fn inside one transaction.
type TxFunc func(ctx context.Context, fn func(q DBTX) error) error

// PoolTx adapts a pgx pool into a TxFunc with bounded conflict retry.
func PoolTx(pool *pgxpool.Pool) TxFunc {
	return func(ctx context.Context, fn func(q DBTX) error) error {
		return db.WithTxRetry(ctx, pool, func(tx pgx.Tx) error {
			return fn(tx)
		})
	}
}

// Service handles document business logic.
type Service struct {
	logger    *slog.Logger
	repo      RepositoryPort
	sequences NumberIssuer
	recorder  AuditRecorder
	metrics   *observability.Metrics
	validate  *validator.Validate
	inTx      TxFunc
	now       func() time.Time
}

// NewService builds Service instance.
func NewService(logger *slog.Logger, repo RepositoryPort, sequences NumberIssuer, recorder AuditRecorder, metrics *observability.Metrics, inTx TxFunc) *Service {
	return &Service{
		logger:    logger,
		repo:      repo,
		sequences: sequences,
		recorder:  recorder,
		metrics:   metrics,
		validate:  validator.New(),
		inTx:      inTx,
		now:       time.Now,
	}
}

// Create opens a new document in DRAFT, numbering it in the same transaction
// so a failed insert burns no number. Line totals are computed here; client
// totals are credited when the document is an invoice.
func (s *Service) Create(ctx context.Context, req CreateDocumentRequest) (*Document, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("documents: validate: %w", err)
	}

	issueDate := s.now().UTC()
	if req.IssueDate != nil {
		issueDate = *req.IssueDate
	}
	dueDate := req.DueDate
	if dueDate == nil && req.Type == TypeInvoice {
		d := issueDate.Add(defaultInvoiceTerm)
		dueDate = &d
	}

	lines, subtotal, tax, total := buildLines(req.Lines)
	doc := &Document{
		Type:      req.Type,
		Status:    StatusDraft,
		ClientID:  req.ClientID,
		IssueDate: issueDate,
		DueDate:   dueDate,
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     total,
		Notes:     req.Notes,
		Lines:     lines,
	}

	err := s.inTx(ctx, func(q DBTX) error {
		issued, err := s.sequences.IssueTx(ctx, q, req.Type, issueDate.Year())
		if err != nil {
			return err
		}
		doc.Number = issued.Formatted

		if err := s.repo.Create(ctx, q, doc); err != nil {
			return err
		}
		if doc.Type == TypeInvoice {
			if err := s.repo.CreditClient(ctx, q, doc.ClientID, doc.Total); err != nil {
				return err
			}
		}
		return s.recorder.Record(ctx, q, audit.Event{
			Action:         audit.ActionDocumentCreated,
			Category:       documentCategory(doc.Type),
			EntityType:     "document",
			EntityID:       doc.ID,
			DocumentNumber: doc.Number,
			Amount:         &doc.Total,
			Description:    fmt.Sprintf("%s %s created for %s", doc.Type, doc.Number, s.recorder.FormatAmount(doc.Total)),
		})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Get returns one document with lines.
func (s *Service) Get(ctx context.Context, id int64) (*Document, error) {
	return s.repo.Get(ctx, id)
}

// List returns one page of documents and the unpaged total.
func (s *Service) List(ctx context.Context, filter ListFilter, p shared.PageRequest) ([]Document, int, error) {
	return s.repo.List(ctx, filter, p)
}

// Update rewrites a draft. Documents that left DRAFT are immutable.
func (s *Service) Update(ctx context.Context, id int64, req UpdateDocumentRequest) (*Document, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("documents: validate: %w", err)
	}

	var updated *Document
	err := s.inTx(ctx, func(q DBTX) error {
		doc, err := s.repo.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return fmt.Errorf("%w: %s is %s", ErrImmutableDocument, doc.Number, doc.Status)
		}

		previousTotal := doc.Total
		if req.IssueDate != nil {
			doc.IssueDate = *req.IssueDate
		}
		if req.DueDate != nil {
			doc.DueDate = req.DueDate
		}
		if req.Notes != nil {
			doc.Notes = *req.Notes
		}
		if req.Lines != nil {
			doc.Lines, doc.Subtotal, doc.TaxAmount, doc.Total = buildLines(*req.Lines)
		}

		if err := s.repo.UpdateDraft(ctx, q, doc); err != nil {
			return err
		}
		doc.Balance = money.Sub(doc.Total, doc.PaidAmount)

		if doc.Type == TypeInvoice && !money.Equal(previousTotal, doc.Total) {
			if err := s.repo.CreditClient(ctx, q, doc.ClientID, money.Sub(doc.Total, previousTotal)); err != nil {
				return err
			}
		}
		updated = doc
		return s.recorder.Record(ctx, q, audit.Event{
			Action:         audit.ActionDocumentUpdated,
			Category:       documentCategory(doc.Type),
			EntityType:     "document",
			EntityID:       doc.ID,
			DocumentNumber: doc.Number,
			Amount:         &doc.Total,
			Description:    fmt.Sprintf("%s %s updated", doc.Type, doc.Number),
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Transition moves a document along its lifecycle. PAID is never reachable
// here; only the payment ledger sets it. Cancelling an issued invoice unwinds
// the client's invoiced total.
func (s *Service) Transition(ctx context.Context, id int64, req TransitionRequest) (*Document, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("documents: validate: %w", err)
	}

	var updated *Document
	err := s.inTx(ctx, func(q DBTX) error {
		doc, err := s.repo.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		if err := ValidateTransition(doc, req.Status, req.Reason); err != nil {
			return err
		}
		from := doc.Status
		if err := s.repo.UpdateStatus(ctx, q, doc.ID, req.Status, req.Reason); err != nil {
			return err
		}
		if doc.Type == TypeInvoice && req.Status == StatusCancelled {
			if err := s.repo.CreditClient(ctx, q, doc.ClientID, -doc.Total); err != nil {
				return err
			}
		}

		doc.Status = req.Status
		doc.CancellationReason = req.Reason
		stamped := s.now().UTC()
		switch req.Status {
		case StatusConfirmed:
			doc.ConfirmedAt = &stamped
		case StatusCancelled:
			doc.CancelledAt = &stamped
		}
		updated = doc

		severity := audit.SeverityInfo
		if req.Status == StatusCancelled {
			severity = audit.SeverityWarning
		}
		return s.recorder.Record(ctx, q, audit.Event{
			Action:         audit.ActionStatusChanged,
			Category:       documentCategory(doc.Type),
			Severity:       severity,
			EntityType:     "document",
			EntityID:       doc.ID,
			DocumentNumber: doc.Number,
			Description:    fmt.Sprintf("%s %s: %s -> %s", doc.Type, doc.Number, from, req.Status),
			Metadata:       map[string]any{"from": from, "to": req.Status, "reason": req.Reason},
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Convert derives the next document in the chain from a source. The child
// starts in DRAFT with the source's lines repriced, and the source may only
// ever carry one live child; cancelled children do not count.
func (s *Service) Convert(ctx context.Context, sourceID int64, req ConvertRequest) (*Document, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("documents: validate: %w", err)
	}

	var child *Document
	err := s.inTx(ctx, func(q DBTX) error {
		source, err := s.repo.GetForUpdate(ctx, q, sourceID)
		if err != nil {
			return err
		}
		if err := ValidateConversion(source, req.TargetType); err != nil {
			return err
		}
		converted, err := s.repo.HasActiveChild(ctx, q, source.ID)
		if err != nil {
			return err
		}
		if converted {
			return fmt.Errorf("%w: %s %s", ErrAlreadyConverted, source.Type, source.Number)
		}

		issueDate := s.now().UTC()
		if req.IssueDate != nil {
			issueDate = *req.IssueDate
		}
		dueDate := req.DueDate
		if dueDate == nil && req.TargetType == TypeInvoice {
			d := issueDate.Add(defaultInvoiceTerm)
			dueDate = &d
		}

		inputs := make([]LineInput, len(source.Lines))
		for i, l := range source.Lines {
			inputs[i] = LineInput{
				Description: l.Description,
				Quantity:    l.Quantity,
				UnitPrice:   l.UnitPrice,
				TaxRate:     l.TaxRate,
			}
		}
		lines, subtotal, tax, total := buildLines(inputs)

		issued, err := s.sequences.IssueTx(ctx, q, req.TargetType, issueDate.Year())
		if err != nil {
			return err
		}

		child = &Document{
			Number:    issued.Formatted,
			Type:      req.TargetType,
			Status:    StatusDraft,
			ClientID:  source.ClientID,
			ParentID:  &source.ID,
			IssueDate: issueDate,
			DueDate:   dueDate,
			Subtotal:  subtotal,
			TaxAmount: tax,
			Total:     total,
			Lines:     lines,
		}
		if err := s.repo.Create(ctx, q, child); err != nil {
			return err
		}
		if child.Type == TypeInvoice {
			if err := s.repo.CreditClient(ctx, q, child.ClientID, child.Total); err != nil {
				return err
			}
		}

		s.metrics.ObserveConversion(req.TargetType)
		return s.recorder.Record(ctx, q, audit.Event{
			Action:         audit.ActionDocumentConverted,
			Category:       documentCategory(child.Type),
			EntityType:     "document",
			EntityID:       child.ID,
			DocumentNumber: child.Number,
			Amount:         &child.Total,
			Description:    fmt.Sprintf("%s %s derived from %s %s", child.Type, child.Number, source.Type, source.Number),
			Metadata:       map[string]any{"sourceId": source.ID, "sourceNumber": source.Number},
		})
	})
	if err != nil {
		return nil, err
	}
	return child, nil
}

// Delete removes a draft. Its number stays burned; gaps are acceptable,
// reused numbers are not.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(q DBTX) error {
		doc, err := s.repo.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		if doc.Status != StatusDraft {
			return fmt.Errorf("%w: %s is %s", ErrImmutableDocument, doc.Number, doc.Status)
		}
		if err := s.repo.Delete(ctx, q, doc.ID); err != nil {
			return err
		}
		if doc.Type == TypeInvoice {
			if err := s.repo.CreditClient(ctx, q, doc.ClientID, -doc.Total); err != nil {
				return err
			}
		}
		return s.recorder.Record(ctx, q, audit.Event{
			Action:         audit.ActionDocumentDeleted,
			Category:       documentCategory(doc.Type),
			EntityType:     "document",
			EntityID:       doc.ID,
			DocumentNumber: doc.Number,
			Description:    fmt.Sprintf("%s %s deleted", doc.Type, doc.Number),
		})
	})
}

// BulkSetStatus stamps one target status onto a batch atomically. It is an
// administrative correction: the per-type transition tables are deliberately
// not consulted, so a REJECTED quotation can be forced back to CONFIRMED.
// Every member must exist or the whole batch fails before any write.
func (s *Service) BulkSetStatus(ctx context.Context, req BulkStatusRequest) (int, error) {
	if err := s.validate.Struct(req); err != nil {
		return 0, fmt.Errorf("documents: validate: %w", err)
	}

	var applied int
	err := s.inTx(ctx, func(q DBTX) error {
		docs, err := s.repo.GetManyForUpdate(ctx, q, req.IDs)
		if err != nil {
			return err
		}
		if len(docs) != len(req.IDs) {
			return fmt.Errorf("%w: %d of %d documents", shared.ErrNotFound, len(req.IDs)-len(docs), len(req.IDs))
		}
		for i := range docs {
			doc := &docs[i]
			if err := s.repo.UpdateStatus(ctx, q, doc.ID, req.Status, req.Reason); err != nil {
				return err
			}
			if doc.Type == TypeInvoice && req.Status == StatusCancelled && doc.Status != StatusCancelled {
				if err := s.repo.CreditClient(ctx, q, doc.ClientID, -doc.Total); err != nil {
					return err
				}
			}
			if doc.Type == TypeInvoice && req.Status != StatusCancelled && doc.Status == StatusCancelled {
				if err := s.repo.CreditClient(ctx, q, doc.ClientID, doc.Total); err != nil {
					return err
				}
			}
			if err := s.recorder.Record(ctx, q, audit.Event{
				Action:         audit.ActionBulkStatusChanged,
				Category:       documentCategory(doc.Type),
				EntityType:     "document",
				EntityID:       doc.ID,
				DocumentNumber: doc.Number,
				Description:    fmt.Sprintf("%s %s: %s -> %s (bulk)", doc.Type, doc.Number, doc.Status, req.Status),
				Metadata:       map[string]any{"from": doc.Status, "to": req.Status, "reason": req.Reason, "batch": len(docs)},
			}); err != nil {
				return err
			}
		}
		applied = len(docs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// BulkDelete removes a batch of drafts atomically: one non-draft member
// rejects the whole batch.
func (s *Service) BulkDelete(ctx context.Context, req BulkDeleteRequest) (int, error) {
	if err := s.validate.Struct(req); err != nil {
		return 0, fmt.Errorf("documents: validate: %w", err)
	}

	var deleted int
	err := s.inTx(ctx, func(q DBTX) error {
		docs, err := s.repo.GetManyForUpdate(ctx, q, req.IDs)
		if err != nil {
			return err
		}
		if len(docs) != len(req.IDs) {
			return fmt.Errorf("%w: %d of %d documents", shared.ErrNotFound, len(req.IDs)-len(docs), len(req.IDs))
		}
		var blocking []string
		for i := range docs {
			if docs[i].Status != StatusDraft {
				blocking = append(blocking, docs[i].Number)
			}
		}
		if len(blocking) > 0 {
			s.metrics.ObserveBulkRejection()
			return &BulkRejectionError{Numbers: blocking}
		}
		if err := s.repo.DeleteMany(ctx, q, req.IDs); err != nil {
			return err
		}
		for i := range docs {
			if docs[i].Type == TypeInvoice {
				if err := s.repo.CreditClient(ctx, q, docs[i].ClientID, -docs[i].Total); err != nil {
					return err
				}
			}
		}
		deleted = len(docs)

		return s.recorder.Record(ctx, q, audit.Event{
			Action:      audit.ActionBulkDeleted,
			Category:    audit.CategoryDocument,
			EntityType:  "document",
			Description: fmt.Sprintf("%d draft documents deleted", deleted),
			Metadata:    map[string]any{"ids": req.IDs},
		})
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// MarkOverdue sweeps issued invoices past their due date, records one warning
// per newly observed overdue invoice and reports the count. Stored statuses
// are untouched; OVERDUE stays derived.
func (s *Service) MarkOverdue(ctx context.Context) (int, error) {
	now := s.now().UTC()
	overdue, err := s.repo.ListOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	s.metrics.SetOverdueInvoices(len(overdue))

	for i := range overdue {
		doc := &overdue[i]
		if doc.DueDate != nil {
			seen, err := s.repo.HasOverdueEvent(ctx, doc.ID, *doc.DueDate)
			if err != nil {
				s.logger.WarnContext(ctx, "overdue trail lookup failed",
					slog.String("number", doc.Number), slog.Any("error", err))
			} else if seen {
				continue
			}
		}
		err := s.inTx(ctx, func(q DBTX) error {
			return s.recorder.Record(ctx, q, audit.Event{
				Action:         audit.ActionInvoiceOverdue,
				Category:       audit.CategoryFinancial,
				Severity:       audit.SeverityWarning,
				EntityType:     "document",
				EntityID:       doc.ID,
				DocumentNumber: doc.Number,
				ActorID:        shared.System.ID,
				ActorName:      shared.System.Name,
				Amount:         &doc.Balance,
				Description: fmt.Sprintf("Invoice %s overdue, %s outstanding",
					doc.Number, s.recorder.FormatAmount(doc.Balance)),
			})
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "overdue audit write failed",
				slog.String("number", doc.Number), slog.Any("error", err))
		}
	}
	return len(overdue), nil
}

func buildLines(inputs []LineInput) (lines []LineItem, subtotal, tax, total float64) {
	lines = make([]LineItem, len(inputs))
	for i, in := range inputs {
		net, lineTax, lineTotal := money.LineTotals(in.Quantity, in.UnitPrice, in.TaxRate)
		lines[i] = LineItem{
			Position:    i + 1,
			Description: in.Description,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			TaxRate:     in.TaxRate,
			Net:         net,
			Tax:         lineTax,
			Total:       lineTotal,
		}
		subtotal = money.Add(subtotal, net)
		tax = money.Add(tax, lineTax)
		total = money.Add(total, lineTotal)
	}
	return lines, subtotal, tax, total
}

func documentCategory(docType string) string {
	if docType == TypeInvoice || docType == TypeCreditNote {
		return audit.CategoryFinancial
	}
	return audit.CategoryDocument
}
