package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverdueScan sweeps issued invoices past their due date.
	TaskOverdueScan = "documents:overdue_scan"
	// TaskClientReconcile recomputes client aggregates from the ledger.
	TaskClientReconcile = "clients:reconcile"
)

// OverdueScanPayload parameterises one overdue sweep. Empty means "now".
type OverdueScanPayload struct {
	RequestedBy string `json:"requestedBy,omitempty"`
}

// ReconcilePayload scopes a reconciliation run. ClientID zero sweeps everyone.
type ReconcilePayload struct {
	ClientID int64 `json:"clientId,omitempty"`
}

// NewOverdueScanTask constructs an overdue-scan task. The task id makes
// repeated cron firings within a retention window deduplicate.
func NewOverdueScanTask(payload OverdueScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueScan, data, asynq.TaskID(uuid.NewString())), nil
}

// NewReconcileTask constructs a reconciliation task.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskClientReconcile, data, asynq.TaskID(uuid.NewString())), nil
}
