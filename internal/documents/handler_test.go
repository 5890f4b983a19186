package documents

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorBulkRejectionListsNumbers(t *testing.T) {
	h := &Handler{logger: slog.Default()}

	rr := httptest.NewRecorder()
	h.respondError(rr, &BulkRejectionError{Numbers: []string{"INV-2026-000003", "PO-2026-000001"}})

	require.Equal(t, http.StatusConflict, rr.Code)

	var body struct {
		Code     string   `json:"code"`
		Rejected []string `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "immutable_document", body.Code)
	assert.Equal(t, []string{"INV-2026-000003", "PO-2026-000001"}, body.Rejected)
}
