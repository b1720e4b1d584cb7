package sync

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jakemccloskey/nango/internal/models"
)

// formatRecords normalizes raw script output into the storage shape:
// every record gets the connection row id, model name and a shared batch
// id. The external id comes from the record's "id" field; a record
// without one cannot be reconciled.
func formatRecords(raw []map[string]interface{}, model string, connectionRowID int64, syncID string, syncJobID int64) ([]models.DataRecord, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	batchID := uuid.New().String()
	records := make([]models.DataRecord, 0, len(raw))
	for i, payload := range raw {
		externalID := externalID(payload)
		if externalID == "" {
			return nil, fmt.Errorf("record %d for model %s has no id field", i, model)
		}
		records = append(records, models.DataRecord{
			ExternalID:   externalID,
			ConnectionID: connectionRowID,
			Model:        model,
			SyncID:       syncID,
			SyncJobID:    syncJobID,
			BatchID:      batchID,
			Payload:      payload,
		})
	}
	return records, nil
}

// externalID stringifies the record's id field. Providers emit string and
// numeric ids; both are normalized to their string form.
func externalID(payload map[string]interface{}) string {
	switch id := payload["id"].(type) {
	case string:
		return id
	case float64:
		if id == float64(int64(id)) {
			return fmt.Sprintf("%d", int64(id))
		}
		return fmt.Sprintf("%v", id)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", id)
	}
}
