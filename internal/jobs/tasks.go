// Package jobs defines the background tasks that keep offerings and attendance
// summaries current, and the schedulers that enqueue them.
package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task type names.
const (
	TypeOfferingFinish  = "offering:finish"
	TypeFinishOverdue   = "offerings:finish-overdue"
	TypeSummaryBackfill = "summaries:backfill"
)

// OfferingPayload identifies the offering a task acts on.
type OfferingPayload struct {
	OfferingID string `json:"offering_id"`
}

// NewOfferingFinishTask builds the task that finishes one offering.
func NewOfferingFinishTask(offeringID string) (*asynq.Task, error) {
	payload, err := json.Marshal(OfferingPayload{OfferingID: offeringID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeOfferingFinish, payload), nil
}

// NewFinishOverdueTask builds the periodic sweep task.
func NewFinishOverdueTask() *asynq.Task {
	return asynq.NewTask(TypeFinishOverdue, nil)
}

// NewSummaryBackfillTask builds the task that creates missing summaries.
func NewSummaryBackfillTask() *asynq.Task {
	return asynq.NewTask(TypeSummaryBackfill, nil)
}

// FinishTaskID is the stable task id used to dedupe finish tasks per offering.
func FinishTaskID(offeringID string) string {
	return fmt.Sprintf("%s:%s", TypeOfferingFinish, offeringID)
}

func decodeOffering(payload []byte) (OfferingPayload, error) {
	var p OfferingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("decode offering payload: %w", err)
	}
	if p.OfferingID == "" {
		return p, fmt.Errorf("decode offering payload: missing offering_id")
	}
	return p, nil
}
