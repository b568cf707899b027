// Package api exposes workflow operations as a single action-dispatched
// request surface, the shape embedders and the CLI both drive.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskweave/taskweave/internal/orchestrator"
	"github.com/taskweave/taskweave/internal/scheduler"
	"github.com/taskweave/taskweave/internal/store"
)

// Request errors.
var (
	ErrUnknownAction = errors.New("unknown action")
	ErrBadRequest    = errors.New("bad request")
)

// Actions accepted by Handle.
const (
	ActionCreate = "create"
	ActionStart  = "start"
	ActionStatus = "status"
	ActionDelete = "delete"
	ActionList   = "list"
)

// Request is one operation against the workflow engine.
type Request struct {
	Action     string            `json:"action"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	Tasks      []*scheduler.Task `json:"tasks,omitempty"`
}

// WorkflowSummary is the listing entry returned by the list action.
type WorkflowSummary struct {
	ID        string    `json:"workflow_id"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Total     int       `json:"total_tasks"`
	Completed int       `json:"completed_tasks"`
	Failed    int       `json:"failed_tasks"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Response is the result of a successfully dispatched request. Fields
// beyond Action and WorkflowID are populated per action.
type Response struct {
	Action     string            `json:"action"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	Status     string            `json:"status,omitempty"`
	Detail     string            `json:"detail,omitempty"`
	Tasks      []*scheduler.Task `json:"tasks,omitempty"`
	Workflows  []WorkflowSummary `json:"workflows,omitempty"`
}

// ParseRequest decodes a request strictly: unknown fields and trailing
// content are errors, never silently dropped.
func ParseRequest(data []byte) (Request, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var req Request
	if err := dec.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if dec.More() {
		return Request{}, fmt.Errorf("%w: trailing content after request", ErrBadRequest)
	}
	return req, nil
}

// ParseTasks decodes a bare task list strictly.
func ParseTasks(data []byte) ([]*scheduler.Task, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var tasks []*scheduler.Task
	if err := dec.Decode(&tasks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return tasks, nil
}

// Handler dispatches requests against a store and a coordinator.
type Handler struct {
	store store.Store
	coord *orchestrator.Coordinator
}

// NewHandler creates a handler.
func NewHandler(st store.Store, coord *orchestrator.Coordinator) *Handler {
	return &Handler{store: st, coord: coord}
}

// Handle dispatches one request. Validation and state errors come back
// as errors; the response is non-nil only on success.
func (h *Handler) Handle(ctx context.Context, req Request) (*Response, error) {
	switch req.Action {
	case ActionCreate:
		return h.create(ctx, req)
	case ActionStart:
		return h.start(ctx, req)
	case ActionStatus:
		return h.status(ctx, req)
	case ActionDelete:
		return h.delete(ctx, req)
	case ActionList:
		return h.list(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
}

func (h *Handler) create(ctx context.Context, req Request) (*Response, error) {
	if len(req.Tasks) == 0 {
		return nil, fmt.Errorf("%w: create requires at least one task", ErrBadRequest)
	}

	workflowID := req.WorkflowID
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	if err := h.store.Create(ctx, workflowID, req.Tasks); err != nil {
		return nil, err
	}
	return &Response{
		Action:     ActionCreate,
		WorkflowID: workflowID,
		Status:     string(store.WorkflowCreated),
	}, nil
}

// start runs the workflow to a terminal state and returns the final
// snapshot.
func (h *Handler) start(ctx context.Context, req Request) (*Response, error) {
	if req.WorkflowID == "" {
		return nil, fmt.Errorf("%w: start requires workflow_id", ErrBadRequest)
	}

	snap, err := h.coord.Run(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	return snapshotResponse(ActionStart, snap), nil
}

func (h *Handler) status(ctx context.Context, req Request) (*Response, error) {
	if req.WorkflowID == "" {
		return nil, fmt.Errorf("%w: status requires workflow_id", ErrBadRequest)
	}

	snap, err := h.store.Snapshot(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	return snapshotResponse(ActionStatus, snap), nil
}

func (h *Handler) delete(ctx context.Context, req Request) (*Response, error) {
	if req.WorkflowID == "" {
		return nil, fmt.Errorf("%w: delete requires workflow_id", ErrBadRequest)
	}

	if err := h.store.Delete(ctx, req.WorkflowID); err != nil {
		return nil, err
	}
	return &Response{Action: ActionDelete, WorkflowID: req.WorkflowID}, nil
}

func (h *Handler) list(ctx context.Context) (*Response, error) {
	summaries, err := h.store.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]WorkflowSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, WorkflowSummary{
			ID:        s.ID,
			Status:    string(s.Status),
			Detail:    s.Detail,
			Total:     s.Total,
			Completed: s.Completed,
			Failed:    s.Failed,
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		})
	}
	return &Response{Action: ActionList, Workflows: out}, nil
}

func snapshotResponse(action string, snap *store.Snapshot) *Response {
	return &Response{
		Action:     action,
		WorkflowID: snap.ID,
		Status:     string(snap.Status),
		Detail:     snap.Detail,
		Tasks:      snap.Tasks,
	}
}
