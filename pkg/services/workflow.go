package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cortexbuild/cortexflow/pkg/eventbus"
	"github.com/cortexbuild/cortexflow/pkg/events"
	"github.com/cortexbuild/cortexflow/pkg/graph"
	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/cortexbuild/cortexflow/pkg/policy"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// NodeCatalog instantiates and validates nodes from registered templates.
type NodeCatalog interface {
	graph.NodeValidator
	DefaultNode(template string) (*models.WorkflowNode, error)
	Templates() []models.NodeTemplate
}

// WorkflowInput is the client-supplied document of a workflow.
type WorkflowInput struct {
	Name        string                 `json:"name"        validate:"required,min=3,max=200"`
	Description string                 `json:"description" validate:"max=2000"`
	Nodes       []*models.WorkflowNode `json:"nodes"       validate:"dive"`
	Connections []*models.Connection   `json:"connections" validate:"dive"`
	IsActive    *bool                  `json:"isActive"`
}

type Workflow struct {
	persistence persistence.Persistence
	nodes       NodeCatalog
	policy      *policy.Policy
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	validate    *validator.Validate

	// editMu serializes load-mutate-save graph edits.
	editMu sync.Mutex
}

// NewWorkflow creates a new workflow service. publisher may be nil.
func NewWorkflow(
	persistence persistence.Persistence,
	nodes NodeCatalog,
	policy *policy.Policy,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Workflow {
	return &Workflow{
		persistence: persistence,
		nodes:       nodes,
		policy:      policy,
		publisher:   publisher,
		logger:      logger.With("module", "workflow_service"),
		validate:    newValidator(),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Templates lists the node palette.
func (w *Workflow) Templates() []models.NodeTemplate {
	return w.nodes.Templates()
}

// List returns the workflows visible to the actor, newest first.
func (w *Workflow) List(ctx context.Context, actor models.Actor) ([]*models.Workflow, error) {
	if !w.policy.Allows(actor, models.ResourceWorkflow, policy.ActionList) {
		return nil, forbidden("list workflows")
	}

	filter := persistence.TenantFilter{
		CompanyID: actor.CompanyID,
		All:       w.policy.Unrestricted(actor, models.ResourceWorkflow, policy.ActionList),
	}

	workflows, err := w.persistence.Workflows().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// Create stores a new workflow owned by the actor's company.
func (w *Workflow) Create(ctx context.Context, actor models.Actor, input WorkflowInput) (*models.Workflow, error) {
	if !w.policy.Allows(actor, models.ResourceWorkflow, policy.ActionCreate) {
		return nil, forbidden("create workflow")
	}

	workflow := &models.Workflow{
		ID:        uuid.NewString(),
		IsActive:  true,
		CompanyID: actor.CompanyID,
		CreatedBy: actor.UserID,
	}

	err := w.apply(ctx, workflow, input)
	if err != nil {
		return nil, err
	}

	err = w.persistence.Workflows().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "workflow created", "workflow_id", workflow.ID, "company_id", workflow.CompanyID)
	w.publishSaved(ctx, workflow)

	return workflow, nil
}

// Get returns a workflow the actor may read. Missing and out-of-tenant
// workflows yield the same not found error.
func (w *Workflow) Get(ctx context.Context, actor models.Actor, id string) (*models.Workflow, error) {
	return w.Authorize(ctx, actor, id, policy.ActionRead)
}

// Authorize loads a workflow and checks the actor may perform action on it.
func (w *Workflow) Authorize(ctx context.Context, actor models.Actor, id string, action policy.Action) (*models.Workflow, error) {
	workflow, err := w.persistence.Workflows().Get(ctx, id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, notFound(string(action)+" workflow", ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if !w.policy.CanAccess(actor, workflow.Resource(), action) {
		return nil, notFound(string(action)+" workflow", ErrWorkflowNotFound)
	}

	return workflow, nil
}

// Update replaces name, description, graph and active flag.
func (w *Workflow) Update(ctx context.Context, actor models.Actor, id string, input WorkflowInput) (*models.Workflow, error) {
	w.editMu.Lock()
	defer w.editMu.Unlock()

	workflow, err := w.Authorize(ctx, actor, id, policy.ActionUpdate)
	if err != nil {
		return nil, err
	}

	err = w.apply(ctx, workflow, input)
	if err != nil {
		return nil, err
	}

	return workflow, w.save(ctx, workflow)
}

func (w *Workflow) Delete(ctx context.Context, actor models.Actor, id string) error {
	workflow, err := w.Authorize(ctx, actor, id, policy.ActionDelete)
	if err != nil {
		return err
	}

	err = w.persistence.Workflows().Delete(ctx, workflow.ID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound("delete workflow", ErrWorkflowNotFound)
		}

		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "workflow deleted", "workflow_id", workflow.ID)

	if w.publisher != nil {
		err := w.publisher.Publish(ctx, workflow.ID, events.WorkflowDeleted{
			BaseEvent:  events.NewBase(uuid.NewString(), events.WorkflowDeletedEvent),
			WorkflowID: workflow.ID,
			CompanyID:  workflow.CompanyID,
		})
		if err != nil {
			w.logger.ErrorContext(ctx, "failed to publish workflow deleted event", "workflow_id", workflow.ID, "error", err)
		}
	}

	return nil
}

// AddNode instantiates template at position and appends it to the workflow.
func (w *Workflow) AddNode(ctx context.Context, actor models.Actor, id, template string, position models.Position) (*models.WorkflowNode, error) {
	node, err := w.nodes.DefaultNode(template)
	if err != nil {
		return nil, NewValidationErrors(err.Error())
	}

	node.Position = position

	err = w.edit(ctx, actor, id, func(workflow *models.Workflow) error {
		graph.AddNode(workflow, node)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return node, nil
}

// DeleteNode removes a node and its connections and returns the updated workflow.
func (w *Workflow) DeleteNode(ctx context.Context, actor models.Actor, id, nodeID string) (*models.Workflow, error) {
	var updated *models.Workflow

	err := w.edit(ctx, actor, id, func(workflow *models.Workflow) error {
		updated = workflow

		return graph.DeleteNode(workflow, nodeID)
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (w *Workflow) UpdateNodePosition(ctx context.Context, actor models.Actor, id, nodeID string, position models.Position) (*models.WorkflowNode, error) {
	var node *models.WorkflowNode

	err := w.edit(ctx, actor, id, func(workflow *models.Workflow) error {
		err := graph.UpdateNodePosition(workflow, nodeID, position)
		if err != nil {
			return err
		}

		node = workflow.NodeByID(nodeID)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return node, nil
}

// Connect adds an edge. created is false when the edge already existed.
func (w *Workflow) Connect(ctx context.Context, actor models.Actor, id, fromID, toID, condition string) (*models.Connection, bool, error) {
	var (
		conn    *models.Connection
		created bool
	)

	err := w.edit(ctx, actor, id, func(workflow *models.Workflow) error {
		before := len(workflow.Connections)

		var err error

		conn, err = graph.Connect(workflow, fromID, toID, condition)
		if err != nil {
			return err
		}

		created = len(workflow.Connections) > before
		if !created {
			return errNoChange
		}

		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return conn, created, nil
}

var errNoChange = errors.New("no change")

func (w *Workflow) edit(ctx context.Context, actor models.Actor, id string, mutate func(*models.Workflow) error) error {
	w.editMu.Lock()
	defer w.editMu.Unlock()

	workflow, err := w.Authorize(ctx, actor, id, policy.ActionUpdate)
	if err != nil {
		return err
	}

	err = mutate(workflow)

	switch {
	case errors.Is(err, errNoChange):
		return nil
	case errors.Is(err, graph.ErrNodeNotFound):
		return notFound("edit workflow", err)
	case errors.Is(err, graph.ErrSelfLoop), errors.Is(err, graph.ErrInvalidCondition):
		return NewValidationErrors(err.Error())
	case err != nil:
		return err
	}

	return w.save(ctx, workflow)
}

// apply validates input and copies it onto workflow.
func (w *Workflow) apply(ctx context.Context, workflow *models.Workflow, input WorkflowInput) error {
	err := validateStruct(w.validate, input)
	if err != nil {
		return err
	}

	workflow.Name = input.Name
	workflow.Description = input.Description
	workflow.Nodes = input.Nodes
	workflow.Connections = input.Connections

	if workflow.Nodes == nil {
		workflow.Nodes = []*models.WorkflowNode{}
	}

	if workflow.Connections == nil {
		workflow.Connections = []*models.Connection{}
	}

	if input.IsActive != nil {
		workflow.IsActive = *input.IsActive
	}

	err = graph.Validate(ctx, workflow, w.nodes)
	if err != nil {
		var graphErr *graph.ValidationError
		if errors.As(err, &graphErr) {
			return NewValidationErrors(graphErr.Problems...)
		}

		return err
	}

	return nil
}

func (w *Workflow) save(ctx context.Context, workflow *models.Workflow) error {
	err := w.persistence.Workflows().Save(ctx, workflow)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	w.publishSaved(ctx, workflow)

	return nil
}

func (w *Workflow) publishSaved(ctx context.Context, workflow *models.Workflow) {
	if w.publisher == nil {
		return
	}

	err := w.publisher.Publish(ctx, workflow.ID, events.WorkflowSaved{
		BaseEvent:  events.NewBase(uuid.NewString(), events.WorkflowSavedEvent),
		WorkflowID: workflow.ID,
		CompanyID:  workflow.CompanyID,
		IsActive:   workflow.IsActive,
	})
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to publish workflow saved event", "workflow_id", workflow.ID, "error", err)
	}
}
