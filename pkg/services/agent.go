package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/cortexbuild/cortexflow/pkg/policy"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// InputSchemaKey is the agent config entry holding a JSON schema for execution input.
const InputSchemaKey = "inputSchema"

// AgentInput is the client-supplied document of a new agent.
type AgentInput struct {
	Name        string               `json:"name"        validate:"required,min=3,max=100"`
	Description string               `json:"description" validate:"required,min=10,max=500"`
	Category    models.AgentCategory `json:"category"    validate:"required,oneof=automation analytics safety financial communication integration"`
	Code        string               `json:"code"        validate:"required"`
	Config      map[string]any       `json:"config"`
	IsPublic    bool                 `json:"isPublic"`
	Price       float64              `json:"price"       validate:"gte=0"`
}

// RatingInput is a user's rating of an agent.
type RatingInput struct {
	Rating int    `json:"rating" validate:"required,gte=1,lte=5"`
	Review string `json:"review" validate:"max=2000"`
}

// Agents is the marketplace registry.
type Agents struct {
	persistence persistence.Persistence
	policy      *policy.Policy
	logger      *slog.Logger
	validate    *validator.Validate
	now         func() time.Time
}

func NewAgents(persistence persistence.Persistence, policy *policy.Policy, logger *slog.Logger) *Agents {
	return &Agents{
		persistence: persistence,
		policy:      policy,
		logger:      logger.With("module", "agent_service"),
		validate:    newValidator(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ListMarketplace returns the published public agents matching filter.
func (a *Agents) ListMarketplace(ctx context.Context, actor models.Actor, filter persistence.MarketplaceFilter) ([]*models.Agent, error) {
	if !a.policy.Allows(actor, models.ResourceAgent, policy.ActionList) {
		return nil, forbidden("list agents")
	}

	if filter.MinRating != nil && (*filter.MinRating < 0 || *filter.MinRating > 5) {
		return nil, NewValidationErrors("minRating must be between 0 and 5")
	}

	filter.Search = strings.TrimSpace(filter.Search)

	agents, err := a.persistence.Agents().ListMarketplace(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list marketplace: %w", err)
	}

	return agents, nil
}

func (a *Agents) Get(ctx context.Context, actor models.Actor, id string) (*models.Agent, error) {
	agent, err := a.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !a.policy.CanAccess(actor, agent.Resource(), policy.ActionRead) {
		return nil, forbidden("get agent")
	}

	return agent, nil
}

// Create stores a draft agent owned by the actor.
func (a *Agents) Create(ctx context.Context, actor models.Actor, input AgentInput) (*models.Agent, error) {
	if !a.policy.Allows(actor, models.ResourceAgent, policy.ActionCreate) {
		return nil, forbidden("create agent")
	}

	// Length limits apply to what is stored.
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)

	err := validateStruct(a.validate, input)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(input.Code) == "" {
		return nil, NewValidationErrors("code is required")
	}

	config := input.Config
	if config == nil {
		config = map[string]any{}
	}

	if schema, ok := config[InputSchemaKey]; ok {
		_, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return nil, NewValidationErrors("config.inputSchema is not a valid JSON schema: " + err.Error())
		}
	}

	now := a.now()
	agent := &models.Agent{
		ID:          uuid.NewString(),
		DeveloperID: actor.UserID,
		Name:        input.Name,
		Description: input.Description,
		Category:    input.Category,
		Version:     models.InitialAgentVersion,
		Config:      config,
		Code:        input.Code,
		Status:      models.AgentStatusDraft,
		IsPublic:    input.IsPublic,
		Price:       input.Price,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = a.persistence.Agents().Create(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	a.logger.InfoContext(ctx, "agent created", "agent_id", agent.ID, "developer_id", agent.DeveloperID)

	return agent, nil
}

// Publish moves the actor's draft agent to published. It reports false,
// without changing anything, when the agent is missing, owned by someone
// else or not a draft.
func (a *Agents) Publish(ctx context.Context, actor models.Actor, id string) (bool, error) {
	if !a.policy.Allows(actor, models.ResourceAgent, policy.ActionPublish) {
		return false, forbidden("publish agent")
	}

	published, err := a.persistence.Agents().Publish(ctx, id, actor.UserID, a.now())
	if err != nil {
		return false, fmt.Errorf("failed to publish agent: %w", err)
	}

	if published {
		a.logger.InfoContext(ctx, "agent published", "agent_id", id)
	}

	return published, nil
}

// Subscribe grants the actor access to a public agent. An existing active
// subscription is returned unchanged with created false.
func (a *Agents) Subscribe(ctx context.Context, actor models.Actor, id string, config map[string]any) (*models.AgentSubscription, bool, error) {
	agent, err := a.load(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if !a.policy.CanAccess(actor, agent.Resource(), policy.ActionSubscribe) {
		return nil, false, deny("subscribe", ErrAgentPrivate)
	}

	existing, err := a.persistence.Subscriptions().FindActive(ctx, id, actor.UserID)
	if err == nil {
		return existing, false, nil
	}

	if !persistence.IsNotFound(err) {
		return nil, false, fmt.Errorf("failed to find subscription: %w", err)
	}

	if config == nil {
		config = map[string]any{}
	}

	subscription := &models.AgentSubscription{
		ID:        uuid.NewString(),
		AgentID:   id,
		UserID:    actor.UserID,
		CompanyID: actor.CompanyID,
		Status:    models.SubscriptionStatusActive,
		Config:    config,
		CreatedAt: a.now(),
	}

	err = a.persistence.Subscriptions().Create(ctx, subscription)
	if persistence.IsSubscriptionExists(err) {
		existing, err := a.persistence.Subscriptions().FindActive(ctx, id, actor.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to find subscription: %w", err)
		}

		return existing, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to subscribe: %w", err)
	}

	a.logger.InfoContext(ctx, "agent subscribed", "agent_id", id, "user_id", actor.UserID)

	return subscription, true, nil
}

// ListUserSubscriptions returns the actor's subscriptions, newest first.
func (a *Agents) ListUserSubscriptions(ctx context.Context, actor models.Actor) ([]*models.SubscribedAgent, error) {
	if actor.UserID == "" {
		return nil, forbidden("list subscriptions")
	}

	subscriptions, err := a.persistence.Subscriptions().ListByUser(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	return subscriptions, nil
}

// Rate upserts the actor's rating. The actor needs an active subscription.
func (a *Agents) Rate(ctx context.Context, actor models.Actor, id string, input RatingInput) error {
	err := validateStruct(a.validate, input)
	if err != nil {
		return err
	}

	agent, err := a.load(ctx, id)
	if err != nil {
		return err
	}

	if !a.policy.CanAccess(actor, agent.Resource(), policy.ActionRate) {
		return forbidden("rate agent")
	}

	_, err = a.persistence.Subscriptions().FindActive(ctx, id, actor.UserID)
	if persistence.IsNotFound(err) {
		return deny("rate agent", ErrNotSubscribed)
	}

	if err != nil {
		return fmt.Errorf("failed to find subscription: %w", err)
	}

	err = a.persistence.Agents().Rate(ctx, &models.AgentRating{
		AgentID:   id,
		UserID:    actor.UserID,
		Rating:    input.Rating,
		Review:    strings.TrimSpace(input.Review),
		CreatedAt: a.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to rate agent: %w", err)
	}

	return nil
}

func (a *Agents) load(ctx context.Context, id string) (*models.Agent, error) {
	agent, err := a.persistence.Agents().Get(ctx, id)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, notFound("get agent", ErrAgentNotFound)
		}

		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	return agent, nil
}
