package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
	"github.com/jmoiron/sqlx"
)

// AgentRepository stores marketplace agents and their ratings.
type AgentRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

type agentRow struct {
	ID            string                     `db:"id"`
	DeveloperID   string                     `db:"developer_id"`
	Name          string                     `db:"name"`
	Description   string                     `db:"description"`
	Category      string                     `db:"category"`
	Version       string                     `db:"version"`
	Config        jsonColumn[map[string]any] `db:"config"`
	Code          string                     `db:"code"`
	Status        string                     `db:"status"`
	IsPublic      bool                       `db:"is_public"`
	Price         float64                    `db:"price"`
	Subscriptions int                        `db:"subscriptions"`
	Rating        float64                    `db:"rating"`
	CreatedAt     time.Time                  `db:"created_at"`
	UpdatedAt     time.Time                  `db:"updated_at"`
}

func (r agentRow) model() *models.Agent {
	return &models.Agent{
		ID:            r.ID,
		DeveloperID:   r.DeveloperID,
		Name:          r.Name,
		Description:   r.Description,
		Category:      models.AgentCategory(r.Category),
		Version:       r.Version,
		Config:        r.Config.V,
		Code:          r.Code,
		Status:        models.AgentStatus(r.Status),
		IsPublic:      r.IsPublic,
		Price:         r.Price,
		Subscriptions: r.Subscriptions,
		Rating:        r.Rating,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

// agentSelect yields agents with their derived subscription count and average rating.
const agentSelect = `
	SELECT
		a.id
	  , a.developer_id
	  , a.name
	  , a.description
	  , a.category
	  , a.version
	  , a.config
	  , a.code
	  , a.status
	  , a.is_public
	  , a.price
	  , a.created_at
	  , a.updated_at
	  , COALESCE(s.subscriptions, 0) AS subscriptions
	  , COALESCE(r.rating, 0) AS rating
	FROM ai_agents a
	LEFT JOIN (
		SELECT agent_id, COUNT(*) AS subscriptions
		FROM agent_subscriptions
		WHERE status = 'active'
		GROUP BY agent_id
	) s ON s.agent_id = a.id
	LEFT JOIN (
		SELECT agent_id, AVG(rating)::DOUBLE PRECISION AS rating
		FROM agent_ratings
		GROUP BY agent_id
	) r ON r.agent_id = a.id
`

func (r *AgentRepository) Create(ctx context.Context, agent *models.Agent) error {
	config := agent.Config
	if config == nil {
		config = map[string]any{}
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO ai_agents (id, developer_id, name, description, category, version, config, code, status, is_public, price, created_at, updated_at)
		VALUES (:id, :developer_id, :name, :description, :category, :version, :config, :code, :status, :is_public, :price, :created_at, :updated_at)
	`, agentRow{
		ID:          agent.ID,
		DeveloperID: agent.DeveloperID,
		Name:        agent.Name,
		Description: agent.Description,
		Category:    string(agent.Category),
		Version:     agent.Version,
		Config:      jsonColumn[map[string]any]{V: config},
		Code:        agent.Code,
		Status:      string(agent.Status),
		IsPublic:    agent.IsPublic,
		Price:       agent.Price,
		CreatedAt:   agent.CreatedAt,
		UpdatedAt:   agent.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	return nil
}

func (r *AgentRepository) Get(ctx context.Context, id string) (*models.Agent, error) {
	var row agentRow

	err := r.db.GetContext(ctx, &row, agentSelect+` WHERE a.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewOpError("get", "agent", id, persistence.ErrAgentNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	return row.model(), nil
}

// likeEscaper makes a search term match literally inside an ILIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListMarketplace returns published public agents, most subscribed first.
func (r *AgentRepository) ListMarketplace(ctx context.Context, filter persistence.MarketplaceFilter) ([]*models.Agent, error) {
	query := agentSelect + ` WHERE a.is_public AND a.status = 'published'`
	args := []any{}

	if filter.Category != "" {
		args = append(args, string(filter.Category))
		query += ` AND a.category = $` + strconv.Itoa(len(args))
	}

	if filter.MinRating != nil {
		args = append(args, *filter.MinRating)
		query += ` AND COALESCE(r.rating, 0) >= $` + strconv.Itoa(len(args))
	}

	if filter.Search != "" {
		args = append(args, "%"+likeEscaper.Replace(filter.Search)+"%")
		placeholder := `$` + strconv.Itoa(len(args))
		query += ` AND (a.name ILIKE ` + placeholder + ` ESCAPE '\' OR a.description ILIKE ` + placeholder + ` ESCAPE '\')`
	}

	query += ` ORDER BY subscriptions DESC, rating DESC, a.created_at ASC`

	var rows []agentRow

	err := r.db.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list marketplace agents: %w", err)
	}

	agents := make([]*models.Agent, 0, len(rows))
	for _, row := range rows {
		agents = append(agents, row.model())
	}

	return agents, nil
}

func (r *AgentRepository) Publish(ctx context.Context, id, developerID string, updatedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE ai_agents
		SET status = 'published', updated_at = $3
		WHERE id = $1 AND developer_id = $2 AND status = 'draft'
	`, id, developerID, updatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to publish agent: %w", err)
	}

	return changed(result)
}

func (r *AgentRepository) Rate(ctx context.Context, rating *models.AgentRating) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agent_ratings (agent_id, user_id, rating, review, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id, user_id) DO UPDATE SET
			rating = EXCLUDED.rating
		  , review = EXCLUDED.review
		  , created_at = EXCLUDED.created_at
	`, rating.AgentID, rating.UserID, rating.Rating, rating.Review, rating.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to rate agent: %w", err)
	}

	return nil
}

// SubscriptionRepository stores agent subscriptions.
type SubscriptionRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

type subscriptionRow struct {
	ID        string                     `db:"id"`
	AgentID   string                     `db:"agent_id"`
	UserID    string                     `db:"user_id"`
	CompanyID string                     `db:"company_id"`
	Status    string                     `db:"status"`
	Config    jsonColumn[map[string]any] `db:"config"`
	CreatedAt time.Time                  `db:"created_at"`
	ExpiresAt sql.NullTime               `db:"expires_at"`
}

func (r subscriptionRow) model() *models.AgentSubscription {
	subscription := &models.AgentSubscription{
		ID:        r.ID,
		AgentID:   r.AgentID,
		UserID:    r.UserID,
		CompanyID: r.CompanyID,
		Status:    models.SubscriptionStatus(r.Status),
		Config:    r.Config.V,
		CreatedAt: r.CreatedAt.UTC(),
	}

	if r.ExpiresAt.Valid {
		expiresAt := r.ExpiresAt.Time.UTC()
		subscription.ExpiresAt = &expiresAt
	}

	return subscription
}

// Create inserts a subscription, mapping the active uniqueness index to ErrSubscriptionExists.
func (r *SubscriptionRepository) Create(ctx context.Context, subscription *models.AgentSubscription) error {
	config := subscription.Config
	if config == nil {
		config = map[string]any{}
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO agent_subscriptions (id, agent_id, user_id, company_id, status, config, created_at, expires_at)
		VALUES (:id, :agent_id, :user_id, :company_id, :status, :config, :created_at, :expires_at)
	`, subscriptionRow{
		ID:        subscription.ID,
		AgentID:   subscription.AgentID,
		UserID:    subscription.UserID,
		CompanyID: subscription.CompanyID,
		Status:    string(subscription.Status),
		Config:    jsonColumn[map[string]any]{V: config},
		CreatedAt: subscription.CreatedAt,
		ExpiresAt: nullTime(subscription.ExpiresAt),
	})
	if isUniqueViolation(err) {
		return persistence.ErrSubscriptionExists
	}

	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

func (r *SubscriptionRepository) FindActive(ctx context.Context, agentID, userID string) (*models.AgentSubscription, error) {
	var row subscriptionRow

	err := r.db.GetContext(ctx, &row, `
		SELECT id, agent_id, user_id, company_id, status, config, created_at, expires_at
		FROM agent_subscriptions
		WHERE agent_id = $1 AND user_id = $2 AND status = 'active'
	`, agentID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrSubscriptionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}

	return row.model(), nil
}

func (r *SubscriptionRepository) HasAny(ctx context.Context, agentID, userID string) (bool, error) {
	var exists bool

	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM agent_subscriptions WHERE agent_id = $1 AND user_id = $2)
	`, agentID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check subscriptions: %w", err)
	}

	return exists, nil
}

type subscribedAgentRow struct {
	agentRow

	SubscriptionID     string                     `db:"subscription_id"`
	SubscriptionStatus string                     `db:"subscription_status"`
	SubscriptionConfig jsonColumn[map[string]any] `db:"subscription_config"`
	SubscribedAt       time.Time                  `db:"subscribed_at"`
}

func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]*models.SubscribedAgent, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT agents.*
		  , sub.id AS subscription_id
		  , sub.status AS subscription_status
		  , sub.config AS subscription_config
		  , sub.created_at AS subscribed_at
		FROM agent_subscriptions sub
		JOIN (`+agentSelect+`) agents ON agents.id = sub.agent_id
		WHERE sub.user_id = $1
		ORDER BY sub.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	result := make([]*models.SubscribedAgent, 0)

	for rows.Next() {
		var row subscribedAgentRow

		err := rows.StructScan(&row)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}

		result = append(result, &models.SubscribedAgent{
			Agent:              row.model(),
			SubscriptionID:     row.SubscriptionID,
			SubscriptionStatus: models.SubscriptionStatus(row.SubscriptionStatus),
			SubscriptionConfig: row.SubscriptionConfig.V,
			SubscribedAt:       row.SubscribedAt.UTC(),
		})
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}

	return result, nil
}
