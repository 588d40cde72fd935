package file

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/persistence"
)

type agentRepository struct {
	fp *Persistence
}

func (r *agentRepository) Create(_ context.Context, agent *models.Agent) error {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	return r.fp.write(agentsDir, agent.ID, agent)
}

func (r *agentRepository) Get(_ context.Context, id string) (*models.Agent, error) {
	r.fp.mu.RLock()
	defer r.fp.mu.RUnlock()

	var agent models.Agent

	err := r.fp.read(agentsDir, id, &agent, persistence.ErrAgentNotFound)
	if err != nil {
		return nil, err
	}

	stats, err := r.stats()
	if err != nil {
		return nil, err
	}

	stats.apply(&agent)

	return &agent, nil
}

func (r *agentRepository) ListMarketplace(_ context.Context, filter persistence.MarketplaceFilter) ([]*models.Agent, error) {
	r.fp.mu.RLock()
	defer r.fp.mu.RUnlock()

	all, err := readAll[models.Agent](r.fp, agentsDir)
	if err != nil {
		return nil, err
	}

	stats, err := r.stats()
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(filter.Search)
	agents := make([]*models.Agent, 0, len(all))

	for _, agent := range all {
		if !agent.Listed() {
			continue
		}

		if filter.Category != "" && agent.Category != filter.Category {
			continue
		}

		if search != "" &&
			!strings.Contains(strings.ToLower(agent.Name), search) &&
			!strings.Contains(strings.ToLower(agent.Description), search) {
			continue
		}

		stats.apply(agent)

		if filter.MinRating != nil && agent.Rating < *filter.MinRating {
			continue
		}

		agents = append(agents, agent)
	}

	sort.SliceStable(agents, func(i, j int) bool {
		if agents[i].Subscriptions != agents[j].Subscriptions {
			return agents[i].Subscriptions > agents[j].Subscriptions
		}

		return agents[i].Rating > agents[j].Rating
	})

	return agents, nil
}

func (r *agentRepository) Publish(_ context.Context, id, developerID string, updatedAt time.Time) (bool, error) {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	var agent models.Agent

	err := r.fp.read(agentsDir, id, &agent, persistence.ErrAgentNotFound)
	if err != nil {
		if persistence.IsNotFound(err) {
			return false, nil
		}

		return false, err
	}

	if agent.DeveloperID != developerID || agent.Status != models.AgentStatusDraft {
		return false, nil
	}

	agent.Status = models.AgentStatusPublished
	agent.UpdatedAt = updatedAt

	return true, r.fp.write(agentsDir, id, &agent)
}

func (r *agentRepository) Rate(_ context.Context, rating *models.AgentRating) error {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	return r.fp.write(ratingsDir, rating.AgentID+"__"+rating.UserID, rating)
}

type agentStats struct {
	subscriptions map[string]int
	ratingSum     map[string]int
	ratingCount   map[string]int
}

// stats aggregates active subscriptions and ratings. Callers hold the lock.
func (r *agentRepository) stats() (*agentStats, error) {
	subscriptions, err := readAll[models.AgentSubscription](r.fp, subscriptionsDir)
	if err != nil {
		return nil, err
	}

	ratings, err := readAll[models.AgentRating](r.fp, ratingsDir)
	if err != nil {
		return nil, err
	}

	s := &agentStats{
		subscriptions: make(map[string]int),
		ratingSum:     make(map[string]int),
		ratingCount:   make(map[string]int),
	}

	for _, sub := range subscriptions {
		if sub.Status == models.SubscriptionStatusActive {
			s.subscriptions[sub.AgentID]++
		}
	}

	for _, rating := range ratings {
		s.ratingSum[rating.AgentID] += rating.Rating
		s.ratingCount[rating.AgentID]++
	}

	return s, nil
}

func (s *agentStats) apply(agent *models.Agent) {
	agent.Subscriptions = s.subscriptions[agent.ID]
	agent.Rating = 0

	if count := s.ratingCount[agent.ID]; count > 0 {
		agent.Rating = float64(s.ratingSum[agent.ID]) / float64(count)
	}
}

type subscriptionRepository struct {
	fp *Persistence
}

func (r *subscriptionRepository) Create(_ context.Context, subscription *models.AgentSubscription) error {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	if subscription.Status == models.SubscriptionStatusActive {
		existing, err := r.findActive(subscription.AgentID, subscription.UserID)
		if err != nil {
			return err
		}

		if existing != nil {
			return persistence.ErrSubscriptionExists
		}
	}

	return r.fp.write(subscriptionsDir, subscription.ID, subscription)
}

func (r *subscriptionRepository) FindActive(_ context.Context, agentID, userID string) (*models.AgentSubscription, error) {
	r.fp.mu.RLock()
	defer r.fp.mu.RUnlock()

	subscription, err := r.findActive(agentID, userID)
	if err != nil {
		return nil, err
	}

	if subscription == nil {
		return nil, persistence.ErrSubscriptionNotFound
	}

	return subscription, nil
}

func (r *subscriptionRepository) findActive(agentID, userID string) (*models.AgentSubscription, error) {
	all, err := readAll[models.AgentSubscription](r.fp, subscriptionsDir)
	if err != nil {
		return nil, err
	}

	for _, sub := range all {
		if sub.AgentID == agentID && sub.UserID == userID && sub.Status == models.SubscriptionStatusActive {
			return sub, nil
		}
	}

	return nil, nil
}

func (r *subscriptionRepository) HasAny(_ context.Context, agentID, userID string) (bool, error) {
	r.fp.mu.RLock()
	defer r.fp.mu.RUnlock()

	all, err := readAll[models.AgentSubscription](r.fp, subscriptionsDir)
	if err != nil {
		return false, err
	}

	for _, sub := range all {
		if sub.AgentID == agentID && sub.UserID == userID {
			return true, nil
		}
	}

	return false, nil
}

func (r *subscriptionRepository) ListByUser(_ context.Context, userID string) ([]*models.SubscribedAgent, error) {
	r.fp.mu.RLock()
	defer r.fp.mu.RUnlock()

	all, err := readAll[models.AgentSubscription](r.fp, subscriptionsDir)
	if err != nil {
		return nil, err
	}

	agents := &agentRepository{fp: r.fp}

	stats, err := agents.stats()
	if err != nil {
		return nil, err
	}

	result := make([]*models.SubscribedAgent, 0)

	for _, sub := range all {
		if sub.UserID != userID {
			continue
		}

		var agent models.Agent

		err := r.fp.read(agentsDir, sub.AgentID, &agent, persistence.ErrAgentNotFound)
		if persistence.IsNotFound(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		stats.apply(&agent)

		result = append(result, &models.SubscribedAgent{
			Agent:              &agent,
			SubscriptionID:     sub.ID,
			SubscriptionStatus: sub.Status,
			SubscriptionConfig: sub.Config,
			SubscribedAt:       sub.CreatedAt,
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].SubscribedAt.After(result[j].SubscribedAt)
	})

	return result, nil
}

type agentExecutionRepository struct {
	fp *Persistence
}

func (r *agentExecutionRepository) Create(_ context.Context, execution *models.AgentExecution) error {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	return r.fp.write(agentExecutionsDir, execution.ID, execution)
}

func (r *agentExecutionRepository) Get(_ context.Context, id string) (*models.AgentExecution, error) {
	r.fp.mu.RLock()
	defer r.fp.mu.RUnlock()

	var execution models.AgentExecution

	err := r.fp.read(agentExecutionsDir, id, &execution, persistence.ErrAgentExecutionNotFound)
	if err != nil {
		return nil, err
	}

	return &execution, nil
}

func (r *agentExecutionRepository) ListByAgentAndUser(_ context.Context, agentID, userID string, limit int) ([]*models.AgentExecution, error) {
	r.fp.mu.RLock()
	defer r.fp.mu.RUnlock()

	all, err := readAll[models.AgentExecution](r.fp, agentExecutionsDir)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.AgentExecution, 0)

	for _, execution := range all {
		if execution.AgentID == agentID && execution.UserID == userID {
			executions = append(executions, execution)
		}
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

// transition applies mutate when allowed accepts the current status.
func (r *agentExecutionRepository) transition(id string, allowed func(models.ExecutionStatus) bool, mutate func(*models.AgentExecution)) (bool, error) {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	var execution models.AgentExecution

	err := r.fp.read(agentExecutionsDir, id, &execution, persistence.ErrAgentExecutionNotFound)
	if persistence.IsNotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if !allowed(execution.Status) {
		return false, nil
	}

	mutate(&execution)

	return true, r.fp.write(agentExecutionsDir, id, &execution)
}

func (r *agentExecutionRepository) MarkRunning(_ context.Context, id string) (bool, error) {
	return r.transition(id,
		func(s models.ExecutionStatus) bool { return s == models.ExecutionStatusPending },
		func(e *models.AgentExecution) { e.Status = models.ExecutionStatusRunning },
	)
}

func (r *agentExecutionRepository) Complete(_ context.Context, id string, output map[string]any, completedAt time.Time, durationMs int64) (bool, error) {
	return r.transition(id,
		func(s models.ExecutionStatus) bool { return !s.Terminal() },
		func(e *models.AgentExecution) {
			e.Status = models.ExecutionStatusCompleted
			e.Output = output
			e.CompletedAt = &completedAt
			e.Duration = &durationMs
		},
	)
}

func (r *agentExecutionRepository) Fail(_ context.Context, id, errorMessage string, completedAt time.Time, durationMs *int64) (bool, error) {
	return r.transition(id,
		func(s models.ExecutionStatus) bool { return !s.Terminal() },
		func(e *models.AgentExecution) {
			e.Status = models.ExecutionStatusFailed
			e.ErrorMessage = errorMessage
			e.CompletedAt = &completedAt
			e.Duration = durationMs
		},
	)
}

func (r *agentExecutionRepository) FailStale(_ context.Context, errorMessage string, completedAt time.Time) (int64, error) {
	r.fp.mu.Lock()
	defer r.fp.mu.Unlock()

	all, err := readAll[models.AgentExecution](r.fp, agentExecutionsDir)
	if err != nil {
		return 0, err
	}

	var count int64

	for _, execution := range all {
		if execution.Status.Terminal() {
			continue
		}

		execution.Status = models.ExecutionStatusFailed
		execution.ErrorMessage = errorMessage
		execution.CompletedAt = &completedAt

		err := r.fp.write(agentExecutionsDir, execution.ID, execution)
		if err != nil {
			return count, err
		}

		count++
	}

	return count, nil
}
