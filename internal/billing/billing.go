// Package billing gates task creation on per-user credit balances and
// exposes the plan catalog. Balances live in the same Redis store as the
// task records, one integer key per user.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/formyhq/editflow/internal/config"
	"github.com/formyhq/editflow/internal/model"
	"github.com/formyhq/editflow/internal/taskerr"
)

const creditKeyPrefix = "editflow:credits:"

// ErrUnknownPlan is returned by Grant for a plan name not in the catalog.
var ErrUnknownPlan = errors.New("unknown plan")

// Service checks and consumes credits. With billing disabled every check
// passes and consumption is a no-op.
type Service struct {
	client  *redis.Client
	enabled bool
	costs   map[string]int
	plans   []config.Plan
}

// NewService creates a billing Service from the billing configuration.
func NewService(client *redis.Client, cfg config.Billing) *Service {
	return &Service{
		client:  client,
		enabled: cfg.Enabled,
		costs:   cfg.Costs,
		plans:   cfg.Plans,
	}
}

// Cost returns the credit price of one task in the given mode. Modes
// absent from the catalog are free.
func (s *Service) Cost(mode model.EditMode) int {
	return s.costs[string(mode)]
}

// Plans returns the read-only plan catalog.
func (s *Service) Plans() []config.Plan {
	return s.plans
}

// Allow checks that the user can afford one task in the given mode.
// An unaffordable task fails with an insufficient-credits error.
func (s *Service) Allow(ctx context.Context, userID string, mode model.EditMode) error {
	cost := s.Cost(mode)
	if !s.enabled || cost == 0 || userID == "" {
		return nil
	}

	balance, err := s.Balance(ctx, userID)
	if err != nil {
		return err
	}
	if balance < cost {
		return taskerr.Newf(taskerr.CodeInsufficientCredits, "%d credits required, %d available", cost, balance)
	}

	return nil
}

// Consume deducts the cost of one completed task from the user's balance.
func (s *Service) Consume(ctx context.Context, userID string, mode model.EditMode) error {
	cost := s.Cost(mode)
	if !s.enabled || cost == 0 || userID == "" {
		return nil
	}

	if err := s.client.DecrBy(ctx, creditKeyPrefix+userID, int64(cost)).Err(); err != nil {
		return fmt.Errorf("failed to consume credits for %s: %w", userID, err)
	}

	return nil
}

// Balance returns the user's current credit balance. A user without a
// balance key has zero credits.
func (s *Service) Balance(ctx context.Context, userID string) (int, error) {
	balance, err := s.client.Get(ctx, creditKeyPrefix+userID).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read balance for %s: %w", userID, err)
	}
	return balance, nil
}

// Grant credits the user with the named plan's allowance.
func (s *Service) Grant(ctx context.Context, userID, planName string) (int, error) {
	for _, plan := range s.plans {
		if plan.Name != planName {
			continue
		}
		balance, err := s.client.IncrBy(ctx, creditKeyPrefix+userID, int64(plan.Credits)).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to grant credits to %s: %w", userID, err)
		}
		return int(balance), nil
	}
	return 0, fmt.Errorf("%s: %w", planName, ErrUnknownPlan)
}
