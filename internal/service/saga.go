package service

import (
	"context"
	"time"

	"order-fulfillment/internal/util"

	"go.uber.org/zap"
)

const defaultCompensationTimeout = 10 * time.Second

// SagaStep is a unit of work with an optional compensating action.
// Compensate undoes Execute and only runs when Execute succeeded.
type SagaStep struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Saga runs steps in order and compensates completed steps in reverse
// order when one fails.
type Saga struct {
	name                string
	steps               []SagaStep
	compensationTimeout time.Duration
	logger              *zap.Logger
}

// NewSaga creates a new saga
func NewSaga(name string, compensationTimeout time.Duration, steps ...SagaStep) *Saga {
	if compensationTimeout <= 0 {
		compensationTimeout = defaultCompensationTimeout
	}
	return &Saga{
		name:                name,
		steps:               steps,
		compensationTimeout: compensationTimeout,
		logger:              util.GetLogger(),
	}
}

// Run executes the saga and returns the error of the first failed step
func (s *Saga) Run(ctx context.Context) error {
	completed := make([]SagaStep, 0, len(s.steps))

	for _, step := range s.steps {
		if err := step.Execute(ctx); err != nil {
			util.LoggerFromContext(ctx).Warn("Saga step failed, compensating",
				zap.String("saga", s.name),
				zap.String("step", step.Name),
				zap.Int("completed_steps", len(completed)),
				zap.Error(err))
			s.compensate(ctx, completed)
			return err
		}
		completed = append(completed, step)
	}

	return nil
}

// compensate runs on a context that survives the caller's cancellation,
// since the caller's deadline is often the reason the saga failed.
func (s *Saga) compensate(ctx context.Context, completed []SagaStep) {
	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}

		if err := step.Compensate(compCtx); err != nil {
			util.SagaCompensationsTotal.WithLabelValues(step.Name, "failed").Inc()
			s.logger.Error("Failed to compensate saga step",
				zap.String("saga", s.name),
				zap.String("step", step.Name),
				zap.Error(err))
			continue
		}
		util.SagaCompensationsTotal.WithLabelValues(step.Name, "ok").Inc()
	}
}
