package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/billingz-backend/pkg/logger"
)

// billingTicker is the slice of the subscription service the job needs.
type billingTicker interface {
	Tick(ctx context.Context) error
}

type BillingCycleJobParams struct {
	Logger    *logger.Logger
	Scheduler billingTicker
}

// NewBillingCycleJob wraps the subscription billing tick as a cron job. The
// tick itself claims rows exclusively, so overlapping runs are harmless.
func NewBillingCycleJob(params BillingCycleJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Scheduler == nil {
		return nil, fmt.Errorf("scheduler required")
	}
	return &billingCycleJob{
		logg:      params.Logger,
		scheduler: params.Scheduler,
	}, nil
}

type billingCycleJob struct {
	logg      *logger.Logger
	scheduler billingTicker
}

func (j *billingCycleJob) Name() string { return "billing-cycle" }

func (j *billingCycleJob) Run(ctx context.Context) error {
	if err := j.scheduler.Tick(ctx); err != nil {
		return fmt.Errorf("billing tick: %w", err)
	}
	return nil
}
