package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/billingz-backend/pkg/logger"
)

type fakeTicker struct {
	runs int
	err  error
}

func (f *fakeTicker) Tick(context.Context) error {
	f.runs++
	return f.err
}

func TestBillingCycleJobRunsTick(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	ticker := &fakeTicker{}

	job, err := NewBillingCycleJob(BillingCycleJobParams{Logger: logg, Scheduler: ticker})
	if err != nil {
		t.Fatalf("NewBillingCycleJob: %v", err)
	}
	if job.Name() != "billing-cycle" {
		t.Fatalf("name = %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ticker.runs != 1 {
		t.Fatalf("tick ran %d times", ticker.runs)
	}
}

func TestBillingCycleJobPropagatesError(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	ticker := &fakeTicker{err: errors.New("cycle failed")}

	job, err := NewBillingCycleJob(BillingCycleJobParams{Logger: logg, Scheduler: ticker})
	if err != nil {
		t.Fatalf("NewBillingCycleJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeRetentionRepo struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (f *fakeRetentionRepo) DeletePublishedBefore(cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, f.err
}

func TestOutboxRetentionJobUsesRetentionWindow(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	repo := &fakeRetentionRepo{deleted: 7}

	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logg,
		Repository: repo,
		Retention:  10,
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := time.Now().UTC().Add(-10 * 24 * time.Hour)
	if diff := repo.cutoff.Sub(want); diff > time.Minute || diff < -time.Minute {
		t.Fatalf("cutoff = %s, want about %s", repo.cutoff, want)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	repo := &fakeRetentionRepo{err: errors.New("db down")}

	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logg, Repository: repo})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
