package expire

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MichaelUrman/bookstore/internal/domain/model"
)

type fakeLedger struct {
	cutoff time.Time
	out    []model.Purchase
	err    error
}

func (f *fakeLedger) Expire(_ context.Context, cutoff time.Time) ([]model.Purchase, error) {
	f.cutoff = cutoff
	return f.out, f.err
}

func TestRunUsesPendingTTLCutoff(t *testing.T) {
	now := time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)
	ledger := &fakeLedger{out: []model.Purchase{{ID: 1}, {ID: 2}}}

	job := New(ledger, 48*time.Hour, nil)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run expire job: %v", err)
	}
	if want := now.Add(-48 * time.Hour); !ledger.cutoff.Equal(want) {
		t.Fatalf("unexpected cutoff: got %s want %s", ledger.cutoff, want)
	}
}

func TestRunDefaultsToOneDay(t *testing.T) {
	now := time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)
	ledger := &fakeLedger{}

	job := New(ledger, 0, nil)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run expire job: %v", err)
	}
	if want := now.Add(-24 * time.Hour); !ledger.cutoff.Equal(want) {
		t.Fatalf("unexpected cutoff: got %s want %s", ledger.cutoff, want)
	}
}

func TestRunPropagatesLedgerError(t *testing.T) {
	job := New(&fakeLedger{err: errors.New("db down")}, time.Hour, nil)
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if err := New(nil, time.Hour, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected error for nil ledger")
	}
}
