package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/services"
)

type fakeDeadLetters struct {
	letters  []services.DeadLetter
	next     string
	err      error
	filter   services.DeadLetterListFilter
	redriven string
}

func (f *fakeDeadLetters) List(_ context.Context, filter services.DeadLetterListFilter) (domain.CursorPage[services.DeadLetter], error) {
	f.filter = filter
	return domain.CursorPage[services.DeadLetter]{Items: f.letters, NextPageToken: f.next}, f.err
}

func (f *fakeDeadLetters) Redrive(_ context.Context, letterID string) (services.DeadLetter, error) {
	f.redriven = letterID
	if f.err != nil {
		return services.DeadLetter{}, f.err
	}
	return services.DeadLetter{ID: letterID, EventID: "evt_9", Status: domain.DeadLetterStatusRedriven}, nil
}

func connectTo(svc services.DeadLetterService) (connectFunc, *int) {
	cleanups := 0
	return func(context.Context, string, *zap.Logger) (services.DeadLetterService, func(), error) {
		return svc, func() { cleanups++ }, nil
	}, &cleanups
}

func TestRunListTable(t *testing.T) {
	fake := &fakeDeadLetters{
		letters: []services.DeadLetter{{
			ID:        "dl-1",
			EventID:   "evt_1",
			EventType: "checkout.session.completed",
			Attempts:  5,
			Status:    domain.DeadLetterStatusOpen,
			LastError: "order store unavailable",
			CreatedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		}},
		next: "tok-2",
	}
	connect, cleanups := connectTo(fake)
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), []string{"list", "--status", "OPEN", "--page-size", "5"}, &stdout, &stderr, connect)
	if err != nil {
		t.Fatalf("run: %v (stderr %s)", err, stderr.String())
	}
	if fake.filter.Pagination.PageSize != 5 || len(fake.filter.Status) != 1 || fake.filter.Status[0] != domain.DeadLetterStatusOpen {
		t.Fatalf("unexpected filter %+v", fake.filter)
	}
	out := stdout.String()
	for _, want := range []string{"dl-1", "evt_1", "2026-02-03T04:05:06Z", "order store unavailable", "--page-token tok-2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if *cleanups != 1 {
		t.Fatalf("expected cleanup to run once, got %d", *cleanups)
	}
}

func TestRunRedriveJSON(t *testing.T) {
	fake := &fakeDeadLetters{}
	connect, _ := connectTo(fake)
	var stdout, stderr bytes.Buffer

	if err := run(context.Background(), []string{"--json", "redrive", "dl-7"}, &stdout, &stderr, connect); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fake.redriven != "dl-7" {
		t.Fatalf("expected dl-7 redriven, got %q", fake.redriven)
	}
	var view letterView
	if err := json.Unmarshal(stdout.Bytes(), &view); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if view.ID != "dl-7" || view.Status != "redriven" {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestRunRedriveError(t *testing.T) {
	fake := &fakeDeadLetters{err: services.ErrDeadLetterConflict}
	connect, _ := connectTo(fake)
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), []string{"redrive", "dl-7"}, &stdout, &stderr, connect)
	if !errors.Is(err, services.ErrDeadLetterConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRunUsageErrors(t *testing.T) {
	connected := false
	connect := func(context.Context, string, *zap.Logger) (services.DeadLetterService, func(), error) {
		connected = true
		return &fakeDeadLetters{}, func() {}, nil
	}
	for _, args := range [][]string{
		nil,
		{"purge"},
		{"redrive"},
		{"list", "extra"},
		{"--no-such-flag", "list"},
	} {
		var stdout, stderr bytes.Buffer
		if err := run(context.Background(), args, &stdout, &stderr, connect); !errors.Is(err, errUsage) {
			t.Fatalf("args %v: expected usage error, got %v", args, err)
		}
	}
	if connected {
		t.Fatalf("usage errors must not open connections")
	}
}

func TestRunConnectFailure(t *testing.T) {
	connect := func(context.Context, string, *zap.Logger) (services.DeadLetterService, func(), error) {
		return nil, nil, errors.New("no credentials")
	}
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"list"}, &stdout, &stderr, connect)
	if err == nil || !strings.Contains(err.Error(), "no credentials") {
		t.Fatalf("expected connect error, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Fatalf("unexpected %q", got)
	}
}
