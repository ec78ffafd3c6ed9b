package keypool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gptproxy/gptproxy/internal/models"
)

func newTestManager(t *testing.T, opts ManagerOptions) (*Manager, *GormStore) {
	t.Helper()
	store := NewGormStore(setupTestDB(t))
	selector := NewSelector(store, time.Hour, 0)
	validator := NewValidator(store, selector, ValidatorOptions{
		ValidationURL: "http://127.0.0.1:0/models",
		ProbeTimeout:  time.Second,
		Concurrency:   1,
	})
	if opts.SecretPrefix == "" {
		opts.SecretPrefix = "sk-"
	}
	return NewManager(store, NewAccountant(), selector, validator, opts), store
}

func TestManager_BulkAddIsolatesBadLines(t *testing.T) {
	t.Parallel()
	manager, _ := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	report, errBulk := manager.BulkAdd(ctx, "sk-alpha-1111\nsk-beta-2222,team beta\n\nnot-a-key\nsk-alpha-1111\n")
	if errBulk != nil {
		t.Fatalf("bulk add: %v", errBulk)
	}
	if report.SuccessCount != 2 || report.ErrorCount != 2 {
		t.Fatalf("report = %+v, want 2 successes / 2 errors", report)
	}
	if len(report.Results) != 4 {
		t.Fatalf("results = %d entries, want 4 (blank line skipped)", len(report.Results))
	}
	for _, result := range report.Results {
		if result.KeySuffix == "sk-alpha-1111" || result.KeySuffix == "sk-beta-2222" {
			t.Fatalf("result echoed unmasked secret %q", result.KeySuffix)
		}
		if !result.Success && result.ErrorMessage == "" {
			t.Fatalf("failed result carries no message: %+v", result)
		}
	}

	views, total, errList := manager.ListKeys(ctx, "", 1, 10)
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	for _, view := range views {
		if view.Status != models.KeyStatusActive {
			t.Fatalf("new key status = %q, want active", view.Status)
		}
		if view.MaskedSecret == "sk-alpha-1111" || view.MaskedSecret == "sk-beta-2222" {
			t.Fatalf("secret %q leaked unmasked", view.MaskedSecret)
		}
	}
}

func TestManager_BulkAddCarriesNames(t *testing.T) {
	t.Parallel()
	manager, store := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	report, errBulk := manager.BulkAdd(ctx, "sk-named-0001,billing team")
	if errBulk != nil {
		t.Fatalf("bulk add: %v", errBulk)
	}
	if report.SuccessCount != 1 {
		t.Fatalf("success count = %d, want 1", report.SuccessCount)
	}

	key, errGet := store.GetBySecret(ctx, "sk-named-0001")
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if key.Name != "billing team" {
		t.Fatalf("name = %q, want %q", key.Name, "billing team")
	}
}

func TestManager_ReportFailureDeactivatesOnAuthStatuses(t *testing.T) {
	t.Parallel()
	manager, store := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	first, errAdd := manager.AddKey(ctx, "sk-fail-1111", "")
	if errAdd != nil {
		t.Fatalf("add: %v", errAdd)
	}
	second, errAdd := manager.AddKey(ctx, "sk-fail-2222", "")
	if errAdd != nil {
		t.Fatalf("add: %v", errAdd)
	}

	manager.ReportFailure(ctx, first.ID, 401)

	got, _ := store.GetByID(ctx, first.ID)
	if got.Status != models.KeyStatusInactive {
		t.Fatalf("status after 401 = %q, want inactive", got.Status)
	}

	for i := 0; i < 5; i++ {
		key, errPick := manager.SelectKey(ctx)
		if errPick != nil {
			t.Fatalf("select: %v", errPick)
		}
		if key.ID != second.ID {
			t.Fatalf("selected %s, want only %s", key.ID, second.ID)
		}
	}
}

func TestManager_ReportFailureIgnoresServerErrors(t *testing.T) {
	t.Parallel()
	manager, store := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	key, errAdd := manager.AddKey(ctx, "sk-500-1111", "")
	if errAdd != nil {
		t.Fatalf("add: %v", errAdd)
	}

	manager.ReportFailure(ctx, key.ID, 500)

	got, _ := store.GetByID(ctx, key.ID)
	if got.Status != models.KeyStatusActive {
		t.Fatalf("status after 500 = %q, want active", got.Status)
	}
}

func TestManager_SetStatusErrors(t *testing.T) {
	t.Parallel()
	manager, _ := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	if _, errSet := manager.SetStatus(ctx, "missing", "active"); !errors.Is(errSet, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", errSet)
	}

	key, errAdd := manager.AddKey(ctx, "sk-status-1111", "")
	if errAdd != nil {
		t.Fatalf("add: %v", errAdd)
	}
	if _, errSet := manager.SetStatus(ctx, key.ID, "borked"); !errors.Is(errSet, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", errSet)
	}
}

func TestManager_SetStatusUnrevokesExplicitly(t *testing.T) {
	t.Parallel()
	manager, store := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	key, errAdd := manager.AddKey(ctx, "sk-revoke-1111", "")
	if errAdd != nil {
		t.Fatalf("add: %v", errAdd)
	}
	if _, errSet := manager.SetStatus(ctx, key.ID, models.KeyStatusRevoked); errSet != nil {
		t.Fatalf("revoke: %v", errSet)
	}
	if _, errSet := manager.SetStatus(ctx, key.ID, models.KeyStatusActive); errSet != nil {
		t.Fatalf("unrevoke: %v", errSet)
	}

	got, _ := store.GetByID(ctx, key.ID)
	if got.Status != models.KeyStatusActive {
		t.Fatalf("status = %q, want active after explicit reactivation", got.Status)
	}
}

func TestManager_ResetAllLeavesRevokedAlone(t *testing.T) {
	t.Parallel()
	manager, store := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	inactive, _ := manager.AddKey(ctx, "sk-ra-1111", "")
	revoked, _ := manager.AddKey(ctx, "sk-ra-2222", "")
	if _, errSet := manager.SetStatus(ctx, inactive.ID, models.KeyStatusInactive); errSet != nil {
		t.Fatalf("deactivate: %v", errSet)
	}
	if _, errSet := manager.SetStatus(ctx, revoked.ID, models.KeyStatusRevoked); errSet != nil {
		t.Fatalf("revoke: %v", errSet)
	}

	count, errReset := manager.ResetAll(ctx)
	if errReset != nil {
		t.Fatalf("reset: %v", errReset)
	}
	if count != 1 {
		t.Fatalf("reset count = %d, want 1", count)
	}

	gotRevoked, _ := store.GetByID(ctx, revoked.ID)
	if gotRevoked.Status != models.KeyStatusRevoked {
		t.Fatalf("revoked key became %q", gotRevoked.Status)
	}
}

func TestManager_ResetAllCanIncludeRevoked(t *testing.T) {
	t.Parallel()
	manager, store := newTestManager(t, ManagerOptions{ResetIncludeRevoked: true})
	ctx := context.Background()

	revoked, _ := manager.AddKey(ctx, "sk-rr-1111", "")
	if _, errSet := manager.SetStatus(ctx, revoked.ID, models.KeyStatusRevoked); errSet != nil {
		t.Fatalf("revoke: %v", errSet)
	}

	count, errReset := manager.ResetAll(ctx)
	if errReset != nil {
		t.Fatalf("reset: %v", errReset)
	}
	if count != 1 {
		t.Fatalf("reset count = %d, want 1", count)
	}
	got, _ := store.GetByID(ctx, revoked.ID)
	if got.Status != models.KeyStatusActive {
		t.Fatalf("status = %q, want active", got.Status)
	}
}

func TestManager_DeleteDropsUsageCounters(t *testing.T) {
	t.Parallel()
	manager, _ := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	key, errAdd := manager.AddKey(ctx, "sk-del-1111", "")
	if errAdd != nil {
		t.Fatalf("add: %v", errAdd)
	}
	manager.accountant.Record(key.ID)
	manager.accountant.Record(key.ID)

	if errDelete := manager.Delete(ctx, key.ID); errDelete != nil {
		t.Fatalf("delete: %v", errDelete)
	}
	if _, errGet := manager.GetKey(ctx, key.ID); !errors.Is(errGet, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", errGet)
	}
	if u := manager.accountant.StatsFor(key.ID); u != (Usage{}) {
		t.Fatalf("usage after delete = %+v, want zero", u)
	}
}

func TestManager_GlobalStatsComposition(t *testing.T) {
	t.Parallel()
	manager, store := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	active, _ := manager.AddKey(ctx, "sk-gs-1111", "")
	inactive, _ := manager.AddKey(ctx, "sk-gs-2222", "")
	if _, errSet := manager.SetStatus(ctx, inactive.ID, models.KeyStatusInactive); errSet != nil {
		t.Fatalf("deactivate: %v", errSet)
	}
	at := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if errTouch := store.Touch(ctx, active.ID, at); errTouch != nil {
			t.Fatalf("touch: %v", errTouch)
		}
	}
	manager.accountant.Record(active.ID)

	stats, errStats := manager.GlobalStats(ctx)
	if errStats != nil {
		t.Fatalf("stats: %v", errStats)
	}
	if stats.TotalKeys != 2 || stats.ActiveKeys != 1 || stats.InactiveKeys != 1 {
		t.Fatalf("composition = %+v", stats)
	}
	if stats.GrandTotalRequests != 3 {
		t.Fatalf("grand total = %d, want 3", stats.GrandTotalRequests)
	}
	if stats.GrandTotalUsageLastMinute != 1 {
		t.Fatalf("global last minute = %d, want 1", stats.GrandTotalUsageLastMinute)
	}
}
