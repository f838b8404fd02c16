package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/nvoronin/tradeschool/backend/internal/domain/model"
	"github.com/nvoronin/tradeschool/backend/internal/infra/commerceapi"
	pgrepo "github.com/nvoronin/tradeschool/backend/internal/repo/postgres"
)

type backendStub struct {
	records map[string]commerceapi.PurchaseRecord
}

func (s *backendStub) GetPurchase(_ context.Context, purchaseID string) (commerceapi.PurchaseRecord, error) {
	record, ok := s.records[purchaseID]
	if !ok {
		return commerceapi.PurchaseRecord{}, &commerceapi.APIError{StatusCode: 404, Message: "purchase not found"}
	}
	return record, nil
}

type journalStub struct {
	users       []int64
	unresolved  map[int64][]pgrepo.AttemptRecord
	transitions []string
	settled     bool
}

func (j *journalStub) ListUnresolvedUsers(_ context.Context) ([]int64, error) {
	return j.users, nil
}

func (j *journalStub) ListUnresolved(_ context.Context, userID int64) ([]pgrepo.AttemptRecord, error) {
	return j.unresolved[userID], nil
}

func (j *journalStub) TransitionStatus(_ context.Context, purchaseID, from, to string) (bool, error) {
	j.transitions = append(j.transitions, purchaseID+":"+from+">"+to)
	if j.settled {
		return false, nil
	}
	return true, nil
}

type watchStub struct {
	added   []string
	removed []string
}

func (w *watchStub) AddWatched(_ context.Context, _ int64, purchaseID string) error {
	w.added = append(w.added, purchaseID)
	return nil
}

func (w *watchStub) RemoveWatched(_ context.Context, _ int64, purchaseID string) error {
	w.removed = append(w.removed, purchaseID)
	return nil
}

type notifyStub struct {
	notified []string
}

func (n *notifyStub) NotifyPurchaseResolved(_ context.Context, purchaseID, _, status string) error {
	n.notified = append(n.notified, purchaseID+":"+status)
	return nil
}

type archiveStub struct {
	archived []model.PurchaseAttempt
}

func (a *archiveStub) Archive(_ context.Context, attempt model.PurchaseAttempt) (string, error) {
	a.archived = append(a.archived, attempt)
	return "receipts/" + attempt.ID, nil
}

func ptr[T any](v T) *T { return &v }

func unresolvedRecord(purchaseID, status string, expiresAt *time.Time) pgrepo.AttemptRecord {
	return pgrepo.AttemptRecord{
		AttemptKey: "key-" + purchaseID,
		PurchaseID: ptr(purchaseID),
		UserID:     7,
		ProductID:  "course-pro",
		Method:     "stablecoin",
		Status:     status,
		DueAmount:  90,
		ExpiresAt:  expiresAt,
	}
}

func TestSweepSettlesBackendResolvedAttempt(t *testing.T) {
	backend := &backendStub{records: map[string]commerceapi.PurchaseRecord{
		"p-1": {PurchaseID: "p-1", ProductID: "course-pro", Status: "CONFIRMED"},
	}}
	journal := &journalStub{
		users:      []int64{7},
		unresolved: map[int64][]pgrepo.AttemptRecord{7: {unresolvedRecord("p-1", "verifying", nil)}},
	}
	watch := &watchStub{}
	notify := &notifyStub{}
	archive := &archiveStub{}

	r := New(Dependencies{
		Backend:   backend,
		Journal:   journal,
		Watchlist: watch,
		Notifier:  notify,
		Archiver:  archive,
	}, Config{})
	r.sweep(context.Background())

	if len(journal.transitions) != 1 || journal.transitions[0] != "p-1:verifying>confirmed" {
		t.Fatalf("unexpected transitions: %v", journal.transitions)
	}
	if len(archive.archived) != 1 || archive.archived[0].ID != "p-1" {
		t.Fatalf("settled attempt must be archived: %+v", archive.archived)
	}
	if len(notify.notified) != 1 || notify.notified[0] != "p-1:confirmed" {
		t.Fatalf("unexpected notifications: %v", notify.notified)
	}
	if len(watch.removed) != 1 || watch.removed[0] != "p-1" {
		t.Fatalf("settled attempt must leave the watch-list: %v", watch.removed)
	}
}

func TestSweepRestoresWatchlistForPendingAttempt(t *testing.T) {
	backend := &backendStub{records: map[string]commerceapi.PurchaseRecord{
		"p-1": {PurchaseID: "p-1", Status: "PENDING"},
	}}
	journal := &journalStub{
		users:      []int64{7},
		unresolved: map[int64][]pgrepo.AttemptRecord{7: {unresolvedRecord("p-1", "awaiting_proof", ptr(time.Now().Add(time.Hour)))}},
	}
	watch := &watchStub{}

	r := New(Dependencies{Backend: backend, Journal: journal, Watchlist: watch}, Config{})
	r.sweep(context.Background())

	if len(watch.added) != 1 || watch.added[0] != "p-1" {
		t.Fatalf("pending attempt must be restored to the watch-list: %v", watch.added)
	}
	if len(journal.transitions) != 0 {
		t.Fatalf("pending attempt must not be settled: %v", journal.transitions)
	}
}

func TestSweepExpiresOverdueAttempt(t *testing.T) {
	backend := &backendStub{records: map[string]commerceapi.PurchaseRecord{
		"p-1": {PurchaseID: "p-1", Status: "PENDING"},
	}}
	journal := &journalStub{
		users:      []int64{7},
		unresolved: map[int64][]pgrepo.AttemptRecord{7: {unresolvedRecord("p-1", "awaiting_proof", ptr(time.Now().Add(-time.Minute)))}},
	}
	notify := &notifyStub{}

	r := New(Dependencies{Backend: backend, Journal: journal, Notifier: notify}, Config{})
	r.sweep(context.Background())

	if len(journal.transitions) != 1 || journal.transitions[0] != "p-1:awaiting_proof>expired" {
		t.Fatalf("overdue attempt must expire: %v", journal.transitions)
	}
	if len(notify.notified) != 1 || notify.notified[0] != "p-1:expired" {
		t.Fatalf("expiry must be notified: %v", notify.notified)
	}
}

func TestSweepSkipsAlreadySettledAttempt(t *testing.T) {
	backend := &backendStub{records: map[string]commerceapi.PurchaseRecord{
		"p-1": {PurchaseID: "p-1", Status: "CONFIRMED"},
	}}
	journal := &journalStub{
		users:      []int64{7},
		unresolved: map[int64][]pgrepo.AttemptRecord{7: {unresolvedRecord("p-1", "verifying", nil)}},
		settled:    true,
	}
	notify := &notifyStub{}
	archive := &archiveStub{}

	r := New(Dependencies{Backend: backend, Journal: journal, Notifier: notify, Archiver: archive}, Config{})
	r.sweep(context.Background())

	if len(notify.notified) != 0 || len(archive.archived) != 0 {
		t.Fatalf("a lost settle race must not notify or archive twice")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	journal := &journalStub{}
	r := New(Dependencies{Backend: &backendStub{}, Journal: journal}, Config{Interval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("reconciler did not stop after cancellation")
	}
}
