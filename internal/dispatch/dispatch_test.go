package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/1percentsync/sakura-dispatch/internal/config"
	"github.com/1percentsync/sakura-dispatch/internal/models"
	"github.com/1percentsync/sakura-dispatch/internal/queue"
	"github.com/1percentsync/sakura-dispatch/internal/rendezvous"
	"github.com/1percentsync/sakura-dispatch/internal/store"
	"github.com/1percentsync/sakura-dispatch/internal/timeline"
)

func testRegistry() *models.Registry {
	return models.New([]models.Spec{
		{ID: "test-model", Meta: models.Meta{VocabType: 1, NVocab: 100, NCtxTrain: 4096, NEmbd: 512, NParams: 7000000, Size: 123456}},
	})
}

func fastConfig() config.DispatchConfig {
	cfg := config.DefaultDispatchConfig()
	cfg.Phase1Wait = 150 * time.Millisecond
	cfg.Phase2Window = 400 * time.Millisecond
	cfg.PollInterval = 20 * time.Millisecond
	cfg.ClaimTimeout = 60 * time.Millisecond
	cfg.FetchSkipFirstClaim = 10 * time.Second
	cfg.FetchSkipRetryClaim = 20 * time.Second
	cfg.TempBanDuration = time.Second
	cfg.MaxTryCount = 2
	return cfg
}

func newTestDispatcher(t *testing.T, cfg config.DispatchConfig) (*Dispatcher, store.CredentialStore) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	if _, err := st.CreateOrRotateUser(ctx, 1, "requester"); err != nil {
		t.Fatalf("seed requester: %v", err)
	}
	if _, err := st.CreateOrRotateUser(ctx, 9, "worker"); err != nil {
		t.Fatalf("seed worker: %v", err)
	}
	d := New(queue.New(), rendezvous.NewTable(), st, testRegistry(), timeline.NewStore(100), nil, cfg)
	return d, st
}

func credentialFor(t *testing.T, st store.CredentialStore, userID int64) store.Credential {
	t.Helper()
	u, err := st.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetUser(%d): %v", userID, err)
	}
	return store.Credential{UserID: userID, Secret: u.TokenSecret}
}

func TestHappyPath(t *testing.T) {
	d, st := newTestDispatcher(t, fastConfig())
	requester := credentialFor(t, st, 1)
	worker := credentialFor(t, st, 9)
	declared := models.Declared{Data: []models.DeclaredEntry{{ID: "test-model", Meta: testRegistry().List()[0].Meta}}}

	resultCh := make(chan []byte, 1)
	go func() {
		payload, err := d.SubmitCompletion(context.Background(), requester, "test-model", []byte(`{"messages":[]}`))
		if err != nil {
			t.Errorf("SubmitCompletion: %v", err)
			resultCh <- nil
			return
		}
		resultCh <- payload
	}()

	time.Sleep(20 * time.Millisecond)
	task, ferr := d.FetchTask(context.Background(), worker, declared)
	if ferr != nil {
		t.Fatalf("FetchTask: %v", ferr)
	}
	if task == nil {
		t.Fatal("FetchTask returned no task")
	}

	if serr := d.SubmitResult(context.Background(), worker, task.TaskID, []byte(`{"choices":[]}`)); serr != nil {
		t.Fatalf("SubmitResult: %v", serr)
	}

	select {
	case payload := <-resultCh:
		if string(payload) != `{"choices":[]}` {
			t.Fatalf("got payload %q, want the submitted response", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	u, err := st.GetUser(context.Background(), 9)
	if err != nil {
		t.Fatalf("GetUser worker: %v", err)
	}
	if u.Contribution != 1 {
		t.Fatalf("worker contribution = %d, want 1", u.Contribution)
	}
	u, _ = st.GetUser(context.Background(), 1)
	if u.TotalUsage != 1 {
		t.Fatalf("requester total_usage = %d, want 1", u.TotalUsage)
	}
}

func TestInvalidCredential(t *testing.T) {
	d, _ := newTestDispatcher(t, fastConfig())
	bad := store.Credential{UserID: 1, Secret: "wrong"}

	_, err := d.SubmitCompletion(context.Background(), bad, "test-model", []byte(`{}`))
	if err == nil || err.Kind != KindInvalidToken {
		t.Fatalf("expected invalid_token, got %+v", err)
	}
}

func TestInvalidModel(t *testing.T) {
	d, st := newTestDispatcher(t, fastConfig())
	requester := credentialFor(t, st, 1)

	_, err := d.SubmitCompletion(context.Background(), requester, "no-such-model", []byte(`{}`))
	if err == nil || err.Kind != KindInvalidModel {
		t.Fatalf("expected invalid_model, got %+v", err)
	}
}

func TestTimeoutWhenNeverClaimed(t *testing.T) {
	d, st := newTestDispatcher(t, fastConfig())
	requester := credentialFor(t, st, 1)

	_, err := d.SubmitCompletion(context.Background(), requester, "test-model", []byte(`{}`))
	if err == nil || err.Kind != KindTimeout {
		t.Fatalf("expected timeout, got %+v", err)
	}
	if d.queue.Len() != 0 {
		t.Fatalf("queue should be empty after timeout cleanup, got %d", d.queue.Len())
	}
}

func TestSubmitResultUnknownTask(t *testing.T) {
	d, st := newTestDispatcher(t, fastConfig())
	worker := credentialFor(t, st, 9)

	err := d.SubmitResult(context.Background(), worker, "does-not-exist", []byte(`{}`))
	if err == nil || err.Kind != KindNotFound {
		t.Fatalf("expected not_found, got %+v", err)
	}
}

func TestRetryAfterStaleClaimThenTempBan(t *testing.T) {
	cfg := fastConfig()
	cfg.Phase1Wait = 30 * time.Millisecond
	cfg.Phase2Window = 300 * time.Millisecond
	cfg.ClaimTimeout = 20 * time.Millisecond
	d, st := newTestDispatcher(t, cfg)
	requester := credentialFor(t, st, 1)
	worker := credentialFor(t, st, 9)
	declared := models.Declared{Data: []models.DeclaredEntry{{ID: "test-model", Meta: testRegistry().List()[0].Meta}}}

	errCh := make(chan *Error, 1)
	go func() {
		_, err := d.SubmitCompletion(context.Background(), requester, "test-model", []byte(`{}`))
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	task1, ferr := d.FetchTask(context.Background(), worker, declared)
	if ferr != nil || task1 == nil {
		t.Fatalf("first FetchTask: %v, task=%v", ferr, task1)
	}

	// Worker never submits; once the claim goes stale the requester's
	// monitor retries and re-queues the task. Poll until it is fetchable
	// again and claim it a second time, without submitting that one
	// either, so try_count reaches 2 before the overall deadline.
	var task2 *queue.Task
	pollDeadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(pollDeadline) {
		task2, ferr = d.FetchTask(context.Background(), worker, declared)
		if ferr != nil {
			t.Fatalf("second FetchTask: %v", ferr)
		}
		if task2 != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if task2 == nil {
		t.Fatal("expected the retried task to become fetchable again")
	}
	if task2.TaskID != task1.TaskID {
		t.Fatal("expected to reclaim the same task after retry")
	}
	if got := task2.Snapshot().TryCount; got != 2 {
		t.Fatalf("try_count after second claim = %d, want 2", got)
	}

	err := <-errCh
	if err == nil || err.Kind != KindTimeout {
		t.Fatalf("expected timeout after retry exhaustion, got %+v", err)
	}

	u, gerr := st.GetUser(context.Background(), 1)
	if gerr != nil {
		t.Fatalf("GetUser: %v", gerr)
	}
	if u.TempBanUntil.IsZero() {
		t.Fatal("expected temp-ban to be set after retry exhaustion (try_count > 1)")
	}
}
