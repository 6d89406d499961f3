package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/1percentsync/sakura-dispatch/internal/config"
	"github.com/1percentsync/sakura-dispatch/internal/dispatch"
	"github.com/1percentsync/sakura-dispatch/internal/idempotency"
	"github.com/1percentsync/sakura-dispatch/internal/models"
	"github.com/1percentsync/sakura-dispatch/internal/queue"
	"github.com/1percentsync/sakura-dispatch/internal/rendezvous"
	"github.com/1percentsync/sakura-dispatch/internal/store"
	"github.com/1percentsync/sakura-dispatch/internal/timeline"
)

func testModelSpec() models.Spec {
	return models.Spec{
		ID:     "test-model",
		Object: "model",
		Meta:   models.Meta{VocabType: 1, NVocab: 100, NCtxTrain: 4096, NEmbd: 512, NParams: 7000000, Size: 123456},
	}
}

func newTestAPI(t *testing.T) (*API, store.CredentialStore) {
	t.Helper()
	cfg := config.DefaultDispatchConfig()
	cfg.Phase1Wait = 200 * time.Millisecond
	cfg.Phase2Window = 300 * time.Millisecond
	cfg.PollInterval = 20 * time.Millisecond
	cfg.AdminToken = "test-admin-secret"

	st := store.NewMemoryStore()
	ctx := context.Background()
	if _, err := st.CreateOrRotateUser(ctx, 42, "requester"); err != nil {
		t.Fatalf("seed requester: %v", err)
	}
	if _, err := st.CreateOrRotateUser(ctx, 9, "worker"); err != nil {
		t.Fatalf("seed worker: %v", err)
	}

	reg := models.New([]models.Spec{testModelSpec()})
	d := dispatch.New(queue.New(), rendezvous.NewTable(), st, reg, timeline.NewStore(100), nil, cfg)
	api := New(d, st, reg, nil, idempotency.NewStore(nil, time.Hour), cfg)
	return api, st
}

func credPath(t *testing.T, st store.CredentialStore, userID int64) string {
	t.Helper()
	u, err := st.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetUser(%d): %v", userID, err)
	}
	return fmt.Sprintf("%d-%s", userID, u.TokenSecret)
}

func TestHTTPHappyPath(t *testing.T) {
	api, st := newTestAPI(t)
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	userCred := credPath(t, st, 42)
	workerCred := credPath(t, st, 9)

	resultCh := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Post(fmt.Sprintf("%s/%s/test-model/v1/chat/completions", srv.URL, userCred), "application/json", bytes.NewBufferString(`{"messages":[]}`))
		if err != nil {
			t.Errorf("chat completion request: %v", err)
			resultCh <- nil
			return
		}
		resultCh <- resp
	}()

	time.Sleep(30 * time.Millisecond)

	fetchBody, _ := json.Marshal(fetchTaskRequest{ModelInfo: models.Declared{Data: []models.DeclaredEntry{{ID: "test-model", Meta: testModelSpec().Meta}}}})
	fresp, err := http.Post(fmt.Sprintf("%s/%s/fetch_task", srv.URL, workerCred), "application/json", bytes.NewReader(fetchBody))
	if err != nil {
		t.Fatalf("fetch_task request: %v", err)
	}
	defer fresp.Body.Close()
	var fetched fetchTaskResponse
	if err := json.NewDecoder(fresp.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode fetch_task response: %v", err)
	}
	if fetched.TaskID == "" {
		t.Fatalf("expected a claimed task, got %+v", fetched)
	}

	submitBody, _ := json.Marshal(submitResultRequest{TaskID: fetched.TaskID, Response: json.RawMessage(`{"choices":[]}`)})
	sresp, err := http.Post(fmt.Sprintf("%s/%s/submit_result", srv.URL, workerCred), "application/json", bytes.NewReader(submitBody))
	if err != nil {
		t.Fatalf("submit_result request: %v", err)
	}
	defer sresp.Body.Close()
	if sresp.StatusCode != http.StatusOK {
		t.Fatalf("submit_result status = %d, want 200", sresp.StatusCode)
	}

	select {
	case resp := <-resultCh:
		if resp == nil {
			t.Fatal("chat completion request failed")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("chat completion status = %d, want 200", resp.StatusCode)
		}
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		if buf.String() != `{"choices":[]}` {
			t.Fatalf("got body %q, want the submitted response", buf.String())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chat completion response")
	}
}

func TestHTTPInvalidCredential(t *testing.T) {
	api, _ := newTestAPI(t)
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/42-wrongsecret/v1/chat/completions", "application/json", bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHTTPListModels(t *testing.T) {
	api, st := newTestAPI(t)
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	userCred := credPath(t, st, 42)
	resp, err := http.Get(fmt.Sprintf("%s/%s/v1/models", srv.URL, userCred))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Object string        `json:"object"`
		Data   []models.Spec `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Object != "list" || len(body.Data) != 1 {
		t.Fatalf("unexpected models response: %+v", body)
	}
}

func TestHTTPAdminRequiresToken(t *testing.T) {
	api, _ := newTestAPI(t)
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/users")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/users", nil)
	req.Header.Set("Authorization", "Bearer test-admin-secret")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authed request: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("authed status = %d, want 200", resp2.StatusCode)
	}
}

func TestHTTPSubmitResultIdempotentReplay(t *testing.T) {
	api, st := newTestAPI(t)
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()

	userCred := credPath(t, st, 42)
	workerCred := credPath(t, st, 9)

	resultCh := make(chan struct{}, 1)
	go func() {
		resp, err := http.Post(fmt.Sprintf("%s/%s/test-model/v1/chat/completions", srv.URL, userCred), "application/json", bytes.NewBufferString(`{}`))
		if err == nil {
			resp.Body.Close()
		}
		resultCh <- struct{}{}
	}()

	time.Sleep(30 * time.Millisecond)
	fetchBody, _ := json.Marshal(fetchTaskRequest{ModelInfo: models.Declared{Data: []models.DeclaredEntry{{ID: "test-model", Meta: testModelSpec().Meta}}}})
	fresp, _ := http.Post(fmt.Sprintf("%s/%s/fetch_task", srv.URL, workerCred), "application/json", bytes.NewReader(fetchBody))
	var fetched fetchTaskResponse
	json.NewDecoder(fresp.Body).Decode(&fetched)
	fresp.Body.Close()

	submitBody, _ := json.Marshal(submitResultRequest{TaskID: fetched.TaskID, Response: json.RawMessage(`{"ok":true}`)})

	first, err := http.Post(fmt.Sprintf("%s/%s/submit_result", srv.URL, workerCred), "application/json", bytes.NewReader(submitBody))
	if err != nil {
		t.Fatalf("first submit_result: %v", err)
	}
	var firstBody bytes.Buffer
	firstBody.ReadFrom(first.Body)
	first.Body.Close()

	second, err := http.Post(fmt.Sprintf("%s/%s/submit_result", srv.URL, workerCred), "application/json", bytes.NewReader(submitBody))
	if err != nil {
		t.Fatalf("second submit_result: %v", err)
	}
	var secondBody bytes.Buffer
	secondBody.ReadFrom(second.Body)
	second.Body.Close()

	if first.StatusCode != second.StatusCode || firstBody.String() != secondBody.String() {
		t.Fatalf("replay mismatch: first=%d %q second=%d %q", first.StatusCode, firstBody.String(), second.StatusCode, secondBody.String())
	}
	<-resultCh
}
