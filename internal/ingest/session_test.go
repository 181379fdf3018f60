package ingest

import (
	"context"
	"testing"
	"time"
)

func newTestManager() *Manager {
	return NewManager(nil, Settings{WordThreshold: 100, WindowSeconds: 60}, nil, &WorkerPool{jobs: make(chan AIJob, 1)})
}

func TestManager_RegisterThenGet(t *testing.T) {
	m := newTestManager()
	sc := m.NewSession(context.Background(), NewUserId(), NewProjectId())
	defer m.Teardown(sc.SessionId)

	key := ResourceKey[string]{Name: "test_key"}
	RegisterTyped(sc, key, "hello")

	got, ok := GetTyped(sc, key)
	if !ok {
		t.Fatal("GetTyped returned ok=false for a registered key")
	}
	if got != "hello" {
		t.Errorf("GetTyped = %q, want %q", got, "hello")
	}
}

func TestManager_Get_MissingKeyReturnsFalse(t *testing.T) {
	m := newTestManager()
	sc := m.NewSession(context.Background(), NewUserId(), NewProjectId())
	defer m.Teardown(sc.SessionId)

	key := ResourceKey[string]{Name: "never_registered"}
	if _, ok := GetTyped(sc, key); ok {
		t.Fatal("GetTyped returned ok=true for a key nothing registered")
	}
}

func TestManager_Register_PanicsOnDuplicateKey(t *testing.T) {
	m := newTestManager()
	sc := m.NewSession(context.Background(), NewUserId(), NewProjectId())
	defer m.Teardown(sc.SessionId)

	key := ResourceKey[int]{Name: "dup_key"}
	RegisterTyped(sc, key, 1)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("RegisterTyped did not panic on duplicate key registration")
		}
	}()
	RegisterTyped(sc, key, 2)
}

func TestManager_Register_PanicsOnInactiveSession(t *testing.T) {
	m := newTestManager()
	sc := m.NewSession(context.Background(), NewUserId(), NewProjectId())
	m.Teardown(sc.SessionId)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("RegisterTyped did not panic against a torn-down session")
		}
	}()
	RegisterTyped(sc, ResourceKey[int]{Name: "after_teardown"}, 1)
}

func TestManager_GetOrWaitTyped_WakesOnRegister(t *testing.T) {
	m := newTestManager()
	sc := m.NewSession(context.Background(), NewUserId(), NewProjectId())
	defer m.Teardown(sc.SessionId)

	key := ResourceKey[int]{Name: "wait_key"}
	resultCh := make(chan int, 1)
	errCh := make(chan error, 1)
	go func() {
		v, err := GetOrWaitTyped(sc, key)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- v
	}()

	time.Sleep(20 * time.Millisecond) // give the waiter time to block
	RegisterTyped(sc, key, 42)

	select {
	case v := <-resultCh:
		if v != 42 {
			t.Errorf("GetOrWaitTyped woke with %d, want 42", v)
		}
	case err := <-errCh:
		t.Fatalf("GetOrWaitTyped returned error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("GetOrWaitTyped did not wake after RegisterTyped")
	}
}

func TestManager_GetOrWaitTyped_ReturnsErrorOnTeardown(t *testing.T) {
	m := newTestManager()
	sc := m.NewSession(context.Background(), NewUserId(), NewProjectId())

	key := ResourceKey[int]{Name: "never_bound"}
	errCh := make(chan error, 1)
	go func() {
		_, err := GetOrWaitTyped(sc, key)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	m.Teardown(sc.SessionId)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("GetOrWaitTyped returned nil error after teardown")
		}
	case <-time.After(time.Second):
		t.Fatal("GetOrWaitTyped did not return after session teardown")
	}
}

func TestManager_Teardown_ClearsScratchMapAndActiveSet(t *testing.T) {
	m := newTestManager()
	sc := m.NewSession(context.Background(), NewUserId(), NewProjectId())

	RegisterTyped(sc, ResourceKey[int]{Name: "torn_down_key"}, 7)
	if !sc.IsActive() {
		t.Fatal("session reported inactive before Teardown")
	}

	m.Teardown(sc.SessionId)

	if sc.IsActive() {
		t.Fatal("session still reports active after Teardown")
	}
	m.mu.Lock()
	n := len(m.store)
	m.mu.Unlock()
	if n != 0 {
		t.Errorf("scratch map holds %d entries after Teardown, want 0", n)
	}
}

func TestManager_Teardown_WaitsForActiveAudioToFinalize(t *testing.T) {
	m := newTestManager()
	sc := m.NewSession(context.Background(), NewUserId(), NewProjectId())

	m.setActiveAudioSession(sc.SessionId)

	teardownDone := make(chan struct{})
	go func() {
		m.Teardown(sc.SessionId)
		close(teardownDone)
	}()

	select {
	case <-teardownDone:
		t.Fatal("Teardown returned before FinalizeAudio cleared the active-audio flag")
	case <-time.After(50 * time.Millisecond):
	}

	m.FinalizeAudio(sc)

	select {
	case <-teardownDone:
	case <-time.After(time.Second):
		t.Fatal("Teardown did not unblock after FinalizeAudio")
	}
}

func TestManager_Teardown_IsSafeWithoutAnyRegistrations(t *testing.T) {
	m := newTestManager()
	sc := m.NewSession(context.Background(), NewUserId(), NewProjectId())
	m.Teardown(sc.SessionId) // must not panic even with an empty scratch map
}
