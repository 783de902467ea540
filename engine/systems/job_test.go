package systems

import (
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

// drain runs Update until every submitted job has been dispatched.
func drain(t *testing.T, js *JobSystem) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for js.Pending() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("jobs still pending after 5s: %d", js.Pending())
		}
		js.Update()
		time.Sleep(time.Millisecond)
	}
}

func TestJobSystemDispatchesOnUpdate(t *testing.T) {
	js, err := NewJobSystem(4, 8)
	if err != nil {
		t.Fatalf("NewJobSystem: %v", err)
	}
	defer js.Shutdown()

	const n = 32
	sum := 0
	failures := 0
	for i := 1; i <= n; i++ {
		i := i
		err := js.Submit(JobTask{
			Name: "square",
			Run: func() (interface{}, error) {
				if i%8 == 0 {
					return nil, errors.New("multiple of eight")
				}
				return i * i, nil
			},
			// Callbacks run on this goroutine; no locking needed.
			OnComplete: func(result interface{}) { sum += result.(int) },
			OnFailure:  func(error) { failures++ },
		})
		if err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
	}
	drain(t, js)

	want := 0
	for i := 1; i <= n; i++ {
		if i%8 != 0 {
			want += i * i
		}
	}
	if sum != want {
		t.Errorf("sum of results\nhave %d\nwant %d", sum, want)
	}
	if failures != n/8 {
		t.Errorf("failures\nhave %d\nwant %d", failures, n/8)
	}
}

func TestJobSystemNonBlocking(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	if err != nil {
		t.Fatalf("NewJobSystem: %v", err)
	}
	defer js.Shutdown()

	done := 0
	for i := 0; i < 10; i++ {
		if err := js.AddWorkNonBlocking(JobTask{
			Run:        func() (interface{}, error) { return nil, nil },
			OnComplete: func(interface{}) { done++ },
		}); err != nil {
			t.Fatalf("AddWorkNonBlocking: %v", err)
		}
	}
	drain(t, js)
	if done != 10 {
		t.Errorf("completed\nhave %d\nwant 10", done)
	}
}

func TestJobSystemRejects(t *testing.T) {
	if _, err := NewJobSystem(0, 1); !errors.Is(err, ErrNoWorkers) {
		t.Errorf("zero workers\nhave %v\nwant %v", err, ErrNoWorkers)
	}
	if _, err := NewJobSystem(1, -1); !errors.Is(err, ErrNegativeChannelSize) {
		t.Errorf("negative channel\nhave %v\nwant %v", err, ErrNegativeChannelSize)
	}

	js, err := NewJobSystem(1, 1)
	if err != nil {
		t.Fatalf("NewJobSystem: %v", err)
	}
	if err := js.Submit(JobTask{Name: "empty"}); err == nil {
		t.Errorf("Submit without Run\nhave nil error\nwant error")
	}
	if err := js.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := js.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	err = js.Submit(JobTask{Run: func() (interface{}, error) { return nil, nil }})
	if !errors.Is(err, ErrJobSystemClosed) {
		t.Errorf("Submit after Shutdown\nhave %v\nwant %v", err, ErrJobSystemClosed)
	}
}

func TestJobSystemShutdownDropsUndispatched(t *testing.T) {
	js, err := NewJobSystem(2, 4)
	if err != nil {
		t.Fatalf("NewJobSystem: %v", err)
	}
	called := false
	for i := 0; i < 4; i++ {
		if err := js.Submit(JobTask{
			Run:        func() (interface{}, error) { return nil, nil },
			OnComplete: func(interface{}) { called = true },
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if err := js.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if called {
		t.Errorf("callback ran without Update")
	}
}
