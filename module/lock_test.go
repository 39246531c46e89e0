package module

import (
	"sync"
	"testing"
)

type testEvent struct {
	name string
}

func (e testEvent) EventName() string { return e.name }

func TestLockDeliversAfterUnlock(t *testing.T) {
	d := NewDispatcher()
	lock := NewLock(d)

	var got []string
	d.Subscribe(func(ev Event) {
		got = append(got, ev.EventName())
	})

	lock.Lock()
	lock.Emit(testEvent{"first"})
	lock.Emit(testEvent{"second"})
	if len(got) != 0 {
		t.Fatalf("events delivered while lock held: %v", got)
	}
	lock.Unlock()

	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("got %v, want [first second]", got)
	}
}

func TestHandlerMayReenterLock(t *testing.T) {
	d := NewDispatcher()
	lock := NewLock(d)

	var got []string
	d.Subscribe(func(ev Event) {
		got = append(got, ev.EventName())
		if ev.EventName() == "outer" {
			lock.Lock()
			lock.Emit(testEvent{"inner"})
			lock.Unlock()
			got = append(got, "handler_done")
		}
	})

	lock.Lock()
	lock.Emit(testEvent{"outer"})
	lock.Unlock()

	want := []string{"outer", "handler_done", "inner"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	count := 0
	cancel := d.Subscribe(func(Event) { count++ })

	d.Publish(testEvent{"a"})
	cancel()
	d.Publish(testEvent{"b"})

	if count != 1 {
		t.Errorf("handler called %d times, want 1", count)
	}
}

func TestNilDispatcherDropsEvents(t *testing.T) {
	lock := NewLock(nil)
	lock.Lock()
	lock.Emit(testEvent{"dropped"})
	lock.Unlock()
}

func TestConcurrentLockUse(t *testing.T) {
	d := NewDispatcher()
	lock := NewLock(d)

	var mu sync.Mutex
	delivered := 0
	d.Subscribe(func(Event) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				lock.Lock()
				counter++
				lock.Emit(testEvent{"tick"})
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	if counter != 800 {
		t.Errorf("counter = %d, want 800", counter)
	}
	mu.Lock()
	defer mu.Unlock()
	if delivered != 800 {
		t.Errorf("delivered = %d, want 800", delivered)
	}
}

func TestBaseEmitUsesSharedLock(t *testing.T) {
	d := NewDispatcher()
	lock := NewLock(d)
	base := NewBase("test", nil, lock)

	if base.Name() != "test" {
		t.Errorf("Name() = %q, want test", base.Name())
	}

	var got []string
	d.Subscribe(func(ev Event) { got = append(got, ev.EventName()) })

	lock.Lock()
	base.Emit(testEvent{"from_base"})
	lock.Unlock()

	if len(got) != 1 || got[0] != "from_base" {
		t.Errorf("got %v, want [from_base]", got)
	}
}
