package events

import (
	"sync"
	"testing"
)

type kind int

const (
	kindA kind = iota
	kindB
)

func TestEmitOrder(t *testing.T) {
	var b Bus[kind, int]
	var got []string
	b.On(kindA, func(v int) { got = append(got, "first") })
	b.On(kindA, func(v int) { got = append(got, "second") })
	b.On(kindB, func(v int) { got = append(got, "other") })
	b.Emit(kindA, 1)
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("got = %v, want [first second]", got)
	}
}

func TestUnsubscribeDuringEmit(t *testing.T) {
	b := New[kind, int]()
	calls := 0
	var unsubSecond func()
	b.On(kindA, func(int) { unsubSecond() })
	unsubSecond = b.On(kindA, func(int) { calls++ })
	b.Emit(kindA, 0)
	if calls != 0 {
		t.Fatalf("removed handler called %d times, want 0", calls)
	}
	b.Emit(kindA, 0)
	if calls != 0 {
		t.Fatalf("removed handler called %d times after second emit, want 0", calls)
	}
	if n := b.Len(kindA); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
}

func TestOnceFiresOnceOnReentrantEmit(t *testing.T) {
	var b Bus[kind, int]
	calls := 0
	b.Once(kindA, func(v int) {
		calls++
		b.Emit(kindA, v+1)
	})
	b.Emit(kindA, 0)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if n := b.Len(kindA); n != 0 {
		t.Fatalf("Len = %d, want 0", n)
	}
}

func TestOnceConcurrentEmit(t *testing.T) {
	var b Bus[kind, int]
	var mu sync.Mutex
	calls := 0
	b.On(kindA, func(int) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, Once())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Emit(kindA, 0)
		}()
	}
	wg.Wait()
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestUnAll(t *testing.T) {
	var b Bus[kind, int]
	calls := 0
	unsub := b.On(kindA, func(int) { calls++ })
	b.UnAll()
	b.Emit(kindA, 0)
	unsub()
	if calls != 0 {
		t.Fatalf("calls = %d, want 0", calls)
	}
}
