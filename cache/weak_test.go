package cache

import (
	"strconv"
	"sync"
	"testing"
)

type object struct{ id int }

func TestGetMiss(t *testing.T) {
	c := NewWeak[string, object]()
	if _, ok := c.Get("absent"); ok {
		t.Error("expected miss on empty cache")
	}
	if c.Misses() != 1 {
		t.Errorf("misses = %d, want 1", c.Misses())
	}
}

func TestInsertThenGet(t *testing.T) {
	c := NewWeak[string, object]()
	obj := &object{id: 1}

	if got := c.Insert("a", obj); got != obj {
		t.Error("first insert should return the inserted value")
	}
	got, ok := c.Get("a")
	if !ok || got != obj {
		t.Errorf("Get = %v, %v; want the inserted object", got, ok)
	}
	if c.Hits() != 1 {
		t.Errorf("hits = %d, want 1", c.Hits())
	}
}

func TestInsertIfEmpty(t *testing.T) {
	c := NewWeak[string, object]()
	first := &object{id: 1}
	second := &object{id: 2}

	c.Insert("a", first)
	if got := c.Insert("a", second); got != first {
		t.Error("insert over a live entry must return the existing instance")
	}
	got, _ := c.Get("a")
	if got != first {
		t.Error("live entry must not be replaced")
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := NewWeak[string, object]()
	c.Insert("a", &object{id: 1})
	c.Insert("b", &object{id: 2})

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted entry still live")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d", c.Len())
	}
}

func TestConcurrentInsertConverges(t *testing.T) {
	c := NewWeak[string, object]()

	const goroutines = 16
	results := make([]*object, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Insert("key", &object{id: i})
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent inserts must converge on one instance")
		}
	}
}

func TestManyKeys(t *testing.T) {
	c := NewWeak[string, object]()
	objs := make([]*object, 100) // strong refs keep entries live
	for i := range objs {
		objs[i] = &object{id: i}
		c.Insert(strconv.Itoa(i), objs[i])
	}
	for i := range objs {
		got, ok := c.Get(strconv.Itoa(i))
		if !ok || got.id != i {
			t.Fatalf("key %d: got %v, %v", i, got, ok)
		}
	}
}
