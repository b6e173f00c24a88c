package schema

import (
	"reflect"
	"sync"
	"testing"
)

type cachedEntity struct {
	ID   int `db:",pk"`
	Name string
}

func TestCacheBuildsOnceUnderConcurrency(t *testing.T) {
	t.Parallel()

	c := NewCache()
	const workers = 32

	var wg sync.WaitGroup
	got := make([]*TableSchema, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := c.Get(reflect.TypeOf(&cachedEntity{}))
			if err != nil {
				t.Errorf("Get() error = %v, want nil", err)
				return
			}
			got[i] = s
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if got[i] != got[0] {
			t.Fatalf("worker %d saw a different schema instance", i)
		}
	}
	if b := c.Builds(); b != 1 {
		t.Fatalf("Builds() = %d, want 1", b)
	}
}

func TestCacheClear(t *testing.T) {
	t.Parallel()

	c := NewCache()
	RegisterTable[cachedEntity](c, Table{Name: "Entities"})

	first, err := For[cachedEntity](c)
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	again, _ := For[cachedEntity](c)
	if first != again {
		t.Fatalf("second For() rebuilt the schema")
	}

	c.Clear()
	rebuilt, err := For[cachedEntity](c)
	if err != nil {
		t.Fatalf("For() after Clear error = %v", err)
	}
	if rebuilt == first {
		t.Fatalf("Clear() kept the old schema")
	}
	if rebuilt.TableName != "Entities" {
		t.Fatalf("TableName after Clear = %q, want registration kept", rebuilt.TableName)
	}
	if b := c.Builds(); b != 2 {
		t.Fatalf("Builds() = %d, want 2", b)
	}
}
