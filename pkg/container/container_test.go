package container

import (
	"os"
	"testing"
)

func TestMigrationAcrossSpillThreshold(t *testing.T) {
	c := New(9001)
	defer c.Close()

	const n = 2048
	for i := 0; i < n; i++ {
		if err := c.Push(Record{ID: uint64(i), X: float64(i)}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	if c.Len() != n {
		t.Fatalf("got len %d, want %d", c.Len(), n)
	}
	if c.At(1000).X != 1000.0 {
		t.Fatalf("record 1000: got X=%v, want 1000.0", c.At(1000).X)
	}
	if c.At(2047).X != 2047.0 {
		t.Fatalf("record 2047: got X=%v, want 2047.0", c.At(2047).X)
	}

	fileName := c.fileName
	if _, err := os.Stat(fileName); err != nil {
		t.Fatalf("expected backing file %s to exist while open: %v", fileName, err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(fileName); !os.IsNotExist(err) {
		t.Fatalf("expected backing file %s to be gone after close", fileName)
	}
}

func TestRemoveIfPreservesOrder(t *testing.T) {
	c := New(9002)
	defer c.Close()

	const n = 2048
	for i := 0; i < n; i++ {
		c.Push(Record{ID: uint64(i), X: float64(i)})
	}

	removed := c.RemoveIf(func(r Record) bool { return r.ID%2 == 0 })
	if removed != 1024 {
		t.Fatalf("removed %d, want 1024", removed)
	}
	if c.Len() != 1024 {
		t.Fatalf("len after removal %d, want 1024", c.Len())
	}

	var i int
	for r := range c.All() {
		want := uint64(2*i + 1)
		if r.ID != want {
			t.Fatalf("survivor %d: got ID %d, want %d", i, r.ID, want)
		}
		i++
	}
	if i != 1024 {
		t.Fatalf("iterated %d survivors, want 1024", i)
	}
}

func TestAtOutOfRangePanics(t *testing.T) {
	c := New(9003)
	defer c.Close()
	c.Push(Record{ID: 0})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on out-of-range At")
		}
	}()
	c.At(5)
}

func TestVerifyMigrationsDoesNotFailOnMatch(t *testing.T) {
	c := New(9004, WithVerifyMigrations(true))
	defer c.Close()

	for i := 0; i < 1200; i++ {
		if err := c.Push(Record{ID: uint64(i)}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if c.Len() != 1200 {
		t.Fatalf("got len %d, want 1200", c.Len())
	}
}

func TestSmallContainerStaysInMemory(t *testing.T) {
	c := New(9005)
	defer c.Close()

	for i := 0; i < 10; i++ {
		c.Push(Record{ID: uint64(i)})
	}
	if c.mapping != nil {
		t.Fatal("container with 10 records should not have migrated")
	}
	if _, err := os.Stat(c.fileName); !os.IsNotExist(err) {
		t.Fatal("backing file should not exist for an unmigrated container")
	}
}
