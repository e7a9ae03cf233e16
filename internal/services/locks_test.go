package services

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locks := newKeyedMutex()
	key := uuid.New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(key)
			defer unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("Expected 50 serialized increments, got %d", counter)
	}
	if len(locks.locks) != 0 {
		t.Errorf("Expected lock table to be empty after release, got %d entries", len(locks.locks))
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	locks := newKeyedMutex()

	unlockA := locks.Lock(uuid.New())
	done := make(chan struct{})
	go func() {
		unlock := locks.Lock(uuid.New())
		unlock()
		close(done)
	}()
	<-done
	unlockA()
}
