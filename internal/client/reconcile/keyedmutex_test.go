package reconcile

import (
	"sync"
	"testing"

	dm "github.com/dmitrijs2005/couplesync/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex(t *testing.T) {
	k := keyedMutex{locks: make(map[dm.Key]*refLock)}
	a := dm.Key{Type: dm.EntityJournalEntry, ID: "a"}
	b := dm.Key{Type: dm.EntityJournalEntry, ID: "b"}

	unlockA := k.Lock(a)
	// A different key is not blocked.
	k.Lock(b)()

	var wg sync.WaitGroup
	counter := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(a)
			counter++
			unlock()
		}()
	}
	unlockA()
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Empty(t, k.locks)
}
