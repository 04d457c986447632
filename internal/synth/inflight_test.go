package synth

import (
	"sync"
	"testing"
	"time"

	"github.com/crypto-fm/segment-service/internal/core"
	"github.com/crypto-fm/segment-service/internal/retry"
	"github.com/stretchr/testify/assert"
)

func newBareSynthesizer() *Synthesizer {
	return New(
		nil,
		nil,
		nil,
		core.NopNotifier{},
		retry.New(1, time.Millisecond, time.Millisecond),
		100,
		1,
		nil,
	)
}

func TestInflightLockIsPrunedAfterRelease(t *testing.T) {
	t.Parallel()

	synthesizer := newBareSynthesizer()

	idLock := synthesizer.acquire("001")
	synthesizer.release("001", idLock)

	assert.Empty(t, synthesizer.inflight,
		"released ids must not accumulate in the lock map")
}

func TestInflightLockSurvivesWhileContended(t *testing.T) {
	t.Parallel()

	synthesizer := newBareSynthesizer()

	var waitGroup sync.WaitGroup

	for range 8 {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			idLock := synthesizer.acquire("001")
			synthesizer.release("001", idLock)
		}()
	}

	waitGroup.Wait()

	assert.Empty(t, synthesizer.inflight)
}
