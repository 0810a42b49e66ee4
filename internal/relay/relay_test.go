package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRelay_DeliversInPublishOrderPerJob(t *testing.T) {
	r := New()

	for i := 0; i < 50; i++ {
		r.Publish(Message{JobID: "j1", Kind: KindProgress, Percent: float64(i)})
	}
	r.Publish(Message{JobID: "j1", Kind: KindCompleted, Percent: 100})
	r.Close()

	var got []Message
	for msg := range r.Out() {
		got = append(got, msg)
	}

	if len(got) != 51 {
		t.Fatalf("expected 51 messages, got %d", len(got))
	}
	for i := 0; i < 50; i++ {
		if got[i].Percent != float64(i) {
			t.Fatalf("message %d out of order: percent %v", i, got[i].Percent)
		}
	}
	if got[50].Kind != KindCompleted {
		t.Errorf("terminal message should arrive last, got %v", got[50].Kind)
	}
}

func TestRelay_PublishNeverBlocks(t *testing.T) {
	r := New()
	// No consumer draining Out; a large burst must still return promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			r.Publish(Message{JobID: "j1", Kind: KindProgress, Percent: float64(i % 100)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked with no consumer draining")
	}
	r.Close()
}

func TestRelay_ConcurrentProducers(t *testing.T) {
	r := New()

	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", p)
			for i := 0; i < perProducer; i++ {
				r.Publish(Message{JobID: id, Kind: KindProgress, Percent: float64(i)})
			}
		}(p)
	}

	go func() {
		wg.Wait()
		r.Close()
	}()

	last := make(map[string]float64)
	count := 0
	for msg := range r.Out() {
		count++
		if prev, ok := last[msg.JobID]; ok && msg.Percent <= prev {
			t.Fatalf("per-job ordering violated for %s: %v after %v", msg.JobID, msg.Percent, prev)
		}
		last[msg.JobID] = msg.Percent
	}

	if count != producers*perProducer {
		t.Errorf("expected %d messages, got %d", producers*perProducer, count)
	}
}

func TestRelay_PublishAfterCloseDropped(t *testing.T) {
	r := New()
	r.Close()
	r.Publish(Message{JobID: "late", Kind: KindProgress})

	count := 0
	for range r.Out() {
		count++
	}
	if count != 0 {
		t.Errorf("expected no messages after close, got %d", count)
	}
}
