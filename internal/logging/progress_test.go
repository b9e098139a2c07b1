package logging_test

import (
	"sync"
	"testing"

	"bemflow/internal/logging"
)

func TestBatchProgressReportsEachStep(t *testing.T) {
	progress := logging.NewBatchProgress(20, 25)
	var reported []int
	for range 20 {
		done, _, report := progress.Complete()
		if report {
			reported = append(reported, done)
		}
	}
	want := []int{5, 10, 15, 20}
	if len(reported) != len(want) {
		t.Fatalf("reported at %v, want %v", reported, want)
	}
	for i := range want {
		if reported[i] != want[i] {
			t.Fatalf("reported at %v, want %v", reported, want)
		}
	}
	if _, percent, report := progress.Complete(); report || percent != 100 {
		t.Fatalf("completions past the total should not report, got %v %v", percent, report)
	}
}

func TestBatchProgressSingleUnit(t *testing.T) {
	done, percent, report := logging.NewBatchProgress(1, 10).Complete()
	if done != 1 || percent != 100 || !report {
		t.Fatalf("got %d %v %v", done, percent, report)
	}
}

func TestBatchProgressConcurrentWorkers(t *testing.T) {
	progress := logging.NewBatchProgress(100, 10)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reports int
	)
	for range 100 {
		wg.Go(func() {
			if _, _, report := progress.Complete(); report {
				mu.Lock()
				reports++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	if reports != 10 {
		t.Fatalf("reports = %d, want 10", reports)
	}
}
