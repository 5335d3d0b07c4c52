package batch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestProgress(t *testing.T) {
	p := NewProgress("enrich", 3)

	if p.Total != 3 {
		t.Errorf("unexpected total: %d", p.Total)
	}
	if p.Status != StatusPending {
		t.Errorf("unexpected status: %s", p.Status)
	}

	p.Start()
	if p.Status != StatusRunning {
		t.Errorf("expected running status, got: %s", p.Status)
	}

	p.SetCurrentRow("O1")
	if p.CurrentRow != "O1" {
		t.Errorf("unexpected current row: %s", p.CurrentRow)
	}

	p.RecordOK()
	p.RecordWarning()
	p.RecordFailed()
	if p.OKCount != 1 || p.WarningCount != 1 || p.FailedCount != 1 || p.Done != 3 {
		t.Errorf("unexpected counts: ok=%d warning=%d failed=%d done=%d",
			p.OKCount, p.WarningCount, p.FailedCount, p.Done)
	}

	p.Complete(true)
	if p.Status != StatusCompleted {
		t.Errorf("expected completed status, got: %s", p.Status)
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		done, total, want int
	}{
		{0, 0, 100},
		{0, 5, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{1, 8, 13},
	}

	for _, tt := range tests {
		if got := percent(tt.done, tt.total); got != tt.want {
			t.Errorf("percent(%d, %d) = %d, want %d", tt.done, tt.total, got, tt.want)
		}
	}
}

func TestProgressCoalescedCallbacks(t *testing.T) {
	p := NewProgress("enrich", 7)

	var reports []int
	p.SetOnUpdate(func(s ProgressSnapshot) {
		reports = append(reports, s.Percent)
	})
	p.Start()

	for i := 0; i < 7; i++ {
		p.RecordOK()
	}

	want := []int{43, 86, 100}
	if len(reports) != len(want) {
		t.Fatalf("expected %d reports, got %v", len(want), reports)
	}
	for i := range want {
		if reports[i] != want[i] {
			t.Errorf("report %d = %d, want %d", i, reports[i], want[i])
		}
	}
}

func TestProgressCallbacksMonotonic(t *testing.T) {
	p := NewProgress("emit", 10)
	p.SetReportEvery(1)

	var reports []int
	p.SetOnUpdate(func(s ProgressSnapshot) {
		reports = append(reports, s.Percent)
	})

	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			p.RecordFailed()
		} else {
			p.RecordOK()
		}
	}
	p.Complete(true)

	for i := 1; i < len(reports); i++ {
		if reports[i] < reports[i-1] {
			t.Fatalf("progress went backwards: %v", reports)
		}
	}
	if last := reports[len(reports)-1]; last != 100 {
		t.Errorf("final report = %d, want 100", last)
	}
}

func TestProgressEmptyStageReportsOnce(t *testing.T) {
	p := NewProgress("emit", 0)

	var reports []ProgressSnapshot
	p.SetOnUpdate(func(s ProgressSnapshot) {
		reports = append(reports, s)
	})
	p.Start()
	p.Complete(true)

	if len(reports) != 1 {
		t.Fatalf("expected a single report, got %d", len(reports))
	}
	if reports[0].Percent != 100 || reports[0].Status != StatusCompleted {
		t.Errorf("unexpected report: %+v", reports[0])
	}
}

func TestProgressSnapshot(t *testing.T) {
	p := NewProgress("enrich", 100)
	p.Start()

	for i := 0; i < 50; i++ {
		p.RecordOK()
	}
	for i := 0; i < 10; i++ {
		p.RecordWarning()
	}
	for i := 0; i < 5; i++ {
		p.RecordFailed()
	}

	snapshot := p.Snapshot()

	if snapshot.Done != 65 {
		t.Errorf("unexpected done: %d", snapshot.Done)
	}
	if snapshot.Percent != 65 {
		t.Errorf("unexpected percent: %d", snapshot.Percent)
	}
	if snapshot.EstimatedRemainingSeconds == nil {
		t.Error("expected remaining estimate while rows are outstanding")
	}
	if snapshot.Stage != "enrich" {
		t.Errorf("unexpected stage: %s", snapshot.Stage)
	}
}

func TestTaskWait(t *testing.T) {
	p := NewProgress("enrich", 1)
	wantErr := errors.New("boom")

	task := Go(context.Background(), p, func(ctx context.Context, progress *Progress) error {
		progress.RecordOK()
		return wantErr
	})

	if err := task.Wait(); !errors.Is(err, wantErr) {
		t.Errorf("unexpected error: %v", err)
	}
	if !task.IsDone() {
		t.Error("expected task to be done")
	}
	if task.Progress().Percent() != 100 {
		t.Errorf("unexpected percent: %d", task.Progress().Percent())
	}
}

func TestTaskCancel(t *testing.T) {
	started := make(chan struct{})
	task := Go(context.Background(), NewProgress("enrich", 1), func(ctx context.Context, _ *Progress) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	if task.IsDone() {
		t.Fatal("task finished before cancel")
	}
	task.Cancel()

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop after cancel")
	}
	if !errors.Is(task.Err(), context.Canceled) {
		t.Errorf("unexpected error: %v", task.Err())
	}
}

func TestTimerSleeper(t *testing.T) {
	start := time.Now()
	if err := (TimerSleeper{}).Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("sleeper returned early")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (TimerSleeper{}).Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation, got %v", err)
	}
}
