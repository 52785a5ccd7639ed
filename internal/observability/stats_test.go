package observability

import (
	"fmt"
	"testing"
	"time"
)

func TestExecutionLog_Stats(t *testing.T) {
	log := NewExecutionLog(10)

	log.Record("read_file", 100*time.Millisecond, true, "")
	log.Record("read_file", 300*time.Millisecond, true, "")
	log.Record("git_push", 200*time.Millisecond, false, "CommandNotAllowed")

	stats := log.Stats()
	if stats.TotalCalls != 3 {
		t.Errorf("TotalCalls = %d", stats.TotalCalls)
	}
	if want := 2.0 / 3.0; stats.SuccessRate != want {
		t.Errorf("SuccessRate = %v, want %v", stats.SuccessRate, want)
	}
	if stats.AvgExecutionTime < 0.199 || stats.AvgExecutionTime > 0.201 {
		t.Errorf("AvgExecutionTime = %v, want 0.2", stats.AvgExecutionTime)
	}
	rf := stats.ToolStats["read_file"]
	if rf.Calls != 2 || rf.Successes != 2 {
		t.Errorf("read_file stats = %+v", rf)
	}
	if rf.AvgTime < 0.199 || rf.AvgTime > 0.201 {
		t.Errorf("read_file avg = %v", rf.AvgTime)
	}
	if len(stats.RecentErrors) != 1 || stats.RecentErrors[0] != "CommandNotAllowed" {
		t.Errorf("RecentErrors = %v", stats.RecentErrors)
	}
	if tools := stats.Tools(); len(tools) != 2 || tools[0] != "git_push" {
		t.Errorf("Tools() = %v", tools)
	}
}

func TestExecutionLog_Bounded(t *testing.T) {
	log := NewExecutionLog(3)
	for i := 0; i < 5; i++ {
		log.Record(fmt.Sprintf("tool%d", i), time.Millisecond, true, "")
	}

	recent := log.ordered()
	if len(recent) != 3 {
		t.Fatalf("held = %d, want 3", len(recent))
	}
	for i, want := range []string{"tool2", "tool3", "tool4"} {
		if recent[i].Tool != want {
			t.Errorf("held[%d] = %s, want %s", i, recent[i].Tool, want)
		}
	}
}

func TestExecutionLog_RecentErrorsWindow(t *testing.T) {
	log := NewExecutionLog(50)
	log.Record("old", time.Millisecond, false, "OldError")
	for i := 0; i < 10; i++ {
		log.Record("ok", time.Millisecond, true, "")
	}

	if errs := log.Stats().RecentErrors; len(errs) != 0 {
		t.Errorf("RecentErrors = %v, want errors only from the last 10 calls", errs)
	}
}

func TestExecutionLog_Empty(t *testing.T) {
	log := NewExecutionLog(0)
	if stats := log.Stats(); stats.TotalCalls != 0 || stats.ToolStats != nil {
		t.Errorf("empty stats = %+v", stats)
	}
	if got := len(log.entries); got != DefaultExecutionLogSize {
		t.Errorf("size = %d, want %d", got, DefaultExecutionLogSize)
	}
}
