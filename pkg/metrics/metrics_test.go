package metrics

import (
	"sync"
	"testing"
)

func TestCounters_Invariants(t *testing.T) {
	c := NewCounters()

	c.RecordValidationCheck()
	c.RecordValidationCheck("min_len")
	c.RecordValidationCheck("min_len", "required")
	c.RecordRuleMatch("pkg.svc.method")
	c.RecordRuleMatch("pkg.svc.method")
	c.RecordRuleMiss()

	snap := c.Snapshot()

	if snap.Validation.ChecksTotal < snap.Validation.FailuresTotal {
		t.Errorf("checks_total (%d) must be >= failures_total (%d)",
			snap.Validation.ChecksTotal, snap.Validation.FailuresTotal)
	}
	if snap.Validation.ChecksTotal != 3 {
		t.Errorf("expected 3 checks, got %d", snap.Validation.ChecksTotal)
	}
	if snap.Validation.FailuresTotal != 2 {
		t.Errorf("expected 2 failures, got %d", snap.Validation.FailuresTotal)
	}
	if snap.Validation.FailuresByType["min_len"] != 2 {
		t.Errorf("expected 2 min_len failures, got %d", snap.Validation.FailuresByType["min_len"])
	}

	if snap.RuleMatching.AttemptsTotal != snap.RuleMatching.MatchesTotal+snap.RuleMatching.MissesTotal {
		t.Errorf("attempts (%d) must equal matches (%d) + misses (%d)",
			snap.RuleMatching.AttemptsTotal, snap.RuleMatching.MatchesTotal, snap.RuleMatching.MissesTotal)
	}
	if snap.RuleMatching.MatchesByRule["pkg.svc.method"] != 2 {
		t.Errorf("expected 2 matches by rule, got %d", snap.RuleMatching.MatchesByRule["pkg.svc.method"])
	}
}

func TestCounters_ParallelUpdates(t *testing.T) {
	c := NewCounters()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordValidationCheck("pattern")
				c.RecordRuleMatch("a.b.c")
				c.RecordRuleMiss()
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.Validation.ChecksTotal != 1000 {
		t.Errorf("expected 1000 checks, got %d", snap.Validation.ChecksTotal)
	}
	if snap.Validation.FailuresByType["pattern"] != 1000 {
		t.Errorf("expected 1000 pattern failures, got %d", snap.Validation.FailuresByType["pattern"])
	}
	if snap.RuleMatching.AttemptsTotal != 2000 {
		t.Errorf("expected 2000 attempts, got %d", snap.RuleMatching.AttemptsTotal)
	}
	if snap.RuleMatching.AttemptsTotal != snap.RuleMatching.MatchesTotal+snap.RuleMatching.MissesTotal {
		t.Error("attempts must equal matches + misses")
	}
}

func TestCounters_SnapshotIsolated(t *testing.T) {
	c := NewCounters()
	c.RecordValidationCheck("min_len")

	snap := c.Snapshot()
	snap.Validation.FailuresByType["min_len"] = 99

	if got := c.Snapshot().Validation.FailuresByType["min_len"]; got != 1 {
		t.Errorf("snapshot mutation leaked into counters: %d", got)
	}
}

func TestCounters_Reset(t *testing.T) {
	c := NewCounters()
	c.RecordValidationCheck("x")
	c.RecordRuleMiss()
	c.Reset()

	snap := c.Snapshot()
	if snap.Validation.ChecksTotal != 0 || snap.RuleMatching.AttemptsTotal != 0 {
		t.Error("expected zeroed counters after reset")
	}
}
