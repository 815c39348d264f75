package metrics

import (
	"sync"
	"sync/atomic"
)

// Counters хранит счётчики валидации и подбора правил.
// Целые поля инкрементируются атомарно, карты под мьютексом;
// Snapshot отдаёт согласованный срез целиком.
type Counters struct {
	checksTotal   atomic.Int64
	failuresTotal atomic.Int64

	attemptsTotal atomic.Int64
	matchesTotal  atomic.Int64
	missesTotal   atomic.Int64

	mu             sync.Mutex
	failuresByType map[string]int64
	matchesByRule  map[string]int64
}

// ValidationSnapshot срез счётчиков валидации
type ValidationSnapshot struct {
	ChecksTotal    int64            `json:"checks_total"`
	FailuresTotal  int64            `json:"failures_total"`
	FailuresByType map[string]int64 `json:"failures_by_type"`
}

// RuleMatchingSnapshot срез счётчиков подбора правил
type RuleMatchingSnapshot struct {
	AttemptsTotal int64            `json:"attempts_total"`
	MatchesTotal  int64            `json:"matches_total"`
	MissesTotal   int64            `json:"misses_total"`
	MatchesByRule map[string]int64 `json:"matches_by_rule"`
}

// Snapshot полный срез счётчиков
type Snapshot struct {
	Validation   ValidationSnapshot   `json:"validation"`
	RuleMatching RuleMatchingSnapshot `json:"rule_matching"`
}

// NewCounters создаёт пустые счётчики
func NewCounters() *Counters {
	return &Counters{
		failuresByType: make(map[string]int64),
		matchesByRule:  make(map[string]int64),
	}
}

var defaultCounters = NewCounters()

// Default возвращает глобальные счётчики процесса
func Default() *Counters {
	return defaultCounters
}

// RecordValidationCheck учитывает одну проверку валидации.
// failureType пуст для успешной проверки.
func (c *Counters) RecordValidationCheck(failureTypes ...string) {
	c.checksTotal.Add(1)
	if len(failureTypes) == 0 {
		Get().ValidationChecksTotal.WithLabelValues("ok").Inc()
		return
	}
	c.failuresTotal.Add(1)
	Get().ValidationChecksTotal.WithLabelValues("failed").Inc()

	c.mu.Lock()
	for _, t := range failureTypes {
		if t == "" {
			t = "unknown"
		}
		c.failuresByType[t]++
	}
	c.mu.Unlock()

	for _, t := range failureTypes {
		if t == "" {
			t = "unknown"
		}
		Get().ValidationFailuresTotal.WithLabelValues(t).Inc()
	}
}

// RecordRuleMatch учитывает успешный подбор правила
func (c *Counters) RecordRuleMatch(ruleKey string) {
	c.attemptsTotal.Add(1)
	c.matchesTotal.Add(1)

	c.mu.Lock()
	c.matchesByRule[ruleKey]++
	c.mu.Unlock()

	Get().RuleMatchesTotal.WithLabelValues("match").Inc()
}

// RecordRuleMiss учитывает промах подбора правила
func (c *Counters) RecordRuleMiss() {
	c.attemptsTotal.Add(1)
	c.missesTotal.Add(1)

	Get().RuleMatchesTotal.WithLabelValues("miss").Inc()
}

// Snapshot возвращает согласованный срез всех счётчиков
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	byType := make(map[string]int64, len(c.failuresByType))
	for k, v := range c.failuresByType {
		byType[k] = v
	}
	byRule := make(map[string]int64, len(c.matchesByRule))
	for k, v := range c.matchesByRule {
		byRule[k] = v
	}
	// Целые читаем под тем же мьютексом, чтобы срез не рвался между полями
	snap := Snapshot{
		Validation: ValidationSnapshot{
			ChecksTotal:    c.checksTotal.Load(),
			FailuresTotal:  c.failuresTotal.Load(),
			FailuresByType: byType,
		},
		RuleMatching: RuleMatchingSnapshot{
			AttemptsTotal: c.attemptsTotal.Load(),
			MatchesTotal:  c.matchesTotal.Load(),
			MissesTotal:   c.missesTotal.Load(),
			MatchesByRule: byRule,
		},
	}
	c.mu.Unlock()
	return snap
}

// Reset обнуляет счётчики (для тестов)
func (c *Counters) Reset() {
	c.mu.Lock()
	c.checksTotal.Store(0)
	c.failuresTotal.Store(0)
	c.attemptsTotal.Store(0)
	c.matchesTotal.Store(0)
	c.missesTotal.Store(0)
	c.failuresByType = make(map[string]int64)
	c.matchesByRule = make(map[string]int64)
	c.mu.Unlock()
}
