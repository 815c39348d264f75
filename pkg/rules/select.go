package rules

// Select выбирает ровно один вариант ответа по контракту:
// верхнеуровневый match определяет ветку, приоритет выбирает лучший
// из подходящих вариантов, ничьи решает порядок объявления.
func Select(rule *Rule, request any, metadata map[string]any) *ResponseOption {
	if rule == nil || len(rule.Responses) == 0 {
		return DefaultOption()
	}

	m := NewMatcher(request, metadata)

	// Провал верхнеуровневого match уводит в ветку безусловных вариантов
	if !m.MatchTopLevel(rule.Match) {
		if opt := bestUnconditional(rule.Responses); opt != nil {
			return opt
		}
		return DefaultOption()
	}

	// Лучший из вариантов с истинным when; отсутствие when считается совпадением
	var best *ResponseOption
	for i := range rule.Responses {
		opt := &rule.Responses[i]
		if !m.MatchWhen(opt.When) {
			continue
		}
		if best == nil || opt.Priority > best.Priority {
			best = opt
		}
	}
	if best != nil {
		return best
	}

	if opt := bestUnconditional(rule.Responses); opt != nil {
		return opt
	}
	return DefaultOption()
}

// bestUnconditional возвращает вариант без when с наибольшим приоритетом
func bestUnconditional(options []ResponseOption) *ResponseOption {
	var best *ResponseOption
	for i := range options {
		opt := &options[i]
		if len(opt.When) > 0 {
			continue
		}
		if best == nil || opt.Priority > best.Priority {
			best = opt
		}
	}
	return best
}
