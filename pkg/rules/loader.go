package rules

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"protomock/pkg/logger"
)

// SkippedRule файл правила, пропущенный при загрузке
type SkippedRule struct {
	File   string
	Reason string
}

// Report отчёт загрузчика правил
type Report struct {
	Loaded  []string
	Skipped []SkippedRule
}

// Load читает документы правил из каталога. Ключ правила - имя файла без
// расширения, приведённое к нижнему регистру. Некорректные файлы
// пропускаются и попадают в отчёт.
func Load(ruleDir string) (*Index, *Report, error) {
	report := &Report{}
	rules := map[string]*Rule{}

	if _, err := os.Stat(ruleDir); err != nil {
		if os.IsNotExist(err) {
			logger.Log.Warn("Rule directory does not exist, starting with empty rule index", "dir", ruleDir)
			return NewIndex(rules), report, nil
		}
		return nil, nil, fmt.Errorf("failed to stat rule dir: %w", err)
	}

	var files []string
	err := filepath.WalkDir(ruleDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(d.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to walk rule dir: %w", err)
	}
	sort.Strings(files)

	for _, path := range files {
		rule, err := loadRuleFile(path)
		if err != nil {
			logger.Log.Warn("Skipping rule file", "file", path, "error", err)
			report.Skipped = append(report.Skipped, SkippedRule{File: path, Reason: err.Error()})
			continue
		}

		base := filepath.Base(path)
		key := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
		if _, exists := rules[key]; exists {
			logger.Log.Warn("Duplicate rule key, keeping the first file", "key", key, "file", path)
			report.Skipped = append(report.Skipped, SkippedRule{File: path, Reason: "duplicate rule key " + key})
			continue
		}
		rules[key] = rule
		report.Loaded = append(report.Loaded, path)
	}

	logger.Log.Info("Rules loaded", "rules", len(rules), "skipped", len(report.Skipped))
	return NewIndex(rules), report, nil
}

func loadRuleFile(path string) (*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rule Rule
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &rule); err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		return &rule, nil
	}
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	return &rule, nil
}
