package diagnoser

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opsforge/remedy/internal/models"
)

// Rule maps an error signature within one failure kind to a root cause.
// Rules are evaluated in order; the first match wins.
type Rule struct {
	ID          string             `yaml:"id"`
	Kind        models.FailureKind `yaml:"kind"`
	Contains    []string           `yaml:"contains"` // any-of, case-insensitive substring match
	Category    string             `yaml:"category"`
	Severity    models.Severity    `yaml:"severity"`
	Description string             `yaml:"description"`
}

// rulePackFile is the YAML root structure of a diagnosis rule pack.
type rulePackFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a rule pack from path. A missing file or empty path yields
// the built-in defaults; a pack extends the defaults and is consulted first.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return defaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultRules(), nil
		}
		return nil, err
	}
	var pack rulePackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, err
	}
	return append(pack.Rules, defaultRules()...), nil
}

// defaultRules is the built-in ordered diagnosis table. Broad rules go last so
// sharper signatures win.
func defaultRules() []Rule {
	return []Rule{
		{
			ID:          "crash-oom",
			Kind:        models.FailureAgentCrash,
			Contains:    []string{"OutOfMemory", "out of memory", "OOMKilled"},
			Category:    "memory_exhaustion",
			Severity:    models.SeverityHigh,
			Description: "Component ran out of memory during execution",
		},
		{
			ID:          "crash-segfault",
			Kind:        models.FailureAgentCrash,
			Contains:    []string{"segmentation fault", "SIGSEGV", "invalid memory address"},
			Category:    "process_fault",
			Severity:    models.SeverityCritical,
			Description: "Component process crashed on an invalid memory access",
		},
		{
			ID:          "crash-panic",
			Kind:        models.FailureAgentCrash,
			Contains:    []string{"panic", "fatal error"},
			Category:    "process_fault",
			Severity:    models.SeverityHigh,
			Description: "Component process aborted on an unhandled fault",
		},
		{
			ID:          "timeout-deadline",
			Kind:        models.FailureTimeout,
			Contains:    []string{"deadline exceeded", "context deadline", "timed out"},
			Category:    "dependency_slow",
			Severity:    models.SeverityMedium,
			Description: "A downstream dependency did not answer within the stage deadline",
		},
		{
			ID:          "dependency-refused",
			Kind:        models.FailureDependencyDown,
			Contains:    []string{"connection refused", "no such host", "unreachable"},
			Category:    "dependency_unreachable",
			Severity:    models.SeverityHigh,
			Description: "A required external dependency is unreachable",
		},
		{
			ID:          "validation-schema",
			Kind:        models.FailureValidationError,
			Contains:    []string{"schema", "missing required", "invalid field"},
			Category:    "contract_violation",
			Severity:    models.SeverityMedium,
			Description: "Stage output violated the downstream contract",
		},
		{
			ID:          "resource-disk",
			Kind:        models.FailureResourceExhaustion,
			Contains:    []string{"no space left", "disk quota"},
			Category:    "disk_pressure",
			Severity:    models.SeverityHigh,
			Description: "Local disk capacity exhausted",
		},
		{
			ID:          "resource-limit",
			Kind:        models.FailureResourceExhaustion,
			Contains:    []string{"rate limit", "quota exceeded", "too many requests"},
			Category:    "quota_exhaustion",
			Severity:    models.SeverityMedium,
			Description: "External quota or rate limit exhausted",
		},
		{
			ID:          "output-checksum",
			Kind:        models.FailureOutputCorruption,
			Contains:    []string{"checksum mismatch", "truncated", "unexpected EOF"},
			Category:    "state_corruption",
			Severity:    models.SeverityCritical,
			Description: "Persisted stage output is corrupt",
		},
		{
			ID:          "state-divergence",
			Kind:        models.FailureStateInconsistent,
			Contains:    []string{"mismatch", "divergent", "stale"},
			Category:    "memory_corruption",
			Severity:    models.SeverityCritical,
			Description: "Shared in-memory state diverged between components",
		},
	}
}
