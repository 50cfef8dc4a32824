// Package diagnoser classifies raw failure contexts into root causes and
// sizes their blast radius. Diagnosis is deterministic and never fails: input
// that matches no rule degrades to a documented low-confidence generic cause.
package diagnoser

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opsforge/remedy/internal/models"
)

// Diagnoser matches failures against an ordered rule table and a static
// dependency graph.
type Diagnoser struct {
	rules  []Rule
	graph  *DependencyGraph
	logger *slog.Logger
}

// New constructs a Diagnoser.
func New(rules []Rule, graph *DependencyGraph, logger *slog.Logger) *Diagnoser {
	if logger == nil {
		logger = slog.Default()
	}
	if graph == nil {
		graph = NewDependencyGraph(nil)
	}
	return &Diagnoser{rules: rules, graph: graph, logger: logger}
}

// Diagnose classifies the failure. Identical input always yields the same
// RootCause.Category; the method never returns an error.
func (d *Diagnoser) Diagnose(fc models.FailureContext) models.DiagnosisResult {
	cause := d.matchCause(fc)

	affected := d.graph.Affected(fc.ComponentID)
	if strings.Contains(cause.Category, "corruption") {
		keys := d.graph.StateKeysOf(fc.ComponentID)
		affected = mergeSorted(affected, d.graph.SharingState(keys))
	}

	impact := assessImpact(cause, affected)

	d.logger.Debug("failure diagnosed",
		slog.String("component", fc.ComponentID),
		slog.String("kind", string(fc.Kind)),
		slog.String("category", cause.Category),
		slog.Int("affected", len(affected)))

	return models.DiagnosisResult{
		Context:            fc,
		Cause:              cause,
		AffectedComponents: affected,
		Impact:             impact,
	}
}

// matchCause walks the rule table in order; the first rule whose kind matches
// and whose any-of substrings appear in the error or stack wins.
func (d *Diagnoser) matchCause(fc models.FailureContext) models.RootCause {
	haystack := strings.ToLower(fc.Error + "\n" + fc.Stack)
	for _, rule := range d.rules {
		if rule.Kind != fc.Kind {
			continue
		}
		if evidence, ok := matchAny(haystack, rule.Contains); ok {
			return models.RootCause{
				Category:    rule.Category,
				Description: rule.Description,
				Severity:    rule.Severity,
				Evidence:    evidence,
			}
		}
	}
	return genericCause(fc)
}

// genericCause is the documented fallback when no rule matches: the category
// is derived only from the failure kind so it stays deterministic, severity is
// MEDIUM for crash-class kinds and LOW otherwise, and the description flags
// the low confidence so downstream consumers can tell it apart.
func genericCause(fc models.FailureContext) models.RootCause {
	severity := models.SeverityLow
	switch fc.Kind {
	case models.FailureAgentCrash, models.FailureOutputCorruption, models.FailureStateInconsistent:
		severity = models.SeverityMedium
	}
	var evidence []string
	if line := firstLine(fc.Error); line != "" {
		evidence = []string{line}
	}
	return models.RootCause{
		Category:    fmt.Sprintf("unclassified_%s", fc.Kind),
		Description: fmt.Sprintf("no diagnostic rule matched %s; low-confidence generic classification", fc.Kind),
		Severity:    severity,
		Evidence:    evidence,
	}
}

// assessImpact combines affected-component count with cause severity.
// More than three affected components means the failure is widespread.
func assessImpact(cause models.RootCause, affected []string) models.Impact {
	scope := models.ScopeIsolated
	switch {
	case len(affected) > 3:
		scope = models.ScopeWidespread
	case len(affected) > 1:
		scope = models.ScopeModerate
	}

	base := map[models.Severity]time.Duration{
		models.SeverityCritical: 10 * time.Minute,
		models.SeverityHigh:     5 * time.Minute,
		models.SeverityMedium:   2 * time.Minute,
		models.SeverityLow:      time.Minute,
	}[cause.Severity]
	if scope == models.ScopeWidespread {
		base *= 2
	}

	risk := models.RiskLow
	switch {
	case strings.Contains(cause.Category, "corruption"):
		risk = models.RiskHigh
	case cause.Severity.Rank() >= models.SeverityHigh.Rank():
		risk = models.RiskMedium
	}

	return models.Impact{
		Severity:          cause.Severity,
		Scope:             scope,
		EstimatedRecovery: base,
		DataLossRisk:      risk,
	}
}

func matchAny(haystack string, needles []string) ([]string, bool) {
	var evidence []string
	for _, needle := range needles {
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(needle)) {
			evidence = append(evidence, needle)
		}
	}
	return evidence, len(evidence) > 0
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	const maxLen = 160
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

func mergeSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	return sortedKeys(set)
}
