package secrets

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// gitleaksScrubber runs the gitleaks default rule pack.
type gitleaksScrubber struct {
	config *Config

	// Detector is not safe for concurrent use.
	mu       sync.Mutex
	detector *detect.Detector
}

func newGitleaksScrubber(cfg *Config) (*gitleaksScrubber, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	return &gitleaksScrubber{config: cfg, detector: d}, nil
}

func (s *gitleaksScrubber) IsEnabled() bool {
	return s.config.Enabled
}

func (s *gitleaksScrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content, ByRule: make(map[string]int)}

	s.mu.Lock()
	findings := s.detector.DetectString(content)
	s.mu.Unlock()

	var spans []span
	for _, f := range findings {
		if f.Secret == "" || s.config.allowed(f.Secret) {
			continue
		}
		// Locate every occurrence; gitleaks columns are line-relative.
		for from := 0; ; {
			idx := strings.Index(content[from:], f.Secret)
			if idx < 0 {
				break
			}
			start := from + idx
			end := start + len(f.Secret)
			spans = append(spans, span{start, end})
			result.Findings = append(result.Findings, Finding{
				RuleID:      f.RuleID,
				Description: f.Description,
				Severity:    "high",
				StartIndex:  start,
				EndIndex:    end,
			})
			result.ByRule[f.RuleID]++
			from = end
		}
	}

	result.Scrubbed = redact(content, spans, s.config.RedactionString)
	return result
}
