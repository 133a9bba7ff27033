package secrets

import (
	"fmt"
	"regexp"
)

// Engine names.
const (
	EngineRegexp   = "regexp"
	EngineGitleaks = "gitleaks"
)

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active.
	Enabled bool `koanf:"enabled"`

	// Engine selects the detector: regexp (default) or gitleaks.
	Engine string `koanf:"engine"`

	// Rules are used by the regexp engine.
	Rules []Rule `koanf:"rules"`

	// RedactionString replaces each detected secret.
	RedactionString string `koanf:"redaction_string"`

	// AllowList holds patterns for matches that must be kept.
	AllowList []string `koanf:"allow_list"`

	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
}

// Rule defines a secret detection rule.
type Rule struct {
	ID          string `koanf:"id"`
	Description string `koanf:"description"`
	Pattern     string `koanf:"pattern"`

	// Keywords gate the rule: at least one must appear (case-insensitive)
	// before the pattern runs.
	Keywords []string `koanf:"keywords"`

	Severity string `koanf:"severity"` // high, medium, low
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig returns an enabled regexp scrubber with DefaultRules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Engine:          EngineRegexp,
		RedactionString: "[REDACTED]",
		Rules:           DefaultRules(),
	}
}

// Validate checks and compiles the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Engine == "" {
		c.Engine = EngineRegexp
	}
	if c.Engine != EngineRegexp && c.Engine != EngineGitleaks {
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	if c.RedactionString == "" {
		c.RedactionString = "[REDACTED]"
	}

	c.compiledRules = make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}

		cr := &compiledRule{Rule: rule, pattern: pattern}
		for _, kw := range rule.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		c.compiledRules = append(c.compiledRules, cr)
	}

	c.compiledAllowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, re)
	}
	return nil
}

func (c *Config) allowed(match string) bool {
	for _, re := range c.compiledAllowList {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}
