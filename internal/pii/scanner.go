// Package pii implements best-effort detection and masking of personally
// identifiable information in free-form text, per spec.md §4.2. Detection is
// never a hard guarantee (spec.md §1, Non-goals) -- the regex fallback
// covers the entity types spec.md §4.2 requires at minimum, and any
// detector-engine failure degrades to that fallback rather than raising.
package pii

import (
	"log/slog"
	"regexp"
	"sort"
	"sync"
)

// Entity type names, matching spec.md §4.2's default set.
const (
	EntityPerson            = "PERSON"
	EntityEmailAddress      = "EMAIL_ADDRESS"
	EntityPhoneNumber       = "PHONE_NUMBER"
	EntityUSSSN             = "US_SSN"
	EntityCreditCard        = "CREDIT_CARD"
	EntityUSBankNumber      = "US_BANK_NUMBER"
	EntityIPAddress         = "IP_ADDRESS"
	EntityUSPassport        = "US_PASSPORT"
	EntityUSDriverLicense   = "US_DRIVER_LICENSE"
	EntityCrypto            = "CRYPTO"
	EntityIBANCode          = "IBAN_CODE"
	EntityMedicalLicense    = "MEDICAL_LICENSE"
	EntityURL               = "URL"
)

// mask replaces every matched PII span. Fixed-width per spec.md §4.2 ("a
// fixed mask, e.g. eight `*`"); it is deliberately free of digits, '@', '.'
// so that re-scanning masked output never matches any of the patterns
// below -- this is what makes Scan idempotent without extra bookkeeping.
const mask = "********"

type compiledPattern struct {
	entity string
	re     *regexp.Regexp
}

// Config holds scanner settings.
type Config struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Entities []string `yaml:"entities" json:"entities"` // empty = DefaultEntities
}

// DefaultEntities is the default entity set spec.md §4.2 names.
var DefaultEntities = []string{
	EntityPerson, EntityEmailAddress, EntityPhoneNumber, EntityUSSSN,
	EntityCreditCard, EntityUSBankNumber, EntityIPAddress, EntityUSPassport,
	EntityUSDriverLicense, EntityCrypto, EntityIBANCode, EntityMedicalLicense,
	EntityURL,
}

// Scanner detects and masks PII substrings in text and nested structures,
// via a mutex-guarded compiled pattern table built by NewScanner(cfg, logger).
type Scanner struct {
	mu       sync.RWMutex
	config   Config
	patterns []compiledPattern
	logger   *slog.Logger
}

// NewScanner creates a PII Scanner with the regex fallback patterns loaded.
// A richer NLP-backed detector can be substituted by swapping the patterns
// table; this constructor always has the regex floor spec.md §4.2 requires.
func NewScanner(cfg Config, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{
		config: cfg,
		logger: logger.With("component", "pii.Scanner"),
	}
	s.loadPatterns()
	return s
}

func (s *Scanner) entities() []string {
	if len(s.config.Entities) > 0 {
		return s.config.Entities
	}
	return DefaultEntities
}

// loadPatterns compiles the regex fallback. Per spec.md §4.2 this covers at
// minimum EMAIL_ADDRESS, US_SSN, PHONE_NUMBER, CREDIT_CARD, IP_ADDRESS; we
// add a handful more of the default set where a reasonable regex exists.
// PERSON, US_BANK_NUMBER and MEDICAL_LICENSE have no reliable regex signature and are
// intentionally left undetected by the fallback -- this is the "best
// effort" spec.md §1 calls out, not a bug.
func (s *Scanner) loadPatterns() {
	raw := []struct {
		entity  string
		pattern string
	}{
		{EntityEmailAddress, `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`},
		{EntityUSSSN, `\b\d{3}-\d{2}-\d{4}\b`},
		{EntityPhoneNumber, `\b(?:\+1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`},
		{EntityCreditCard, `\b(?:\d[ -]*?){13,16}\b`},
		{EntityIPAddress, `\b(?:(?:25[0-5]|2[0-4]\d|[01]?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|[01]?\d?\d)\b`},
		{EntityIBANCode, `\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`},
		{EntityUSPassport, `\b[A-Z]\d{8}\b`},
		{EntityUSDriverLicense, `\b[A-Z]\d{7,12}\b`},
		{EntityCrypto, `\b(?:bc1|[13])[a-zA-HJ-NP-Z0-9]{25,39}\b`},
		{EntityURL, `\bhttps?://[^\s]+\b`},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = s.patterns[:0]
	if !s.config.Enabled {
		return
	}

	enabled := map[string]bool{}
	for _, e := range s.entities() {
		enabled[e] = true
	}

	for _, rp := range raw {
		if !enabled[rp.entity] {
			continue
		}
		re, err := regexp.Compile(rp.pattern)
		if err != nil {
			s.logger.Warn("failed to compile PII pattern", "entity", rp.entity, "error", err)
			continue
		}
		s.patterns = append(s.patterns, compiledPattern{entity: rp.entity, re: re})
	}
}

// ScanText detects and masks PII in s, returning the masked text and the
// distinct entity types found. If nothing is recognized, masked == s and
// the entity list is empty, per spec.md §4.2.
func (s *Scanner) ScanText(text string) (masked string, entities []string) {
	if text == "" {
		return text, nil
	}

	s.mu.RLock()
	patterns := s.patterns
	s.mu.RUnlock()

	seen := map[string]bool{}
	masked = text
	for _, p := range patterns {
		if p.re.MatchString(masked) {
			masked = p.re.ReplaceAllString(masked, mask)
			seen[p.entity] = true
		}
	}

	if len(seen) == 0 {
		return text, nil
	}

	entities = make([]string, 0, len(seen))
	for e := range seen {
		entities = append(entities, e)
	}
	sort.Strings(entities)
	return masked, entities
}

// ScanTree recursively walks maps (map[string]any) and ordered sequences
// ([]any), scanning string leaves and leaving every other leaf type
// (numbers, bools, nil) unchanged. It returns a new tree with the same
// structure -- same keys, same sequence lengths and order -- and the union
// of distinct entity types detected anywhere in it. Per spec.md's design
// notes, numeric leaves are never stringified and scanned; only values that
// are already strings are candidates.
func (s *Scanner) ScanTree(value any) (any, []string) {
	seen := map[string]bool{}
	out := s.scanRecursive(value, seen)

	if len(seen) == 0 {
		return out, nil
	}
	entities := make([]string, 0, len(seen))
	for e := range seen {
		entities = append(entities, e)
	}
	sort.Strings(entities)
	return out, entities
}

func (s *Scanner) scanRecursive(value any, seen map[string]bool) any {
	switch v := value.(type) {
	case string:
		masked, entities := s.ScanText(v)
		for _, e := range entities {
			seen[e] = true
		}
		return masked

	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = s.scanRecursive(child, seen)
		}
		return out

	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = s.scanRecursive(child, seen)
		}
		return out

	default:
		return value
	}
}

// Scan is a convenience wrapper returning a ScanResult for a single string.
type ScanResult struct {
	Detected bool
	Entities []string
	Masked   string
}

// Scan runs ScanText and wraps the result. When the scanner is disabled,
// loadPatterns leaves the pattern table empty, so this naturally returns the
// input unchanged with no detections -- the engine is free to still proceed
// per spec.md §4.2's failure semantics.
func (s *Scanner) Scan(content string) ScanResult {
	masked, entities := s.ScanText(content)
	return ScanResult{
		Detected: len(entities) > 0,
		Entities: entities,
		Masked:   masked,
	}
}
