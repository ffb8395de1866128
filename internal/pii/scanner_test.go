package pii

import (
	"reflect"
	"strings"
	"testing"
)

func newScanner() *Scanner {
	return NewScanner(Config{Enabled: true}, nil)
}

func TestScanner_EmptyText(t *testing.T) {
	s := newScanner()
	masked, entities := s.ScanText("")
	if masked != "" || entities != nil {
		t.Errorf("ScanText(\"\") = %q, %v, want \"\", nil", masked, entities)
	}
}

func TestScanner_CleanText(t *testing.T) {
	s := newScanner()
	text := "The quarterly report is due on Friday."
	masked, entities := s.ScanText(text)
	if masked != text {
		t.Errorf("masked = %q, want unchanged %q", masked, text)
	}
	if len(entities) != 0 {
		t.Errorf("expected no entities, got %v", entities)
	}
}

func TestScanner_Email(t *testing.T) {
	s := newScanner()
	masked, entities := s.ScanText("contact me at jane.doe@example.com about the refund")
	if !contains(entities, EntityEmailAddress) {
		t.Fatalf("expected EMAIL_ADDRESS in %v", entities)
	}
	if contains3(masked, "jane.doe@example.com") {
		t.Errorf("masked text still contains the raw email: %q", masked)
	}
}

func TestScanner_SSN(t *testing.T) {
	s := newScanner()
	masked, entities := s.ScanText("SSN on file: 123-45-6789")
	if !contains(entities, EntityUSSSN) {
		t.Fatalf("expected US_SSN in %v", entities)
	}
	if contains3(masked, "123-45-6789") {
		t.Errorf("masked text still contains the raw SSN: %q", masked)
	}
}

func TestScanner_Phone(t *testing.T) {
	s := newScanner()
	masked, entities := s.ScanText("call me at 415-555-0199 tomorrow")
	if !contains(entities, EntityPhoneNumber) {
		t.Fatalf("expected PHONE_NUMBER in %v", entities)
	}
	if contains3(masked, "415-555-0199") {
		t.Errorf("masked text still contains the raw phone number: %q", masked)
	}
}

func TestScanner_CreditCard(t *testing.T) {
	s := newScanner()
	masked, entities := s.ScanText("card number 4111 1111 1111 1111 was charged")
	if !contains(entities, EntityCreditCard) {
		t.Fatalf("expected CREDIT_CARD in %v", entities)
	}
	if contains3(masked, "4111 1111 1111 1111") {
		t.Errorf("masked text still contains the raw card number: %q", masked)
	}
}

func TestScanner_IPAddress(t *testing.T) {
	s := newScanner()
	masked, entities := s.ScanText("request originated from 203.0.113.42")
	if !contains(entities, EntityIPAddress) {
		t.Fatalf("expected IP_ADDRESS in %v", entities)
	}
	if contains3(masked, "203.0.113.42") {
		t.Errorf("masked text still contains the raw IP: %q", masked)
	}
}

func TestScanner_MultipleEntities(t *testing.T) {
	s := newScanner()
	_, entities := s.ScanText("email jane@example.com or call 415-555-0199, SSN 123-45-6789")
	if len(entities) < 3 {
		t.Fatalf("expected at least 3 distinct entities, got %d: %v", len(entities), entities)
	}
}

func TestScanner_Idempotent(t *testing.T) {
	s := newScanner()
	text := "jane.doe@example.com, ssn 123-45-6789, ip 203.0.113.42"
	once, _ := s.ScanText(text)
	twice, entities := s.ScanText(once)
	if once != twice {
		t.Errorf("scan is not idempotent: once=%q twice=%q", once, twice)
	}
	if len(entities) != 0 {
		t.Errorf("re-scanning masked output should detect nothing, got %v", entities)
	}
}

func TestScanner_DisabledEntitiesAreIgnored(t *testing.T) {
	s := NewScanner(Config{Enabled: true, Entities: []string{EntityEmailAddress}}, nil)
	_, entities := s.ScanText("ssn 123-45-6789")
	if len(entities) != 0 {
		t.Errorf("expected no detection when US_SSN is not in the enabled entity list, got %v", entities)
	}
}

func TestScanner_Disabled(t *testing.T) {
	s := NewScanner(Config{Enabled: false}, nil)
	text := "contact jane.doe@example.com, ssn 123-45-6789"
	masked, entities := s.ScanText(text)
	if masked != text {
		t.Errorf("disabled scanner masked text: %q, want unchanged %q", masked, text)
	}
	if entities != nil {
		t.Errorf("disabled scanner detected entities: %v, want none", entities)
	}

	result := s.Scan(text)
	if result.Detected || result.Masked != text {
		t.Errorf("disabled scanner Scan() = %+v, want Detected=false Masked=%q", result, text)
	}
}

func TestScanner_ScanTree_PreservesStructure(t *testing.T) {
	s := newScanner()
	tree := map[string]any{
		"name":  "Jane Doe",
		"email": "jane.doe@example.com",
		"count": 3,
		"tags":  []any{"vip", "jane.doe@example.com"},
		"nested": map[string]any{
			"ssn": "123-45-6789",
		},
	}

	out, entities := s.ScanTree(tree)
	if !contains(entities, EntityEmailAddress) || !contains(entities, EntityUSSSN) {
		t.Fatalf("expected EMAIL_ADDRESS and US_SSN, got %v", entities)
	}

	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected ScanTree to return a map, got %T", out)
	}
	if m["count"] != 3 {
		t.Errorf("numeric leaf mutated: count = %v", m["count"])
	}
	tags, ok := m["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Fatalf("expected a 2-element sequence, got %v", m["tags"])
	}
	if tags[0] != "vip" {
		t.Errorf("sequence order not preserved: tags[0] = %v", tags[0])
	}
	nested, ok := m["nested"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map preserved, got %T", m["nested"])
	}
	if contains3(nested["ssn"].(string), "123-45-6789") {
		t.Errorf("nested ssn not masked: %v", nested["ssn"])
	}
}

func TestScanner_ScanTree_NoPII(t *testing.T) {
	s := newScanner()
	tree := map[string]any{"status": "ok", "retries": 2}
	out, entities := s.ScanTree(tree)
	if entities != nil {
		t.Errorf("expected no entities, got %v", entities)
	}
	if !reflect.DeepEqual(out, tree) {
		t.Errorf("tree mutated with no PII present: %v", out)
	}
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func contains3(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}
