package scanner

import (
	"regexp"

	"github.com/meditrace/phi-sentinel/internal/taxonomy"
)

// GetDefaultRules returns the free-text detection rules applied to fields
// with no declared category. Field-aware classification always wins over
// these patterns.
func GetDefaultRules() []DetectionRule {
	return []DetectionRule{
		{
			Name:       "ssn",
			Category:   taxonomy.SSN,
			Pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Confidence: 0.95,
		},
		{
			Name:       "ssn-bare",
			Category:   taxonomy.SSN,
			Pattern:    regexp.MustCompile(`\b\d{9}\b`),
			Confidence: 0.5,
		},
		{
			Name:       "mrn",
			Category:   taxonomy.MedicalRecordNumber,
			Pattern:    regexp.MustCompile(`\bMR\d{6,10}\b`),
			Confidence: 0.9,
		},
		{
			Name:       "phone",
			Category:   taxonomy.Phone,
			Pattern:    regexp.MustCompile(`\(?\b\d{3}\)?[-. ]?\d{3}[-.]\d{4}\b`),
			Confidence: 0.85,
		},
		{
			Name:       "email",
			Category:   taxonomy.Email,
			Pattern:    regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			Confidence: 0.95,
		},
		{
			Name:       "hl7-timestamp",
			Category:   taxonomy.ServiceDate,
			Pattern:    regexp.MustCompile(`\b(19|20)\d{6}(\d{4,6})?\b`),
			Confidence: 0.6,
		},
		{
			Name:       "url",
			Category:   taxonomy.URL,
			Pattern:    regexp.MustCompile(`\bhttps?://[^\s|^]+`),
			Confidence: 0.9,
		},
		{
			Name:       "ip-address",
			Category:   taxonomy.IPAddress,
			Pattern:    regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			Confidence: 0.8,
		},
		{
			Name:       "device-serial",
			Category:   taxonomy.DeviceID,
			Pattern:    regexp.MustCompile(`\b(?:SN|DEV)[-:]?[A-Z0-9]{6,16}\b`),
			Confidence: 0.7,
		},
	}
}
