package report

import (
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/meditrace/phi-sentinel/internal/batch"
	"github.com/meditrace/phi-sentinel/internal/compliance"
)

func sampleResult() *batch.BatchResult {
	return &batch.BatchResult{
		BatchID:   "batch-1",
		SessionID: "session-1",
		Items: []batch.ItemResult{
			{Item: "a.hl7", Success: true, Result: &batch.Result{Item: "a.hl7"}},
			{Item: "b.hl7", Success: false, Error: "input content is empty"},
		},
		Successes: 1,
		Failures:  1,
		Statistics: batch.Statistics{
			ItemsProcessed:       1,
			IdentifiersProcessed: 6,
			FieldsModified:       6,
			ByCategory:           map[string]int64{"patient_name": 1, "ssn": 2},
		},
		UniqueSubjects: 1,
		MappingCount:   6,
		Compliance: compliance.Verification{
			Status: compliance.StatusCompliant,
			Checklist: []compliance.ChecklistItem{
				{Category: "patient_name", SafeHarborNumber: 1, Occurrences: 1, Satisfied: true},
				{Category: "ssn", SafeHarborNumber: 7, Occurrences: 2, Satisfied: true},
			},
		},
		Risk:     &compliance.RiskAssessment{Method: "k-anonymity", Score: 0.25, MinClassSize: 4, Confidence: "low"},
		Duration: 3 * time.Second,
	}
}

// TestParseFormat tests format name resolution
func TestParseFormat(t *testing.T) {
	for _, name := range []string{"json", "csv", "xml", "html", "pdf"} {
		if _, err := ParseFormat(name); err != nil {
			t.Errorf("Format %s rejected: %v", name, err)
		}
	}
	if _, err := ParseFormat("docx"); err == nil {
		t.Error("Unsupported format should be rejected")
	}
}

// TestGenerate tests each renderer
func TestGenerate(t *testing.T) {
	result := sampleResult()

	t.Run("JSON", func(t *testing.T) {
		out, err := Generate(result, FormatJSON)
		if err != nil {
			t.Fatalf("JSON render failed: %v", err)
		}
		var decoded batch.BatchResult
		if err := json.Unmarshal(out, &decoded); err != nil {
			t.Fatalf("JSON output does not decode: %v", err)
		}
		if decoded.BatchID != "batch-1" || decoded.Successes != 1 {
			t.Errorf("Decoded report wrong: %+v", decoded)
		}
	})

	t.Run("CSV", func(t *testing.T) {
		out, err := Generate(result, FormatCSV)
		if err != nil {
			t.Fatalf("CSV render failed: %v", err)
		}
		text := string(out)
		for _, want := range []string{"section,key,value", "summary,batch_id,batch-1", "category,ssn,2", "checklist,patient_name,true", "item,b.hl7,failed: input content is empty"} {
			if !strings.Contains(text, want) {
				t.Errorf("CSV missing %q", want)
			}
		}
	})

	t.Run("XML", func(t *testing.T) {
		out, err := Generate(result, FormatXML)
		if err != nil {
			t.Fatalf("XML render failed: %v", err)
		}
		if !strings.HasPrefix(string(out), xml.Header) {
			t.Error("XML output missing header")
		}
		var decoded struct {
			BatchID string `xml:"batch_id"`
			Status  string `xml:"compliance_status"`
		}
		if err := xml.Unmarshal(out, &decoded); err != nil {
			t.Fatalf("XML output does not decode: %v", err)
		}
		if decoded.BatchID != "batch-1" || decoded.Status != "compliant" {
			t.Errorf("Decoded XML wrong: %+v", decoded)
		}
	})

	t.Run("HTML", func(t *testing.T) {
		out, err := Generate(result, FormatHTML)
		if err != nil {
			t.Fatalf("HTML render failed: %v", err)
		}
		text := string(out)
		for _, want := range []string{"batch-1", "patient_name", "compliant"} {
			if !strings.Contains(text, want) {
				t.Errorf("HTML missing %q", want)
			}
		}
	})

	t.Run("PDFDegradesToHTML", func(t *testing.T) {
		out, err := Generate(result, FormatPDF)
		if err != nil {
			t.Fatalf("PDF render failed: %v", err)
		}
		if !strings.Contains(string(out), "degraded to HTML") {
			t.Error("PDF degradation note missing")
		}
	})
}
