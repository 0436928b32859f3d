package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html/template"
	"sort"
	"strconv"
	"time"

	"github.com/meditrace/phi-sentinel/internal/batch"
)

// Format selects the rendered artifact encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXML  Format = "xml"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat resolves a format name.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case FormatJSON, FormatCSV, FormatXML, FormatHTML, FormatPDF:
		return Format(name), nil
	}
	return "", fmt.Errorf("unsupported report format: %s", name)
}

// Generate renders a completed batch result into the requested format.
// Pure function of the result: detection is never re-run here. PDF
// degrades to HTML with a note.
func Generate(result *batch.BatchResult, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return renderJSON(result)
	case FormatCSV:
		return renderCSV(result)
	case FormatXML:
		return renderXML(result)
	case FormatHTML:
		return renderHTML(result, "")
	case FormatPDF:
		return renderHTML(result, "PDF rendering is unavailable; this report degraded to HTML.")
	}
	return nil, fmt.Errorf("unsupported report format: %s", format)
}

func renderJSON(result *batch.BatchResult) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return buf.Bytes(), nil
}

func renderCSV(result *batch.BatchResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "batch_id", result.BatchID},
		{"summary", "session_id", result.SessionID},
		{"summary", "items", strconv.Itoa(len(result.Items))},
		{"summary", "successes", strconv.Itoa(result.Successes)},
		{"summary", "failures", strconv.Itoa(result.Failures)},
		{"summary", "identifiers_processed", strconv.FormatInt(result.Statistics.IdentifiersProcessed, 10)},
		{"summary", "fields_modified", strconv.FormatInt(result.Statistics.FieldsModified, 10)},
		{"summary", "dates_shifted", strconv.FormatInt(result.Statistics.DatesShifted, 10)},
		{"summary", "unique_subjects", strconv.Itoa(result.UniqueSubjects)},
		{"summary", "mapping_count", strconv.Itoa(result.MappingCount)},
		{"summary", "compliance_status", string(result.Compliance.Status)},
		{"summary", "duration", result.Duration.String()},
	}
	for _, cat := range sortedCategories(result.Statistics.ByCategory) {
		rows = append(rows, []string{"category", cat, strconv.FormatInt(result.Statistics.ByCategory[cat], 10)})
	}
	for _, item := range result.Compliance.Checklist {
		rows = append(rows, []string{"checklist", item.Category, strconv.FormatBool(item.Satisfied)})
	}
	for _, item := range result.Items {
		status := "success"
		if !item.Success {
			status = "failed: " + item.Error
		}
		rows = append(rows, []string{"item", item.Item, status})
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("failed to write csv report: %w", err)
	}
	return buf.Bytes(), nil
}

// xmlReport mirrors BatchResult without map fields, which encoding/xml
// cannot marshal.
type xmlReport struct {
	XMLName    xml.Name      `xml:"deidentification_report"`
	BatchID    string        `xml:"batch_id"`
	SessionID  string        `xml:"session_id"`
	Successes  int           `xml:"successes"`
	Failures   int           `xml:"failures"`
	Status     string        `xml:"compliance_status"`
	Duration   string        `xml:"duration"`
	Categories []xmlCategory `xml:"categories>category"`
	Checklist  []xmlCheck    `xml:"checklist>entry"`
	Items      []xmlItem     `xml:"items>item"`
}

type xmlCategory struct {
	Name  string `xml:"name,attr"`
	Count int64  `xml:",chardata"`
}

type xmlCheck struct {
	Category  string `xml:"category,attr"`
	Satisfied bool   `xml:"satisfied,attr"`
}

type xmlItem struct {
	Path    string `xml:"path"`
	Success bool   `xml:"success"`
	Error   string `xml:"error,omitempty"`
}

func renderXML(result *batch.BatchResult) ([]byte, error) {
	doc := xmlReport{
		BatchID:   result.BatchID,
		SessionID: result.SessionID,
		Successes: result.Successes,
		Failures:  result.Failures,
		Status:    string(result.Compliance.Status),
		Duration:  result.Duration.String(),
	}
	for _, cat := range sortedCategories(result.Statistics.ByCategory) {
		doc.Categories = append(doc.Categories, xmlCategory{Name: cat, Count: result.Statistics.ByCategory[cat]})
	}
	for _, item := range result.Compliance.Checklist {
		doc.Checklist = append(doc.Checklist, xmlCheck{Category: item.Category, Satisfied: item.Satisfied})
	}
	for _, item := range result.Items {
		doc.Items = append(doc.Items, xmlItem{Path: item.Item, Success: item.Success, Error: item.Error})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode xml report: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

type htmlData struct {
	Result      *batch.BatchResult
	Note        string
	GeneratedAt time.Time
	Categories  []xmlCategory
}

func renderHTML(result *batch.BatchResult, note string) ([]byte, error) {
	tmpl, err := template.New("report").Parse(reportHTML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse report template: %w", err)
	}

	data := htmlData{
		Result:      result,
		Note:        note,
		GeneratedAt: time.Now(),
	}
	for _, cat := range sortedCategories(result.Statistics.ByCategory) {
		data.Categories = append(data.Categories, xmlCategory{Name: cat, Count: result.Statistics.ByCategory[cat]})
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render html report: %w", err)
	}
	return buf.Bytes(), nil
}

func sortedCategories(byCategory map[string]int64) []string {
	cats := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	return cats
}
