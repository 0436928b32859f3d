package taxonomy

import "fmt"

// defaultFieldTable maps HL7 v2 field locations (segment-field) to the
// identifier category declared for that location. Loaded once per run and
// read-only afterwards; custom extensions come in through NewTable.
var defaultFieldTable = map[string]IdentifierCategory{
	// Patient identification
	"PID-2":  MedicalRecordNumber,
	"PID-3":  MedicalRecordNumber,
	"PID-4":  AccountNumber,
	"PID-5":  PatientName,
	"PID-6":  PatientName, // mother's maiden name
	"PID-7":  BirthDate,
	"PID-9":  PatientName, // patient alias
	"PID-11": Address,
	"PID-13": Phone,
	"PID-14": Phone,
	"PID-18": AccountNumber,
	"PID-19": SSN,
	"PID-20": LicenseNumber,

	// Next of kin
	"NK1-2": PatientName,
	"NK1-4": Address,
	"NK1-5": Phone,
	"NK1-6": Phone,

	// Visit and orders
	"PV1-7":  ProviderName,
	"PV1-8":  ProviderName,
	"PV1-9":  ProviderName,
	"PV1-17": ProviderName,
	"PV1-44": ServiceDate,
	"PV1-45": ServiceDate,
	"ORC-12": ProviderName,
	"OBR-7":  ServiceDate,
	"OBR-16": ProviderName,
	"OBR-22": ServiceDate,

	// Insurance
	"IN1-2":  HealthPlanID,
	"IN1-16": PatientName,
	"IN1-18": BirthDate,
	"IN1-19": Address,
	"IN1-36": HealthPlanID,

	// Guarantor
	"GT1-3":  PatientName,
	"GT1-5":  Address,
	"GT1-6":  Phone,
	"GT1-12": SSN,
}

// Table is the field-to-category classification table for one message
// family. Immutable after construction.
type Table struct {
	fields map[string]IdentifierCategory
}

// NewTable builds a classification table from the built-in HL7 v2 defaults
// plus caller-supplied extensions (location -> category name).
func NewTable(extensions map[string]string) (*Table, error) {
	fields := make(map[string]IdentifierCategory, len(defaultFieldTable)+len(extensions))
	for loc, cat := range defaultFieldTable {
		fields[loc] = cat
	}
	for loc, name := range extensions {
		cat, err := ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("invalid taxonomy extension for %s: %w", loc, err)
		}
		fields[loc] = cat
	}
	return &Table{fields: fields}, nil
}

// Lookup returns the declared category for a field location. The second
// return is false for untyped locations, which fall through to free-text
// detection in the scanner.
func (t *Table) Lookup(location string) (IdentifierCategory, bool) {
	cat, ok := t.fields[location]
	return cat, ok
}

// Size returns the number of classified field locations.
func (t *Table) Size() int {
	return len(t.fields)
}
