package taxonomy

import "fmt"

// IdentifierCategory is a closed enumeration of the regulated identifier
// classes. The anonymization engine dispatches on this type with an
// exhaustive switch, so a new category without a generator is caught at
// review time instead of silently passing data through.
type IdentifierCategory int

// Unclassified is the zero value and is never a member of the taxonomy;
// it marks warning findings with no category attribution.
const Unclassified IdentifierCategory = 0

const (
	PatientName IdentifierCategory = iota + 1
	ProviderName
	SSN
	MedicalRecordNumber
	AccountNumber
	Address
	Phone
	Email
	BirthDate
	ServiceDate
	DeviceID
	HealthPlanID
	LicenseNumber
	URL
	IPAddress
)

// allCategories is the authoritative list; Categories returns a copy.
var allCategories = []IdentifierCategory{
	PatientName, ProviderName, SSN, MedicalRecordNumber, AccountNumber,
	Address, Phone, Email, BirthDate, ServiceDate, DeviceID,
	HealthPlanID, LicenseNumber, URL, IPAddress,
}

// Categories returns every category defined by this taxonomy version.
func Categories() []IdentifierCategory {
	out := make([]IdentifierCategory, len(allCategories))
	copy(out, allCategories)
	return out
}

var categoryNames = map[IdentifierCategory]string{
	PatientName:         "patient_name",
	ProviderName:        "provider_name",
	SSN:                 "ssn",
	MedicalRecordNumber: "medical_record_number",
	AccountNumber:       "account_number",
	Address:             "address",
	Phone:               "phone",
	Email:               "email",
	BirthDate:           "birth_date",
	ServiceDate:         "service_date",
	DeviceID:            "device_id",
	HealthPlanID:        "health_plan_id",
	LicenseNumber:       "license_number",
	URL:                 "url",
	IPAddress:           "ip_address",
}

// safeHarborNumbers maps each category to its item number in the
// regulatory identifier list (45 CFR 164.514(b)(2)).
var safeHarborNumbers = map[IdentifierCategory]int{
	PatientName:         1,
	Address:             2,
	BirthDate:           3,
	ServiceDate:         3,
	Phone:               4,
	Email:               6,
	SSN:                 7,
	MedicalRecordNumber: 8,
	HealthPlanID:        9,
	AccountNumber:       10,
	LicenseNumber:       11,
	DeviceID:            13,
	URL:                 14,
	IPAddress:           15,
	ProviderName:        1,
}

func (c IdentifierCategory) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// SafeHarborNumber returns the regulatory list item number for the category,
// or 0 when the category is not part of the fixed list.
func (c IdentifierCategory) SafeHarborNumber() int {
	return safeHarborNumbers[c]
}

// Valid reports whether c is part of the closed enumeration.
func (c IdentifierCategory) Valid() bool {
	_, ok := categoryNames[c]
	return ok
}

// ParseCategory resolves a configuration name to a category.
func ParseCategory(name string) (IdentifierCategory, error) {
	for cat, n := range categoryNames {
		if n == name {
			return cat, nil
		}
	}
	return 0, fmt.Errorf("unknown identifier category: %s", name)
}
