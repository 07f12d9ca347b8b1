// Package section defines the IPS section kinds, their registry metadata and
// the classifier that routes records to the section that renders them.
package section

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind is returned when a section kind is not registered.
var ErrUnknownKind = errors.New("unknown section kind")

// Kind identifies an IPS section. The numeric order is the order sections
// appear in a Composition.
type Kind int

const (
	Patient Kind = iota
	Problems
	Allergies
	Medications
	Immunizations
	Results
	Procedures
	MedicalDevices
	AdvanceDirectives
	FunctionalStatus
	Pregnancy
	PlanOfCare
	PastIllness
	SocialHistory
	VitalSigns
	FamilyHistory
)

var kindIDs = [...]string{
	Patient:           "Patient",
	Problems:          "ProblemSection",
	Allergies:         "AllergyIntoleranceSection",
	Medications:       "MedicationSummarySection",
	Immunizations:     "ImmunizationSection",
	Results:           "ResultsSection",
	Procedures:        "HistoryOfProceduresSection",
	MedicalDevices:    "MedicalDeviceSection",
	AdvanceDirectives: "AdvanceDirectivesSection",
	FunctionalStatus:  "FunctionalStatusSection",
	Pregnancy:         "HistoryOfPregnancySection",
	PlanOfCare:        "PlanOfCareSection",
	PastIllness:       "HistoryOfPastIllnessSection",
	SocialHistory:     "SocialHistorySection",
	VitalSigns:        "VitalSignsSection",
	FamilyHistory:     "FamilyHistorySection",
}

// Kinds returns every section kind in Composition order.
func Kinds() []Kind {
	out := make([]Kind, len(kindIDs))
	for i := range kindIDs {
		out[i] = Kind(i)
	}
	return out
}

// Valid reports whether k is a defined kind.
func (k Kind) Valid() bool {
	return k >= 0 && int(k) < len(kindIDs)
}

// ID returns the stable identifier of k, e.g. "ProblemSection".
func (k Kind) ID() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindIDs[k]
}

func (k Kind) String() string { return k.ID() }

// ParseKind resolves a kind identifier, ignoring case.
func ParseKind(id string) (Kind, error) {
	id = strings.TrimSpace(id)
	for i, s := range kindIDs {
		if strings.EqualFold(s, id) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownKind, id)
}

// Selection is a set of kinds chosen by configuration.
type Selection struct {
	All   bool
	Kinds map[Kind]bool
}

// Includes reports whether k is selected.
func (s Selection) Includes(k Kind) bool {
	return s.All || s.Kinds[k]
}

// Empty reports whether nothing is selected.
func (s Selection) Empty() bool {
	return !s.All && len(s.Kinds) == 0
}

// ParseSelection parses "all", "" or a comma separated list of kind IDs.
// Unrecognized IDs are returned so callers can report them.
func ParseSelection(value string) (Selection, []string) {
	sel := Selection{Kinds: map[Kind]bool{}}
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "all") {
		sel.All = true
		return sel, nil
	}
	var unknown []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := ParseKind(part)
		if err != nil {
			unknown = append(unknown, part)
			continue
		}
		sel.Kinds[k] = true
	}
	return sel, unknown
}
