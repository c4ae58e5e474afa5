package ledger

import (
	"fmt"
	"strings"
)

// BloodType is a canonical ABO/Rh label such as "O+" or "AB-".
type BloodType string

const (
	APos  BloodType = "A+"
	ANeg  BloodType = "A-"
	BPos  BloodType = "B+"
	BNeg  BloodType = "B-"
	ABPos BloodType = "AB+"
	ABNeg BloodType = "AB-"
	OPos  BloodType = "O+"
	ONeg  BloodType = "O-"
)

// CanonicalBloodTypes lists every label a dashboard inventory must carry.
var CanonicalBloodTypes = []BloodType{APos, ANeg, BPos, BNeg, ABPos, ABNeg, OPos, ONeg}

// ParseBloodType validates a label, tolerating surrounding whitespace and lower case.
func ParseBloodType(s string) (BloodType, error) {
	bt := BloodType(strings.ToUpper(strings.TrimSpace(s)))
	for _, c := range CanonicalBloodTypes {
		if bt == c {
			return bt, nil
		}
	}
	return "", fmt.Errorf("invalid blood type %q", s)
}

// JoinBloodType builds a label from the group and Rh columns the donation
// tables store separately.
func JoinBloodType(group, rh string) (BloodType, error) {
	return ParseBloodType(strings.TrimSpace(group) + strings.TrimSpace(rh))
}

// Group returns the ABO part of the label.
func (b BloodType) Group() string {
	return strings.TrimRight(string(b), "+-")
}

// Rh returns "+" or "-".
func (b BloodType) Rh() string {
	s := string(b)
	if s == "" {
		return ""
	}
	return s[len(s)-1:]
}
