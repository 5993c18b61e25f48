package models

import "strings"

// Intent classifies what a question is asking for. Only IntentClinicalData
// runs the SQL pipeline; everything else short-circuits into a conversational
// response.
type Intent string

const (
	IntentClinicalData Intent = "CLINICAL_DATA"
	IntentGreeting     Intent = "GREETING"
	IntentHelp         Intent = "HELP"
	IntentIdentity     Intent = "IDENTITY"
	IntentFarewell     Intent = "FAREWELL"
	IntentStatus       Intent = "STATUS"
	IntentGeneral      Intent = "GENERAL"
)

// ParseIntent maps a raw classifier response to an Intent. Anything the
// classifier did not produce verbatim is treated as CLINICAL_DATA so an
// unexpected model response fails toward running the full pipeline.
func ParseIntent(raw string) Intent {
	switch Intent(strings.ToUpper(strings.TrimSpace(raw))) {
	case IntentGreeting:
		return IntentGreeting
	case IntentHelp:
		return IntentHelp
	case IntentIdentity:
		return IntentIdentity
	case IntentFarewell:
		return IntentFarewell
	case IntentStatus:
		return IntentStatus
	case IntentGeneral:
		return IntentGeneral
	default:
		return IntentClinicalData
	}
}

// IsClinical reports whether the intent requires the SQL pipeline.
func (i Intent) IsClinical() bool {
	return i == IntentClinicalData
}
