package store

import (
	"strings"

	"github.com/sage-clinical/sage-engine/pkg/models"
)

// studyDomains maps recognized CDISC dataset names to their domain.
var studyDomains = map[string]string{
	"ADSL": "demographics", "DM": "demographics",
	"ADAE": "adverse_events", "AE": "adverse_events",
	"ADLB": "labs", "LB": "labs",
	"ADVS": "vitals", "VS": "vitals",
	"ADCM": "conmeds", "CM": "conmeds",
}

// StudyTableInfo resolves a physical table name to its schema family and
// domain. Unrecognized tables report ok=false and are left out of the
// catalog, so ad-hoc tables in the store never become queryable.
func StudyTableInfo(name string) (tableType models.TableType, domain string, ok bool) {
	upper := strings.ToUpper(name)
	domain, ok = studyDomains[upper]
	if !ok {
		return "", "", false
	}
	if strings.HasPrefix(upper, "AD") {
		return models.TableTypeADaM, domain, true
	}
	return models.TableTypeSDTM, domain, true
}
