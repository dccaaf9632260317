package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DataFate is what happens to a category of records when its owner
// exercises the right to erasure.
type DataFate int

const (
	// FateDelete removes matching records outright.
	FateDelete DataFate = iota
	// FateAnonymize scrubs the personal link and PII fields in place;
	// the record body survives.
	FateAnonymize
	// FateAnonymizeRetain scrubs the personal link but stamps a future
	// hard-deletion horizon; used for fiscal records that must be kept
	// for a statutory window.
	FateAnonymizeRetain
	// FateFlagOnly marks the record as belonging to a deleted user
	// without touching any content. Medical records must be preserved
	// in full under CFM/COFFITO record-keeping obligations.
	FateFlagOnly
)

// RetentionPolicy couples a data fate with an advisory retention horizon.
// The horizon on anonymizing policies is informational (no follow-up
// hard-delete sweep runs); on FateAnonymizeRetain it is written to the
// record as marked_for_deletion.
type RetentionPolicy struct {
	Name        string
	Fate        DataFate
	HorizonDays int
}

// The fixed policy set. LGPD erasure rights are reconciled with statutory
// retention: medical content is inviolable, fiscal records keep their body
// for five years.
var (
	PolicyImmediate = RetentionPolicy{Name: "IMMEDIATE", Fate: FateDelete}
	PolicyDays30    = RetentionPolicy{Name: "DAYS_30", Fate: FateAnonymize, HorizonDays: 30}
	PolicyMonths6   = RetentionPolicy{Name: "MONTHS_6", Fate: FateAnonymize, HorizonDays: 180}
	PolicyYear1     = RetentionPolicy{Name: "YEAR_1", Fate: FateAnonymize, HorizonDays: 365}
	PolicyYears5    = RetentionPolicy{Name: "YEARS_5", Fate: FateAnonymizeRetain, HorizonDays: 5 * 365}
	PolicyMedical   = RetentionPolicy{Name: "MEDICAL_INDEFINITE", Fate: FateFlagOnly}
)

// CollectionPolicy binds one user-data table to its retention policy.
// PIIColumns are the columns nulled out when the policy anonymizes;
// user_id itself is always rewritten to a synthetic identifier.
type CollectionPolicy struct {
	Table      string
	Policy     RetentionPolicy
	PIIColumns []string
}

// RetentionSchedule is the single declarative source of truth for how every
// user-linked table is treated on account deletion. Every table that stores
// a user_id-linked personal-data record MUST appear here; an omitted table
// is silently skipped by the erasure engine.
func RetentionSchedule() []CollectionPolicy {
	return []CollectionPolicy{
		// Transient/device data: gone immediately
		{Table: "device_tokens", Policy: PolicyImmediate},
		{Table: "notifications", Policy: PolicyImmediate},

		// CRM pipeline: short commercial horizon
		{Table: "crm_leads", Policy: PolicyDays30, PIIColumns: []string{"email", "display_name", "phone_number"}},

		// Operational clinic data: anonymized, body kept for reporting
		{Table: "appointments", Policy: PolicyMonths6, PIIColumns: []string{"email", "display_name", "phone_number"}},
		{Table: "exercise_logs", Policy: PolicyMonths6},
		{Table: "exercise_prescriptions", Policy: PolicyYear1},
		{Table: "pain_diary_entries", Policy: PolicyYear1},

		// Fiscal records: five-year statutory bookkeeping retention
		{Table: "payments", Policy: PolicyYears5},
		{Table: "invoices", Policy: PolicyYears5},

		// Clinical records: preserved in full, flagged only
		{Table: "medical_records", Policy: PolicyMedical},
		{Table: "clinical_evolutions", Policy: PolicyMedical},
		{Table: "body_assessments", Policy: PolicyMedical},
	}
}

// ValidateSchedule checks that a schedule maps each table to exactly one
// policy. Call at startup so a bad edit fails loudly.
func ValidateSchedule(schedule []CollectionPolicy) error {
	seen := make(map[string]struct{}, len(schedule))
	for _, cp := range schedule {
		if cp.Table == "" {
			return fmt.Errorf("retention schedule entry with empty table name")
		}
		if _, dup := seen[cp.Table]; dup {
			return fmt.Errorf("table %q appears twice in retention schedule", cp.Table)
		}
		seen[cp.Table] = struct{}{}
		if cp.Policy.Name == "" {
			return fmt.Errorf("table %q has no policy", cp.Table)
		}
		if len(cp.PIIColumns) > 0 && cp.Policy.Fate != FateAnonymize {
			return fmt.Errorf("table %q lists PII columns but policy %s does not anonymize them", cp.Table, cp.Policy.Name)
		}
	}
	return nil
}

// AnonymousUserID returns a synthetic user identifier used to replace the
// real user_id on anonymized rows. Unique per invocation so anonymized rows
// from different erasure runs cannot be re-linked to each other.
func AnonymousUserID() string {
	short := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return "deleted_user_" + short
}

// MarkedForDeletion computes the future hard-deletion horizon for
// FateAnonymizeRetain records.
func (p RetentionPolicy) MarkedForDeletion(now time.Time) time.Time {
	return now.AddDate(0, 0, p.HorizonDays)
}
