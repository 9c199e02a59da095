package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationStatus is the overall outcome of a verification run.
type VerificationStatus string

const (
	// VerificationStatusPassed indicates every check passed.
	VerificationStatusPassed VerificationStatus = "passed"
	// VerificationStatusWarning indicates only non-critical checks failed.
	VerificationStatusWarning VerificationStatus = "warning"
	// VerificationStatusFailed indicates at least one critical check failed.
	VerificationStatusFailed VerificationStatus = "failed"
)

// Names of the individual checks a verification run performs.
const (
	CheckChecksumMatch        = "checksum_match"
	CheckManifestCompleteness = "manifest_completeness"
	CheckRestorabilityProbe   = "restorability_probe"
)

// CheckStatus is the outcome of a single check.
type CheckStatus string

const (
	CheckStatusPassed  CheckStatus = "passed"
	CheckStatusWarning CheckStatus = "warning"
	CheckStatusFailed  CheckStatus = "failed"
)

// VerificationCheck is one individual check within a verification run.
type VerificationCheck struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// VerificationResult records one verification run against a backup.
// Verification never mutates the backup; it is purely diagnostic.
type VerificationResult struct {
	ID          uuid.UUID           `json:"id"`
	BackupID    uuid.UUID           `json:"backup_id"`
	Status      VerificationStatus  `json:"status"`
	Checks      []VerificationCheck `json:"checks"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
}

// NewVerificationResult creates a result for the given backup.
func NewVerificationResult(backupID uuid.UUID, startedAt time.Time) *VerificationResult {
	return &VerificationResult{
		ID:        uuid.New(),
		BackupID:  backupID,
		StartedAt: startedAt,
	}
}

// AddCheck appends an individual check outcome.
func (v *VerificationResult) AddCheck(name string, status CheckStatus, detail string) {
	v.Checks = append(v.Checks, VerificationCheck{Name: name, Status: status, Detail: detail})
}

// Finalize computes the overall status from the recorded checks: Passed only
// if all checks passed, Warning if the worst outcome is a warning, Failed
// otherwise.
func (v *VerificationResult) Finalize(completedAt time.Time) {
	v.CompletedAt = completedAt
	v.Status = VerificationStatusPassed
	for _, c := range v.Checks {
		switch c.Status {
		case CheckStatusFailed:
			v.Status = VerificationStatusFailed
			return
		case CheckStatusWarning:
			v.Status = VerificationStatusWarning
		}
	}
}
