package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func validConfig() BackupConfig {
	return BackupConfig{DataClasses: []DataClass{DataClassGameFiles}}
}

func TestNewBackupScheduleComputesNextRun(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	s, err := NewBackupSchedule(uuid.New(), uuid.New(), "0 3 * * *", BackupKindFull, validConfig(), RetentionPolicy{KeepDaily: 7}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	if s.NextRunAt == nil || !s.NextRunAt.Equal(want) {
		t.Fatalf("NextRunAt = %v, want %v", s.NextRunAt, want)
	}
	if !s.Enabled {
		t.Error("new schedule should be enabled")
	}
}

func TestScheduleValidate(t *testing.T) {
	base := BackupSchedule{
		CronExpr:      "*/15 * * * *",
		Kind:          BackupKindIncremental,
		DefaultConfig: validConfig(),
	}

	t.Run("valid", func(t *testing.T) {
		s := base
		if err := s.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("bad cron", func(t *testing.T) {
		s := base
		s.CronExpr = "not a cron"
		if err := s.Validate(); err == nil {
			t.Fatal("expected error for invalid cron expression")
		}
	})

	t.Run("bad kind", func(t *testing.T) {
		s := base
		s.Kind = "snapshot"
		if err := s.Validate(); err == nil {
			t.Fatal("expected error for unknown kind")
		}
	})

	t.Run("descriptor", func(t *testing.T) {
		s := base
		s.CronExpr = "@daily"
		if err := s.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestScheduleDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	s, err := NewBackupSchedule(uuid.New(), uuid.New(), "0 3 * * *", BackupKindFull, validConfig(), RetentionPolicy{KeepDaily: 7}, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Due(now) {
		t.Error("schedule should be due at its next run time")
	}
	if s.Due(now.Add(-time.Minute)) {
		t.Error("schedule should not be due before its next run time")
	}

	s.Disable()
	if s.Due(now) {
		t.Error("disabled schedule must never be due")
	}
	if s.NextRunAt != nil {
		t.Error("disabled schedule should have no next run")
	}
}

func TestScheduleRecordRunAdvancesDeterministically(t *testing.T) {
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	s, err := NewBackupSchedule(uuid.New(), uuid.New(), "0 3 * * *", BackupKindFull, validConfig(), RetentionPolicy{KeepDaily: 7}, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.RecordRun(ScheduleOutcomeSkippedBusy, "", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	if s.NextRunAt == nil || !s.NextRunAt.Equal(want) {
		t.Fatalf("NextRunAt = %v, want %v", s.NextRunAt, want)
	}
	if s.LastOutcome != ScheduleOutcomeSkippedBusy {
		t.Errorf("LastOutcome = %s", s.LastOutcome)
	}

	// Idempotent under retries: evaluating again with the same now yields the
	// same next run.
	if err := s.RecordRun(ScheduleOutcomeSkippedBusy, "", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.NextRunAt.Equal(want) {
		t.Fatalf("recurrence evaluation is not deterministic: %v", s.NextRunAt)
	}

	// Next run is always in the future relative to the evaluation time.
	if !s.NextRunAt.After(now) {
		t.Error("next run must be in the future")
	}
}

func TestRetentionPolicyValidate(t *testing.T) {
	t.Run("no rules", func(t *testing.T) {
		p := RetentionPolicy{}
		if err := p.Validate(); err == nil {
			t.Fatal("expected error for empty policy")
		}
	})

	t.Run("negative", func(t *testing.T) {
		p := RetentionPolicy{KeepDaily: -1, KeepWeekly: 4}
		if err := p.Validate(); err == nil {
			t.Fatal("expected error for negative keep_daily")
		}
	})

	t.Run("valid", func(t *testing.T) {
		p := RetentionPolicy{KeepDaily: 7, KeepWeekly: 4, KeepMonthly: 6, KeepYearly: 1, MaxTotalBytes: 1 << 30}
		if err := p.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestVerificationResultFinalize(t *testing.T) {
	now := time.Now()

	t.Run("all passed", func(t *testing.T) {
		v := NewVerificationResult(uuid.New(), now)
		v.AddCheck(CheckChecksumMatch, CheckStatusPassed, "")
		v.AddCheck(CheckManifestCompleteness, CheckStatusPassed, "")
		v.Finalize(now)
		if v.Status != VerificationStatusPassed {
			t.Errorf("status = %s", v.Status)
		}
	})

	t.Run("warning wins over passed", func(t *testing.T) {
		v := NewVerificationResult(uuid.New(), now)
		v.AddCheck(CheckChecksumMatch, CheckStatusPassed, "")
		v.AddCheck(CheckManifestCompleteness, CheckStatusWarning, "size drift within tolerance")
		v.Finalize(now)
		if v.Status != VerificationStatusWarning {
			t.Errorf("status = %s", v.Status)
		}
	})

	t.Run("failed wins over warning", func(t *testing.T) {
		v := NewVerificationResult(uuid.New(), now)
		v.AddCheck(CheckChecksumMatch, CheckStatusWarning, "")
		v.AddCheck(CheckManifestCompleteness, CheckStatusFailed, "missing file")
		v.Finalize(now)
		if v.Status != VerificationStatusFailed {
			t.Errorf("status = %s", v.Status)
		}
	})
}
