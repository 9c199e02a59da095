package models

import (
	"errors"
	"fmt"
	"strings"
)

// RetentionPolicy determines how many backups of each calendar bucket to
// keep for a server. A zero count disables that bucket.
type RetentionPolicy struct {
	KeepDaily   int `json:"keep_daily"`
	KeepWeekly  int `json:"keep_weekly"`
	KeepMonthly int `json:"keep_monthly"`
	KeepYearly  int `json:"keep_yearly"`
	// MaxTotalBytes caps total stored bytes for the server; 0 means no cap.
	// When the cap is exceeded after count-based selection, pruning extends
	// oldest first.
	MaxTotalBytes int64 `json:"max_total_bytes,omitempty"`
}

// Validate checks the policy configuration.
func (p *RetentionPolicy) Validate() error {
	if p.KeepDaily <= 0 && p.KeepWeekly <= 0 && p.KeepMonthly <= 0 && p.KeepYearly <= 0 {
		return errors.New("at least one retention rule must be specified")
	}
	if p.KeepDaily < 0 {
		return errors.New("keep_daily cannot be negative")
	}
	if p.KeepWeekly < 0 {
		return errors.New("keep_weekly cannot be negative")
	}
	if p.KeepMonthly < 0 {
		return errors.New("keep_monthly cannot be negative")
	}
	if p.KeepYearly < 0 {
		return errors.New("keep_yearly cannot be negative")
	}
	if p.MaxTotalBytes < 0 {
		return errors.New("max_total_bytes cannot be negative")
	}
	return nil
}

// String returns a human-readable description of the policy.
func (p *RetentionPolicy) String() string {
	var parts []string
	if p.KeepDaily > 0 {
		parts = append(parts, fmt.Sprintf("%d daily", p.KeepDaily))
	}
	if p.KeepWeekly > 0 {
		parts = append(parts, fmt.Sprintf("%d weekly", p.KeepWeekly))
	}
	if p.KeepMonthly > 0 {
		parts = append(parts, fmt.Sprintf("%d monthly", p.KeepMonthly))
	}
	if p.KeepYearly > 0 {
		parts = append(parts, fmt.Sprintf("%d yearly", p.KeepYearly))
	}
	if p.MaxTotalBytes > 0 {
		parts = append(parts, fmt.Sprintf("max %d bytes", p.MaxTotalBytes))
	}
	if len(parts) == 0 {
		return "empty retention policy"
	}
	return "keep: " + strings.Join(parts, ", ")
}
