package discipline

import (
	"time"

	"github.com/warp/attendance-engine/calendar"
)

// ValidateRule rejects rules that cannot produce a valid record.
func ValidateRule(r ActionRule) error {
	switch {
	case r.ID == "":
		return &ConfigError{Reason: "rule id is required"}
	case !r.TriggerType.Valid():
		return &ConfigError{RuleID: r.ID, Reason: "unknown trigger type " + string(r.TriggerType)}
	case r.TriggerCount < 1:
		return &ConfigError{RuleID: r.ID, Reason: "trigger count must be at least 1"}
	case r.PeriodDays < 1:
		return &ConfigError{RuleID: r.ID, Reason: "period days must be at least 1"}
	case r.ActionType.Severity() == 0:
		return &ConfigError{RuleID: r.ID, Reason: "unknown action type " + string(r.ActionType)}
	case r.ActionType == ActionSuspension && (r.SuspensionDays == nil || *r.SuspensionDays < 1):
		return &ConfigError{RuleID: r.ID, Reason: "suspension requires suspension days"}
	case r.ValidityDays != nil && *r.ValidityDays < 1:
		return &ConfigError{RuleID: r.ID, Reason: "validity days must be at least 1"}
	}
	return nil
}

// validateRecord enforces the fields a record of its action type must carry.
func validateRecord(rec Record) error {
	if rec.ActionType == ActionSuspension &&
		(rec.SuspensionDays == nil || rec.EffectiveDate == nil || rec.ExpirationDate == nil) {
		return &ConfigError{RuleID: rec.RuleID, Reason: "suspension record requires suspension days, effective and expiration dates"}
	}
	return nil
}

// schedule fills the effective and expiration dates for a record applied on day.
func schedule(rule ActionRule, rec *Record, applied calendar.Day) {
	rec.AppliedDate = applied
	switch {
	case rule.ActionType == ActionSuspension && rule.SuspensionDays != nil:
		days := *rule.SuspensionDays
		effective := applied.AddDays(1)
		expiration := effective.AddDays(days - 1)
		rec.SuspensionDays = &days
		rec.EffectiveDate = &effective
		rec.ExpirationDate = &expiration
	case rule.ValidityDays != nil:
		effective := applied
		expiration := effective.AddDays(*rule.ValidityDays - 1)
		rec.EffectiveDate = &effective
		rec.ExpirationDate = &expiration
	default:
		effective := applied
		rec.EffectiveDate = &effective
	}
}

// Approve moves a pending record to ACTIVE.
func (r *Record) Approve(actor string, at time.Time) error {
	return r.transition(StatePending, StateActive, actor, at)
}

// Reject moves a pending record to CANCELLED.
func (r *Record) Reject(actor string, at time.Time) error {
	return r.transition(StatePending, StateCancelled, actor, at)
}

// Complete moves an active record to COMPLETED once today is past its
// expiration date.
func (r *Record) Complete(today calendar.Day, at time.Time) error {
	if r.ExpirationDate == nil || !today.After(*r.ExpirationDate) {
		return &TransitionError{RecordID: r.ID, From: r.State, To: StateCompleted}
	}
	return r.transition(StateActive, StateCompleted, "", at)
}

// Expired reports whether an active record's expiration date has passed.
func (r Record) Expired(today calendar.Day) bool {
	return r.State == StateActive && r.ExpirationDate != nil && today.After(*r.ExpirationDate)
}

func (r *Record) transition(from, to State, actor string, at time.Time) error {
	if r.State != from {
		return &TransitionError{RecordID: r.ID, From: r.State, To: to}
	}
	r.State = to
	if actor != "" {
		r.DecidedBy = actor
		r.DecidedAt = &at
	}
	r.UpdatedAt = at
	return nil
}
