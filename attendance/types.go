/*
Package attendance models attendance sessions and closes forgotten ones.

PURPOSE:
  An AttendanceSession is one employee's check-in for one civil day. When the
  employee never checks out, the AutoCheckout engine closes the session at
  the scheduled shift end once the grace period has elapsed.

KEY INVARIANTS:
  1. At most one open session per (employee, day).
  2. CheckOut, once set, is >= CheckIn.
  3. A session is closed exactly once: every close goes through
     Store.CloseSessionIfOpen, a conditional write gated on check-out being
     NULL. Manual check-out and the auto-checkout batch share that path.
  4. Session.Day was written from the same calendar.Clock frame that the
     engine uses to look up the shift period for that day's weekday.

SEE ALSO:
  - autocheckout.go: the batch engine
  - service.go: manual check-in/check-out
  - calendar/: the single reference frame
*/
package attendance

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/calendar"
)

// Method records how a check-in or check-out was captured.
type Method string

const (
	MethodManual    Method = "MANUAL"
	MethodAuto      Method = "AUTO"
	MethodBiometric Method = "BIOMETRIC"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodManual, MethodAuto, MethodBiometric:
		return true
	}
	return false
}

// Status is the derived state of a session.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusComplete   Status = "COMPLETE"
	StatusAutoClosed Status = "AUTO_CLOSED"
	StatusAbnormal   Status = "ABNORMAL"
)

// Session is one employee's attendance record for one civil day.
type Session struct {
	ID             string
	EmployeeID     string
	ShiftID        string // empty when the employee has no assigned shift
	Day            calendar.Day
	CheckIn        time.Time
	CheckOut       *time.Time
	CheckInMethod  Method
	CheckOutMethod Method
	WorkedHours    *decimal.Decimal
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsOpen reports whether the session still lacks a check-out.
func (s Session) IsOpen() bool { return s.CheckOut == nil }

// CloseRequest carries everything a conditional close writes.
type CloseRequest struct {
	CheckOut    time.Time
	Method      Method
	WorkedHours decimal.Decimal
	Status      Status
}
