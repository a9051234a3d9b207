package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/attendance-engine/calendar"
)

// Service handles manual and biometric check-in/check-out. Its check-out
// races the auto-checkout engine on the same conditional write.
type Service struct {
	Store       SessionStore
	Clock       *calendar.Clock
	UnpaidBreak time.Duration
}

// NewService creates a Service.
func NewService(store SessionStore, clock *calendar.Clock, unpaidBreak time.Duration) *Service {
	return &Service{Store: store, Clock: clock, UnpaidBreak: unpaidBreak}
}

// CheckIn opens a session for the civil day at falls on.
func (s *Service) CheckIn(ctx context.Context, employeeID string, at time.Time, method Method) (*Session, error) {
	if !method.Valid() || method == MethodAuto {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}

	day := s.Clock.DayOf(at)

	existing, err := s.Store.FindSession(ctx, employeeID, day)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if existing != nil && existing.IsOpen() {
		return nil, ErrSessionOpen
	}

	var shiftID string
	period, err := s.Store.FindShiftPeriod(ctx, employeeID, day.Weekday())
	if err != nil {
		return nil, fmt.Errorf("find shift period: %w", err)
	}
	if period != nil {
		shiftID = period.ShiftID
	}

	now := s.Clock.Now()
	session := Session{
		ID:            uuid.NewString(),
		EmployeeID:    employeeID,
		ShiftID:       shiftID,
		Day:           day,
		CheckIn:       at,
		CheckInMethod: method,
		Status:        StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CheckOut closes the employee's open session. The session of the previous
// day is considered too, so an overnight shift can be closed after midnight.
func (s *Service) CheckOut(ctx context.Context, employeeID string, at time.Time, method Method) (*Session, error) {
	if !method.Valid() || method == MethodAuto {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}

	day := s.Clock.DayOf(at)
	var open *Session
	for _, d := range []calendar.Day{day, day.AddDays(-1)} {
		sess, err := s.Store.FindSession(ctx, employeeID, d)
		if err != nil {
			return nil, fmt.Errorf("find session: %w", err)
		}
		if sess != nil && sess.IsOpen() {
			open = sess
			break
		}
	}
	if open == nil {
		return nil, ErrNoOpenSession
	}
	if at.Before(open.CheckIn) {
		return nil, &CheckOutBeforeCheckInError{
			SessionID: open.ID,
			CheckIn:   open.CheckIn.Format(time.RFC3339),
			CheckOut:  at.Format(time.RFC3339),
		}
	}

	req := CloseRequest{
		CheckOut:    at,
		Method:      method,
		WorkedHours: WorkedHours(open.CheckIn, at, s.UnpaidBreak),
		Status:      StatusComplete,
	}
	ok, err := s.Store.CloseSessionIfOpen(ctx, open.ID, req)
	if err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyClosed
	}

	open.CheckOut = &req.CheckOut
	open.CheckOutMethod = req.Method
	open.WorkedHours = &req.WorkedHours
	open.Status = req.Status
	return open, nil
}
