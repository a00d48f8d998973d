// Package services – IdentityService
//
// This file implements the identity reconciler: it keeps every local user's
// employee name and status in line with the directory of record and makes
// sure an employee who is active in the directory has at most one active
// phone locally. It also hosts Identify, the chat-side entrypoint that
// creates a user on first successful identification.
package services

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-staff-assistant/internal/domain"
	"github.com/tbourn/go-staff-assistant/internal/repo"
	"github.com/tbourn/go-staff-assistant/internal/utils"
)

// DirectoryEntry is one employee row of the directory snapshot.
type DirectoryEntry struct {
	EmployeeName string
	Phone        string // normalized
	Status       string // raw directory literal
	Active       bool
}

// directorySnapshot indexes the directory by normalized phone and by name.
// When several rows share a key, an active row wins over an inactive one and
// the first row wins otherwise.
type directorySnapshot struct {
	byPhone map[string]DirectoryEntry
	byName  map[string]DirectoryEntry
}

func (d directorySnapshot) add(e DirectoryEntry) {
	if e.Phone != "" {
		if cur, ok := d.byPhone[e.Phone]; !ok || (!cur.Active && e.Active) {
			d.byPhone[e.Phone] = e
		}
	}
	if e.EmployeeName != "" {
		if cur, ok := d.byName[e.EmployeeName]; !ok || (!cur.Active && e.Active) {
			d.byName[e.EmployeeName] = e
		}
	}
}

// IdentityReport summarizes one reconciliation cycle.
type IdentityReport struct {
	Users       int
	Renamed     int
	Activated   int
	Deactivated int
	Failed      int
}

// IdentityService reconciles local users against the directory.
type IdentityService struct {
	Dir   Directory
	Store Store
	Clock Clock

	// ActiveStatuses are the directory status literals that mean "employed",
	// compared case-insensitively.
	ActiveStatuses []string
}

func (s *IdentityService) isActive(status string) bool {
	status = strings.TrimSpace(status)
	for _, a := range s.ActiveStatuses {
		if strings.EqualFold(status, strings.TrimSpace(a)) {
			return true
		}
	}
	return false
}

func (s *IdentityService) loadDirectory(ctx context.Context) (directorySnapshot, error) {
	snap := directorySnapshot{
		byPhone: map[string]DirectoryEntry{},
		byName:  map[string]DirectoryEntry{},
	}
	table, err := s.Dir.Execute(ctx, directoryQuery)
	if err != nil {
		return snap, err
	}
	for _, row := range table {
		e := DirectoryEntry{
			EmployeeName: row.String(colEmployee),
			Phone:        utils.NormalizePhone(row.String(colPhone)),
			Status:       row.String(colStatus),
		}
		e.Active = s.isActive(e.Status)
		snap.add(e)
	}
	return snap, nil
}

// desiredUser is the planned state for one local user.
type desiredUser struct {
	user         domain.User
	employeeName string
	status       string
}

// planIdentity computes the target name and status of every user without
// touching the store. The per-employee grouping pass decides the final
// status; the per-phone pass only contributes renames.
func planIdentity(users []domain.User, snap directorySnapshot) []desiredUser {
	plan := make([]desiredUser, len(users))

	// Pass 1: per user, by phone.
	for i, u := range users {
		d := desiredUser{user: u, employeeName: u.EmployeeName, status: domain.StatusDeleted}
		if e, ok := snap.byPhone[utils.NormalizePhone(u.PhoneNumber)]; ok {
			if e.EmployeeName != "" && e.EmployeeName != u.EmployeeName {
				d.employeeName = e.EmployeeName
			}
			if e.Active {
				d.status = domain.StatusActive
			}
		}
		plan[i] = d
	}

	// Pass 2: per employee, exactly the directory's phone stays active.
	groups := make(map[string][]int)
	for i, d := range plan {
		groups[d.employeeName] = append(groups[d.employeeName], i)
	}
	for name, idx := range groups {
		e, ok := snap.byName[name]
		for _, i := range idx {
			switch {
			case !ok || name == "", e.Phone == "", !e.Active:
				plan[i].status = domain.StatusDeleted
			case utils.SamePhone(plan[i].user.PhoneNumber, e.Phone):
				plan[i].status = domain.StatusActive
			default:
				plan[i].status = domain.StatusDeleted
			}
		}
	}
	return plan
}

// Reconcile runs one identity cycle. A directory failure aborts the cycle;
// a failure on one user is logged and the cycle continues.
func (s *IdentityService) Reconcile(ctx context.Context) (IdentityReport, error) {
	tr := otel.Tracer("services/IdentityService")
	ctx, span := tr.Start(ctx, "Reconcile")
	defer span.End()

	var rep IdentityReport
	snap, err := s.loadDirectory(ctx)
	if err != nil {
		return rep, err
	}
	users, err := s.Store.AllUsers(ctx)
	if err != nil {
		return rep, storeErr("load users", err)
	}
	rep.Users = len(users)
	span.SetAttributes(attribute.Int("users", len(users)), attribute.Int("directory.size", len(snap.byName)))

	lg := loggerFrom(ctx)
	now := s.Clock.Now()
	for _, d := range planIdentity(users, snap) {
		u := d.user
		if d.employeeName == u.EmployeeName && d.status == u.Status {
			continue
		}
		if _, err := s.Store.ApplyUserStatus(ctx, u.PhoneNumber, d.employeeName, d.status, now); err != nil {
			rep.Failed++
			lg.Warn().Err(err).Str("phone", u.PhoneNumber).Msg("identity update failed")
			continue
		}
		if d.employeeName != u.EmployeeName {
			rep.Renamed++
		}
		switch {
		case u.Status != domain.StatusActive && d.status == domain.StatusActive:
			rep.Activated++
		case u.Status == domain.StatusActive && d.status == domain.StatusDeleted:
			rep.Deactivated++
		}
	}
	syncRowsTotal.WithLabelValues("identity", "activated").Add(float64(rep.Activated))
	syncRowsTotal.WithLabelValues("identity", "deactivated").Add(float64(rep.Deactivated))
	syncRowsTotal.WithLabelValues("identity", "renamed").Add(float64(rep.Renamed))
	return rep, nil
}

// Identify binds a chat account to the employee owning phone. The phone must
// belong to an active directory employee; any other active phone of that
// employee is deactivated so the employee keeps a single active user.
func (s *IdentityService) Identify(ctx context.Context, phone string, telegramID int64, telegramName string) (*domain.User, error) {
	tr := otel.Tracer("services/IdentityService")
	ctx, span := tr.Start(ctx, "Identify",
		trace.WithAttributes(attribute.Int64("telegram.id", telegramID)),
	)
	defer span.End()

	norm := utils.NormalizePhone(phone)
	if norm == "" {
		return nil, ErrNotInDirectory
	}
	snap, err := s.loadDirectory(ctx)
	if err != nil {
		return nil, err
	}
	e, ok := snap.byPhone[norm]
	if !ok || !e.Active || e.EmployeeName == "" {
		return nil, ErrNotInDirectory
	}
	if owner, ok := snap.byName[e.EmployeeName]; ok && !utils.SamePhone(owner.Phone, norm) {
		return nil, ErrNotInDirectory
	}

	now := s.Clock.Now()
	byName, err := s.Store.UsersByEmployeeName(ctx)
	if err != nil {
		return nil, storeErr("load users by employee", err)
	}
	for _, u := range byName[e.EmployeeName] {
		if u.Status == domain.StatusActive && u.PhoneNumber != norm {
			if _, err := s.Store.ApplyUserStatus(ctx, u.PhoneNumber, u.EmployeeName, domain.StatusDeleted, now); err != nil {
				return nil, storeErr("deactivate previous phone", err)
			}
		}
	}

	existing, err := s.Store.UserByPhone(ctx, norm)
	switch {
	case err == nil && existing.Status != domain.StatusActive:
		if _, err := s.Store.ApplyUserStatus(ctx, norm, e.EmployeeName, domain.StatusActive, now); err != nil {
			return nil, storeErr("reactivate user", err)
		}
	case err != nil && !repo.IsNotFound(err):
		return nil, storeErr("load user", err)
	}

	u, err := s.Store.UpsertUser(ctx, norm, telegramID, telegramName, e.EmployeeName, domain.StatusActive, now)
	if err != nil {
		return nil, storeErr("upsert user", err)
	}
	return u, nil
}
