package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nhle/signoff/internal/model"
	"github.com/nhle/signoff/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// Clock is a settable time source for services under test.
type Clock struct {
	T time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time { return c.T }

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// Fixture user ids seeded by Seed.
const (
	AdminID      = "u-admin"
	StaffID      = "u-staff"
	AccountantID = "u-accountant"
	ContractorID = "u-contractor"
	CuratorID    = "u-curator"
	ManagerID    = "u-manager"
	ContractID   = "c-1"
	ReportID     = "r-1"
)

// Fixture describes the seeded directory.
type Fixture struct {
	Contract model.Contract
	Report   model.ProgressReport
}

// SeedUser inserts an active user with email enabled and the given roles.
func SeedUser(t *testing.T, s store.Store, id string, roles ...model.Role) model.User {
	t.Helper()

	u := model.User{
		ID:              id,
		Name:            id,
		Email:           id + "@example.com",
		Active:          true,
		EmailEnabled:    true,
		TelegramEnabled: true,
	}
	ctx := context.Background()
	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatalf("seeding user %s: %v", id, err)
	}
	if err := s.SetUserRoles(ctx, id, roles); err != nil {
		t.Fatalf("seeding roles for %s: %v", id, err)
	}
	u.Roles = roles
	return u
}

// Seed inserts one user per role, a curator and a project manager (both
// staff), a contract worth 10000.00 USD and a draft report at 40% dated at.
func Seed(t *testing.T, s store.Store, at time.Time) Fixture {
	t.Helper()
	ctx := context.Background()

	SeedUser(t, s, AdminID, model.RoleAdministrator)
	SeedUser(t, s, StaffID, model.RoleStaff)
	SeedUser(t, s, AccountantID, model.RoleAccountant)
	SeedUser(t, s, ContractorID, model.RoleContractor)
	SeedUser(t, s, CuratorID, model.RoleStaff)
	SeedUser(t, s, ManagerID, model.RoleStaff)

	curator, manager := CuratorID, ManagerID
	c := model.Contract{
		ID:               ContractID,
		Number:           "CN-2024-001",
		ContractorName:   "Acme Builders",
		BaseAmount:       decimal.RequireFromString("10000.00"),
		Currency:         "USD",
		CuratorID:        &curator,
		ProjectManagerID: &manager,
	}
	if err := s.UpsertContract(ctx, c); err != nil {
		t.Fatalf("seeding contract: %v", err)
	}

	r := model.ProgressReport{
		ID:               ReportID,
		ContractID:       c.ID,
		ReportDate:       at,
		CompletedPercent: decimal.RequireFromString("40"),
		Status:           model.ReportDraft,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
	if err := s.CreateReport(ctx, &r); err != nil {
		t.Fatalf("seeding report: %v", err)
	}

	return Fixture{Contract: c, Report: r}
}
