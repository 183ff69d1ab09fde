package approval

import (
	"context"
	"fmt"

	"github.com/nhle/signoff/internal/model"
)

// Stage names the approval step a follow-up task is routed for. It is
// the status the report has just entered.
type Stage string

const (
	// StageReview routes the project manager's review of a submitted report.
	StageReview Stage = "review"
	// StageDirector routes the director sign-off after manager approval.
	StageDirector Stage = "director"
	// StagePayment routes confirmation of the payment created on approval.
	StagePayment Stage = "payment"
	// StageRework routes a rejected report back to the contract curator.
	StageRework Stage = "rework"
)

// Stages lists every routing stage.
var Stages = []Stage{StageReview, StageDirector, StagePayment, StageRework}

// RoleRouter picks the user who receives the follow-up task of a stage.
// Users are looked up through dir, which the workflow binds to the
// transition's transaction. It returns an error wrapping model.ErrNotFound
// when nobody qualifies.
type RoleRouter interface {
	ResolveApprover(ctx context.Context, dir Directory, stage Stage, contract model.Contract) (string, error)
}

// Directory finds users by role.
type Directory interface {
	FirstActiveUserWithRole(ctx context.Context, role model.Role) (*model.User, error)
}

// FirstActiveRouter routes review to the contract's project manager,
// director sign-off to the first active administrator, payment
// confirmation to the first active staff member and rework to the
// contract's curator.
type FirstActiveRouter struct{}

// ResolveApprover implements RoleRouter.
func (r *FirstActiveRouter) ResolveApprover(
	ctx context.Context,
	dir Directory,
	stage Stage,
	contract model.Contract,
) (string, error) {
	switch stage {
	case StageReview:
		return contractUser(contract.ProjectManagerID, "project manager", contract.ID)
	case StageRework:
		return contractUser(contract.CuratorID, "curator", contract.ID)
	case StageDirector:
		return firstWithRole(ctx, dir, model.RoleAdministrator)
	case StagePayment:
		return firstWithRole(ctx, dir, model.RoleStaff)
	default:
		return "", fmt.Errorf("unknown routing stage %q", stage)
	}
}

func firstWithRole(ctx context.Context, dir Directory, role model.Role) (string, error) {
	u, err := dir.FirstActiveUserWithRole(ctx, role)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func contractUser(id *string, what, contractID string) (string, error) {
	if id == nil || *id == "" {
		return "", model.NotFoundError(what+" of contract", contractID)
	}
	return *id, nil
}

// StaticRouter routes each stage to a fixed user and defers to Fallback
// for stages it has no entry for.
type StaticRouter struct {
	Users    map[Stage]string
	Fallback RoleRouter
}

// ResolveApprover implements RoleRouter.
func (r *StaticRouter) ResolveApprover(
	ctx context.Context,
	dir Directory,
	stage Stage,
	contract model.Contract,
) (string, error) {
	if id, ok := r.Users[stage]; ok && id != "" {
		return id, nil
	}
	if r.Fallback != nil {
		return r.Fallback.ResolveApprover(ctx, dir, stage, contract)
	}
	return "", model.NotFoundError("static route for stage", string(stage))
}

// NewRouter builds the router selected by cfg.
func NewRouter(cfg model.RoutingConfig) (RoleRouter, error) {
	first := &FirstActiveRouter{}
	switch cfg.Strategy {
	case "", "first_active":
		return first, nil
	case "static":
		users := make(map[Stage]string, len(cfg.Static))
		for _, stage := range Stages {
			if id := cfg.Static[string(stage)]; id != "" {
				users[stage] = id
			}
		}
		return &StaticRouter{Users: users, Fallback: first}, nil
	default:
		return nil, fmt.Errorf("unknown routing strategy %q", cfg.Strategy)
	}
}
