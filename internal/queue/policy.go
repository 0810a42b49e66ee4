package queue

import (
	"fmt"
)

// Scheduling policies. The policy is fixed at startup and never changes
// mid-run.
const (
	PolicySequential Policy = "sequential"
	PolicyConcurrent Policy = "concurrent"
	PolicyLimited    Policy = "limited"
)

type Policy string

// DefaultLimit is the active-set cap used by the limited policy when no
// limit is configured.
const DefaultLimit = 3

// Controller enforces the scheduling policy: it decides how many jobs may
// be active at once. Admission itself (always the oldest pending job)
// is driven by the manager under its single-writer discipline.
type Controller struct {
	policy Policy
	limit  int
}

// NewController validates the policy and returns a controller. The limit
// is only meaningful for PolicyLimited.
func NewController(policy Policy, limit int) (*Controller, error) {
	switch policy {
	case PolicySequential:
		return &Controller{policy: policy, limit: 1}, nil
	case PolicyConcurrent:
		return &Controller{policy: policy, limit: 0}, nil
	case PolicyLimited:
		if limit <= 0 {
			limit = DefaultLimit
		}
		return &Controller{policy: policy, limit: limit}, nil
	}
	return nil, fmt.Errorf("unknown scheduling policy %q", policy)
}

// Policy returns the active scheduling policy.
func (c *Controller) Policy() Policy {
	return c.policy
}

// MaxActive returns the active-set cap, 0 meaning unlimited.
func (c *Controller) MaxActive() int {
	return c.limit
}

// CanAdmit reports whether another job may become active given the
// current active-set size.
func (c *Controller) CanAdmit(active int) bool {
	return c.limit == 0 || active < c.limit
}
