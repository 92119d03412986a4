// Package promotion implements the decay policies and the state
// machine that gates whether a derived reflection may re-enter the
// canonical log.
package promotion

import (
	"fmt"
	"math"

	"github.com/fenwick/mnemon/internal/apperr"
)

// Decay policy names.
const (
	PolicySigmoid = "sigmoid"
	PolicyLinear  = "linear"
)

// Policy is a monotonically decreasing function of promotion depth. It
// serves double duty: as the eligibility gate for promotion and as a
// pure ranking multiplier during context compilation.
type Policy interface {
	// Gate returns the raw promotion probability at the given depth.
	Gate(depth int) float64
	// Weight returns the ranking multiplier, normalized so that
	// Weight(0) == 1.0 exactly.
	Weight(depth int) float64
	Name() string
}

// Sigmoid decays as 1/(1+exp(k*depth)). Higher k damps promotion
// chains faster: with k=2 the gate drops from 0.5 at depth 0 to ~0.12
// at depth 1.
type Sigmoid struct {
	K float64
}

func (s Sigmoid) Name() string { return PolicySigmoid }

func (s Sigmoid) Gate(depth int) float64 {
	return 1.0 / (1.0 + math.Exp(s.K*float64(depth)))
}

// Weight rescales the gate so depth 0 carries full weight. The raw
// sigmoid tops out at 0.5, so the ranking form doubles it.
func (s Sigmoid) Weight(depth int) float64 {
	return 2.0 / (1.0 + math.Exp(s.K*float64(depth)))
}

// Linear decays as max(0, 1 - depth/maxDepth).
type Linear struct {
	MaxDepth int
}

func (l Linear) Name() string { return PolicyLinear }

func (l Linear) Gate(depth int) float64 {
	if l.MaxDepth <= 0 {
		return 0
	}
	return math.Max(0, 1.0-float64(depth)/float64(l.MaxDepth))
}

func (l Linear) Weight(depth int) float64 {
	return l.Gate(depth)
}

// NewPolicy builds a decay policy by name.
func NewPolicy(name string, k float64, maxDepth int) (Policy, error) {
	switch name {
	case PolicySigmoid, "":
		return Sigmoid{K: k}, nil
	case PolicyLinear:
		return Linear{MaxDepth: maxDepth}, nil
	default:
		return nil, fmt.Errorf("%w: unknown decay policy %q", apperr.ErrInvalidRequest, name)
	}
}
