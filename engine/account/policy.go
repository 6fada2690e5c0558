package account

import (
	"math"
	"sort"
	"time"
)

// Plan is the C7 output for one selected account: how much of the
// budget it gets and why, to aid debugging (§4.7).
type Plan struct {
	Handle           string
	AllocatedRequests int
	Reason           string
}

// PolicyOpts tunes the rotation policy.
type PolicyOpts struct {
	// MinViableAllocation is the minimum request allocation an account
	// must receive to be worth selecting at all.
	MinViableAllocation int
	// CooldownThreshold is the consecutive-failure count that excludes
	// an account from rotation.
	CooldownThreshold int
	// CooldownWindow bounds how long the exclusion lasts after the
	// last attempt, so a cooling-down account eventually re-enters
	// rotation instead of being starved forever.
	CooldownWindow time.Duration
}

// DefaultPolicyOpts mirrors the spec's worked example (B=10).
var DefaultPolicyOpts = PolicyOpts{
	MinViableAllocation: 1,
	CooldownThreshold:   5,
	CooldownWindow:      time.Hour,
}

// Policy implements the deterministic account rotation algorithm of §4.7.
type Policy struct {
	opts PolicyOpts
	now  func() time.Time
}

// NewPolicy builds a Policy, filling zero-valued opts from DefaultPolicyOpts.
func NewPolicy(opts PolicyOpts) *Policy {
	if opts.MinViableAllocation <= 0 {
		opts.MinViableAllocation = DefaultPolicyOpts.MinViableAllocation
	}
	if opts.CooldownThreshold <= 0 {
		opts.CooldownThreshold = DefaultPolicyOpts.CooldownThreshold
	}
	if opts.CooldownWindow <= 0 {
		opts.CooldownWindow = DefaultPolicyOpts.CooldownWindow
	}
	return &Policy{opts: opts, now: time.Now}
}

// Plan selects which accounts run this tick and how much budget each
// gets. Selection is deterministic: score, sort, take top accounts
// until minimum allocations exhaust B, then distribute the remainder
// proportional to priority.
func (p *Policy) Plan(budget int, states []State) []Plan {
	now := p.now()
	eligible := make([]State, 0, len(states))
	for _, st := range states {
		if p.onCooldown(st, now) {
			continue
		}
		eligible = append(eligible, st)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return p.score(eligible[i], now) > p.score(eligible[j], now)
	})

	var selected []State
	spent := 0
	for _, st := range eligible {
		if spent+p.opts.MinViableAllocation > budget {
			break
		}
		selected = append(selected, st)
		spent += p.opts.MinViableAllocation
	}
	if len(selected) == 0 {
		return nil
	}

	remaining := budget - spent
	totalWeight := 0.0
	for _, st := range selected {
		totalWeight += st.Priority.weight()
	}

	plans := make([]Plan, len(selected))
	for i, st := range selected {
		extra := 0
		if totalWeight > 0 && remaining > 0 {
			extra = int(math.Floor(float64(remaining) * st.Priority.weight() / totalWeight))
		}
		plans[i] = Plan{
			Handle:            st.Handle,
			AllocatedRequests: p.opts.MinViableAllocation + extra,
			Reason:            reasonFor(st, now),
		}
	}

	// Floor division can leave a few requests undistributed; hand them
	// to the highest-scoring accounts so the full budget is used.
	used := 0
	for _, pl := range plans {
		used += pl.AllocatedRequests
	}
	for i := 0; used < budget && i < len(plans); i++ {
		plans[i].AllocatedRequests++
		used++
	}

	return plans
}

func (p *Policy) onCooldown(st State, now time.Time) bool {
	if st.ConsecutiveFailures < p.opts.CooldownThreshold {
		return false
	}
	return now.Sub(st.LastAttemptedAt) < p.opts.CooldownWindow
}

// score combines priority (dominant), staleness of last attempt
// (tie-breaker that grows unbounded so no account starves forever),
// a hasMoreData boost, and a bounded failure penalty.
func (p *Policy) score(st State, now time.Time) float64 {
	priorityScore := st.Priority.weight() * 1000

	staleness := 0.0
	if !st.LastAttemptedAt.IsZero() {
		staleness = now.Sub(st.LastAttemptedAt).Minutes()
	} else {
		staleness = math.MaxFloat32 // never attempted: maximize staleness
	}

	moreDataBoost := 0.0
	if st.HasMoreData {
		moreDataBoost = 50
	}

	failurePenalty := math.Min(float64(st.ConsecutiveFailures)*2, 20)

	return priorityScore + staleness + moreDataBoost - failurePenalty
}

func reasonFor(st State, now time.Time) string {
	if st.LastAttemptedAt.IsZero() {
		return "never attempted"
	}
	if st.HasMoreData {
		return "favored: has more data from last run"
	}
	return "staleness " + now.Sub(st.LastAttemptedAt).Round(time.Second).String() + " since last attempt"
}
