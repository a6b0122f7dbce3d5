// Package policy implements the policy evaluator (§4.7, component C7): a
// fixed pipeline — entity binding, path, operation, time window, source
// IP, then lease TTL cap — applied across every policy bound to a
// requesting entity, with an explicit deny anywhere overriding any number
// of allows.
package policy

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/gsmlg-dev/secrethub/internal/apperror"
	"github.com/gsmlg-dev/secrethub/internal/store"
	"github.com/gsmlg-dev/secrethub/internal/telemetry"
)

// Request is one access attempt to evaluate.
type Request struct {
	EntityType string
	EntityID   string
	Path       string
	Operation  string
	SourceIP   netip.Addr
	When       time.Time
	// RequestedTTL, in seconds, is the lease TTL the caller is asking
	// for. Nil means no TTL was requested (e.g. a plain secret read,
	// not a lease issuance), which always passes the TTL stage.
	RequestedTTL *int
}

// StepResult is one pipeline stage's verdict against one rule, returned
// for simulation mode (§4.7) so an operator can see exactly which stage
// decided the outcome.
type StepResult struct {
	PolicyName string `json:"policy_name"`
	Stage      string `json:"stage"`
	Matched    bool   `json:"matched"`
	Effect     Effect `json:"effect,omitempty"`
}

// Decision is the aggregate result of evaluating every bound policy.
type Decision struct {
	Allowed   bool         `json:"allowed"`
	Reason    string       `json:"reason"`
	MaxLeaseS *int         `json:"max_lease_seconds,omitempty"`
	Steps     []StepResult `json:"steps,omitempty"`
}

// bindingStore is the narrow slice of store.Queries the evaluator needs;
// *store.Queries satisfies it structurally, and tests can supply a plain
// in-memory fake instead.
type bindingStore interface {
	ListPoliciesForEntity(ctx context.Context, entityType, entityID string) ([]store.Policy, error)
}

// Evaluator evaluates policies bound to entities against access requests.
type Evaluator struct {
	queries bindingStore
	cache   *Cache // optional; nil disables memoization
}

// New builds an Evaluator. cache may be nil to disable memoization.
func New(queries bindingStore, cache *Cache) *Evaluator {
	return &Evaluator{queries: queries, cache: cache}
}

// Evaluate runs the fixed pipeline against every policy bound to the
// requesting entity and aggregates the verdicts: allow if at least one
// rule across any bound policy allows the request and no rule anywhere
// denies it; an explicit deny always wins regardless of how many
// policies would otherwise allow.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Decision, error) {
	if e.cache != nil {
		if cached, ok, err := e.cache.Get(ctx, req); err == nil && ok {
			return cached, nil
		}
	}

	policies, err := e.queries.ListPoliciesForEntity(ctx, req.EntityType, req.EntityID)
	if err != nil {
		return Decision{}, apperror.Wrap(apperror.KindPolicyDenied, "loading bound policies", err)
	}

	decision, _ := e.evaluateAgainst(policies, req, false)
	verdict := "deny"
	if decision.Allowed {
		verdict = "allow"
	}
	telemetry.PolicyEvaluationsTotal.WithLabelValues(verdict).Inc()

	if e.cache != nil {
		_ = e.cache.Set(ctx, req, decision)
	}
	return decision, nil
}

// Simulate runs the same pipeline as Evaluate but returns every
// intermediate step, never consults the cache, and is never cached
// itself — it exists purely for an operator to understand why a
// decision came out the way it did.
func (e *Evaluator) Simulate(ctx context.Context, req Request) (Decision, error) {
	policies, err := e.queries.ListPoliciesForEntity(ctx, req.EntityType, req.EntityID)
	if err != nil {
		return Decision{}, apperror.Wrap(apperror.KindPolicyDenied, "loading bound policies", err)
	}
	decision, steps := e.evaluateAgainst(policies, req, true)
	decision.Steps = steps
	return decision, nil
}

func (e *Evaluator) evaluateAgainst(policies []store.Policy, req Request, recordSteps bool) (Decision, []StepResult) {
	var (
		allowed     bool
		denied      bool
		allowReason string
		denyReason  string
		steps       []StepResult
		maxLeaseS   *int
	)

	for _, p := range policies {
		rs, err := ParseRuleSet(p.Rules)
		if err != nil {
			continue // a malformed rule set binds nothing rather than panicking the request path
		}

		for _, rule := range rs.Rules {
			pathMatch := matchPath(rule.PathGlob, req.Path)
			if recordSteps {
				steps = append(steps, StepResult{PolicyName: p.Name, Stage: "path", Matched: pathMatch, Effect: rule.Effect})
			}
			if !pathMatch {
				continue
			}

			opMatch := matchesOperation(rule, req.Operation)
			if recordSteps {
				steps = append(steps, StepResult{PolicyName: p.Name, Stage: "operation", Matched: opMatch, Effect: rule.Effect})
			}
			if !opMatch {
				continue
			}

			timeMatch := withinWindow(rule, req.When)
			if recordSteps {
				steps = append(steps, StepResult{PolicyName: p.Name, Stage: "time_window", Matched: timeMatch, Effect: rule.Effect})
			}
			if !timeMatch {
				continue
			}

			ipMatch := len(rule.IPAllow) == 0 || matchCIDR(rule.IPAllow, req.SourceIP)
			if recordSteps {
				steps = append(steps, StepResult{PolicyName: p.Name, Stage: "source_ip", Matched: ipMatch, Effect: rule.Effect})
			}
			if !ipMatch {
				continue
			}

			ttlMatch := withinMaxLease(rule, req.RequestedTTL)
			if recordSteps {
				steps = append(steps, StepResult{PolicyName: p.Name, Stage: "lease_ttl", Matched: ttlMatch, Effect: rule.Effect})
			}
			if !ttlMatch {
				continue
			}

			// Every stage matched: this rule applies.
			if rule.Effect == EffectDeny {
				if !denied {
					denyReason = fmt.Sprintf("denied by policy %q (path %q)", p.Name, rule.PathGlob)
				}
				denied = true
			} else {
				if !allowed {
					allowReason = fmt.Sprintf("allowed by policy %q (path %q)", p.Name, rule.PathGlob)
				}
				allowed = true
				if rule.MaxLeaseS != nil && (maxLeaseS == nil || *rule.MaxLeaseS < *maxLeaseS) {
					maxLeaseS = rule.MaxLeaseS
				}
			}
		}
	}

	reason := "no policy rule matched the request"
	switch {
	case denied:
		reason = denyReason
	case allowed:
		reason = allowReason
	}

	return Decision{Allowed: allowed && !denied, Reason: reason, MaxLeaseS: maxLeaseS}, steps
}

func withinWindow(rule Rule, when time.Time) bool {
	if rule.NotBefore != nil {
		t, err := time.Parse(time.RFC3339, *rule.NotBefore)
		if err == nil && when.Before(t) {
			return false
		}
	}
	if rule.NotAfter != nil {
		t, err := time.Parse(time.RFC3339, *rule.NotAfter)
		if err == nil && when.After(t) {
			return false
		}
	}
	if !matchesDayOfWeek(rule.DaysOfWeek, when) {
		return false
	}
	if rule.TimeOfDay != nil && !matchesTimeOfDay(*rule.TimeOfDay, when) {
		return false
	}
	return true
}

// withinMaxLease reports whether a requested TTL satisfies the rule's cap
// (§4.7: "requested_ttl ≤ max_ttl when both present"). Either side being
// absent means the check doesn't apply.
func withinMaxLease(rule Rule, requestedTTL *int) bool {
	if rule.MaxLeaseS == nil || requestedTTL == nil {
		return true
	}
	return *requestedTTL <= *rule.MaxLeaseS
}
