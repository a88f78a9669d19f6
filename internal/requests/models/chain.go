package models

import (
	"opsflow/internal/access"
)

// Level is a named stage of an approval chain.
type Level string

const (
	LevelLineManager    Level = "LINE_MANAGER"
	LevelFinanceManager Level = "FINANCE_MANAGER"
)

func (l Level) IsValid() bool {
	return l == LevelLineManager || l == LevelFinanceManager
}

// Admits reports whether actor may act at this level for a request raised in
// department. Supervisors only manage their own department.
func (l Level) Admits(actor access.Actor, department string) bool {
	switch l {
	case LevelLineManager:
		switch actor.Role {
		case access.RoleAdmin, access.RoleHR:
			return true
		case access.RoleSupervisor:
			return actor.Department != "" && actor.Department == department
		}
	case LevelFinanceManager:
		return actor.Role == access.RoleFinance || actor.Role == access.RoleAdmin
	}
	return false
}

// Chain is the ordered list of levels a request must clear. It is computed
// once at creation and stored with the request.
type Chain []Level

func (c Chain) Contains(l Level) bool {
	return c.index(l) >= 0
}

func (c Chain) index(l Level) int {
	for i, lvl := range c {
		if lvl == l {
			return i
		}
	}
	return -1
}

// FinancePolicy holds the cost threshold at which operations need finance
// sign-off, in minor currency units.
type FinancePolicy struct {
	ThresholdCents int64
}

// DefaultFinancePolicy requires finance sign-off from 1000.00 upwards.
func DefaultFinancePolicy() FinancePolicy {
	return FinancePolicy{ThresholdCents: 100_000}
}

func (p FinancePolicy) exceeded(costCents int64) bool {
	return p.ThresholdCents > 0 && costCents >= p.ThresholdCents
}

// BuildChain computes the approval chain for details. LINE_MANAGER always
// comes first; FINANCE_MANAGER follows when the variant needs finance.
func BuildChain(details Details, policy FinancePolicy) Chain {
	chain := Chain{LevelLineManager}
	if details.NeedsFinance(policy) {
		chain = append(chain, LevelFinanceManager)
	}
	return chain
}

// CurrentLevel derives the next unresolved level: the first chain level with
// no COMPLETED approval. ok is false once every level has been cleared.
func CurrentLevel(chain Chain, approvals []Approval) (Level, bool) {
	cleared := make(map[Level]bool, len(approvals))
	for _, a := range approvals {
		if a.Status == ApprovalCompleted {
			cleared[a.Level] = true
		}
	}
	for _, lvl := range chain {
		if !cleared[lvl] {
			return lvl, true
		}
	}
	return "", false
}

// CompletedCount counts COMPLETED approvals.
func CompletedCount(approvals []Approval) int {
	n := 0
	for _, a := range approvals {
		if a.Status == ApprovalCompleted {
			n++
		}
	}
	return n
}
