package service

import (
	"sync"
	"time"
)

// PendingKind tags the multi-step operation an operator has started. The
// next free-text input from that operator completes it.
type PendingKind int

const (
	PendingNone PendingKind = iota
	PendingRuleSpec
	PendingFilterBody
	PendingTransformBody
)

// PendingOp is the explicit variant for one in-flight interactive operation:
// what is awaited, and for which account and rule.
type PendingOp struct {
	Kind      PendingKind
	Account   string
	RuleName  string
	Detail    string
	CreatedAt time.Time
}

// PendingTracker holds at most one pending operation per operator. Entries
// expire after the TTL; starting a new operation replaces any prior one.
type PendingTracker struct {
	mu  sync.Mutex
	ops map[string]PendingOp
	ttl time.Duration
	now func() time.Time
}

func NewPendingTracker(ttl time.Duration) *PendingTracker {
	return &PendingTracker{
		ops: make(map[string]PendingOp),
		ttl: ttl,
		now: time.Now,
	}
}

// Begin records a pending operation for the operator, replacing any existing
// one.
func (p *PendingTracker) Begin(operator string, op PendingOp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	op.CreatedAt = p.now()
	p.ops[operator] = op
}

// Take returns and clears the operator's pending operation. Expired entries
// are discarded and reported as absent.
func (p *PendingTracker) Take(operator string) (PendingOp, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	op, ok := p.ops[operator]
	if !ok {
		return PendingOp{}, false
	}
	delete(p.ops, operator)

	if p.ttl > 0 && p.now().Sub(op.CreatedAt) > p.ttl {
		return PendingOp{}, false
	}
	return op, true
}

// Peek reports the pending operation without consuming it.
func (p *PendingTracker) Peek(operator string) (PendingOp, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	op, ok := p.ops[operator]
	if !ok {
		return PendingOp{}, false
	}
	if p.ttl > 0 && p.now().Sub(op.CreatedAt) > p.ttl {
		delete(p.ops, operator)
		return PendingOp{}, false
	}
	return op, true
}

// Cancel drops the operator's pending operation, if any.
func (p *PendingTracker) Cancel(operator string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ops, operator)
}
