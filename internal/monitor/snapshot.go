package monitor

// DefaultSnapshotStep is the percentage distance between snapshots.
const DefaultSnapshotStep = 10

// SnapshotPolicy yields strictly increasing completion thresholds, each at
// most once. Thresholds never exceed 100.
type SnapshotPolicy struct {
	step int
	next int
}

// NewSnapshotPolicy starts at the first threshold. A non-positive step
// selects DefaultSnapshotStep.
func NewSnapshotPolicy(step int) *SnapshotPolicy {
	if step <= 0 || step > 100 {
		step = DefaultSnapshotStep
	}
	return &SnapshotPolicy{step: step, next: step}
}

// Due reports the lowest threshold reached by completed/total that has not
// fired yet. It does not advance the policy.
func (p *SnapshotPolicy) Due(completed, total int) (int, bool) {
	if total <= 0 || p.next > 100 {
		return 0, false
	}
	if completed*100 < p.next*total {
		return 0, false
	}
	return p.next, true
}

// Skip advances past every threshold completed/total already reaches, so a
// resumed run labels snapshots by overall completion without firing the
// thresholds an earlier run covered. It returns the number skipped.
func (p *SnapshotPolicy) Skip(completed, total int) int {
	n := 0
	for {
		if _, due := p.Due(completed, total); !due {
			return n
		}
		p.Advance()
		n++
	}
}

// Advance moves past the current threshold.
func (p *SnapshotPolicy) Advance() {
	p.next += p.step
}

// Next returns the threshold that will fire next, or 0 when exhausted.
func (p *SnapshotPolicy) Next() int {
	if p.next > 100 {
		return 0
	}
	return p.next
}
