package app

import "github.com/lumora/hearthlink/internal/domain"

// CallPolicy decides when a group's present set warrants a shared call.
type CallPolicy interface {
	Warranted(present []domain.Device) bool
}

// QuorumPolicy starts a call once Quorum devices are simultaneously present.
type QuorumPolicy struct {
	Quorum int
}

func (p QuorumPolicy) Warranted(present []domain.Device) bool {
	q := p.Quorum
	if q <= 0 {
		q = 2
	}
	return len(present) >= q
}
