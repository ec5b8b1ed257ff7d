package host

import "sync/atomic"

// StaticNetwork reports a metered link from configuration. The desktop
// client asks the OS; a headless service has to be told.
type StaticNetwork struct {
	metered atomic.Bool
}

func NewStaticNetwork(metered bool) *StaticNetwork {
	n := &StaticNetwork{}
	n.metered.Store(metered)
	return n
}

func (n *StaticNetwork) IsExpensive() bool {
	return n.metered.Load()
}

func (n *StaticNetwork) SetMetered(metered bool) {
	n.metered.Store(metered)
}
