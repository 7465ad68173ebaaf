package gpu

// PingPong tracks which alive set is current. It is the only allocator state
// kept on the host.
type PingPong struct {
	current AliveSet
	swaps   uint64
}

// Current is the set read by Update and Draw and appended to by Emit.
func (p *PingPong) Current() AliveSet { return p.current }

// Next is the set Update appends survivors to.
func (p *PingPong) Next() AliveSet { return p.current.Other() }

// Swap flips the roles. Called exactly once per frame after Update.
func (p *PingPong) Swap() {
	p.current = p.current.Other()
	p.swaps++
}

// Swaps returns the number of flips since the last Reset.
func (p *PingPong) Swaps() uint64 { return p.swaps }

// Reset returns to the A-current state.
func (p *PingPong) Reset() {
	p.current = SetA
	p.swaps = 0
}
