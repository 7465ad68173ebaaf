package telemetry

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// Phase names timed by the frame loop.
const (
	PhaseUpdate = "update"
	PhaseRender = "render"
)

// Profiler times named host-side scopes of the current frame. Scopes keep
// their first-seen order for display.
type Profiler struct {
	scopes map[string]time.Duration
	starts map[string]time.Time
	counts map[string]int
	order  []string
}

func NewProfiler() *Profiler {
	return &Profiler{
		scopes: make(map[string]time.Duration),
		starts: make(map[string]time.Time),
		counts: make(map[string]int),
	}
}

func (p *Profiler) BeginScope(name string) {
	p.starts[name] = time.Now()
	if !slices.Contains(p.order, name) {
		p.order = append(p.order, name)
	}
}

// EndScope adds the time since BeginScope to the scope. Ending a scope that
// was never begun does nothing.
func (p *Profiler) EndScope(name string) {
	if start, ok := p.starts[name]; ok {
		p.scopes[name] += time.Since(start)
		delete(p.starts, name)
	}
}

func (p *Profiler) Scope(name string) time.Duration { return p.scopes[name] }

func (p *Profiler) SetCount(name string, count int) { p.counts[name] = count }

// Total is the sum of all scopes.
func (p *Profiler) Total() time.Duration {
	var total time.Duration
	for _, d := range p.scopes {
		total += d
	}
	return total
}

// Reset zeroes the timings for the next frame and keeps the scope order.
func (p *Profiler) Reset() {
	for k := range p.scopes {
		p.scopes[k] = 0
	}
	clear(p.starts)
}

func (p *Profiler) String() string {
	var sb strings.Builder
	sb.WriteString("Timings (CPU):\n")
	for _, name := range p.order {
		ms := float64(p.scopes[name].Microseconds()) / 1000.0
		fmt.Fprintf(&sb, "  %-15s: %.2f ms\n", name, ms)
	}

	keys := make([]string, 0, len(p.counts))
	for k := range p.counts {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return sb.String()
	}
	sort.Strings(keys)
	sb.WriteString("\nStats:\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "  %-15s: %d\n", k, p.counts[k])
	}
	return sb.String()
}
