package topology

import (
	"fmt"

	"github.com/flowmeshio/flowmesh/pkg/xerrors"
)

// Flatten recursively resolves every subtopology pass-through reference to
// a concrete block endpoint and returns the resulting flat flow list.
func (t *Topology) Flatten() ([]ResolvedFlow, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []ResolvedFlow
	if err := t.flattenLocked(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Topology) flattenLocked(out *[]ResolvedFlow) error {
	for _, f := range t.flows {
		src, srcPort, err := t.resolveOutputLocked(f.srcID, f.srcPort)
		if err != nil {
			return err
		}
		dst, dstPort, err := t.resolveInputLocked(f.dstID, f.dstPort)
		if err != nil {
			return err
		}
		*out = append(*out, ResolvedFlow{Src: src, SrcPort: srcPort, Dst: dst, DstPort: dstPort})
	}
	for _, n := range t.nodes {
		if n.sub != nil {
			n.sub.mu.Lock()
			err := n.sub.flattenLocked(out)
			n.sub.mu.Unlock()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveOutputLocked follows id/port through nested subtopology
// pass-through-output maps until it reaches a concrete block.
func (t *Topology) resolveOutputLocked(id string, p int) (*BlockInstance, int, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, 0, fmt.Errorf("%w: unknown block %q", xerrors.ErrTopologyConnect, id)
	}
	if n.inst != nil {
		return n.inst, p, nil
	}
	n.sub.mu.Lock()
	ref, ok := n.sub.passThroughOut[p]
	n.sub.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("%w: subtopology %q has no pass-through output %d", xerrors.ErrTopologyConnect, id, p)
	}
	return n.sub.resolveOutputLocked(ref.srcID, ref.srcPort)
}

// resolveInputLocked follows id/port through nested subtopology
// pass-through-input maps until it reaches a concrete block.
func (t *Topology) resolveInputLocked(id string, p int) (*BlockInstance, int, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, 0, fmt.Errorf("%w: unknown block %q", xerrors.ErrTopologyConnect, id)
	}
	if n.inst != nil {
		return n.inst, p, nil
	}
	n.sub.mu.Lock()
	ref, ok := n.sub.passThroughIn[p]
	n.sub.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("%w: subtopology %q has no pass-through input %d", xerrors.ErrTopologyConnect, id, p)
	}
	return n.sub.resolveInputLocked(ref.dstID, ref.dstPort)
}
