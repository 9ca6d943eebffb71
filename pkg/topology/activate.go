package topology

import (
	"fmt"
	"sort"
	"time"

	"github.com/flowmeshio/flowmesh/pkg/actor"
	"github.com/flowmeshio/flowmesh/pkg/block"
	"github.com/flowmeshio/flowmesh/pkg/log"
	"github.com/flowmeshio/flowmesh/pkg/metrics"
)

// setActorState transitions inst's actor to s and moves its count between
// the BlocksTotal state buckets, keeping the gauge an accurate live
// breakdown of every committed block's scheduling state.
func setActorState(inst *BlockInstance, s actor.State) {
	old := inst.Ctx.Actor.State()
	if old != s {
		metrics.BlocksTotal.WithLabelValues(old.String()).Dec()
		metrics.BlocksTotal.WithLabelValues(s.String()).Inc()
	}
	inst.Ctx.Actor.SetState(s)
}

// activationOrder computes a bottom-up order (leaf consumers before their
// producers) over the blocks touched by flows, per spec.md §4.7. Ties and
// feedback cycles are broken deterministically by block ID so the order is
// reproducible across commits of the same graph.
func activationOrder(insts []*BlockInstance, flows []ResolvedFlow) []*BlockInstance {
	// edge dst->src: dst must activate before src.
	dependents := make(map[string][]string) // blockID -> blocks that must follow it
	inDegree := make(map[string]int)
	byID := make(map[string]*BlockInstance, len(insts))
	for _, i := range insts {
		byID[i.ID] = i
		inDegree[i.ID] = 0
	}
	for _, f := range flows {
		dependents[f.Dst.ID] = append(dependents[f.Dst.ID], f.Src.ID)
		inDegree[f.Src.ID]++
	}

	var queue []string
	for id := range inDegree {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	order := make([]*BlockInstance, 0, len(insts))
	remaining := make(map[string]bool, len(insts))
	for id := range inDegree {
		remaining[id] = true
	}

	for len(order) < len(insts) {
		if len(queue) == 0 {
			// A feedback cycle stalled Kahn's algorithm: break it by
			// picking the lowest-ID remaining block and forcing it ready.
			var ids []string
			for id := range remaining {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			queue = append(queue, ids[0])
		}
		sort.Strings(queue)
		id := queue[0]
		queue = queue[1:]
		if !remaining[id] {
			continue
		}
		delete(remaining, id)
		order = append(order, byID[id])
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	return order
}

// activateCommit activates every block in order, stopping to deactivate
// already-activated blocks in reverse order if any Activate call fails —
// the only rollback the failed block itself does not need, since it never
// reached an activated state.
func activateCommit(order []*BlockInstance) error {
	activated := make([]*BlockInstance, 0, len(order))
	var failErr error
	var failedID string
	for _, inst := range order {
		inst.Ctx.Actor.ExternalAcquire()
		if a, ok := inst.Block.(block.Activater); ok {
			if err := a.Activate(inst.Ctx); err != nil {
				setActorState(inst, actor.Dead)
				inst.Ctx.Actor.ExternalRelease()
				failErr = err
				failedID = inst.ID
				break
			}
		}
		setActorState(inst, actor.Active)
		inst.Ctx.Actor.ExternalRelease()
		activated = append(activated, inst)
	}

	if failErr == nil {
		return nil
	}

	for i := len(activated) - 1; i >= 0; i-- {
		inst := activated[i]
		inst.Ctx.Actor.ExternalAcquire()
		setActorState(inst, actor.Draining)
		if d, ok := inst.Block.(block.Deactivater); ok {
			if err := d.Deactivate(inst.Ctx); err != nil {
				// Errors during deactivation are logged and otherwise
				// swallowed per spec.md §7.
				logger := log.WithComponent("topology")
				logger.Error().Err(err).Str("block_id", inst.ID).Msg("deactivate failed during commit rollback")
				inst.Ctx.Actor.ExternalRelease()
				continue
			}
		}
		setActorState(inst, actor.Dead)
		inst.Ctx.Actor.ExternalRelease()
	}

	return fmt.Errorf("topology commit: block %q failed to activate: %w", failedID, failErr)
}

// WaitInactive polls every committed actor's work counter and returns true
// once none has changed for a continuous dwell window, or false if timeout
// elapses first. This is the only supported completion predicate for
// bounded runs, per spec.md §4.7.
func (t *Topology) WaitInactive(timeout, dwell, pollInterval time.Duration) bool {
	t.mu.Lock()
	insts := t.instances()
	t.mu.Unlock()

	deadline := time.Now().Add(timeout)
	last := make(map[string]uint64, len(insts))
	for _, inst := range insts {
		last[inst.ID] = inst.Ctx.Actor.WorkCounter()
	}
	quietSince := time.Now()

	for {
		if time.Since(quietSince) >= dwell {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)

		changed := false
		for _, inst := range insts {
			c := inst.Ctx.Actor.WorkCounter()
			if c != last[inst.ID] {
				last[inst.ID] = c
				changed = true
			}
		}
		if changed {
			quietSince = time.Now()
		}
	}
}

// instances returns every concrete BlockInstance directly owned by t (not
// recursing into subtopologies, which contribute only through Flatten).
func (t *Topology) instances() []*BlockInstance {
	out := make([]*BlockInstance, 0, len(t.nodes))
	for _, n := range t.nodes {
		if n.inst != nil {
			out = append(out, n.inst)
		}
	}
	return out
}
