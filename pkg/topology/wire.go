package topology

// edgeKey identifies one output-port-to-input-port subscription independent
// of the ResolvedFlow slice order, so successive commits can diff against
// what is already wired instead of tearing everything down each time.
type edgeKey struct {
	srcID   string
	srcPort int
	dstID   string
	dstPort int
}

func edgeKeyOf(f ResolvedFlow) edgeKey {
	return edgeKey{srcID: f.Src.ID, srcPort: f.SrcPort, dstID: f.Dst.ID, dstPort: f.DstPort}
}

// wireFlows diffs next against the previously committed flow set and adds
// or removes subscriptions so that only the delta is touched: an edge
// present in both generations keeps flowing without interruption. Port
// mutations happen under the owning actor's external acquire/release so
// they serialize against that block's own in-progress work pass, per
// spec.md's exclusivity discipline.
func wireFlows(prev, next []ResolvedFlow) {
	prevSet := make(map[edgeKey]ResolvedFlow, len(prev))
	for _, f := range prev {
		prevSet[edgeKeyOf(f)] = f
	}
	nextSet := make(map[edgeKey]ResolvedFlow, len(next))
	for _, f := range next {
		nextSet[edgeKeyOf(f)] = f
	}

	for key, f := range prevSet {
		if _, keep := nextSet[key]; keep {
			continue
		}
		out := f.Src.Ctx.Outputs[f.SrcPort]
		in := f.Dst.Ctx.Inputs[f.DstPort]
		f.Src.Ctx.Actor.ExternalAcquire()
		out.RemoveSubscriber(in)
		f.Src.Ctx.Actor.ExternalRelease()
	}

	for key, f := range nextSet {
		if _, already := prevSet[key]; already {
			continue
		}
		out := f.Src.Ctx.Outputs[f.SrcPort]
		in := f.Dst.Ctx.Inputs[f.DstPort]
		dstActor := f.Dst.Ctx.Actor
		f.Src.Ctx.Actor.ExternalAcquire()
		out.AddSubscriber(in, dstActor.FlagChange)
		f.Src.Ctx.Actor.ExternalRelease()
	}
}
