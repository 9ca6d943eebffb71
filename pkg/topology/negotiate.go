package topology

import (
	"fmt"

	"github.com/flowmeshio/flowmesh/pkg/buffer"
	"github.com/flowmeshio/flowmesh/pkg/xerrors"
)

const defaultSlabBuffers = 4

// negotiateBufferManagers settles each flow's output buffer manager. An
// edge whose ports declare different non-empty domains fails with
// ErrDomain. Otherwise the upstream's existing manager is kept, and an
// output with none gets a fresh slab manager sized from the upstream's
// element size; the downstream input never supplies the manager. Flows
// sharing one output (fan-out) negotiate once per output, not per edge.
func negotiateBufferManagers(flows []ResolvedFlow) error {
	seen := make(map[*BlockInstance]map[int]bool)
	for _, f := range flows {
		out := f.Src.Ctx.Outputs[f.SrcPort]
		in := f.Dst.Ctx.Inputs[f.DstPort]

		if out.ElemType != in.ElemType {
			return fmt.Errorf("%w: %s[%d] (%s) -> %s[%d] (%s) element type mismatch",
				xerrors.ErrTopologyConnect, f.Src.ID, f.SrcPort, out.ElemType, f.Dst.ID, f.DstPort, in.ElemType)
		}
		if out.Domain != "" && in.Domain != "" && out.Domain != in.Domain {
			return fmt.Errorf("%w: %s[%d] domain %q incompatible with %s[%d] domain %q",
				xerrors.ErrDomain, f.Src.ID, f.SrcPort, out.Domain, f.Dst.ID, f.DstPort, in.Domain)
		}

		if done := seen[f.Src]; done != nil && done[f.SrcPort] {
			continue
		}
		if mgr := out.BufferManager(); mgr == nil {
			fresh := buffer.NewSlabManager()
			if err := fresh.Init(buffer.ManagerArgs{NumBuffers: defaultSlabBuffers, BufferSize: out.ElemSize * defaultElementsPerBuffer(out.ElemSize)}); err != nil {
				return err
			}
			out.SetBufferManager(fresh)
		}
		if seen[f.Src] == nil {
			seen[f.Src] = make(map[int]bool)
		}
		seen[f.Src][f.SrcPort] = true

		// read-before-write: only safe when exactly one subscriber shares
		// this output's element size, so in-place buffer reuse can't race
		// two different consumers over the same returning slot.
		if out.ElemSize == in.ElemSize && countSubscribers(flows, f.Src, f.SrcPort) == 1 {
			out.SetReadBeforeWrite(in)
		}
	}
	return nil
}

func countSubscribers(flows []ResolvedFlow, src *BlockInstance, srcPort int) int {
	n := 0
	for _, f := range flows {
		if f.Src == src && f.SrcPort == srcPort {
			n++
		}
	}
	return n
}

// defaultElementsPerBuffer picks a buffer capacity when no upstream hint is
// available, scaled down for oversized elements so a default buffer never
// exceeds a few hundred KB.
func defaultElementsPerBuffer(elemSize int) int {
	const targetBytes = 65536
	if elemSize <= 0 {
		return 1
	}
	n := targetBytes / elemSize
	if n < 1 {
		return 1
	}
	return n
}
