package topology

// blockReady builds the readiness predicate threadpool.Pool polls before
// driving inst: a block with no inputs (a pure source) is always attempted,
// since nothing else tells the scheduler it has more to send; a block with
// inputs is attempted whenever at least one of them satisfies its own
// Ready() precondition (a pending message, enough reserved elements, or a
// pending label).
func blockReady(inst *BlockInstance) func() bool {
	ins := inst.Ctx.Inputs
	if len(ins) == 0 {
		return func() bool { return true }
	}
	return func() bool {
		for _, in := range ins {
			if in.Ready() {
				return true
			}
		}
		return false
	}
}
