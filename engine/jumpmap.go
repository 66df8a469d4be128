package engine

// JumpMap pairs every LOOP index with its matching END_LOOP index and vice
// versa, so the execution loop can jump across loop boundaries in O(1).
type JumpMap map[int]int

// BuildJumpMap scans the sequence once, pairing loop markers with a stack.
// It fails with a StructureError naming the offending index when an END_LOOP
// has no open LOOP or a LOOP is never closed.
func BuildJumpMap(tasks []Task) (JumpMap, error) {
	jm := make(JumpMap)
	var stack []int

	for i := range tasks {
		switch tasks[i].Type {
		case TypeLoop:
			stack = append(stack, i)
		case TypeEndLoop:
			if len(stack) == 0 {
				return nil, &StructureError{Index: i, Reason: "END_LOOP without a matching LOOP"}
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			jm[open] = i
			jm[i] = open
		}
	}

	if len(stack) > 0 {
		return nil, &StructureError{Index: stack[len(stack)-1], Reason: "LOOP without a matching END_LOOP"}
	}

	return jm, nil
}
