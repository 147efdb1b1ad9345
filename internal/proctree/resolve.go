package proctree

// Descendants returns every PID transitively parented by root in snap.
//
// The snapshot is unordered, so a single pass can meet a grandchild before
// its parent has been classified. Full passes are repeated until one adds
// nothing. Cost is O(depth * processes), fine for the small trees a
// supervised shell pipeline produces. root itself is never part of the result.
func Descendants(root int, snap Snapshot) PIDSet {
	result := make(PIDSet)
	for {
		added := false
		for pid, p := range snap.processes {
			if pid == root || result.Contains(pid) {
				continue
			}
			if p.PPID == root || result.Contains(p.PPID) {
				result[pid] = struct{}{}
				added = true
			}
		}
		if !added {
			return result
		}
	}
}
