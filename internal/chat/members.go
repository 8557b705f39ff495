package chat

// prepareMembers merges requested member ids with the requester id and removes
// duplicates, preserving first-seen order.
func prepareMembers(memberIDs []int64, requesterID int64) []int64 {
	seen := make(map[int64]struct{}, len(memberIDs)+1)
	prepared := make([]int64, 0, len(memberIDs)+1)

	for _, id := range memberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		prepared = append(prepared, id)
	}

	if _, ok := seen[requesterID]; !ok {
		prepared = append(prepared, requesterID)
	}

	return prepared
}
