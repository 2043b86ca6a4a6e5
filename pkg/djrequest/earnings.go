package djrequest

// RealizedEarnings sums the donations of PLAYED entries. Skipped and open items earn nothing.
func RealizedEarnings(entries []QueueEntry) AmountCents {
	var total AmountCents
	for _, entry := range entries {
		if entry.Item.Status == QueueStatusPlayed {
			total += entry.Request.DonationAmount
		}
	}
	return total
}

func countFinished(entries []QueueEntry) (played int, skipped int) {
	for _, entry := range entries {
		switch entry.Item.Status {
		case QueueStatusPlayed:
			played++
		case QueueStatusSkipped:
			skipped++
		}
	}
	return played, skipped
}
