package markov

// Stats holds aggregated statistics for a Chain.
type Stats struct {
	Order          int // The number of slots per context
	Contexts       int // The number of distinct contexts
	Links          int // The number of unique context->outcome links
	Observations   int // The sum of all counts; the total number of recorded transitions
	StartingTokens int // The number of distinct tokens that can start a sequence
	Sequences      int // The number of End observations, one per trained sequence
}

// Stats returns a snapshot of statistics for the chain.
func (c *Chain[T]) Stats() Stats {
	stats := Stats{
		Order:        c.order,
		Contexts:     len(c.entries),
		Observations: c.observations,
	}
	end := EndOutcome[T]()
	for _, e := range c.entries {
		stats.Links += e.counter.Len()
		stats.Sequences += e.counter.Count(end)
	}
	if start := c.lookup(StartContext[T](c.order)); start != nil {
		stats.StartingTokens = start.counter.Len()
		if start.counter.Count(end) > 0 {
			stats.StartingTokens--
		}
	}
	return stats
}
