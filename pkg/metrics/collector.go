package metrics

import (
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// NamespaceLister is the read side of the namespace registry
type NamespaceLister interface {
	ListAll() ([]*types.Namespace, error)
}

// RaftStatus is implemented by replicated metadata stores
type RaftStatus interface {
	IsLeader() bool
	Stats() map[string]interface{}
}

// Collector periodically refreshes gauges that are derived from state
// rather than incremented at the call site
type Collector struct {
	lister   NamespaceLister
	raft     RaftStatus
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector. raft may be nil.
func NewCollector(lister NamespaceLister, raft RaftStatus) *Collector {
	return &Collector{
		lister:   lister,
		raft:     raft,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNamespaceMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectNamespaceMetrics() {
	namespaces, err := c.lister.ListAll()
	if err != nil {
		return
	}

	counts := map[types.NamespaceState]int{
		types.NamespaceStateCreating: 0,
		types.NamespaceStateActive:   0,
		types.NamespaceStateDeleting: 0,
	}
	for _, ns := range namespaces {
		counts[ns.State]++
	}

	for state, count := range counts {
		NamespacesTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.raft == nil {
		return
	}

	if c.raft.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	if applied, ok := c.raft.Stats()["applied_index"].(uint64); ok {
		RaftAppliedIndex.Set(float64(applied))
	}
}
