package master

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"compute-grid/internal/logger"
	"compute-grid/pkg/model"
)

const (
	SOURCE_STATIC uint8 = iota
	SOURCE_DISCOVERY
	SOURCE_HTTP
)

var sourceStr = []string{
	"static",
	"discovery",
	"http",
}

// SlaveNode is a registry entry.
type SlaveNode struct {
	model.Node
	Source   string    `json:"Source"`
	LastSeen time.Time `json:"LastSeen"`
}

// Pinger checks that a slave still answers.
type Pinger func(ctx context.Context, info model.EndpointInfo) error

// Registry is the set of slaves the master knows about.
type Registry struct {
	log *zap.Logger

	mu     sync.Mutex
	slaves map[string]*SlaveNode
	added  chan struct{}
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		log:    logger.OrNop(log).Named("registry"),
		slaves: make(map[string]*SlaveNode),
		added:  make(chan struct{}),
	}
}

// Register adds or refreshes a slave. It reports whether the slave was new.
func (r *Registry) Register(node model.Node, source uint8) bool {
	key := node.Endpoint.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.slaves[key]; ok {
		s.LastSeen = time.Now()
		if node.UUID != "" {
			s.UUID = node.UUID
		}
		if node.StatusAddr != "" {
			s.StatusAddr = node.StatusAddr
		}
		return false
	}

	r.slaves[key] = &SlaveNode{
		Node:     node,
		Source:   sourceStr[source],
		LastSeen: time.Now(),
	}
	close(r.added)
	r.added = make(chan struct{})

	r.log.Info("[REGISTRY] slave registered",
		zap.String("endpoint", node.Endpoint.HostPort()),
		zap.String("source", sourceStr[source]),
		zap.String("uuid", node.UUID),
	)
	return true
}

func (r *Registry) Remove(info model.EndpointInfo) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.slaves[info.Key()]; !ok {
		return false
	}
	delete(r.slaves, info.Key())
	r.log.Info("[REGISTRY] slave removed", zap.String("endpoint", info.HostPort()))
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slaves)
}

// Endpoints returns the grid endpoints of every known slave, in a stable order.
func (r *Registry) Endpoints() []model.EndpointInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.EndpointInfo, 0, len(r.slaves))
	for _, s := range r.slaves {
		out = append(out, s.Endpoint)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (r *Registry) Nodes() []SlaveNode {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SlaveNode, 0, len(r.slaves))
	for _, s := range r.slaves {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint.Key() < out[j].Endpoint.Key() })
	return out
}

// Wait blocks until at least n slaves are known.
func (r *Registry) Wait(ctx context.Context, n int) error {
	for {
		r.mu.Lock()
		if len(r.slaves) >= n {
			r.mu.Unlock()
			return nil
		}
		added := r.added
		r.mu.Unlock()

		select {
		case <-added:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CheckHealth pings every slave once and removes those that do not answer.
func (r *Registry) CheckHealth(ctx context.Context, ping Pinger) {
	for _, info := range r.Endpoints() {
		if err := ping(ctx, info); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warn("[REGISTRY] slave is not alive", zap.String("endpoint", info.HostPort()), zap.Error(err))
			r.Remove(info)
			continue
		}
		r.mu.Lock()
		if s, ok := r.slaves[info.Key()]; ok {
			s.LastSeen = time.Now()
		}
		r.mu.Unlock()
	}
}

// HealthWorker runs CheckHealth every interval until ctx is done.
func (r *Registry) HealthWorker(ctx context.Context, interval time.Duration, ping Pinger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CheckHealth(ctx, ping)
		}
	}
}
