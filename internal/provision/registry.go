package provision

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"compute-grid/internal/logger"
)

var (
	ErrModelNotFound = errors.New("provision: model not found")
	ErrEmptyName     = errors.New("provision: empty model name")
)

type entry struct {
	model Model
	sum   [sha256.Size]byte
}

type snapshot map[string]entry

// Registry maps model names to compiled models. Reads go to an immutable snapshot and never
// lock; writers build the next snapshot under a mutex and publish it atomically, so a reader
// sees either the previous model or the new one, never a partial write.
type Registry struct {
	compiler Compiler
	log      *zap.Logger

	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

func NewRegistry(compiler Compiler, log *zap.Logger) *Registry {
	r := &Registry{compiler: compiler, log: logger.OrNop(log).Named("provision")}
	empty := snapshot{}
	r.snap.Store(&empty)
	return r
}

// Provision compiles code and installs it under name, replacing any previous definition.
// Code that fails to compile leaves the registry unchanged. Provisioning identical code
// twice is a no-op.
func (r *Registry) Provision(name string, code []byte) error {
	if name == "" {
		return ErrEmptyName
	}
	sum := sha256.Sum256(code)
	if cur, ok := (*r.snap.Load())[name]; ok && bytes.Equal(cur.sum[:], sum[:]) {
		r.log.Debug("model already provisioned", zap.String("model", name))
		return nil
	}

	m, err := r.compiler.Compile(name, code)
	if err != nil {
		return pkgerrors.Wrapf(err, "compile model %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.snap.Load()
	next := make(snapshot, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	_, replaced := old[name]
	next[name] = entry{model: m, sum: sum}
	r.snap.Store(&next)

	r.log.Info("model provisioned",
		zap.String("model", name),
		zap.Int("bytes", len(code)),
		zap.Bool("replaced", replaced),
	)
	return nil
}

func (r *Registry) Resolve(name string) (Model, error) {
	e, ok := (*r.snap.Load())[name]
	if !ok {
		return nil, pkgerrors.Wrapf(ErrModelNotFound, "%q", name)
	}
	return e.model, nil
}

func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.snap.Load()
	if _, ok := old[name]; !ok {
		return false
	}
	next := make(snapshot, len(old))
	for k, v := range old {
		if k != name {
			next[k] = v
		}
	}
	r.snap.Store(&next)
	r.log.Info("model removed", zap.String("model", name))
	return true
}

func (r *Registry) Names() []string {
	snap := *r.snap.Load()
	names := make([]string, 0, len(snap))
	for k := range snap {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	return len(*r.snap.Load())
}
