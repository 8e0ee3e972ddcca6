package roles

import (
	"sync/atomic"

	"github.com/lukaszraczylo/oidcsession/internal/logger"
)

// Registry holds the active Table and lets operators replace it at runtime
// without touching callers. It implements Mapper against whichever table is
// current at call time.
type Registry struct {
	current atomic.Pointer[Table]
	logger  logger.Logger
}

// NewRegistry starts with t, or DefaultTable when t is nil.
func NewRegistry(t *Table, log logger.Logger) *Registry {
	if t == nil {
		t = DefaultTable()
	}
	r := &Registry{logger: logger.OrNoOp(log)}
	r.current.Store(t)
	return r
}

// Current returns the active table.
func (r *Registry) Current() *Table { return r.current.Load() }

// Swap installs t and returns the table it replaced. A nil t is ignored.
func (r *Registry) Swap(t *Table) *Table {
	if t == nil {
		return r.Current()
	}
	old := r.current.Swap(t)
	r.logger.Infof("Role mapping table switched from version %q to %q (%d mappings)", old.Version(), t.Version(), t.Len())
	return old
}

// Reload reads path and swaps it in. The active table is kept on error.
func (r *Registry) Reload(path string) error {
	t, err := LoadTable(path)
	if err != nil {
		r.logger.Errorf("Role mapping reload from %s failed: %v", path, err)
		return err
	}
	r.Swap(t)
	return nil
}

// MapRawRolesToInternal implements Mapper.
func (r *Registry) MapRawRolesToInternal(raw []string) []Role {
	return r.Current().MapRawRolesToInternal(raw)
}

// ListUnmapped implements Mapper.
func (r *Registry) ListUnmapped(raw []string) []string {
	return r.Current().ListUnmapped(raw)
}
