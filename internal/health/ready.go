package health

import "sync/atomic"

// Readiness 就绪状态：建表完成后探测循环才开始
type Readiness struct {
	schemaReady atomic.Bool
}

func New() *Readiness { return &Readiness{} }

func (r *Readiness) SetSchemaReady(v bool) { r.schemaReady.Store(v) }

// Ready 总体就绪
func (r *Readiness) Ready() bool {
	return r.schemaReady.Load()
}
