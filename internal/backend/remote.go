package backend

import (
	"context"
	"sync/atomic"
)

// Remote is an already deployed generation service. Start and Stop only
// track state; availability is checked per channel by the health probe.
type Remote struct {
	endpoints Endpoints
	running   atomic.Bool
}

func NewRemote(endpoints Endpoints) *Remote {
	return &Remote{endpoints: endpoints}
}

func (r *Remote) Start(context.Context) error { r.running.Store(true); return nil }
func (r *Remote) Endpoints() Endpoints        { return r.endpoints }
func (r *Remote) Stop(context.Context) error  { r.running.Store(false); return nil }
func (r *Remote) IsRunning() bool             { return r.running.Load() }
