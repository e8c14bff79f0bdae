// Package system manages the lifecycle of long-running platform components.
package system

import "context"

// Service is a lifecycle-managed component. The application registers every
// long-running piece (schedulers, hubs, pollers) as a Service so startup and
// shutdown stay deterministic.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopService satisfies Service for components that want a registration slot
// but run no background work of their own.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string                { return n.ServiceName }
func (n NoopService) Start(context.Context) error { return nil }
func (n NoopService) Stop(context.Context) error  { return nil }
