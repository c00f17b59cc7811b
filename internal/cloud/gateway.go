// Package cloud defines the provider gateway contract used by the fleet
// manager, plus a simulated implementation for local development and tests.
package cloud

import "context"

// RuntimeState is the provider-side runtime state of an instance.
type RuntimeState string

const (
	StatePending    RuntimeState = "pending"
	StateRunning    RuntimeState = "running"
	StateStopping   RuntimeState = "stopping"
	StateTerminated RuntimeState = "terminated"
)

// LaunchSpec describes the instance to create.
type LaunchSpec struct {
	Owner         string
	InstanceClass string
	Region        string
}

// InstanceStatus is the provider's authoritative view of one instance.
type InstanceStatus struct {
	RuntimeState RuntimeState
	InstanceOK   bool
	SystemOK     bool
	PublicAddr   string
	PrivateAddr  string
}

// Gateway is the external cloud-provider API. WaitForState blocks until the
// instance reaches the target state or ctx is done; polling cadence and
// provider-side timeouts are the implementation's concern.
type Gateway interface {
	Create(ctx context.Context, spec LaunchSpec) (providerID string, err error)
	Terminate(ctx context.Context, providerID string) error
	WaitForState(ctx context.Context, providerID string, target RuntimeState) error
	DescribeStatus(ctx context.Context, providerID string) (InstanceStatus, error)
}
