package cloud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SimGateway is an in-process provider used when no real cloud is wired.
// Instances boot after BootDelay and terminate after TerminateDelay; public
// addresses are allocated from the 203.0.113.0/24 documentation range.
type SimGateway struct {
	BootDelay      time.Duration
	TerminateDelay time.Duration

	mu        sync.Mutex
	instances map[string]*simInstance
	nextAddr  int
}

type simInstance struct {
	state       RuntimeState
	runningAt   time.Time
	deadAt      time.Time
	publicAddr  string
	privateAddr string
}

// NewSimGateway returns a SimGateway with the given transition delays.
func NewSimGateway(bootDelay, terminateDelay time.Duration) *SimGateway {
	return &SimGateway{
		BootDelay:      bootDelay,
		TerminateDelay: terminateDelay,
		instances:      make(map[string]*simInstance),
	}
}

func (g *SimGateway) Create(ctx context.Context, spec LaunchSpec) (string, error) {
	if spec.InstanceClass == "" || spec.Region == "" {
		return "", fmt.Errorf("sim: instance class and region required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id := "i-" + uuid.NewString()[:12]
	g.nextAddr++
	g.instances[id] = &simInstance{
		state:       StatePending,
		runningAt:   time.Now().Add(g.BootDelay),
		publicAddr:  fmt.Sprintf("203.0.113.%d", g.nextAddr%254+1),
		privateAddr: fmt.Sprintf("10.0.0.%d", g.nextAddr%254+1),
	}
	return id, nil
}

func (g *SimGateway) Terminate(ctx context.Context, providerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	inst, ok := g.instances[providerID]
	if !ok {
		return fmt.Errorf("sim: instance %s not found", providerID)
	}
	if inst.state != StateTerminated {
		inst.state = StateStopping
		inst.deadAt = time.Now().Add(g.TerminateDelay)
	}
	return nil
}

func (g *SimGateway) WaitForState(ctx context.Context, providerID string, target RuntimeState) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := g.DescribeStatus(ctx, providerID)
		if err != nil {
			return err
		}
		if st.RuntimeState == target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (g *SimGateway) DescribeStatus(ctx context.Context, providerID string) (InstanceStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	inst, ok := g.instances[providerID]
	if !ok {
		return InstanceStatus{}, fmt.Errorf("sim: instance %s not found", providerID)
	}
	now := time.Now()
	switch inst.state {
	case StatePending:
		if !now.Before(inst.runningAt) {
			inst.state = StateRunning
		}
	case StateStopping:
		if !now.Before(inst.deadAt) {
			inst.state = StateTerminated
		}
	}
	ok = inst.state == StateRunning
	return InstanceStatus{
		RuntimeState: inst.state,
		InstanceOK:   ok,
		SystemOK:     ok,
		PublicAddr:   inst.publicAddr,
		PrivateAddr:  inst.privateAddr,
	}, nil
}
