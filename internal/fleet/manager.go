// Package fleet owns instance records and drives their lifecycle state
// machine against the cloud provider gateway. It is the only writer of
// Instance records; background watch goroutines funnel their failures into
// the record's error field instead of raising them.
package fleet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/roambrowse/roam/internal/cloud"
	"github.com/roambrowse/roam/internal/events"
	"github.com/roambrowse/roam/internal/fault"
	"github.com/roambrowse/roam/internal/metrics"
	"github.com/roambrowse/roam/internal/models"
)

type record struct {
	inst *models.Instance
	// terminateIssued flips once Terminate has called the gateway; the
	// provisioning watch discards its writes after that point.
	terminateIssued bool
	cancelWatch     context.CancelFunc
}

// Manager is the instance lifecycle manager.
type Manager struct {
	gw     cloud.Gateway
	events *events.Publisher
	logger *zap.Logger
	tracer trace.Tracer

	mu      sync.RWMutex
	records map[string]*record
	// opMu serializes logical operations per instance id so unrelated
	// instances never queue behind one another.
	opMu sync.Map

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New returns a Manager polling against gw. pub may be nil.
func New(gw cloud.Gateway, pub *events.Publisher, logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		gw:      gw,
		events:  pub,
		logger:  logger,
		tracer:  otel.Tracer("roam/fleet"),
		records: make(map[string]*record),
		rootCtx: ctx,
		cancel:  cancel,
	}
}

// Launch creates an instance record in provisioning and returns it
// immediately; a watch goroutine drives it to running in the background.
// Fails only when the gateway create call itself fails, in which case no
// record is created.
func (m *Manager) Launch(ctx context.Context, owner, instanceClass, region string) (*models.Instance, error) {
	ctx, span := m.tracer.Start(ctx, "fleet.Launch",
		trace.WithAttributes(attribute.String("owner", owner), attribute.String("region", region)))
	defer span.End()

	if owner == "" {
		return nil, fault.InvalidArgument("owner is required")
	}
	providerID, err := m.gw.Create(ctx, cloud.LaunchSpec{
		Owner:         owner,
		InstanceClass: instanceClass,
		Region:        region,
	})
	if err != nil {
		return nil, fault.Provider(err, "create instance")
	}

	now := time.Now().UTC()
	inst := &models.Instance{
		ID:             uuid.NewString(),
		ProviderID:     providerID,
		Status:         models.StatusProvisioning,
		Region:         region,
		InstanceClass:  instanceClass,
		Health:         models.HealthUnknown,
		Owner:          owner,
		LaunchedAt:     now,
		LastActivityAt: now,
	}
	watchCtx, cancelWatch := context.WithCancel(m.rootCtx)
	rec := &record{inst: inst, cancelWatch: cancelWatch}

	m.mu.Lock()
	m.records[inst.ID] = rec
	m.mu.Unlock()

	metrics.InstanceLaunches.Inc()
	metrics.MoveInstance("", string(models.StatusProvisioning))
	m.events.InstanceTransition(inst.ID, owner, string(models.StatusProvisioning))
	m.logger.Info("instance launching",
		zap.String("id", inst.ID), zap.String("provider_id", providerID),
		zap.String("owner", owner), zap.String("region", region))

	// Snapshot before the watch starts: once it is running, inst may only
	// be read under m.mu.
	out := snapshot(inst)

	m.wg.Add(1)
	go m.watchProvisioning(watchCtx, inst.ID, providerID)

	return out, nil
}

// watchProvisioning blocks on the gateway until the instance is running,
// then publishes addresses and triggers a health check. One goroutine per
// launch; every failure lands in the record, never in a caller.
func (m *Manager) watchProvisioning(ctx context.Context, id, providerID string) {
	defer m.wg.Done()

	if err := m.gw.WaitForState(ctx, providerID, cloud.StateRunning); err != nil {
		m.failProvisioning(id, err)
		return
	}
	st, err := m.gw.DescribeStatus(ctx, providerID)
	if err != nil {
		m.failProvisioning(id, err)
		return
	}

	unlock := m.lockInstance(id)
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok || rec.terminateIssued || rec.inst.Status != models.StatusProvisioning {
		// A terminate won the race; its watch owns the record now.
		m.mu.Unlock()
		unlock()
		return
	}
	rec.inst.Status = models.StatusRunning
	rec.inst.PublicAddr = st.PublicAddr
	rec.inst.PrivateAddr = st.PrivateAddr
	rec.inst.LastActivityAt = time.Now().UTC()
	owner := rec.inst.Owner
	m.mu.Unlock()
	unlock()

	metrics.MoveInstance(string(models.StatusProvisioning), string(models.StatusRunning))
	m.events.InstanceTransition(id, owner, string(models.StatusRunning))
	m.logger.Info("instance running",
		zap.String("id", id), zap.String("public_addr", st.PublicAddr))

	m.CheckHealth(ctx, id)
}

// failProvisioning records a provisioning failure unless a terminate has
// been issued, in which case the write is discarded.
func (m *Manager) failProvisioning(id string, cause error) {
	unlock := m.lockInstance(id)
	defer unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.terminateIssued || rec.inst.Status.Terminal() {
		return
	}
	prev := rec.inst.Status
	rec.inst.Status = models.StatusError
	rec.inst.ErrorMessage = cause.Error()
	rec.inst.LastActivityAt = time.Now().UTC()
	metrics.MoveInstance(string(prev), string(models.StatusError))
	m.events.InstanceTransition(id, rec.inst.Owner, string(models.StatusError))
	m.logger.Warn("provisioning failed", zap.String("id", id), zap.Error(cause))
}

// Terminate issues a provider terminate and drives the record to terminated
// through a termination watch. Unknown ids fail NotFound; terminal records
// are an idempotent no-op.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	ctx, span := m.tracer.Start(ctx, "fleet.Terminate",
		trace.WithAttributes(attribute.String("instance_id", id)))
	defer span.End()

	unlock := m.lockInstance(id)
	defer unlock()

	m.mu.RLock()
	rec, ok := m.records[id]
	var (
		status     models.InstanceStatus
		providerID string
		inFlight   bool
	)
	if ok {
		status = rec.inst.Status
		providerID = rec.inst.ProviderID
		inFlight = rec.terminateIssued
	}
	m.mu.RUnlock()

	if !ok {
		return fault.NotFound("instance %s not found", id)
	}
	if status.Terminal() || inFlight {
		return nil
	}

	if err := m.gw.Terminate(ctx, providerID); err != nil {
		return fault.Provider(err, "terminate instance %s", id)
	}

	watchCtx, cancelWatch := context.WithCancel(m.rootCtx)
	m.mu.Lock()
	rec.terminateIssued = true
	rec.cancelWatch() // stop the provisioning watch, if still running
	rec.cancelWatch = cancelWatch
	prev := rec.inst.Status
	rec.inst.Status = models.StatusStopping
	rec.inst.LastActivityAt = time.Now().UTC()
	owner := rec.inst.Owner
	m.mu.Unlock()

	metrics.InstanceTerminations.Inc()
	metrics.MoveInstance(string(prev), string(models.StatusStopping))
	m.events.InstanceTransition(id, owner, string(models.StatusStopping))
	m.logger.Info("instance stopping", zap.String("id", id))

	m.wg.Add(1)
	go m.watchTermination(watchCtx, id, providerID)
	return nil
}

func (m *Manager) watchTermination(ctx context.Context, id, providerID string) {
	defer m.wg.Done()

	waitErr := m.gw.WaitForState(ctx, providerID, cloud.StateTerminated)

	unlock := m.lockInstance(id)
	defer unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.inst.Status.Terminal() {
		return
	}
	prev := rec.inst.Status
	if waitErr != nil {
		rec.inst.Status = models.StatusError
		rec.inst.ErrorMessage = waitErr.Error()
		m.logger.Warn("termination failed", zap.String("id", id), zap.Error(waitErr))
	} else {
		rec.inst.Status = models.StatusTerminated
		m.logger.Info("instance terminated", zap.String("id", id))
	}
	rec.inst.LastActivityAt = time.Now().UTC()
	metrics.MoveInstance(string(prev), string(rec.inst.Status))
	m.events.InstanceTransition(id, rec.inst.Owner, string(rec.inst.Status))
}

// CheckHealth queries the provider's status checks and updates the record's
// health field. Healthy iff the runtime state is running and both the
// instance and system checks report ok. Unknown ids yield false, not an
// error; lifecycle status is never altered here.
func (m *Manager) CheckHealth(ctx context.Context, id string) bool {
	m.mu.RLock()
	rec, ok := m.records[id]
	var providerID string
	if ok {
		providerID = rec.inst.ProviderID
	}
	m.mu.RUnlock()
	if !ok {
		return false
	}

	st, err := m.gw.DescribeStatus(ctx, providerID)
	healthy := err == nil &&
		st.RuntimeState == cloud.StateRunning && st.InstanceOK && st.SystemOK

	m.mu.Lock()
	if rec, ok := m.records[id]; ok {
		if healthy {
			rec.inst.Health = models.HealthHealthy
		} else {
			rec.inst.Health = models.HealthUnhealthy
		}
	}
	m.mu.Unlock()
	return healthy
}

// Get returns a copy of the instance record.
func (m *Manager) Get(id string) (*models.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fault.NotFound("instance %s not found", id)
	}
	return snapshot(rec.inst), nil
}

// ListByOwner returns copies of the owner's instances, oldest first.
func (m *Manager) ListByOwner(owner string) []*models.Instance {
	m.mu.RLock()
	out := make([]*models.Instance, 0)
	for _, rec := range m.records {
		if rec.inst.Owner == owner {
			out = append(out, snapshot(rec.inst))
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LaunchedAt.Equal(out[j].LaunchedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LaunchedAt.Before(out[j].LaunchedAt)
	})
	return out
}

// Shutdown cancels every watch goroutine and waits for them to drain.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// lockInstance serializes operations for one instance id.
func (m *Manager) lockInstance(id string) (unlock func()) {
	v, _ := m.opMu.LoadOrStore(id, &sync.Mutex{})
	mtx := v.(*sync.Mutex)
	mtx.Lock()
	return mtx.Unlock
}

func snapshot(in *models.Instance) *models.Instance {
	cp := *in
	return &cp
}
