package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskcore/internal/config"
	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/store"
)

// ErrShutdownTimeout is returned by Shutdown when workers are still running at the deadline.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

// JobOutcomeRecorder receives the terminal outcome of tasks spawned by a recurring job.
type JobOutcomeRecorder interface {
	RecordOutcome(ctx context.Context, jobID int64, success bool) error
}

// PoolDeps are the collaborators a Pool needs. Gate, Delivery and Jobs are optional.
type PoolDeps struct {
	Store    store.TaskStore
	Claimer  *Claimer
	Executor Executor
	Gate     *Gate
	Delivery Delivery
	Jobs     JobOutcomeRecorder
	Logger   *slog.Logger
	Clock    func() time.Time
}

type slotKey struct {
	tenantID string
	class    domain.QueueClass
	index    int
}

// SlotInfo describes one live worker.
type SlotInfo struct {
	TenantID   string            `json:"tenant_id"`
	QueueClass domain.QueueClass `json:"queue_class"`
	SlotIndex  int               `json:"slot_index"`
	WorkerID   string            `json:"worker_id"`
}

// Pool spawns workers per (tenant, queue class) in response to the backlog and
// retires them when they run out of work.
type Pool struct {
	cfg               config.PoolConfig
	heartbeatInterval time.Duration
	instanceID        string

	store    store.TaskStore
	claimer  *Claimer
	executor Executor
	gate     *Gate
	delivery Delivery
	jobs     JobOutcomeRecorder
	now      func() time.Time
	logger   *slog.Logger

	// mu guards slots and rr only; it is never held while executing a task.
	mu    sync.Mutex
	slots map[slotKey]*worker
	rr    map[domain.QueueClass]int

	notify   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	workers  sync.WaitGroup
	loops    sync.WaitGroup
	baseCtx  context.Context
}

// NewPool creates a pool. Call Start to begin dispatching.
func NewPool(cfg config.PoolConfig, claimCfg config.ClaimConfig, deps PoolDeps) (*Pool, error) {
	if deps.Store == nil || deps.Claimer == nil || deps.Executor == nil {
		return nil, errors.New("worker pool requires a store, a claimer and an executor")
	}
	if cfg.InstanceCap <= 0 {
		return nil, fmt.Errorf("instance cap must be positive, got %d", cfg.InstanceCap)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Delivery == nil {
		deps.Delivery = NewLogDelivery(logger, false)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	heartbeat := claimCfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = time.Minute
	}

	instanceID := uuid.NewString()
	return &Pool{
		cfg:               cfg,
		heartbeatInterval: heartbeat,
		instanceID:        instanceID,
		store:             deps.Store,
		claimer:           deps.Claimer,
		executor:          deps.Executor,
		gate:              deps.Gate,
		delivery:          deps.Delivery,
		jobs:              deps.Jobs,
		now:               deps.Clock,
		logger: logger.With(
			slog.String("component", "worker_pool"),
			slog.String("instance_id", instanceID)),
		slots:   make(map[slotKey]*worker),
		rr:      make(map[domain.QueueClass]int),
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		baseCtx: context.Background(),
	}, nil
}

// InstanceID identifies this pool in worker ids.
func (p *Pool) InstanceID() string {
	return p.instanceID
}

// Start runs the dispatch loop until Shutdown. Executions inherit ctx's values
// but not its cancellation, so shutting down never interrupts a running task.
func (p *Pool) Start(ctx context.Context) {
	p.baseCtx = context.WithoutCancel(ctx)
	p.loops.Add(1)
	go p.dispatchLoop()
	p.logger.Info("worker pool started",
		slog.Int("instance_cap", p.cfg.InstanceCap),
		slog.Duration("dispatch_interval", p.cfg.DispatchInterval))
}

// Notify asks the dispatcher to run a cycle soon. It never blocks.
func (p *Pool) Notify() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Shutdown stops dispatching and waits for workers to finish their current
// task, up to the configured shutdown timeout or ctx's deadline.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })
	p.loops.Wait()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()

	timeout := p.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	p.logger.Warn("worker pool shutdown timed out", slog.Int("active_workers", p.ActiveTotal()))
	return ErrShutdownTimeout
}

func (p *Pool) dispatchLoop() {
	defer p.loops.Done()

	interval := p.cfg.DispatchInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Dispatch(p.baseCtx)
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		case <-p.notify:
		}
		p.Dispatch(p.baseCtx)
	}
}

// Dispatch runs one dispatch cycle and returns how many workers it spawned.
// Foreground work is served entirely before background work; within a class,
// tenants take turns one spawn at a time starting from a rotating offset.
// Workers that are about to claim already cover part of the backlog.
func (p *Pool) Dispatch(ctx context.Context) int {
	if p.stopping() {
		return 0
	}

	backlog, err := p.store.Backlog(ctx, p.now().UTC())
	if err != nil {
		p.logger.Error("failed to read backlog", slog.String("error", err.Error()))
		return 0
	}

	pending := make(map[domain.QueueClass]map[string]int)
	for _, e := range backlog {
		if e.Pending <= 0 {
			continue
		}
		if pending[e.QueueClass] == nil {
			pending[e.QueueClass] = make(map[string]int)
		}
		pending[e.QueueClass][e.TenantID] += e.Pending
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping() {
		return 0
	}

	spawned := 0
	for _, class := range domain.QueueClasses() {
		byTenant := pending[class]
		if len(byTenant) == 0 {
			continue
		}
		tenants := make([]string, 0, len(byTenant))
		for tenant := range byTenant {
			tenants = append(tenants, tenant)
		}
		sort.Strings(tenants)
		offset := p.rr[class] % len(tenants)
		tenants = append(append(make([]string, 0, len(tenants)), tenants[offset:]...), tenants[:offset]...)
		p.rr[class]++

		uncovered := make(map[string]int, len(tenants))
		for _, tenant := range tenants {
			uncovered[tenant] = byTenant[tenant] - p.claimingLocked(tenant, class)
		}
		for progress := true; progress; {
			progress = false
			for _, tenant := range tenants {
				if uncovered[tenant] <= 0 || !p.canSpawnLocked(tenant, class) {
					continue
				}
				p.spawnLocked(ctx, tenant, class)
				uncovered[tenant]--
				spawned++
				progress = true
			}
		}
	}

	if spawned > 0 {
		p.logger.Debug("dispatch cycle spawned workers", slog.Int("spawned", spawned))
	}
	return spawned
}

// TenantCap returns the worker ceiling for tenantID in class.
func (p *Pool) TenantCap(tenantID string, class domain.QueueClass) int {
	override, ok := p.cfg.TenantOverrides[tenantID]
	if class == domain.QueueBackground {
		if ok && override.Background > 0 {
			return override.Background
		}
		return p.cfg.TenantBackgroundCap
	}
	if ok && override.Foreground > 0 {
		return override.Foreground
	}
	return p.cfg.TenantForegroundCap
}

func (p *Pool) canSpawnLocked(tenantID string, class domain.QueueClass) bool {
	if len(p.slots) >= p.cfg.InstanceCap {
		return false
	}
	var classActive, tenantActive int
	for key := range p.slots {
		if key.class != class {
			continue
		}
		classActive++
		if key.tenantID == tenantID {
			tenantActive++
		}
	}
	if class == domain.QueueBackground && p.cfg.BackgroundInstanceCap > 0 && classActive >= p.cfg.BackgroundInstanceCap {
		return false
	}
	return tenantActive < p.TenantCap(tenantID, class)
}

// claimingLocked counts workers for (tenant, class) that will claim before going idle.
func (p *Pool) claimingLocked(tenantID string, class domain.QueueClass) int {
	n := 0
	for key, w := range p.slots {
		if key.tenantID == tenantID && key.class == class && w.claiming.Load() {
			n++
		}
	}
	return n
}

// spawnLocked registers a worker in the lowest free slot for (tenant, class) and starts it.
func (p *Pool) spawnLocked(ctx context.Context, tenantID string, class domain.QueueClass) {
	key := slotKey{tenantID: tenantID, class: class}
	for {
		if _, taken := p.slots[key]; !taken {
			break
		}
		key.index++
	}

	w := &worker{
		pool: p,
		key:  key,
		id:   fmt.Sprintf("%s/%s/%s/%d", p.instanceID, tenantID, class, key.index),
	}
	w.logger = p.logger.With(
		slog.String("worker_id", w.id),
		slog.String("tenant_id", tenantID),
		slog.String("queue_class", string(class)))
	w.claiming.Store(true)
	p.slots[key] = w

	p.workers.Add(1)
	go w.run(ctx)
}

// retire removes w from the registry.
func (p *Pool) retire(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.slots[w.key] == w {
		delete(p.slots, w.key)
	}
}

func (p *Pool) stopping() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// Active returns the number of live workers for tenantID in class.
func (p *Pool) Active(tenantID string, class domain.QueueClass) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for key := range p.slots {
		if key.tenantID == tenantID && key.class == class {
			n++
		}
	}
	return n
}

// ActiveTotal returns the number of live workers.
func (p *Pool) ActiveTotal() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Slots lists live workers ordered by tenant, class and slot index.
func (p *Pool) Slots() []SlotInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SlotInfo, 0, len(p.slots))
	for key, w := range p.slots {
		out = append(out, SlotInfo{TenantID: key.tenantID, QueueClass: key.class, SlotIndex: key.index, WorkerID: w.id})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		if out[i].QueueClass != out[j].QueueClass {
			return out[i].QueueClass < out[j].QueueClass
		}
		return out[i].SlotIndex < out[j].SlotIndex
	})
	return out
}
