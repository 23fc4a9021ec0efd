package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/btmesh-protocol/btmesh-go/pkg/bearer"
	"github.com/btmesh-protocol/btmesh-go/pkg/keys"
	"github.com/btmesh-protocol/btmesh-go/pkg/log"
	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
	"github.com/btmesh-protocol/btmesh-go/pkg/registry"
	"github.com/btmesh-protocol/btmesh-go/pkg/sequence"
	"github.com/btmesh-protocol/btmesh-go/pkg/stack"
	"github.com/btmesh-protocol/btmesh-go/pkg/storage"
)

var (
	// ErrNotProvisioned indicates an operation requiring a provisioned
	// node.
	ErrNotProvisioned = errors.New("node not provisioned")
	// ErrAlreadyProvisioned indicates provisioning a node that already
	// holds a configuration.
	ErrAlreadyProvisioned = errors.New("node already provisioned")
	// ErrNotStarted indicates the driver has not been started.
	ErrNotStarted = errors.New("driver not started")
)

const (
	// defaultBeaconInterval is the secure / unprovisioned beacon period.
	defaultBeaconInterval = 3 * time.Second
	// defaultRetransmitInterval is how often queued segmented sends are
	// retransmitted.
	defaultRetransmitInterval = 100 * time.Millisecond
	// reassemblyExpiryInterval is how often stale reassembly windows are
	// swept.
	reassemblyExpiryInterval = time.Second
	// seqPersistInterval is how many sequence numbers may be allocated
	// before the baseline is written back to storage.
	seqPersistInterval = 100
)

// Config assembles a driver.
type Config struct {
	Bearer   bearer.Bearer
	Store    storage.BackingStore
	Registry *registry.Registry
	// DefaultConfig is the identity used when the store holds nothing.
	DefaultConfig storage.UnprovisionedConfiguration
	// Relay enables forwarding of traffic addressed to other nodes.
	Relay bool
	// Logger receives protocol events; nil disables logging.
	Logger log.Logger
	// BeaconInterval overrides the beacon period; zero selects the
	// default.
	BeaconInterval time.Duration
	// RetransmitInterval overrides the retransmission period; zero
	// selects the default.
	RetransmitInterval time.Duration
}

// provisionedNode is the runtime state of a provisioned driver.
type provisionedNode struct {
	stack    *stack.Stack
	sequence *sequence.Counter
	secrets  *keys.Secrets
}

// Driver is the node's state machine: Unprovisioned until a configuration
// is installed, Provisioned afterwards, back to Unprovisioned only through
// NodeReset.
type Driver struct {
	bearer   bearer.Bearer
	storage  *storage.Storage
	registry *registry.Registry
	relay    bool
	logger   log.Logger

	beaconInterval     time.Duration
	retransmitInterval time.Duration

	mu             sync.Mutex
	node           *provisionedNode
	deviceUUID     uuid.UUID
	nextSeqPersist uint32
	ivUpdateNoted  bool

	resetSignal *registry.Completion

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a driver; Start loads state and begins processing.
func New(cfg Config) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	beaconInterval := cfg.BeaconInterval
	if beaconInterval <= 0 {
		beaconInterval = defaultBeaconInterval
	}
	retransmitInterval := cfg.RetransmitInterval
	if retransmitInterval <= 0 {
		retransmitInterval = defaultRetransmitInterval
	}
	return &Driver{
		bearer:             cfg.Bearer,
		storage:            storage.New(cfg.Store, cfg.DefaultConfig),
		registry:           cfg.Registry,
		relay:              cfg.Relay,
		logger:             logger,
		beaconInterval:     beaconInterval,
		retransmitInterval: retransmitInterval,
		resetSignal:        registry.NewCompletion(),
	}
}

// Start loads the persisted configuration, installs the matching state and
// spawns the receive, beacon and maintenance loops. The loops stop when
// ctx ends or Stop is called.
func (d *Driver) Start(ctx context.Context) error {
	if err := d.storage.Init(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	if d.storage.IsProvisioned() {
		var node *provisionedNode
		err := d.storage.ReadProvisioned(func(cfg *storage.ProvisionedConfiguration) error {
			var buildErr error
			node, buildErr = d.buildNode(cfg)
			return buildErr
		})
		if err != nil {
			d.mu.Unlock()
			return err
		}
		d.node = node
	} else {
		cfg, err := d.storage.Unprovisioned()
		if err != nil {
			d.mu.Unlock()
			return err
		}
		d.deviceUUID = cfg.UUID
	}
	startState := d.stateName()
	d.mu.Unlock()

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(3)
	go d.receiveLoop()
	go d.beaconLoop()
	go d.maintenanceLoop()

	d.logStateChange("", startState, "startup")
	return nil
}

// Stop halts the loops and waits for them to exit.
func (d *Driver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// IsProvisioned reports the current state.
func (d *Driver) IsProvisioned() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.node != nil
}

// DeviceUUID returns the unprovisioned identity, or ErrNotProvisioned's
// inverse: an error once provisioned.
func (d *Driver) DeviceUUID() (uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.node != nil {
		return uuid.UUID{}, ErrAlreadyProvisioned
	}
	return d.deviceUUID, nil
}

// Provision persists a provisioned configuration and transitions the
// node. The transition happens only after the store write succeeds.
func (d *Driver) Provision(ctx context.Context, cfg *storage.ProvisionedConfiguration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.node != nil {
		return ErrAlreadyProvisioned
	}

	node, err := d.buildNode(cfg)
	if err != nil {
		return err
	}
	if err := d.storage.Provision(ctx, cfg); err != nil {
		return err
	}
	d.node = node
	d.logStateChange("unprovisioned", "provisioned", "provisioning complete")
	return nil
}

// NodeReset clears storage and returns the node to the unprovisioned
// state, then completes the reset signal. Storage is cleared first; a
// failed clear leaves the state untouched.
func (d *Driver) NodeReset(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.node == nil {
		return ErrNotProvisioned
	}

	if err := d.storage.Reset(ctx); err != nil {
		return err
	}
	cfg, err := d.storage.Unprovisioned()
	if err != nil {
		return err
	}
	d.node = nil
	d.deviceUUID = cfg.UUID
	d.ivUpdateNoted = false
	d.logStateChange("provisioned", "unprovisioned", "node reset")
	d.resetSignal.Complete(nil)
	return nil
}

// ResetSignal returns the completion signalled when NodeReset finishes.
func (d *Driver) ResetSignal() *registry.Completion {
	return d.resetSignal
}

// buildNode assembles the runtime stack from a persisted configuration.
func (d *Driver) buildNode(cfg *storage.ProvisionedConfiguration) (*provisionedNode, error) {
	secrets, err := keys.Restore(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("restore secrets: %w", err)
	}
	info, err := cfg.DeviceInfo.DeviceInfo()
	if err != nil {
		return nil, err
	}
	ivIndex, ivUpdate := cfg.NetworkState.IvIndexState()

	var subscriptions stack.Subscriptions
	for _, record := range cfg.Subscriptions {
		subscriptions = append(subscriptions, stack.Subscription{
			ElementIndex: record.ElementIndex,
			Address:      mesh.Address(record.Address),
			Label:        record.Label,
		})
	}

	st, err := stack.New(stack.Config{
		DeviceInfo:    info,
		Secrets:       secrets,
		IvIndex:       ivIndex,
		IvUpdate:      ivUpdate,
		Subscriptions: subscriptions,
		Logger:        d.logger,
	})
	if err != nil {
		return nil, err
	}

	d.nextSeqPersist = cfg.Sequence + seqPersistInterval
	return &provisionedNode{
		stack:    st,
		sequence: sequence.New(mesh.Seq(cfg.Sequence)),
		secrets:  secrets,
	}, nil
}

func (d *Driver) stateName() string {
	if d.node != nil {
		return "provisioned"
	}
	return "unprovisioned"
}

func (d *Driver) logStateChange(oldState, newState, reason string) {
	d.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerDriver,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDriver,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (d *Driver) logError(layer log.Layer, err error, context string) {
	d.logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     layer,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Layer: layer, Message: err.Error(), Context: context},
	})
}
