package driver

import (
	"context"
	"time"

	"github.com/btmesh-protocol/btmesh-go/pkg/bearer"
	"github.com/btmesh-protocol/btmesh-go/pkg/deadline"
	"github.com/btmesh-protocol/btmesh-go/pkg/log"
	"github.com/btmesh-protocol/btmesh-go/pkg/pdu"
	"github.com/btmesh-protocol/btmesh-go/pkg/registry"
	"github.com/btmesh-protocol/btmesh-go/pkg/storage"
)

var _ registry.Dispatcher = (*Driver)(nil)

// Send encrypts, frames and transmits an access message. Models reach this
// through the dispatcher they are handed.
func (d *Driver) Send(ctx context.Context, message *pdu.AccessMessage) error {
	d.mu.Lock()
	node := d.node
	if node == nil {
		d.mu.Unlock()
		return ErrNotProvisioned
	}
	pdus, err := node.stack.ProcessOutboundMessage(node.sequence, message)
	d.mu.Unlock()
	if err != nil {
		return err
	}

	d.persistSequence(ctx, node)
	d.noteIvUpdateNeed(node)
	d.transmitNetworkPDUs(ctx, pdus)

	meta := message.AccessMeta()
	d.logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerAccess,
		Category:  log.CategoryMessage,
		Src:       uint16(meta.Src),
		Dst:       uint16(meta.Dst),
		PDU: &log.PDUEvent{
			Segmented: len(pdus) > 1,
			TTL:       uint8(meta.TTL),
			Opcode:    message.Opcode().Bytes(),
		},
	})
	return nil
}

// SendWithCompletion sends and then completes the signal with the send
// outcome, so a model can chain work after its response left the node.
func (d *Driver) SendWithCompletion(ctx context.Context, message *pdu.AccessMessage, signal *registry.Completion) error {
	err := d.Send(ctx, message)
	if signal != nil {
		signal.Complete(err)
	}
	return err
}

// persistSequence writes the sequence baseline back once allocation crosses
// the watermark, so a restart resumes past everything ever transmitted.
func (d *Driver) persistSequence(ctx context.Context, node *provisionedNode) {
	d.mu.Lock()
	current := uint32(node.sequence.Current())
	if current < d.nextSeqPersist {
		d.mu.Unlock()
		return
	}
	d.nextSeqPersist = current + seqPersistInterval
	d.mu.Unlock()

	err := d.storage.ModifyProvisioned(ctx, func(cfg *storage.ProvisionedConfiguration) error {
		cfg.Sequence = current
		return nil
	})
	if err != nil {
		d.logError(log.LayerDriver, err, "persist sequence")
	}
}

// noteIvUpdateNeed records, once, that the sequence space is running out
// and the network should begin an IV-index update.
func (d *Driver) noteIvUpdateNeed(node *provisionedNode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ivUpdateNoted || !node.sequence.NeedsIvUpdate() {
		return
	}
	d.ivUpdateNoted = true
	d.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerDriver,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDriver,
			NewState: "iv update needed",
			Reason:   "sequence watermark crossed",
		},
	})
}

// beaconLoop emits the beacon matching the current state: unprovisioned
// device beacons while waiting for provisioning, secure network beacons
// afterwards. The first beacon goes out immediately.
func (d *Driver) beaconLoop() {
	defer d.wg.Done()
	beat := deadline.New(d.beaconInterval, true)
	for {
		if err := beat.Wait(d.ctx); err != nil {
			return
		}
		d.sendBeacon()
	}
}

func (d *Driver) sendBeacon() {
	d.mu.Lock()
	node := d.node
	deviceUUID := d.deviceUUID
	d.mu.Unlock()

	var beacon bearer.Beacon
	if node == nil {
		beacon = bearer.NewUnprovisionedBeacon(deviceUUID)
	} else {
		key, err := node.secrets.NetworkKeyByIndex(0)
		if err != nil {
			d.logError(log.LayerDriver, err, "beacon key")
			return
		}
		ivIndex, ivUpdate := node.stack.IvIndexState()
		secure := bearer.SecureBeacon{
			NetworkID: key.NetworkID(),
			IvIndex:   ivIndex,
			IvUpdate:  bool(ivUpdate),
		}
		secure.Auth, err = key.BeaconAuthentication(secure.Flags(), ivIndex)
		if err != nil {
			d.logError(log.LayerDriver, err, "beacon auth")
			return
		}
		beacon = secure
	}

	frame, err := beacon.EmitAdvertising()
	if err != nil {
		d.logError(log.LayerBearer, err, "emit beacon")
		return
	}
	if err := d.bearer.Transmit(d.ctx, frame); err != nil {
		d.logError(log.LayerBearer, err, "transmit beacon")
		return
	}
	d.logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerBearer,
		Category:  log.CategoryBeacon,
		Frame:     &log.FrameEvent{Kind: bearer.TypeMeshBeacon, Size: len(frame)},
	})
}

// maintenanceLoop drives the periodic work of a provisioned node:
// retransmitting unacknowledged segments and sweeping stale reassembly
// windows.
func (d *Driver) maintenanceLoop() {
	defer d.wg.Done()
	retransmit := time.NewTicker(d.retransmitInterval)
	defer retransmit.Stop()
	expiry := time.NewTicker(reassemblyExpiryInterval)
	defer expiry.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-retransmit.C:
			d.retransmitPending()
		case <-expiry.C:
			d.expireReassembly()
		}
	}
}

func (d *Driver) retransmitPending() {
	d.mu.Lock()
	node := d.node
	if node == nil {
		d.mu.Unlock()
		return
	}
	pdus, err := node.stack.Retransmit(node.sequence)
	d.mu.Unlock()
	if err != nil {
		d.logError(log.LayerLower, err, "retransmit")
	}
	d.transmitNetworkPDUs(d.ctx, pdus)
}

func (d *Driver) expireReassembly() {
	d.mu.Lock()
	node := d.node
	if node == nil {
		d.mu.Unlock()
		return
	}
	node.stack.ExpireReassembly(time.Now())
	d.mu.Unlock()
}
