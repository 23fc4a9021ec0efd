package driver

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/btmesh-protocol/btmesh-go/pkg/bearer"
	"github.com/btmesh-protocol/btmesh-go/pkg/log"
	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
	"github.com/btmesh-protocol/btmesh-go/pkg/pdu"
	"github.com/btmesh-protocol/btmesh-go/pkg/registry"
	"github.com/btmesh-protocol/btmesh-go/pkg/stack"
)

// receiveLoop pulls frames off the bearer until the driver stops. This is
// the single goroutine that owns inbound stack processing.
func (d *Driver) receiveLoop() {
	defer d.wg.Done()
	for {
		frame, err := d.bearer.Receive(d.ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || d.ctx.Err() != nil {
				return
			}
			d.logError(log.LayerBearer, err, "receive")
			continue
		}
		d.handleFrame(frame)
	}
}

func (d *Driver) handleFrame(frame []byte) {
	kind, payload, err := bearer.ClassifyFrame(frame)
	if err != nil {
		d.logError(log.LayerBearer, err, "classify frame")
		return
	}
	switch kind {
	case bearer.FrameNetwork:
		d.handleNetworkFrame(payload)
	case bearer.FrameBeacon:
		d.handleBeaconFrame(payload)
	case bearer.FrameProvisioning:
		// The provisioning handshake lives outside the driver; its
		// collaborator installs the result through Provision.
	default:
		// Foreign advertising traffic shares the medium. Not ours.
	}
}

// handleNetworkFrame drives one network PDU through the stack. While
// unprovisioned the node cannot decrypt anything, so provisioned-only
// traffic is dropped without comment.
func (d *Driver) handleNetworkFrame(payload []byte) {
	d.mu.Lock()
	node := d.node
	if node == nil {
		d.mu.Unlock()
		return
	}

	networkPDU, err := pdu.ParseNetworkPDU(payload)
	if err != nil {
		d.mu.Unlock()
		d.logError(log.LayerNetwork, err, "parse network pdu")
		return
	}
	result, err := node.stack.ProcessInboundNetworkPDU(networkPDU)
	d.mu.Unlock()
	if err != nil {
		d.logError(log.LayerNetwork, err, "process inbound")
		return
	}
	if result == nil {
		return
	}

	if result.Ack != nil {
		d.sendSegmentAck(node, result.Ack)
	}
	if result.Access != nil {
		if err := d.registry.Dispatch(d.ctx, result.Access, d); err != nil {
			// Unknown opcodes are normal on a shared medium.
			if !errors.Is(err, registry.ErrModelNotFound) {
				d.logError(log.LayerAccess, err, "dispatch")
			}
		}
	}
	if d.relay && result.Cleartext.Meta.ShouldRelay {
		d.relayPDU(node, result.Cleartext)
	}
}

// sendSegmentAck answers a reassembly window with its current block ack.
func (d *Driver) sendSegmentAck(node *provisionedNode, ack *stack.AckContext) {
	info := node.stack.DeviceInfo()
	index := ack.Meta.LocalElementIndex
	if index == pdu.NoLocalElement {
		index = 0
	}
	src := info.PrimaryAddress + mesh.UnicastAddress(index)

	d.mu.Lock()
	ackPDU, err := node.stack.ProcessOutboundBlockAck(node.sequence, *ack, src)
	d.mu.Unlock()
	if err != nil {
		d.logError(log.LayerLower, err, "segment ack")
		return
	}
	d.transmitNetworkPDUs(d.ctx, []*pdu.NetworkPDU{ackPDU})
}

// relayPDU forwards traffic for other nodes, TTL permitting.
func (d *Driver) relayPDU(node *provisionedNode, clear *pdu.CleartextNetworkPDU) {
	if node.stack.DeviceInfo().IsLocalUnicast(clear.Dst) {
		return
	}
	relayed, ok := clear.Relay()
	if !ok {
		return
	}

	d.mu.Lock()
	networkPDU, err := node.stack.EncryptNetworkPDU(relayed)
	d.mu.Unlock()
	if err != nil {
		d.logError(log.LayerNetwork, err, "relay encrypt")
		return
	}

	d.logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerNetwork,
		Category:  log.CategoryMessage,
		Src:       uint16(relayed.Src),
		Dst:       uint16(relayed.Dst),
		Seq:       uint32(relayed.Seq),
		PDU:       &log.PDUEvent{TTL: uint8(relayed.TTL), Relayed: true},
	})
	d.transmitNetworkPDUs(d.ctx, []*pdu.NetworkPDU{networkPDU})
}

// handleBeaconFrame consumes mesh beacons appropriate to the current
// state. Unprovisioned device beacons from peers carry nothing for us in
// either state; secure beacons matter only once provisioned.
func (d *Driver) handleBeaconFrame(payload []byte) {
	beaconPDU, err := bearer.ParseBeacon(payload)
	if err != nil {
		d.logError(log.LayerBearer, err, "parse beacon")
		return
	}

	secure, ok := beaconPDU.(bearer.SecureBeacon)
	if !ok {
		return
	}
	d.mu.Lock()
	provisioned := d.node != nil
	d.mu.Unlock()
	if !provisioned {
		return
	}
	d.logger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerDriver,
		Category:  log.CategoryBeacon,
		Seq:       uint32(secure.IvIndex),
	})
}

// transmitNetworkPDUs frames and sends network PDUs on the bearer.
func (d *Driver) transmitNetworkPDUs(ctx context.Context, pdus []*pdu.NetworkPDU) {
	for _, networkPDU := range pdus {
		frame, err := bearer.EmitFrame(bearer.TypeMeshMessage, networkPDU.Emit())
		if err != nil {
			d.logError(log.LayerBearer, err, "emit frame")
			continue
		}
		if err := d.bearer.Transmit(ctx, frame); err != nil {
			d.logError(log.LayerBearer, err, "transmit")
		}
	}
}
