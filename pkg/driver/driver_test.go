package driver

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/btmesh-protocol/btmesh-go/pkg/bearer"
	"github.com/btmesh-protocol/btmesh-go/pkg/crypto"
	"github.com/btmesh-protocol/btmesh-go/pkg/keys"
	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
	"github.com/btmesh-protocol/btmesh-go/pkg/pdu"
	"github.com/btmesh-protocol/btmesh-go/pkg/registry"
	"github.com/btmesh-protocol/btmesh-go/pkg/storage"
)

func mustKey(t *testing.T, s string) crypto.Key {
	t.Helper()
	raw, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	key, err := crypto.ParseKey(raw)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func mustOpcode(t *testing.T, a, b byte) pdu.Opcode {
	t.Helper()
	opcode, err := pdu.TwoOctetOpcode(a, b)
	if err != nil {
		t.Fatal(err)
	}
	return opcode
}

// testConfigs builds two provisioned configurations sharing a network and
// application key, ready to install into a driver pair.
func testConfigs(t *testing.T) (*storage.ProvisionedConfiguration, *storage.ProvisionedConfiguration, keys.ApplicationKeyHandle) {
	t.Helper()

	networkKey, err := crypto.NewNetworkKey(mustKey(t, "7dd7364cd842ad18c17c2b820c84c3d6"))
	if err != nil {
		t.Fatal(err)
	}
	applicationKey, err := crypto.NewApplicationKey(mustKey(t, "63964771734fbd76e3b40519d1d94a48"))
	if err != nil {
		t.Fatal(err)
	}
	deviceKey := crypto.NewDeviceKey(mustKey(t, "9d6dd0e96eb25dc19a40ed9914f8f03f"))

	secrets := keys.NewSecrets(deviceKey, networkKey)
	if err := secrets.AddApplicationKey(0, 0, applicationKey); err != nil {
		t.Fatal(err)
	}
	snapshot := secrets.Snapshot()

	configFor := func(address uint16, seq uint32) *storage.ProvisionedConfiguration {
		return &storage.ProvisionedConfiguration{
			Sequence:     seq,
			NetworkState: storage.NetworkState{IvIndex: 0x12345678},
			Secrets:      snapshot,
			DeviceInfo:   storage.DeviceInfoRecord{PrimaryAddress: address, ElementCount: 1},
		}
	}
	handle := keys.ApplicationKeyHandle{Index: 0, AID: applicationKey.AID()}
	return configFor(0x0A01, 100), configFor(0x0B01, 3000), handle
}

// chanModel records every access message it handles and optionally replies
// through the dispatcher it was handed.
type chanModel struct {
	opcodes  []pdu.Opcode
	received chan *pdu.AccessMessage
	reply    func(ctx context.Context, message *pdu.AccessMessage, out registry.Dispatcher) error
}

func newChanModel(opcodes ...pdu.Opcode) *chanModel {
	return &chanModel{opcodes: opcodes, received: make(chan *pdu.AccessMessage, 8)}
}

func (m *chanModel) Identifier() registry.ModelID { return registry.SigModelID(0x1000) }
func (m *chanModel) Opcodes() []pdu.Opcode        { return m.opcodes }
func (m *chanModel) Handle(ctx context.Context, message *pdu.AccessMessage, out registry.Dispatcher) error {
	m.received <- message
	if m.reply != nil {
		return m.reply(ctx, message, out)
	}
	return nil
}

func testRegistry(t *testing.T, models ...registry.Model) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Identity{CompanyID: 0x05F1, ProductID: 1, VersionID: 1})
	element, err := reg.AddElement(0)
	if err != nil {
		t.Fatal(err)
	}
	for _, model := range models {
		if err := element.AddModel(model); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func startTestDriver(t *testing.T, end bearer.Bearer, store storage.BackingStore, reg *registry.Registry) *Driver {
	t.Helper()
	d := New(Config{
		Bearer:             end,
		Store:              store,
		Registry:           reg,
		DefaultConfig:      storage.NewUnprovisionedConfiguration(),
		RetransmitInterval: 20 * time.Millisecond,
	})
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Stop)
	return d
}

func waitMessage(t *testing.T, ch chan *pdu.AccessMessage) *pdu.AccessMessage {
	t.Helper()
	select {
	case message := <-ch:
		return message
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func accessMessage(t *testing.T, opcode pdu.Opcode, parameters []byte, handle keys.ApplicationKeyHandle, dst mesh.Address) *pdu.AccessMessage {
	t.Helper()
	return pdu.NewAccessMessage(opcode, parameters, pdu.AccessMetadata{
		KeyHandle:         keys.ForApplicationKey(handle),
		Dst:               dst,
		TTL:               5,
		LocalElementIndex: pdu.NoLocalElement,
	})
}

func TestSendDeliversToPeerModel(t *testing.T) {
	get := mustOpcode(t, 0x82, 0x31)
	endA, endB := bearer.NewLoopbackPair(32)
	t.Cleanup(func() { endA.Close() })

	cfgA, cfgB, handle := testConfigs(t)
	model := newChanModel(get)

	a := startTestDriver(t, endA, storage.NewMemoryStore(), testRegistry(t))
	b := startTestDriver(t, endB, storage.NewMemoryStore(), testRegistry(t, model))

	ctx := context.Background()
	if err := a.Provision(ctx, cfgA); err != nil {
		t.Fatal(err)
	}
	if err := b.Provision(ctx, cfgB); err != nil {
		t.Fatal(err)
	}

	if err := a.Send(ctx, accessMessage(t, get, []byte{1, 2, 3, 4}, handle, mesh.Address(0x0B01))); err != nil {
		t.Fatal(err)
	}

	got := waitMessage(t, model.received)
	if !got.Opcode().Matches([]byte{0x82, 0x31}) {
		t.Errorf("opcode = %x", got.Opcode().Bytes())
	}
	if string(got.Parameters()) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("parameters = %x", got.Parameters())
	}
	if got.AccessMeta().Src != 0x0A01 {
		t.Errorf("src = %#04x, want 0x0A01", got.AccessMeta().Src)
	}
}

func TestSegmentedSendDelivered(t *testing.T) {
	get := mustOpcode(t, 0x82, 0x31)
	endA, endB := bearer.NewLoopbackPair(32)
	t.Cleanup(func() { endA.Close() })

	cfgA, cfgB, handle := testConfigs(t)
	model := newChanModel(get)

	a := startTestDriver(t, endA, storage.NewMemoryStore(), testRegistry(t))
	b := startTestDriver(t, endB, storage.NewMemoryStore(), testRegistry(t, model))

	ctx := context.Background()
	if err := a.Provision(ctx, cfgA); err != nil {
		t.Fatal(err)
	}
	if err := b.Provision(ctx, cfgB); err != nil {
		t.Fatal(err)
	}

	parameters := make([]byte, 30)
	for i := range parameters {
		parameters[i] = byte(i)
	}
	if err := a.Send(ctx, accessMessage(t, get, parameters, handle, mesh.Address(0x0B01))); err != nil {
		t.Fatal(err)
	}

	got := waitMessage(t, model.received)
	if string(got.Parameters()) != string(parameters) {
		t.Errorf("parameters = %x", got.Parameters())
	}
}

func TestModelReplyReachesSender(t *testing.T) {
	get := mustOpcode(t, 0x82, 0x31)
	status := mustOpcode(t, 0x82, 0x32)
	endA, endB := bearer.NewLoopbackPair(32)
	t.Cleanup(func() { endA.Close() })

	cfgA, cfgB, handle := testConfigs(t)
	clientModel := newChanModel(status)
	serverModel := newChanModel(get)
	serverModel.reply = func(ctx context.Context, message *pdu.AccessMessage, out registry.Dispatcher) error {
		reply := pdu.NewAccessMessage(status, []byte{0x01}, pdu.AccessMetadata{
			KeyHandle:         message.AccessMeta().KeyHandle,
			Dst:               message.AccessMeta().Src.Address(),
			TTL:               5,
			LocalElementIndex: pdu.NoLocalElement,
		})
		signal := registry.NewCompletion()
		if err := out.SendWithCompletion(ctx, reply, signal); err != nil {
			return err
		}
		return signal.Wait(ctx)
	}

	a := startTestDriver(t, endA, storage.NewMemoryStore(), testRegistry(t, clientModel))
	b := startTestDriver(t, endB, storage.NewMemoryStore(), testRegistry(t, serverModel))

	ctx := context.Background()
	if err := a.Provision(ctx, cfgA); err != nil {
		t.Fatal(err)
	}
	if err := b.Provision(ctx, cfgB); err != nil {
		t.Fatal(err)
	}

	if err := a.Send(ctx, accessMessage(t, get, nil, handle, mesh.Address(0x0B01))); err != nil {
		t.Fatal(err)
	}

	waitMessage(t, serverModel.received)
	reply := waitMessage(t, clientModel.received)
	if !reply.Opcode().Matches([]byte{0x82, 0x32}) {
		t.Errorf("opcode = %x", reply.Opcode().Bytes())
	}
	if reply.AccessMeta().Src != 0x0B01 {
		t.Errorf("src = %#04x, want 0x0B01", reply.AccessMeta().Src)
	}
}

// waitBeaconPayload reads raw frames off a loopback endpoint until a mesh
// beacon of the wanted type appears.
func waitBeaconPayload(t *testing.T, end *bearer.Loopback, beaconType byte) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		frame, err := end.Receive(ctx)
		if err != nil {
			t.Fatalf("no beacon of type %#02x: %v", beaconType, err)
		}
		kind, payload, err := bearer.ClassifyFrame(frame)
		if err != nil || kind != bearer.FrameBeacon || len(payload) == 0 {
			continue
		}
		if payload[0] == beaconType {
			return payload
		}
	}
}

func TestUnprovisionedBeaconCarriesDeviceUUID(t *testing.T) {
	endA, endB := bearer.NewLoopbackPair(32)
	t.Cleanup(func() { endA.Close() })

	d := startTestDriver(t, endA, storage.NewMemoryStore(), testRegistry(t))
	deviceUUID, err := d.DeviceUUID()
	if err != nil {
		t.Fatal(err)
	}

	payload := waitBeaconPayload(t, endB, 0x00)
	if string(payload[1:17]) != string(deviceUUID[:]) {
		t.Errorf("beacon uuid = %x, want %x", payload[1:17], deviceUUID[:])
	}
}

func TestProvisionedNodeEmitsSecureBeacon(t *testing.T) {
	endA, endB := bearer.NewLoopbackPair(32)
	t.Cleanup(func() { endA.Close() })

	cfgA, _, _ := testConfigs(t)
	d := startTestDriver(t, endA, storage.NewMemoryStore(), testRegistry(t))
	if err := d.Provision(context.Background(), cfgA); err != nil {
		t.Fatal(err)
	}

	payload := waitBeaconPayload(t, endB, 0x01)
	beacon, err := bearer.ParseBeacon(payload)
	if err != nil {
		t.Fatal(err)
	}
	secure, ok := beacon.(bearer.SecureBeacon)
	if !ok {
		t.Fatalf("beacon = %T", beacon)
	}
	if secure.IvIndex != 0x12345678 {
		t.Errorf("iv index = %#x", secure.IvIndex)
	}
}

func TestUnprovisionedDropsNetworkTraffic(t *testing.T) {
	get := mustOpcode(t, 0x82, 0x31)
	endA, endB := bearer.NewLoopbackPair(32)
	t.Cleanup(func() { endA.Close() })

	cfgA, _, handle := testConfigs(t)
	model := newChanModel(get)

	a := startTestDriver(t, endA, storage.NewMemoryStore(), testRegistry(t))
	b := startTestDriver(t, endB, storage.NewMemoryStore(), testRegistry(t, model))

	ctx := context.Background()
	if err := a.Provision(ctx, cfgA); err != nil {
		t.Fatal(err)
	}
	// B stays unprovisioned; traffic for it goes nowhere.
	if err := a.Send(ctx, accessMessage(t, get, []byte{1}, handle, mesh.Address(0x0B01))); err != nil {
		t.Fatal(err)
	}

	select {
	case message := <-model.received:
		t.Fatalf("unprovisioned node dispatched %x", message.Opcode().Bytes())
	case <-time.After(200 * time.Millisecond):
	}
	if b.IsProvisioned() {
		t.Error("node reports provisioned")
	}
}

func TestNodeResetReturnsToUnprovisioned(t *testing.T) {
	endA, _ := bearer.NewLoopbackPair(32)
	t.Cleanup(func() { endA.Close() })

	cfgA, _, _ := testConfigs(t)
	store := storage.NewMemoryStore()
	d := startTestDriver(t, endA, store, testRegistry(t))

	before, err := d.DeviceUUID()
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := d.NodeReset(ctx); !errors.Is(err, ErrNotProvisioned) {
		t.Errorf("reset while unprovisioned = %v", err)
	}
	if err := d.Provision(ctx, cfgA); err != nil {
		t.Fatal(err)
	}
	if err := d.Provision(ctx, cfgA); !errors.Is(err, ErrAlreadyProvisioned) {
		t.Errorf("second provision = %v", err)
	}
	if _, err := d.DeviceUUID(); !errors.Is(err, ErrAlreadyProvisioned) {
		t.Errorf("uuid while provisioned = %v", err)
	}

	if err := d.NodeReset(ctx); err != nil {
		t.Fatal(err)
	}
	if d.IsProvisioned() {
		t.Error("node still provisioned after reset")
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := d.ResetSignal().Wait(waitCtx); err != nil {
		t.Errorf("reset signal = %v", err)
	}

	after, err := d.DeviceUUID()
	if err != nil {
		t.Fatal(err)
	}
	if after == before {
		t.Error("device uuid unchanged across reset")
	}
	if err := d.Provision(ctx, cfgA); err != nil {
		t.Errorf("re-provision after reset = %v", err)
	}
}

func TestRestartResumesProvisionedState(t *testing.T) {
	endA, _ := bearer.NewLoopbackPair(32)
	t.Cleanup(func() { endA.Close() })

	cfgA, _, _ := testConfigs(t)
	store := storage.NewMemoryStore()

	first := New(Config{
		Bearer:        endA,
		Store:         store,
		Registry:      testRegistry(t),
		DefaultConfig: storage.NewUnprovisionedConfiguration(),
	})
	if err := first.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := first.Provision(context.Background(), cfgA); err != nil {
		t.Fatal(err)
	}
	first.Stop()

	second := New(Config{
		Bearer:        endA,
		Store:         store,
		Registry:      testRegistry(t),
		DefaultConfig: storage.NewUnprovisionedConfiguration(),
	})
	if err := second.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(second.Stop)
	if !second.IsProvisioned() {
		t.Error("restarted node not provisioned")
	}
}
