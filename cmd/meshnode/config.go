package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/btmesh-protocol/btmesh-go/pkg/crypto"
	"github.com/btmesh-protocol/btmesh-go/pkg/keys"
	"github.com/btmesh-protocol/btmesh-go/pkg/storage"
)

// Duration is a time.Duration that unmarshals from YAML scalars like "5s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// NodeConfig describes one node of the demo network.
type NodeConfig struct {
	// Address is the node's primary unicast address.
	Address uint16 `yaml:"address"`
	// DeviceKey is the node's device key, 16 bytes hex.
	DeviceKey string `yaml:"device_key"`
	// Store is the path of the node's persisted state file.
	Store string `yaml:"store"`
	// Relay enables forwarding of traffic for other nodes.
	Relay bool `yaml:"relay"`
}

// Config is the YAML configuration of the demo network: one shared network
// and application key, and a switch node driving a lamp node.
type Config struct {
	// NetworkKey is the shared network key, 16 bytes hex.
	NetworkKey string `yaml:"network_key"`
	// ApplicationKey is the shared application key, 16 bytes hex.
	ApplicationKey string `yaml:"application_key"`
	// IvIndex is the network's current IV index.
	IvIndex uint32 `yaml:"iv_index"`
	// ToggleInterval is how often the switch toggles the lamp.
	ToggleInterval Duration `yaml:"toggle_interval"`

	Switch NodeConfig `yaml:"switch"`
	Lamp   NodeConfig `yaml:"lamp"`
}

// DefaultConfig is the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		NetworkKey:     "7dd7364cd842ad18c17c2b820c84c3d6",
		ApplicationKey: "63964771734fbd76e3b40519d1d94a48",
		IvIndex:        0x12345678,
		ToggleInterval: Duration(5 * time.Second),
		Switch: NodeConfig{
			Address:   0x0A01,
			DeviceKey: "9d6dd0e96eb25dc19a40ed9914f8f03f",
			Store:     "switch.state",
		},
		Lamp: NodeConfig{
			Address:   0x0B01,
			DeviceKey: "5f1c9bf394de4a33e172f683566871c5",
			Store:     "lamp.state",
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks key lengths and addressing.
func (c Config) Validate() error {
	for name, key := range map[string]string{
		"network_key":       c.NetworkKey,
		"application_key":   c.ApplicationKey,
		"switch.device_key": c.Switch.DeviceKey,
		"lamp.device_key":   c.Lamp.DeviceKey,
	} {
		raw, err := hex.DecodeString(key)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if len(raw) != crypto.KeySize {
			return fmt.Errorf("%s: got %d bytes, want %d", name, len(raw), crypto.KeySize)
		}
	}
	for name, node := range map[string]NodeConfig{"switch": c.Switch, "lamp": c.Lamp} {
		if node.Address&0x8000 != 0 || node.Address == 0 {
			return fmt.Errorf("%s.address %#04x is not unicast", name, node.Address)
		}
		if node.Store == "" {
			return fmt.Errorf("%s.store is empty", name)
		}
	}
	if c.ToggleInterval <= 0 {
		return fmt.Errorf("toggle_interval must be positive")
	}
	return nil
}

// provisionedConfig assembles the persisted configuration for one node.
func (c Config) provisionedConfig(node NodeConfig) (*storage.ProvisionedConfiguration, error) {
	networkKey, err := parseNetworkKey(c.NetworkKey)
	if err != nil {
		return nil, err
	}
	applicationKey, err := parseApplicationKey(c.ApplicationKey)
	if err != nil {
		return nil, err
	}
	deviceKeyRaw, err := parseKey(node.DeviceKey)
	if err != nil {
		return nil, err
	}

	secrets := keys.NewSecrets(crypto.NewDeviceKey(deviceKeyRaw), networkKey)
	if err := secrets.AddApplicationKey(0, 0, applicationKey); err != nil {
		return nil, err
	}
	return &storage.ProvisionedConfiguration{
		NetworkState: storage.NetworkState{IvIndex: c.IvIndex},
		Secrets:      secrets.Snapshot(),
		DeviceInfo:   storage.DeviceInfoRecord{PrimaryAddress: node.Address, ElementCount: 1},
	}, nil
}

// appKeyHandle resolves the handle of application key slot 0.
func (c Config) appKeyHandle() (keys.KeyHandle, error) {
	applicationKey, err := parseApplicationKey(c.ApplicationKey)
	if err != nil {
		return keys.KeyHandle{}, err
	}
	return keys.ForApplicationKey(keys.ApplicationKeyHandle{Index: 0, AID: applicationKey.AID()}), nil
}

func parseKey(s string) (crypto.Key, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return crypto.Key{}, err
	}
	return crypto.ParseKey(raw)
}

func parseNetworkKey(s string) (*crypto.NetworkKey, error) {
	raw, err := parseKey(s)
	if err != nil {
		return nil, err
	}
	return crypto.NewNetworkKey(raw)
}

func parseApplicationKey(s string) (*crypto.ApplicationKey, error) {
	raw, err := parseKey(s)
	if err != nil {
		return nil, err
	}
	return crypto.NewApplicationKey(raw)
}
