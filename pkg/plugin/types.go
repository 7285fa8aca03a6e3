package plugin

// Type represents the functional category of a plugin.
type Type string

const (
	// TypeTradeBackend plugins execute trades on behalf of strategy contracts.
	TypeTradeBackend Type = "trade_backend"
	// TypeNotifier plugins forward factory events to external channels.
	TypeNotifier Type = "notifier"
)

// Capability expresses optional features a plugin may request access to.
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	CapabilityExecution  Capability = "execution"
)

// Well-known resource keys exposed to plugins by the host daemon.
const (
	// ResourceEventBus carries the factory event bus (*events.Bus).
	ResourceEventBus = "host:event_bus"
)

// Info contains descriptive metadata for a plugin implementation.
type Info struct {
	ID           string
	Name         string
	Description  string
	Author       string
	Version      string
	Category     Type
	Capabilities []Capability
}

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateRegistered  State = "registered"
	StateInitialised State = "initialised"
	StateStarted     State = "started"
	StateStopped     State = "stopped"
)
