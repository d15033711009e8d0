package transport

// Capabilities describes what a transport kind supports.
type Capabilities struct {
	// AutoUpload means the agent binary can be pushed to the remote side.
	AutoUpload bool

	// PortForwarding means the transport can tunnel additional ports.
	PortForwarding bool

	// Secure means the transport encrypts and authenticates on its own.
	Secure bool

	// PlatformSpecific means the transport only exists on some host OSes.
	PlatformSpecific bool

	// Reconnectable means a lost connection may be re-established.
	Reconnectable bool

	// Multiplexing means several channels can share one connection.
	Multiplexing bool
}

var capabilityTable = [...]Capabilities{
	KindSecureShell: {
		AutoUpload:     true,
		PortForwarding: true,
		Secure:         true,
		Reconnectable:  true,
		Multiplexing:   true,
	},
	KindLocal: {},
	KindDirectSocket: {
		Reconnectable: true,
	},
	KindSubsystemBridge: {
		PlatformSpecific: true,
	},
}

// CapabilitiesOf returns the capability set of a kind.
// Unknown kinds have no capabilities.
func CapabilitiesOf(k Kind) Capabilities {
	if int(k) < len(capabilityTable) {
		return capabilityTable[k]
	}
	return Capabilities{}
}

// Capabilities returns the capability set of k.
func (k Kind) Capabilities() Capabilities {
	return CapabilitiesOf(k)
}
