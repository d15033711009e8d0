package transport

import (
	"fmt"
	"strings"
)

// Kind identifies a transport mechanism.
type Kind uint8

const (
	// KindSecureShell runs the agent over an SSH session.
	KindSecureShell Kind = iota
	// KindLocal runs the agent as a local child process.
	KindLocal
	// KindDirectSocket connects to an agent listening on TCP.
	KindDirectSocket
	// KindSubsystemBridge runs the agent inside WSL.
	KindSubsystemBridge
)

var kindNames = [...]string{
	KindSecureShell:     "ssh",
	KindLocal:           "local",
	KindDirectSocket:    "tcp",
	KindSubsystemBridge: "wsl",
}

// Kinds returns every transport kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindSecureShell, KindLocal, KindDirectSocket, KindSubsystemBridge}
}

// String returns the canonical lowercase name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// ParseKind parses a transport name, ignoring case.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if strings.EqualFold(name, n) {
			return Kind(i), nil
		}
	}
	return 0, &ConfigurationError{Reason: fmt.Sprintf("unknown transport kind %q", name)}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if int(k) >= len(kindNames) {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown transport kind %d", uint8(k))}
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
