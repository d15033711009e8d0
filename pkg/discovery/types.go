package discovery

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yuha-project/yuha-go/pkg/transport"
)

// DNS-SD constants.
const (
	// ServiceType is the DNS-SD service type of yuha agents.
	ServiceType = "_yuha._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// ProtocolVersion is the value of the v key this package advertises.
	ProtocolVersion = "1"

	// DefaultTTL is the record TTL when Info.TTL is zero.
	DefaultTTL = 120 * time.Second

	// MaxInstanceNameLen is the DNS label limit for instance names.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	TXTKeyVersion = "v"
	TXTKeyTLS     = "tls"
)

// Discovery errors.
var (
	ErrMissingRequired     = errors.New("missing required TXT key")
	ErrUnsupportedVersion  = errors.New("unsupported protocol version")
	ErrInvalidTXTValue     = errors.New("invalid TXT value")
	ErrInvalidInstanceName = errors.New("invalid instance name")
)

// Info describes an agent to advertise.
type Info struct {
	// Instance is the DNS-SD instance name. Defaults to "yuha-<hostname>".
	Instance string

	// Port is the agent's TCP port. Defaults to transport.DefaultPort.
	Port uint16

	// TLS reports whether the listener expects TLS.
	TLS bool

	// Interface restricts advertising to one network interface.
	// Empty means all interfaces.
	Interface string

	// TTL overrides the record TTL.
	TTL time.Duration
}

// Service is an agent found by browsing.
type Service struct {
	Instance  string
	Host      string
	Port      uint16
	Addresses []string
	TLS       bool
	Version   string
}

// Address returns a dialable host:port, preferring a resolved address.
func (s *Service) Address() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	host = strings.TrimSuffix(host, ".")
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}

// String formats the service for listings.
func (s *Service) String() string {
	security := "plain"
	if s.TLS {
		security = "tls"
	}
	return fmt.Sprintf("%s %s (%s)", s.Instance, s.Address(), security)
}

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates the TXT record for info.
func EncodeTXT(info Info) TXTRecordMap {
	tls := "0"
	if info.TLS {
		tls = "1"
	}
	return TXTRecordMap{
		TXTKeyVersion: ProtocolVersion,
		TXTKeyTLS:     tls,
	}
}

// DecodeTXT parses a TXT record into the version and TLS fields of a
// Service. Unknown keys are ignored; a missing tls key means plain TCP.
func DecodeTXT(txt TXTRecordMap) (version string, tls bool, err error) {
	version, ok := txt[TXTKeyVersion]
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	if version != ProtocolVersion {
		return "", false, fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}

	switch v := txt[TXTKeyTLS]; v {
	case "", "0":
	case "1":
		tls = true
	default:
		return "", false, fmt.Errorf("%w: %s=%q", ErrInvalidTXTValue, TXTKeyTLS, v)
	}
	return version, tls, nil
}

// TXTRecordsToStrings converts the map to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings. A key without "=" maps
// to the empty string.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if found || k != "" {
			txt[k] = v
		}
	}
	return txt
}

// ValidateInstanceName checks an instance name against DNS label limits.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidInstanceName)
	}
	if len(name) > MaxInstanceNameLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidInstanceName, MaxInstanceNameLen)
	}
	return nil
}

// DefaultInstanceName derives an instance name from the host name.
func DefaultInstanceName(hostname string) string {
	hostname, _, _ = strings.Cut(hostname, ".")
	if hostname == "" {
		hostname = "agent"
	}
	name := "yuha-" + hostname
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

func (info Info) normalized(hostname string) Info {
	if info.Instance == "" {
		info.Instance = DefaultInstanceName(hostname)
	}
	if info.Port == 0 {
		info.Port = transport.DefaultPort
	}
	if info.TTL <= 0 {
		info.TTL = DefaultTTL
	}
	return info
}
