package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// Advertisement is a registered agent record.
type Advertisement struct {
	info Info

	mu     sync.Mutex
	server *zeroconf.Server
	stop   func() bool
}

// Advertise registers info on the local network. The record is withdrawn
// when ctx is cancelled or Stop is called.
func Advertise(ctx context.Context, info Info) (*Advertisement, error) {
	hostname, _ := os.Hostname()
	info = info.normalized(hostname)
	if err := ValidateInstanceName(info.Instance); err != nil {
		return nil, err
	}

	ifaces, err := interfaces(info.Interface)
	if err != nil {
		return nil, err
	}

	server, err := zeroconf.Register(
		info.Instance,
		ServiceType,
		Domain,
		int(info.Port),
		TXTRecordsToStrings(EncodeTXT(info)),
		ifaces,
		zeroconf.TTL(uint32(info.TTL.Seconds())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", ServiceType, err)
	}

	a := &Advertisement{info: info, server: server}
	a.mu.Lock()
	a.stop = context.AfterFunc(ctx, a.Stop)
	a.mu.Unlock()
	return a, nil
}

// Info returns the advertised record after defaults were applied.
func (a *Advertisement) Info() Info { return a.info }

// Stop withdraws the record. It is safe to call more than once.
func (a *Advertisement) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		a.stop()
	}
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Browser browses for agents.
type Browser struct {
	// Interface restricts browsing to one network interface.
	// Empty means all interfaces.
	Interface string
}

// Browse streams agents found on all interfaces until ctx is cancelled.
func Browse(ctx context.Context) (<-chan *Service, error) {
	return (&Browser{}).Browse(ctx)
}

// Browse streams agents until ctx is cancelled. Records for the same
// instance seen on several interfaces are merged; a service is emitted once,
// when first seen. Records that fail to parse are skipped.
func (b *Browser) Browse(ctx context.Context) (<-chan *Service, error) {
	var opts []zeroconf.ClientOption
	if b.Interface != "" {
		ifaces, err := interfaces(b.Interface)
		if err != nil {
			return nil, err
		}
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	out := make(chan *Service)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)
		services := make(map[string]*Service)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc, err := fromZeroconf(entry).ToService()
				if err != nil {
					continue
				}
				if existing, found := services[svc.Instance]; found {
					existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
					continue
				}
				services[svc.Instance] = svc
				emitted := *svc
				emitted.Addresses = slices.Clone(svc.Addresses)
				select {
				case out <- &emitted:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				if existing, found := services[entry.Instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, fromZeroconf(entry).Addresses)
					if len(existing.Addresses) == 0 {
						delete(services, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()

	return out, nil
}

// Lookup returns the first agent named instance, or the first agent at all
// when instance is empty.
func Lookup(ctx context.Context, instance string) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	found, err := Browse(ctx)
	if err != nil {
		return nil, err
	}
	for svc := range found {
		if instance == "" || svc.Instance == instance {
			return svc, nil
		}
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("lookup %q: %w", instance, err)
	}
	return nil, fmt.Errorf("lookup %q: not found", instance)
}

func interfaces(name string) ([]net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", name, err)
	}
	return []net.Interface{*iface}, nil
}

// ServiceEntry is the part of a resolved DNS-SD record this package reads.
type ServiceEntry struct {
	Instance  string
	Host      string
	Port      int
	Text      []string
	Addresses []string
}

func fromZeroconf(entry *zeroconf.ServiceEntry) ServiceEntry {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return ServiceEntry{
		Instance:  entry.Instance,
		Host:      entry.HostName,
		Port:      entry.Port,
		Text:      entry.Text,
		Addresses: addrs,
	}
}

// ToService converts the entry, or fails if its TXT record is not a yuha
// record this package understands.
func (e ServiceEntry) ToService() (*Service, error) {
	version, tls, err := DecodeTXT(StringsToTXTRecords(e.Text))
	if err != nil {
		return nil, err
	}
	if e.Port <= 0 || e.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d", ErrInvalidTXTValue, e.Port)
	}
	return &Service{
		Instance:  e.Instance,
		Host:      e.Host,
		Port:      uint16(e.Port),
		Addresses: append([]string(nil), e.Addresses...),
		TLS:       tls,
		Version:   version,
	}, nil
}

// mergeAddresses appends the addresses of add not yet in existing.
func mergeAddresses(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range add {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops the addresses listed in gone.
func removeAddresses(addresses, gone []string) []string {
	drop := make(map[string]bool, len(gone))
	for _, addr := range gone {
		drop[addr] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !drop[addr] {
			result = append(result, addr)
		}
	}
	return result
}
