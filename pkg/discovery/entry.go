package discovery

import (
	"strings"

	"github.com/enbility/zeroconf/v3"
)

// ServiceEntry is the library-independent form of an mDNS answer.
type ServiceEntry struct {
	Instance string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
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
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     uint16(entry.Port),
		Text:     entry.Text,
		Addrs:    addrs,
	}
}

// ToServer converts the entry to a Server.
func (e ServiceEntry) ToServer() *Server {
	return &Server{
		Instance:  e.Instance,
		Host:      e.Host,
		Port:      e.Port,
		Addresses: append([]string(nil), e.Addrs...),
		Text:      parseTXT(e.Text),
	}
}

func parseTXT(records []string) map[string]string {
	txt := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

// aggregator merges answers for the same instance from several interfaces.
type aggregator struct {
	servers map[string]*Server
}

func newAggregator() *aggregator {
	return &aggregator{servers: make(map[string]*Server)}
}

// add records an entry and reports whether it is a new server.
func (a *aggregator) add(e ServiceEntry) (*Server, bool) {
	if existing, ok := a.servers[e.Instance]; ok {
		existing.Addresses = mergeAddresses(existing.Addresses, e.Addrs)
		return existing, false
	}
	svc := e.ToServer()
	a.servers[e.Instance] = svc
	return svc, true
}

// remove drops the entry's addresses and forgets servers left without any.
func (a *aggregator) remove(e ServiceEntry) {
	existing, ok := a.servers[e.Instance]
	if !ok {
		return
	}
	existing.Addresses = removeAddresses(existing.Addresses, e.Addrs)
	if len(existing.Addresses) == 0 {
		delete(a.servers, e.Instance)
	}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

func removeAddresses(addresses, gone []string) []string {
	toRemove := make(map[string]bool, len(gone))
	for _, addr := range gone {
		toRemove[addr] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}
