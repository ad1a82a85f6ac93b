package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerAddress(t *testing.T) {
	tests := []struct {
		name   string
		server Server
		want   string
	}{
		{
			name:   "prefers IPv4",
			server: Server{Host: "oocsi.local.", Port: 4444, Addresses: []string{"fe80::1", "192.168.1.10"}},
			want:   "192.168.1.10:4444",
		},
		{
			name:   "host without addresses",
			server: Server{Host: "oocsi.local.", Port: 4545},
			want:   "oocsi.local:4545",
		},
		{
			name:   "IPv6 only",
			server: Server{Host: "oocsi.local.", Port: 4444, Addresses: []string{"fe80::1"}},
			want:   "oocsi.local:4444",
		},
		{
			name:   "no host",
			server: Server{Addresses: []string{"fe80::1"}},
			want:   "[fe80::1]:4444",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.server.Address())
		})
	}
}

func TestServiceEntryToServer(t *testing.T) {
	e := ServiceEntry{
		Instance: "OOCSI server",
		Host:     "oocsi.local.",
		Port:     4444,
		Text:     []string{"version=1.5", "tls", "=ignored"},
		Addrs:    []string{"10.0.0.2"},
	}

	svc := e.ToServer()
	assert.Equal(t, "OOCSI server", svc.Instance)
	assert.Equal(t, map[string]string{"version": "1.5", "tls": ""}, svc.Text)
	assert.Equal(t, []string{"10.0.0.2"}, svc.Addresses)
}

func TestAggregatorMergesInterfaces(t *testing.T) {
	agg := newAggregator()

	first, isNew := agg.add(ServiceEntry{Instance: "srv", Port: 4444, Addrs: []string{"10.0.0.2"}})
	require.True(t, isNew)

	same, isNew := agg.add(ServiceEntry{Instance: "srv", Port: 4444, Addrs: []string{"10.0.0.2", "fe80::2"}})
	assert.False(t, isNew)
	assert.Same(t, first, same)
	assert.Equal(t, []string{"10.0.0.2", "fe80::2"}, first.Addresses)

	agg.remove(ServiceEntry{Instance: "srv", Addrs: []string{"10.0.0.2"}})
	assert.Equal(t, []string{"fe80::2"}, first.Addresses)

	agg.remove(ServiceEntry{Instance: "srv", Addrs: []string{"fe80::2"}})
	_, isNew = agg.add(ServiceEntry{Instance: "srv", Addrs: []string{"10.0.0.3"}})
	assert.True(t, isNew, "a server that lost every address is reported again")
}
