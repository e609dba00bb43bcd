// Package p2p pairs two peers over WebRTC. Client dials a host's signaling
// server; Host waits for a client on its own server. Both expose the
// established link as a Stream for Socket.
package p2p

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/1ureka/p2plink/internal/signaling"
	"github.com/1ureka/p2plink/internal/transport"
	"github.com/1ureka/p2plink/internal/util"
)

// ErrNoLink is returned when a socket is opened without an established link.
var ErrNoLink = errors.New("p2p: no established link")

// Stream is the byte stream over an established link.
type Stream interface {
	io.ReadWriter
	Alive() bool
}

// Link yields the current stream, or nil when not paired.
type Link interface {
	Stream() Stream
}

// establishFunc performs signaling and returns a ready transport.
type establishFunc func(ctx context.Context) (*transport.Transport, error)

// peer holds the transport shared by Client and Host.
type peer struct {
	name      string
	establish establishFunc

	mu sync.Mutex
	tr *transport.Transport
}

func (p *peer) DiscoverAndConnect(ctx context.Context) <-chan error {
	result := make(chan error, 1)
	go func() {
		tr, err := p.establish(ctx)
		if err != nil {
			result <- err
			return
		}

		p.adopt(tr)
		util.LogDebug("%s: paired", p.name)
		result <- nil
	}()
	return result
}

// adopt makes tr the current transport, closing any previous one.
func (p *peer) adopt(tr *transport.Transport) {
	p.mu.Lock()
	old := p.tr
	p.tr = tr
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}
	go p.reap(tr)
}

// reap drops tr once it shuts down so a dead link does not linger until the
// next pairing.
func (p *peer) reap(tr *transport.Transport) {
	<-tr.Done()

	p.mu.Lock()
	current := p.tr == tr
	if current {
		p.tr = nil
	}
	p.mu.Unlock()

	if current {
		if err := tr.Close(); err != nil {
			util.LogDebug("%s: transport close: %v", p.name, err)
		}
		util.LogDebug("%s: link lost", p.name)
	}
}

func (p *peer) Disconnect(ctx context.Context) <-chan error {
	result := make(chan error, 1)

	p.mu.Lock()
	tr := p.tr
	p.tr = nil
	p.mu.Unlock()

	if tr == nil {
		result <- nil
		return result
	}
	if err := tr.Close(); err != nil {
		util.LogDebug("%s: transport close: %v", p.name, err)
	}
	util.LogDebug("%s: unpaired", p.name)
	result <- nil
	return result
}

func (p *peer) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tr != nil && p.tr.Alive()
}

// Stream returns the established transport, or nil.
func (p *peer) Stream() Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tr == nil {
		return nil
	}
	return p.tr
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client is the dialing side of a link.
type Client struct {
	peer
	url string
}

// NewClient returns a Client that signals through the host's /ws route at
// wsURL.
func NewClient(wsURL string, iceServers []string) *Client {
	c := &Client{url: wsURL}
	c.peer = peer{
		name: "p2p client",
		establish: func(ctx context.Context) (*transport.Transport, error) {
			return signaling.EstablishAsClient(ctx, wsURL, iceServers)
		},
	}
	return c
}

// URL returns the signaling URL the client dials.
func (c *Client) URL() string { return c.url }

// ---------------------------------------------------------------------------
// Host
// ---------------------------------------------------------------------------

// Host is the listening side of a link. The signaling server stays up for
// connect requests; discovery only gates its /ws route.
type Host struct {
	peer
	srv *signaling.Server
}

// NewHost returns a Host that pairs through srv.
func NewHost(srv *signaling.Server, iceServers []string) *Host {
	h := &Host{srv: srv}
	h.peer = peer{
		name: "p2p host",
		establish: func(ctx context.Context) (*transport.Transport, error) {
			h.AllowDiscover()
			defer h.DisallowDiscover()
			return signaling.EstablishAsHost(ctx, srv, iceServers)
		},
	}
	return h
}

// AllowDiscover lets a client reach the host's /ws route.
func (h *Host) AllowDiscover() {
	h.srv.SetDiscoverable(true)
	util.LogDebug("%s: discoverable", h.name)
}

// DisallowDiscover turns new clients away.
func (h *Host) DisallowDiscover() {
	h.srv.SetDiscoverable(false)
	util.LogDebug("%s: not discoverable", h.name)
}

// Discovering reports whether the host currently accepts clients.
func (h *Host) Discovering() bool { return h.srv.Discoverable() }
