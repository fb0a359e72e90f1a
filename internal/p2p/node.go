// Package p2p implements resolver-federation gossip: standby resolvers
// discover each other over a Kademlia DHT (and, on a local network, mDNS)
// and subscribe to a single GossipSub topic announcing swap-status
// transitions, so a standby can race to complete a swap if the primary
// crashes mid-flight. There is no order book or direct-messaging layer
// here, only status broadcast.
package p2p

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"

	"github.com/klingon-exchange/fusion-resolver/internal/config"
	"github.com/klingon-exchange/fusion-resolver/pkg/logging"
)

// dhtProtocolPrefix namespaces this federation's DHT away from any other
// libp2p swarm a bootstrap node might also serve.
const dhtProtocolPrefix = "/fusion-resolver"

// discoveryNamespace is the rendezvous string used for DHT advertise/find
// and mDNS service discovery.
const discoveryNamespace = "fusion-resolver-federation"

// PeerStore is the subset of internal/storage.Storage the node needs to
// persist peer addresses across restarts.
type PeerStore interface {
	SavePeer(peerID string, addresses string, now time.Time, bootstrap bool) error
	ListPeers() (map[string]string, error)
}

// Node is one resolver's federation-gossip endpoint.
type Node struct {
	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription

	cfg   config.P2PConfig
	store PeerStore
	log   *logging.Logger

	mdnsService mdns.Service
	routingDisc *drouting.RoutingDiscovery

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	handlers []AnnouncementHandler
}

// AnnouncementHandler is called for every validly-decoded Announcement
// received from a peer (never for the node's own publishes).
type AnnouncementHandler func(Announcement)

// New constructs a federation node and joins the configured status topic.
// It does not connect to bootstrap peers or start discovery loops; call
// Start for that.
func New(ctx context.Context, cfg config.P2PConfig, store PeerStore, log *logging.Logger) (*Node, error) {
	if log == nil {
		log = logging.GetDefault()
	}
	log = log.Component("p2p")

	nctx, cancel := cancel(ctx)

	privKey, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("generate node identity: %w", err)
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.ListenAddrs))
	for _, addr := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
		libp2p.NATPortMap(),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	n := &Node{
		host:   h,
		cfg:    cfg,
		store:  store,
		log:    log,
		ctx:    nctx,
		cancel: cancel,
	}

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, conn network.Conn) {
			if n.store == nil {
				return
			}
			go n.persistPeer(conn.RemotePeer())
		},
	})

	if cfg.EnableDHT {
		if err := n.initDHT(nctx); err != nil {
			h.Close()
			cancel()
			return nil, fmt.Errorf("initialize DHT: %w", err)
		}
	}

	if err := n.initPubSub(nctx); err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("initialize pubsub: %w", err)
	}

	if cfg.EnableMDNS {
		if err := n.initMDNS(); err != nil {
			n.log.Warn("mDNS init failed", "error", err)
		}
	}

	topicName := cfg.Topic
	if topicName == "" {
		topicName = defaultTopic
	}
	topic, err := n.pubsub.Join(topicName)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("join topic %s: %w", topicName, err)
	}
	n.topic = topic

	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("subscribe to topic %s: %w", topicName, err)
	}
	n.sub = sub

	go n.readLoop()

	return n, nil
}

// cancel exists only to keep New's context plumbing on one line.
func cancel(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(ctx)
}

func (n *Node) initDHT(ctx context.Context) error {
	var err error
	n.dht, err = dht.New(ctx, n.host,
		dht.Mode(dht.ModeAutoServer),
		dht.ProtocolPrefix(protocol.ID(dhtProtocolPrefix)),
	)
	if err != nil {
		return err
	}
	if err := n.dht.Bootstrap(ctx); err != nil {
		return err
	}
	n.routingDisc = drouting.NewRoutingDiscovery(n.dht)
	return nil
}

func (n *Node) initPubSub(ctx context.Context) error {
	var err error
	n.pubsub, err = pubsub.NewGossipSub(ctx, n.host,
		pubsub.WithPeerExchange(true),
		pubsub.WithFloodPublish(true),
	)
	return err
}

func (n *Node) initMDNS() error {
	n.mdnsService = mdns.NewMdnsService(n.host, discoveryNamespace, mdnsNotifee{n})
	return n.mdnsService.Start()
}

// mdnsNotifee adapts Node to mdns.Notifee without exporting HandlePeerFound
// as part of Node's own method set.
type mdnsNotifee struct{ n *Node }

func (m mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == m.n.host.ID() {
		return
	}
	m.n.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.PermanentAddrTTL)
	go func() {
		ctx, cancel := context.WithTimeout(m.n.ctx, 10*time.Second)
		defer cancel()
		if err := m.n.host.Connect(ctx, pi); err != nil {
			m.n.log.Debug("mDNS peer connect failed", "peer", shortID(pi.ID), "error", err)
		}
	}()
}

// Start connects to configured bootstrap peers (and any persisted from a
// prior run) and begins periodic DHT-based peer discovery.
func (n *Node) Start() {
	seen := map[string]bool{}
	for _, addr := range n.cfg.BootstrapPeers {
		seen[addr] = true
		n.dialBootstrap(addr, true)
	}
	if n.store != nil {
		if peers, err := n.store.ListPeers(); err == nil {
			for _, addrs := range peers {
				if addrs != "" && !seen[addrs] {
					n.dialBootstrap(addrs, false)
				}
			}
		}
	}

	if n.routingDisc != nil {
		go dutil.Advertise(n.ctx, n.routingDisc, discoveryNamespace)
		go n.discoverPeers()
	}

	n.log.Info("federation node started", "peer_id", shortID(n.host.ID()), "topic", n.topicName())
}

func (n *Node) dialBootstrap(addrStr string, bootstrap bool) {
	ma, err := multiaddr.NewMultiaddr(addrStr)
	if err != nil {
		n.log.Warn("invalid bootstrap address", "addr", addrStr, "error", err)
		return
	}
	pi, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		n.log.Warn("invalid bootstrap peer info", "addr", addrStr, "error", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(n.ctx, 30*time.Second)
		defer cancel()
		if err := n.host.Connect(ctx, *pi); err != nil {
			n.log.Warn("bootstrap connect failed", "peer", shortID(pi.ID), "error", err)
			return
		}
		if n.store != nil {
			_ = n.store.SavePeer(pi.ID.String(), addrStr, time.Now(), bootstrap)
		}
	}()
}

func (n *Node) discoverPeers() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			peers, err := dutil.FindPeers(n.ctx, n.routingDisc, discoveryNamespace)
			if err != nil {
				continue
			}
			for _, pi := range peers {
				if pi.ID == n.host.ID() || n.host.Network().Connectedness(pi.ID) == network.Connected {
					continue
				}
				go func(pi peer.AddrInfo) {
					ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
					defer cancel()
					_ = n.host.Connect(ctx, pi)
				}(pi)
			}
		}
	}
}

func (n *Node) persistPeer(id peer.ID) {
	addrs := n.host.Peerstore().Addrs(id)
	var addrStr string
	if len(addrs) > 0 {
		addrStr = addrs[0].String()
	}
	if err := n.store.SavePeer(id.String(), addrStr, time.Now(), false); err != nil {
		n.log.Warn("persist peer failed", "peer", shortID(id), "error", err)
	}
}

// OnAnnouncement registers a handler invoked for every announcement
// received from a peer over the federation topic.
func (n *Node) OnAnnouncement(h AnnouncementHandler) {
	n.mu.Lock()
	n.handlers = append(n.handlers, h)
	n.mu.Unlock()
}

// Stop tears down the node.
func (n *Node) Stop() error {
	n.cancel()
	if n.sub != nil {
		n.sub.Cancel()
	}
	if n.topic != nil {
		n.topic.Close()
	}
	if n.mdnsService != nil {
		n.mdnsService.Close()
	}
	if n.dht != nil {
		n.dht.Close()
	}
	return n.host.Close()
}

// ID returns the node's peer ID.
func (n *Node) ID() peer.ID { return n.host.ID() }

// PeerCount returns the number of currently connected peers.
func (n *Node) PeerCount() int { return len(n.host.Network().Peers()) }

func (n *Node) topicName() string {
	if n.cfg.Topic != "" {
		return n.cfg.Topic
	}
	return defaultTopic
}

func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
