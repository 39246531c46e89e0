package loopback

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/engine"
)

// Network is an in-process stand-in for the DHT and the transports. Every
// node created on the same Network can find the others once it has
// bootstrapped. Nodes never touch each other directly; all shared state
// lives here behind one mutex.
type Network struct {
	mu        sync.Mutex
	peers     map[engine.PublicKey]*peerState
	bootstrap map[string]engine.PublicKey
	groups    map[engine.GroupKey]*conference
}

type peerState struct {
	nospam  engine.Nospam
	online  bool
	friends map[engine.PublicKey]bool
	name    string
	inbox   []envelope
}

type conference struct {
	peers []engine.PublicKey
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		peers:     make(map[engine.PublicKey]*peerState),
		bootstrap: make(map[string]engine.PublicKey),
		groups:    make(map[engine.GroupKey]*conference),
	}
}

// Factory returns an engine.Factory that creates nodes on this network.
func (n *Network) Factory() engine.Factory {
	return func(opts engine.Options) (engine.Engine, engine.AV, error) {
		tox, err := New(n, opts)
		if err != nil {
			return nil, nil, err
		}
		av, err := NewAV(tox, engine.MaxCalls)
		if err != nil {
			tox.Kill()
			return nil, nil, err
		}
		return tox, av, nil
	}
}

// AddBootstrapNode creates an always-connected node reachable at host:port.
func (n *Network) AddBootstrapNode(host string, port uint16) (*Tox, error) {
	tox, err := New(n, engine.Options{UDPEnabled: true})
	if err != nil {
		return nil, err
	}
	tox.bootstrapNode = true
	tox.updateSelfConnection()

	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	n.mu.Lock()
	n.bootstrap[addr] = tox.keyPair.Public
	n.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "AddBootstrapNode",
		"address":    addr,
		"public_key": tox.SelfPublicKey().Short(),
	}).Info("Bootstrap node registered")
	return tox, nil
}

func (n *Network) register(pk engine.PublicKey, nospam engine.Nospam) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.peers[pk]; exists {
		return fmt.Errorf("public key %s already on the network", pk.Short())
	}
	n.peers[pk] = &peerState{nospam: nospam, friends: make(map[engine.PublicKey]bool)}
	return nil
}

func (n *Network) unregister(pk engine.PublicKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, pk)
	for key, conf := range n.groups {
		conf.remove(pk)
		if len(conf.peers) == 0 {
			delete(n.groups, key)
		}
	}
}

// rekey moves a node's state to a new public key after a profile load.
func (n *Network) rekey(old, pk engine.PublicKey, nospam engine.Nospam) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if old == pk {
		if st, ok := n.peers[pk]; ok {
			st.nospam = nospam
			st.friends = make(map[engine.PublicKey]bool)
		}
		return nil
	}
	if _, exists := n.peers[pk]; exists {
		return fmt.Errorf("public key %s already on the network", pk.Short())
	}
	st := n.peers[old]
	delete(n.peers, old)
	if st == nil {
		st = &peerState{friends: make(map[engine.PublicKey]bool)}
	}
	st.nospam = nospam
	st.friends = make(map[engine.PublicKey]bool)
	n.peers[pk] = st
	return nil
}

func (n *Network) setOnline(pk engine.PublicKey, online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if st, ok := n.peers[pk]; ok {
		st.online = online
	}
}

func (n *Network) setName(pk engine.PublicKey, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if st, ok := n.peers[pk]; ok {
		st.name = name
	}
}

func (n *Network) addFriendEdge(from, to engine.PublicKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if st, ok := n.peers[from]; ok {
		st.friends[to] = true
	}
}

func (n *Network) removeFriendEdge(from, to engine.PublicKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if st, ok := n.peers[from]; ok {
		delete(st.friends, to)
	}
}

// reachable reports whether a and b are both online and friends with each other.
func (n *Network) reachable(a, b engine.PublicKey) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	sa, okA := n.peers[a]
	sb, okB := n.peers[b]
	if !okA || !okB {
		return false
	}
	return sa.online && sb.online && sa.friends[b] && sb.friends[a]
}

// deliver builds an envelope and appends it to the recipient's inbox. The
// builder only runs if the recipient is online, so a sealed payload is
// never produced for a packet that cannot be delivered.
func (n *Network) deliver(to engine.PublicKey, build func() (envelope, error)) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.peers[to]
	if !ok || !st.online {
		return engine.ErrFriendOffline
	}
	env, err := build()
	if err != nil {
		return err
	}
	st.inbox = append(st.inbox, env)
	return nil
}

func (n *Network) take(pk engine.PublicKey) []envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.peers[pk]
	if !ok {
		return nil
	}
	inbox := st.inbox
	st.inbox = nil
	return inbox
}

func (n *Network) bootstrapKey(address string, port uint16) (engine.PublicKey, bool) {
	addr := net.JoinHostPort(address, strconv.Itoa(int(port)))
	n.mu.Lock()
	defer n.mu.Unlock()
	pk, ok := n.bootstrap[addr]
	if !ok {
		return pk, false
	}
	st, exists := n.peers[pk]
	return pk, exists && st.online
}

func (c *conference) index(pk engine.PublicKey) int {
	for i, p := range c.peers {
		if p == pk {
			return i
		}
	}
	return -1
}

func (c *conference) remove(pk engine.PublicKey) int {
	i := c.index(pk)
	if i >= 0 {
		c.peers = append(c.peers[:i], c.peers[i+1:]...)
	}
	return i
}

func (n *Network) createConference(key engine.GroupKey, founder engine.PublicKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.groups[key] = &conference{peers: []engine.PublicKey{founder}}
}

// joinConference adds pk and returns its slot and the other members.
func (n *Network) joinConference(key engine.GroupKey, pk engine.PublicKey) (int, []engine.PublicKey, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	conf, ok := n.groups[key]
	if !ok {
		return -1, nil, engine.ErrGroupNotFound
	}
	if i := conf.index(pk); i >= 0 {
		return i, nil, nil
	}
	others := append([]engine.PublicKey(nil), conf.peers...)
	conf.peers = append(conf.peers, pk)
	return len(conf.peers) - 1, others, nil
}

// leaveConference removes pk and returns its former slot and the remaining members.
func (n *Network) leaveConference(key engine.GroupKey, pk engine.PublicKey) (int, []engine.PublicKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	conf, ok := n.groups[key]
	if !ok {
		return -1, nil
	}
	i := conf.remove(pk)
	if len(conf.peers) == 0 {
		delete(n.groups, key)
	}
	return i, append([]engine.PublicKey(nil), conf.peers...)
}

// conferencePeers returns the members of a conference. ok is false if the
// conference is gone or pk is not a member.
func (n *Network) conferencePeers(key engine.GroupKey, pk engine.PublicKey) ([]engine.PublicKey, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	conf, ok := n.groups[key]
	if !ok || conf.index(pk) < 0 {
		return nil, false
	}
	return append([]engine.PublicKey(nil), conf.peers...), true
}

func (n *Network) peerName(pk engine.PublicKey) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if st, ok := n.peers[pk]; ok {
		return st.name
	}
	return ""
}
