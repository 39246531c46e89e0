package presence

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/limits"
	"github.com/opd-ai/toxclient/module"
)

// ErrInvalidStatus is returned for a status the engine cannot advertise.
var ErrInvalidStatus = errors.New("invalid status")

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

type defaultTimeProvider struct{}

func (defaultTimeProvider) Now() time.Time { return time.Now() }

// Presence owns the local identity and the friend roster.
type Presence struct {
	module.Base

	roster       map[uint32]*Friend
	chosen       Status
	connected    bool
	lastSelf     Status
	timeProvider TimeProvider
}

var _ module.Module = (*Presence)(nil)

// New creates the presence module and registers its engine callbacks.
func New(eng engine.Engine, lock *module.Lock) *Presence {
	return NewWithTimeProvider(eng, lock, defaultTimeProvider{})
}

// NewWithTimeProvider creates the module with a custom clock for LastSeen.
func NewWithTimeProvider(eng engine.Engine, lock *module.Lock, tp TimeProvider) *Presence {
	if tp == nil {
		tp = defaultTimeProvider{}
	}
	p := &Presence{
		Base:         module.NewBase("presence", eng, lock),
		roster:       make(map[uint32]*Friend),
		chosen:       StatusOnline,
		lastSelf:     StatusOffline,
		timeProvider: tp,
	}

	eng.OnFriendRequest(p.handleFriendRequest)
	eng.OnNameChange(p.handleName)
	eng.OnStatusMessage(p.handleStatusMessage)
	eng.OnUserStatus(p.handleUserStatus)
	eng.OnConnectionStatus(p.handleConnection)
	return p
}

// Update has no periodic work. Roster changes arrive through callbacks.
func (p *Presence) Update() {}

// EmitRoster reloads the roster from the engine and announces the identity
// followed by every friend in handle order. The session calls it once at
// startup, after the profile has been loaded.
func (p *Presence) EmitRoster() {
	p.Lock.Lock()
	defer p.Lock.Unlock()

	p.roster = make(map[uint32]*Friend)
	p.chosen = mapStatus(p.Engine.SelfUserStatus())
	if p.chosen == StatusOffline {
		p.chosen = StatusOnline
	}
	p.lastSelf = p.effective()
	p.Emit(SelfChanged{Self: p.selfLocked()})

	ids := p.Engine.FriendList()
	for _, id := range ids {
		f, err := p.friendLocked(id)
		if err != nil {
			p.Log.WithFields(logrus.Fields{
				"function":  "EmitRoster",
				"friend_id": id,
				"error":     err.Error(),
			}).Warn("Skipping friend the engine cannot describe")
			continue
		}
		p.Emit(FriendAdded{Friend: *f})
	}

	p.Log.WithFields(logrus.Fields{
		"function": "EmitRoster",
		"friends":  len(p.roster),
	}).Info("Roster announced")
}

// Self returns the local identity.
func (p *Presence) Self() Identity {
	p.Lock.Lock()
	defer p.Lock.Unlock()
	return p.selfLocked()
}

func (p *Presence) selfLocked() Identity {
	addr := p.Engine.SelfAddress()
	return Identity{
		Address:       addr,
		PublicKey:     addr.PublicKey,
		Name:          p.Engine.SelfName(),
		StatusMessage: p.Engine.SelfStatusMessage(),
		Status:        p.effective(),
		Chosen:        p.chosen,
		Connected:     p.connected,
	}
}

// effective applies the fallback: an Online user reads as Offline while
// the session is disconnected. Away and Busy are kept.
func (p *Presence) effective() Status {
	if p.chosen == StatusOnline && !p.connected {
		return StatusOffline
	}
	return p.chosen
}

// SetName sets the local display name.
func (p *Presence) SetName(name string) error {
	p.Lock.Lock()
	defer p.Lock.Unlock()

	if err := limits.ValidateName(name); err != nil {
		return err
	}
	if err := p.Engine.SetName(name); err != nil {
		return fmt.Errorf("set name: %w", err)
	}
	p.Log.WithFields(logrus.Fields{
		"function": "SetName",
		"name":     name,
	}).Info("Name updated")
	p.Emit(SelfChanged{Self: p.selfLocked()})
	return nil
}

// SetStatusMessage sets the local status message.
func (p *Presence) SetStatusMessage(message string) error {
	p.Lock.Lock()
	defer p.Lock.Unlock()

	if err := limits.ValidateStatusMessage(message); err != nil {
		return err
	}
	if err := p.Engine.SetStatusMessage(message); err != nil {
		return fmt.Errorf("set status message: %w", err)
	}
	p.Emit(SelfChanged{Self: p.selfLocked()})
	return nil
}

// SetStatus sets the user status. Offline cannot be chosen; it is only
// ever the result of a lost connection.
func (p *Presence) SetStatus(status Status) error {
	p.Lock.Lock()
	defer p.Lock.Unlock()

	us, err := userStatus(status)
	if err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	if err := p.Engine.SetUserStatus(us); err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	p.chosen = status

	p.Log.WithFields(logrus.Fields{
		"function": "SetStatus",
		"status":   status.String(),
	}).Info("User status updated")
	p.emitSelfIfChanged()
	return nil
}

// SetConnectedLocked records a connectivity edge and applies the status
// fallback. The caller must hold the session lock; the session driver
// calls it from Tick.
func (p *Presence) SetConnectedLocked(connected bool) {
	if p.connected == connected {
		return
	}
	p.connected = connected
	p.Log.WithFields(logrus.Fields{
		"function":  "SetConnectedLocked",
		"connected": connected,
		"chosen":    p.chosen.String(),
		"effective": p.effective().String(),
	}).Info("Connectivity changed")
	p.emitSelfIfChanged()
}

func (p *Presence) emitSelfIfChanged() {
	if eff := p.effective(); eff != p.lastSelf {
		p.lastSelf = eff
		p.Emit(SelfChanged{Self: p.selfLocked()})
	}
}

// AcceptFriendRequest adds the sender of a received request.
func (p *Presence) AcceptFriendRequest(publicKey engine.PublicKey) (uint32, error) {
	p.Lock.Lock()
	defer p.Lock.Unlock()

	id, err := p.Engine.AddFriendNoRequest(publicKey)
	if err != nil {
		p.Log.WithFields(logrus.Fields{
			"function":   "AcceptFriendRequest",
			"public_key": publicKey.Short(),
			"error":      err.Error(),
		}).Warn("Engine rejected friend")
		return 0, fmt.Errorf("accept friend request from %s: %w", publicKey.Short(), err)
	}
	p.addedLocked(id)
	return id, nil
}

// SendFriendRequest sends a request to a hex Tox ID. A malformed address
// fails without creating a roster entry.
func (p *Presence) SendFriendRequest(address, intro string) (uint32, error) {
	p.Lock.Lock()
	defer p.Lock.Unlock()

	if len(intro) > limits.MaxFriendRequest {
		return 0, fmt.Errorf("%w: introduction size %d exceeds limit %d",
			limits.ErrMessageTooLarge, len(intro), limits.MaxFriendRequest)
	}
	id, err := p.Engine.AddFriend(address, intro)
	if err != nil {
		p.Log.WithFields(logrus.Fields{
			"function": "SendFriendRequest",
			"error":    err.Error(),
		}).Warn("Friend request failed")
		return 0, fmt.Errorf("send friend request: %w", err)
	}
	p.addedLocked(id)
	return id, nil
}

func (p *Presence) addedLocked(id uint32) {
	delete(p.roster, id)
	f, err := p.friendLocked(id)
	if err != nil {
		p.Log.WithFields(logrus.Fields{
			"function":  "addedLocked",
			"friend_id": id,
			"error":     err.Error(),
		}).Error("Engine lost a friend it just added")
		return
	}
	p.Log.WithFields(logrus.Fields{
		"function":   "addedLocked",
		"friend_id":  id,
		"public_key": f.PublicKey.Short(),
	}).Info("Friend added")
	p.Emit(FriendAdded{Friend: *f})
}

// RemoveFriend deletes a friend from the engine and the roster.
func (p *Presence) RemoveFriend(id uint32) error {
	p.Lock.Lock()
	defer p.Lock.Unlock()

	if err := p.Engine.DeleteFriend(id); err != nil {
		return fmt.Errorf("remove friend %d: %w", id, err)
	}
	delete(p.roster, id)
	p.Log.WithFields(logrus.Fields{
		"function":  "RemoveFriend",
		"friend_id": id,
	}).Info("Friend removed")
	p.Emit(FriendRemoved{ID: id})
	return nil
}

// Friends returns a copy of the roster in handle order.
func (p *Presence) Friends() []Friend {
	p.Lock.Lock()
	defer p.Lock.Unlock()

	out := make([]Friend, 0, len(p.roster))
	for _, id := range p.Engine.FriendList() {
		if f, err := p.friendLocked(id); err == nil {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Friend returns one roster entry.
func (p *Presence) Friend(id uint32) (Friend, error) {
	p.Lock.Lock()
	defer p.Lock.Unlock()

	f, err := p.friendLocked(id)
	if err != nil {
		return Friend{}, err
	}
	return *f, nil
}

// friendLocked returns the cached entry, filling it from the engine on
// first use.
func (p *Presence) friendLocked(id uint32) (*Friend, error) {
	if f, ok := p.roster[id]; ok {
		return f, nil
	}
	pk, err := p.Engine.FriendPublicKey(id)
	if err != nil {
		return nil, fmt.Errorf("friend %d: %w", id, err)
	}
	f := &Friend{ID: id, PublicKey: pk, UserStatus: StatusOnline}
	f.Name, _ = p.Engine.FriendName(id)
	f.StatusMessage, _ = p.Engine.FriendStatusMessage(id)
	if us, err := p.Engine.FriendUserStatus(id); err == nil {
		f.UserStatus = mapStatus(us)
	}
	if cs, err := p.Engine.FriendConnectionStatus(id); err == nil {
		f.Connection = cs
		if cs != engine.ConnectionNone {
			f.LastSeen = p.timeProvider.Now()
		}
	}
	p.roster[id] = f
	return f, nil
}

func (p *Presence) handleFriendRequest(publicKey engine.PublicKey, message string) {
	p.Log.WithFields(logrus.Fields{
		"function":   "handleFriendRequest",
		"public_key": publicKey.Short(),
	}).Info("Friend request received")
	p.Emit(FriendRequestReceived{PublicKey: publicKey, Message: message})
}

func (p *Presence) handleName(friendID uint32, name string) {
	f, err := p.friendLocked(friendID)
	if err != nil {
		p.Log.WithFields(logrus.Fields{
			"function":  "handleName",
			"friend_id": friendID,
		}).Debug("Name change for unknown friend")
		return
	}
	f.Name = name
	p.Emit(FriendNameChanged{ID: friendID, Name: name})
}

func (p *Presence) handleStatusMessage(friendID uint32, message string) {
	f, err := p.friendLocked(friendID)
	if err != nil {
		p.Log.WithFields(logrus.Fields{
			"function":  "handleStatusMessage",
			"friend_id": friendID,
		}).Debug("Status message for unknown friend")
		return
	}
	f.StatusMessage = message
	p.Emit(FriendStatusMessageChanged{ID: friendID, Message: message})
}

func (p *Presence) handleUserStatus(friendID uint32, status engine.UserStatus) {
	f, err := p.friendLocked(friendID)
	if err != nil {
		p.Log.WithFields(logrus.Fields{
			"function":  "handleUserStatus",
			"friend_id": friendID,
		}).Debug("User status for unknown friend")
		return
	}
	before := f.Status()
	f.UserStatus = mapStatus(status)
	if after := f.Status(); after != before {
		p.Emit(FriendStatusChanged{ID: friendID, Status: after})
	}
}

func (p *Presence) handleConnection(friendID uint32, status engine.ConnectionStatus) {
	f, err := p.friendLocked(friendID)
	if err != nil {
		p.Log.WithFields(logrus.Fields{
			"function":  "handleConnection",
			"friend_id": friendID,
		}).Debug("Connection change for unknown friend")
		return
	}
	before := f.Status()
	f.Connection = status
	f.LastSeen = p.timeProvider.Now()

	p.Log.WithFields(logrus.Fields{
		"function":   "handleConnection",
		"friend_id":  friendID,
		"connection": status,
	}).Info("Friend connection changed")
	if after := f.Status(); after != before {
		p.Emit(FriendStatusChanged{ID: friendID, Status: after})
	}
}
