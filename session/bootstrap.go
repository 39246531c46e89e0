package session

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/engine"
)

// ErrNoBootstrapNodes is the cause of a BootstrapError when the list is empty.
var ErrNoBootstrapNodes = errors.New("no bootstrap nodes configured")

// BootstrapNode is one well-known DHT entry point.
type BootstrapNode struct {
	Address   string
	Port      uint16
	PublicKey string // 64 hex characters
}

// String returns host:port.
func (n BootstrapNode) String() string {
	return fmt.Sprintf("%s:%d", n.Address, n.Port)
}

// Validate checks the node before it is handed to the engine.
func (n BootstrapNode) Validate() error {
	if n.Address == "" {
		return errors.New("empty address")
	}
	if n.Port == 0 {
		return errors.New("port must be non-zero")
	}
	if _, err := engine.ParsePublicKey(n.PublicKey); err != nil {
		return err
	}
	return nil
}

// BootstrapError represents specific bootstrap failure types.
type BootstrapError struct {
	Type  string
	Node  string
	Cause error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap %s failed for %s: %v", e.Type, e.Node, e.Cause)
}

func (e *BootstrapError) Unwrap() error {
	return e.Cause
}

// bootstrapLocked walks the node list, shuffled when configured, and stops
// at the first node the engine accepts. Failures are logged and skipped.
func (s *Session) bootstrapLocked() error {
	nodes := append([]BootstrapNode(nil), s.opts.Bootstrap...)
	if len(nodes) == 0 {
		return &BootstrapError{Type: "config", Node: "-", Cause: ErrNoBootstrapNodes}
	}
	if s.opts.ShuffleBootstrap {
		rand.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
	}

	var lastErr *BootstrapError
	for _, node := range nodes {
		if err := node.Validate(); err != nil {
			lastErr = &BootstrapError{Type: "validation", Node: node.String(), Cause: err}
			s.log.WithFields(logrus.Fields{
				"function": "bootstrap",
				"node":     node.String(),
				"error":    err.Error(),
			}).Warn("Skipping invalid bootstrap node")
			continue
		}
		if err := s.eng.Bootstrap(node.Address, node.Port, node.PublicKey); err != nil {
			lastErr = &BootstrapError{Type: "connection", Node: node.String(), Cause: err}
			s.log.WithFields(logrus.Fields{
				"function": "bootstrap",
				"node":     node.String(),
				"error":    err.Error(),
			}).Warn("Bootstrap node failed")
			continue
		}

		s.log.WithFields(logrus.Fields{
			"function":   "bootstrap",
			"node":       node.String(),
			"public_key": node.PublicKey[:16] + "...",
		}).Info("Bootstrapped")
		return nil
	}
	return lastErr
}
