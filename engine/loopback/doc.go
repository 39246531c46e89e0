// Package loopback is an in-process implementation of the engine
// interfaces.
//
// Every node created on the same Network can reach the others after it
// has bootstrapped against a node registered with AddBootstrapNode.
// Friendships must be mutual before a link comes up. Each link runs a
// Noise IK handshake and every friend packet is sealed with the resulting
// cipher states. Friend requests are sealed with nacl/box, conference
// traffic with nacl/secretbox under the conference key.
//
//	network := loopback.NewNetwork()
//	boot, _ := network.AddBootstrapNode("127.0.0.1", 33445)
//	factory := network.Factory()
//	tox, av, _ := factory(engine.Options{UDPEnabled: true})
//	_ = tox.Bootstrap("127.0.0.1", 33445, boot.SelfPublicKey().String())
//
// Nothing moves between nodes until each of them calls Iterate, which
// makes the package usable as a deterministic test harness. SetOffline,
// SetSendWindow and SetFileDataFilter inject connectivity loss and send
// failures.
//
// A node and its AV are not safe for concurrent use, matching the engine
// contract. Different nodes may be driven from different goroutines.
package loopback
