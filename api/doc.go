// Package api serves a session over HTTP.
//
// Commands map onto the module operations under /v1: friends, messages,
// groups and invites, file transfers and calls. Errors are JSON objects
// with a short code and the wrapped message:
//
//	{"error":"not_found","message":"accept 0-receiving-9: transfer not found"}
//
// GET /v1/events upgrades to a websocket that streams every session event
// as {"type": name, "data": payload}. The first message has type "hello"
// and carries the local identity. A client that cannot keep up is
// disconnected rather than slowing the session down.
package api
