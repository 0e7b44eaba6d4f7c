// Package server is the coordinator of the chat server.
//
// The Hub owns the single chat.State value and every attached Client. Each
// inbound line, scheduled replay, registration and removal runs one pure
// transition under the hub lock; the produced effects are turned into
// outbound lines and table updates, and the lines are written after the
// lock is released. Clients reach the hub through a Transport: TCP lines,
// WebSocket frames or the operator console. In-process bots attach as
// ordinary clients and follow the effects of every transition as an
// Observer.
package server
