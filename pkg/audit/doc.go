// Package audit produces structured events for rejected requests.
//
// The authorization middleware emits one Event per rejection:
//
//	{principal?, reason, resource, action}
//
// Principal is nil when the request carried no verifiable token. Events are
// handed to an Emitter; persisting them belongs to the external audit log
// subsystem. LogEmitter writes events to the structured log and MultiEmitter
// fans out to several emitters, for example the log and a forwarding queue.
package audit
