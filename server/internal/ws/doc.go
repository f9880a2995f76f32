// Package ws implements the live audit feed served at /ws/audit.
//
// Hub is an audit.Sink. Publish queues each persisted audit entry and
// Hub.Run(ctx) broadcasts it to every connected client; cancelling ctx
// closes all connections. Hub.ServeHTTP upgrades the request, replays the
// most recent entries (New(backlog)) and then streams new ones.
//
// Message format sent to clients:
//
//	{
//	  "event": "audit",
//	  "data":  {"timestamp": "...", "action": "CREATE", "resource": "Patient", "resource_id": "p-1"}
//	}
//
// A client whose buffer fills up is disconnected.
package ws
