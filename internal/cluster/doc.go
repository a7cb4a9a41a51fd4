// Package cluster defines the data model shared by every clustering
// subsystem of a realtime pub/sub platform: node identity, room/version
// replication state, and the wire envelope nodes exchange.
//
// # Overview
//
// A clustermesh deployment is a fleet of stateless application nodes,
// each exposing a realtime publish/subscribe API on top of a document
// store. Nodes cooperate so a client connected to any one of them sees
// notifications regardless of which node ingested them. This package
// holds the types that flow between the fleet-facing packages:
// internal/coordstore (the authoritative store), internal/transport
// (the peer fabric), internal/state (the local replica), and
// internal/syncengine (reconciliation).
//
// # Architecture
//
// Every node talks to the same external coordinator store and to
// every other node directly — there is no hub:
//
//	                     в”Ңв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җ
//	                     в”Ӯ         coordinator store (redis)          в”Ӯ
//	                     в”Ӯ  discovery, versions, strategies, rooms    в”Ӯ
//	                     в””в”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”¬в”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”ҳ
//	                                            в”Ӯ
//	          в”Ңв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Јв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җ
//	          в”Ӯ                                в”Ӯ                                в”Ӯ
//	в”Ңв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв–јв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Ҳ в”Ңв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв–јв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Ҳ в”Ңв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв–јв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Ҳ
//	в”Ӯ node A: state, sync   в”Ӯ в”Ӯ node B: state, sync   в”Ӯ в”Ӯ node C: state, sync   в”Ӯ
//	в”Ӯ pub :7511, router :7510в”Ӯв—Ҹв”Җв”ғв–¶pub :7511, router :7510в”Ӯв—Ҹв”Җв”ғв–¶pub :7511, router :7510в”Ӯ
//	в””в”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”ҳ     в””в”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”ҳ     в””в”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”ҳ
//
// # Core Types
//
// NodeDescriptor: identity of one node on the peer fabric
//   - UUID, publisher/router bind addresses, birthdate
//   - Inserted into coordinator discovery once transport binds
//
// Room: one subscription identity and its fleet-wide count
//   - index, collection, opaque roomId, count
//   - Never persisted at count zero; zero transitions delete the room
//
// StateSnapshot: the authoritative reply from the coordinator's
// getState script — a version and the rooms alive under one tag.
//
// Envelope: the frame nodes exchange over the peer fabric — a topic
// name plus a msgpack-encoded payload.
//
// # See Also
//
// Related packages:
//   - internal/coordstore: coordinator client and atomic scripts
//   - internal/transport: the publisher/router peer fabric
//   - internal/state: the local room replica
//   - internal/syncengine: cluster:sync reconciliation
package cluster
