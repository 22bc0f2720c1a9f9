// Package frag defines the wire contract between the task distributor, the
// fragment worker, and the session manager.
//
// Task descriptors are JSON documents carried in a single ZeroMQ frame. A
// descriptor names the originating session (pid), the object set (guid), and
// the byte ranges to retrieve. The pid doubles as the routing identity for
// replies: every reply message is addressed with it so the sink's
// identity-routing delivers it to the correct session.
//
// # Task
//
//	{
//	    "pid": "some-pid",
//	    "token": "on-behalf-of-token",
//	    "guid": "object-id",
//	    "storage_endpoint": "https://storage.example.com",
//	    "function": "slice",
//	    "ranges": [{"object": "0-0-0.f32", "offset": 0, "length": 1024}]
//	}
//
// # Replies
//
// One reply message per fetched part, three frames each:
//
//	[address][header JSON][payload bytes]
//
// where address is the task pid and the header carries (pid, guid, index,
// count) so the far side can reassemble out-of-band.
package frag
