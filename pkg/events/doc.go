/*
Package events fans live-query notifications out to their subscribers.

A LIVE SELECT statement registers a live query id with a Broker and
reads from the Subscriber channel it returns. Every CREATE/UPDATE/DELETE
that the write path processes is checked against each active live query
on the affected table; a match is published by live query id, not
broadcast to everyone,
since notifications are inherently addressed to the query that asked
for them.

# Architecture

	┌────────────────── NOTIFICATION BROKER ───────────────────┐
	│                                                            │
	│  LIVE SELECT ──▶ Subscribe(liveID) ──▶ Subscriber channel  │
	│                                                            │
	│  write path ──▶ Publish(liveID, Notification) ──▶ routed   │
	│                  to that live query's Subscriber only      │
	│                                                            │
	│  KILL $id ──▶ Unsubscribe(liveID) ──▶ channel closed        │
	└────────────────────────────────────────────────────────────┘

Publish never blocks: a full per-subscriber buffer drops the
notification rather than stalling the writer, since a slow LIVE
consumer must never slow down unrelated CRUD.
*/
package events
