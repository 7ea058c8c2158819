// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

/*
Package websocket is the session transport of the broker.

Every websocket connection becomes a Client with a uuid session id. The Hub
attaches it to the broker on register and detaches it on unregister, which
releases all of its subscriptions whether the peer closed cleanly or the
connection simply died.

Each client has two goroutines:
  - readPump: decodes frames, handles subscribe, unsubscribe, ping and
    driver publishes (location-update, notification)
  - writePump: drains the bounded send queue and writes keepalive pings

Frames:

	{"type":"subscribe-to-vehicle","data":{"vehicleId":"CE-101"}}
	{"type":"unsubscribe-from-vehicle","data":{"vehicleId":"CE-101"}}
	{"type":"location-update","data":{"vehicleId":"CE-101","location":{"lat":23.81,"lng":90.41,"description":"Near Library"},"timestamp":"2026-03-01T08:00:00Z"}}
	{"type":"notification","data":{"vehicleId":"CE-101","notification":{"type":"delay","message":"5 min late","timestamp":"2026-03-01T08:00:00Z","id":"..."}}}
	{"type":"location-snapshot","data":{...same as location-update...}}
	{"type":"ping"} / {"type":"pong"}
	{"type":"error","data":{"code":"VALIDATION_FAILED","message":"..."}}

The send queue holds 256 messages by default. When it is full the broker's
delivery is dropped and counted; the session stays open. Publishes are rate
limited per session with golang.org/x/time/rate.

Keepalive: a transport ping every 54s, and the read deadline is 60s past the
last pong.
*/
package websocket
