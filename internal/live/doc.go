// Package live fans engine and tick events out to authenticated client
// websocket sessions. Each session joins a user room and one room per
// instrument it watches; room membership drives the viewer sets that gate
// upstream subscriptions.
package live
