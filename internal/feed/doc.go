// Package feed maintains the websocket connection to the upstream market-data
// vendor. It authorizes an ephemeral socket URL with a bearer token, decodes
// the vendor's protobuf tick frames, and reconnects with jittered exponential
// backoff when the connection drops. Decoded ticks are delivered on a channel
// consumed by the dispatcher.
package feed
