// Package gateway carries account protocol frames between network
// connections and the authenticator.
//
// Both transports (raw TCP and WebSocket) turn a connection into a Client
// with a bounded send queue and hand its frames to a Router. The Router
// decodes each frame, records it in the PendingTable, runs it on a bounded
// worker pool and routes the result back to the connection that asked,
// looked up by request id through the Registry.
package gateway
