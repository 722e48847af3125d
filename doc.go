// Package mcp implements the client side of the Model Context Protocol streamable HTTP transport.
// Every message is a JSON-RPC 2.0 message POSTed to a single endpoint; the server answers with
// either one JSON body or a server-sent event stream that carries the response together with any
// notifications and requests emitted while the call runs.
//
// HTTPTransport correlates responses with calls, keeps the session token the server assigns, and
// opens the optional push stream, resuming from the last observed event id. Client builds on it
// with the initialization handshake, a cached tool list, tool invocation, and routing of
// notifications to listeners. Every failure is an *Error, see the Is* predicates.
//
// The protocol is described at https://spec.modelcontextprotocol.io/specification/.
package mcp
