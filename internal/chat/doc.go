// Package chat implements the WebSocket protocol spoken by customer chat
// widgets and operator panels.
//
// Each connection runs one read loop. Frames are decoded by DecodeInbound into
// a closed set of request types and handled one at a time, so a client's
// messages are processed in the order it sent them. Client messages are
// stored, broadcast to every connection and, while the conversation is still
// handled by the assistant, passed to triage. Assistant replies, operator
// replies, transfer notices and typing indicators go to the conversation's
// subscribers only.
package chat
