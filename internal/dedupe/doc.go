// Package dedupe suppresses retransmitted client messages.
//
// Clients may attach a client_message_id to each message and resend it after a
// reconnect. The chat layer records Key(clientID, messageID) in a Cache and
// drops a message whose key was recorded within the TTL.
package dedupe
