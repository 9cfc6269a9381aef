// Package common contains shared constants and sentinel errors used across
// notesync components.
package common

// AuthTokenHeaderName is the HTTP header used to carry the client token on
// outbound requests to the sync server.
const AuthTokenHeaderName = "Authorization"

// DeviceIDHeaderName identifies the originating device on sync requests so
// the server can keep per-device bookkeeping.
const DeviceIDHeaderName = "X-Notesync-Device"
