// Package ws provides WebSocket attach for tab terminals.
//
// The package implements:
//   - Hub: the WebSocket clients attached to one tab
//   - HubManager: one hub per tab index
//   - Handler: upgrades attach requests and routes client messages
//     (stdin, resize, ping)
//   - Service: receives tab activity from the session manager and
//     broadcasts it (stdout, status)
//
// Terminal bytes travel base64 encoded in the data field. A client that
// attaches first receives the tab's scrollback as a history message, then
// live output. The snapshot is taken under the hub lock and each client
// tracks its offset in the tab's output stream, so no chunk is lost or sent
// twice around the attach. Tabs keep running when every client has gone.
//
// OriginPolicy gates browser origins for the upgrade and for the HTTP API.
package ws
