// Package server exposes the chat service as a JSON HTTP API.
//
// # Routes
//
//	POST /api/chats                                       create users and a room
//	GET  /api/rooms/{roomID}                              room and members
//	POST /api/rooms/{roomID}/messages                     post a message
//	GET  /api/rooms/{roomID}/messages/{messageID}/next    next message (blocks)
//	GET  /api/messages/{messageID}/conversation?limit=N   path from the root
//	GET  /health                                          liveness
//	GET  /health/ready                                    store reachability
//
// Message bodies carry content_html, the content rendered with goldmark.
// Raw HTML in message content is omitted from the rendering.
//
// # Errors
//
// Errors are returned as {"error": "..."} with these statuses:
//
//	chat.ErrInvalidInput, malformed body   400
//	chat.ErrNotFound                       404
//	chat.ErrGenerationFailure              502
//	client disconnected                    499
//	anything else                          500
//
// The next-message route has no write timeout. A request may wait as long as
// the generation timeout configured on the chat service.
package server
