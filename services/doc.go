/*
Package services exposes the arena over HTTP and provides a Go client for it.

# Server

ArenaServer owns one instance of every arena component (registry, mailbox,
live hub, matchmaking queue and game manager) and wires them together:

  - the queue asks the game manager whether a participant is already playing,
    and hands every completed cohort to it
  - the live hub reports stream open and close to the game manager, which keeps
    the registry's connection status current
  - the mailbox notifies recipients through the live hub

RegisterRoutes mounts the API on a chi router:

	GET  /health                   liveness and counters
	GET  /config                   game rules
	GET  /moderator                moderator id and public key
	GET  /participants             registered participants
	POST /participants/register    signed registration, returns a credential
	POST /participants/refresh     exchange a valid credential for a new one
	GET  /participants/me          *
	POST /messages                 * send one message
	POST /messages/batch           * send up to 50 messages
	GET  /messages                 * list (direction, correspondent, state, since, limit, peek)
	GET  /messages/{id}            *
	POST /messages/{id}/delivered  *
	POST /messages/{id}/read       *
	POST /queue/join               *
	POST /queue/leave              *
	GET  /queue/status
	POST /submissions              * present a signer's signature
	GET  /sessions                 running sessions
	GET  /sessions/current         * the caller's session view
	GET  /sessions/{id}            running or archived session summary
	GET  /live                     * server-sent events
	GET  /archive                  archived sessions, newest first
	GET  /archive/{id}             full archive record
	POST /admin/reset              basic auth, empties the arena

Routes marked * need a bearer credential (or ?token= for /live). A response
to an authenticated request carries a replacement credential in X-Arena-Token
when the presented one is close to expiry.

Every failure is a JSON ErrorResponse with a stable reason code. Rejected
submissions return a SubmitResponse instead, so the caller always sees the
scorer's result.

# Client

Client wraps the API for one participant. Player builds on it: an honest bot
that plays a session by mailing sign requests to its assigned signers,
signing only for requesters it is authorized to sign for, and submitting the
signatures it receives.
*/
package services
