// Command demo runs an arena and a set of bot players in a single process.
//
// The players register, join the queue and play sessions back to back. Each
// finished session's scores are printed as it completes.
//
// # Usage
//
//	go run ./services/demo [flags]
//
// # Flags
//
//	--players      Number of bot players (default: 8)
//	--cohort       Participants per session (default: 4)
//	--rounds       Rounds per session (default: 3)
//	--requests     Signatures each player must collect per round (default: 2)
//	--round        Round duration (default: 10s)
//	--port         Arena port (default: 8000)
//	--admin-token  Admin token (user:pass, default: admin:admin)
//
// # Example
//
//	go run ./services/demo --players=12 --round=5s
package main
