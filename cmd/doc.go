// Package cmd holds the arena binaries.
//
// # Commands
//
// arena: The arena server. Reads an optional YAML config; flags override it.
//
//	go run ./cmd/arena --config=arena.yaml
//	go run ./cmd/arena --addr=:8080 --admin-token=admin:secret --archive=file --archive-target=./archive
//
// arena-cli: A participant's command line, including a bot that plays a
// whole session.
//
//	go run ./cmd/arena-cli keygen
//	go run ./cmd/arena-cli register --id=alice --key=<hex>
//	go run ./cmd/arena-cli play --id=alice --key=<hex>
//
// The services/demo command starts an arena together with a set of bots in
// one process.
package cmd
