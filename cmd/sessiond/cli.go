// Package main defines the sessiond CLI structure using kong.
//
// Grounded on cmd/agent/cli.go's kong.CLI struct-tag style, cut down to this
// daemon's five subcommands (init, serve, migrate, gc, version).
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Init    InitCmd    `cmd:"" help:"Write a default config file and create the database"`
	Serve   ServeCmd   `cmd:"" help:"Run the session engine server"`
	Migrate MigrateCmd `cmd:"" help:"Apply pending database migrations and exit"`
	GC      GCCmd      `cmd:"" help:"Sweep unreferenced blobs"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// InitCmd writes a default config file and creates the (empty, migrated)
// database, covering the first-run need without a packaging/install flow.
type InitCmd struct {
	Config string `short:"c" help:"Config file path to write" default:"sessiond.toml"`
}

// ServeCmd starts the duplex RPC server and health endpoint.
type ServeCmd struct {
	Config string `short:"c" help:"Config file path" default:"sessiond.toml"`
}

// MigrateCmd opens the database, applies migrations, and exits.
type MigrateCmd struct {
	Config string `short:"c" help:"Config file path" default:"sessiond.toml"`
}

// GCCmd reclaims blobs with a zero reference count.
type GCCmd struct {
	Config string `short:"c" help:"Config file path" default:"sessiond.toml"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func kongVars() kong.Vars {
	return kong.Vars{"version": version}
}
