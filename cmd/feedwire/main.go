// Package main is the entry point for feedwire.
//
//	@title			feedwire API
//	@version		1.0
//	@description	Real-time event fan-out. Collaborators publish events over REST; users receive them over WebSocket.
//
//	@contact.name	Brian Ly
//	@contact.url	https://github.com/brianly1003/feedwire
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8780
//	@BasePath	/
//	@schemes	http
//
//	@tag.name			health
//	@tag.description	Health check endpoints
//	@tag.name			events
//	@tag.description	Event publishing endpoints
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token issued with `feedwire token`. Format: "Bearer <token>"
package main

import (
	"fmt"
	"os"

	"github.com/brianly1003/feedwire/cmd/feedwire/cmd"
)

// Version information (set by ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cmd.SetVersionInfo(Version, BuildTime, GitCommit)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
