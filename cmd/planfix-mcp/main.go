// Package main provides the planfix-mcp binary — MCP server for AI agents.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/cpravetz/stage7-sub000/pkg/engine"
	pmcp "github.com/cpravetz/stage7-sub000/pkg/mcp"
	"github.com/cpravetz/stage7-sub000/pkg/oracle"
	"github.com/cpravetz/stage7-sub000/pkg/registry"
)

var version = "dev"

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}
	defer log.Sync()

	eng := engine.New(engine.Config{
		Manifests: newManifestSource(log),
		Oracle:    newOracle(),
		Logger:    log,
	})

	s := pmcp.NewServer(version, eng)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newManifestSource(log *zap.Logger) engine.ManifestSource {
	base := os.Getenv("PLANFIX_REGISTRY_URL")
	if base == "" {
		return registry.NewResolver(nil, log)
	}
	client := registry.NewClient(base, os.Getenv("PLANFIX_REGISTRY_TOKEN"))
	return registry.NewResolver(client, log)
}

func newOracle() oracle.Oracle {
	endpoint := os.Getenv("PLANFIX_BRAIN_URL")
	if endpoint == "" {
		return nil
	}
	return oracle.NewChatClient(endpoint,
		os.Getenv("PLANFIX_BRAIN_TOKEN"),
		os.Getenv("PLANFIX_BRAIN_MODEL"))
}
