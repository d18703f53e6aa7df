package server

// Version is set at build time with -ldflags "-X SignalFlow/pkg/server.Version=...".
var Version = "dev"
