package params

import "time"

type WebDaemonConfig struct {
	ListenerConfig

	// SocketPath is the websocket endpoint streaming tile changes.
	SocketPath string

	// ReadHeaderTimeout bounds slow clients.
	ReadHeaderTimeout time.Duration
}

func DefaultWebListenerConfig() ListenerConfig {
	return ListenerConfig{
		Network: "tcp",
		Address: "localhost:3000",
	}
}

func DefaultWebDaemonConfig() *WebDaemonConfig {
	return &WebDaemonConfig{
		ListenerConfig:    DefaultWebListenerConfig(),
		SocketPath:        "/ws",
		ReadHeaderTimeout: 10 * time.Second,
	}
}
