package webd

import (
	"encoding/json"
	"log/slog"

	"github.com/olahol/melody"
	"github.com/rotblauer/globetiles/tiled"
	"github.com/rotblauer/globetiles/view"
)

type websocketAction string

var (
	websocketActionHello  websocketAction = "hello"
	websocketActionChange websocketAction = "change"
)

type broadcast struct {
	Action  websocketAction        `json:"action"`
	Change  *view.Change           `json:"change,omitempty"`
	Layers  map[string]tiled.Stats `json:"layers,omitempty"`
	Clients int                    `json:"clients,omitempty"`
}

// initMelody sets up the websocket handler.
func (s *WebDaemon) initMelody() {
	s.melodyInstance = melody.New()

	// Greet new clients with the current shape of every layer.
	s.melodyInstance.HandleConnect(func(ss *melody.Session) {
		s.logger.Info("Websocket connected", "remote", ss.Request.RemoteAddr)
		b, err := json.Marshal(broadcast{
			Action:  websocketActionHello,
			Layers:  s.layerStats(),
			Clients: s.melodyInstance.Len(),
		})
		if err != nil {
			s.logger.Error("Failed to marshal hello", "error", err)
			return
		}
		_ = ss.Write(b)
	})

	// Clients have nothing to say. Log and drop.
	s.melodyInstance.HandleMessage(func(ss *melody.Session, msg []byte) {
		s.logger.Debug("Websocket message", "remote", ss.Request.RemoteAddr, "msg", string(msg))
	})

	s.melodyInstance.HandleDisconnect(func(ss *melody.Session) {
		s.logger.Info("Websocket disconnected", "remote", ss.Request.RemoteAddr)
	})

	s.melodyInstance.HandleError(func(ss *melody.Session, e error) {
		s.logger.Warn("Websocket error", "remote", ss.Request.RemoteAddr, "error", e)
	})

	// Frames wait on this subscription, so it is always drained,
	// clients or not.
	changes := make(chan view.Change, 64)
	s.changesSub = s.view.Subscribe(changes)
	sub := s.changesSub
	go func() {
		for {
			select {
			case c := <-changes:
				if s.melodyInstance.Len() == 0 {
					continue
				}
				b, err := json.Marshal(broadcast{Action: websocketActionChange, Change: &c})
				if err != nil {
					slog.Error("Failed to marshal change", "error", err)
					continue
				}
				if err := s.melodyInstance.Broadcast(b); err != nil {
					slog.Warn("Failed to broadcast change", "error", err)
				}
			case err := <-sub.Err():
				if err != nil {
					slog.Error("Change subscription failed", "error", err)
				}
				return
			}
		}
	}()
}

func (s *WebDaemon) layerStats() map[string]tiled.Stats {
	out := map[string]tiled.Stats{}
	s.view.Do(func(layers []*tiled.Layer) {
		for _, l := range layers {
			out[l.ID()] = l.Stats()
		}
	})
	return out
}
