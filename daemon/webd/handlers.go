package webd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotblauer/globetiles/camera"
	"github.com/rotblauer/globetiles/extent"
	"github.com/rotblauer/globetiles/params"
	"github.com/rotblauer/globetiles/tile"
	"github.com/rotblauer/globetiles/tiled"
)

func pingPong(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

type webDaemonStatus struct {
	StartedAt time.Time               `json:"started_at"`
	Uptime    string                  `json:"uptime"`
	Config    *params.WebDaemonConfig `json:"config"`
	WSOpen    bool                    `json:"ws_open"`
	WSConns   int                     `json:"ws_conns"`
	Layers    []string                `json:"layers"`
}

func (s *WebDaemon) statusReport(w http.ResponseWriter, r *http.Request) {
	st := webDaemonStatus{
		StartedAt: s.started,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		WSOpen:    !s.melodyInstance.IsClosed(),
		WSConns:   s.melodyInstance.Len(),
		Config:    s.Config,
		Layers:    []string{},
	}
	s.view.Do(func(layers []*tiled.Layer) {
		for _, l := range layers {
			st.Layers = append(st.Layers, l.ID())
		}
	})
	s.writeJSON(w, st)
}

func (s *WebDaemon) writeJSON(w http.ResponseWriter, v any) {
	j, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	if _, err := w.Write(j); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// withLayer runs fn on the update turn with the layer named in the route.
// It reports false, having written a 404, if there is no such layer.
func (s *WebDaemon) withLayer(w http.ResponseWriter, r *http.Request, fn func(l *tiled.Layer)) bool {
	id := mux.Vars(r)["layer"]
	found := false
	s.view.Do(func(layers []*tiled.Layer) {
		for _, l := range layers {
			if l.ID() == id {
				found = true
				fn(l)
				return
			}
		}
	})
	if !found {
		s.logger.Warn("No such layer", "layer", id)
		http.Error(w, fmt.Sprintf("No such layer: %q", id), http.StatusNotFound)
	}
	return found
}

func (s *WebDaemon) handleLayerStats(w http.ResponseWriter, r *http.Request) {
	var stats tiled.Stats
	if !s.withLayer(w, r, func(l *tiled.Layer) { stats = l.Stats() }) {
		return
	}
	s.writeJSON(w, stats)
}

type featurer interface {
	Feature() *geojson.Feature
}

func nodeFeature(n *tile.Node) *geojson.Feature {
	var f *geojson.Feature
	if o, ok := n.Object.(featurer); ok {
		f = o.Feature()
	} else {
		f = geojson.NewFeature(extent.Polygon(n.Extent()))
		f.ID = n.Extent().Key()
	}
	f.Properties["key"] = n.Extent().Key()
	f.Properties["level"] = n.Level()
	f.Properties["zoom"] = n.Extent().Zoom()
	return f
}

// handleTiles writes the displayed tiles of a layer as a GeoJSON FeatureCollection.
func (s *WebDaemon) handleTiles(w http.ResponseWriter, r *http.Request) {
	fc := geojson.NewFeatureCollection()
	ok := s.withLayer(w, r, func(l *tiled.Layer) {
		for _, n := range l.Displayed() {
			fc.Append(nodeFeature(n))
		}
	})
	if !ok {
		return
	}
	b, err := fc.MarshalJSON()
	if err != nil {
		s.logger.Error("Failed to marshal tiles", "error", err)
		http.Error(w, "Failed to marshal tiles", http.StatusInternalServerError)
		return
	}
	if _, err := w.Write(b); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

type cameraRequest struct {
	Lon      float64 `json:"lon"`
	Lat      float64 `json:"lat"`
	Altitude float64 `json:"altitude"`
}

func (c cameraRequest) validate() error {
	for _, v := range []float64{c.Lon, c.Lat, c.Altitude} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("non-finite value")
		}
	}
	if c.Lon < -180 || c.Lon > 180 || c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("position %v,%v out of range", c.Lon, c.Lat)
	}
	if c.Altitude <= 0 {
		return errors.New("altitude must be positive")
	}
	return nil
}

func cameraResponse(c *camera.Camera) cameraRequest {
	if c == nil {
		return cameraRequest{}
	}
	return cameraRequest{Lon: c.Position[0], Lat: c.Position[1], Altitude: c.Altitude}
}

func (s *WebDaemon) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, cameraResponse(s.view.Camera()))
}

// handleSetCamera moves the view's camera. The next frame walks every layer.
func (s *WebDaemon) handleSetCamera(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		s.logger.Error("Failed to read request body", "error", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	req := cameraRequest{}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Failed to decode", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pos := orb.Point{req.Lon, req.Lat}
	cam := s.view.Camera()
	if cam == nil {
		cam = camera.New(pos, req.Altitude, nil)
	} else {
		cam = cam.Moved(pos, req.Altitude)
	}
	s.view.SetCamera(cam)
	s.logger.Debug("Camera moved", "lon", req.Lon, "lat", req.Lat, "altitude", req.Altitude)

	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, cameraResponse(cam))
}
