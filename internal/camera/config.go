package camera

import "strconv"

// Config describes one camera entry from the `camera` config section
// (spec §6.2): host/credentials/stream path plus optional PTZ settings.
type Config struct {
	Host         string  `json:"host"`
	Port         int     `json:"port"`
	Username     string  `json:"username"`
	Password     string  `json:"password"`
	StreamPath   string  `json:"stream_path"`
	Transport    string  `json:"transport"`
	PTZEnabled   bool    `json:"ptz_enabled"`
	ONVIFPort    int     `json:"onvif_port"`
	PTZStep      float64 `json:"ptz_step"`
	PTZZoomStep  float64 `json:"ptz_zoom_step"`
	ONVIFWSDLDir string  `json:"onvif_wsdl_dir"`
}

// StreamOptions carries the HLS/transcoder tuning knobs of spec §4.4.2,
// separate from the per-camera Config because they apply to the whole
// output pipeline rather than the RTSP source.
type StreamOptions struct {
	OutputDir           string
	SegmentDuration      int // seconds, default 2
	PlaylistSize         int // segments, default 5
	MaxReconnectAttempts int // -1 = unbounded, default 10
	ReconnectBaseDelay   float64 // seconds, default 5
	StaleThreshold       float64 // seconds, default 10
	HealthTickInterval   float64 // seconds, default 2
}

// DefaultStreamOptions returns the defaults named in spec §4.4.
func DefaultStreamOptions(outputDir string) StreamOptions {
	return StreamOptions{
		OutputDir:            outputDir,
		SegmentDuration:      2,
		PlaylistSize:         5,
		MaxReconnectAttempts: 10,
		ReconnectBaseDelay:   5,
		StaleThreshold:       10,
		HealthTickInterval:   2,
	}
}

// RTSPURL builds the rtsp:// URL the transcoder reads from.
func (c Config) RTSPURL() string {
	auth := ""
	if c.Username != "" {
		auth = c.Username + ":" + c.Password + "@"
	}
	port := c.Port
	if port == 0 {
		port = 554
	}
	path := c.StreamPath
	if path != "" && path[0] != '/' {
		path = "/" + path
	}
	return "rtsp://" + auth + c.Host + ":" + strconv.Itoa(port) + path
}
