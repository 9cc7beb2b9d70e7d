package server

import (
	"github.com/CK6170/suspscale-go/calib"
	"github.com/CK6170/suspscale-go/pipeline"
)

// APIError is the JSON body of every non-2xx API response.
type APIError struct {
	Error string `json:"error"`
}

type connectRequest struct {
	Port    string `json:"port,omitempty"`
	Baud    int    `json:"baud,omitempty"`
	Legacy  bool   `json:"legacy,omitempty"`
	Bridge  string `json:"bridge,omitempty"`  // host:port, selects TCP bridge transport
	Network string `json:"network,omitempty"` // bridge network, default "tcp"
}

type statusResponse struct {
	Connected bool                      `json:"connected"`
	Dropped   uint64                    `json:"dropped"`
	Left      *pipeline.ProcessedSample `json:"left,omitempty"`
	Right     *pipeline.ProcessedSample `json:"right,omitempty"`
}

type channelRequest struct {
	Side   string `json:"side"`
	Source string `json:"source,omitempty"`
}

type pointRequest struct {
	Side   string  `json:"side"`
	Source string  `json:"source,omitempty"`
	Weight float64 `json:"weight"`
}

type fitRequest struct {
	Side   string `json:"side"`
	Source string `json:"source,omitempty"`
	Mode   string `json:"mode,omitempty"` // "regression" (default) or "piecewise"
}

type sourceRequest struct {
	Side   string `json:"side"`
	Source string `json:"source"`
}

type filterRequest struct {
	Kind   string  `json:"kind"`
	Alpha  float64 `json:"alpha,omitempty"`
	Window int     `json:"window,omitempty"`
}

type firmwareRequest struct {
	Path string `json:"path"`
}

type stateRequest struct {
	Path string `json:"path"`
}

type pointsResponse struct {
	Points []calib.Point `json:"points"`
}

type weightUpdate struct {
	Left    *pipeline.ProcessedSample `json:"left,omitempty"`
	Right   *pipeline.ProcessedSample `json:"right,omitempty"`
	Dropped uint64                    `json:"dropped"`
}

type flashProgress struct {
	ChunksSent  int     `json:"chunksSent"`
	TotalChunks int     `json:"totalChunks"`
	Percent     float64 `json:"percent"`
}
