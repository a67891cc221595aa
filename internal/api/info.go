package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

// Version is reported by /health and /api/v1/info.
const Version = "1.0.0"

// SessionCounter reports the number of open map sessions.
type SessionCounter interface {
	Len() int
}

type InfoHandler struct {
	wfsURL    string
	workspace string
	journalOK bool
	sessions  SessionCounter
}

func NewInfoHandler(wfsURL, workspace string, journalOK bool, sessions SessionCounter) *InfoHandler {
	return &InfoHandler{wfsURL: wfsURL, workspace: workspace, journalOK: journalOK, sessions: sessions}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name      string   `json:"name" doc:"Service name"`
	Version   string   `json:"version" doc:"Service version"`
	WFSURL    string   `json:"wfs_url" doc:"WFS endpoint the map reads and writes"`
	Workspace string   `json:"workspace" doc:"WFS workspace prefix"`
	Journal   bool     `json:"journal" doc:"Whether the write journal is available"`
	Sessions  int      `json:"sessions" doc:"Open map sessions"`
	Features  []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"wfs", "map", "export-csv", "export-geojson", "export-xlsx"}
	if h.journalOK {
		features = append(features, "journal")
	}
	body := InfoBody{
		Name:      "campus-map",
		Version:   Version,
		WFSURL:    h.wfsURL,
		Workspace: h.workspace,
		Journal:   h.journalOK,
		Features:  features,
	}
	if h.sessions != nil {
		body.Sessions = h.sessions.Len()
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}
