package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/campus-map/internal/export"
	"github.com/joeblew999/campus-map/internal/journal"
)

type ExportInput struct {
	Format string `path:"format" enum:"csv,geojson,xlsx" doc:"Export format" example:"csv"`
}

type ExportOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

type JournalInput struct {
	Limit int `query:"limit" minimum:"1" maximum:"1000" default:"50" doc:"Number of entries"`
}

// RegisterExports registers the service export route.
func (h *APIHandler) RegisterExports(api huma.API) {
	huma.Get(api, "/api/v1/exports/{format}", h.GetExport, huma.OperationTags("exports"))
}

// RegisterJournal registers the write journal route.
func (h *APIHandler) RegisterJournal(api huma.API) {
	huma.Get(api, "/api/v1/journal", h.GetJournal, huma.OperationTags("journal"))
}

// GetExport downloads every located service as an attachment.
func (h *APIHandler) GetExport(ctx context.Context, input *ExportInput) (*ExportOutput, error) {
	f, err := export.ParseFormat(input.Format)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	rows, err := h.svc.Catalog.EnrichedServices(ctx)
	if err != nil {
		return nil, h.upstream("export services", err)
	}
	data, err := export.Render(f, rows)
	if err != nil {
		return nil, huma.Error500InternalServerError("rendering export failed", err)
	}
	return &ExportOutput{
		ContentType:        f.ContentType(),
		ContentDisposition: `attachment; filename="` + f.Filename() + `"`,
		Body:               data,
	}, nil
}

// GetJournal lists the most recent WFS writes, newest first.
func (h *APIHandler) GetJournal(ctx context.Context, input *JournalInput) (*struct{ Body []journal.Entry }, error) {
	if h.svc.Journal == nil {
		return &struct{ Body []journal.Entry }{Body: []journal.Entry{}}, nil
	}
	entries, err := h.svc.Journal.Recent(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading journal failed", err)
	}
	return &struct{ Body []journal.Entry }{Body: nonNil(entries)}, nil
}
