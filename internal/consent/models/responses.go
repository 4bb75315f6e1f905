package models

import (
	"time"

	"privileges/internal/privilege"
)

// EntryResponse is one privilege as shown to the user: enough to render a
// labeled checkbox.
type EntryResponse struct {
	Key         string     `json:"key"`
	Label       string     `json:"label"`
	Description string     `json:"description"`
	Granted     bool       `json:"granted"`
	Explicit    bool       `json:"explicit"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

type ViewResponse struct {
	Privileges []EntryResponse `json:"privileges"`
}

type DefinitionResponse struct {
	Key            string `json:"key"`
	Label          string `json:"label"`
	Description    string `json:"description"`
	DefaultGranted bool   `json:"default_granted"`
}

type CatalogResponse struct {
	Privileges []DefinitionResponse `json:"privileges"`
}

// PartialApplicationResponse tells the user exactly which settings took
// effect before a degraded-mode batch stopped.
type PartialApplicationResponse struct {
	Error            string   `json:"error"`
	ErrorDescription string   `json:"error_description"`
	Committed        []string `json:"committed"`
	Failed           string   `json:"failed"`
}

func NewEntryResponse(e Entry) EntryResponse {
	return EntryResponse{
		Key:         e.Key.String(),
		Label:       e.Label,
		Description: e.Description,
		Granted:     e.Granted,
		Explicit:    e.Explicit,
		UpdatedAt:   e.UpdatedAt,
	}
}

func NewViewResponse(entries []Entry) ViewResponse {
	resp := ViewResponse{Privileges: make([]EntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Privileges = append(resp.Privileges, NewEntryResponse(e))
	}
	return resp
}

func NewCatalogResponse(defs []privilege.Definition) CatalogResponse {
	resp := CatalogResponse{Privileges: make([]DefinitionResponse, 0, len(defs))}
	for _, d := range defs {
		resp.Privileges = append(resp.Privileges, DefinitionResponse{
			Key:            d.Key.String(),
			Label:          d.Label,
			Description:    d.Description,
			DefaultGranted: d.DefaultGranted,
		})
	}
	return resp
}
