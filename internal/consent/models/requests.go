package models

// ApplyRequest is the JSON body of POST /privileges. Keys are applied exactly
// as submitted; keys left out are not touched.
//
// Notes, when set, is stored on every changed record.
type ApplyRequest struct {
	Changes map[string]bool `json:"changes" validate:"max=256,dive,keys,required,max=64,endkeys"`
	Notes   string          `json:"notes,omitempty" validate:"max=1000"`
}

// MaxNotesLength bounds notes from either request format.
const MaxNotesLength = 1000
