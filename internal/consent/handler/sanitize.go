package handler

import (
	"net/url"
	"strconv"
	"strings"

	consentModel "privileges/internal/consent/models"
	"privileges/internal/privilege"
	id "privileges/pkg/domain"
	dErrors "privileges/pkg/domain-errors"
)

// notesField carries free-form notes in a form submission. The leading "_"
// keeps it out of the privilege keys.
const notesField = "_notes"

// normalizeChanges converts submitted keys. Keys are otherwise passed through
// untouched; the service decides whether they exist. Padded keys are rejected
// rather than trimmed so that two spellings can never collapse onto one key.
func normalizeChanges(in map[string]bool) (map[id.PrivilegeKey]bool, error) {
	out := make(map[id.PrivilegeKey]bool, len(in))
	for k, v := range in {
		if err := checkKeySpacing(k); err != nil {
			return nil, err
		}
		out[id.PrivilegeKey(k)] = v
	}
	return out, nil
}

// formChanges maps a checkbox form onto a full change set: every catalog key
// missing from the form is false, since browsers omit unchecked boxes. Fields
// starting with "_" are form controls (submit buttons, CSRF tokens, notes) and
// can never be privilege keys.
func formChanges(form url.Values, defs []privilege.Definition) (map[id.PrivilegeKey]bool, error) {
	changes := make(map[id.PrivilegeKey]bool, len(defs)+len(form))
	for _, def := range defs {
		changes[def.Key] = false
	}
	for field, values := range form {
		if field == "" || strings.HasPrefix(field, "_") || len(values) == 0 {
			continue
		}
		if err := checkKeySpacing(field); err != nil {
			return nil, err
		}
		// Hidden "false" inputs followed by a checkbox submit two values;
		// the last one wins.
		granted, err := parseCheckbox(values[len(values)-1])
		if err != nil {
			return nil, dErrors.New(dErrors.CodeBadRequest, "invalid value for "+field)
		}
		changes[id.PrivilegeKey(field)] = granted
	}
	return changes, nil
}

// formNotes returns the last submitted notes value.
func formNotes(form url.Values) (string, error) {
	values := form[notesField]
	if len(values) == 0 {
		return "", nil
	}
	notes := strings.TrimSpace(values[len(values)-1])
	if len(notes) > consentModel.MaxNotesLength {
		return "", dErrors.New(dErrors.CodeValidation, "notes must be at most 1000 characters")
	}
	return notes, nil
}

func checkKeySpacing(key string) error {
	if key != strings.TrimSpace(key) {
		return dErrors.New(dErrors.CodeValidation, "privilege keys must not have surrounding whitespace")
	}
	return nil
}

func parseCheckbox(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "yes":
		return true, nil
	case "off", "no", "":
		return false, nil
	}
	return strconv.ParseBool(v)
}
