package models

import (
	"privileges/internal/privilege"
	id "privileges/pkg/domain"
)

// IndexByKey maps records by privilege key. Records for other users are the
// caller's problem; stores only ever hand back one user's records.
func IndexByKey(records []*Record) map[id.PrivilegeKey]*Record {
	index := make(map[id.PrivilegeKey]*Record, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		index[r.PrivilegeKey] = r
	}
	return index
}

// Resolve merges catalog defaults with explicit records into the dense view.
//
// The result has exactly one entry per definition, in catalog order. A key
// without a record takes the definition's default; records whose key is not
// in defs (orphans) are ignored. Resolve does not write anything.
func Resolve(defs []privilege.Definition, records map[id.PrivilegeKey]*Record) []Entry {
	entries := make([]Entry, 0, len(defs))
	for _, def := range defs {
		entry := Entry{
			Key:            def.Key,
			Label:          def.Label,
			Description:    def.Description,
			DefaultGranted: def.DefaultGranted,
			Granted:        def.DefaultGranted,
		}
		if rec, ok := records[def.Key]; ok && rec != nil {
			updated := rec.UpdatedAt
			entry.Granted = rec.Granted
			entry.Explicit = true
			entry.UpdatedAt = &updated
		}
		entries = append(entries, entry)
	}
	return entries
}
