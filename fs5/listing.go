package fs5

import (
	"context"
	"encoding/base64"
	"sort"

	"s5.dev/s5/cbor5"
	"s5.dev/s5/dirmodel"
	"s5.dev/s5/errors"
	"s5.dev/s5/path5"
)

// CursorKind discriminates whether a listing cursor's last-seen
// position names a directory or a file entry.
type CursorKind uint8

const (
	CursorKindFile CursorKind = iota
	CursorKindDirectory
)

// CursorData is the decoded form of a listing continuation token:
// the name of the last entry returned, which of the two sorted name
// sets it came from, and a directory path field. listEntries leaves
// Path empty and does not check it, so a cursor is not tied to the
// list it came from.
type CursorData struct {
	Position string     `cbor:"0,keyasint"`
	Kind     CursorKind `cbor:"1,keyasint"`
	Path     string     `cbor:"2,keyasint"`
}

// EncodeCursor serializes c as base64url(CBOR(c)).
func EncodeCursor(c CursorData) (string, error) {
	data, err := cbor5.Marshal(c)
	if err != nil {
		return "", errors.E("fs5.EncodeCursor", errors.CborError, err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(s string) (CursorData, error) {
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return CursorData{}, errors.E("fs5.DecodeCursor", errors.Invalid, err)
	}
	var c CursorData
	if err := cbor5.Unmarshal(raw, &c); err != nil {
		return CursorData{}, errors.E("fs5.DecodeCursor", errors.CborError, err)
	}
	return c, nil
}

// EntryKind discriminates a listing Entry between a subdirectory and
// a file.
type EntryKind uint8

const (
	EntryKindDirectory EntryKind = iota
	EntryKindFile
)

// Entry is a single name returned by a listing operation.
type Entry struct {
	Kind EntryKind
	Name string
	Dir  *dirmodel.DirRef
	File *dirmodel.FileRef
}

// listEntries lists a's own (merged, flattened) entries starting
// after cursor, up to limit entries, dir names sorting before file
// names on ties (matching the teacher's directory-before-file
// convention for equal names).
func (a *DirActor) listEntries(ctx context.Context, cursor string, limit int) ([]Entry, string, error) {
	merged, err := a.mergedFlatView(ctx)
	if err != nil {
		return nil, "", err
	}

	dirNames := make([]string, 0, len(merged.Dirs))
	for n := range merged.Dirs {
		dirNames = append(dirNames, n)
	}
	sort.Strings(dirNames)
	fileNames := make([]string, 0, len(merged.Files))
	for n := range merged.Files {
		fileNames = append(fileNames, n)
	}
	sort.Strings(fileNames)

	var afterDir, afterFile string
	var dirInclusive, fileInclusive bool
	if cursor != "" {
		c, err := DecodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		afterDir, afterFile = c.Position, c.Position
		if c.Kind == CursorKindDirectory {
			dirInclusive, fileInclusive = false, true
		} else {
			dirInclusive, fileInclusive = false, false
		}
	}

	di := sort.SearchStrings(dirNames, afterDir)
	if di < len(dirNames) && dirNames[di] == afterDir && !dirInclusive {
		di++
	}
	fi := sort.SearchStrings(fileNames, afterFile)
	if fi < len(fileNames) && fileNames[fi] == afterFile && !fileInclusive {
		fi++
	}

	var out []Entry
	for len(out) < limit && (di < len(dirNames) || fi < len(fileNames)) {
		switch {
		case di < len(dirNames) && (fi >= len(fileNames) || dirNames[di] <= fileNames[fi]):
			ref := merged.Dirs[dirNames[di]]
			out = append(out, Entry{Kind: EntryKindDirectory, Name: dirNames[di], Dir: &ref})
			di++
		default:
			ref := merged.Files[fileNames[fi]]
			out = append(out, Entry{Kind: EntryKindFile, Name: fileNames[fi], File: &ref})
			fi++
		}
	}

	if di >= len(dirNames) && fi >= len(fileNames) {
		return out, "", nil
	}
	last := out[len(out)-1]
	kind := CursorKindFile
	if last.Kind == EntryKindDirectory {
		kind = CursorKindDirectory
	}
	next, err := EncodeCursor(CursorData{Position: last.Name, Kind: kind})
	if err != nil {
		return nil, "", err
	}
	return out, next, nil
}

type listMsg struct {
	cursor string
	limit  int
	resp   chan listResult
}

type listResult struct {
	entries []Entry
	cursor  string
	err     error
}

func (m listMsg) apply(a *DirActor) {
	entries, next, err := a.listEntries(context.Background(), m.cursor, m.limit)
	m.resp <- listResult{entries: entries, cursor: next, err: err}
}

// List returns up to limit entries from h's directory, starting
// after cursor (empty for the first page), and a non-empty next
// cursor if more entries remain.
func List(ctx context.Context, h *DirActorHandle, cursor string, limit int) ([]Entry, string, error) {
	resp := make(chan listResult, 1)
	if err := h.SendMsg(ctx, listMsg{cursor: cursor, limit: limit, resp: resp}); err != nil {
		return nil, "", err
	}
	r := <-resp
	return r.entries, r.cursor, r.err
}

type listAtMsg struct {
	path   string
	cursor string
	limit  int
	resp   chan listResult
}

func (m listAtMsg) apply(a *DirActor) {
	ctx := context.Background()
	if m.path == "" {
		entries, next, err := a.listEntries(ctx, m.cursor, m.limit)
		m.resp <- listResult{entries: entries, cursor: next, err: err}
		return
	}
	child, forwardPath, local, err := a.route(ctx, m.path)
	if err != nil {
		m.resp <- listResult{err: err}
		return
	}
	if local {
		m.resp <- listResult{err: errors.E("fs5.ListAt", m.path, errors.NotFound)}
		return
	}
	resp := make(chan listResult, 1)
	if err := child.SendMsg(ctx, listAtMsg{path: forwardPath, cursor: m.cursor, limit: m.limit, resp: resp}); err != nil {
		m.resp <- listResult{err: err}
		return
	}
	m.resp <- <-resp
}

// ListAt lists the subdirectory at path under h's tree.
func ListAt(ctx context.Context, h *DirActorHandle, path string, cursor string, limit int) ([]Entry, string, error) {
	path = path5.Clean(path)
	resp := make(chan listResult, 1)
	if err := h.SendMsg(ctx, listAtMsg{path: path, cursor: cursor, limit: limit, resp: resp}); err != nil {
		return nil, "", err
	}
	r := <-resp
	return r.entries, r.cursor, r.err
}
