package fs5

import (
	"context"

	"s5.dev/s5/dirmodel"
	"s5.dev/s5/errors"
)

// execResult carries a generic Execute call's outcome back across the
// actor's mailbox.
type execResult[R any] struct {
	val R
	err error
}

// execMsg asks the owning actor to run fn against the current
// FileRef at path (nil if absent), routing to a child actor first
// when path names an entry outside this directory's own Files map.
type execMsg[R any] struct {
	path string
	fn   func(*Value) R
	resp chan execResult[R]
}

func (m execMsg[R]) apply(a *DirActor) {
	ctx := context.Background()
	child, forwardPath, local, err := a.route(ctx, m.path)
	if err != nil {
		var zero R
		m.resp <- execResult[R]{val: zero, err: err}
		return
	}
	if !local {
		val, err := Execute(ctx, child, forwardPath, m.fn)
		m.resp <- execResult[R]{val: val, err: err}
		return
	}

	ref, ok := a.state.Files[m.path]
	var v Value
	if ok {
		v = &ref
	}
	result := m.fn(&v)

	if v == nil {
		delete(a.state.Files, m.path)
	} else {
		a.state.Files[m.path] = *v
	}
	if err := a.markDirty(ctx); err != nil {
		m.resp <- execResult[R]{val: result, err: err}
		return
	}

	m.resp <- execResult[R]{val: result}
}

// Execute runs fn against a pointer to the slot holding path's
// current FileRef (that Value itself being nil if the path is
// absent). fn may leave the slot as-is, point it at a new or modified
// FileRef, or set it to nil to delete the entry; whichever it does is
// applied back to the tree after it returns. fn runs on the owning
// directory actor's own goroutine, so it observes a consistent
// snapshot and its mutation is atomic with respect to concurrent
// Executes on the same path.
//
// This is a package-level function rather than a method because Go
// forbids a method from introducing type parameters beyond those of
// its receiver.
func Execute[R any](ctx context.Context, h *DirActorHandle, path string, fn func(*Value) R) (R, error) {
	resp := make(chan execResult[R], 1)
	msg := execMsg[R]{path: path, fn: fn, resp: resp}
	var zero R
	if err := h.SendMsg(ctx, msg); err != nil {
		return zero, err
	}
	select {
	case r := <-resp:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// createDirMsg asks the owning actor to create a new child directory
// named by the final element of path, optionally with its own
// encryption enabled. Files and directories the owning actor already
// stores under path/ move into the new directory.
type createDirMsg struct {
	path             string
	enableEncryption bool
	resp             chan error
}

func (m createDirMsg) apply(a *DirActor) {
	ctx := context.Background()
	child, forwardPath, local, err := a.route(ctx, m.path)
	if err != nil {
		m.resp <- err
		return
	}
	if !local {
		err := a.sendCreateDir(ctx, child, forwardPath, m.enableEncryption)
		m.resp <- err
		return
	}

	if m.path == "" {
		m.resp <- errors.E("fs5.DirActor.createDir", errors.Invalid, errors.Str("empty directory name"))
		return
	}
	if _, exists := a.state.Dirs[m.path]; exists {
		m.resp <- nil
		return
	}

	child2 := dirmodel.NewDir()
	want := m.path + "/"
	for name, f := range a.state.Files {
		if len(name) > len(want) && name[:len(want)] == want {
			child2.Files[name[len(want):]] = f
		}
	}
	for name, d := range a.state.Dirs {
		if len(name) > len(want) && name[:len(want)] == want {
			child2.Dirs[name[len(want):]] = d
		}
	}
	data, keys, err := a.encodeChildDirBytesForChild(child2)
	if err != nil {
		m.resp <- err
		return
	}
	id, err := a.ctx.MetaBlobStore.ImportBytes(ctx, data)
	if err != nil {
		m.resp <- errors.E("fs5.DirActor.createDir", errors.IO, err)
		return
	}
	ref := dirmodel.DirRef{RefType: dirmodel.DirRefBlake3Hash, Hash: id.Hash}
	if keys != nil {
		ref.Keys = keys
		enc := uint8(dirmodel.EncryptionXChaCha20Poly1305)
		ref.EncryptionType = &enc
	} else if m.enableEncryption {
		key, err := newEncryptionKey()
		if err != nil {
			m.resp <- err
			return
		}
		enc2, keys2, err := a.reencodeEncrypted(child2, key)
		if err != nil {
			m.resp <- err
			return
		}
		id2, err := a.ctx.MetaBlobStore.ImportBytes(ctx, enc2)
		if err != nil {
			m.resp <- errors.E("fs5.DirActor.createDir", errors.IO, err)
			return
		}
		ref.Hash = id2.Hash
		ref.Keys = &keys2
		et := uint8(dirmodel.EncryptionXChaCha20Poly1305)
		ref.EncryptionType = &et
	}
	for name := range child2.Files {
		delete(a.state.Files, want+name)
	}
	for name := range child2.Dirs {
		delete(a.state.Dirs, want+name)
	}
	a.state.Dirs[m.path] = ref
	if err := a.markDirty(ctx); err != nil {
		m.resp <- err
		return
	}
	m.resp <- nil
}

// reencodeEncrypted re-serializes d, encrypting it under key.
func (a *DirActor) reencodeEncrypted(d dirmodel.DirV1, key [32]byte) ([]byte, map[uint8][32]byte, error) {
	plain, err := d.Marshal()
	if err != nil {
		return nil, nil, err
	}
	enc, err := encryptDirBytes(key, plain)
	if err != nil {
		return nil, nil, err
	}
	return enc, map[uint8][32]byte{encryptionKeyID: key}, nil
}

func (a *DirActor) sendCreateDir(ctx context.Context, h *DirActorHandle, path string, enableEncryption bool) error {
	resp := make(chan error, 1)
	if err := h.SendMsg(ctx, createDirMsg{path: path, enableEncryption: enableEncryption, resp: resp}); err != nil {
		return err
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateDir creates a directory at path under h's tree, enabling
// per-directory encryption when enableEncryption is true. Files and
// directories already stored under path/ in the owning directory move
// into the new one. It is a no-op if the directory already exists.
func CreateDir(ctx context.Context, h *DirActorHandle, path string, enableEncryption bool) error {
	resp := make(chan error, 1)
	if err := h.SendMsg(ctx, createDirMsg{path: path, enableEncryption: enableEncryption, resp: resp}); err != nil {
		return err
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
