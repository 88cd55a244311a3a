// Package fetch implements the multi-source blob fetcher (spec §4.8):
// an ordered list of local and remote sources tried in turn, with
// AllFailed/NotFound semantics distinguishing "nobody has it" from
// "something went wrong while looking".
package fetch

import (
	"bytes"
	"context"

	"s5.dev/s5/blob"
	"s5.dev/s5/blobrpc"
	"s5.dev/s5/errors"
	"s5.dev/s5/rpcnet"
)

// Source is one place MultiFetcher can look for a blob: the local
// engine, or a single peer's Blob RPC client.
type Source interface {
	// fetch returns (data, true, nil) on success, (nil, false, nil) if
	// the source confirmed absence, or (nil, false, err) on failure.
	fetch(ctx context.Context, hash blob.Hash) ([]byte, bool, error)
	// existsBlinded probes for hash's BLAKE3 blinding without revealing
	// hash itself.
	existsBlinded(ctx context.Context, blinded blob.Hash) (bool, error)
}

// LocalSource wraps a local blob.Engine as a Source.
type LocalSource struct {
	Engine *blob.Engine
}

func (s LocalSource) fetch(ctx context.Context, hash blob.Hash) ([]byte, bool, error) {
	exists, err := s.Engine.Exists(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}
	data, err := s.Engine.ReadAsBytes(ctx, hash, 0, -1)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s LocalSource) existsBlinded(ctx context.Context, blinded blob.Hash) (bool, error) {
	hashes, errc := s.Engine.List(ctx)
	for h := range hashes {
		if blob.Sum(h[:]) == blinded {
			return true, nil
		}
	}
	if err, ok := <-errc; ok && err != nil {
		return false, err
	}
	return false, nil
}

// RemoteSource wraps a single peer's Blob RPC connection as a Source.
type RemoteSource struct {
	Client *blobrpc.Client
	Peer   rpcnet.PeerID
}

func (s RemoteSource) fetch(ctx context.Context, hash blob.Hash) ([]byte, bool, error) {
	resp, err := s.Client.Query(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if !resp.Exists {
		return nil, false, nil
	}
	data, err := s.Client.Download(ctx, hash, 0, -1)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s RemoteSource) existsBlinded(ctx context.Context, blinded blob.Hash) (bool, error) {
	return s.Client.QueryBlinded(ctx, blinded)
}

// NewLocalSource is a convenience constructor for a LocalSource.
func NewLocalSource(eng *blob.Engine) Source { return LocalSource{Engine: eng} }

// NewRemoteSource is a convenience constructor for a RemoteSource.
func NewRemoteSource(client *blobrpc.Client, peer rpcnet.PeerID) Source {
	return RemoteSource{Client: client, Peer: peer}
}

// MultiFetcher tries an ordered list of sources in turn.
type MultiFetcher struct {
	sources []Source
}

// New returns a MultiFetcher trying sources in the given order.
func New(sources ...Source) *MultiFetcher {
	return &MultiFetcher{sources: sources}
}

// AllFailedError reports that at least one source errored while
// resolving hash, rather than every source cleanly confirming absence.
type AllFailedError struct {
	Hash   blob.Hash
	Errors []error
}

func (e *AllFailedError) Error() string {
	return "fetch: all sources failed for " + e.Hash.String()
}

// Fetch tries each source in order, returning the first hit. If no
// source has the blob, it returns a NotFound error only when every
// source cleanly confirmed absence; if any source errored along the
// way, it returns an *AllFailedError wrapping those errors instead,
// since an error means the absence wasn't actually confirmed
// everywhere (spec §4.8).
func (f *MultiFetcher) Fetch(ctx context.Context, hash blob.Hash) ([]byte, error) {
	const op = "fetch.MultiFetcher.Fetch"
	var errs []error
	for _, src := range f.sources {
		data, ok, err := src.fetch(ctx, hash)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return data, nil
		}
	}
	if len(errs) > 0 {
		return nil, &AllFailedError{Hash: hash, Errors: errs}
	}
	return nil, errors.E(op, errors.NotFound)
}

// FetchToStore fetches hash (short-circuiting if dest already has it)
// and imports the bytes into dest, returning its Id.
func (f *MultiFetcher) FetchToStore(ctx context.Context, hash blob.Hash, dest *blob.Engine) (blob.Id, error) {
	const op = "fetch.MultiFetcher.FetchToStore"
	if exists, err := dest.Exists(ctx, hash); err == nil && exists {
		size, err := dest.Size(ctx, hash)
		if err != nil {
			return blob.Id{}, errors.E(op, err)
		}
		return blob.Id{Hash: hash, Size: uint64(size)}, nil
	}
	data, err := f.Fetch(ctx, hash)
	if err != nil {
		return blob.Id{}, errors.E(op, err)
	}
	id, err := dest.ImportStream(ctx, bytes.NewReader(data))
	if err != nil {
		return blob.Id{}, errors.E(op, err)
	}
	if id.Hash != hash {
		return blob.Id{}, errors.E(op, errors.HashMismatch)
	}
	return id, nil
}

// ExistsBlinded probes every source for blinded (BLAKE3 of the real
// hash), returning true on the first hit. An error from one source
// does not abort the probe of the remaining sources — a failed peer
// shouldn't hide a hit from a healthy one — but if every source either
// errors or misses, the combined error (if any) is returned.
func (f *MultiFetcher) ExistsBlinded(ctx context.Context, blinded blob.Hash) (bool, error) {
	var errs []error
	for _, src := range f.sources {
		ok, err := src.existsBlinded(ctx, blinded)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	if len(errs) > 0 {
		return false, &AllFailedError{Hash: blinded, Errors: errs}
	}
	return false, nil
}
