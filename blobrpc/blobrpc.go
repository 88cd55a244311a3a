// Package blobrpc implements the Blob RPC protocol (spec §4.6): a
// single long-lived rpcnet.Conn per peer carrying Query, UploadBlob,
// DownloadBlob, DeleteBlob and QueryBlinded requests, each gated by
// the serving node's PeerConfigBlobs ACL for the connecting peer.
package blobrpc

import (
	"context"
	"io"

	"s5.dev/s5/blob"
	"s5.dev/s5/errors"
	"s5.dev/s5/log"
	"s5.dev/s5/pin"
	"s5.dev/s5/rpcnet"
)

// Request op discriminators (requestEnvelope.Op).
const (
	OpQuery         uint8 = 1
	OpUploadBlob    uint8 = 2
	OpDownloadBlob  uint8 = 3
	OpDeleteBlob    uint8 = 4
	OpQueryBlinded  uint8 = 5
)

// requestEnvelope is the single message type the server's read loop
// decodes into, discriminated by Op — mirroring dirmodel's tagged-field
// CBOR layout rather than introducing a separate enveloping scheme.
type requestEnvelope struct {
	Op       uint8                 `cbor:"0,keyasint"`
	Query    *QueryRequest         `cbor:"1,keyasint,omitempty"`
	Upload   *UploadBlobRequest    `cbor:"2,keyasint,omitempty"`
	Download *DownloadBlobRequest  `cbor:"3,keyasint,omitempty"`
	Delete   *DeleteBlobRequest    `cbor:"4,keyasint,omitempty"`
	Blinded  *QueryBlindedRequest  `cbor:"5,keyasint,omitempty"`
}

// QueryRequest asks whether hash is available and where.
type QueryRequest struct {
	Hash blob.Hash
}

// QueryResponse answers a QueryRequest.
type QueryResponse struct {
	Exists    bool
	Size      *uint64
	Locations [][]byte // blob.Marshal'd blob.Location values
}

// UploadBlobRequest precedes a stream of chunkFrame messages ending in
// one with Done set.
type UploadBlobRequest struct {
	ExpectedHash blob.Hash
	Size         uint64
}

// chunkFrame carries one piece of a streamed upload or download.
type chunkFrame struct {
	Chunk []byte
	Done  bool
}

// UploadBlobResponse is sent once, after the whole chunk stream has
// been consumed.
type UploadBlobResponse struct {
	Ok    bool
	Error string
}

// DownloadBlobRequest asks the server to stream hash's bytes back as
// a sequence of chunkFrame-shaped downloadChunk messages.
type DownloadBlobRequest struct {
	Hash   blob.Hash
	Offset int64
	MaxLen int64
}

type downloadChunk struct {
	Chunk []byte
	End   bool
	Error string
}

// DeleteBlobRequest unpins hash on the caller's behalf.
type DeleteBlobRequest struct {
	Hash blob.Hash
}

// DeleteBlobResponse reports whether the unpin also deleted the blob
// (its pin set became empty).
type DeleteBlobResponse struct {
	Deleted bool
	Error   string
}

// QueryBlindedRequest probes for a hash a caller does not want to
// reveal directly, supplying BLAKE3(hash) instead (spec §4.8).
type QueryBlindedRequest struct {
	Blinded blob.Hash
}

type QueryBlindedResponse struct {
	Exists bool
}

// PeerConfigBlobs is the server-side ACL for one peer (spec §4.6):
// which stores it may read from, and which store (if any) its
// uploads land in.
type PeerConfigBlobs struct {
	ReadableStores []string
	StoreUploadsIn *string
}

// Server answers Blob RPC requests over accepted rpcnet connections,
// one goroutine per connection, serializing requests on that
// connection in arrival order (spec's "single long-lived connection
// per peer").
type Server struct {
	stores map[string]*blob.Engine
	pins   *pin.Set
	acl    func(rpcnet.PeerID) (PeerConfigBlobs, bool)
}

// NewServer returns a Server over the named stores, consulting acl to
// resolve each connecting peer's PeerConfigBlobs (ok=false serves the
// peer with an empty PeerConfigBlobs: it can read from no store and
// upload to none).
func NewServer(stores map[string]*blob.Engine, pins *pin.Set, acl func(rpcnet.PeerID) (PeerConfigBlobs, bool)) *Server {
	return &Server{stores: stores, pins: pins, acl: acl}
}

// Serve accepts connections from ln until it errors or ctx is done,
// handling each on its own goroutine.
func (s *Server) Serve(ctx context.Context, ln *rpcnet.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn *rpcnet.Conn) {
	defer conn.Close()
	peer := conn.Peer()
	cfg, ok := s.acl(peer)
	if !ok {
		log.Debug.Printf("blobrpc: unconfigured peer %s gets an empty ACL", peer)
		cfg = PeerConfigBlobs{}
	}
	for {
		var env requestEnvelope
		if err := conn.ReceiveMessage(&env); err != nil {
			if err != io.EOF {
				log.Debug.Printf("blobrpc: connection from %s ended: %v", peer, err)
			}
			return
		}
		var err error
		switch env.Op {
		case OpQuery:
			err = s.handleQuery(ctx, conn, env.Query, cfg)
		case OpUploadBlob:
			err = s.handleUpload(ctx, conn, env.Upload, cfg, peer)
		case OpDownloadBlob:
			err = s.handleDownload(ctx, conn, env.Download, cfg)
		case OpDeleteBlob:
			err = s.handleDelete(ctx, conn, env.Delete, cfg, peer)
		case OpQueryBlinded:
			err = s.handleQueryBlinded(ctx, conn, env.Blinded, cfg)
		default:
			log.Debug.Printf("blobrpc: unknown op %d from %s", env.Op, peer)
			return
		}
		if err != nil {
			log.Debug.Printf("blobrpc: request from %s failed: %v", peer, err)
			return
		}
	}
}

func (s *Server) readableEngines(cfg PeerConfigBlobs) []*blob.Engine {
	var out []*blob.Engine
	for _, name := range cfg.ReadableStores {
		if eng, ok := s.stores[name]; ok {
			out = append(out, eng)
		}
	}
	return out
}

func (s *Server) handleQuery(ctx context.Context, conn *rpcnet.Conn, req *QueryRequest, cfg PeerConfigBlobs) error {
	if req == nil {
		return errors.E("blobrpc.Server.handleQuery", errors.Invalid, errors.Str("missing request body"))
	}
	var resp QueryResponse
	for _, eng := range s.readableEngines(cfg) {
		exists, err := eng.Exists(ctx, req.Hash)
		if err != nil || !exists {
			continue
		}
		resp.Exists = true
		if size, err := eng.Size(ctx, req.Hash); err == nil {
			sz := uint64(size)
			resp.Size = &sz
		}
		loc, err := blob.Marshal(blob.MultihashBlake3{Hash: req.Hash})
		if err == nil {
			resp.Locations = append(resp.Locations, loc)
		}
		break
	}
	return conn.SendMessage(resp)
}

func (s *Server) handleQueryBlinded(ctx context.Context, conn *rpcnet.Conn, req *QueryBlindedRequest, cfg PeerConfigBlobs) error {
	if req == nil {
		return errors.E("blobrpc.Server.handleQueryBlinded", errors.Invalid, errors.Str("missing request body"))
	}
	resp := QueryBlindedResponse{}
	for _, eng := range s.readableEngines(cfg) {
		hashes, errc := eng.List(ctx)
		found := false
		for h := range hashes {
			if blob.Sum(h[:]) == req.Blinded {
				found = true
				break
			}
		}
		if err, ok := <-errc; ok && err != nil {
			return conn.SendMessage(resp)
		}
		if found {
			resp.Exists = true
			break
		}
	}
	return conn.SendMessage(resp)
}

func (s *Server) handleUpload(ctx context.Context, conn *rpcnet.Conn, req *UploadBlobRequest, cfg PeerConfigBlobs, peer rpcnet.PeerID) error {
	if req == nil {
		return errors.E("blobrpc.Server.handleUpload", errors.Invalid, errors.Str("missing request body"))
	}
	var eng *blob.Engine
	if cfg.StoreUploadsIn != nil {
		eng = s.stores[*cfg.StoreUploadsIn]
	}

	pr, pw := io.Pipe()
	type importResult struct {
		id  blob.Id
		err error
	}
	resultCh := make(chan importResult, 1)
	if eng != nil {
		go func() {
			id, err := eng.ImportStream(ctx, pr)
			resultCh <- importResult{id, err}
		}()
	} else {
		go func() {
			_, _ = io.Copy(io.Discard, pr)
			resultCh <- importResult{}
		}()
	}

	var size uint64
	for {
		var chunk chunkFrame
		if err := conn.ReceiveMessage(&chunk); err != nil {
			pw.CloseWithError(err)
			<-resultCh
			return err
		}
		if len(chunk.Chunk) > 0 {
			size += uint64(len(chunk.Chunk))
			if _, werr := pw.Write(chunk.Chunk); werr != nil {
				// Importer side gave up; keep draining frames until Done
				// so the connection stays framed for the next request.
			}
		}
		if chunk.Done {
			pw.Close()
			break
		}
	}
	result := <-resultCh

	resp := UploadBlobResponse{}
	switch {
	case eng == nil:
		resp.Error = "uploads not accepted from this peer"
	case result.err != nil:
		resp.Error = result.err.Error()
	case size != req.Size:
		resp.Error = "size mismatch"
	case result.id.Hash != req.ExpectedHash:
		resp.Error = "hash mismatch"
	default:
		if s.pins == nil {
			resp.Ok = true
		} else if err := s.pins.PinHash(ctx, result.id.Hash, pin.PeerPin(peer)); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Ok = true
		}
	}
	return conn.SendMessage(resp)
}

func (s *Server) handleDownload(ctx context.Context, conn *rpcnet.Conn, req *DownloadBlobRequest, cfg PeerConfigBlobs) error {
	if req == nil {
		return errors.E("blobrpc.Server.handleDownload", errors.Invalid, errors.Str("missing request body"))
	}
	var data []byte
	var found bool
	for _, eng := range s.readableEngines(cfg) {
		exists, err := eng.Exists(ctx, req.Hash)
		if err != nil || !exists {
			continue
		}
		d, err := eng.ReadAsBytes(ctx, req.Hash, req.Offset, req.MaxLen)
		if err != nil {
			continue
		}
		data, found = d, true
		break
	}
	if !found {
		return conn.SendMessage(downloadChunk{Error: "not found", End: true})
	}
	const chunkSize = 1 << 16
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		if err := conn.SendMessage(downloadChunk{Chunk: data[:n]}); err != nil {
			return err
		}
		data = data[n:]
	}
	return conn.SendMessage(downloadChunk{End: true})
}

func (s *Server) handleDelete(ctx context.Context, conn *rpcnet.Conn, req *DeleteBlobRequest, cfg PeerConfigBlobs, peer rpcnet.PeerID) error {
	if req == nil {
		return errors.E("blobrpc.Server.handleDelete", errors.Invalid, errors.Str("missing request body"))
	}
	resp := DeleteBlobResponse{}
	if s.pins == nil {
		resp.Error = "no pin tracking configured"
		return conn.SendMessage(resp)
	}
	empty, err := s.pins.UnpinHash(ctx, req.Hash, pin.PeerPin(peer))
	if err != nil {
		resp.Error = err.Error()
		return conn.SendMessage(resp)
	}
	if empty {
		var eng *blob.Engine
		if cfg.StoreUploadsIn != nil {
			eng = s.stores[*cfg.StoreUploadsIn]
		} else if engs := s.readableEngines(cfg); len(engs) > 0 {
			eng = engs[0]
		}
		if eng != nil {
			if derr := eng.Delete(ctx, req.Hash); derr != nil {
				resp.Error = derr.Error()
				return conn.SendMessage(resp)
			}
		}
		resp.Deleted = true
	}
	return conn.SendMessage(resp)
}
