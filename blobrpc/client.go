package blobrpc

import (
	"context"
	"io"
	"sync"

	"s5.dev/s5/blob"
	"s5.dev/s5/errors"
	"s5.dev/s5/rpcnet"
)

// Client drives one peer's Blob RPC connection. Requests are
// serialized on the underlying rpcnet.Conn (one logical request in
// flight at a time), matching the protocol's single-long-lived-
// connection shape; callers wanting concurrency should hold one
// Client per goroutine or pool several.
type Client struct {
	conn *rpcnet.Conn
	mu   sync.Mutex
}

// Dial opens a Blob RPC connection to addr over tr.
func Dial(ctx context.Context, tr *rpcnet.Transport, addr string) (*Client, error) {
	conn, err := tr.Dial(ctx, addr, rpcnet.ProtoBlobs)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Peer returns the identity the connection authenticated as.
func (c *Client) Peer() rpcnet.PeerID { return c.conn.Peer() }

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Query asks whether hash exists on the remote peer and where.
func (c *Client) Query(ctx context.Context, hash blob.Hash) (QueryResponse, error) {
	const op = "blobrpc.Client.Query"
	c.mu.Lock()
	defer c.mu.Unlock()
	env := requestEnvelope{Op: OpQuery, Query: &QueryRequest{Hash: hash}}
	if err := c.conn.SendMessage(env); err != nil {
		return QueryResponse{}, errors.E(op, err)
	}
	var resp QueryResponse
	if err := c.conn.ReceiveMessage(&resp); err != nil {
		return QueryResponse{}, errors.E(op, err)
	}
	return resp, nil
}

// QueryBlinded probes for a hash by its BLAKE3 blinding, without
// revealing the hash itself to the remote peer.
func (c *Client) QueryBlinded(ctx context.Context, blinded blob.Hash) (bool, error) {
	const op = "blobrpc.Client.QueryBlinded"
	c.mu.Lock()
	defer c.mu.Unlock()
	env := requestEnvelope{Op: OpQueryBlinded, Blinded: &QueryBlindedRequest{Blinded: blinded}}
	if err := c.conn.SendMessage(env); err != nil {
		return false, errors.E(op, err)
	}
	var resp QueryBlindedResponse
	if err := c.conn.ReceiveMessage(&resp); err != nil {
		return false, errors.E(op, err)
	}
	return resp.Exists, nil
}

// Upload streams r (exactly size bytes, content-addressing to
// expectedHash) to the remote peer.
func (c *Client) Upload(ctx context.Context, expectedHash blob.Hash, size uint64, r io.Reader) error {
	const op = "blobrpc.Client.Upload"
	c.mu.Lock()
	defer c.mu.Unlock()

	env := requestEnvelope{Op: OpUploadBlob, Upload: &UploadBlobRequest{ExpectedHash: expectedHash, Size: size}}
	if err := c.conn.SendMessage(env); err != nil {
		return errors.E(op, err)
	}

	buf := make([]byte, 1<<16)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if err := c.conn.SendMessage(chunkFrame{Chunk: chunk}); err != nil {
				return errors.E(op, err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return errors.E(op, errors.IO, rerr)
		}
	}
	if err := c.conn.SendMessage(chunkFrame{Done: true}); err != nil {
		return errors.E(op, err)
	}

	var resp UploadBlobResponse
	if err := c.conn.ReceiveMessage(&resp); err != nil {
		return errors.E(op, err)
	}
	if !resp.Ok {
		return errors.E(op, errors.Other, errors.Str(resp.Error))
	}
	return nil
}

// Download fetches hash's bytes in [offset, offset+maxLen) from the
// remote peer (maxLen < 0 reads to the end).
func (c *Client) Download(ctx context.Context, hash blob.Hash, offset, maxLen int64) ([]byte, error) {
	const op = "blobrpc.Client.Download"
	c.mu.Lock()
	defer c.mu.Unlock()

	env := requestEnvelope{Op: OpDownloadBlob, Download: &DownloadBlobRequest{Hash: hash, Offset: offset, MaxLen: maxLen}}
	if err := c.conn.SendMessage(env); err != nil {
		return nil, errors.E(op, err)
	}

	var out []byte
	for {
		var chunk downloadChunk
		if err := c.conn.ReceiveMessage(&chunk); err != nil {
			return nil, errors.E(op, err)
		}
		if chunk.Error != "" {
			return nil, errors.E(op, errors.NotFound, errors.Str(chunk.Error))
		}
		if len(chunk.Chunk) > 0 {
			out = append(out, chunk.Chunk...)
		}
		if chunk.End {
			break
		}
	}
	return out, nil
}

// Delete asks the remote peer to unpin hash on this client's behalf,
// reporting whether that also deleted the blob.
func (c *Client) Delete(ctx context.Context, hash blob.Hash) (bool, error) {
	const op = "blobrpc.Client.Delete"
	c.mu.Lock()
	defer c.mu.Unlock()

	env := requestEnvelope{Op: OpDeleteBlob, Delete: &DeleteBlobRequest{Hash: hash}}
	if err := c.conn.SendMessage(env); err != nil {
		return false, errors.E(op, err)
	}
	var resp DeleteBlobResponse
	if err := c.conn.ReceiveMessage(&resp); err != nil {
		return false, errors.E(op, err)
	}
	if resp.Error != "" {
		return false, errors.E(op, errors.Other, errors.Str(resp.Error))
	}
	return resp.Deleted, nil
}
