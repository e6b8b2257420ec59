package server

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/anacrolix/log"

	"github.com/mjffraser/dfd/catalog"
	"github.com/mjffraser/dfd/chunkio"
	"github.com/mjffraser/dfd/transport"
	"github.com/mjffraser/dfd/wire"
)

// snapshotTimeout bounds the connect, registration, snapshot-transfer and
// MIGRATE_OK steps of the onboarding exchange, so a stalled joiner cannot
// hold the recording flag open indefinitely. The replay of deferred writes
// waits WorkerReplyWait per ack instead.
const snapshotTimeout = 30 * time.Second

// applyForward folds one write-forward frame into cat, treating a missing
// row on DROP as success: forwards are insert-or-ignore, matching
// spec.md §4.9's "no write is lost or applied twice."
func applyForward(cat catalog.Catalog, fwd wire.WriteForward) error {
	switch fwd.Kind {
	case wire.ForwardIndex:
		return cat.Index(fwd.Index.FileID, fwd.Index.Size, fwd.Index.Addr)
	case wire.ForwardDrop:
		err := cat.Drop(fwd.Drop.FileID, fwd.Drop.PeerID)
		if err == catalog.ErrNotFound {
			return nil
		}
		return err
	case wire.ForwardReregister:
		return cat.Reregister(fwd.Reregister.Addr)
	default:
		return fmt.Errorf("server: unknown forward kind %d", fwd.Kind)
	}
}

// handleServerReg is K's side of spec.md §4.9: record new writes, snapshot
// the catalog, hand the snapshot to the joining server S, then replay
// whatever was deferred during the transfer.
func (l *Listener) handleServerReg(conn net.Conn, reg wire.ServerReg) {
	ctx := l.ctx
	ctx.beginRecording()

	snapPath := filepath.Join(os.TempDir(), fmt.Sprintf("dfd-onboarding-%d", reg.Addr.PeerID))
	defer os.Remove(snapPath)

	if err := ctx.Catalog.Backup(snapPath); err != nil {
		_ = transport.SendFramed(conn, wire.CreateFail("snapshot failed"))
		ctx.drainDeferred()
		return
	}

	resp := wire.CreateServerRegResponse(wire.ServerRegResponse{Roster: ctx.Roster.Snapshot()})
	if err := transport.SendFramed(conn, resp); err != nil {
		ctx.drainDeferred()
		return
	}

	if err := streamSnapshot(conn, snapPath); err != nil {
		ctx.Logger.WithDefaultLevel(log.Warning).Printf("server: onboarding snapshot transfer to %s failed: %v", reg.Addr.IPString(), err)
		ctx.drainDeferred()
		return
	}

	body, err := transport.RecvFramed(conn, snapshotTimeout)
	if err != nil {
		ctx.drainDeferred()
		return
	}
	if op, _, err := wire.Split(body); err != nil || op != wire.MIGRATE_OK {
		ctx.drainDeferred()
		return
	}

	for _, req := range ctx.drainDeferred() {
		op, _, err := wire.Split(req)
		if err != nil {
			continue
		}
		fwd := toForward(op, req)
		if fwd == nil {
			continue // not convertible to a forward variant, skipped per spec.md §4.9
		}
		if err := transport.SendFramed(conn, fwd); err != nil {
			continue
		}
		_, _ = transport.RecvFramed(conn, WorkerReplyWait)
	}

	ctx.Roster.Add(reg.Addr)
}

// streamSnapshot sends path over conn using the DOWNLOAD_CONFIRM /
// REQUEST_CHUNK / DATA_CHUNK / FINISH_DOWNLOAD protocol, reusing the
// peer-to-peer chunk wire format for server-to-server transfer.
func streamSnapshot(conn net.Conn, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	confirm := wire.CreateDownloadConfirm(wire.DownloadConfirm{Size: uint64(info.Size()), Name: name})
	if err := transport.SendFramed(conn, confirm); err != nil {
		return err
	}

	for {
		body, err := transport.RecvFramed(conn, snapshotTimeout)
		if err != nil {
			return err
		}
		op, payload, err := wire.Split(body)
		if err != nil {
			return err
		}
		switch op {
		case wire.REQUEST_CHUNK:
			req, ok := wire.ParseRequestChunk(payload)
			if !ok {
				return fmt.Errorf("server: malformed REQUEST_CHUNK during snapshot transfer")
			}
			data, err := chunkio.PackageChunk(path, req.Index, chunkio.DefaultChunkSize)
			if err != nil {
				return err
			}
			if err := transport.SendFramed(conn, wire.CreateDataChunk(wire.DataChunk{Index: req.Index, Payload: data})); err != nil {
				return err
			}
		case wire.FINISH_DOWNLOAD:
			return nil
		default:
			return fmt.Errorf("server: unexpected opcode %s during snapshot transfer", op)
		}
	}
}

// JoinCluster is S's side of spec.md §4.9: register with a known server,
// pull its catalog snapshot, merge it in, then accept replayed writes
// until K closes or falls idle.
func JoinCluster(ctx *ServerCtx, known wire.PeerAddress) error {
	addr := net.JoinHostPort(known.IPString(), fmt.Sprint(known.Port))
	conn, err := transport.Connect(addr, snapshotTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := transport.SendFramed(conn, wire.CreateServerReg(wire.ServerReg{Addr: ctx.SelfAddr})); err != nil {
		return err
	}

	respBody, err := transport.RecvFramed(conn, snapshotTimeout)
	if err != nil {
		return err
	}
	op, body, err := wire.Split(respBody)
	if err != nil || op != wire.SERVER_REG_RESPONSE {
		return fmt.Errorf("server: expected SERVER_REG_RESPONSE, got %s", op)
	}
	resp, ok := wire.ParseServerRegResponse(body)
	if !ok {
		return fmt.Errorf("server: malformed SERVER_REG_RESPONSE")
	}
	for _, a := range resp.Roster {
		ctx.Roster.Add(a)
	}

	dir := os.TempDir()
	snapPath, err := receiveSnapshot(conn, dir)
	if err != nil {
		return err
	}
	defer os.Remove(snapPath)

	if err := ctx.Catalog.Merge(snapPath); err != nil {
		return err
	}

	if err := transport.SendFramed(conn, wire.CreateMigrateOK()); err != nil {
		return err
	}

	for {
		body, err := transport.RecvFramed(conn, 2*time.Second)
		if err != nil {
			break // K has nothing more queued and closed or went idle
		}
		op, payload, err := wire.Split(body)
		if err != nil {
			continue
		}
		if op != wire.WRITE_FORWARD {
			continue
		}
		fwd, ok := wire.ParseWriteForward(payload)
		if !ok {
			continue
		}
		if err := applyForward(ctx.Catalog, fwd); err != nil {
			_ = transport.SendFramed(conn, wire.CreateFail(err.Error()))
			continue
		}
		_ = transport.SendFramed(conn, wire.CreateForwardOK())
	}

	ctx.Roster.Add(known)
	return nil
}

// receiveSnapshot drives the client side of streamSnapshot, requesting
// every chunk in order and reassembling the file in dir.
func receiveSnapshot(conn net.Conn, dir string) (string, error) {
	body, err := transport.RecvFramed(conn, snapshotTimeout)
	if err != nil {
		return "", err
	}
	op, payload, err := wire.Split(body)
	if err != nil || op != wire.DOWNLOAD_CONFIRM {
		return "", fmt.Errorf("server: expected DOWNLOAD_CONFIRM, got %s", op)
	}
	confirm, ok := wire.ParseDownloadConfirm(payload)
	if !ok {
		return "", fmt.Errorf("server: malformed DOWNLOAD_CONFIRM")
	}

	path := filepath.Join(dir, confirm.Name)
	numChunks := chunkio.NumChunks(confirm.Size, chunkio.DefaultChunkSize)

	if numChunks == 0 {
		if err := transport.SendFramed(conn, wire.CreateFinishDownload()); err != nil {
			return "", err
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return "", err
		}
		return path, f.Close()
	}

	for i := uint64(0); i < numChunks; i++ {
		if err := transport.SendFramed(conn, wire.CreateRequestChunk(wire.RequestChunk{Index: i})); err != nil {
			return "", err
		}
		reply, err := transport.RecvFramed(conn, snapshotTimeout)
		if err != nil {
			return "", err
		}
		op, payload, err := wire.Split(reply)
		if err != nil || op != wire.DATA_CHUNK {
			return "", fmt.Errorf("server: expected DATA_CHUNK, got %s", op)
		}
		chunk, ok := wire.ParseDataChunk(payload)
		if !ok || chunk.Index != i {
			return "", fmt.Errorf("server: malformed or out-of-order DATA_CHUNK")
		}
		if err := chunkio.UnpackChunk(dir, confirm.Name, i, chunk.Payload); err != nil {
			return "", err
		}
	}
	if err := transport.SendFramed(conn, wire.CreateFinishDownload()); err != nil {
		return "", err
	}

	assembly, err := chunkio.OpenAssembly(dir, confirm.Name)
	if err != nil {
		return "", err
	}
	for i := uint64(1); i < numChunks; i++ {
		if err := chunkio.MergeChunk(assembly, dir, confirm.Name, i, chunkio.DefaultChunkSize); err != nil {
			assembly.Close()
			return "", err
		}
	}
	return path, assembly.Close()
}
