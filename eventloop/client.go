package eventloop

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/marrowbot/ircbotcore/base"
)

// clientEventRecordSize is the fixed-size record PostClientEvent writes
// into the self-pipe: an 8-byte client id, an 8-byte int64, and a 1-byte
// tag saying whether Pointer is meaningful, followed by a pointer slot
// carried out-of-band (see Loop.pendingPointers). Keeping the pipe
// record fixed-size lets readClientEvent always read exactly one record
// per iteration.
const clientEventRecordSize = 17

// AddClient registers handler to run (on the loop's goroutine) whenever a
// matching PostClientEvent arrives, and returns the id to post to.
func (l *Loop) AddClient(handler func(ClientData)) ClientId {
	l.ensureClientPipe()
	return l.clients.Add(handler)
}

// RemoveClient unregisters a client handler. Returns whether it was
// still registered.
func (l *Loop) RemoveClient(id ClientId) bool {
	removed := l.clients.Remove(id)
	if removed && l.clients.Len() == 0 {
		l.WatchRead(l.clientPipeR, nil)
		unix.Close(l.clientPipeR)
		unix.Close(l.clientPipeW)
		l.clientPipeR, l.clientPipeW = -1, -1
	}
	return removed
}

// PostClientEvent is the loop's sole thread-safe entry point: any
// goroutine (most notably a name-resolution worker, see socket.resolver)
// may call it to wake the loop's goroutine and deliver data to a
// previously-registered client handler.
func (l *Loop) PostClientEvent(id ClientId, data ClientData) {
	l.clientPipeMu.Lock()
	defer l.clientPipeMu.Unlock()
	if l.clientPipeW == -1 {
		return
	}

	idxRaw, gen := id.Raw()
	var rec [clientEventRecordSize]byte
	binary.LittleEndian.PutUint32(rec[0:4], uint32(idxRaw))
	binary.LittleEndian.PutUint32(rec[4:8], gen)
	binary.LittleEndian.PutUint64(rec[8:16], uint64(data.Int))
	if data.Pointer != nil {
		rec[16] = 1
	}

	l.pointersMu.Lock()
	var ptrSlot any
	if data.Pointer != nil {
		ptrSlot = data.Pointer
	}
	l.pendingPointers = append(l.pendingPointers, ptrSlot)
	l.pointersMu.Unlock()

	_, _ = unix.Write(l.clientPipeW, rec[:])
}

func (l *Loop) ensureClientPipe() {
	if l.clientPipeR != -1 {
		return
	}
	var p [2]int
	if err := pipe2NonBlocking(&p); err != nil {
		l.log.Fatal("client self-pipe creation failed", err)
	}
	l.clientPipeR, l.clientPipeW = p[0], p[1]
	l.WatchRead(l.clientPipeR, l.readClientEvent)
}

// readClientEvent drains the pipe one record per read until it is empty,
// resolving each record against the client registry (silently dropping
// events for a removed or stale handle) and invoking the handler.
func (l *Loop) readClientEvent(fd int) {
	for {
		n, err := unix.Read(fd, l.readClientBuf)
		if n <= 0 || err != nil {
			return
		}
		rec := l.readClientBuf[:n]
		idx := binary.LittleEndian.Uint32(rec[0:4])
		gen := binary.LittleEndian.Uint32(rec[4:8])
		i64 := int64(binary.LittleEndian.Uint64(rec[8:16]))
		hasPtr := rec[16] != 0

		l.pointersMu.Lock()
		var ptr any
		if len(l.pendingPointers) > 0 {
			ptr = l.pendingPointers[0]
			l.pendingPointers = l.pendingPointers[1:]
		}
		l.pointersMu.Unlock()
		if !hasPtr {
			ptr = nil
		}

		id := base.HandleFromRaw(int(idx), gen)
		if handler, ok := l.clients.Get(id); ok {
			handler(ClientData{Int: i64, Pointer: ptr})
		}
	}
}
