package wire

// Fail carries a human-readable error as the whole body (FAIL, 0x00).
type Fail struct{ Text string }

func CreateFail(text string) []byte {
	buf := []byte{byte(FAIL)}
	return append(buf, text...)
}

func ParseFail(body []byte) (Fail, bool) {
	return Fail{Text: string(body)}, true
}

// IndexRequest publishes a file (INDEX_REQUEST, 0x01).
type IndexRequest struct {
	FileID FileID
	Size   uint64
	Addr   PeerAddress
}

func CreateIndexRequest(m IndexRequest) []byte {
	if !m.FileID.Valid() || !m.Addr.Valid() {
		return nil
	}
	buf := []byte{byte(INDEX_REQUEST)}
	buf = writeU64(buf, uint64(m.FileID))
	buf = writeU64(buf, m.Size)
	buf = appendAddress(buf, m.Addr)
	return buf
}

func ParseIndexRequest(body []byte) (IndexRequest, bool) {
	fid, ok := readU64(body)
	if !ok {
		return IndexRequest{}, false
	}
	if len(body) < 8 {
		return IndexRequest{}, false
	}
	size, ok := readU64(body[8:])
	if !ok {
		return IndexRequest{}, false
	}
	if len(body) < 16 {
		return IndexRequest{}, false
	}
	addr, rest, ok := readAddress(body[16:])
	if !ok || len(rest) != 0 {
		return IndexRequest{}, false
	}
	return IndexRequest{FileID: FileID(fid), Size: size, Addr: addr}, true
}

func CreateIndexOK() []byte { return []byte{byte(INDEX_OK)} }

func ParseIndexOK(body []byte) bool { return len(body) == 0 }

// DropRequest unpublishes a file (DROP_REQUEST, 0x03).
type DropRequest struct {
	FileID FileID
	PeerID PeerID
}

func CreateDropRequest(m DropRequest) []byte {
	if !m.FileID.Valid() || !m.PeerID.Valid() {
		return nil
	}
	buf := []byte{byte(DROP_REQUEST)}
	buf = writeU64(buf, uint64(m.FileID))
	buf = writeU64(buf, uint64(m.PeerID))
	return buf
}

func ParseDropRequest(body []byte) (DropRequest, bool) {
	if len(body) != 16 {
		return DropRequest{}, false
	}
	fid, _ := readU64(body[0:8])
	pid, _ := readU64(body[8:16])
	return DropRequest{FileID: FileID(fid), PeerID: PeerID(pid)}, true
}

func CreateDropOK() []byte { return []byte{byte(DROP_OK)} }

func ParseDropOK(body []byte) bool { return len(body) == 0 }

// ReregisterRequest updates a peer's address (REREGISTER_REQUEST, 0x05).
type ReregisterRequest struct {
	Addr PeerAddress
}

func CreateReregisterRequest(m ReregisterRequest) []byte {
	if !m.Addr.Valid() {
		return nil
	}
	buf := []byte{byte(REREGISTER_REQUEST)}
	buf = appendAddress(buf, m.Addr)
	return buf
}

func ParseReregisterRequest(body []byte) (ReregisterRequest, bool) {
	addr, rest, ok := readAddress(body)
	if !ok || len(rest) != 0 {
		return ReregisterRequest{}, false
	}
	return ReregisterRequest{Addr: addr}, true
}

func CreateReregisterOK() []byte { return []byte{byte(REREGISTER_OK)} }

func ParseReregisterOK(body []byte) bool { return len(body) == 0 }

// SourceRequest asks for the peers holding a file (SOURCE_REQUEST, 0x07).
type SourceRequest struct{ FileID FileID }

func CreateSourceRequest(m SourceRequest) []byte {
	if !m.FileID.Valid() {
		return nil
	}
	buf := []byte{byte(SOURCE_REQUEST)}
	buf = writeU64(buf, uint64(m.FileID))
	return buf
}

func ParseSourceRequest(body []byte) (SourceRequest, bool) {
	if len(body) != 8 {
		return SourceRequest{}, false
	}
	fid, _ := readU64(body)
	return SourceRequest{FileID: FileID(fid)}, true
}

// SourceList replies to SOURCE_REQUEST with N addresses (SOURCE_LIST, 0x08).
type SourceList struct{ Addrs []PeerAddress }

func CreateSourceList(m SourceList) []byte {
	buf := []byte{byte(SOURCE_LIST)}
	for _, a := range m.Addrs {
		buf = appendAddress(buf, a)
	}
	return buf
}

func ParseSourceList(body []byte) (SourceList, bool) {
	if len(body)%peerAddressSize != 0 {
		return SourceList{}, false
	}
	var out SourceList
	for len(body) > 0 {
		var a PeerAddress
		var ok bool
		a, body, ok = readAddress(body)
		if !ok {
			return SourceList{}, false
		}
		out.Addrs = append(out.Addrs, a)
	}
	return out, true
}

// DownloadInit is the peer-to-peer download handshake (DOWNLOAD_INIT, 0x09).
type DownloadInit struct {
	FileID    FileID
	ChunkSize uint64 // 0 means "use the peer's default"
}

func CreateDownloadInit(m DownloadInit) []byte {
	if !m.FileID.Valid() {
		return nil
	}
	buf := []byte{byte(DOWNLOAD_INIT)}
	buf = writeU64(buf, uint64(m.FileID))
	buf = writeU64(buf, m.ChunkSize)
	return buf
}

func ParseDownloadInit(body []byte) (DownloadInit, bool) {
	if len(body) != 16 {
		return DownloadInit{}, false
	}
	fid, _ := readU64(body[0:8])
	cs, _ := readU64(body[8:16])
	return DownloadInit{FileID: FileID(fid), ChunkSize: cs}, true
}

// DownloadConfirm replies with the file's size and base name (0x0A).
type DownloadConfirm struct {
	Size uint64
	Name string
}

func CreateDownloadConfirm(m DownloadConfirm) []byte {
	if m.Name == "" {
		return nil
	}
	buf := []byte{byte(DOWNLOAD_CONFIRM)}
	buf = writeU64(buf, m.Size)
	buf = append(buf, m.Name...)
	return buf
}

func ParseDownloadConfirm(body []byte) (DownloadConfirm, bool) {
	if len(body) < 8 {
		return DownloadConfirm{}, false
	}
	size, _ := readU64(body[0:8])
	name := string(body[8:])
	if name == "" {
		return DownloadConfirm{}, false
	}
	return DownloadConfirm{Size: size, Name: name}, true
}

// RequestChunk asks for one chunk (REQUEST_CHUNK, 0x0B).
type RequestChunk struct{ Index uint64 }

func CreateRequestChunk(m RequestChunk) []byte {
	buf := []byte{byte(REQUEST_CHUNK)}
	return writeU64(buf, m.Index)
}

func ParseRequestChunk(body []byte) (RequestChunk, bool) {
	if len(body) != 8 {
		return RequestChunk{}, false
	}
	idx, _ := readU64(body)
	return RequestChunk{Index: idx}, true
}

// DataChunk carries a chunk body (DATA_CHUNK, 0x0C).
type DataChunk struct {
	Index   uint64
	Payload []byte
}

func CreateDataChunk(m DataChunk) []byte {
	buf := []byte{byte(DATA_CHUNK)}
	buf = writeU64(buf, m.Index)
	return append(buf, m.Payload...)
}

func ParseDataChunk(body []byte) (DataChunk, bool) {
	if len(body) < 8 {
		return DataChunk{}, false
	}
	idx, _ := readU64(body[0:8])
	payload := append([]byte(nil), body[8:]...)
	return DataChunk{Index: idx, Payload: payload}, true
}

func CreateFinishDownload() []byte { return []byte{byte(FINISH_DOWNLOAD)} }
func ParseFinishDownload(body []byte) bool { return len(body) == 0 }

func CreateKeepAlive() []byte      { return []byte{byte(KEEP_ALIVE)} }
func ParseKeepAlive(body []byte) bool { return len(body) == 0 }

// ServerReg announces a new server joining the cluster (SERVER_REG, 0x20).
type ServerReg struct{ Addr PeerAddress }

func CreateServerReg(m ServerReg) []byte {
	if !m.Addr.Valid() {
		return nil
	}
	buf := []byte{byte(SERVER_REG)}
	return appendAddress(buf, m.Addr)
}

func ParseServerReg(body []byte) (ServerReg, bool) {
	addr, rest, ok := readAddress(body)
	if !ok || len(rest) != 0 {
		return ServerReg{}, false
	}
	return ServerReg{Addr: addr}, true
}

// ForwardServerReg is SERVER_REG relayed between servers (0x21).
type ForwardServerReg struct{ Addr PeerAddress }

func CreateForwardServerReg(m ForwardServerReg) []byte {
	if !m.Addr.Valid() {
		return nil
	}
	buf := []byte{byte(FORWARD_SERVER_REG)}
	return appendAddress(buf, m.Addr)
}

func ParseForwardServerReg(body []byte) (ForwardServerReg, bool) {
	addr, rest, ok := readAddress(body)
	if !ok || len(rest) != 0 {
		return ForwardServerReg{}, false
	}
	return ForwardServerReg{Addr: addr}, true
}

func CreateForwardServerOK() []byte      { return []byte{byte(FORWARD_SERVER_OK)} }
func ParseForwardServerOK(body []byte) bool { return len(body) == 0 }

// ServerRegResponse carries the current cluster roster (0x23).
type ServerRegResponse struct{ Roster []PeerAddress }

func CreateServerRegResponse(m ServerRegResponse) []byte {
	buf := []byte{byte(SERVER_REG_RESPONSE)}
	for _, a := range m.Roster {
		buf = appendAddress(buf, a)
	}
	return buf
}

func ParseServerRegResponse(body []byte) (ServerRegResponse, bool) {
	if len(body)%peerAddressSize != 0 {
		return ServerRegResponse{}, false
	}
	var out ServerRegResponse
	for len(body) > 0 {
		var a PeerAddress
		var ok bool
		a, body, ok = readAddress(body)
		if !ok {
			return ServerRegResponse{}, false
		}
		out.Roster = append(out.Roster, a)
	}
	return out, true
}

func CreateForwardOK() []byte      { return []byte{byte(FORWARD_OK)} }
func ParseForwardOK(body []byte) bool { return len(body) == 0 }

func CreateElectLeader() []byte      { return []byte{byte(ELECT_LEADER)} }
func ParseElectLeader(body []byte) bool { return len(body) == 0 }

// ElectX is a bully challenge carrying the sender's worker index (0x31).
type ElectX struct{ WorkerIndex byte }

func CreateElectX(m ElectX) []byte { return []byte{byte(ELECT_X), m.WorkerIndex} }

func ParseElectX(body []byte) (ElectX, bool) {
	if len(body) != 1 {
		return ElectX{}, false
	}
	return ElectX{WorkerIndex: body[0]}, true
}

func CreateBully() []byte      { return []byte{byte(BULLY)} }
func ParseBully(body []byte) bool { return len(body) == 0 }

// LeaderX announces the election's winner (0x33).
type LeaderX struct{ WinnerIndex byte }

func CreateLeaderX(m LeaderX) []byte { return []byte{byte(LEADER_X), m.WinnerIndex} }

func ParseLeaderX(body []byte) (LeaderX, bool) {
	if len(body) != 1 {
		return LeaderX{}, false
	}
	return LeaderX{WinnerIndex: body[0]}, true
}

func CreateMigrateOK() []byte      { return []byte{byte(MIGRATE_OK)} }
func ParseMigrateOK(body []byte) bool { return len(body) == 0 }
