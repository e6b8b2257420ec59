// Command dfd runs either an index server or a client, per spec.md §6.
package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"github.com/dustin/go-humanize"

	"github.com/mjffraser/dfd/catalog"
	"github.com/mjffraser/dfd/config"
	"github.com/mjffraser/dfd/download"
	"github.com/mjffraser/dfd/peer"
	"github.com/mjffraser/dfd/server"
	"github.com/mjffraser/dfd/transport"
	"github.com/mjffraser/dfd/version"
	"github.com/mjffraser/dfd/wire"
)

const (
	cfgConnectTimeout  = 2 * time.Second
	cfgResponseTimeout = 2 * time.Second
)

type serverArgs struct {
	Port int    `arg:"--port" default:"9000" help:"TCP port to listen on"`
	Join string `arg:"--join" help:"address of a known server to join, ip:port"`
}

type clientArgs struct {
	Server string `arg:"--server,required" help:"address of an index server, ip:port"`
}

type rootArgs struct {
	Server *serverArgs `arg:"subcommand:server"`
	Client *clientArgs `arg:"subcommand:client"`
}

func main() {
	defer envpprof.Stop()

	var a rootArgs
	arg.MustParse(&a)

	var err error
	switch {
	case a.Server != nil:
		err = runServer(a.Server)
	case a.Client != nil:
		err = runClient(a.Client)
	default:
		err = fmt.Errorf("dfd: specify a subcommand, server or client")
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "dfd:", err)
		os.Exit(1)
	}
}

func runServer(a *serverArgs) error {
	dir, err := config.Dir()
	if err != nil {
		return err
	}
	peerID, err := config.LoadOrCreatePeerID(filepath.Join(dir, "peer_id"))
	if err != nil {
		return err
	}
	self, ok := wire.AddressFromNetIP(net.IPv4(127, 0, 0, 1), uint16(a.Port), peerID)
	if !ok {
		return fmt.Errorf("dfd: invalid --port %d", a.Port)
	}

	cat, err := catalog.OpenBoltCatalog(filepath.Join(dir, "catalog.db"), log.Default)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(self, cat, log.Default)
	if err != nil {
		return err
	}

	if a.Join != "" {
		known, err := parseHostPort(a.Join)
		if err != nil {
			return err
		}
		if err := server.JoinCluster(srv.Context(), known); err != nil {
			log.Default.WithDefaultLevel(log.Warning).Printf("dfd: join %s failed: %v", a.Join, err)
		}
	}

	log.Default.Printf("%s: server listening on port %d, peer id %d", version.UserAgent, a.Port, peerID)
	srv.Serve()
	return nil
}

func runClient(a *clientArgs) error {
	dir, err := config.Dir()
	if err != nil {
		return err
	}
	downloadDir, err := config.DownloadDir()
	if err != nil {
		return err
	}
	downloadDir = filepath.Join(downloadDir, "dfd")
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return err
	}

	peerID, err := config.LoadOrCreatePeerID(filepath.Join(dir, "peer_id"))
	if err != nil {
		return err
	}

	serverAddr, err := parseHostPort(a.Server)
	if err != nil {
		return err
	}

	hostsPath := filepath.Join(dir, "hosts")
	known, err := config.LoadHosts(hostsPath)
	if err != nil {
		return err
	}
	known = append(known, serverAddr)

	files := peer.NewSharedFiles()
	seeder := peer.NewSeeder(files, log.Default, peer.DefaultMaxConcurrentSeeders)
	ln, seedPort, err := transport.OpenListener("127.0.0.1", 0)
	if err != nil {
		return err
	}
	self, ok := wire.AddressFromNetIP(net.IPv4(127, 0, 0, 1), uint16(seedPort), peerID)
	if !ok {
		return fmt.Errorf("dfd: could not bind a seeder port")
	}
	go func() {
		if err := seeder.Serve(ln); err != nil {
			log.Default.WithDefaultLevel(log.Warning).Printf("dfd: seeder stopped: %v", err)
		}
	}()

	fmt.Printf("%s client, peer id %d, seeding on port %d. Type 'help' for commands.\n", version.UserAgent, peerID, seedPort)

	c := &clientSession{
		self:        self,
		servers:     known,
		files:       files,
		downloadDir: downloadDir,
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !c.runCommand(line) {
			break
		}
	}

	return config.StoreHosts(c.servers, hostsPath)
}

type clientSession struct {
	self        wire.PeerAddress
	servers     []wire.PeerAddress
	files       *peer.SharedFiles
	downloadDir string
}

// runCommand executes one interactive command (spec.md §6) and reports
// whether the session should keep reading commands.
func (c *clientSession) runCommand(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "help":
		fmt.Println("commands: index <path> | download <file_id_hex> | remove <path> | exit")

	case "exit":
		return false

	case "index":
		if len(fields) != 2 {
			fmt.Println("usage: index <path>")
			return true
		}
		if err := c.index(fields[1]); err != nil {
			fmt.Println("index failed:", err)
		}

	case "remove":
		if len(fields) != 2 {
			fmt.Println("usage: remove <path>")
			return true
		}
		if err := c.remove(fields[1]); err != nil {
			fmt.Println("remove failed:", err)
		}

	case "download":
		if len(fields) != 2 {
			fmt.Println("usage: download <file_id_hex>")
			return true
		}
		if err := c.download(fields[1]); err != nil {
			fmt.Println("download failed:", err)
		}

	default:
		fmt.Println("unknown command, try 'help'")
	}
	return true
}

// fileIDFor derives a file's id from its content: the big-endian first 8
// bytes of a SHA-256 over the file, so every peer holding the same bytes
// publishes the same id. The client never asks the operator to supply one
// on publish (only on download, spec.md §6 "download <file_id_hex>").
func fileIDFor(path string) (wire.FileID, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return wire.FileID(binary.BigEndian.Uint64(h.Sum(nil)[:8])), nil
}

func (c *clientSession) index(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	fileID, err := fileIDFor(path)
	if err != nil {
		return err
	}
	c.files.Add(fileID, peer.FileEntry{Path: path, Size: uint64(info.Size())})

	req := wire.CreateIndexRequest(wire.IndexRequest{FileID: fileID, Size: uint64(info.Size()), Addr: c.self})
	reply, err := c.askServer(req)
	if err != nil {
		return err
	}
	if op, body, _ := wire.Split(reply); op == wire.FAIL {
		f, _ := wire.ParseFail(body)
		return fmt.Errorf("server: %s", f.Text)
	}
	fmt.Printf("indexed %s (%s) as file_id=%x\n", path, humanize.Bytes(uint64(info.Size())), uint64(fileID))
	return nil
}

func (c *clientSession) remove(path string) error {
	fileID, err := fileIDFor(path)
	if err != nil {
		return err
	}
	c.files.Remove(fileID)

	req := wire.CreateDropRequest(wire.DropRequest{FileID: fileID, PeerID: c.self.PeerID})
	reply, err := c.askServer(req)
	if err != nil {
		return err
	}
	if op, body, _ := wire.Split(reply); op == wire.FAIL {
		f, _ := wire.ParseFail(body)
		return fmt.Errorf("server: %s", f.Text)
	}
	fmt.Println("removed", path)
	return nil
}

func (c *clientSession) download(fileIDHex string) error {
	id, err := strconv.ParseUint(fileIDHex, 16, 64)
	if err != nil {
		return fmt.Errorf("malformed file id %q: %w", fileIDHex, err)
	}
	fileID := wire.FileID(id)

	cfg := download.DefaultConfig()
	sources, err := download.FetchSources(c.servers, fileID, cfg)
	if err != nil {
		return err
	}
	result, err := download.Download(fileID, sources, c.downloadDir, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("downloaded %s (%s), %d bad peer(s)\n", result.Name, humanize.Bytes(result.Size), len(result.BadPeers))
	return nil
}

// askServer sends req to each known server in turn and returns the first
// reply it receives (a FAIL reply included), moving on to the next server
// when the connect, send or receive fails, matching the "try the next known
// server" retry in spec.md §4.5 step 1 for writes as well as reads.
func (c *clientSession) askServer(req []byte) ([]byte, error) {
	var lastErr error
	for _, s := range c.servers {
		addr := net.JoinHostPort(s.IPString(), strconv.Itoa(int(s.Port)))
		conn, err := transport.Connect(addr, cfgConnectTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		if err := transport.SendFramed(conn, req); err != nil {
			conn.Close()
			lastErr = err
			continue
		}
		reply, err := transport.RecvFramed(conn, cfgResponseTimeout)
		conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return reply, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no known servers")
	}
	return nil, lastErr
}

func parseHostPort(s string) (wire.PeerAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return wire.PeerAddress{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return wire.PeerAddress{}, fmt.Errorf("malformed port in %q: %w", s, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return wire.PeerAddress{}, fmt.Errorf("malformed ip in %q", s)
	}
	addr, ok := wire.AddressFromNetIP(ip, uint16(port), 0)
	if !ok {
		return wire.PeerAddress{}, fmt.Errorf("malformed address %q", s)
	}
	return addr, nil
}
