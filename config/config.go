// Package config persists the small pieces of local state a peer or server
// needs across restarts: its peer id and its known-hosts list (spec.md §6),
// grounded on the original dfd client's getMyUUID/getHostListFromDisk pair.
package config

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mjffraser/dfd/wire"
)

// Dir resolves the directory dfd keeps its local state in: $XDG_CONFIG_HOME/dfd
// if set, else $HOME/.config/dfd.
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dfd"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "dfd"), nil
}

// DownloadDir resolves where completed downloads are assembled:
// $XDG_DOWNLOAD_DIR if set, else $HOME/Downloads.
func DownloadDir() (string, error) {
	if dir := os.Getenv("XDG_DOWNLOAD_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving home directory: %w", err)
	}
	return filepath.Join(home, "Downloads"), nil
}

// LoadOrCreatePeerID reads an 8-byte peer id from path, generating and
// persisting a fresh one (via google/uuid, truncated to 64 bits, with
// math/rand/v2 as the fallback when uuid.NewRandom fails) if the file is
// absent or doesn't hold exactly 8 bytes.
func LoadOrCreatePeerID(path string) (wire.PeerID, error) {
	data, err := os.ReadFile(path)
	if err == nil && len(data) == 8 {
		return wire.PeerID(binary.BigEndian.Uint64(data)), nil
	}

	var idBytes [8]byte
	if id, err := uuid.NewRandom(); err == nil {
		copy(idBytes[:], id[:8])
	} else {
		binary.BigEndian.PutUint64(idBytes[:], rand.Uint64())
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("config: creating config dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, idBytes[:], 0o600); err != nil {
		return 0, fmt.Errorf("config: writing peer id to %s: %w", path, err)
	}
	return wire.PeerID(binary.BigEndian.Uint64(idBytes[:])), nil
}

// LoadHosts reads a known-hosts file, one "peer_id ip port" line per host.
// A missing file is not an error: it yields an empty list.
func LoadHosts(path string) ([]wire.PeerAddress, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: opening hosts file %s: %w", path, err)
	}
	defer f.Close()

	var hosts []wire.PeerAddress
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("config: malformed hosts line %q", line)
		}
		id, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: malformed peer id in %q: %w", line, err)
		}
		port, err := strconv.ParseUint(fields[2], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("config: malformed port in %q: %w", line, err)
		}
		addr, ok := wire.AddressFromNetIP(net.ParseIP(fields[1]), uint16(port), wire.PeerID(id))
		if !ok {
			return nil, fmt.Errorf("config: malformed ip in %q", line)
		}
		hosts = append(hosts, addr)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading hosts file %s: %w", path, err)
	}
	return hosts, nil
}

// StoreHosts truncates path and writes one line per host, in the format
// LoadHosts reads back.
func StoreHosts(hosts []wire.PeerAddress, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating hosts dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("config: creating hosts file %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, h := range hosts {
		if _, err := fmt.Fprintf(w, "%d %s %d\n", h.PeerID, h.IPString(), h.Port); err != nil {
			return fmt.Errorf("config: writing hosts file %s: %w", path, err)
		}
	}
	return w.Flush()
}
