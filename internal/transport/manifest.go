package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dyule/crdt-fileset/internal/fileset"
)

// ManifestEntry is the JSON shape of one fileset.FileHistory entry, keyed
// by FileID on the wire as "site:id" (see fileset.FileID.String).
type ManifestEntry struct {
	FilenameTimestamp  uint32                               `json:"filename_timestamp"`
	FilenameComponents []string                             `json:"filename_components"`
	Attributes         map[string]fileset.AttributeSnapshot `json:"attributes"`
	Transaction        json.RawMessage                      `json:"transaction,omitempty"`
}

// handleManifest serves the replica's full change history as a one-shot
// JSON snapshot, the request/response half of the reconciler's "remote
// manifest" (spec §4.4); the websocket stream handles everything after
// that initial sync.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	changes, err := s.replica.ChangesSince(nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	out := make(map[string]ManifestEntry, len(changes))

	for id, history := range changes {
		entry := ManifestEntry{
			FilenameTimestamp:  history.FilenameTimestamp,
			FilenameComponents: history.FilenameComponents,
			Attributes:         history.Attributes,
		}

		if history.Operations != nil {
			raw, err := json.Marshal(history.Operations)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)

				return
			}

			entry.Transaction = raw
		}

		out[id.String()] = entry
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// FetchManifest fetches a peer's full manifest over plain HTTP and decodes
// it into the map internal/reconciler.Reconcile expects. addr is the
// peer's websocket URL (e.g. "ws://host:7700/sync"); the manifest is
// served alongside it at "/manifest" on the same host.
func FetchManifest(ctx context.Context, addr string) (map[fileset.FileID]fileset.FileHistory, error) {
	url := manifestURL(addr)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: building manifest request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: fetching manifest from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		return nil, fmt.Errorf("transport: manifest request to %s failed: %s: %s", url, resp.Status, body)
	}

	var wire map[string]ManifestEntry
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("transport: decoding manifest from %s: %w", url, err)
	}

	out := make(map[fileset.FileID]fileset.FileHistory, len(wire))

	for key, entry := range wire {
		id, err := parseFileID(key)
		if err != nil {
			return nil, fmt.Errorf("transport: manifest from %s: %w", url, err)
		}

		var transaction any
		if len(entry.Transaction) > 0 {
			transaction = entry.Transaction
		}

		out[id] = fileset.FileHistory{
			FilenameTimestamp:  entry.FilenameTimestamp,
			FilenameComponents: entry.FilenameComponents,
			Attributes:         entry.Attributes,
			Operations:         transaction,
		}
	}

	return out, nil
}

func manifestURL(wsAddr string) string {
	addr := strings.Replace(wsAddr, "ws://", "http://", 1)
	addr = strings.Replace(addr, "wss://", "https://", 1)

	if idx := strings.LastIndex(addr, "/sync"); idx != -1 {
		return addr[:idx] + "/manifest"
	}

	return strings.TrimRight(addr, "/") + "/manifest"
}

func parseFileID(s string) (fileset.FileID, error) {
	var site, id uint32
	if _, err := fmt.Sscanf(s, "%d:%d", &site, &id); err != nil {
		return fileset.FileID{}, fmt.Errorf("parsing FileID %q: %w", s, err)
	}

	return fileset.FileID{Site: site, ID: id}, nil
}
