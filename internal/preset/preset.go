// Package preset implements durable storage of named device-parameter
// snapshots: content-addressed files with numbered backup rotation and a
// cached manifest for O(1) listing.
package preset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	daq "github.com/easternanemone/rust-daq-sub004"
	"github.com/easternanemone/rust-daq-sub004/internal/registry"
)

var presetJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const manifestFilename = "manifest.json"

// DefaultMaxBackups is how many prior versions of a preset are retained
// before the oldest is discarded.
const DefaultMaxBackups = 3

// Metadata describes a preset without its device configs, cheap enough to
// keep every preset's copy resident in the manifest.
type Metadata struct {
	ID            string `json:"preset_id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Author        string `json:"author"`
	CreatedAtNs   int64  `json:"created_at_ns"`
	UpdatedAtNs   int64  `json:"updated_at_ns"`
	SchemaVersion int    `json:"schema_version"`
}

// ScanTemplate is an optional saved plan invocation bundled with a preset.
type ScanTemplate struct {
	PlanType   string            `json:"plan_type"`
	Parameters map[string]string `json:"parameters"`
}

// Preset is a named snapshot of selected device parameters, optionally
// paired with a scan template.
type Preset struct {
	Meta Metadata `json:"meta"`
	// DeviceConfigs maps a device id to its configuration as raw JSON,
	// preserving whatever shape the caller supplied until Apply interprets
	// it against a live registry.
	DeviceConfigs map[string]jsoniter.RawMessage `json:"device_configs"`
	ScanTemplate  *ScanTemplate                  `json:"scan_template,omitempty"`
}

// Store persists presets under a directory, one JSON file per preset plus
// a SHA-256 sidecar and numbered backups.
type Store struct {
	dir        string
	maxBackups int

	mu sync.Mutex
}

// NewStore creates a Store rooted at dir, creating the directory if
// necessary. maxBackups <= 0 uses DefaultMaxBackups.
func NewStore(dir string, maxBackups int) (*Store, error) {
	if maxBackups <= 0 {
		maxBackups = DefaultMaxBackups
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, daq.NewError("preset_store", daq.KindDeviceFailure, fmt.Sprintf("create storage dir: %v", err))
	}
	return &Store{dir: dir, maxBackups: maxBackups}, nil
}

func validatePresetID(id string) error {
	if id == "" {
		return daq.NewError("preset", daq.KindInvalidArgument, "preset_id is required")
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return daq.NewError("preset", daq.KindInvalidArgument, "preset_id must contain only alphanumeric characters, underscores, and hyphens")
		}
	}
	return nil
}

func (s *Store) presetPath(id string) string    { return filepath.Join(s.dir, id+".json") }
func (s *Store) hashPath(id string) string      { return filepath.Join(s.dir, id+".json.sha256") }
func (s *Store) backupPath(id string, n int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.backup%d.json", id, n))
}
func (s *Store) manifestPath() string { return filepath.Join(s.dir, manifestFilename) }

// hashHex returns the hex-encoded SHA-256 digest of b, used as the content
// address stored in each preset's .sha256 sidecar.
func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Save persists p, rotating any existing version into numbered backups
// first and refreshing the manifest and content hash.
func (s *Store) Save(p *Preset) error {
	if err := validatePresetID(p.Meta.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.presetPath(p.Meta.ID)
	if _, err := os.Stat(path); err == nil {
		if err := s.rotateBackups(p.Meta.ID); err != nil {
			return err
		}
	}

	data, err := presetJSON.MarshalIndent(p, "", "  ")
	if err != nil {
		return daq.NewError("preset_save", daq.KindInvalidArgument, fmt.Sprintf("marshal preset: %v", err))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return daq.NewError("preset_save", daq.KindDeviceFailure, fmt.Sprintf("write preset: %v", err))
	}
	if err := os.WriteFile(s.hashPath(p.Meta.ID), []byte(hashHex(data)), 0o644); err != nil {
		return daq.NewError("preset_save", daq.KindDeviceFailure, fmt.Sprintf("write hash: %v", err))
	}

	return s.updateManifestEntry(p.Meta)
}

// rotateBackups shifts existing numbered backups up by one, discarding
// anything beyond maxBackups, then moves the current version into slot 1.
func (s *Store) rotateBackups(id string) error {
	oldest := s.backupPath(id, s.maxBackups)
	if _, err := os.Stat(oldest); err == nil {
		os.Remove(oldest)
		os.Remove(oldest + ".sha256")
	}

	for i := s.maxBackups - 1; i >= 1; i-- {
		from := s.backupPath(id, i)
		to := s.backupPath(id, i+1)
		if _, err := os.Stat(from); err == nil {
			os.Rename(from, to)
			os.Rename(from+".sha256", to+".sha256")
		}
	}

	current := s.presetPath(id)
	backup1 := s.backupPath(id, 1)
	if _, err := os.Stat(current); err == nil {
		if err := os.Rename(current, backup1); err != nil {
			return daq.NewError("preset_save", daq.KindDeviceFailure, fmt.Sprintf("rotate backup: %v", err))
		}
		os.Rename(s.hashPath(id), backup1+".sha256")
	}
	return nil
}

// Load reads a preset by id, verifying its content hash if a sidecar hash
// file exists. A mismatch is reported as KindDataLoss.
func (s *Store) Load(id string) (*Preset, error) {
	if err := validatePresetID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

func (s *Store) loadLocked(id string) (*Preset, error) {
	path := s.presetPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, daq.NewError("preset_load", daq.KindNotFound, fmt.Sprintf("preset %q not found", id))
		}
		return nil, daq.NewError("preset_load", daq.KindDeviceFailure, err.Error())
	}

	if stored, err := os.ReadFile(s.hashPath(id)); err == nil {
		if strings.TrimSpace(string(stored)) != hashHex(data) {
			return nil, daq.NewError("preset_load", daq.KindDataLoss, fmt.Sprintf("preset %q failed integrity check", id))
		}
	}

	var p Preset
	if err := presetJSON.Unmarshal(data, &p); err != nil {
		return nil, daq.NewError("preset_load", daq.KindDeviceFailure, fmt.Sprintf("parse preset: %v", err))
	}
	return &p, nil
}

// Delete removes a preset and its hash sidecar, and drops it from the
// manifest. Backups are left in place.
func (s *Store) Delete(id string) error {
	if err := validatePresetID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.presetPath(id)); err != nil && !os.IsNotExist(err) {
		return daq.NewError("preset_delete", daq.KindDeviceFailure, err.Error())
	}
	os.Remove(s.hashPath(id))
	return s.removeManifestEntry(id)
}

// List returns every preset's metadata via the cached manifest, rebuilding
// it from disk if it is missing or corrupted.
func (s *Store) List() ([]Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.loadManifest()
	if ok {
		return entries, nil
	}
	return s.rebuildManifest()
}

func (s *Store) loadManifest() ([]Metadata, bool) {
	data, err := os.ReadFile(s.manifestPath())
	if err != nil {
		return nil, false
	}
	var entries []Metadata
	if err := presetJSON.Unmarshal(data, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

func (s *Store) saveManifest(entries []Metadata) error {
	data, err := presetJSON.MarshalIndent(entries, "", "  ")
	if err != nil {
		return daq.NewError("preset_manifest", daq.KindDeviceFailure, fmt.Sprintf("marshal manifest: %v", err))
	}
	if err := os.WriteFile(s.manifestPath(), data, 0o644); err != nil {
		return daq.NewError("preset_manifest", daq.KindDeviceFailure, fmt.Sprintf("write manifest: %v", err))
	}
	return nil
}

func (s *Store) updateManifestEntry(meta Metadata) error {
	entries, _ := s.loadManifest()
	filtered := entries[:0]
	for _, e := range entries {
		if e.ID != meta.ID {
			filtered = append(filtered, e)
		}
	}
	filtered = append(filtered, meta)
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].UpdatedAtNs > filtered[j].UpdatedAtNs })
	return s.saveManifest(filtered)
}

func (s *Store) removeManifestEntry(id string) error {
	entries, _ := s.loadManifest()
	filtered := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			filtered = append(filtered, e)
		}
	}
	return s.saveManifest(filtered)
}

// rebuildManifest scans every preset file on disk and rewrites the
// manifest from their metadata. This is the fallback path when the
// manifest is missing or fails to parse.
func (s *Store) rebuildManifest() ([]Metadata, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, daq.NewError("preset_manifest", daq.KindDeviceFailure, fmt.Sprintf("scan storage dir: %v", err))
	}

	var metas []Metadata
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || name == manifestFilename || !strings.HasSuffix(name, ".json") || strings.Contains(name, ".backup") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		p, err := s.loadLocked(id)
		if err != nil {
			continue
		}
		metas = append(metas, p.Meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].UpdatedAtNs > metas[j].UpdatedAtNs })
	if err := s.saveManifest(metas); err != nil {
		return nil, err
	}
	return metas, nil
}

// Apply walks each preset device config, applying the known hardcoded
// fields (position via Movable, exposure_ms via ExposureControl) and then
// every remaining field as a parameterized setter. Errors are accumulated
// rather than aborting, so a preset with one bad device still applies to
// the rest.
func Apply(ctx context.Context, reg *registry.Registry, p *Preset) []error {
	var errs []error
	for deviceID, raw := range p.DeviceConfigs {
		if err := applyOne(ctx, reg, deviceID, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func applyOne(ctx context.Context, reg *registry.Registry, deviceID string, raw jsoniter.RawMessage) error {
	if _, ok := reg.Get(deviceID); !ok {
		return daq.NewDeviceError("preset_apply", deviceID, daq.KindNotFound, "device not found")
	}

	var fields map[string]jsoniter.RawMessage
	if err := presetJSON.Unmarshal(raw, &fields); err != nil {
		return daq.NewDeviceError("preset_apply", deviceID, daq.KindInvalidArgument, fmt.Sprintf("decode config: %v", err))
	}

	var errs []error

	if raw, ok := fields["position"]; ok {
		if mover, ok := registry.Capability[daq.Movable](reg, deviceID); ok {
			var pos float64
			if err := presetJSON.Unmarshal(raw, &pos); err != nil {
				errs = append(errs, daq.NewDeviceError("preset_apply", deviceID, daq.KindInvalidArgument, fmt.Sprintf("decode position: %v", err)))
			} else if _, err := mover.MoveAbs(ctx, pos); err != nil {
				errs = append(errs, daq.WrapError("preset_apply", err))
			}
		}
		delete(fields, "position")
	}

	if raw, ok := fields["exposure_ms"]; ok {
		if exposure, ok := registry.Capability[daq.ExposureControl](reg, deviceID); ok {
			var ms float64
			if err := presetJSON.Unmarshal(raw, &ms); err != nil {
				errs = append(errs, daq.NewDeviceError("preset_apply", deviceID, daq.KindInvalidArgument, fmt.Sprintf("decode exposure_ms: %v", err)))
			} else if err := exposure.SetExposureMs(ctx, ms); err != nil {
				errs = append(errs, daq.WrapError("preset_apply", err))
			}
		}
		delete(fields, "exposure_ms")
	}

	if len(fields) > 0 {
		parameterized, ok := registry.Capability[daq.Parameterized](reg, deviceID)
		if !ok {
			if len(errs) == 0 {
				return daq.NewDeviceError("preset_apply", deviceID, daq.KindNotFound, "device not found or not parameterized")
			}
		} else {
			for name, raw := range fields {
				handle, ok := parameterized.Parameters().Get(name)
				if !ok {
					errs = append(errs, daq.NewDeviceError("preset_apply", deviceID, daq.KindNotFound, fmt.Sprintf("parameter %q not found", name)))
					continue
				}
				if err := handle.SetJSON(ctx, raw); err != nil {
					errs = append(errs, daq.WrapError("preset_apply", err))
				}
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return daq.NewDeviceError("preset_apply", deviceID, daq.KindInvalidArgument, strings.Join(msgs, "; "))
}
