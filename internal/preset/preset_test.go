package preset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	daq "github.com/easternanemone/rust-daq-sub004"
	"github.com/easternanemone/rust-daq-sub004/internal/registry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir, 0)
	require.NoError(t, err)
	return s
}

func samplePreset(id string) *Preset {
	return &Preset{
		Meta: Metadata{ID: id, Name: "sample", UpdatedAtNs: 1},
		DeviceConfigs: map[string]jsoniter.RawMessage{
			"stage1": jsoniter.RawMessage(`{"position": 12.5}`),
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	p := samplePreset("p1")
	require.NoError(t, s.Save(p))

	loaded, err := s.Load("p1")
	require.NoError(t, err)
	require.Equal(t, "sample", loaded.Meta.Name)
}

func TestLoadRejectsInvalidID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load("../etc/passwd")
	require.Error(t, err)
}

func TestLoadDetectsHashMismatch(t *testing.T) {
	s := newTestStore(t)
	p := samplePreset("p1")
	require.NoError(t, s.Save(p))

	require.NoError(t, os.WriteFile(s.hashPath("p1"), []byte("0000"), 0o644))

	_, err := s.Load("p1")
	require.True(t, daq.IsKind(err, daq.KindDataLoss))
}

func TestSaveRotatesBackups(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		p := samplePreset("p1")
		p.Meta.UpdatedAtNs = int64(i)
		require.NoError(t, s.Save(p))
	}

	_, err := os.Stat(s.backupPath("p1", 1))
	require.NoError(t, err, "expected backup1 to exist")

	_, err = os.Stat(s.backupPath("p1", DefaultMaxBackups+1))
	require.Error(t, err, "expected backups beyond max to be discarded")
}

func TestListUsesManifestAndRebuildsWhenMissing(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(samplePreset("p1")))
	p2 := samplePreset("p2")
	p2.Meta.UpdatedAtNs = 2
	require.NoError(t, s.Save(p2))

	metas, err := s.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	require.Equal(t, "p2", metas[0].ID, "want newest first")

	require.NoError(t, os.Remove(s.manifestPath()))
	rebuilt, err := s.List()
	require.NoError(t, err)
	require.Len(t, rebuilt, 2)

	_, err = os.Stat(s.manifestPath())
	require.NoError(t, err, "expected manifest to be rewritten after rebuild")
}

func TestDeleteRemovesFromManifest(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(samplePreset("p1")))
	require.NoError(t, s.Delete("p1"))

	metas, err := s.List()
	require.NoError(t, err)
	require.Empty(t, metas)

	_, err = os.Stat(filepath.Join(s.dir, "p1.json"))
	require.True(t, os.IsNotExist(err), "expected preset file removed")
}

type fakeStage struct {
	id  string
	pos float64
}

func (f *fakeStage) ID() string { return f.id }
func (f *fakeStage) MoveAbs(ctx context.Context, position float64) (float64, error) {
	f.pos = position
	return f.pos, nil
}

func TestApplySetsMovablePosition(t *testing.T) {
	reg := registry.New()
	stage := &fakeStage{id: "stage1"}
	reg.Register(stage)

	p := samplePreset("p1")
	errs := Apply(context.Background(), reg, p)
	require.Empty(t, errs)
	require.Equal(t, 12.5, stage.pos)
}

func TestApplyAccumulatesErrorsForUnknownDevice(t *testing.T) {
	reg := registry.New()
	p := samplePreset("p1")
	errs := Apply(context.Background(), reg, p)
	require.Len(t, errs, 1)
}
