package zerohack

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/log"
)

// scoringArtifact is an immutable model+scaler pair. Reloads build a fresh
// artifact and swap it in whole; in-flight predictions keep the snapshot
// they already read.
type scoringArtifact struct {
	runner      modelRunner
	scaler      *featureScaler
	modelMTime  time.Time
	scalerMTime time.Time
}

type artifactLoader func(modelPath, scalerPath string) (*scoringArtifact, error)

// onnxArtifactLoader builds the production loader bound to one ONNX Runtime
// shared library.
func onnxArtifactLoader(libPath string) artifactLoader {
	return func(modelPath, scalerPath string) (*scoringArtifact, error) {
		scaler, err := loadFeatureScaler(scalerPath)
		if err != nil {
			return nil, err
		}
		runner, err := newONNXRunner(modelPath, libPath)
		if err != nil {
			return nil, err
		}
		return &scoringArtifact{runner: runner, scaler: scaler}, nil
	}
}

// artifactManager tracks the on-disk pair behind one detector. Reads are
// lock-free; reload attempts are serialized and a caller never waits behind
// another caller's reload.
type artifactManager struct {
	modelPath  string
	scalerPath string
	load       artifactLoader
	logger     *log.Logger

	reloadMu sync.Mutex
	current  atomic.Pointer[scoringArtifact]
}

func newArtifactManager(modelPath, scalerPath string, load artifactLoader, logger *log.Logger) *artifactManager {
	return &artifactManager{
		modelPath:  modelPath,
		scalerPath: scalerPath,
		load:       load,
		logger:     logger,
	}
}

// acquire returns the current artifact, reloading it first when either file
// changed on disk. A failed reload keeps serving the previous artifact; only
// a detector that never loaded reports ErrArtifactNotLoaded.
func (m *artifactManager) acquire() (*scoringArtifact, error) {
	cur := m.current.Load()

	modelMTime, scalerMTime, err := m.statPair()
	if err != nil {
		if cur != nil {
			m.logger.Debug().Str("model", m.modelPath).Err(err).Msg("artifact stat failed; keeping loaded artifact")
			return cur, nil
		}
		return nil, ErrArtifactNotLoaded
	}

	if cur != nil && !modelMTime.After(cur.modelMTime) && !scalerMTime.After(cur.scalerMTime) {
		return cur, nil
	}

	if !m.reloadMu.TryLock() {
		// Someone else is rebuilding; serve what is loaded or fail fast.
		if cur != nil {
			return cur, nil
		}
		return nil, ErrArtifactNotLoaded
	}
	defer m.reloadMu.Unlock()

	if latest := m.current.Load(); latest != cur {
		cur = latest
		if cur != nil && !modelMTime.After(cur.modelMTime) && !scalerMTime.After(cur.scalerMTime) {
			return cur, nil
		}
	}

	art, err := m.load(m.modelPath, m.scalerPath)
	if err != nil {
		if cur != nil {
			m.logger.Error().Str("model", m.modelPath).Err(err).Msg("artifact reload failed; keeping previous artifact")
			return cur, nil
		}
		m.logger.Error().Str("model", m.modelPath).Err(err).Msg("artifact load failed")
		return nil, err
	}
	art.modelMTime = modelMTime
	art.scalerMTime = scalerMTime

	if old := m.current.Swap(art); old != nil && old.runner != nil {
		// In-flight predictions may still hold the old snapshot.
		time.AfterFunc(30*time.Second, func() { _ = old.runner.Close() })
	}
	m.logger.Info().Str("model", m.modelPath).Msg("scoring artifact loaded")
	return art, nil
}

func (m *artifactManager) statPair() (time.Time, time.Time, error) {
	mi, err := os.Stat(m.modelPath)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	si, err := os.Stat(m.scalerPath)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return mi.ModTime(), si.ModTime(), nil
}
