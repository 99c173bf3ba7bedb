package checkpoint

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"postpulse/pkg/logger"
)

// FileStore keeps a checkpoint as a JSON file. Writes go through a temporary file that is
// synced and renamed into place, and the previous checkpoint is kept as <name>.backup.
type FileStore struct {
	checkpointPath string
	logger         logger.Logger
}

// NewFileStore creates a store for the named walk under the user's data directory.
func NewFileStore(name string, log logger.Logger) (*FileStore, error) {
	dataDir, err := getDataDirectory()
	if err != nil {
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}
	return NewFileStoreAt(filepath.Join(dataDir, "checkpoints", name+".checkpoint.json"), log)
}

// NewFileStoreAt creates a store writing to an explicit path.
func NewFileStoreAt(path string, log logger.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	return &FileStore{checkpointPath: path, logger: logger.OrNop(log)}, nil
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string {
	return s.checkpointPath
}

func (s *FileStore) Load(ctx context.Context) (*CrawlState, error) {
	data, err := os.ReadFile(s.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	state, err := Deserialize(data)
	if err != nil {
		return nil, err
	}

	s.logger.InfoWithFields("Checkpoint loaded", state.Progress().Fields())
	return state, nil
}

func (s *FileStore) Save(ctx context.Context, state *CrawlState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state.UpdatedAt = time.Now().UTC()

	data, err := state.Serialize()
	if err != nil {
		return err
	}

	if err := s.backup(); err != nil {
		return err
	}

	tempPath := s.checkpointPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, s.checkpointPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	s.logger.DebugWithFields("Checkpoint saved", state.Progress().Fields())
	return nil
}

func (s *FileStore) Delete(ctx context.Context) error {
	for _, p := range []string{s.checkpointPath, s.checkpointPath + ".backup"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete checkpoint: %w", err)
		}
	}

	s.logger.InfoWithFields("Checkpoint deleted", map[string]interface{}{"path": s.checkpointPath})
	return nil
}

func (s *FileStore) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(s.checkpointPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// backup copies the current checkpoint to <path>.backup
func (s *FileStore) backup() error {
	src, err := os.Open(s.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open checkpoint for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(s.checkpointPath + ".backup")
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy checkpoint to backup: %w", err)
	}
	return nil
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "postpulse")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "postpulse")
	default:
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "postpulse")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "postpulse")
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dataDir, nil
}
