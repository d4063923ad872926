// Package session holds the one volume and mask a proofreading client works on.
//
// The alignment and editing packages are stateless and unsynchronized; Session
// owns their inputs and outputs and serializes access with a read/write mutex.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"proofread/internal/models"
	"proofread/pkg/alignment"
	"proofread/pkg/canonical"
	"proofread/pkg/editing"
	"proofread/pkg/logging"
	"proofread/pkg/volumeio"
)

// ErrNoVolume is returned by operations that need a loaded volume.
var ErrNoVolume = errors.New("no volume loaded")

// Params holds the session configuration.
type Params struct {
	// UploadDir receives uploaded files and masks of images that have no
	// writable home of their own.
	UploadDir string

	// Load is passed to volumeio.LoadVolume.
	Load volumeio.LoadOptions

	// Save is passed to volumeio.PersistMask.
	Save volumeio.SaveOptions
}

// Info is a read-only view of the session state.
type Info struct {
	Loaded     bool              `json:"loaded"`
	Shape      models.Shape      `json:"shape,omitempty"`
	Mode3D     bool              `json:"mode3d"`
	Slices     int               `json:"slices"`
	ImagePath  string            `json:"image_path,omitempty"`
	MaskPath   string            `json:"mask_path,omitempty"`
	ImageName  string            `json:"image_name,omitempty"`
	LoadMode   models.LoadMode   `json:"load_mode,omitempty"`
	SavedPath  string            `json:"saved_path,omitempty"`
	Alignment  alignment.Result  `json:"alignment"`
	Stats      canonical.Summary `json:"stats"`
	MaskVoxels int               `json:"mask_voxels"`
}

// Session is the state of one proofreading client. The zero value is not usable;
// create one with New.
type Session struct {
	params *Params

	mu sync.RWMutex

	volume *models.Array
	mask   *models.Array

	imagePath string
	maskPath  string
	imageName string
	mode      models.LoadMode
	savedPath string

	aligned alignment.Result
	stats   canonical.Summary
}

// New creates an empty session.
func New(params *Params) *Session {
	if params == nil {
		params = &Params{}
	}
	if params.UploadDir == "" {
		params.UploadDir = "uploads"
	}
	return &Session{params: params}
}

// Load reads the image at imagePath and the optional mask at maskPath and aligns
// the mask to the image. A failed load leaves the previous state untouched.
func (s *Session) Load(imagePath, maskPath string, mode models.LoadMode) error {
	return s.load(imagePath, maskPath, filepath.Base(imagePath), mode)
}

// LoadUpload stores uploaded files in the upload directory and loads them.
// maskData may be empty.
func (s *Session) LoadUpload(imageName string, imageData []byte, maskName string, maskData []byte) error {
	if err := os.MkdirAll(s.params.UploadDir, 0755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}
	imagePath := filepath.Join(s.params.UploadDir, filepath.Base(imageName))
	if err := os.WriteFile(imagePath, imageData, 0644); err != nil {
		return fmt.Errorf("failed to store upload %s: %w", imageName, err)
	}
	var maskPath string
	if len(maskData) > 0 {
		maskPath = filepath.Join(s.params.UploadDir, filepath.Base(maskName))
		if maskPath == imagePath {
			// Same upload name as the image; keep both files.
			ext := filepath.Ext(maskPath)
			maskPath = strings.TrimSuffix(maskPath, ext) + "_upload_mask" + ext
		}
		if err := os.WriteFile(maskPath, maskData, 0644); err != nil {
			return fmt.Errorf("failed to store upload %s: %w", maskName, err)
		}
	}
	return s.load(imagePath, maskPath, filepath.Base(imageName), models.LoadFromUpload)
}

func (s *Session) load(imagePath, maskPath, name string, mode models.LoadMode) error {
	vol, err := volumeio.LoadVolume(imagePath, s.params.Load)
	if err != nil {
		return err
	}
	raw, err := volumeio.LoadMask(maskPath)
	if err != nil {
		return err
	}
	mask, res := alignment.Align(raw, vol.Shape)
	if res.Lossy {
		logging.Warningf("Mask %s was resampled to fit %s: %v", maskPath, imagePath, res.Cause)
	}
	stats := canonical.Stats(vol)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = vol
	s.mask = mask
	s.imagePath = imagePath
	s.maskPath = maskPath
	s.imageName = name
	s.mode = mode
	s.savedPath = ""
	s.aligned = res
	s.stats = stats
	logging.Infof("Session loaded %s (%s), mask %s", name, vol.Shape, res)
	return nil
}

// Volume returns the loaded volume. Callers must not modify it.
func (s *Session) Volume() (*models.Array, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.volume == nil {
		return nil, ErrNoVolume
	}
	return s.volume, nil
}

// Mask returns a copy of the current mask.
func (s *Session) Mask() (*models.Array, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureMask(); err != nil {
		return nil, err
	}
	return s.mask.Clone(), nil
}

// Slice renders slice z of the volume as PNG.
func (s *Session) Slice(z int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.volume == nil {
		return nil, ErrNoVolume
	}
	return volumeio.EncodeSlicePNG(s.volume, z)
}

// MaskSlice renders slice z of the mask as a 0/255 PNG.
func (s *Session) MaskSlice(z int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureMask(); err != nil {
		return nil, err
	}
	return volumeio.EncodeMaskSlicePNG(s.mask, z)
}

// Edit applies req to the mask. Requests holding a nil bitmap are rejected as a
// whole before any slice is written.
func (s *Session) Edit(req models.EditRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", editing.ErrBadBitmap)
	}
	edits := req.Edits()
	for i, e := range edits {
		if e.Bitmap == nil {
			return fmt.Errorf("%w: edit %d has no bitmap", editing.ErrBadBitmap, i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureMask(); err != nil {
		return err
	}
	editing.ApplyBatch(s.mask, edits)
	logging.Debugf("Applied %d slice edit(s)", len(edits))
	return nil
}

// Save writes the mask next to the image, or into the upload directory for
// uploaded images, and returns the path written.
func (s *Session) Save() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureMask(); err != nil {
		return "", err
	}
	path := volumeio.MaskPathFor(s.imagePath, s.imageName, s.params.UploadDir, s.mode == models.LoadFromUpload)
	if err := volumeio.PersistMask(s.mask, path, s.params.Save); err != nil {
		return "", err
	}
	s.savedPath = path
	return path, nil
}

// SavedPath returns the path of the last successful Save, or "".
func (s *Session) SavedPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.savedPath
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.volume == nil {
		return Info{}
	}
	info := Info{
		Loaded:    true,
		Shape:     s.volume.Shape.Clone(),
		Mode3D:    s.volume.Rank() == 3,
		Slices:    s.volume.Depth(),
		ImagePath: s.imagePath,
		MaskPath:  s.maskPath,
		ImageName: s.imageName,
		LoadMode:  s.mode,
		SavedPath: s.savedPath,
		Alignment: s.aligned,
		Stats:     s.stats,
	}
	if s.mask != nil {
		info.MaskVoxels = s.mask.CountNonzero()
	}
	return info
}

// ensureMask creates an empty mask when none exists. Callers hold the write lock.
func (s *Session) ensureMask() error {
	if s.volume == nil {
		return ErrNoVolume
	}
	if s.mask == nil {
		s.mask, s.aligned = alignment.Align(nil, s.volume.Shape)
	}
	return nil
}
