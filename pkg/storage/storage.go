// Package storage persists small string values and the device config on
// LittleFS. It handles atomic writes, version checking, and cleanup of
// temporary files.
package storage

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"path"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/config"

	"tinygo.org/x/tinyfs"
	"tinygo.org/x/tinyfs/littlefs"
)

const (
	configDir  = "/config"
	valuesDir  = "/kv"
	deviceFile = "/config/device.bin"
	tempSuffix = ".tmp"
	valueExt   = ".bin"
)

// Value limits.
const (
	// MaxValueLen bounds a stored value in bytes.
	MaxValueLen = 256
	// MaxKeyLen bounds a key in bytes.
	MaxKeyLen = 32

	recordHeader = 4
	recordCRC    = 4
	maxRecord    = recordHeader + MaxValueLen + recordCRC
)

var (
	ErrNotFound        = errors.New("key not found")
	ErrInvalidKey      = errors.New("invalid key")
	ErrValueTooLarge   = errors.New("value too large")
	ErrCorrupt         = errors.New("stored value corrupt")
	ErrFlashFull       = errors.New("insufficient flash space")
	ErrInvalidDevice   = errors.New("invalid device config data")
	ErrVersionMismatch = errors.New("config version mismatch")
)

// Manager handles persistence using LittleFS. It is safe for concurrent use;
// every exported method holds mu for the whole filesystem operation.
type Manager struct {
	mu       sync.Mutex
	fs       *littlefs.LFS
	blockDev tinyfs.BlockDevice
	mounted  bool
	wiped    bool
}

// Stats provides information about storage usage.
type Stats struct {
	TotalSpace int64
	UsedSpace  int64
	FreeSpace  int64
	KeyCount   int
	HasDevice  bool
}

// New initializes the storage system with the given block device.
// It mounts the filesystem and performs boot-time cleanup.
// If format is true and mount fails, it will format the filesystem.
func New(blockDev tinyfs.BlockDevice, format bool) (*Manager, error) {
	lfs := littlefs.New(blockDev)
	lfs.Configure(&littlefs.Config{
		CacheSize:     512,
		LookaheadSize: 128,
	})

	if err := lfs.Mount(); err != nil {
		if !format {
			return nil, err
		}
		if err := lfs.Format(); err != nil {
			return nil, err
		}
		if err := lfs.Mount(); err != nil {
			return nil, err
		}
	}

	m := &Manager{
		fs:       lfs,
		blockDev: blockDev,
		mounted:  true,
	}

	// Leftover temp files are harmless; a failed sweep is retried next boot.
	_ = m.bootCleanup()

	needsWipe, err := m.checkVersion()
	if err != nil {
		needsWipe = false
	}
	if needsWipe {
		if err := m.wipeAll(); err != nil {
			return nil, err
		}
		m.wiped = true
	}

	return m, nil
}

// Close unmounts the filesystem.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mounted {
		m.mounted = false
		return m.fs.Unmount()
	}
	return nil
}

// Wiped reports whether New erased stored state after a version mismatch.
func (m *Manager) Wiped() bool {
	return m.wiped
}

// bootCleanup removes temporary files left over from interrupted writes.
func (m *Manager) bootCleanup() error {
	for _, dir := range []string{configDir, valuesDir} {
		entries, err := m.readDir(dir)
		if err != nil {
			if isNotExist(err) {
				continue
			}
			return err
		}
		for _, entry := range entries {
			if strings.HasSuffix(entry.Name(), tempSuffix) {
				m.fs.Remove(path.Join(dir, entry.Name()))
			}
		}
	}
	return nil
}

func (m *Manager) readDir(dirPath string) ([]os.FileInfo, error) {
	f, err := m.fs.Open(dirPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !f.IsDir() {
		return nil, errors.New("not a directory")
	}

	return f.Readdir(-1)
}

// checkVersion reports whether the stored device config was written by a
// different config version.
func (m *Manager) checkVersion() (bool, error) {
	var cfg config.DeviceConfig
	if err := m.loadDevice(&cfg); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return cfg.Version != config.CurrentVersion, nil
}

func (m *Manager) wipeAll() error {
	keys, err := m.listKeys()
	if err == nil {
		for _, key := range keys {
			m.fs.Remove(m.valuePath(key))
		}
	}
	m.fs.Remove(deviceFile)
	return nil
}

func (m *Manager) ensureDirs() error {
	if err := m.fs.Mkdir(configDir, 0755); err != nil && !isExist(err) {
		return err
	}
	if err := m.fs.Mkdir(valuesDir, 0755); err != nil && !isExist(err) {
		return err
	}
	return nil
}

// isExist checks if an error is "already exists".
// LittleFS errors don't always match os.IsExist, so we check the message too.
func isExist(err error) bool {
	if err == nil {
		return false
	}
	if os.IsExist(err) {
		return true
	}
	return strings.Contains(err.Error(), "already exists")
}

func isNotExist(err error) bool {
	if err == nil {
		return false
	}
	if os.IsNotExist(err) {
		return true
	}
	return strings.Contains(err.Error(), "No directory entry")
}

// LoadDevice loads the device configuration. It returns ErrNotFound when
// none has been saved.
func (m *Manager) LoadDevice(cfg *config.DeviceConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadDevice(cfg)
}

func (m *Manager) loadDevice(cfg *config.DeviceConfig) error {
	f, err := m.fs.Open(deviceFile)
	if err != nil {
		if isNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	defer f.Close()

	buf := make([]byte, config.Size)
	n, err := f.Read(buf)
	if err != nil {
		return err
	}
	if n != config.Size {
		return ErrInvalidDevice
	}

	return cfg.UnmarshalBinary(buf)
}

// SaveDevice validates and saves the device configuration atomically.
func (m *Manager) SaveDevice(cfg *config.DeviceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureDirs(); err != nil {
		return err
	}

	cfg.Version = config.CurrentVersion

	data, err := cfg.MarshalBinary()
	if err != nil {
		return err
	}

	return m.atomicWrite(deviceFile, data)
}

// validKey accepts lower-case ASCII letters, digits, '-' and '_'.
func validKey(key string) bool {
	if key == "" || len(key) > MaxKeyLen {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// Get returns the value stored under key.
func (m *Manager) Get(key string) (string, error) {
	if !validKey(key) {
		return "", ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.fs.Open(m.valuePath(key))
	if err != nil {
		if isNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	defer f.Close()

	buf := make([]byte, maxRecord+1)
	n, err := f.Read(buf)
	if err != nil {
		return "", err
	}
	return decodeRecord(buf[:n])
}

// Set stores value under key atomically.
func (m *Manager) Set(key, value string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	if len(value) > MaxValueLen {
		return ErrValueTooLarge
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canFit(len(value)) {
		return ErrFlashFull
	}
	if err := m.ensureDirs(); err != nil {
		return err
	}
	return m.atomicWrite(m.valuePath(key), encodeRecord(value))
}

// ListKeys returns the stored keys.
func (m *Manager) ListKeys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listKeys()
}

func (m *Manager) listKeys() ([]string, error) {
	entries, err := m.readDir(valuesDir)
	if err != nil {
		if isNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	keys := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, valueExt) {
			continue
		}
		key := strings.TrimSuffix(name, valueExt)
		if validKey(key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// GetStats returns storage statistics.
func (m *Manager) GetStats() (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getStats()
}

func (m *Manager) getStats() (*Stats, error) {
	keys, err := m.listKeys()
	if err != nil {
		return nil, err
	}

	var device config.DeviceConfig
	hasDevice := m.loadDevice(&device) == nil

	// LittleFS has no cheap free-space query; estimate with the worst-case
	// record size plus per-file metadata.
	used := int64(len(keys)*(maxRecord+32) + 100)
	if hasDevice {
		used += config.Size + 32
	}
	total := m.blockDev.Size()

	return &Stats{
		TotalSpace: total,
		UsedSpace:  used,
		FreeSpace:  total - used,
		KeyCount:   len(keys),
		HasDevice:  hasDevice,
	}, nil
}

// CanFit estimates if a value of n bytes can be stored.
func (m *Manager) CanFit(n int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canFit(n)
}

func (m *Manager) canFit(n int) bool {
	stats, err := m.getStats()
	if err != nil {
		return false
	}
	return stats.FreeSpace > int64(recordHeader+n+recordCRC+512)
}

func (m *Manager) valuePath(key string) string {
	return path.Join(valuesDir, key+valueExt)
}

// encodeRecord lays out a value as
//
//	[0-1]: config.CurrentVersion (uint16)
//	[2-3]: length (uint16)
//	[4..]: value bytes
//	[n-4..]: CRC32 (IEEE) of everything before it
func encodeRecord(value string) []byte {
	buf := make([]byte, recordHeader+len(value)+recordCRC)
	binary.LittleEndian.PutUint16(buf[0:], config.CurrentVersion)
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(value)))
	copy(buf[recordHeader:], value)
	end := recordHeader + len(value)
	binary.LittleEndian.PutUint32(buf[end:], crc32.ChecksumIEEE(buf[:end]))
	return buf
}

func decodeRecord(buf []byte) (string, error) {
	if len(buf) < recordHeader+recordCRC || len(buf) > maxRecord {
		return "", ErrCorrupt
	}
	if binary.LittleEndian.Uint16(buf[0:]) != config.CurrentVersion {
		return "", ErrVersionMismatch
	}
	n := int(binary.LittleEndian.Uint16(buf[2:]))
	end := recordHeader + n
	if end+recordCRC != len(buf) {
		return "", ErrCorrupt
	}
	if binary.LittleEndian.Uint32(buf[end:]) != crc32.ChecksumIEEE(buf[:end]) {
		return "", ErrCorrupt
	}
	value := string(buf[recordHeader:end])
	if !utf8.ValidString(value) {
		return "", ErrCorrupt
	}
	return value, nil
}

// atomicWrite writes data to a temporary file, syncs it, then renames.
func (m *Manager) atomicWrite(filepath string, data []byte) error {
	tempPath := filepath + tempSuffix

	m.fs.Remove(tempPath)

	f, err := m.fs.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		m.fs.Remove(tempPath)
		return err
	}

	if syncer, ok := f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			f.Close()
			m.fs.Remove(tempPath)
			return err
		}
	}

	if err := f.Close(); err != nil {
		m.fs.Remove(tempPath)
		return err
	}

	// LittleFS rename doesn't replace an existing file.
	m.fs.Remove(filepath)

	if err := m.fs.Rename(tempPath, filepath); err != nil {
		m.fs.Remove(tempPath)
		return err
	}

	return nil
}

// ForceWipe erases every stored value and the device config.
func (m *Manager) ForceWipe() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wipeAll()
}
