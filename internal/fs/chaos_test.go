package fs

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

// =============================================================================
// Chaos FS tests
//
// These exercise Chaos against the shadow-file engine's actual usage: opening
// and creating the shadow/lock files, positioned reads/writes against a
// fixed-size shadow image, and the lazy directory creation a lock file's
// first writer may trigger.
// =============================================================================

func TestChaos_InjectsOpenFault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shadow.md")

	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("setup WriteFile: %v", err)
	}

	chaosFS := NewChaos(NewReal(), 12345, ChaosConfig{OpenFailRate: 1.0})
	chaosFS.SetMode(ChaosModeActive)

	_, err := chaosFS.Open(path)

	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("Open err should be *os.PathError, got %T", err)
	}
	if !IsChaosErr(err) {
		t.Fatalf("Open err should satisfy IsChaosErr: %v", err)
	}
}

func TestChaos_InjectsWriteFault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shadow.md")

	realFS := NewReal()
	chaosFS := NewChaos(realFS, 12345, ChaosConfig{WriteFailRate: 1.0})
	chaosFS.SetMode(ChaosModeActive)

	f, err := chaosFS.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	_, err = f.WriteAt([]byte("header"), 0)

	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("WriteAt err should be *os.PathError, got %T", err)
	}

	validErrs := []error{syscall.ENOSPC, syscall.EIO, syscall.EROFS, syscall.EDQUOT}
	isValid := false
	for _, e := range validErrs {
		if errors.Is(err, e) {
			isValid = true
			break
		}
	}
	if !isValid {
		t.Fatalf("err=%v, want one of %v", err, validErrs)
	}
}

func TestChaos_InjectsReadFault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shadow.md")

	realFS := NewReal()
	if err := os.WriteFile(path, []byte("header"), 0o644); err != nil {
		t.Fatalf("setup WriteFile: %v", err)
	}

	chaosFS := NewChaos(realFS, 12345, ChaosConfig{ReadFailRate: 1.0})
	chaosFS.SetMode(ChaosModeActive)

	f, err := chaosFS.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 6)
	_, err = f.ReadAt(buf, 0)

	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("ReadAt err should be *os.PathError, got %T", err)
	}
}

func TestChaos_ErrorsWorkWithErrorsIs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shadow.md")

	realFS := NewReal()
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("setup WriteFile: %v", err)
	}

	chaosFS := NewChaos(realFS, 0, ChaosConfig{StatFailRate: 1.0})
	chaosFS.SetMode(ChaosModeActive)

	_, err := chaosFS.Stat(path)

	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("Stat err should be *os.PathError, got %T", err)
	}

	var errno syscall.Errno
	if !errors.As(pathErr.Err, &errno) {
		t.Fatalf("underlying error should be syscall.Errno, got %T", pathErr.Err)
	}
}

func TestChaos_PassesThroughWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shadow.md")

	chaosFS := NewChaos(NewReal(), 12345, ChaosConfig{
		ReadFailRate:  1.0,
		WriteFailRate: 1.0,
		OpenFailRate:  1.0,
		StatFailRate:  1.0,
	})
	chaosFS.SetMode(ChaosModeNoOp)

	f, err := chaosFS.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	if _, err := f.WriteAt([]byte("hello"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	buf := make([]byte, 5)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("ReadAt = %q, want %q", buf, "hello")
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := chaosFS.Stat(path); err != nil {
		t.Fatalf("Stat: %v", err)
	}
}

func TestChaos_CanToggleModes(t *testing.T) {
	chaosFS := NewChaos(NewReal(), 12345, ChaosConfig{OpenFailRate: 1.0})
	dir := t.TempDir()

	chaosFS.SetMode(ChaosModeNoOp)
	f, err := chaosFS.OpenFile(filepath.Join(dir, "1.md"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("disabled: OpenFile err=%v, want nil", err)
	}
	f.Close()

	chaosFS.SetMode(ChaosModeActive)
	_, err = chaosFS.OpenFile(filepath.Join(dir, "2.md"), os.O_RDWR|os.O_CREATE, 0o644)
	if err == nil {
		t.Fatal("enabled: OpenFile err=nil, want non-nil")
	}

	chaosFS.SetMode(ChaosModeNoOp)
	f, err = chaosFS.OpenFile(filepath.Join(dir, "3.md"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("re-disabled: OpenFile err=%v, want nil", err)
	}
	f.Close()
}

func TestChaos_StatsCountFaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shadow.md")

	realFS := NewReal()
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("setup WriteFile: %v", err)
	}

	chaosFS := NewChaos(realFS, 12345, ChaosConfig{OpenFailRate: 1.0})
	chaosFS.SetMode(ChaosModeActive)

	chaosFS.Open(path)
	chaosFS.Open(path)
	chaosFS.OpenFile(path, os.O_RDWR, 0o644)

	if got, want := chaosFS.Stats().OpenFails, int64(3); got != want {
		t.Errorf("OpenFails=%d, want=%d", got, want)
	}
}

func TestChaos_TotalFaults(t *testing.T) {
	dir := t.TempDir()

	chaosFS := NewChaos(NewReal(), 12345, ChaosConfig{
		OpenFailRate:   1.0,
		RemoveFailRate: 1.0,
	})
	chaosFS.SetMode(ChaosModeActive)

	chaosFS.Open(filepath.Join(dir, "shadow.md"))
	chaosFS.Remove(filepath.Join(dir, "shadow.md"))

	if got, want := chaosFS.TotalFaults(), int64(2); got != want {
		t.Errorf("TotalFaults=%d, want=%d", got, want)
	}
}

func TestChaos_StatsNotCountedWhenDisabled(t *testing.T) {
	chaosFS := NewChaos(NewReal(), 12345, ChaosConfig{OpenFailRate: 1.0})
	chaosFS.SetMode(ChaosModeNoOp)

	dir := t.TempDir()
	f, err := chaosFS.OpenFile(filepath.Join(dir, "shadow.md"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	f.Close()

	if got, want := chaosFS.Stats().OpenFails, int64(0); got != want {
		t.Errorf("OpenFails=%d, want=%d (should not count when disabled)", got, want)
	}
}

func TestChaosFile_InterceptsRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shadow.md")

	realFS := NewReal()
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("setup WriteFile: %v", err)
	}

	chaosFS := NewChaos(realFS, 12345, ChaosConfig{ReadFailRate: 1.0})
	chaosFS.SetMode(ChaosModeActive)

	f, err := chaosFS.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 100)
	_, err = f.Read(buf)

	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("Read err should be *os.PathError, got %T", err)
	}
}

func TestChaosFile_InterceptsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shadow.md")

	chaosFS := NewChaos(NewReal(), 12345, ChaosConfig{WriteFailRate: 1.0})
	chaosFS.SetMode(ChaosModeActive)

	f, err := chaosFS.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	_, err = f.Write([]byte("hello"))

	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("Write err should be *os.PathError, got %T", err)
	}
}

func TestChaosFile_PassesThroughFd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shadow.md")

	realFS := NewReal()
	chaosFS := NewChaos(realFS, 12345, ChaosConfig{})

	realF, err := realFS.OpenFile(filepath.Join(dir, "other.md"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	realFd := realF.Fd()
	realF.Close()

	chaosF, err := chaosFS.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	chaosFd := chaosF.Fd()
	chaosF.Close()

	if realFd == 0 {
		t.Fatalf("realFd=%d, want non-zero", realFd)
	}
	if chaosFd == 0 {
		t.Fatalf("chaosFd=%d, want non-zero", chaosFd)
	}
}

func TestChaosFile_PassesThroughSeek(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shadow.md")

	realFS := NewReal()
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("setup WriteFile: %v", err)
	}

	chaosFS := NewChaos(realFS, 12345, ChaosConfig{})
	chaosFS.SetMode(ChaosModeActive)

	f, err := chaosFS.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	pos, err := f.Seek(6, io.SeekStart)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != 6 {
		t.Fatalf("Seek pos=%d, want=6", pos)
	}

	buf := make([]byte, 5)
	n, _ := f.Read(buf)
	if string(buf[:n]) != "world" {
		t.Fatalf("Read after Seek=%q, want=%q", buf[:n], "world")
	}
}

func TestChaos_PartialReadReturnsSubset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shadow.md")

	content := []byte("hello world this is a shadow file")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("setup WriteFile: %v", err)
	}

	chaosFS := NewChaos(NewReal(), 12345, ChaosConfig{PartialReadRate: 1.0})
	chaosFS.SetMode(ChaosModeActive)

	f, err := chaosFS.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	buf := make([]byte, len(content))
	n, err := f.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if !bytes.HasPrefix(content, buf[:n]) {
		t.Fatalf("partial read should be a prefix\noriginal: %q\ngot: %q", content, buf[:n])
	}
	if n >= len(content) {
		t.Fatalf("n=%d, want less than %d", n, len(content))
	}
}

func TestChaos_PartialWriteLeavesPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shadow.md")

	content := []byte("hello world this is a shadow file")

	chaosFS := NewChaos(NewReal(), 12345, ChaosConfig{PartialWriteRate: 1.0, ShortWriteRate: 1.0})
	chaosFS.SetMode(ChaosModeActive)

	f, err := chaosFS.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	n, err := f.Write(content)
	if err == nil {
		t.Fatal("Write: want error on partial write, got nil")
	}
	if n >= len(content) {
		t.Fatalf("n=%d, want less than %d", n, len(content))
	}
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("err=%v, want io.ErrShortWrite", err)
	}
}

func TestChaos_MkdirAll_InjectsFault(t *testing.T) {
	dir := t.TempDir()

	chaosFS := NewChaos(NewReal(), 12345, ChaosConfig{MkdirAllFailRate: 1.0})
	chaosFS.SetMode(ChaosModeActive)

	err := chaosFS.MkdirAll(filepath.Join(dir, "sessions"), 0o755)
	if !IsChaosErr(err) {
		t.Fatalf("MkdirAll err=%v, want IsChaosErr", err)
	}
}
