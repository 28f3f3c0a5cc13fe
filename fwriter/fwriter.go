package fwriter

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sink 流式输出文件. 数据先写入同目录的临时文件,
// Finish(nil)时落盘并原子替换目标文件, 否则丢弃临时文件, 目标文件保持不变.
type Sink struct {
	mu       sync.Mutex
	flock    *FLock
	file     *os.File
	fn       string
	tmp      string
	written  int64
	finished bool
}

// Create 锁定fn并返回写入fn的Sink.
func Create(fn string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(fn), 0750); err != nil {
		return nil, err
	}

	flock := NewFLock(fn)
	if err := flock.Acquire(); err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", fn, err)
	}

	tmp := fmt.Sprintf("%s.tmp%v", fn, time.Now().UnixNano())
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		flock.Release() // nolint
		return nil, err
	}

	return &Sink{
		flock: flock,
		file:  file,
		fn:    fn,
		tmp:   tmp,
	}, nil
}

// Write 追加数据块.
func (s *Sink) Write(chunk []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return 0, os.ErrClosed
	}
	n, err := s.file.Write(chunk)
	s.written += int64(n)
	return n, err
}

// Written 返回已写入的字节数.
func (s *Sink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.written
}

// Finish 结束写入. cause为nil时提交数据, 否则放弃; 重复调用无效.
func (s *Sink) Finish(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return nil
	}
	s.finished = true
	defer s.flock.Release() // nolint

	if cause != nil {
		s.abort()
		log.Warn().Err(cause).Msgf("discard output %s after %d bytes", s.fn, s.written)
		return nil
	}

	if err := s.file.Sync(); err != nil {
		s.abort()
		return err
	}
	if err := s.file.Close(); err != nil {
		os.Remove(s.tmp) // nolint
		return err
	}
	if err := os.Rename(s.tmp, s.fn); err != nil {
		os.Remove(s.tmp) // nolint
		return err
	}
	return nil
}

func (s *Sink) abort() {
	s.file.Close()   // nolint
	os.Remove(s.tmp) // nolint
}
