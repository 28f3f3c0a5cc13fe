package fwriter

import (
	"errors"
	"os"
	"syscall"
)

// ErrLocked 输出文件正被另一个写入方持有.
var ErrLocked = errors.New("output file is locked by another writer")

// FLock 输出文件旁的独占锁文件.
type FLock struct {
	fn string
	fd int
}

// NewFLock 返回fn对应的锁.
func NewFLock(fn string) *FLock {
	return &FLock{
		fn: fn + ".lock",
	}
}

// File 返回锁文件路径.
func (l *FLock) File() string {
	return l.fn
}

// Acquire 非阻塞地获取锁.
func (l *FLock) Acquire() error {
	fd, err := syscall.Open(l.fn, syscall.O_CREAT|syscall.O_RDONLY, 0600)
	if err != nil {
		return err
	}
	if err := syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		syscall.Close(fd) // nolint
		if err == syscall.EWOULDBLOCK {
			return ErrLocked
		}
		return err
	}
	l.fd = fd
	return nil
}

// Release 释放锁并删除锁文件.
func (l *FLock) Release() error {
	if err := os.Remove(l.fn); err != nil && !os.IsNotExist(err) {
		syscall.Close(l.fd) // nolint
		return err
	}
	return syscall.Close(l.fd)
}
