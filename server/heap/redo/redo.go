// Package redo 重做日志管理
// 日志记录为整页镜像（full page image），页面修改在镜像落盘之后才算提交
package redo

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xheap-surgery/logger"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/disk"
	"github.com/zhukovaskychina/xheap-surgery/server/heap/page"
	"github.com/zhukovaskychina/xheap-surgery/util"
)

// Record 一条重做日志：某个表某个fork某一页的完整镜像
type Record struct {
	LSN    uint64
	RelID  uint32
	Fork   disk.ForkNumber
	PageNo uint32
	// Image 解压后的页面镜像
	Image page.Page
}

// 缓冲区中的待写条目，payload已压缩
type pendingEntry struct {
	lsn     uint64
	relID   uint32
	fork    disk.ForkNumber
	pageNo  uint32
	payload []byte
}

// Manager 重做日志管理器
type Manager struct {
	mu            sync.Mutex
	logFile       *os.File
	nextLSN       uint64
	flushedLSN    uint64
	logBuffer     []pendingEntry
	logBufferSize int
	flushInterval time.Duration
	stopChan      chan struct{}
}

// NewManager 创建重做日志管理器并启动后台刷新协程
func NewManager(logDir string, bufferSize int) (*Manager, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create redo dir %s", logDir)
	}
	logFile, err := os.OpenFile(
		filepath.Join(logDir, "redo.log"),
		os.O_CREATE|os.O_RDWR|os.O_APPEND,
		0644,
	)
	if err != nil {
		return nil, errors.Wrap(err, "open redo.log")
	}

	m := &Manager{
		logFile:       logFile,
		nextLSN:       1,
		logBuffer:     make([]pendingEntry, 0, bufferSize),
		logBufferSize: bufferSize,
		flushInterval: 1 * time.Second,
		stopChan:      make(chan struct{}),
	}
	go m.backgroundFlush()
	return m, nil
}

// AppendPageImage 追加一条整页镜像日志，返回分配的LSN
// 镜像在这里压缩并拷贝，调用方之后可以继续改动页面
func (m *Manager) AppendPageImage(relID uint32, fork disk.ForkNumber, pageNo uint32, img page.Page) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lsn := m.nextLSN
	m.nextLSN++

	m.logBuffer = append(m.logBuffer, pendingEntry{
		lsn:     lsn,
		relID:   relID,
		fork:    fork,
		pageNo:  pageNo,
		payload: snappy.Encode(nil, img),
	})

	if len(m.logBuffer) >= m.logBufferSize {
		if err := m.flushBuffer(); err != nil {
			return 0, err
		}
	}
	return lsn, nil
}

// Flush 将不小于untilLSN的日志刷到磁盘
func (m *Manager) Flush(untilLSN uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if untilLSN <= m.flushedLSN {
		return nil
	}
	return m.flushBuffer()
}

// flushBuffer 序列化缓冲区并fsync，调用方需持有m.mu
func (m *Manager) flushBuffer() error {
	if len(m.logBuffer) == 0 {
		return nil
	}

	for _, entry := range m.logBuffer {
		if err := binary.Write(m.logFile, binary.BigEndian, entry.lsn); err != nil {
			return errors.Wrap(err, "write redo lsn")
		}
		if err := binary.Write(m.logFile, binary.BigEndian, entry.relID); err != nil {
			return errors.Wrap(err, "write redo relID")
		}
		if err := binary.Write(m.logFile, binary.BigEndian, int8(entry.fork)); err != nil {
			return errors.Wrap(err, "write redo fork")
		}
		if err := binary.Write(m.logFile, binary.BigEndian, entry.pageNo); err != nil {
			return errors.Wrap(err, "write redo pageNo")
		}
		if err := binary.Write(m.logFile, binary.BigEndian, uint32(len(entry.payload))); err != nil {
			return errors.Wrap(err, "write redo payload length")
		}
		if _, err := m.logFile.Write(entry.payload); err != nil {
			return errors.Wrap(err, "write redo payload")
		}
		if err := binary.Write(m.logFile, binary.BigEndian, util.HashCode(entry.payload)); err != nil {
			return errors.Wrap(err, "write redo checksum")
		}
		m.flushedLSN = entry.lsn
	}
	m.logBuffer = m.logBuffer[:0]

	return errors.Wrap(m.logFile.Sync(), "sync redo.log")
}

// backgroundFlush 后台定期刷新
func (m *Manager) backgroundFlush() {
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			if err := m.flushBuffer(); err != nil {
				logger.Errorf("background redo flush failed: %v", err)
			}
			m.mu.Unlock()
		case <-m.stopChan:
			return
		}
	}
}

// Replay 从头顺序回放日志，对每条记录调用apply
// 尾部的不完整记录视为崩溃时的残留，回放后从文件中截掉，
// 否则后续追加的记录会落在残留字节之后，永远无法被再次回放
func (m *Manager) Replay(apply func(*Record) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.flushBuffer(); err != nil {
		return err
	}
	if _, err := m.logFile.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek redo.log")
	}

	// validEnd 最后一条完整记录的结束偏移
	validEnd := int64(0)
	maxLSN := m.flushedLSN
	for {
		var (
			lsn        uint64
			relID      uint32
			fork       int8
			pageNo     uint32
			payloadLen uint32
		)
		if err := binary.Read(m.logFile, binary.BigEndian, &lsn); err != nil {
			break
		}
		if err := binary.Read(m.logFile, binary.BigEndian, &relID); err != nil {
			break
		}
		if err := binary.Read(m.logFile, binary.BigEndian, &fork); err != nil {
			break
		}
		if err := binary.Read(m.logFile, binary.BigEndian, &pageNo); err != nil {
			break
		}
		if err := binary.Read(m.logFile, binary.BigEndian, &payloadLen); err != nil {
			break
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(m.logFile, payload); err != nil {
			break
		}
		var checksum uint64
		if err := binary.Read(m.logFile, binary.BigEndian, &checksum); err != nil {
			break
		}
		if checksum != util.HashCode(payload) {
			break
		}

		img, err := snappy.Decode(nil, payload)
		if err != nil {
			break
		}
		if len(img) != page.Size {
			break
		}

		rec := &Record{
			LSN:    lsn,
			RelID:  relID,
			Fork:   disk.ForkNumber(fork),
			PageNo: pageNo,
			Image:  page.Page(img),
		}
		if err := apply(rec); err != nil {
			return err
		}
		if lsn > maxLSN {
			maxLSN = lsn
		}
		end, err := m.logFile.Seek(0, io.SeekCurrent)
		if err != nil {
			return errors.Wrap(err, "tell redo.log")
		}
		validEnd = end
	}

	m.flushedLSN = maxLSN
	if m.nextLSN <= maxLSN {
		m.nextLSN = maxLSN + 1
	}

	// 截掉残留字节再回到文件末尾继续追加
	stat, err := m.logFile.Stat()
	if err != nil {
		return errors.Wrap(err, "stat redo.log")
	}
	if validEnd < stat.Size() {
		if err := m.logFile.Truncate(validEnd); err != nil {
			return errors.Wrap(err, "truncate redo.log torn tail")
		}
	}
	if _, err := m.logFile.Seek(0, io.SeekEnd); err != nil {
		return errors.Wrap(err, "seek redo.log end")
	}
	return nil
}

// FlushedLSN 返回已落盘的最大LSN
func (m *Manager) FlushedLSN() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushedLSN
}

// Close 停止后台刷新并关闭日志文件
func (m *Manager) Close() error {
	close(m.stopChan)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.flushBuffer(); err != nil {
		return err
	}
	return errors.Wrap(m.logFile.Close(), "close redo.log")
}
