// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"aiops-engine/logger"
)

// AuditEntry is one append-only record of an incident-lifecycle or manual
// control-plane action.
type AuditEntry struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Action     string                 `json:"action"`
	Actor      string                 `json:"actor"`
	IncidentID string                 `json:"incident_id,omitempty"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
}

// Config holds audit logger configuration.
type Config struct {
	LogPath       string
	MaxFileSize   int64
	MaxFiles      int
	BufferSize    int
	FlushInterval time.Duration
	EnableFileLog bool
	RetentionDays int
}

// DefaultConfig returns default audit configuration.
func DefaultConfig() Config {
	return Config{
		LogPath:       "/var/log/aiops-engine/audit.log",
		MaxFileSize:   100 * 1024 * 1024,
		MaxFiles:      10,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		EnableFileLog: true,
		RetentionDays: 30,
	}
}

// Logger is a buffered, asynchronous append-only audit trail. Writes queue
// onto logChannel and are flushed by a background goroutine so the HTTP
// handler that triggered the action returns before the write is durable.
type Logger struct {
	cfg            Config
	logFile        *os.File
	logChannel     chan AuditEntry
	stopChannel    chan struct{}
	wg             sync.WaitGroup
	mutex          sync.Mutex
	eventIDCounter uint64
}

// New creates an audit Logger and starts its background flusher.
func New(cfg Config) (*Logger, error) {
	al := &Logger{
		cfg:         cfg,
		logChannel:  make(chan AuditEntry, cfg.BufferSize),
		stopChannel: make(chan struct{}),
	}

	if cfg.EnableFileLog {
		logDir := filepath.Dir(cfg.LogPath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %v", err)
		}

		logFile, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %v", err)
		}
		al.logFile = logFile
	}

	al.wg.Add(1)
	go al.processEntries()

	logger.Info("audit logger initialized, file logging: %v", cfg.EnableFileLog)

	return al, nil
}

// Close flushes remaining entries and closes the log file.
func (al *Logger) Close() error {
	close(al.stopChannel)
	al.wg.Wait()

	if al.logFile != nil {
		return al.logFile.Close()
	}
	return nil
}

// LogAnalyzeTriggered records a manual /aiops/analyze invocation.
func (al *Logger) LogAnalyzeTriggered(actor string, anomalyCount, incidentCount int) {
	al.log(AuditEntry{
		Action: "analyze_triggered",
		Actor:  actor,
		Detail: map[string]interface{}{
			"anomalies_detected": anomalyCount,
			"incidents_created":  incidentCount,
		},
	})
}

// LogIncidentResolved records a manual incident resolution.
func (al *Logger) LogIncidentResolved(actor, incidentID string) {
	al.log(AuditEntry{
		Action:     "incident_resolved",
		Actor:      actor,
		IncidentID: incidentID,
	})
}

// LogIncidentCreated records an incident produced by the RCA engine.
func (al *Logger) LogIncidentCreated(incidentID, rootEndpoint string, severity string) {
	al.log(AuditEntry{
		Action:     "incident_created",
		Actor:      "rca-engine",
		IncidentID: incidentID,
		Detail: map[string]interface{}{
			"root_endpoint": rootEndpoint,
			"severity":      severity,
		},
	})
}

func (al *Logger) log(entry AuditEntry) {
	entry.Timestamp = time.Now().UTC()
	entry.ID = al.nextID()

	select {
	case al.logChannel <- entry:
	default:
		logger.Warn("audit log channel full, dropping entry %s", entry.ID)
	}
}

func (al *Logger) processEntries() {
	defer al.wg.Done()

	ticker := time.NewTicker(al.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-al.logChannel:
			al.writeToFile(entry)

		case <-ticker.C:
			if al.logFile != nil {
				al.logFile.Sync()
				al.checkLogRotation()
			}

		case <-al.stopChannel:
			for {
				select {
				case entry := <-al.logChannel:
					al.writeToFile(entry)
				default:
					return
				}
			}
		}
	}
}

func (al *Logger) writeToFile(entry AuditEntry) {
	if !al.cfg.EnableFileLog || al.logFile == nil {
		return
	}

	al.mutex.Lock()
	defer al.mutex.Unlock()

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		logger.Error("failed to marshal audit entry: %v", err)
		return
	}

	if _, err := al.logFile.WriteString(string(entryJSON) + "\n"); err != nil {
		logger.Error("failed to write audit entry to file: %v", err)
	}
}

func (al *Logger) checkLogRotation() {
	stat, err := al.logFile.Stat()
	if err != nil {
		return
	}

	if stat.Size() >= al.cfg.MaxFileSize {
		al.rotateLogFile()
	}
}

func (al *Logger) rotateLogFile() {
	al.mutex.Lock()
	defer al.mutex.Unlock()

	if al.logFile != nil {
		al.logFile.Close()
	}

	timestamp := time.Now().Format("20060102-150405")
	oldPath := al.cfg.LogPath
	newPath := fmt.Sprintf("%s.%s", oldPath, timestamp)

	if err := os.Rename(oldPath, newPath); err != nil {
		logger.Warn("failed to rotate audit log: %v", err)
	}

	logFile, err := os.OpenFile(oldPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger.Error("failed to create new audit log file: %v", err)
		return
	}

	al.logFile = logFile
	logger.Info("rotated audit log file to %s", newPath)

	al.cleanupOldLogs()
}

func (al *Logger) cleanupOldLogs() {
	logDir := filepath.Dir(al.cfg.LogPath)
	logBase := filepath.Base(al.cfg.LogPath)

	files, err := filepath.Glob(filepath.Join(logDir, logBase+".*"))
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -al.cfg.RetentionDays)

	for _, file := range files {
		stat, err := os.Stat(file)
		if err != nil {
			continue
		}

		if stat.ModTime().Before(cutoff) {
			if err := os.Remove(file); err != nil {
				logger.Warn("failed to remove old audit log %s: %v", file, err)
			} else {
				logger.Info("removed old audit log %s", file)
			}
		}
	}
}

func (al *Logger) nextID() string {
	al.mutex.Lock()
	defer al.mutex.Unlock()

	al.eventIDCounter++
	return fmt.Sprintf("audit-%d-%d", time.Now().Unix(), al.eventIDCounter)
}
