package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

const logFileName = "events.jsonl"

// LogSink appends every published event to a JSONL file, one event per
// line, so a session can be replayed or grepped after the fact.
type LogSink struct {
	mu   sync.Mutex
	file *os.File
	log  zerolog.Logger
}

// NewLogSink opens (or creates) <dir>/events.jsonl for appending.
func NewLogSink(dir string, logger zerolog.Logger) (*LogSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("events: creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, logFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("events: opening %s: %w", path, err)
	}
	return &LogSink{
		file: file,
		log:  logger.With().Str("component", "event-log").Logger(),
	}, nil
}

// Handle is the bus subscriber. Publish fans events out on fresh
// goroutines, so writes are serialized here.
func (s *LogSink) Handle(event Event) {
	line, err := json.Marshal(event)
	if err != nil {
		s.log.Error().Err(err).Str("type", string(event.Type)).Msg("event not serializable")
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	if _, err := s.file.Write(line); err != nil {
		s.log.Error().Err(err).Msg("event log write failed")
	}
}

// Close stops accepting events and closes the file. Events arriving
// after Close are dropped silently.
func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
