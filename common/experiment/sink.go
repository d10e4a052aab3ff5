package experiment

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	SinkMemory = "memory"
	SinkLocal  = "local"
	SinkRedis  = "redis"
	SinkS3     = "s3"
)

// Sink stores experiment documents. Put creates or overwrites the document stored under key.
type Sink interface {
	Put(ctx context.Context, key Key, doc []byte) error
	Close() error
}

// SinkOptions selects and configures the audit sink.
type SinkOptions struct {
	SinkKind      string `name:"audit-sink" json:"audit_sink" yaml:"audit_sink" description:"Where experiment records are written: memory, local, redis, or s3."`
	SinkDirectory string `name:"audit-dir" json:"audit_dir" yaml:"audit_dir" description:"Directory of the local audit sink."`
	RedisAddress  string `name:"redis-address" json:"redis_address" yaml:"redis_address" description:"Address of the Redis audit sink."`
	RedisPassword string `name:"redis-password" json:"redis_password" yaml:"redis_password" description:"Password of the Redis audit sink."`
	RedisDatabase int    `name:"redis-database" json:"redis_database" yaml:"redis_database" description:"Database number of the Redis audit sink."`
	S3Bucket      string `name:"s3-bucket" json:"s3_bucket" yaml:"s3_bucket" description:"Bucket of the S3 audit sink."`
}

// NewSink creates the sink described by opts and connects it.
func NewSink(ctx context.Context, opts *SinkOptions) (Sink, error) {
	switch strings.ToLower(opts.SinkKind) {
	case "", SinkMemory:
		return NewMemorySink(), nil
	case SinkLocal:
		return NewLocalSink(opts.SinkDirectory)
	case SinkRedis:
		sink := NewRedisSink(opts.RedisAddress, opts.RedisPassword, opts.RedisDatabase)
		return sink, sink.Connect(ctx)
	case SinkS3:
		sink := NewS3Sink(opts.S3Bucket)
		return sink, sink.Connect(ctx)
	default:
		return nil, fmt.Errorf("unknown audit sink \"%s\"", opts.SinkKind)
	}
}

type baseSink struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger
}

func newBaseSink() *baseSink {
	logger, err := zap.NewDevelopment()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "[ERROR] Failed to create Zap Development logger because: %v\n", err)
		logger = zap.NewNop()
	}

	return &baseSink{
		logger:        logger,
		sugaredLogger: logger.Sugar(),
	}
}

// MemorySink keeps every write in memory. It is used when no external sink is configured.
type MemorySink struct {
	mu     sync.Mutex
	docs   map[Key][]byte
	writes map[Key]int
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		docs:   make(map[Key][]byte),
		writes: make(map[Key]int),
	}
}

func (s *MemorySink) Put(_ context.Context, key Key, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[key] = append([]byte(nil), doc...)
	s.writes[key] += 1
	return nil
}

// Get decodes the latest document stored under key.
func (s *MemorySink) Get(key Key) (Record, bool) {
	s.mu.Lock()
	doc, ok := s.docs[key]
	s.mu.Unlock()

	if !ok {
		return Record{}, false
	}

	var record Record
	if err := json.Unmarshal(doc, &record); err != nil {
		return Record{}, false
	}
	return record, true
}

// Writes returns how many times the document under key has been written.
func (s *MemorySink) Writes(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[key]
}

func (s *MemorySink) Close() error {
	return nil
}
