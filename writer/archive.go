package writer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "whalewatch/config"
	"whalewatch/logger"
	"whalewatch/models"
)

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, io.EOF }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// archiveRecord is the parquet schema of archived lifecycle events.
type archiveRecord struct {
	EventID         string  `parquet:"name=event_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type            string  `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol          string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	WhaleID         string  `parquet:"name=whale_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side            string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price           float64 `parquet:"name=price, type=DOUBLE"`
	Size            float64 `parquet:"name=size, type=DOUBLE"`
	Value           float64 `parquet:"name=value, type=DOUBLE"`
	InitialValue    float64 `parquet:"name=initial_value, type=DOUBLE"`
	Mega            bool    `parquet:"name=mega, type=BOOLEAN"`
	DurationSeconds float64 `parquet:"name=duration_seconds, type=DOUBLE"`
	Disappearances  int32   `parquet:"name=disappearances, type=INT32"`
	SizeVariancePct float64 `parquet:"name=size_variance_pct, type=DOUBLE"`
	MidPrice        float64 `parquet:"name=mid_price, type=DOUBLE"`
	Score           float64 `parquet:"name=score, type=DOUBLE"`
	Confidence      string  `parquet:"name=confidence, type=BYTE_ARRAY, convertedtype=UTF8"`
	Pattern         string  `parquet:"name=pattern, type=BYTE_ARRAY, convertedtype=UTF8"`
	Profile         string  `parquet:"name=profile, type=BYTE_ARRAY, convertedtype=UTF8"`
	Reasons         string  `parquet:"name=reasons, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp       int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveSink buffers disappearance and spoof events per symbol and uploads
// them to S3 as snappy compressed parquet, flushing by size or age.
type ArchiveSink struct {
	client        objectPutter
	bucket        string
	prefix        string
	flushInterval time.Duration
	maxBuffer     int
	log           *logger.Log

	mu        sync.Mutex
	buffer    map[string][]models.DetectionEvent
	firstSeen map[string]time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewArchiveSink(ctx context.Context, cfg appconfig.S3Config) (*ArchiveSink, error) {
	bucket, err := normalizeBucketName(cfg.Bucket)
	if err != nil {
		return nil, err
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	s := newArchiveSink(client, bucket, cfg)
	s.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"bucket":         bucket,
		"region":         cfg.Region,
		"endpoint":       cfg.Endpoint,
		"flush_interval": s.flushInterval.String(),
		"max_buffer":     s.maxBuffer,
	}).Info("archive sink initialized")
	s.start()
	return s, nil
}

func newArchiveSink(client objectPutter, bucket string, cfg appconfig.S3Config) *ArchiveSink {
	s := &ArchiveSink{
		client:        client,
		bucket:        bucket,
		prefix:        strings.Trim(cfg.Prefix, "/"),
		flushInterval: cfg.FlushInterval,
		maxBuffer:     cfg.MaxBuffer,
		log:           logger.GetLogger(),
		buffer:        make(map[string][]models.DetectionEvent),
		firstSeen:     make(map[string]time.Time),
		stop:          make(chan struct{}),
		now:           time.Now,
	}
	if s.flushInterval <= 0 {
		s.flushInterval = time.Minute
	}
	if s.maxBuffer <= 0 {
		s.maxBuffer = 500
	}
	return s
}

func normalizeBucketName(raw string) (string, error) {
	bucket := strings.TrimSpace(raw)
	if bucket == "" {
		return "", fmt.Errorf("s3 bucket not configured")
	}
	return bucket, nil
}

func (s *ArchiveSink) start() {
	tick := s.flushInterval / 4
	if tick < time.Second {
		tick = time.Second
	}
	s.ticker = time.NewTicker(tick)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stop:
				return
			case <-s.ticker.C:
				s.flushTimedOut(context.Background())
			}
		}
	}()
}

func (s *ArchiveSink) Name() string { return "s3_archive" }

// Write buffers lifecycle ending events; other event types are ignored.
func (s *ArchiveSink) Write(ctx context.Context, e models.DetectionEvent) error {
	if e.Type != models.EventWhaleDisappeared && e.Type != models.EventSpoofScored {
		return nil
	}
	s.mu.Lock()
	s.buffer[e.Symbol] = append(s.buffer[e.Symbol], e)
	if _, ok := s.firstSeen[e.Symbol]; !ok {
		s.firstSeen[e.Symbol] = s.now()
	}
	full := len(s.buffer[e.Symbol]) >= s.maxBuffer
	s.mu.Unlock()

	if full {
		return s.flushKey(ctx, e.Symbol)
	}
	return nil
}

func (s *ArchiveSink) flushTimedOut(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due []string
	for symbol, since := range s.firstSeen {
		if now.Sub(since) >= s.flushInterval {
			due = append(due, symbol)
		}
	}
	s.mu.Unlock()

	for _, symbol := range due {
		if err := s.flushKey(ctx, symbol); err != nil {
			s.log.WithComponent("archive_writer").WithError(err).WithField("symbol", symbol).Error("failed to flush archive buffer")
		}
	}
}

func (s *ArchiveSink) flushKey(ctx context.Context, symbol string) error {
	s.mu.Lock()
	events := s.buffer[symbol]
	delete(s.buffer, symbol)
	delete(s.firstSeen, symbol)
	s.mu.Unlock()
	if len(events) == 0 {
		return nil
	}

	start := time.Now()
	data, err := createParquet(events)
	if err != nil {
		return fmt.Errorf("create parquet: %w", err)
	}
	key := s.generateS3Key(symbol, events[len(events)-1].Timestamp)
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}

	entry := s.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"s3_key":  key,
		"records": len(events),
		"bytes":   len(data),
	})
	entry.Info("archive batch uploaded")
	logger.LogPerformanceEntry(entry, "archive_writer", "flush", time.Since(start), logger.Fields{"symbol": symbol})
	logger.LogDataFlowEntry(entry, "event_buffer", "s3", len(events), "detection_event")
	return nil
}

func createParquet(events []models.DetectionEvent) ([]byte, error) {
	mf := newMemFile()
	pw, err := pqwriter.NewParquetWriter(mf, new(archiveRecord), 1)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, e := range events {
		rec := archiveRecord{
			EventID:         e.EventID,
			Type:            string(e.Type),
			Symbol:          e.Symbol,
			WhaleID:         e.WhaleID,
			Side:            string(e.Side),
			Price:           e.Price,
			Size:            e.Size,
			Value:           e.Value,
			InitialValue:    e.InitialValue,
			Mega:            e.Mega,
			DurationSeconds: e.DurationSeconds,
			Disappearances:  int32(e.Disappearances),
			SizeVariancePct: e.SizeVariancePct,
			MidPrice:        e.MidPrice,
			Timestamp:       e.Timestamp.UnixMilli(),
		}
		if e.Score != nil {
			rec.Score = e.Score.Total
			rec.Confidence = e.Score.Confidence
			rec.Pattern = e.Score.Pattern
			rec.Profile = e.Score.Profile
			rec.Reasons = strings.Join(e.Score.Reasons, "; ")
		}
		if err := pw.Write(rec); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mf.Bytes(), nil
}

// generateS3Key builds {prefix}/symbol=X/date=YYYY-MM-DD/whalewatch_X_ts.parquet.
func (s *ArchiveSink) generateS3Key(symbol string, ts time.Time) string {
	ts = ts.UTC()
	if ts.IsZero() || ts.Unix() <= 0 {
		ts = s.now().UTC()
	}
	symbol = strings.ToUpper(symbol)
	filename := fmt.Sprintf("whalewatch_%s_%s.parquet", symbol, ts.Format("20060102150405.000"))
	parts := []string{
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		filename,
	}
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return path.Join(parts...)
}

// Close stops the flush ticker and uploads whatever is buffered.
func (s *ArchiveSink) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
	}
	s.mu.Lock()
	symbols := make([]string, 0, len(s.buffer))
	for symbol := range s.buffer {
		symbols = append(symbols, symbol)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var firstErr error
	for _, symbol := range symbols {
		if err := s.flushKey(ctx, symbol); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.log.WithComponent("archive_writer").Info("archive sink closed")
	return firstErr
}
